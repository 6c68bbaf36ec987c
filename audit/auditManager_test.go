package audit

import (
	"reflect"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"

	hd "github.com/magmasystems/ResourceDisposalKit/handles"
)

func Test_parseCommandParams(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want *commandParams
	}{
		{
			name: "no args lists the watches",
			args: []string{""},
			want: nil,
		},
		{
			name: "watch a handle by name with a ttl",
			args: []string{"mylock", "30"},
			want: &commandParams{channel: "", target: "mylock", ttlMinutes: 30, matchOn: "NAME"},
		},
		{
			name: "watch a whole handle kind",
			args: []string{"tempfile", "15", "kind"},
			want: &commandParams{channel: "", target: "tempfile", ttlMinutes: 15, matchOn: "KIND"},
		},
		{
			name: "a target with digits is still a target",
			args: []string{"lock1", "10"},
			want: &commandParams{channel: "", target: "lock1", ttlMinutes: 10, matchOn: "NAME"},
		},
		{
			name: "purge one watch",
			args: []string{"mylock", "purge"},
			want: &commandParams{channel: "", target: "mylock", matchOn: "NAME", purge: true},
		},
		{
			name: "purge everything",
			args: []string{"purgeall"},
			want: &commandParams{channel: "", matchOn: "NAME", purgeAll: true},
		},
		{
			name: "send the notification to a channel",
			args: []string{"#leaks", "mylock", "20"},
			want: &commandParams{channel: "#leaks", target: "mylock", ttlMinutes: 20, matchOn: "NAME"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseCommandParams(tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCommandParams() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func Test_isKnownKind(t *testing.T) {
	tests := []struct {
		name string
		kind string
		want bool
	}{
		{"filelock is known", "filelock", true},
		{"tempfile is known", "tempfile", true},
		{"scratchdir is known", "scratchdir", true},
		{"case does not matter", "FileLock", true},
		{"anything else is not", "etcd", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isKnownKind(tt.kind); got != tt.want {
				t.Errorf("isKnownKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_isWatchedTarget(t *testing.T) {
	info := hd.HandleInfo{Name: "tempfile:/tmp/rdk-1.tmp", Kind: "tempfile", Valid: true}

	tests := []struct {
		name    string
		targets []string
		want    bool
	}{
		{"matched by exact name", []string{"tempfile:/tmp/rdk-1.tmp"}, true},
		{"matched by kind", []string{"tempfile"}, true},
		{"case does not matter", []string{"TempFile"}, true},
		{"no targets, no match", nil, false},
		{"different target, no match", []string{"filelock"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isWatchedTarget(info, tt.targets); got != tt.want {
				t.Errorf("isWatchedTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_buildSnapshotInsert(t *testing.T) {
	now := time.Now()
	infos := []hd.HandleInfo{
		{Name: "tempfile:/tmp/it's.tmp", Kind: "tempfile", Valid: true, AcquiredAt: now.Add(-10 * time.Minute)},
		{Name: "filelock:/tmp/closed.lock", Kind: "filelock", Valid: false, AcquiredAt: now},
		{Name: "scratchdir:/tmp/rdk-2", Kind: "scratchdir", Valid: true, AcquiredAt: now.Add(-5 * time.Minute)},
	}

	sqlStatement, values := buildSnapshotInsert(infos, now)

	// Only the valid handles become rows, with three parameters each
	if len(values) != 6 {
		t.Errorf("buildSnapshotInsert() returned %d values, want 6", len(values))
	}
	if !strings.Contains(sqlStatement, "($1, $2, $3, current_timestamp)") ||
		!strings.Contains(sqlStatement, "($4, $5, $6, current_timestamp)") {
		t.Errorf("buildSnapshotInsert() statement is missing the placeholders: %s", sqlStatement)
	}

	// The names must never be interpolated into the statement, quotes and all
	if strings.Contains(sqlStatement, "it's") {
		t.Errorf("buildSnapshotInsert() interpolated a handle name: %s", sqlStatement)
	}
	if values[0] != "tempfile:/tmp/it's.tmp" {
		t.Errorf("buildSnapshotInsert() values[0] = %v", values[0])
	}
}

func Test_buildSnapshotInsert_NothingValid(t *testing.T) {
	infos := []hd.HandleInfo{
		{Name: "filelock:/tmp/closed.lock", Kind: "filelock", Valid: false},
	}

	_, values := buildSnapshotInsert(infos, time.Now())
	if len(values) != 0 {
		t.Errorf("buildSnapshotInsert() returned %d values, want 0", len(values))
	}
}

func TestAuditManager_Dispose(t *testing.T) {
	tests := []struct {
		name         string
		auditManager *AuditManager
	}{
		// TODO: Add test cases that run against a local postgres instance.
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.auditManager.Dispose()
		})
	}
}

func Test_getDbConnectionInfo(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		// TODO: Add test cases.
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getDbConnectionInfo(); got != tt.want {
				t.Errorf("getDbConnectionInfo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuditManager_GetLeaks(t *testing.T) {
	tests := []struct {
		name         string
		auditManager *AuditManager
		want         []LeakNotification
	}{
		// TODO: Add test cases that run against a local postgres instance.
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.auditManager.GetLeaks(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AuditManager.GetLeaks() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuditManager_GetWatchedTargets(t *testing.T) {
	tests := []struct {
		name         string
		auditManager *AuditManager
		want         []string
	}{
		// TODO: Add test cases that run against a local postgres instance.
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.auditManager.GetWatchedTargets(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AuditManager.GetWatchedTargets() = %v, want %v", got, tt.want)
			}
		})
	}
}

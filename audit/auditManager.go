package audit

import (
	sql "database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	config "github.com/magmasystems/ResourceDisposalKit/configuration"
	fr "github.com/magmasystems/ResourceDisposalKit/framework"
	logging "github.com/magmasystems/ResourceDisposalKit/framework/logging"
	hd "github.com/magmasystems/ResourceDisposalKit/handles"
	janitor "github.com/magmasystems/ResourceDisposalKit/janitor"
	slackmessaging "github.com/magmasystems/ResourceDisposalKit/slackmessaging"

	// Need this for postgres
	_ "github.com/lib/pq"
	"github.com/nlopes/slack"
)

// AuditManager - handles all leak watching and reporting
type AuditManager struct {
	fr.Disposable
	AuditManagerOps
	db      *sql.DB
	config  *config.AppSettings
	janitor *janitor.Janitor
}

type leakWatch struct {
	id            int
	slackUserName string
	channel       string
	target        string
	ttlMinutes    int
	matchOn       string
	wasNotified   bool
}

type commandParams struct {
	channel    string
	target     string
	ttlMinutes int
	matchOn    string
	purge      bool
	purgeAll   bool
}

// LeakNotification - a notification that a watched handle has stayed open past its TTL
type LeakNotification struct {
	WatchID       int
	SlackUserName string
	Channel       string
	Target        string
	MatchOn       string
	TTLMinutes    int
	OpenMinutes   float64
}

// AuditManagerOps - defines all operations that the AuditManager can do
type AuditManagerOps interface {
	CheckForLeaks(janitor *janitor.Janitor, callback func(LeakNotification))
	HandleLeakWatchCommand(slashCommand slack.SlashCommand, w http.ResponseWriter)
	GetWatchedTargets() []string
	GetLeaks() []LeakNotification
	GetOutstandingHandles(janitor *janitor.Janitor) []hd.HandleInfo
	SaveSnapshot(infos []hd.HandleInfo) error
}

// CreateAuditManager - creates and initializes a new AuditManager
func CreateAuditManager(jan *janitor.Janitor) *AuditManager {
	auditManager := new(AuditManager)

	db, err := sql.Open("postgres", getDbConnectionInfo())
	if err != nil {
		logging.Infoln("Audit Manager: cannot open the postgres database")
		logging.Infoln(fmt.Sprint(err))
		time.Sleep(time.Duration(1) * time.Second)
		logging.Panic(err)
	}
	logging.Infoln("Audit Manager: was able to open the database.")

	auditManager.db = db
	auditManager.janitor = jan

	configMgr := new(config.ConfigManager)
	auditManager.config = configMgr.Config()
	logging.Infoln("Audit Manager: fetched the config info")

	logging.Infoln("Audit Manager: returning from creating the audit manager")
	return auditManager
}

// Dispose - clean up resources. The AuditManager owns a single managed member (the
// database handle), so Dispose just closes it; no finalizer is registered here.
func (auditManager *AuditManager) Dispose() {
	if auditManager.db != nil {
		auditManager.db.Close()
		auditManager.db = nil
	}
}

func getDbConnectionInfo() string {
	configMgr := new(config.ConfigManager)
	appSettings := configMgr.Config()

	psqlInfo := fmt.Sprintf("host=%s port=%d dbname=%s", appSettings.Database.Host, appSettings.Database.Port, appSettings.Database.DbName)
	if appSettings.Database.User != "" {
		psqlInfo += fmt.Sprintf(" user=%s", appSettings.Database.User)
	}
	if appSettings.Database.Password != "" {
		psqlInfo += fmt.Sprintf(" password=%s", appSettings.Database.Password)
	}
	if appSettings.Database.SSL {
		psqlInfo += " sslmode=require"
	}

	logging.Infof("Audit Manager: The connection info is [%s]\n", psqlInfo)

	return psqlInfo
}

// HandleLeakWatchCommand - parses and dispatches a /resource-leaks command from Slack
func (auditManager *AuditManager) HandleLeakWatchCommand(slashCommand slack.SlashCommand, writer http.ResponseWriter) {
	outputText := ""
	args := strings.Split(strings.Trim(slashCommand.Text, " "), " ")
	logging.Infof("Audit Manager: Got new Leak Watch command with the args [%s]\n", fmt.Sprint(args))

	params := parseCommandParams(args)

	logging.Infof("Audit Manager: the watch params are [%s]\n", fmt.Sprint(params))

	if params != nil {
		if params.purgeAll {
			auditManager.deleteAllWatches(slashCommand.UserID)
			outputText = fmt.Sprintf("All leak watches deleted for user %s", slashCommand.UserName)
		} else if params.purge {
			auditManager.deleteWatch(slashCommand.UserID, params)
			outputText = fmt.Sprintf("Leak watch deleted for user %s", slashCommand.UserName)
		} else {
			newID, err := auditManager.insertNewWatch(slashCommand.UserID, params)
			if err != nil {
				outputText = err.Error() // maybe the user asked for a handle kind that we do not support
			} else {
				outputText = fmt.Sprintf("Leak watch %s Created for user %s", newID, slashCommand.UserName)
			}
		}
	} else {
		outputText = auditManager.listAllWatches(slashCommand.UserID)
	}

	// Send the response back to Slack
	logging.Infoln(outputText)
	slackmessaging.WriteResponse(writer, outputText)
}

// parseCommandParams - turns the slash-command arguments into watch params.
// syntax: /resource-leaks target [ttl-minutes] [kind|name] [purge|purgeall] [#channel]
// If no args were passed, nil is returned, and the caller just lists the user's watches.
func parseCommandParams(args []string) *commandParams {
	if len(args) == 0 || args[0] == "" {
		return nil
	}

	params := &commandParams{"", "", 0, "NAME", false, false}
	for i := 0; i < len(args); i = i + 1 {
		param := strings.ToLower(args[i])

		if param == "purgeall" {
			params.purgeAll = true
		} else if param == "purge" {
			params.purge = true
		} else if param == "kind" || param == "name" {
			params.matchOn = strings.ToUpper(param)
		} else if !strings.ContainsAny(param, "abcdefghijklmnopqrstuvwxyz:/.") && strings.ContainsAny(args[i], "0123456789") {
			params.ttlMinutes, _ = strconv.Atoi(param)
		} else if param[0] == '#' {
			params.channel = args[i] // if the arg starts with #, assume it is the name of a channel to send the notification to
		} else {
			params.target = param
		}
	}

	return params
}

func (auditManager *AuditManager) listAllWatches(userID string) string {
	w := new(leakWatch)
	outputText := ""

	sqlStatement := `SELECT id, slackuser, channel, target, ttlminutes, wasnotified, matchon
	FROM resourcekit.leakwatch
	WHERE slackuser = $1`

	rows, err := auditManager.db.Query(sqlStatement, userID)
	if err != nil {
		logging.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		err = rows.Scan(&w.id, &w.slackUserName, &w.channel, &w.target, &w.ttlMinutes, &w.wasNotified, &w.matchOn)
		if err != nil {
			panic(err)
		}
		outputText += fmt.Sprintf("%s\t%d min (%s)\n", w.target, w.ttlMinutes, w.matchOn)
	}

	return outputText
}

func (auditManager *AuditManager) getWatch(userID string, params *commandParams) *leakWatch {
	sqlStatement := `SELECT id, slackuser, channel, target, ttlminutes, wasnotified, matchon
	FROM resourcekit.leakwatch
	WHERE slackuser = $1 AND target = $2 AND matchon = $3`

	logging.Infof("AuditManager.getWatch: %s\n", sqlStatement)
	row := auditManager.db.QueryRow(sqlStatement, userID, params.target, params.matchOn)
	logging.Infof("AuditManager.getWatch: returned with row [%+v]\n", row)

	w := new(leakWatch)

	switch err := row.Scan(&w.id, &w.slackUserName, &w.channel, &w.target, &w.ttlMinutes, &w.wasNotified, &w.matchOn); err {
	case sql.ErrNoRows:
		logging.Infoln("AuditManager.getWatch: no rows returned. Returning nil")
		return nil
	case nil:
		logging.Infoln("AuditManager.getWatch: no errors returned. Returning the watch")
		return w
	default:
		logging.Fatal(err)
		panic(err)
	}
}

func (auditManager *AuditManager) insertNewWatch(userID string, params *commandParams) (string, error) {
	logging.Infof("AuditManager.insertNewWatch: Getting watches for [userID %s, target %s]", userID, params.target)
	watch := auditManager.getWatch(userID, params)
	logging.Infof("AuditManager.insertNewWatch: Returned with watch %+v", watch)

	if watch != nil {
		// The record already exists. Just update the fields
		sqlStatement := `UPDATE resourcekit.leakwatch SET ttlminutes = $1, matchon = $2 WHERE id = $3`
		res, err := auditManager.db.Exec(sqlStatement, params.ttlMinutes, params.matchOn, watch.id)
		if err != nil {
			logging.Fatal(err)
			panic(err)
		}

		rowsUpdated, _ := res.RowsAffected()
		if rowsUpdated == 1 {
			return strconv.Itoa(watch.id), nil
		}
		return "0", nil
	}

	// A watch on a kind only makes sense for the kinds that the handle factory knows about,
	// and a watch on a name only makes sense for a handle that is actually open
	if params.matchOn == "KIND" {
		if !isKnownKind(params.target) {
			return "", errors.New("The handle kind is unknown")
		}
	} else if !auditManager.isOpenHandle(params.target) {
		return "", errors.New("The handle is not currently open")
	}

	sqlStatement := `
INSERT INTO resourcekit.leakwatch (slackuser, channel, target, ttlminutes, wasnotified, matchon)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
	id := 0
	logging.Infof("AuditManager.insertNewWatch: %s\n", sqlStatement)
	err := auditManager.db.QueryRow(sqlStatement, userID, params.channel, strings.ToLower(params.target), params.ttlMinutes, false, params.matchOn).Scan(&id)
	logging.Infof("AuditManager.insertNewWatch: QueryRow returned with err [%s]\n", fmt.Sprint(err))
	if err != nil {
		logging.Panic(err)
	}

	logging.Infof("AuditManager.insertNewWatch: returning id %d\n", id)
	return strconv.Itoa(id), nil
}

// isOpenHandle - asks the Janitor whether a handle with this name is currently open.
// This goes straight to the Janitor, because the handle is not being watched yet.
func (auditManager *AuditManager) isOpenHandle(name string) bool {
	for _, info := range auditManager.janitor.Outstanding() {
		if strings.EqualFold(info.Name, name) {
			return true
		}
	}
	return false
}

func isKnownKind(kind string) bool {
	switch strings.ToLower(kind) {
	case "filelock", "tempfile", "scratchdir":
		return true
	default:
		return false
	}
}

func (auditManager *AuditManager) setWasNotified(id int) {
	sqlStatement := `UPDATE resourcekit.leakwatch SET wasnotified = true WHERE id = $1`
	auditManager.db.Exec(sqlStatement, id)
}

func (auditManager *AuditManager) deleteAllWatches(userID string) {
	sqlStatement := `DELETE FROM resourcekit.leakwatch WHERE slackuser = $1;`
	_, err := auditManager.db.Exec(sqlStatement, userID)
	if err != nil {
		panic(err)
	}
}

func (auditManager *AuditManager) deleteWatch(userID string, params *commandParams) string {
	sqlStatement := `DELETE FROM resourcekit.leakwatch WHERE slackuser = $1 AND target = $2;`
	_, err := auditManager.db.Exec(sqlStatement, userID, params.target)
	if err != nil {
		panic(err)
	}
	return "watch deleted"
}

// CheckForLeaks - gets called by the application at periodic intervals to check for leaked handles
func (auditManager *AuditManager) CheckForLeaks(jan *janitor.Janitor, callback func(LeakNotification)) {
	// Get the current snapshot of the open handles
	infos := auditManager.GetOutstandingHandles(jan)
	if infos == nil {
		return
	}

	// Save the snapshot to the database
	auditManager.SaveSnapshot(infos)

	// Check for any watched handles that stayed open too long
	notifications := auditManager.GetLeaks()

	// Go through all of the leaks and notify the Slack user
	for _, notification := range notifications {
		// Set the wasNotified field to TRUE on the watch
		auditManager.setWasNotified(notification.WatchID)

		// Do the notification to slack synchronously
		callback(notification)
	}
}

// GetOutstandingHandles - gets the currently open handles from the Janitor,
// scoped to the targets that somebody is actually watching
func (auditManager *AuditManager) GetOutstandingHandles(jan *janitor.Janitor) []hd.HandleInfo {
	targets := auditManager.GetWatchedTargets()
	if targets == nil {
		return nil
	}

	go func() {
		jan.SweepAsync()
	}()

	select {
	case infos := <-jan.SweepCompleted:
		var open []hd.HandleInfo
		for _, info := range infos {
			if info.Valid && isWatchedTarget(info, targets) {
				open = append(open, info)
			}
		}
		return open

	case <-time.After(10 * time.Second):
		return nil
	}
}

// isWatchedTarget - whether a handle matches any watched target, by name or by kind
func isWatchedTarget(info hd.HandleInfo, targets []string) bool {
	for _, target := range targets {
		if strings.EqualFold(info.Name, target) || strings.EqualFold(info.Kind, target) {
			return true
		}
	}
	return false
}

// GetWatchedTargets - gets a unique list of all of the targets, over all of the users, that are being watched
func (auditManager *AuditManager) GetWatchedTargets() []string {
	var targets []string
	var target string

	sqlStatement := `SELECT DISTINCT target FROM resourcekit.leakwatch ORDER BY target;`

	rows, err := auditManager.db.Query(sqlStatement)
	if err != nil {
		logging.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		err = rows.Scan(&target)
		if err != nil {
			logging.Fatal(err)
			panic(err)
		}
		targets = append(targets, target)
	}

	logging.Infoln("The watched targets are:")
	logging.Infoln(fmt.Sprint(targets))

	return targets
}

// SaveSnapshot - saves the current set of open handles in the database
func (auditManager *AuditManager) SaveSnapshot(infos []hd.HandleInfo) error {
	sqlStatement := `DELETE FROM resourcekit.livehandle;`
	_, err := auditManager.db.Exec(sqlStatement)
	if err != nil {
		logging.Fatal(err)
		panic(err)
	}

	// Insert multiple values. The handle names are paths, so they go in as
	// parameters, never interpolated into the statement.
	sqlStatement, values := buildSnapshotInsert(infos, time.Now())
	if len(values) == 0 {
		return nil
	}

	_, err = auditManager.db.Exec(sqlStatement, values...)

	logging.Infoln("Saving the open-handle snapshot to the database:")
	logging.Infoln(sqlStatement)

	return err
}

// buildSnapshotInsert - builds a multi-row parameterized INSERT for the open handles
func buildSnapshotInsert(infos []hd.HandleInfo, now time.Time) (string, []interface{}) {
	var values []interface{}

	sqlStatement := "INSERT INTO resourcekit.livehandle (name, kind, openminutes, time) VALUES "
	row := 0
	for _, info := range infos {
		if info.Valid {
			row++
			sqlStatement += fmt.Sprintf("($%d, $%d, $%d, current_timestamp),", row*3-2, row*3-1, row*3)
			values = append(values, strings.ToLower(info.Name), strings.ToLower(info.Kind), now.Sub(info.AcquiredAt).Minutes())
		}
	}

	// Get rid of the trailing comma and append a semicolon to terminate the statement
	sqlStatement = strings.TrimRight(sqlStatement, ",") + ";"

	return sqlStatement, values
}

// GetLeaks - compare all of the watches in the database with the open-handle snapshot, and return a list of leaks
func (auditManager *AuditManager) GetLeaks() []LeakNotification {
	var notifications []LeakNotification
	n := LeakNotification{}

	// This SQL will compare all of the watches against the snapshot of open handles, and identify
	// those watches whose target has stayed open past its TTL, by exact name or by handle kind.
	sqlStatement := `SELECT w.id, w.slackuser, w.channel, w.target, w.ttlminutes, w.matchon, h.openminutes
	FROM resourcekit.leakwatch w, resourcekit.livehandle h
	WHERE w.wasnotified = false AND h.openminutes >= w.ttlminutes AND
	      ( (w.matchon = 'NAME' AND h.name = w.target) OR (w.matchon = 'KIND' AND h.kind = w.target) );`

	rows, err := auditManager.db.Query(sqlStatement)
	if err != nil {
		logging.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		err = rows.Scan(&n.WatchID, &n.SlackUserName, &n.Channel, &n.Target, &n.TTLMinutes, &n.MatchOn, &n.OpenMinutes)
		if err != nil {
			panic(err)
		}

		notifications = append(notifications, n)
	}

	return notifications
}

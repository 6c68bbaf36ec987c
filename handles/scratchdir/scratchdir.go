package scratchdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	fr "github.com/magmasystems/ResourceDisposalKit/framework"
	hd "github.com/magmasystems/ResourceDisposalKit/handles"
)

var sequence uint64

// DirHandle - owns a single scratch directory. Disposing the handle removes the
// directory; the directory must be empty by then, since the handle owns only the
// directory itself and not whatever the application put inside it.
type DirHandle struct {
	hd.BaseHandle
	path string
}

// CreateHandle - makes a scratch directory under the given parent and wraps it
func CreateHandle(parent string) (hd.ResourceHandle, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	path := filepath.Join(parent, fmt.Sprintf("rdk-%d-%d-%d",
		os.Getpid(), time.Now().UnixNano(), atomic.AddUint64(&sequence, 1)))

	if err := unix.Mkdir(path, 0700); err != nil {
		return nil, errors.Wrapf(err, "cannot create the scratch directory %s", path)
	}

	handle := new(DirHandle)
	handle.path = path
	handle.HandleKind = "scratchdir"

	// The release function captures the path only, never the handle itself.
	handle.SafeHandle = fr.CreateSafeHandle("scratchdir:"+path, func() error {
		return unix.Rmdir(path)
	})
	handle.SafeHandle.MoveFinalizerTo(handle)

	return handle, nil
}

// Path - where the scratch directory lives
func (handle *DirHandle) Path() string {
	return handle.path
}

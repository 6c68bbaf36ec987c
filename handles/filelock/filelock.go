package filelock

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	fr "github.com/magmasystems/ResourceDisposalKit/framework"
	hd "github.com/magmasystems/ResourceDisposalKit/handles"
)

// LockHandle - a mutual-exclusion handle over a single flock'ed file descriptor
type LockHandle struct {
	hd.BaseHandle
	path string
}

// CreateHandle - opens the lock file and takes an exclusive, non-blocking lock on it.
// If another process (or another handle) already holds the lock, an error is returned.
func CreateHandle(path string) (hd.ResourceHandle, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open the lock file %s", path)
	}

	if err = unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "cannot acquire the lock on %s", path)
	}

	handle := new(LockHandle)
	handle.path = path
	handle.HandleKind = "filelock"

	// The release function captures the raw fd only, never the handle itself,
	// so that the finalizer safety net can actually fire.
	handle.SafeHandle = fr.CreateSafeHandle("filelock:"+path, func() error {
		if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
			unix.Close(fd)
			return err
		}
		return unix.Close(fd)
	})
	handle.SafeHandle.MoveFinalizerTo(handle)

	return handle, nil
}

// Path - the file that the lock is held on
func (handle *LockHandle) Path() string {
	return handle.path
}

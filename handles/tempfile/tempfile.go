package tempfile

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

// FileHandle - a scratch-file handle over a single raw file descriptor.
// Disposing the handle closes the descriptor and unlinks the file.
type FileHandle struct {
	hd.BaseHandle
	path string
	fd   int
}

// CreateHandle - creates a scratch file in the given directory and wraps its descriptor
func CreateHandle(dir string) (hd.ResourceHandle, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("rdk-%d-%d-%d.tmp",
		os.Getpid(), time.Now().UnixNano(), atomic.AddUint64(&sequence, 1)))

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create the scratch file %s", path)
	}

	handle := new(FileHandle)
	handle.path = path
	handle.fd = fd
	handle.HandleKind = "tempfile"

	// The release function captures the raw fd and the path only, never the handle itself.
	// The file is unlinked even if the close fails; the close error wins.
	handle.SafeHandle = fr.CreateSafeHandle("tempfile:"+path, func() error {
		closeErr := unix.Close(fd)
		if err := unix.Unlink(path); err != nil && closeErr == nil {
			closeErr = err
		}
		return closeErr
	})
	handle.SafeHandle.MoveFinalizerTo(handle)

	return handle, nil
}

// Path - where the scratch file lives
func (handle *FileHandle) Path() string {
	return handle.path
}

// Write - appends bytes to the scratch file
func (handle *FileHandle) Write(data []byte) (int, error) {
	if !handle.IsValid() {
		return 0, errors.New("the scratch file has already been disposed")
	}
	return unix.Write(handle.fd, data)
}

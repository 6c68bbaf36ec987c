package handles

import (
	"time"

	fr "github.com/magmasystems/ResourceDisposalKit/framework"
)

// ResourceHandle - all raw-resource wrappers must implement this interface
type ResourceHandle interface {
	fr.Disposable
	Name() string
	Kind() string
	IsValid() bool
	OnLeak(fr.LeakFunc)
	Core() *fr.SafeHandle
}

// BaseHandle - abstract base for all of the concrete handles.
// Each concrete handle owns exactly one raw resource through the embedded SafeHandle;
// a handle that needs a second resource gets a second wrapper type, not a second field.
// The finalizer safety net lives on the concrete handle, not on the SafeHandle, so
// that a supervisor can retain the SafeHandle without keeping the net from firing.
type BaseHandle struct {
	*fr.SafeHandle
	HandleKind string
}

// Kind - what sort of raw resource the handle wraps
func (handle BaseHandle) Kind() string {
	return handle.HandleKind
}

// Core - the SafeHandle that actually owns the raw resource. Supervisors keep this
// for bookkeeping and teardown instead of the handle that the application holds.
func (handle BaseHandle) Core() *fr.SafeHandle {
	return handle.SafeHandle
}

// HandleInfo - a point-in-time description of a handle, produced by sweeps
type HandleInfo struct {
	Name       string
	Kind       string
	Valid      bool
	AcquiredAt time.Time
}

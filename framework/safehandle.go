package framework

import (
	"runtime"
	"sync"

	logging "github.com/magmasystems/ResourceDisposalKit/framework/logging"
)

// ReleaseFunc - releases the one raw resource that a SafeHandle owns.
// The function must capture only raw values (a file descriptor, a path, a pointer),
// never the object that owns the SafeHandle. If it captures the owner, the owner can
// never become garbage and the finalizer will never run.
type ReleaseFunc func() error

// LeakFunc - called when the garbage collector, not the application, had to release a handle
type LeakFunc func(name string)

// SafeHandle - wraps exactly one raw (non garbage-collected) resource.
// The application should call Dispose when it is finished with the resource.
// If it forgets, a finalizer releases the resource as a last resort and reports the leak.
// A SafeHandle must never own more than one raw resource, and must never own managed
// members as well; aggregate those with a CompositeDisposable instead.
type SafeHandle struct {
	Disposable
	name     string
	release  ReleaseFunc
	leakFunc LeakFunc
	valid    bool
	mutex    sync.Mutex
}

// CreateSafeHandle - creates a handle over a raw resource and arms the finalizer.
// Passing a nil ReleaseFunc creates a handle that is already invalid; disposing it is a no-op.
func CreateSafeHandle(name string, release ReleaseFunc) *SafeHandle {
	handle := new(SafeHandle)
	handle.name = name
	handle.release = release
	handle.valid = release != nil

	runtime.SetFinalizer(handle, (*SafeHandle).finalize)
	return handle
}

// Name - the name that the handle was created with
func (handle *SafeHandle) Name() string {
	return handle.name
}

// IsValid - reports whether the raw resource has not been released yet
func (handle *SafeHandle) IsValid() bool {
	handle.mutex.Lock()
	defer handle.mutex.Unlock()
	return handle.valid
}

// OnLeak - registers a callback that fires if the finalizer ends up doing the release
func (handle *SafeHandle) OnLeak(leakFunc LeakFunc) {
	handle.mutex.Lock()
	handle.leakFunc = leakFunc
	handle.mutex.Unlock()
}

// Dispose - releases the raw resource and disarms the finalizer.
// Safe to call any number of times; every call after the first is a no-op.
func (handle *SafeHandle) Dispose() {
	handle.releaseHandle()
	runtime.SetFinalizer(handle, nil)
}

// MoveFinalizerTo - moves the last-resort finalizer from the SafeHandle itself to the
// object that the application actually holds. A supervisor such as the Janitor keeps
// the inner SafeHandle for bookkeeping and teardown; if the finalizer stayed on the
// SafeHandle, that bookkeeping reference would keep the safety net from ever firing.
// The owner's finalizer only references the SafeHandle, never the other way around,
// so the owner can still become garbage. Once the handle has been explicitly disposed,
// a late finalizer on the owner observes an invalid handle and does nothing.
func (handle *SafeHandle) MoveFinalizerTo(owner interface{}) {
	runtime.SetFinalizer(handle, nil)
	runtime.SetFinalizer(owner, func(interface{}) { handle.finalize() })
}

// releaseHandle - the one routine that actually releases the resource. Both the
// explicit Dispose and the finalizer funnel through here, so it has to be idempotent
// and it must never panic. A failure from the ReleaseFunc is logged and swallowed,
// and the handle is still marked invalid, because there is nothing useful a caller
// (let alone the garbage collector) can do about a resource that will not close.
func (handle *SafeHandle) releaseHandle() {
	handle.mutex.Lock()
	defer handle.mutex.Unlock()

	if !handle.valid {
		return
	}

	if err := handle.release(); err != nil {
		logging.Errorf("SafeHandle [%s]: error while releasing the resource: %v\n", handle.name, err)
	}
	handle.valid = false
}

// finalize - the last-resort cleanup that the garbage collector invokes.
// It runs on the finalizer goroutine, so it only touches this handle's own state.
func (handle *SafeHandle) finalize() {
	handle.mutex.Lock()
	leaked := handle.valid
	leakFunc := handle.leakFunc
	handle.mutex.Unlock()

	handle.releaseHandle()

	if leaked {
		logging.Errorf("SafeHandle [%s]: released by the finalizer; the application never called Dispose\n", handle.name)
		if leakFunc != nil {
			leakFunc(handle.name)
		}
	}
}

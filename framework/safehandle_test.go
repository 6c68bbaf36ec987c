package framework

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestSafeHandle_DisposeReleasesOnce(t *testing.T) {
	calls := 0
	handle := CreateSafeHandle("test", func() error { calls++; return nil })

	assert.True(t, handle.IsValid())
	assert.Equal(t, "test", handle.Name())

	handle.Dispose()
	assert.False(t, handle.IsValid())
	assert.Equal(t, 1, calls)

	// Releasing twice must not release the raw resource twice
	handle.Dispose()
	assert.False(t, handle.IsValid())
	assert.Equal(t, 1, calls)
}

func TestSafeHandle_AlreadyInvalidHandleIsANoOp(t *testing.T) {
	handle := CreateSafeHandle("never-opened", nil)

	assert.False(t, handle.IsValid())
	assert.NotPanics(t, func() { handle.Dispose() })
	assert.False(t, handle.IsValid())
}

func TestSafeHandle_ReleaseFailureIsSwallowed(t *testing.T) {
	calls := 0
	handle := CreateSafeHandle("wontclose", func() error {
		calls++
		return errors.New("the resource will not close")
	})

	// The error must be logged, never propagated, and the handle still goes invalid
	assert.NotPanics(t, func() { handle.Dispose() })
	assert.False(t, handle.IsValid())

	handle.Dispose()
	assert.Equal(t, 1, calls)
}

func TestSafeHandle_ConcurrentDisposeReleasesOnce(t *testing.T) {
	var calls int32
	handle := CreateSafeHandle("shared", func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	done := make(chan bool)
	for i := 0; i < 8; i++ {
		go func() {
			handle.Dispose()
			done <- true
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, handle.IsValid())
}

func TestSafeHandle_FinalizerReleasesAForgottenHandle(t *testing.T) {
	var released int32
	leaked := make(chan string, 1)

	// Create the handle in its own scope so that nothing keeps it reachable
	func() {
		handle := CreateSafeHandle("forgotten", func() error {
			atomic.AddInt32(&released, 1)
			return nil
		})
		handle.OnLeak(func(name string) { leaked <- name })
	}()

	// Nudge the collector until the finalizer has run
	for i := 0; i < 100; i++ {
		runtime.GC()
		select {
		case name := <-leaked:
			assert.Equal(t, "forgotten", name)
			assert.Equal(t, int32(1), atomic.LoadInt32(&released))
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatal("the finalizer never released the handle")
}

// A caretaker that holds the SafeHandle for bookkeeping, the way the Janitor does
type retainingCaretaker struct {
	core *SafeHandle
}

type wrapperHandle struct {
	*SafeHandle
}

func TestSafeHandle_MovedFinalizerFiresEvenWhenTheCoreIsRetained(t *testing.T) {
	var released int32
	leaked := make(chan string, 1)
	caretaker := new(retainingCaretaker)

	// The wrapper is dropped at the end of this scope; only the core stays reachable
	func() {
		wrapper := &wrapperHandle{
			SafeHandle: CreateSafeHandle("abandoned", func() error {
				atomic.AddInt32(&released, 1)
				return nil
			}),
		}
		wrapper.OnLeak(func(name string) { leaked <- name })
		wrapper.SafeHandle.MoveFinalizerTo(wrapper)
		caretaker.core = wrapper.SafeHandle
	}()

	for i := 0; i < 100; i++ {
		runtime.GC()
		select {
		case name := <-leaked:
			assert.Equal(t, "abandoned", name)
			assert.Equal(t, int32(1), atomic.LoadInt32(&released))
			assert.False(t, caretaker.core.IsValid())
			return
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatal("the moved finalizer never fired while the core was retained")
}

func TestSafeHandle_MovedFinalizerIsANoOpAfterDispose(t *testing.T) {
	var released int32
	leaked := make(chan string, 1)
	caretaker := new(retainingCaretaker)

	func() {
		wrapper := &wrapperHandle{
			SafeHandle: CreateSafeHandle("well-behaved", func() error {
				atomic.AddInt32(&released, 1)
				return nil
			}),
		}
		wrapper.OnLeak(func(name string) { leaked <- name })
		wrapper.SafeHandle.MoveFinalizerTo(wrapper)
		caretaker.core = wrapper.SafeHandle
		wrapper.Dispose()
	}()

	for i := 0; i < 10; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case name := <-leaked:
		t.Fatalf("a leak was reported for %s even though the handle was disposed", name)
	default:
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&released))
	assert.False(t, caretaker.core.IsValid())
}

func TestSafeHandle_DisposeSuppressesTheFinalizer(t *testing.T) {
	var released int32
	leaked := make(chan string, 1)

	func() {
		handle := CreateSafeHandle("disposed", func() error {
			atomic.AddInt32(&released, 1)
			return nil
		})
		handle.OnLeak(func(name string) { leaked <- name })
		handle.Dispose()
	}()

	for i := 0; i < 10; i++ {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case name := <-leaked:
		t.Fatalf("the finalizer ran for %s even though the handle was disposed", name)
	default:
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&released))
}

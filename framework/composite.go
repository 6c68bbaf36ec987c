package framework

import (
	"sync"
)

// CompositeDisposable - a Disposable that owns other Disposables. Use this when a type
// holds several managed members that each know how to clean themselves up. Dispose just
// forwards to every member in the order that they were added; there is no per-member
// logic here, and no finalizer, because each member already looks after its own.
type CompositeDisposable struct {
	Disposable
	name        string
	disposables []Disposable
	disposed    bool
	mutex       sync.Mutex
}

// CreateCompositeDisposable - creates a composite over zero or more members
func CreateCompositeDisposable(name string, members ...Disposable) *CompositeDisposable {
	composite := new(CompositeDisposable)
	composite.name = name
	composite.disposables = append(composite.disposables, members...)
	return composite
}

// Name - the name that the composite was created with
func (composite *CompositeDisposable) Name() string {
	return composite.name
}

// Count - the number of members that the composite owns
func (composite *CompositeDisposable) Count() int {
	composite.mutex.Lock()
	defer composite.mutex.Unlock()
	return len(composite.disposables)
}

// Add - hands ownership of a member to the composite. If the composite was already
// disposed, the newcomer is disposed right away instead of being kept alive.
func (composite *CompositeDisposable) Add(member Disposable) {
	if member == nil {
		return
	}

	composite.mutex.Lock()
	if composite.disposed {
		composite.mutex.Unlock()
		member.Dispose()
		return
	}
	composite.disposables = append(composite.disposables, member)
	composite.mutex.Unlock()
}

// Dispose - disposes every member exactly once, in the order they were added.
// Calling Dispose a second time does nothing.
func (composite *CompositeDisposable) Dispose() {
	composite.mutex.Lock()
	if composite.disposed {
		composite.mutex.Unlock()
		return
	}
	composite.disposed = true
	members := composite.disposables
	composite.disposables = nil
	composite.mutex.Unlock()

	for _, member := range members {
		member.Dispose()
	}
}

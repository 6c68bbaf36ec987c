package framework

// Disposable - a class/interface would implement this in order to clean up resources.
// A type that holds nothing but ordinary garbage-collected members does not need to
// implement Disposable at all; the garbage collector is enough.
type Disposable interface {
	Dispose()
}

// DisposableFunc - lets a plain function act as a Disposable
type DisposableFunc func()

// Dispose - invokes the wrapped function
func (fn DisposableFunc) Dispose() {
	if fn != nil {
		fn()
	}
}

// Using - runs an action and guarantees that the resource is disposed afterwards,
// like a C# 'using' block or a try-with-resources
func Using(disposable Disposable, action func()) {
	defer disposable.Dispose()
	action()
}

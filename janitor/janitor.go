package janitor

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	config "github.com/magmasystems/ResourceDisposalKit/configuration"
	fr "github.com/magmasystems/ResourceDisposalKit/framework"
	hd "github.com/magmasystems/ResourceDisposalKit/handles"
	filelock "github.com/magmasystems/ResourceDisposalKit/handles/filelock"
	scratchdir "github.com/magmasystems/ResourceDisposalKit/handles/scratchdir"
	tempfile "github.com/magmasystems/ResourceDisposalKit/handles/tempfile"
)

// JanitorOps - interface defining all operations the Janitor can do
type JanitorOps interface {
	Close()
	Acquire(kind string, target string) (hd.ResourceHandle, error)
	AcquireDefault(target string) (hd.ResourceHandle, error)
	Outstanding() []hd.HandleInfo
	Sweep() []hd.HandleInfo
	SweepAsync()
	Config() config.AppSettings
}

// trackedHandle - the bookkeeping the Janitor keeps for a handle. Only the SafeHandle
// core is retained, never the handle that was given to the caller; retaining the
// caller's handle would keep its finalizer safety net from ever firing.
type trackedHandle struct {
	core       *fr.SafeHandle
	kind       string
	acquiredAt time.Time
}

func (tracked trackedHandle) describe() hd.HandleInfo {
	return hd.HandleInfo{
		Name:       tracked.core.Name(),
		Kind:       tracked.kind,
		Valid:      tracked.core.IsValid(),
		AcquiredAt: tracked.acquiredAt,
	}
}

// Janitor - owns the raw resource behind every handle that it creates, and tears
// them all down on Close
type Janitor struct {
	resources *fr.CompositeDisposable
	handles   []trackedHandle
	config    *config.AppSettings
	leakFunc  fr.LeakFunc
	mutex     sync.Mutex

	SweepCompleted chan []hd.HandleInfo
}

// CreateJanitor - creates a new instance of the Janitor
func CreateJanitor() *Janitor {
	configMgr := new(config.ConfigManager)
	appSettings := configMgr.Config()

	janitor := new(Janitor)
	janitor.config = appSettings
	janitor.resources = fr.CreateCompositeDisposable("janitor")
	janitor.SweepCompleted = make(chan []hd.HandleInfo, 20)

	return janitor
}

// Close - disposes of every handle that the Janitor still owns, in the order acquired
func (janitor *Janitor) Close() {
	if janitor.resources != nil {
		janitor.resources.Dispose()
	}
}

// Config - the settings that the Janitor was created with
func (janitor *Janitor) Config() config.AppSettings {
	return *janitor.config
}

// SetLeakCallback - called when the garbage collector has to release one of our handles.
// The callback is armed on every handle acquired so far, as well as on future ones.
func (janitor *Janitor) SetLeakCallback(leakFunc fr.LeakFunc) {
	janitor.mutex.Lock()
	janitor.leakFunc = leakFunc
	for _, tracked := range janitor.handles {
		tracked.core.OnLeak(leakFunc)
	}
	janitor.mutex.Unlock()
}

// Acquire - creates a handle of the given kind and takes ownership of its raw resource.
// The returned handle is the application's only reference to the wrapper; the Janitor
// keeps just the SafeHandle core, so that an abandoned wrapper can still be finalized.
func (janitor *Janitor) Acquire(kind string, target string) (hd.ResourceHandle, error) {
	handle, err := handleFactory(kind, target, janitor.config)
	if err != nil {
		return nil, err
	}

	core := handle.Core()

	janitor.mutex.Lock()
	if janitor.leakFunc != nil {
		core.OnLeak(janitor.leakFunc)
	}
	janitor.handles = append(janitor.handles, trackedHandle{core: core, kind: handle.Kind(), acquiredAt: time.Now()})
	janitor.mutex.Unlock()

	janitor.resources.Add(core)
	return handle, nil
}

// AcquireDefault - creates a handle of the kind named by the Driver config setting
func (janitor *Janitor) AcquireDefault(target string) (hd.ResourceHandle, error) {
	return janitor.Acquire(janitor.config.Driver, target)
}

// Sweep - takes a snapshot of every handle that the Janitor has ever acquired
func (janitor *Janitor) Sweep() []hd.HandleInfo {
	janitor.mutex.Lock()
	snapshot := make([]hd.HandleInfo, len(janitor.handles))
	for idx, tracked := range janitor.handles {
		snapshot[idx] = tracked.describe()
	}
	janitor.mutex.Unlock()

	return snapshot
}

// SweepAsync - sweeps the handles, and sends a message into the channel when the snapshot is ready
func (janitor *Janitor) SweepAsync() {
	infos := janitor.Sweep()
	janitor.SweepCompleted <- infos
}

// Outstanding - the handles that are still valid (acquired and not yet disposed)
func (janitor *Janitor) Outstanding() []hd.HandleInfo {
	var open []hd.HandleInfo
	for _, info := range janitor.Sweep() {
		if info.Valid {
			open = append(open, info)
		}
	}
	return open
}

// SweepWG - sweeps the handles in parallel, using wait groups
func (janitor *Janitor) SweepWG() []hd.HandleInfo {
	janitor.mutex.Lock()
	tracked := make([]trackedHandle, len(janitor.handles))
	copy(tracked, janitor.handles)
	janitor.mutex.Unlock()

	infos := make([]hd.HandleInfo, len(tracked))

	var wg sync.WaitGroup

	for idx, th := range tracked {
		wg.Add(1)

		go func(th trackedHandle, info *hd.HandleInfo, w *sync.WaitGroup) {
			*info = th.describe()
			w.Done()
		}(th, &infos[idx], &wg)
	}

	wg.Wait()

	return infos
}

// handleFactory - a factory that creates a handle of the requested kind
func handleFactory(kind string, target string, settings *config.AppSettings) (handle hd.ResourceHandle, errs error) {
	switch strings.ToLower(kind) {
	case "filelock":
		if target == "" {
			target = settings.LockDir + "/janitor.lock"
		}
		return filelock.CreateHandle(target)
	case "tempfile":
		return tempfile.CreateHandle(target)
	case "scratchdir":
		return scratchdir.CreateHandle(target)
	default:
		return nil, errors.New("the handle kind cannot be found")
	}
}

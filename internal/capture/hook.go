package capture

import (
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/Avi18971911/Swarmtrace/pkg/trace/model"
)

// Params is what an instrumented call site reports.
type Params struct {
	Id           string
	Object       model.Object
	ParentObject *model.Object
	Caller       model.Caller
}

type TraceFunc func(params Params)

// Hook holds at most one trace function. Instrumented code calls Emit; the tracer client installs
// itself as the function.
type Hook struct {
	mu sync.RWMutex
	fn TraceFunc
}

// Default is the process-wide hook instrumented code reports to.
var Default = &Hook{}

func (h *Hook) Install(fn TraceFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fn != nil {
		return ErrAlreadyInstalled
	}
	h.fn = fn
	return nil
}

func (h *Hook) Release() {
	h.mu.Lock()
	h.fn = nil
	h.mu.Unlock()
}

func (h *Hook) Installed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fn != nil
}

func (h *Hook) Emit(params Params) {
	h.mu.RLock()
	fn := h.fn
	h.mu.RUnlock()
	if fn == nil {
		return
	}
	fn(params)
}

// Trace reports an event on the Default hook, filling the caller from the Go call stack.
func Trace(id string, object model.Object, parent *model.Object, callerProps model.Props) {
	if !Default.Installed() {
		return
	}
	Default.Emit(Params{
		Id:           id,
		Object:       object,
		ParentObject: parent,
		Caller:       CallerAt(2, callerProps),
	})
}

// CallerAt describes the function skip frames above its own caller.
func CallerAt(skip int, props model.Props) model.Caller {
	caller := model.Caller{Props: props}
	pc, file, _, ok := runtime.Caller(skip)
	if !ok {
		return caller
	}
	caller.Filename = filepath.Base(file)
	if fn := runtime.FuncForPC(pc); fn != nil {
		name := fn.Name()
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		caller.FunctionName = name
	}
	return caller
}

var ErrAlreadyInstalled = errors.New("a trace function is already installed")

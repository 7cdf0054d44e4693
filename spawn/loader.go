package spawn

import (
	"fmt"
	"net/url"
	"path"
	"runtime/debug"
	"sync"
)

// Loader loads resolved script ids into an isolated context. Each script has
// finished running when Load returns; Load stops at the first failure.
type Loader interface {
	Load(ep *Endpoint, ids ...string) error
}

// ScriptError is a failure to load or run one script.
type ScriptError struct {
	Script string
	Err    error
	Stack  string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Registry is a Loader over scripts compiled into the program. A script is
// found by its exact id, then by the id's URL path, then by its base name.
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]Job
}

func NewRegistry() *Registry {
	return &Registry{scripts: make(map[string]Job)}
}

// Register adds or replaces the script known as id.
func (r *Registry) Register(id string, job Job) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[id] = job
	return r
}

// Scripts lists every registered id.
func (r *Registry) Scripts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.scripts))
	for id := range r.scripts {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Load(ep *Endpoint, ids ...string) error {
	for _, id := range ids {
		job, ok := r.lookup(id)
		if !ok {
			return &ScriptError{Script: id, Err: ErrScriptNotFound}
		}
		if err := run(ep, job); err != nil {
			err.Script = id
			return err
		}
		if scope := ep.Scope(); scope != nil {
			scope.markLoaded(id)
		}
	}
	return nil
}

func (r *Registry) lookup(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if job, ok := r.scripts[id]; ok {
		return job, true
	}
	p := id
	if u, err := url.Parse(id); err == nil && u.Path != "" {
		p = u.Path
	}
	if job, ok := r.scripts[p]; ok {
		return job, true
	}
	job, ok := r.scripts[path.Base(p)]
	return job, ok
}

func run(ep *Endpoint, job Job) (serr *ScriptError) {
	defer func() {
		if rec := recover(); rec != nil {
			serr = &ScriptError{Err: fmt.Errorf("panic: %v", rec), Stack: string(debug.Stack())}
		}
	}()
	job(ep)
	return nil
}

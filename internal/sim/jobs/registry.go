package jobs

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/store"
)

// Env is what a job handler sees of the world.
type Env struct {
	Store store.Store
	Tick  uint64
	Type  catalogs.JobTypeDef
}

// Handler computes progress for a job in progress and returns the updated
// job. A handler may set State to StateFailed.
type Handler interface {
	Handle(env *Env, agentID, jobID store.EntityID, job Job) (Job, error)
}

type HandlerFunc func(env *Env, agentID, jobID store.EntityID, job Job) (Job, error)

func (f HandlerFunc) Handle(env *Env, agentID, jobID store.EntityID, job Job) (Job, error) {
	return f(env, agentID, jobID, job)
}

// ProgressHandler advances progress by the agent's skill rate.
var ProgressHandler Handler = HandlerFunc(func(env *Env, agentID, _ store.EntityID, job Job) (Job, error) {
	a, err := LoadAgent(env.Store, agentID)
	if err != nil {
		return job, err
	}
	job.Progress += SkillRate(a, job.JobType)
	return job, nil
})

// GuestRuntime is an embedded scripting guest. Call invokes fn with a JSON
// payload and returns its JSON result synchronously.
type GuestRuntime interface {
	Call(fn string, payload []byte) ([]byte, error)
}

// GuestHandler adapts a guest function to Handler.
type GuestHandler struct {
	Runtime GuestRuntime
	Func    string
}

type guestJobCall struct {
	Tick    uint64         `json:"tick"`
	AgentID store.EntityID `json:"agent_id"`
	JobID   store.EntityID `json:"job_id"`
	Job     Job            `json:"job"`
}

func (g GuestHandler) Handle(env *Env, agentID, jobID store.EntityID, job Job) (Job, error) {
	in, err := json.Marshal(guestJobCall{Tick: env.Tick, AgentID: agentID, JobID: jobID, Job: job})
	if err != nil {
		return job, err
	}
	out, err := g.Runtime.Call(g.Func, in)
	if err != nil {
		return job, fmt.Errorf("guest %s: %w", g.Func, err)
	}
	var next Job
	if err := json.Unmarshal(out, &next); err != nil {
		return job, fmt.Errorf("guest %s: decode job: %w", g.Func, err)
	}
	if !next.State.Known() {
		return job, fmt.Errorf("guest %s: state %q: %w", g.Func, next.State, ErrUnknownState)
	}
	return next, nil
}

// Registry is the job type catalog: declarative definitions plus the
// handlers that execute them, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]catalogs.JobTypeDef
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		defs:     map[string]catalogs.JobTypeDef{},
		handlers: map[string]Handler{},
	}
}

// Register adds a job type definition. A nil handler defers to a handler
// registered under def.Handler (or def.Name), else ProgressHandler.
func (r *Registry) Register(def catalogs.JobTypeDef, h Handler) error {
	if err := def.Validate(); err != nil {
		return fmt.Errorf("register %q: %w", def.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("register %q: %w", def.Name, ErrDuplicateType)
	}
	r.defs[def.Name] = def
	if h != nil {
		r.handlers[def.Name] = h
	}
	return nil
}

// RegisterHandler binds a handler name, replacing any previous binding.
func (r *Registry) RegisterHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// LoadCatalog registers every job type of a loaded catalog in name order.
func (r *Registry) LoadCatalog(c catalogs.JobTypeCatalog) error {
	names := make([]string, 0, len(c.ByName))
	for name := range c.ByName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Register(c.ByName[name], nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Def(name string) (catalogs.JobTypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Lookup returns the definition and the handler for a job type.
func (r *Registry) Lookup(name string) (catalogs.JobTypeDef, Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return def, nil, fmt.Errorf("%q: %w", name, ErrUnknownJobType)
	}
	if h, ok := r.handlers[def.Name]; ok {
		return def, h, nil
	}
	if def.Handler != "" {
		if h, ok := r.handlers[def.Handler]; ok {
			return def, h, nil
		}
		return def, nil, fmt.Errorf("%q handler %q: %w", name, def.Handler, ErrUnknownHandler)
	}
	return def, ProgressHandler, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

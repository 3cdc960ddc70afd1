package effects

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
)

// UndoPrefix is prepended to an action name to find its inverse handler.
const UndoPrefix = "Undo"

var ErrNoHandler = errors.New("effects: no handler registered")

type Env struct {
	Store store.Store
	Tick  uint64
	JobID store.EntityID

	// Set by the Processor around each handler call.
	job *jobs.Job
	key string
}

// Remember stores v for the undo of the effect being applied. Outside a
// Processor call it does nothing.
func (e *Env) Remember(v any) error {
	if e.job == nil || e.key == "" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if e.job.EffectMemos == nil {
		e.job.EffectMemos = map[string]json.RawMessage{}
	}
	e.job.EffectMemos[e.key] = b
	return nil
}

// Recall loads what Remember stored for the effect being undone into v. It
// reports false when nothing was stored.
func (e *Env) Recall(v any) (bool, error) {
	if e.job == nil {
		return false, nil
	}
	b, ok := e.job.EffectMemos[e.key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (e *Env) at(job *jobs.Job, path []int) *Env {
	out := *e
	out.job = job
	out.key = pathKey(path)
	return &out
}

func pathKey(path []int) string {
	b := make([]byte, 0, 2*len(path))
	for i, n := range path {
		if i > 0 {
			b = append(b, '.')
		}
		b = strconv.AppendInt(b, int64(n), 10)
	}
	return string(b)
}

// Handler mutates the store on behalf of entity.
type Handler interface {
	Apply(env *Env, entity store.EntityID, effect catalogs.EffectDef) error
}

type HandlerFunc func(env *Env, entity store.EntityID, effect catalogs.EffectDef) error

func (f HandlerFunc) Apply(env *Env, entity store.EntityID, effect catalogs.EffectDef) error {
	return f(env, entity, effect)
}

// GuestEffect adapts a guest function to Handler.
type GuestEffect struct {
	Runtime jobs.GuestRuntime
	Func    string
}

type guestEffectCall struct {
	Tick   uint64             `json:"tick"`
	JobID  store.EntityID     `json:"job_id"`
	Entity store.EntityID     `json:"entity"`
	Effect catalogs.EffectDef `json:"effect"`
}

func (g GuestEffect) Apply(env *Env, entity store.EntityID, effect catalogs.EffectDef) error {
	in, err := json.Marshal(guestEffectCall{Tick: env.Tick, JobID: env.JobID, Entity: entity, Effect: effect})
	if err != nil {
		return err
	}
	if _, err := g.Runtime.Call(g.Func, in); err != nil {
		return fmt.Errorf("guest %s: %w", g.Func, err)
	}
	return nil
}

// Registry maps action names (and "Undo"+action) to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// RegisterUndo registers the inverse of action.
func (r *Registry) RegisterUndo(action string, h Handler) {
	r.Register(UndoPrefix+action, h)
}

func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNoHandler)
	}
	return h, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

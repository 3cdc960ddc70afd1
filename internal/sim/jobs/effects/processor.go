package effects

import (
	"errors"
	"fmt"
	"slices"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
)

// Processor applies a job type's effects incrementally and rolls them back.
type Processor struct {
	Registry *Registry
}

func NewProcessor(r *Registry) *Processor {
	return &Processor{Registry: r}
}

// ApplyNext applies at most one top-level effect of def to the job's effect
// entity, in catalog order, skipping applied indices and effects whose
// condition is false. Chained effects of the applied effect are applied in
// the same call. It reports whether an effect was applied.
func (p *Processor) ApplyNext(env *Env, job *jobs.Job, def catalogs.JobTypeDef) (bool, error) {
	target := job.EffectEntity(env.JobID)
	for i, e := range def.Effects {
		if slices.Contains(job.AppliedEffects, i) {
			continue
		}
		ok, err := p.conditionHolds(env, target, e.Condition)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}
		if err := p.apply(env, job, target, e, []int{i}); err != nil {
			return false, fmt.Errorf("effect %d %s: %w", i, e.Action, err)
		}
		nested, err := p.applyChain(env, job, target, e.Effects, []int{i})
		if err != nil {
			if uerr := p.undo(env, job, target, e, []int{i}); uerr != nil {
				err = errors.Join(err, uerr)
			}
			return false, fmt.Errorf("effect %d chain: %w", i, err)
		}
		job.AppliedEffects = append(job.AppliedEffects, i)
		job.AppliedNested = append(job.AppliedNested, nested...)
		return true, nil
	}
	return false, nil
}

// Pending reports whether def has top-level effects not yet applied.
func Pending(job jobs.Job, def catalogs.JobTypeDef) bool {
	return len(job.AppliedEffects) < len(def.Effects)
}

// applyChain applies nested effects depth-first. On failure the part of the
// chain applied so far is undone.
func (p *Processor) applyChain(env *Env, job *jobs.Job, target store.EntityID, chain []catalogs.EffectDef, prefix []int) ([][]int, error) {
	var applied [][]int
	for i, e := range chain {
		ok, err := p.conditionHolds(env, target, e.Condition)
		if err == nil && ok {
			path := append(slices.Clone(prefix), i)
			err = p.apply(env, job, target, e, path)
			if err == nil {
				applied = append(applied, path)
				var sub [][]int
				sub, err = p.applyChain(env, job, target, e.Effects, path)
				applied = append(applied, sub...)
			}
		}
		if err != nil {
			return nil, errors.Join(err, p.undoPaths(env, job, target, applied, chainRoot(chain, prefix)))
		}
	}
	return applied, nil
}

// Rollback undoes every applied effect in reverse application order, chained
// effects before their parent, then clears the applied lists.
func (p *Processor) Rollback(env *Env, job *jobs.Job, def catalogs.JobTypeDef) error {
	target := job.EffectEntity(env.JobID)
	var errs []error
	for k := len(job.AppliedEffects) - 1; k >= 0; k-- {
		idx := job.AppliedEffects[k]
		if idx < 0 || idx >= len(def.Effects) {
			errs = append(errs, fmt.Errorf("effect index %d out of range", idx))
			continue
		}
		var nested [][]int
		for _, path := range job.AppliedNested {
			if len(path) > 1 && path[0] == idx {
				nested = append(nested, path)
			}
		}
		if err := p.undoPaths(env, job, target, nested, def.Effects); err != nil {
			errs = append(errs, err)
		}
		if err := p.undo(env, job, target, def.Effects[idx], []int{idx}); err != nil {
			errs = append(errs, fmt.Errorf("undo effect %d: %w", idx, err))
		}
	}
	job.AppliedEffects = nil
	job.AppliedNested = nil
	job.EffectMemos = nil
	return errors.Join(errs...)
}

// undoPaths undoes paths in reverse order; root resolves them.
func (p *Processor) undoPaths(env *Env, job *jobs.Job, target store.EntityID, paths [][]int, root []catalogs.EffectDef) error {
	var errs []error
	for k := len(paths) - 1; k >= 0; k-- {
		e, ok := resolve(root, paths[k])
		if !ok {
			errs = append(errs, fmt.Errorf("effect path %v not found", paths[k]))
			continue
		}
		if err := p.undo(env, job, target, e, paths[k]); err != nil {
			errs = append(errs, fmt.Errorf("undo effect %v: %w", paths[k], err))
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) apply(env *Env, job *jobs.Job, target store.EntityID, e catalogs.EffectDef, path []int) error {
	h, err := p.Registry.Lookup(e.Action)
	if err != nil {
		return err
	}
	return h.Apply(env.at(job, path), target, e)
}

// undo runs the inverse handler at path and forgets its memo.
func (p *Processor) undo(env *Env, job *jobs.Job, target store.EntityID, e catalogs.EffectDef, path []int) error {
	h, err := p.Registry.Lookup(UndoPrefix + e.Action)
	if err != nil {
		return err
	}
	err = h.Apply(env.at(job, path), target, e)
	delete(job.EffectMemos, pathKey(path))
	if len(job.EffectMemos) == 0 {
		job.EffectMemos = nil
	}
	return err
}

func (p *Processor) conditionHolds(env *Env, target store.EntityID, c *catalogs.Condition) (bool, error) {
	if c == nil {
		return true, nil
	}
	var v float64
	switch c.Source {
	case "entity":
		attrs, err := jobs.LoadAttributes(env.Store, target)
		if err != nil {
			return false, err
		}
		v = attrs[c.Key]
	case "world":
		totals, err := jobs.ResourceTotals(env.Store)
		if err != nil {
			return false, err
		}
		v = float64(totals[c.Key])
	default:
		return false, fmt.Errorf("condition source %q", c.Source)
	}
	return compare(v, c.Op, c.Value)
}

func compare(v float64, op string, want float64) (bool, error) {
	switch op {
	case "<":
		return v < want, nil
	case "<=":
		return v <= want, nil
	case ">":
		return v > want, nil
	case ">=":
		return v >= want, nil
	case "==":
		return v == want, nil
	case "!=":
		return v != want, nil
	}
	return false, fmt.Errorf("condition op %q", op)
}

// resolve walks an index path from the top-level effect list.
func resolve(root []catalogs.EffectDef, path []int) (catalogs.EffectDef, bool) {
	list := root
	var e catalogs.EffectDef
	for _, i := range path {
		if i < 0 || i >= len(list) {
			return catalogs.EffectDef{}, false
		}
		e = list[i]
		list = e.Effects
	}
	return e, len(path) > 0
}

// chainRoot wraps chain so that paths beginning with prefix resolve against it.
func chainRoot(chain []catalogs.EffectDef, prefix []int) []catalogs.EffectDef {
	root := chain
	for k := len(prefix) - 1; k >= 0; k-- {
		wrapped := make([]catalogs.EffectDef, prefix[k]+1)
		wrapped[prefix[k]] = catalogs.EffectDef{Effects: root}
		root = wrapped
	}
	return root
}

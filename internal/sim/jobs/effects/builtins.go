package effects

import (
	"encoding/json"
	"fmt"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
)

// Built-in actions.
const (
	ActionModifyAttribute = "ModifyAttribute"
	ActionAddResource     = "AddResource"
)

// RegisterBuiltins installs the built-in actions and their inverses.
func RegisterBuiltins(r *Registry) {
	r.Register(ActionModifyAttribute, HandlerFunc(modifyAttribute))
	r.RegisterUndo(ActionModifyAttribute, HandlerFunc(undoModifyAttribute))
	r.Register(ActionAddResource, HandlerFunc(func(env *Env, entity store.EntityID, e catalogs.EffectDef) error {
		return addResource(env, entity, e, 1)
	}))
	r.RegisterUndo(ActionAddResource, HandlerFunc(func(env *Env, entity store.EntityID, e catalogs.EffectDef) error {
		return addResource(env, entity, e, -1)
	}))
}

// attributeMemo is what ModifyAttribute needs to be undone exactly.
type attributeMemo struct {
	HadComponent bool    `json:"had_component"`
	Existed      bool    `json:"existed"`
	Before       float64 `json:"before"`
	After        float64 `json:"after"`
}

// params: {"attribute": string, "amount": number}
func attributeParams(e catalogs.EffectDef) (string, float64, error) {
	name, err := paramString(e.Params, "attribute")
	if err != nil {
		return "", 0, err
	}
	amount, err := paramFloat(e.Params, "amount")
	return name, amount, err
}

func modifyAttribute(env *Env, entity store.EntityID, e catalogs.EffectDef) error {
	name, amount, err := attributeParams(e)
	if err != nil {
		return err
	}
	if !env.Store.Exists(entity) {
		return fmt.Errorf("entity %d: %w", entity, store.ErrNoEntity)
	}
	attrs, err := jobs.LoadAttributes(env.Store, entity)
	if err != nil {
		return err
	}
	memo := attributeMemo{HadComponent: jobs.HasAttributes(env.Store, entity)}
	memo.Before, memo.Existed = attrs[name]
	attrs[name] = memo.Before + amount
	memo.After = attrs[name]
	if err := jobs.SaveAttributes(env.Store, entity, attrs); err != nil {
		return err
	}
	return env.Remember(memo)
}

// undoModifyAttribute restores the value seen before the effect when nothing
// else touched the attribute since; otherwise it subtracts the amount.
func undoModifyAttribute(env *Env, entity store.EntityID, e catalogs.EffectDef) error {
	name, amount, err := attributeParams(e)
	if err != nil {
		return err
	}
	if !env.Store.Exists(entity) {
		return fmt.Errorf("entity %d: %w", entity, store.ErrNoEntity)
	}
	attrs, err := jobs.LoadAttributes(env.Store, entity)
	if err != nil {
		return err
	}
	var memo attributeMemo
	found, err := env.Recall(&memo)
	if err != nil {
		return err
	}
	cur, has := attrs[name]
	switch {
	case !found || !has || cur != memo.After:
		attrs[name] = cur - amount
	case memo.Existed:
		attrs[name] = memo.Before
	default:
		delete(attrs, name)
	}
	if found && !memo.HadComponent && len(attrs) == 0 {
		return jobs.RemoveAttributes(env.Store, entity)
	}
	return jobs.SaveAttributes(env.Store, entity, attrs)
}

// params: {"kind": string, "amount": integer}; the entity must be a stockpile.
func addResource(env *Env, entity store.EntityID, e catalogs.EffectDef, sign int) error {
	kind, err := paramString(e.Params, "kind")
	if err != nil {
		return err
	}
	amount, err := paramFloat(e.Params, "amount")
	if err != nil {
		return err
	}
	sp, err := jobs.LoadStockpile(env.Store, entity)
	if err != nil {
		return err
	}
	next := sp.Resources[kind] + sign*int(amount)
	if next < 0 {
		return fmt.Errorf("stockpile %d: %s would go negative", entity, kind)
	}
	sp.Resources[kind] = next
	return jobs.SaveStockpile(env.Store, entity, sp)
}

func paramString(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("param %q: want non-empty string", key)
	}
	return v, nil
}

func paramFloat(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("param %q: want number", key)
}

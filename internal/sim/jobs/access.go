package jobs

import (
	"fmt"

	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/store"
)

func LoadJob(s store.Store, id store.EntityID) (Job, error) {
	j, ok, err := store.Load[Job](s, id, ComponentJob)
	if err != nil {
		return j, err
	}
	if !ok {
		return j, fmt.Errorf("entity %d: %w", id, ErrNotJob)
	}
	if !j.State.Known() {
		return j, fmt.Errorf("entity %d state %q: %w", id, j.State, ErrUnknownState)
	}
	return j, nil
}

func SaveJob(s store.Store, id store.EntityID, j Job) error {
	if !j.State.Known() {
		return fmt.Errorf("entity %d state %q: %w", id, j.State, ErrUnknownState)
	}
	return store.Save(s, id, ComponentJob, j)
}

func LoadAgent(s store.Store, id store.EntityID) (Agent, error) {
	a, ok, err := store.Load[Agent](s, id, ComponentAgent)
	if err != nil {
		return a, err
	}
	if !ok {
		return a, fmt.Errorf("entity %d: %w", id, ErrAgentNotPresent)
	}
	return a, nil
}

func SaveAgent(s store.Store, id store.EntityID, a Agent) error {
	return store.Save(s, id, ComponentAgent, a)
}

// PositionOf returns the cell of an entity with a Position component.
func PositionOf(s store.Store, id store.EntityID) (grid.Vec3i, bool, error) {
	p, ok, err := store.Load[Position](s, id, ComponentPosition)
	return p.Vec3i, ok, err
}

func SetPosition(s store.Store, id store.EntityID, p grid.Vec3i) error {
	return store.Save(s, id, ComponentPosition, Position{Vec3i: p})
}

func LoadStockpile(s store.Store, id store.EntityID) (Stockpile, error) {
	sp, err := store.MustLoad[Stockpile](s, id, ComponentStockpile)
	if err != nil {
		return sp, err
	}
	if sp.Resources == nil {
		sp.Resources = map[string]int{}
	}
	if sp.Reserved == nil {
		sp.Reserved = map[string]int{}
	}
	return sp, nil
}

func SaveStockpile(s store.Store, id store.EntityID, sp Stockpile) error {
	if sp.Resources == nil {
		sp.Resources = map[string]int{}
	}
	for k, v := range sp.Resources {
		if v == 0 {
			delete(sp.Resources, k)
		}
	}
	for k, v := range sp.Reserved {
		if v <= 0 {
			delete(sp.Reserved, k)
		}
	}
	return store.Save(s, id, ComponentStockpile, sp)
}

func LoadAttributes(s store.Store, id store.EntityID) (Attributes, error) {
	a, _, err := store.Load[Attributes](s, id, ComponentAttributes)
	if a == nil {
		a = Attributes{}
	}
	return a, err
}

// HasAttributes reports whether id carries an Attributes component.
func HasAttributes(s store.Store, id store.EntityID) bool {
	_, ok := s.Get(id, ComponentAttributes)
	return ok
}

// SaveAttributes stores a as given. A missing attribute reads as zero.
func SaveAttributes(s store.Store, id store.EntityID, a Attributes) error {
	return store.Save(s, id, ComponentAttributes, a)
}

// RemoveAttributes drops the Attributes component if present.
func RemoveAttributes(s store.Store, id store.EntityID) error {
	if !HasAttributes(s, id) {
		return nil
	}
	return s.Remove(id, ComponentAttributes)
}

// ResourceTotals sums resources over every stockpile.
func ResourceTotals(s store.Store) (map[string]int, error) {
	out := map[string]int{}
	for _, id := range s.With(ComponentStockpile) {
		sp, err := LoadStockpile(s, id)
		if err != nil {
			return nil, err
		}
		for k, v := range sp.Resources {
			out[k] += v
		}
	}
	return out, nil
}

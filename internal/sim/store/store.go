package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// EntityID identifies an entity. Zero means "no entity".
type EntityID uint64

var (
	ErrNoEntity    = errors.New("store: entity not found")
	ErrNoComponent = errors.New("store: component not found")
)

// Store is the component store the job engine reads and writes through.
// Values are JSON documents; callers use Load/Save for typed access.
type Store interface {
	Spawn() EntityID
	Despawn(id EntityID)
	Exists(id EntityID) bool

	Get(id EntityID, component string) (json.RawMessage, bool)
	Set(id EntityID, component string, value json.RawMessage) error
	Remove(id EntityID, component string) error

	// With returns all entities carrying component, sorted by id.
	With(component string) []EntityID
}

// MemStore is an in-memory Store. It is safe for concurrent use; the
// simulation loop is the only writer during a tick.
type MemStore struct {
	mu       sync.RWMutex
	next     EntityID
	entities map[EntityID]map[string]json.RawMessage
	schemas  *SchemaSet
}

func NewMemStore(schemas *SchemaSet) *MemStore {
	return &MemStore{
		next:     1,
		entities: map[EntityID]map[string]json.RawMessage{},
		schemas:  schemas,
	}
}

func (s *MemStore) Spawn() EntityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.entities[id] = map[string]json.RawMessage{}
	return id
}

func (s *MemStore) Despawn(id EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
}

func (s *MemStore) Exists(id EntityID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entities[id]
	return ok
}

func (s *MemStore) Get(id EntityID, component string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comps := s.entities[id]
	if comps == nil {
		return nil, false
	}
	v, ok := comps[component]
	return v, ok
}

func (s *MemStore) Set(id EntityID, component string, value json.RawMessage) error {
	if err := s.schemas.Validate(component, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	comps := s.entities[id]
	if comps == nil {
		return fmt.Errorf("set %s on %d: %w", component, id, ErrNoEntity)
	}
	cp := make(json.RawMessage, len(value))
	copy(cp, value)
	comps[component] = cp
	return nil
}

func (s *MemStore) Remove(id EntityID, component string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	comps := s.entities[id]
	if comps == nil {
		return fmt.Errorf("remove %s on %d: %w", component, id, ErrNoEntity)
	}
	if _, ok := comps[component]; !ok {
		return fmt.Errorf("remove %s on %d: %w", component, id, ErrNoComponent)
	}
	delete(comps, component)
	return nil
}

func (s *MemStore) With(component string) []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntityID, 0, 16)
	for id, comps := range s.entities {
		if _, ok := comps[component]; ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load decodes component of entity id into a T. The boolean reports presence.
func Load[T any](s Store, id EntityID, component string) (T, bool, error) {
	var v T
	raw, ok := s.Get(id, component)
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, true, fmt.Errorf("decode %s on %d: %w", component, id, err)
	}
	return v, true, nil
}

// MustLoad is Load that treats a missing component as ErrNoComponent.
func MustLoad[T any](s Store, id EntityID, component string) (T, error) {
	v, ok, err := Load[T](s, id, component)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("%s on %d: %w", component, id, ErrNoComponent)
	}
	return v, nil
}

// Save encodes v and stores it as component of entity id.
func Save(s Store, id EntityID, component string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s on %d: %w", component, id, err)
	}
	return s.Set(id, component, b)
}

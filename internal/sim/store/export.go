package store

import (
	"encoding/json"
	"sort"
)

// EntityRecord is the persisted form of one entity.
type EntityRecord struct {
	ID         EntityID                   `json:"id"`
	Components map[string]json.RawMessage `json:"components"`
}

// Export returns every entity sorted by id plus the next id to allocate.
func (s *MemStore) Export() (EntityID, []EntityRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntityRecord, 0, len(s.entities))
	for id, comps := range s.entities {
		rec := EntityRecord{ID: id, Components: make(map[string]json.RawMessage, len(comps))}
		for name, v := range comps {
			rec.Components[name] = append(json.RawMessage(nil), v...)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return s.next, out
}

// Import replaces the store contents. Records are not re-validated.
func (s *MemStore) Import(next EntityID, records []EntityRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[EntityID]map[string]json.RawMessage, len(records))
	maxID := EntityID(0)
	for _, rec := range records {
		comps := make(map[string]json.RawMessage, len(rec.Components))
		for name, v := range rec.Components {
			comps[name] = append(json.RawMessage(nil), v...)
		}
		s.entities[rec.ID] = comps
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}
	if next <= maxID {
		next = maxID + 1
	}
	s.next = next
}

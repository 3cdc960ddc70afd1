package store

import (
	"encoding/json"
	"errors"
	"testing"
)

type point struct {
	X int `json:"x"`
	Z int `json:"z"`
}

func TestMemStore_SpawnSetWith(t *testing.T) {
	s := NewMemStore(nil)
	a, b, c := s.Spawn(), s.Spawn(), s.Spawn()
	if a != 1 || b != 2 || c != 3 {
		t.Fatalf("ids=%d,%d,%d want 1,2,3", a, b, c)
	}
	for _, id := range []EntityID{c, a} {
		if err := Save(s, id, "Position", point{X: int(id)}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if got := s.With("Position"); len(got) != 2 || got[0] != a || got[1] != c {
		t.Fatalf("With=%v want [%d %d]", got, a, c)
	}

	s.Despawn(c)
	if s.Exists(c) {
		t.Fatalf("despawned entity still exists")
	}
	if err := Save(s, c, "Position", point{}); !errors.Is(err, ErrNoEntity) {
		t.Fatalf("save on despawned: %v", err)
	}
	if d := s.Spawn(); d != 4 {
		t.Fatalf("id reused: %d", d)
	}
}

func TestMemStore_SetCopiesValue(t *testing.T) {
	s := NewMemStore(nil)
	id := s.Spawn()
	raw := json.RawMessage(`{"x":1,"z":2}`)
	if err := s.Set(id, "Position", raw); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw[5] = '9'
	got, _ := s.Get(id, "Position")
	if string(got) != `{"x":1,"z":2}` {
		t.Fatalf("stored value aliased caller buffer: %s", got)
	}
}

func TestLoadAndMustLoad(t *testing.T) {
	s := NewMemStore(nil)
	id := s.Spawn()

	_, ok, err := Load[point](s, id, "Position")
	if ok || err != nil {
		t.Fatalf("missing: ok=%v err=%v", ok, err)
	}
	if _, err := MustLoad[point](s, id, "Position"); !errors.Is(err, ErrNoComponent) {
		t.Fatalf("MustLoad missing: %v", err)
	}

	if err := s.Set(id, "Position", json.RawMessage(`"nope"`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := Load[point](s, id, "Position"); !ok || err == nil {
		t.Fatalf("bad document: ok=%v err=%v", ok, err)
	}

	if err := Save(s, id, "Position", point{X: 3, Z: 4}); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := MustLoad[point](s, id, "Position")
	if err != nil || p != (point{X: 3, Z: 4}) {
		t.Fatalf("MustLoad=%+v err=%v", p, err)
	}

	if err := s.Remove(id, "Position"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(id, "Position"); !errors.Is(err, ErrNoComponent) {
		t.Fatalf("second remove: %v", err)
	}
}

func TestExportImport(t *testing.T) {
	src := NewMemStore(nil)
	a := src.Spawn()
	b := src.Spawn()
	gone := src.Spawn()
	src.Despawn(gone)
	_ = Save(src, b, "Position", point{X: 1})
	_ = Save(src, a, "Tag", "first")

	next, recs := src.Export()
	if next != 4 || len(recs) != 2 || recs[0].ID != a || recs[1].ID != b {
		t.Fatalf("export next=%d recs=%+v", next, recs)
	}

	dst := NewMemStore(nil)
	dst.Import(next, recs)
	if got, _ := dst.Get(b, "Position"); string(got) != `{"x":1,"z":0}` {
		t.Fatalf("imported Position=%s", got)
	}
	if id := dst.Spawn(); id != 4 {
		t.Fatalf("next id after import=%d want 4", id)
	}

	// A stale next id never hands out a live id.
	dst2 := NewMemStore(nil)
	dst2.Import(1, recs)
	if id := dst2.Spawn(); id != 3 {
		t.Fatalf("next id=%d want 3", id)
	}
}

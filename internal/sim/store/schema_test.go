package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

const schemaDir = "../../../configs/schemas"

func TestLoadSchemas_ConfigDir(t *testing.T) {
	set, err := LoadSchemas(schemaDir)
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	names := set.Names()
	want := []string{"Agent", "Attributes", "Item", "Job", "Position", "Stockpile"}
	if len(names) != len(want) {
		t.Fatalf("names=%v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names=%v want %v", names, want)
		}
	}

	cases := []struct {
		component string
		doc       string
		ok        bool
	}{
		{"Stockpile", `{"resources":{"wood":3}}`, true},
		{"Stockpile", `{"resources":{"wood":-1}}`, false},
		{"Stockpile", `{"reserved":{"wood":1}}`, false},
		{"Job", `{"job_type":"haul","state":"pending","priority":0,"progress":0}`, true},
		{"Job", `{"job_type":"haul","state":"sleeping","priority":0,"progress":0}`, false},
		{"Position", `{"x":-1,"z":0}`, false},
		{"Unschemed", `{"anything":true}`, true},
	}
	for _, tc := range cases {
		err := set.Validate(tc.component, json.RawMessage(tc.doc))
		if (err == nil) != tc.ok {
			t.Fatalf("%s %s: err=%v want ok=%v", tc.component, tc.doc, err, tc.ok)
		}
	}
}

func TestMemStore_RejectsInvalidComponent(t *testing.T) {
	set, err := LoadSchemas(schemaDir)
	if err != nil {
		t.Fatalf("LoadSchemas: %v", err)
	}
	s := NewMemStore(set)
	id := s.Spawn()
	if err := s.Set(id, "Stockpile", json.RawMessage(`{"resources":{"wood":-5}}`)); err == nil {
		t.Fatalf("negative stock accepted")
	}
	if _, ok := s.Get(id, "Stockpile"); ok {
		t.Fatalf("rejected document was stored")
	}
}

func TestSchemaSet_AddStringAndEmpty(t *testing.T) {
	var nilSet *SchemaSet
	if err := nilSet.Validate("Job", json.RawMessage(`42`)); err != nil {
		t.Fatalf("nil set validated: %v", err)
	}

	set, err := LoadSchemas(filepath.Join(t.TempDir(), "missing"))
	if err != nil || len(set.Names()) != 0 {
		t.Fatalf("missing dir: names=%v err=%v", set.Names(), err)
	}
	if err := set.AddString("Tag", `{"type":"string"}`); err != nil {
		t.Fatalf("AddString: %v", err)
	}
	if err := set.Validate("Tag", json.RawMessage(`1`)); err == nil {
		t.Fatalf("number accepted as Tag")
	}
	if err := set.Validate("Tag", json.RawMessage(`"ok"`)); err != nil {
		t.Fatalf("string rejected: %v", err)
	}
	if err := set.AddString("Broken", `{"type":`); err == nil {
		t.Fatalf("broken schema compiled")
	}
}

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaSuffix = ".schema.json"

// SchemaSet maps component names to compiled JSON schemas.
// A nil *SchemaSet validates nothing.
type SchemaSet struct {
	byName map[string]*jsonschema.Schema
}

// LoadSchemas compiles every <Component>.schema.json file in dir.
// A missing directory yields an empty set.
func LoadSchemas(dir string) (*SchemaSet, error) {
	set := &SchemaSet{byName: map[string]*jsonschema.Schema{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), schemaSuffix) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		s, err := jsonschema.Compile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		set.byName[strings.TrimSuffix(name, schemaSuffix)] = s
	}
	return set, nil
}

// AddString compiles an inline schema for component.
func (s *SchemaSet) AddString(component, schema string) error {
	if s.byName == nil {
		s.byName = map[string]*jsonschema.Schema{}
	}
	c, err := jsonschema.CompileString(component+schemaSuffix, schema)
	if err != nil {
		return fmt.Errorf("schema %s: %w", component, err)
	}
	s.byName[component] = c
	return nil
}

func (s *SchemaSet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.byName))
	for name := range s.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks raw against the schema registered for component, if any.
func (s *SchemaSet) Validate(component string, raw json.RawMessage) error {
	if s == nil {
		return nil
	}
	sch := s.byName[component]
	if sch == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("component %s: %w", component, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("component %s: %w", component, err)
	}
	return nil
}

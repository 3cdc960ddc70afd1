package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Catalogs struct {
	JobTypes  JobTypeCatalog
	Resources ResourceCatalog
}

type JobTypeCatalog struct {
	ByName map[string]JobTypeDef
	Digest string
}

// JobTypeDef is the declarative half of a job type. It is immutable once loaded.
type JobTypeDef struct {
	Name         string           `json:"name"`
	Requirements []ResourceAmount `json:"requirements,omitempty"`
	Duration     float64          `json:"duration"`
	Effects      []EffectDef      `json:"effects,omitempty"`

	// Produces lists resource kinds the job yields; used for shortage boosts.
	Produces []string `json:"produces,omitempty"`
	// Specialization, if set, restricts claims to agents that have it.
	Specialization string `json:"specialization,omitempty"`
	// Handler names the registered handler; empty means the job type name.
	Handler string `json:"handler,omitempty"`
}

type ResourceAmount struct {
	Kind   string `json:"kind"`
	Amount int    `json:"amount"`
}

type EffectDef struct {
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Condition *Condition     `json:"condition,omitempty"`
	Effects   []EffectDef    `json:"effects,omitempty"`
}

// Condition is a numeric comparison against a world aggregate or an entity attribute.
type Condition struct {
	Source string  `json:"source"` // "world" or "entity"
	Key    string  `json:"key"`
	Op     string  `json:"op"` // "<","<=",">",">=","==","!="
	Value  float64 `json:"value"`
}

type ResourceCatalog struct {
	ByKind map[string]ResourceDef
	Digest string
}

type ResourceDef struct {
	Kind      string  `json:"kind"`
	Weight    float64 `json:"weight"`
	Volume    float64 `json:"volume"`
	StackSize int     `json:"stack_size"`
}

// Def returns the definition for kind, defaulting unknown kinds to unit weight/volume
// and a stack size of 1.
func (c ResourceCatalog) Def(kind string) ResourceDef {
	if d, ok := c.ByKind[kind]; ok {
		return d
	}
	return ResourceDef{Kind: kind, Weight: 1, Volume: 1, StackSize: 1}
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadJobTypes(filepath.Join(configDir, "job_types"), &c.JobTypes); err != nil {
		return nil, err
	}
	if err := loadResources(filepath.Join(configDir, "resources.json"), &c.Resources); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadJobTypes(dir string, out *JobTypeCatalog) error {
	out.ByName = map[string]JobTypeDef{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		var def JobTypeDef
		if err := json.Unmarshal(b, &def); err != nil {
			return fmt.Errorf("job type %s: %w", filepath.Base(p), err)
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("job type %s: %w", filepath.Base(p), err)
		}
		if _, dup := out.ByName[def.Name]; dup {
			return fmt.Errorf("job type %s: duplicate name %q", filepath.Base(p), def.Name)
		}
		out.ByName[def.Name] = def
	}
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}

func loadResources(path string, out *ResourceCatalog) error {
	out.ByKind = map[string]ResourceDef{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ResourceDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("resources.json: %w", err)
	}
	for _, d := range defs {
		if d.Kind == "" {
			return fmt.Errorf("resources.json: empty kind")
		}
		if d.StackSize <= 0 {
			d.StackSize = 1
		}
		out.ByKind[d.Kind] = d
	}
	return nil
}

// Validate checks the structural rules for a job type definition.
func (d JobTypeDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("missing name")
	}
	if d.Duration < 0 {
		return fmt.Errorf("negative duration")
	}
	for _, r := range d.Requirements {
		if r.Kind == "" || r.Amount <= 0 {
			return fmt.Errorf("bad requirement %+v", r)
		}
	}
	return validateEffects(d.Effects)
}

func validateEffects(effects []EffectDef) error {
	for i, e := range effects {
		if e.Action == "" {
			return fmt.Errorf("effect %d: missing action", i)
		}
		if c := e.Condition; c != nil {
			if c.Source != "world" && c.Source != "entity" {
				return fmt.Errorf("effect %d: bad condition source %q", i, c.Source)
			}
			switch c.Op {
			case "<", "<=", ">", ">=", "==", "!=":
			default:
				return fmt.Errorf("effect %d: bad condition op %q", i, c.Op)
			}
		}
		if err := validateEffects(e.Effects); err != nil {
			return fmt.Errorf("effect %d: %w", i, err)
		}
	}
	return nil
}

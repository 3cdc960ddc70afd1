package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/deps"
	"colonysim.ai/internal/sim/store"
)

// Scenario seeds a fresh world: map, stockpiles, agents and initial jobs.
// Entities are referenced by name within the file.
type Scenario struct {
	Grid       GridSpec        `yaml:"grid"`
	Stockpiles []StockpileSpec `yaml:"stockpiles"`
	Agents     []AgentSpec     `yaml:"agents"`
	Jobs       []JobSpec       `yaml:"jobs"`
}

type GridSpec struct {
	Width int      `yaml:"width"`
	Depth int      `yaml:"depth"`
	Solid [][2]int `yaml:"solid"`
	Costs []struct {
		At   [2]int `yaml:"at"`
		Cost int    `yaml:"cost"`
	} `yaml:"costs"`
}

type StockpileSpec struct {
	Name       string             `yaml:"name"`
	Pos        [2]int             `yaml:"pos"`
	Resources  map[string]int     `yaml:"resources"`
	Attributes map[string]float64 `yaml:"attributes"`
}

type AgentSpec struct {
	Name            string         `yaml:"name"`
	Pos             [2]int         `yaml:"pos"`
	Specializations []string       `yaml:"specializations"`
	Skills          map[string]int `yaml:"skills"`
	Capacity        *CapacitySpec  `yaml:"capacity"`
}

type CapacitySpec struct {
	MaxWeight float64 `yaml:"max_weight"`
	MaxVolume float64 `yaml:"max_volume"`
	MaxSlots  int     `yaml:"max_slots"`
}

type JobSpec struct {
	Name         string                `yaml:"name"`
	Type         string                `yaml:"type"`
	Priority     int                   `yaml:"priority"`
	Target       *[2]int               `yaml:"target"`
	Requirements []jobs.ResourceAmount `yaml:"requirements"`
	DependsOn    []string              `yaml:"depends_on"`
	EffectTarget string                `yaml:"effect_target"`
	Attributes   map[string]float64    `yaml:"attributes"`
	OnDepFailed  []JobSpec             `yaml:"on_dependency_failed_spawn"`
}

func Load(path string) (Scenario, error) {
	var sc Scenario
	raw, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return sc, fmt.Errorf("scenario %s: %w", path, err)
	}
	if sc.Grid.Width <= 0 || sc.Grid.Depth <= 0 {
		return sc, fmt.Errorf("scenario %s: grid width/depth must be > 0", path)
	}
	return sc, nil
}

// NewGrid builds the scenario's map.
func (sc Scenario) NewGrid() *grid.Grid {
	g := grid.New(sc.Grid.Width, sc.Grid.Depth)
	for _, p := range sc.Grid.Solid {
		g.SetSolid(cell(p), true)
	}
	for _, c := range sc.Grid.Costs {
		g.SetCost(cell(c.At), c.Cost)
	}
	return g
}

// Apply spawns the scenario's entities into s and returns them by name. Job
// types are resolved against reg.
func (sc Scenario) Apply(s store.Store, reg *jobs.Registry) (map[string]store.EntityID, error) {
	names := map[string]store.EntityID{}
	claim := func(name string, id store.EntityID) error {
		if name == "" {
			return nil
		}
		if _, dup := names[name]; dup {
			return fmt.Errorf("scenario: duplicate name %q", name)
		}
		names[name] = id
		return nil
	}

	for _, sp := range sc.Stockpiles {
		id := s.Spawn()
		if err := claim(sp.Name, id); err != nil {
			return names, err
		}
		if err := jobs.SaveStockpile(s, id, jobs.Stockpile{Resources: sp.Resources}); err != nil {
			return names, fmt.Errorf("stockpile %q: %w", sp.Name, err)
		}
		if err := jobs.SetPosition(s, id, cell(sp.Pos)); err != nil {
			return names, err
		}
		if len(sp.Attributes) > 0 {
			if err := jobs.SaveAttributes(s, id, sp.Attributes); err != nil {
				return names, err
			}
		}
	}

	for _, a := range sc.Agents {
		id := s.Spawn()
		if err := claim(a.Name, id); err != nil {
			return names, err
		}
		agent := jobs.Agent{
			State:           jobs.AgentIdle,
			Specializations: a.Specializations,
			Skills:          a.Skills,
		}
		if c := a.Capacity; c != nil {
			agent.Capacity = &jobs.Capacity{MaxWeight: c.MaxWeight, MaxVolume: c.MaxVolume, MaxSlots: c.MaxSlots}
		}
		if err := jobs.SaveAgent(s, id, agent); err != nil {
			return names, fmt.Errorf("agent %q: %w", a.Name, err)
		}
		if err := jobs.SetPosition(s, id, cell(a.Pos)); err != nil {
			return names, err
		}
	}

	// Spawn all jobs first so dependencies may point forward.
	ids := make([]store.EntityID, len(sc.Jobs))
	for i, j := range sc.Jobs {
		ids[i] = s.Spawn()
		if err := claim(j.Name, ids[i]); err != nil {
			return names, err
		}
	}
	for i, j := range sc.Jobs {
		t, err := j.template(names)
		if err != nil {
			return names, err
		}
		def, ok := reg.Def(j.Type)
		if !ok {
			return names, fmt.Errorf("job %q type %q: %w", j.Name, j.Type, jobs.ErrUnknownJobType)
		}
		if err := deps.ValidateTemplates(reg, t.OnDependencyFailedSpawn); err != nil {
			return names, fmt.Errorf("job %q on_dependency_failed_spawn: %w", j.Name, err)
		}
		job := jobs.NewJob(t, def, 0)
		if err := jobs.SaveJob(s, ids[i], job); err != nil {
			return names, fmt.Errorf("job %q: %w", j.Name, err)
		}
		if len(j.Attributes) > 0 {
			if err := jobs.SaveAttributes(s, ids[i], j.Attributes); err != nil {
				return names, err
			}
		}
	}
	return names, nil
}

func (j JobSpec) template(names map[string]store.EntityID) (jobs.Template, error) {
	t := jobs.Template{
		JobType:              j.Type,
		Priority:             j.Priority,
		ResourceRequirements: j.Requirements,
	}
	if j.Target != nil {
		p := cell(*j.Target)
		t.TargetPosition = &p
	}
	for _, dep := range j.DependsOn {
		id, ok := names[dep]
		if !ok {
			return t, fmt.Errorf("job %q: unknown dependency %q", j.Name, dep)
		}
		t.Dependencies = append(t.Dependencies, id)
	}
	if j.EffectTarget != "" {
		id, ok := names[j.EffectTarget]
		if !ok {
			return t, fmt.Errorf("job %q: unknown effect target %q", j.Name, j.EffectTarget)
		}
		t.EffectTarget = id
	}
	for _, c := range j.OnDepFailed {
		ct, err := c.template(names)
		if err != nil {
			return t, err
		}
		t.OnDependencyFailedSpawn = append(t.OnDependencyFailedSpawn, ct)
	}
	return t, nil
}

func cell(p [2]int) grid.Vec3i { return grid.Vec3i{X: p[0], Z: p[1]} }

package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`

	Board    Board    `yaml:"board" json:"board"`
	Capacity Capacity `yaml:"default_capacity" json:"default_capacity"`

	// ShortageThresholds flags a resource kind as scarce while the world
	// total across stockpiles is below the threshold.
	ShortageThresholds map[string]int `yaml:"shortage_thresholds" json:"shortage_thresholds,omitempty"`

	// CancelMaxPasses caps forced-terminal passes during a cancellation cascade.
	CancelMaxPasses int `yaml:"cancel_max_passes" json:"cancel_max_passes"`
}

type Board struct {
	Policy        string `yaml:"policy" json:"policy"` // priority|fifo|lifo
	AgingTicks    int    `yaml:"aging_ticks" json:"aging_ticks"`
	ShortageBoost int    `yaml:"shortage_boost" json:"shortage_boost"`
	Preemption    bool   `yaml:"preemption" json:"preemption"`
}

type Capacity struct {
	MaxWeight float64 `yaml:"max_weight" json:"max_weight"`
	MaxVolume float64 `yaml:"max_volume" json:"max_volume"`
	MaxSlots  int     `yaml:"max_slots" json:"max_slots"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         5,
		SnapshotEveryTicks: 3000,
		Board: Board{
			Policy:        "priority",
			AgingTicks:    10,
			ShortageBoost: 1000,
		},
		Capacity: Capacity{
			MaxWeight: 50,
			MaxVolume: 50,
			MaxSlots:  4,
		},
		CancelMaxPasses: 8,
	}
}

// Load reads a tuning file on top of Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.Board.AgingTicks <= 0 {
		return fmt.Errorf("board.aging_ticks must be > 0")
	}
	switch t.Board.Policy {
	case "", "priority", "fifo", "lifo":
	default:
		return fmt.Errorf("board.policy: unknown %q", t.Board.Policy)
	}
	if t.CancelMaxPasses <= 0 {
		return fmt.Errorf("cancel_max_passes must be > 0")
	}
	return nil
}

package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ConfigFile(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.TickRateHz != 5 || tu.Board.Policy != "priority" || tu.Board.AgingTicks != 10 {
		t.Fatalf("tuning=%+v", tu)
	}
	if tu.ShortageThresholds["food"] != 10 || tu.ShortageThresholds["wood"] != 5 {
		t.Fatalf("thresholds=%v", tu.ShortageThresholds)
	}
	if tu.Capacity.MaxSlots != 4 {
		t.Fatalf("capacity=%+v", tu.Capacity)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("board:\n  policy: lifo\n  aging_ticks: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Defaults()
	if tu.Board.Policy != "lifo" || tu.Board.AgingTicks != 3 {
		t.Fatalf("board=%+v", tu.Board)
	}
	if tu.TickRateHz != d.TickRateHz || tu.CancelMaxPasses != d.CancelMaxPasses || tu.Capacity != d.Capacity {
		t.Fatalf("defaults lost: %+v", tu)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Tuning)
	}{
		{"tick rate", func(t *Tuning) { t.TickRateHz = 0 }},
		{"aging", func(t *Tuning) { t.Board.AgingTicks = -1 }},
		{"policy", func(t *Tuning) { t.Board.Policy = "random" }},
		{"cancel passes", func(t *Tuning) { t.CancelMaxPasses = 0 }},
	}
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tu := Defaults()
			tc.mutate(&tu)
			if err := tu.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("err=%v want not-exist", err)
	}
}

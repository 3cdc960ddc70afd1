package worldtest

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSnapshotExportImport_RoundTripDigest(t *testing.T) {
	h := NewHarness(t, "scenario.yaml")
	h.StepN(25)

	tick, snap := h.Snapshot()
	if snap.Header.Tick != tick {
		t.Fatalf("snapshot tick=%d want %d", snap.Header.Tick, tick)
	}

	h2 := NewHarnessFromSnapshot(t, snap, nil)
	if got, want := h2.W.CurrentTick(), h.W.CurrentTick(); got != want {
		t.Fatalf("restored tick=%d want %d", got, want)
	}
	_, snap2 := h2.Snapshot()
	b1, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b2, err := json.Marshal(snap2)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("re-exported snapshot differs")
	}

	for i := 0; i < 100; i++ {
		d1 := h.Step()
		d2 := h2.Step()
		if d1 != d2 {
			t.Fatalf("digest diverged %d ticks after import", i)
		}
	}
}

func TestSnapshotImport_KeepsGridVersion(t *testing.T) {
	h := NewHarness(t, "scenario.yaml")
	h.Step()
	_, snap := h.Snapshot()

	h2 := NewHarnessFromSnapshot(t, snap, nil)
	if got, want := h2.W.Grid().Version(), h.W.Grid().Version(); got != want {
		t.Fatalf("grid version=%d want %d", got, want)
	}
	w, d := h2.W.Grid().Size()
	if w != 16 || d != 16 {
		t.Fatalf("grid size=%dx%d", w, d)
	}
}

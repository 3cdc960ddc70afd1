package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate      int    `json:"tick_rate_hz"`
	BoardPolicy   string `json:"board_policy"`
	AgingTicks    int    `json:"aging_ticks"`
	ShortageBoost int    `json:"shortage_boost"`
	Preemption    bool   `json:"preemption,omitempty"`

	// Catalog digests the entities were produced under.
	JobTypesDigest  string `json:"job_types_digest,omitempty"`
	ResourcesDigest string `json:"resources_digest,omitempty"`

	Grid GridV1 `json:"grid"`

	NextEntity uint64     `json:"next_entity"`
	Entities   []EntityV1 `json:"entities"`
}

type GridV1 struct {
	Width   int          `json:"width"`
	Depth   int          `json:"depth"`
	Version uint64       `json:"version"`
	Solid   [][2]int     `json:"solid,omitempty"`
	Costs   []CellCostV1 `json:"costs,omitempty"`
}

type CellCostV1 struct {
	X    int `json:"x"`
	Z    int `json:"z"`
	Cost int `json:"cost"`
}

// EntityV1 holds one entity's components as raw JSON keyed by component name.
type EntityV1 struct {
	ID         uint64            `json:"id"`
	Components map[string][]byte `json:"components"`
}

// Count returns how many entities carry component name.
func (s SnapshotV1) Count(component string) int {
	n := 0
	for _, e := range s.Entities {
		if _, ok := e.Components[component]; ok {
			n++
		}
	}
	return n
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line duplicates the gob header.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d: unsupported", snap.Header.Version)
	}
	return snap, nil
}

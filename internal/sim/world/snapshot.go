package world

import (
	"encoding/json"
	"fmt"

	"colonysim.ai/internal/persistence/snapshot"
	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs/board"
	"colonysim.ai/internal/sim/store"
)

// ExportSnapshot captures the store, the grid and the scheduling parameters
// at tick. The board's candidate list is rebuilt every tick and is not saved.
func (w *World) ExportSnapshot(tick uint64) snapshot.SnapshotV1 {
	next, recs := w.svc.Store.Export()
	width, depth := w.svc.Grid.Size()
	solid, costs := w.svc.Grid.Cells()

	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Tick: tick},
		TickRate:      w.cfg.TickRateHz,
		BoardPolicy:   string(w.board.Policy()),
		AgingTicks:    w.cfg.Board.AgingTicks,
		ShortageBoost: w.cfg.Board.ShortageBoost,
		Preemption:    w.cfg.Board.Preemption,
		Grid: snapshot.GridV1{
			Width:   width,
			Depth:   depth,
			Version: w.svc.Grid.Version(),
		},
		NextEntity: uint64(next),
		Entities:   make([]snapshot.EntityV1, 0, len(recs)),
	}
	if c := w.svc.Catalogs; c != nil {
		snap.JobTypesDigest = c.JobTypes.Digest
		snap.ResourcesDigest = c.Resources.Digest
	}
	for _, p := range solid {
		snap.Grid.Solid = append(snap.Grid.Solid, [2]int{p.X, p.Z})
	}
	for _, c := range costs {
		snap.Grid.Costs = append(snap.Grid.Costs, snapshot.CellCostV1{X: c.Cell.X, Z: c.Cell.Z, Cost: c.Cost})
	}
	for _, r := range recs {
		e := snapshot.EntityV1{ID: uint64(r.ID), Components: make(map[string][]byte, len(r.Components))}
		for name, raw := range r.Components {
			e.Components[name] = []byte(raw)
		}
		snap.Entities = append(snap.Entities, e)
	}
	return snap
}

// ImportSnapshot replaces the world state with snap. The next tick simulated
// is snap's tick plus one.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version: %d", snap.Header.Version)
	}
	if snap.Header.WorldID != "" && snap.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world id mismatch: world=%s snap=%s", w.cfg.ID, snap.Header.WorldID)
	}
	if c := w.svc.Catalogs; c != nil && snap.JobTypesDigest != "" && snap.JobTypesDigest != c.JobTypes.Digest {
		w.log.Printf("snapshot job type digest differs from loaded catalog")
	}
	policy, err := board.ParsePolicy(snap.BoardPolicy)
	if err != nil {
		return err
	}

	recs := make([]store.EntityRecord, 0, len(snap.Entities))
	for _, e := range snap.Entities {
		r := store.EntityRecord{ID: store.EntityID(e.ID), Components: make(map[string]json.RawMessage, len(e.Components))}
		for name, raw := range e.Components {
			r.Components[name] = json.RawMessage(raw)
		}
		recs = append(recs, r)
	}

	solid := make([]grid.Vec3i, 0, len(snap.Grid.Solid))
	for _, p := range snap.Grid.Solid {
		solid = append(solid, grid.Vec3i{X: p[0], Z: p[1]})
	}
	costs := make([]grid.CellCost, 0, len(snap.Grid.Costs))
	for _, c := range snap.Grid.Costs {
		costs = append(costs, grid.CellCost{Cell: grid.Vec3i{X: c.X, Z: c.Z}, Cost: c.Cost})
	}

	w.svc.Store.Import(store.EntityID(snap.NextEntity), recs)
	w.svc.Grid = grid.Restore(snap.Grid.Width, snap.Grid.Depth, solid, costs, snap.Grid.Version)
	if snap.TickRate > 0 {
		w.cfg.TickRateHz = snap.TickRate
	}
	w.cfg.Board.Policy = policy
	if snap.AgingTicks > 0 {
		w.cfg.Board.AgingTicks = snap.AgingTicks
	}
	w.cfg.Board.ShortageBoost = snap.ShortageBoost
	w.cfg.Board.Preemption = snap.Preemption
	w.board = board.New(w.cfg.Board)
	w.wire()
	w.tick.Store(snap.Header.Tick + 1)
	return nil
}

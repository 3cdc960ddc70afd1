package world

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"colonysim.ai/internal/persistence/snapshot"
	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/grid"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/board"
	"colonysim.ai/internal/sim/jobs/effects"
	"colonysim.ai/internal/sim/jobs/machine"
	"colonysim.ai/internal/sim/jobs/resources"
	"colonysim.ai/internal/sim/store"
	"colonysim.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int
	Board              board.Config
	Capacity           jobs.Capacity
	CancelMaxPasses    int
}

func ConfigFromTuning(id string, t tuning.Tuning) (WorldConfig, error) {
	bc, err := board.ConfigFromTuning(t)
	if err != nil {
		return WorldConfig{}, err
	}
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		Board:              bc,
		Capacity: jobs.Capacity{
			MaxWeight: t.Capacity.MaxWeight,
			MaxVolume: t.Capacity.MaxVolume,
			MaxSlots:  t.Capacity.MaxSlots,
		},
		CancelMaxPasses: t.CancelMaxPasses,
	}, nil
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 5
	}
	if c.CancelMaxPasses <= 0 {
		c.CancelMaxPasses = 8
	}
	if c.Board.Policy == "" {
		c.Board.Policy = board.PolicyPriority
	}
	if c.Board.AgingTicks <= 0 {
		c.Board.AgingTicks = 10
	}
}

// Services are the process-scoped collaborators a world runs against. They
// are built once at startup and shared by reference.
type Services struct {
	Store     *store.MemStore
	Grid      *grid.Grid
	Types     *jobs.Registry
	Effects   *effects.Registry
	Resources catalogs.ResourceCatalog

	// Optional.
	Catalogs *catalogs.Catalogs
	Meter    metric.Meter
	Logger   *log.Logger
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick          uint64              `json:"tick"`
	Controls      []RecordedControl   `json:"controls,omitempty"`
	Notifications []jobs.Notification `json:"notifications,omitempty"`
	Jobs          map[jobs.State]int  `json:"jobs"`
	Digest        string              `json:"digest"`
}

// World is a single-threaded job simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg WorldConfig
	svc Services
	log *log.Logger

	tick atomic.Uint64

	board   *board.Board
	machine *machine.Machine
	ops     *resources.Ops
	events  *jobs.Events

	control       chan ControlRequest
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	stop          chan struct{}

	observers map[string]*observerClient

	// Optional logger (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	metrics *worldMetrics
	last    atomic.Pointer[WorldMetrics]
}

func New(cfg WorldConfig, svc Services) (*World, error) {
	cfg.applyDefaults()
	if svc.Store == nil || svc.Grid == nil || svc.Types == nil || svc.Effects == nil {
		return nil, fmt.Errorf("world: store, grid, job types and effects are required")
	}
	if svc.Logger == nil {
		svc.Logger = log.New(io.Discard, "", 0)
	}
	m, err := newWorldMetrics(svc.Meter)
	if err != nil {
		return nil, fmt.Errorf("world: metrics: %w", err)
	}

	w := &World{
		cfg:           cfg,
		svc:           svc,
		log:           svc.Logger,
		board:         board.New(cfg.Board),
		events:        jobs.NewEvents(),
		control:       make(chan ControlRequest, 256),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
		metrics:       m,
	}
	w.wire()
	w.last.Store(&WorldMetrics{})
	return w, nil
}

// wire (re)builds the components that hold the grid and store.
func (w *World) wire() {
	w.ops = &resources.Ops{
		Store:     w.svc.Store,
		Map:       w.svc.Grid,
		Resources: w.svc.Resources,
		Capacity:  w.cfg.Capacity,
	}
	w.machine = &machine.Machine{
		Store:   w.svc.Store,
		Types:   w.svc.Types,
		Effects: effects.NewProcessor(w.svc.Effects),
		Ops:     w.ops,
		Map:     w.svc.Grid,
		Events:  w.events,
		Logger:  w.log,
	}
}

func (w *World) boardEnv() *board.Env {
	return &board.Env{Store: w.svc.Store, Types: w.svc.Types, Events: w.events, Ops: w.ops}
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Control() chan<- ControlRequest           { return w.control }
func (w *World) ObserverJoin() chan<- ObserverJoinRequest { return w.observerJoin }
func (w *World) ObserverLeave() chan<- string             { return w.observerLeave }
func (w *World) Config() WorldConfig                      { return w.cfg }
func (w *World) Store() store.Store                       { return w.svc.Store }
func (w *World) Grid() *grid.Grid                         { return w.svc.Grid }
func (w *World) Board() *board.Board                      { return w.board }
func (w *World) JobTypes() []string                       { return w.svc.Types.Names() }
func (w *World) CurrentTick() uint64                      { return w.tick.Load() }
func (w *World) Metrics() WorldMetrics                    { return *w.last.Load() }

// Notifications returns the batch published at the end of the last tick.
func (w *World) Notifications() []jobs.Notification { return w.events.Ready() }

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingControl []ControlRequest

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.control:
			pendingControl = append(pendingControl, req)
		case <-ticker.C:
			if err := w.stepInternal(pendingControl); err != nil {
				return err
			}
			pendingControl = pendingControl[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"colonysim.ai/internal/persistence/snapshot"
	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/store"
	"colonysim.ai/internal/sim/tuning"
	"colonysim.ai/internal/sim/world"
)

// SQLiteIndex is a queryable secondary index over the tick log. Writes are
// queued and applied in batches by a single goroutine.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	Entities   int
	Jobs       int
	Agents     int
	Stockpiles int
}

// NotificationRow is one indexed job notification.
type NotificationRow struct {
	Tick    uint64
	Seq     int
	Kind    string
	Entity  store.EntityID
	JobType string
	State   string
	Agent   store.EntityID
	Reason  string
}

// SnapshotRow describes one recorded snapshot file.
type SnapshotRow struct {
	Tick       uint64
	Path       string
	Entities   int
	Jobs       int
	Agents     int
	Stockpiles int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			controls INTEGER NOT NULL,
			notifications INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			entity INTEGER NOT NULL,
			job_type TEXT NOT NULL,
			state TEXT NOT NULL,
			agent INTEGER NOT NULL,
			reason TEXT,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_entity_tick ON notifications(entity, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_kind_tick ON notifications(kind, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			entities INTEGER NOT NULL,
			jobs INTEGER NOT NULL,
			agents INTEGER NOT NULL,
			stockpiles INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped counts writes discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// The JSONL tick log remains the source of truth.
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		Entities:   len(snap.Entities),
		Jobs:       snap.Count(jobs.ComponentJob),
		Agents:     snap.Count(jobs.ComponentAgent),
		Stockpiles: snap.Count(jobs.ComponentStockpile),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropped.Add(1)
	}
}

// Flush blocks until every write queued before it is committed.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

// UpsertCatalogs stores the loaded job type and resource catalogs plus the
// applied tuning, each with its digest.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if cats != nil {
		if b, _ := json.Marshal(sortedJobTypes(cats.JobTypes)); len(b) > 0 {
			rows = append(rows, kv{name: "job_types", digest: cats.JobTypes.Digest, json: b})
		}
		if configDir != "" {
			if b, err := os.ReadFile(filepath.Join(configDir, "resources.json")); err == nil {
				rows = append(rows, kv{name: "resources", digest: cats.Resources.Digest, json: b})
			}
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func sortedJobTypes(c catalogs.JobTypeCatalog) []catalogs.JobTypeDef {
	out := make([]catalogs.JobTypeDef, 0, len(c.ByName))
	for _, def := range c.ByName {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// JobHistory returns the notifications recorded for a job, oldest first.
func (s *SQLiteIndex) JobHistory(ctx context.Context, entity store.EntityID) ([]NotificationRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick,seq,kind,entity,job_type,state,agent,COALESCE(reason,'') FROM notifications WHERE entity=? ORDER BY tick,seq`,
		int64(entity))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NotificationRow
	for rows.Next() {
		var (
			r              NotificationRow
			tick, ent, agt int64
		)
		if err := rows.Scan(&tick, &r.Seq, &r.Kind, &ent, &r.JobType, &r.State, &agt, &r.Reason); err != nil {
			return nil, err
		}
		r.Tick, r.Entity, r.Agent = uint64(tick), store.EntityID(ent), store.EntityID(agt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the most recent recorded snapshot, if any.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (SnapshotRow, bool, error) {
	var (
		r    SnapshotRow
		tick int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tick,path,entities,jobs,agents,stockpiles FROM snapshots ORDER BY tick DESC LIMIT 1`,
	).Scan(&tick, &r.Path, &r.Entities, &r.Jobs, &r.Agents, &r.Stockpiles)
	if err == sql.ErrNoRows {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	r.Tick = uint64(tick)
	return r, true, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,controls,notifications,raw_json) VALUES(?,?,?,?,?)`)
	insertNote, _ := s.db.Prepare(`INSERT OR REPLACE INTO notifications(tick,seq,kind,entity,job_type,state,agent,reason) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,entities,jobs,agents,stockpiles) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertNote, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			if insertTick == nil || insertNote == nil {
				continue
			}
			b, _ := json.Marshal(r.tick)
			if _, err := tx.Stmt(insertTick).Exec(
				int64(r.tick.Tick),
				r.tick.Digest,
				len(r.tick.Controls),
				len(r.tick.Notifications),
				string(b),
			); err != nil {
				rollback()
				continue
			}
			opCount++
			for i, n := range r.tick.Notifications {
				if _, err := tx.Stmt(insertNote).Exec(
					int64(r.tick.Tick),
					i,
					string(n.Kind),
					int64(n.Entity),
					n.JobType,
					string(n.State),
					int64(n.Agent),
					n.Reason,
				); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqSnapshot:
			if insertSnapshot == nil {
				continue
			}
			sn := r.snapshot
			if _, err := tx.Stmt(insertSnapshot).Exec(
				int64(sn.Tick),
				sn.Path,
				sn.Entities,
				sn.Jobs,
				sn.Agents,
				sn.Stockpiles,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}

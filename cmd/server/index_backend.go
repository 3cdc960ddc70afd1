package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"colonysim.ai/internal/persistence/indexdb"
	"colonysim.ai/internal/persistence/snapshot"
	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/tuning"
	"colonysim.ai/internal/sim/world"
)

// runtimeIndex receives every tick entry alongside the JSONL logs and keeps
// a queryable copy of notifications, job counts and snapshot metadata.
type runtimeIndex interface {
	world.TickLogger
	Close() error
	UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

// indexLocation resolves CS_INDEX_BACKEND and CS_INDEX_PATH to a sqlite DSN.
// An empty DSN means indexing is off.
func indexLocation(worldDir string, getenv func(string) string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(getenv("CS_INDEX_BACKEND")))
	switch backend {
	case "none", "off", "disabled":
		return "", nil
	case "memory":
		return ":memory:", nil
	case "", "sqlite":
		if p := strings.TrimSpace(getenv("CS_INDEX_PATH")); p != "" {
			return p, nil
		}
		return filepath.Join(worldDir, "index", "world.sqlite"), nil
	default:
		return "", fmt.Errorf("unsupported CS_INDEX_BACKEND: %s", backend)
	}
}

func openRuntimeIndex(worldDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	dsn, err := indexLocation(worldDir, os.Getenv)
	if err != nil || dsn == "" {
		return nil, err
	}
	return indexdb.OpenSQLite(dsn)
}

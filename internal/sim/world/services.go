package world

import (
	"fmt"
	"log"
	"path/filepath"

	"colonysim.ai/internal/sim/catalogs"
	"colonysim.ai/internal/sim/jobs"
	"colonysim.ai/internal/sim/jobs/effects"
	"colonysim.ai/internal/sim/store"
)

// LoadServices builds the store, catalogs and registries from configDir:
// schemas/*.schema.json, job_types/*.json and resources.json. The grid is
// left nil; it comes from a scenario or a snapshot.
func LoadServices(configDir string, logger *log.Logger) (Services, error) {
	schemas, err := store.LoadSchemas(filepath.Join(configDir, "schemas"))
	if err != nil {
		return Services{}, fmt.Errorf("load schemas: %w", err)
	}
	cats, err := catalogs.Load(configDir)
	if err != nil {
		return Services{}, fmt.Errorf("load catalogs: %w", err)
	}
	types := jobs.NewRegistry()
	if err := types.LoadCatalog(cats.JobTypes); err != nil {
		return Services{}, err
	}
	eff := effects.NewRegistry()
	effects.RegisterBuiltins(eff)

	return Services{
		Store:     store.NewMemStore(schemas),
		Types:     types,
		Effects:   eff,
		Resources: cats.Resources,
		Catalogs:  cats,
		Logger:    logger,
	}, nil
}

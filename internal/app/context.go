package app

import (
	"context"
	"errors"
	"fmt"

	"solaire/internal/config"
	"solaire/internal/repo"
)

// ResolveConfig returns the workflow catalog for this workspace. Precedence:
// solaire.yml on disk, then the catalog stored in the database, then the
// built-in defaults (which are written to the database so the API and CLI
// agree on one catalog).
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		if err := r.UpsertConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("store config: %w", err)
		}
		return cfg, nil
	}
	cfg, err = r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg = config.Default()
	if err := r.UpsertConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return cfg, nil
}

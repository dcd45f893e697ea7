package storage

import (
	"context"
	"fmt"

	"github.com/yndnr/meshkv/internal/storage/snapshot"
)

// Candidates lists the loadable snapshots produced by the configured name
// pattern, in backend order.
func (c *Coordinator) Candidates(ctx context.Context) ([]snapshot.Candidate, error) {
	m, err := snapshot.NewMatcher(c.NamePattern())
	if err != nil {
		return nil, err
	}
	names, err := c.backend.List(ctx, m.ListPrefix())
	if err != nil {
		return nil, err
	}
	var out []snapshot.Candidate
	for _, name := range names {
		if cand, ok := m.Match(name); ok {
			out = append(out, cand)
		}
	}
	return out, nil
}

// Autoload loads the newest snapshot matching the configured pattern. It
// returns a nil summary when there is nothing to load. A snapshot that is
// found but cannot be loaded is an error.
func (c *Coordinator) Autoload(ctx context.Context) (*LoadSummary, error) {
	if c.NamePattern() == "" {
		c.logger.Info("snapshots disabled, starting with an empty dataset")
		return nil, nil
	}
	cands, err := c.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("autoload: list %s: %w", c.backend.Location(), err)
	}
	best, ok := snapshot.Newest(cands, c.Format())
	if !ok {
		c.logger.Info("no snapshot to load, starting with an empty dataset",
			"dir", c.backend.Location().String(),
			"pattern", c.NamePattern())
		return nil, nil
	}

	c.logger.Info("autoloading snapshot", "file", best.Name, "candidates", len(cands))
	sum, err := c.Load(ctx, best.Name)
	if err != nil {
		return nil, fmt.Errorf("autoload %s: %w", best.Name, err)
	}
	return sum, nil
}

package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dohr-michael/storybook/internal/config"
	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

// StoreCommitter implements pipeline.Committer and pipeline.CommitFilter
// over a local Store.
type StoreCommitter struct {
	store    *Store
	padWidth int
}

// NewStoreCommitter commits into store using padWidth-digit indexes.
func NewStoreCommitter(store *Store, padWidth int) *StoreCommitter {
	return &StoreCommitter{store: store, padWidth: padWidth}
}

func (c *StoreCommitter) Commit(ctx context.Context, tasks []ledger.Task) error {
	res, err := c.store.Insert(ctx, EntriesFor(tasks, c.padWidth))
	if err != nil {
		return &pipeline.CommitError{Diagnostic: "sqlite insert", Err: err}
	}
	slog.InfoContext(ctx, "stories committed", "inserted", res.Inserted, "skipped", res.Skipped)
	return nil
}

func (c *StoreCommitter) Unrecorded(ctx context.Context, tasks []ledger.Task) ([]ledger.Task, error) {
	indexes := make([]string, len(tasks))
	for i, t := range tasks {
		indexes[i] = PadID(t.ID, c.padWidth)
	}
	found, err := c.store.Has(ctx, indexes)
	if err != nil {
		return nil, fmt.Errorf("check story db: %w", err)
	}
	var out []ledger.Task
	for i, t := range tasks {
		if !found[indexes[i]] {
			out = append(out, t)
		}
	}
	return out, nil
}

// New builds the committer for cfg.Driver. The returned store is nil for
// the http driver.
func New(cfg config.CatalogConfig) (pipeline.Committer, *Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		store, err := Open(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return NewStoreCommitter(store, cfg.PadWidth), store, nil
	case "http":
		if cfg.URL == "" {
			return nil, nil, fmt.Errorf("catalog driver http needs a url")
		}
		return NewHTTPCommitter(cfg.URL, cfg.PadWidth, cfg.Timeout.Duration()), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}
}

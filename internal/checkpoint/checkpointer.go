// Package checkpoint runs the two singleton background workers that keep
// boards' materialized state and session bookkeeping consistent:
// Checkpointer folds the change log into each board's object document, and
// SessionChecker reaps sessions whose liveness key has expired. Grounded on
// original_source/service/src/checkpointer.rs and
// original_source/src/session_checker.rs, using the fault-isolated
// ticker-loop idiom of the teacher's cmd/server/main.go / internal/monitor.
package checkpoint

import (
	"context"
	"time"

	"github.com/lukewestby/redboard/internal/change"
	"github.com/lukewestby/redboard/internal/config"
	"github.com/lukewestby/redboard/internal/logging"
	"github.com/lukewestby/redboard/internal/repository"
)

// Checkpointer periodically folds every board's pending change-log entries
// into its materialized object document, advancing the version and
// trimming the log (spec.md §4.5), every config.CheckpointerPeriod.
type Checkpointer struct {
	repo *repository.Repository
}

// NewCheckpointer builds a Checkpointer over repo.
func NewCheckpointer(repo *repository.Repository) *Checkpointer {
	return &Checkpointer{repo: repo}
}

// Start runs until ctx is cancelled. Each pass's error is logged and
// swallowed rather than aborting the loop (checkpointer.rs start(): "loop {
// self.run().await.ok() }").
func (c *Checkpointer) Start(ctx context.Context) {
	ticker := time.NewTicker(config.CheckpointerPeriod)
	defer ticker.Stop()

	for {
		if err := c.run(ctx); err != nil {
			logging.Log.WithError(err).Warn("checkpointer pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Checkpointer) run(ctx context.Context) error {
	boards, err := c.repo.StreamAllBoardIDs(ctx)
	if err != nil {
		return err
	}

	for _, board := range boards {
		version, err := c.repo.GetVersion(ctx, board)
		if err != nil {
			return err
		}

		logged, err := c.repo.GetChanges(ctx, board, version, config.CheckpointerBatch)
		if err != nil {
			return err
		}
		if len(logged) == 0 {
			continue
		}

		nextVersion := logged[len(logged)-1].Version
		plain := make([]change.Change, len(logged))
		for i, lc := range logged {
			plain[i] = lc.Change
		}

		if err := c.repo.ApplyChanges(ctx, board, plain, nextVersion); err != nil {
			return err
		}
	}
	return nil
}

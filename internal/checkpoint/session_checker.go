package checkpoint

import (
	"context"
	"time"

	"github.com/lukewestby/redboard/internal/config"
	"github.com/lukewestby/redboard/internal/logging"
	"github.com/lukewestby/redboard/internal/repository"
)

// SessionChecker reaps session records left behind by clients that
// disconnected without a clean close (crash, network partition): any
// session whose liveness key has expired is removed from its board,
// every config.SessionCheckerPeriod. Boards are found through their change
// logs (Repository.StreamAllBoardIDs); a board with no change log is not
// visited. Grounded on
// original_source/src/session_checker.rs.
type SessionChecker struct {
	repo *repository.Repository
}

// NewSessionChecker builds a SessionChecker over repo.
func NewSessionChecker(repo *repository.Repository) *SessionChecker {
	return &SessionChecker{repo: repo}
}

// Start runs until ctx is cancelled, swallowing per-pass errors
// (session_checker.rs start(): "loop { self.run().await.ok() }").
func (c *SessionChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(config.SessionCheckerPeriod)
	defer ticker.Stop()

	for {
		if err := c.run(ctx); err != nil {
			logging.Log.WithError(err).Warn("session checker pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *SessionChecker) run(ctx context.Context) error {
	boards, err := c.repo.StreamAllBoardIDs(ctx)
	if err != nil {
		return err
	}

	for _, board := range boards {
		sessions, err := c.repo.GetSessions(ctx, board)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			exists, err := c.repo.SessionExists(ctx, s.ID)
			if err != nil {
				return err
			}
			if !exists {
				if err := c.repo.DeleteSession(ctx, board, s.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

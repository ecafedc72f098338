package forum

import (
	"context"
	"errors"
	"fmt"

	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/logging"
	"github.com/soch-community/sochbot/src/models"
	"github.com/soch-community/sochbot/src/oops"
)

type UnbanResult struct {
	Cleared int64
	Intents []Intent
}

// Clears strikes and bans in one thread, for one member or, with an empty
// actorID, for everyone in it.
func (e *Engine) Unban(ctx context.Context, threadID, actorID, moderatorID string) (*UnbanResult, error) {
	thread, err := e.store.FindThread(ctx, threadID)
	if errors.Is(err, db.NotFound) {
		return nil, ErrNotTracked
	} else if err != nil {
		return nil, oops.New(err, "failed to look up thread for unban")
	}

	cleared, err := e.store.ClearBans(ctx, threadID, actorID)
	if err != nil {
		return nil, oops.New(err, "failed to unban")
	}
	logging.ExtractLogger(ctx).Info().
		Str("thread", threadID).
		Str("actor", actorID).
		Int64("cleared", cleared).
		Msg("cleared bans")

	who := "everyone"
	if actorID != "" {
		who = fmt.Sprintf("<@%s>", actorID)
	}
	result := &UnbanResult{
		Cleared: cleared,
		Intents: []Intent{AuditLog{
			Title:       "Ban Removed",
			Description: fmt.Sprintf("<@%s> cleared strikes and bans for %s in <#%s>.", moderatorID, who, threadID),
		}},
	}
	if roster, err := e.store.ListActors(ctx, threadID); err == nil {
		result.Intents = append(result.Intents, e.refreshDisplay(thread, roster))
	}
	return result, nil
}

// Resets every member's strikes and bans in every thread.
func (e *Engine) ClearAllBans(ctx context.Context) (int64, error) {
	cleared, err := e.store.ClearBans(ctx, "", "")
	if err != nil {
		return 0, oops.New(err, "failed to clear all bans")
	}
	activeBans.Set(0)
	return cleared, nil
}

type ThreadStatus struct {
	Thread *models.TrackedThread
	Roster []*models.ActorBumpState
}

func (e *Engine) Status(ctx context.Context, threadID string) (*ThreadStatus, error) {
	thread, err := e.store.FindThread(ctx, threadID)
	if errors.Is(err, db.NotFound) {
		return nil, ErrNotTracked
	} else if err != nil {
		return nil, oops.New(err, "failed to look up thread status")
	}
	roster, err := e.store.ListActors(ctx, threadID)
	if err != nil {
		return nil, oops.New(err, "failed to load roster")
	}
	return &ThreadStatus{Thread: thread, Roster: roster}, nil
}

func (e *Engine) RenderStatus(status *ThreadStatus) string {
	return fmt.Sprintf("📋 **Post Status: <#%s>**\n\n👤 **Owner ID:** %s\n🕒 **Last Bumped:** %s\n",
		status.Thread.ThreadID,
		status.Thread.OwnerID,
		Timestamp(status.Thread.LastBumped, 'R'),
	) + RenderRoster(status.Roster, e.now())
}

type SweepResult struct {
	Pruned     int64
	ActiveBans int64
}

// Drops ledger rows of threads that are no longer tracked and refreshes the
// active ban gauge.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	pruned, err := e.store.PruneOrphanedActors(ctx)
	if err != nil {
		return res, oops.New(err, "failed to prune ledger")
	}
	res.Pruned = pruned

	bans, err := e.store.CountActiveBans(ctx, e.now())
	if err != nil {
		return res, oops.New(err, "failed to count bans")
	}
	res.ActiveBans = bans
	activeBans.Set(float64(bans))

	return res, nil
}

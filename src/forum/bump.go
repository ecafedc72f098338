package forum

import (
	"context"
	"errors"
	"time"

	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/logging"
	"github.com/soch-community/sochbot/src/models"
	"github.com/soch-community/sochbot/src/oops"
)

type BumpResult struct {
	Thread       *models.TrackedThread
	NextEligible time.Time

	// Refreshes the rules message with the new bump time.
	Intents []Intent
}

/*
Bumps a thread on behalf of a member. Each member has their own cooldown per
thread, and a member who has never bumped may bump right away.

Returns ErrNotTracked if the thread isn't tracked, a *BannedError if the
member is serving a ban, and a *CooldownError if they bumped too recently.
A rejected bump changes nothing.
*/
func (e *Engine) Bump(ctx context.Context, threadID, actorID string) (*BumpResult, error) {
	logger := logging.ExtractLogger(ctx).With().
		Str("thread", threadID).
		Str("actor", actorID).
		Logger()

	thread, err := e.store.FindThread(ctx, threadID)
	if errors.Is(err, db.NotFound) {
		bumpOutcomes.WithLabelValues("not_tracked").Inc()
		return nil, ErrNotTracked
	} else if err != nil {
		return nil, oops.New(err, "failed to look up thread for bump")
	}

	now := e.now()
	_, err = e.store.UpdateActor(ctx, threadID, actorID, func(state *models.ActorBumpState) error {
		if state.IsBanned(now) {
			return &BannedError{Until: *state.BanExpires}
		}
		if state.LastBumped != nil {
			if next := state.LastBumped.Add(e.cfg.BumpCooldown); now.Before(next) {
				return &CooldownError{RetryAt: next}
			}
		}
		state.LastBumped = &now
		return nil
	})
	var banned *BannedError
	var cooldown *CooldownError
	if errors.As(err, &banned) {
		bumpOutcomes.WithLabelValues("banned").Inc()
		return nil, banned
	} else if errors.As(err, &cooldown) {
		bumpOutcomes.WithLabelValues("cooldown").Inc()
		return nil, cooldown
	} else if err != nil {
		return nil, oops.New(err, "failed to record bump")
	}

	bumpOutcomes.WithLabelValues("ok").Inc()
	logger.Info().Msg("bumped")

	// The bump itself has been recorded; the thread's own timestamp only
	// feeds the rules message.
	if err := e.store.TouchThread(ctx, threadID, now); err != nil {
		logger.Error().Err(err).Msg("failed to update thread bump time")
	} else {
		thread.LastBumped = now
	}

	result := &BumpResult{
		Thread:       thread,
		NextEligible: now.Add(e.cfg.BumpCooldown),
	}
	if roster, err := e.store.ListActors(ctx, threadID); err != nil {
		logger.Error().Err(err).Msg("failed to load roster after bump")
	} else {
		result.Intents = []Intent{e.refreshDisplay(thread, roster)}
	}
	return result, nil
}

func (e *Engine) refreshDisplay(thread *models.TrackedThread, roster []*models.ActorBumpState) Intent {
	return EditDisplay{
		ThreadID:  thread.ThreadID,
		MessageID: derefString(thread.InfoMessageID),
		Info:      e.info(thread.LastBumped, roster),
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

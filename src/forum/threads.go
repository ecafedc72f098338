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

/*
Handles a new thread in the forum. In order:

 1. If the owner already has a live tracked thread, the new thread is closed
    and nothing is recorded. A tracked thread that no longer exists on the
    platform is forgotten and does not count.
 2. If a tracked thread has the same opening post, that older thread is
    closed and forgotten.
 3. The new thread is tracked, bumped as of now, and gets a rules message.

Threads outside the configured forum channels are ignored.
*/
func (e *Engine) ThreadCreated(ctx context.Context, thread ThreadInfo) ([]Intent, error) {
	if !e.IsForumChannel(thread.ParentID) {
		return nil, nil
	}
	logger := logging.ExtractLogger(ctx).With().
		Str("thread", thread.ThreadID).
		Str("owner", thread.OwnerID).
		Logger()
	now := e.now()

	existing, err := e.store.FindThreadByOwner(ctx, thread.OwnerID)
	if err == nil {
		if existing.ThreadID == thread.ThreadID {
			// Already handled this one; the gateway replayed the event.
			return nil, nil
		}
		if e.platform.ThreadExists(ctx, existing.ThreadID) {
			logger.Info().Str("active", existing.ThreadID).Msg("owner already has an active post")
			threadOutcomes.WithLabelValues("rejected").Inc()
			return e.rejectSecondPost(thread, existing.ThreadID), nil
		}

		logger.Info().Str("stale", existing.ThreadID).Msg("forgetting stale thread")
		if _, err := e.store.DeleteThread(ctx, existing.ThreadID); err != nil {
			return nil, oops.New(err, "failed to forget stale thread")
		}
		threadOutcomes.WithLabelValues("stale_reclaimed").Inc()
	} else if !errors.Is(err, db.NotFound) {
		return nil, oops.New(err, "failed to look up owner's thread")
	}

	body := ""
	if thread.OpeningBody != nil {
		body = *thread.OpeningBody
	}
	fingerprint := Fingerprint(body)

	duplicate, err := e.store.FindThreadByFingerprint(ctx, fingerprint)
	if errors.Is(err, db.NotFound) || (err == nil && duplicate.ThreadID == thread.ThreadID) {
		duplicate = nil
	} else if err != nil {
		return nil, oops.New(err, "failed to look up duplicate content")
	}

	// The duplicate is only closed once this post has actually been
	// accepted. A post that loses the owner race must leave it alone.
	err = e.store.InsertThread(ctx, models.TrackedThread{
		ThreadID:           thread.ThreadID,
		OwnerID:            thread.OwnerID,
		LastBumped:         now,
		ContentFingerprint: &fingerprint,
	})
	if errors.Is(err, ErrThreadAlreadyTracked) {
		return nil, nil
	} else if errors.Is(err, ErrOwnerHasThread) {
		// Another thread by the same owner was accepted between our lookup
		// and our insert.
		activeID := ""
		if winner, err := e.store.FindThreadByOwner(ctx, thread.OwnerID); err == nil {
			activeID = winner.ThreadID
		}
		logger.Info().Str("active", activeID).Msg("lost race against another post by the same owner")
		threadOutcomes.WithLabelValues("rejected").Inc()
		return e.rejectSecondPost(thread, activeID), nil
	} else if err != nil {
		return nil, oops.New(err, "failed to track thread")
	}

	var intents []Intent
	if duplicate != nil {
		logger.Info().Str("duplicate", duplicate.ThreadID).Msg("closing older post with identical content")
		if _, err := e.store.DeleteThread(ctx, duplicate.ThreadID); err != nil {
			return nil, oops.New(err, "failed to forget duplicate thread")
		}
		threadOutcomes.WithLabelValues("duplicate_closed").Inc()
		intents = append(intents, closeThread(duplicate.ThreadID, duplicateMessage)...)
		intents = append(intents, AuditLog{
			Title:       "Duplicate Post Closed",
			Description: fmt.Sprintf("<#%s> by <@%s> was closed because <#%s> has identical content.", duplicate.ThreadID, duplicate.OwnerID, thread.ThreadID),
		})
	}

	logger.Info().Msg("tracking new post")
	threadOutcomes.WithLabelValues("accepted").Inc()
	intents = append(intents, PostInfo{
		ThreadID: thread.ThreadID,
		Info:     e.info(now, nil),
	})
	return intents, nil
}

func (e *Engine) rejectSecondPost(thread ThreadInfo, activeThreadID string) []Intent {
	intents := closeThread(thread.ThreadID, limitReachedMessage(activeThreadID))
	return append(intents, AuditLog{
		Title:       "Second Post Closed",
		Description: fmt.Sprintf("<#%s> by <@%s> was closed because they already have an active post.", thread.ThreadID, thread.OwnerID),
	})
}

// Forgets a thread that was deleted on the platform. Returns whether it was
// tracked.
func (e *Engine) ThreadDeleted(ctx context.Context, threadID string) (bool, error) {
	deleted, err := e.store.DeleteThread(ctx, threadID)
	if err != nil {
		return false, oops.New(err, "failed to forget deleted thread")
	}
	if deleted {
		logging.ExtractLogger(ctx).Info().Str("thread", threadID).Msg("forgot deleted thread")
	}
	return deleted, nil
}

// Records the ID of the rules message posted for a thread, so later updates
// can edit it in place.
func (e *Engine) SetInfoMessage(ctx context.Context, threadID, messageID string) error {
	if err := e.store.SetInfoMessage(ctx, threadID, messageID); err != nil {
		return oops.New(err, "failed to set info message")
	}
	return nil
}

type RemakeRequest struct {
	ThreadID string
	// Owner of the thread according to the platform. May be empty, in which
	// case the tracked owner is used.
	OwnerID string
	ActorID string
	IsAdmin bool
}

/*
Starts over a thread at the request of its owner or an administrator. The
thread is forgotten right away, so the owner may post again, and deleted on
the platform after the remake delay. Returns ErrNotAllowed for anyone else.
*/
func (e *Engine) Remake(ctx context.Context, req RemakeRequest) ([]Intent, error) {
	ownerID := req.OwnerID
	if ownerID == "" {
		tracked, err := e.store.FindThread(ctx, req.ThreadID)
		if err == nil {
			ownerID = tracked.OwnerID
		} else if !errors.Is(err, db.NotFound) {
			return nil, oops.New(err, "failed to look up thread for remake")
		}
	}
	if !req.IsAdmin && (ownerID == "" || ownerID != req.ActorID) {
		return nil, ErrNotAllowed
	}

	if _, err := e.store.DeleteThread(ctx, req.ThreadID); err != nil {
		return nil, oops.New(err, "failed to forget remade thread")
	}
	logging.ExtractLogger(ctx).Info().
		Str("thread", req.ThreadID).
		Str("actor", req.ActorID).
		Msg("remaking post")

	return []Intent{
		DeleteThread{ThreadID: req.ThreadID, Delay: e.cfg.RemakeDelay},
		AuditLog{
			Title:       "Post Remade",
			Description: fmt.Sprintf("<@%s> remade <#%s>.", req.ActorID, req.ThreadID),
		},
	}, nil
}

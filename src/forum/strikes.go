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
Polices a message posted in a thread. Recruitment threads are for the
opening post only, so any other message by a member is deleted.

A message that looks like a mistyped command costs nothing; the member is
pointed at the slash command menu instead. Anything else is a strike. When
a member's strikes reach the threshold their strikes reset and they are
banned from bumping the thread for the ban duration.

The returned intents are valid even when an error is returned, since the
message must be removed regardless.
*/
func (e *Engine) MessageCreated(ctx context.Context, msg MessageInfo) ([]Intent, error) {
	if msg.AuthorIsBot || msg.MessageID == msg.ThreadID {
		return nil, nil
	}

	thread, err := e.store.FindThread(ctx, msg.ThreadID)
	if errors.Is(err, db.NotFound) {
		return nil, nil
	} else if err != nil {
		return nil, oops.New(err, "failed to look up thread for message")
	}

	logger := logging.ExtractLogger(ctx).With().
		Str("thread", msg.ThreadID).
		Str("actor", msg.AuthorID).
		Str("message", msg.MessageID).
		Logger()

	intents := []Intent{DeleteMessage{ChannelID: msg.ThreadID, MessageID: msg.MessageID}}

	if e.isCommandAttempt(msg.Content) {
		logger.Info().Msg("removed typed command")
		strikeOutcomes.WithLabelValues("command_attempt").Inc()
		return append(intents, TransientNotice{
			ChannelID: msg.ThreadID,
			Content:   commandAttemptMessage(msg.AuthorID, thread.LastBumped.Add(e.cfg.BumpCooldown)),
			TTL:       e.cfg.NoticeTTL,
		}), nil
	}

	now := e.now()
	banned := false
	state, err := e.store.UpdateActor(ctx, msg.ThreadID, msg.AuthorID, func(state *models.ActorBumpState) error {
		state.StrikeCount++
		if state.StrikeCount >= e.cfg.StrikeThreshold {
			until := now.Add(e.cfg.BanDuration)
			state.StrikeCount = 0
			state.BanExpires = &until
			banned = true
		}
		return nil
	})
	if err != nil {
		return intents, oops.New(err, "failed to record strike")
	}

	if banned {
		logger.Info().Time("until", *state.BanExpires).Msg("banned member from bumping")
		strikeOutcomes.WithLabelValues("ban").Inc()
		intents = append(intents,
			DirectNotify{
				UserID:            msg.AuthorID,
				Content:           banMessage(e.cfg.StrikeThreshold, *state.BanExpires),
				FallbackChannelID: msg.ThreadID,
			},
			AuditLog{
				Title:       "Bump Ban Applied",
				Description: fmt.Sprintf("<@%s> reached %d strikes in <#%s> and cannot bump it until %s.", msg.AuthorID, e.cfg.StrikeThreshold, msg.ThreadID, Timestamp(*state.BanExpires, 'F')),
			},
		)
	} else {
		logger.Info().Int("strikes", state.StrikeCount).Msg("warned member")
		strikeOutcomes.WithLabelValues("warning").Inc()
		intents = append(intents, DirectNotify{
			UserID:            msg.AuthorID,
			Content:           warningMessage(state.StrikeCount, e.cfg.StrikeThreshold),
			FallbackChannelID: msg.ThreadID,
		})
	}

	if roster, err := e.store.ListActors(ctx, msg.ThreadID); err != nil {
		logger.Error().Err(err).Msg("failed to load roster after strike")
	} else {
		intents = append(intents, e.refreshDisplay(thread, roster))
	}

	return intents, nil
}

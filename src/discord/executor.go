package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soch-community/sochbot/src/forum"
	"github.com/soch-community/sochbot/src/logging"
	"github.com/soch-community/sochbot/src/oops"
	"github.com/soch-community/sochbot/src/utils"
)

const AuditColor = 0x0099FF

// How long a DM that fell back to the thread stays visible.
const dmFallbackTTL = 30 * time.Second

// The parts of the Discord API the executor needs.
type restClient interface {
	SendMessage(ctx context.Context, channelID string, req CreateMessageRequest) (*Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, req EditMessageRequest) (*Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	ModifyThread(ctx context.Context, threadID string, req ModifyThreadRequest) error
	DeleteChannel(ctx context.Context, channelID string) error
	SendDirectMessage(ctx context.Context, userID string, req CreateMessageRequest) (*Message, error)
}

type liveREST struct{}

func (liveREST) SendMessage(ctx context.Context, channelID string, req CreateMessageRequest) (*Message, error) {
	return SendMessage(ctx, channelID, req)
}

func (liveREST) EditMessage(ctx context.Context, channelID, messageID string, req EditMessageRequest) (*Message, error) {
	return EditMessage(ctx, channelID, messageID, req)
}

func (liveREST) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return DeleteMessage(ctx, channelID, messageID)
}

func (liveREST) ModifyThread(ctx context.Context, threadID string, req ModifyThreadRequest) error {
	return ModifyThread(ctx, threadID, req)
}

func (liveREST) DeleteChannel(ctx context.Context, channelID string) error {
	return DeleteChannel(ctx, channelID)
}

func (liveREST) SendDirectMessage(ctx context.Context, userID string, req CreateMessageRequest) (*Message, error) {
	return SendDirectMessage(ctx, userID, req)
}

// Remembers which message in a thread shows its rules.
type infoRecorder interface {
	SetInfoMessage(ctx context.Context, threadID, messageID string) error
}

type enqueueFunc func(ctx context.Context, msgs ...MessageToSend) error

/*
Carries out the intents returned by the forum engine. Every intent is best
effort: a failure is logged and the remaining intents still run. Each call to
Discord is bounded by the configured request timeout.
*/
type Executor struct {
	rest     restClient
	recorder infoRecorder
	enqueue  enqueueFunc
	timeout time.Duration

	// Staff log channel. Empty disables audit entries.
	logChannelID string

	delayed sync.WaitGroup
}

func NewExecutor(recorder infoRecorder, enqueue enqueueFunc, timeout time.Duration, logChannelID string) *Executor {
	return &Executor{
		rest:         liveREST{},
		recorder:     recorder,
		enqueue:      enqueue,
		timeout:      utils.OrDefault(timeout, 10*time.Second),
		logChannelID: logChannelID,
	}
}

func (e *Executor) Execute(ctx context.Context, intents []forum.Intent) {
	for _, intent := range intents {
		if err := e.execute(ctx, intent); err != nil {
			logging.ExtractLogger(ctx).Error().
				Err(err).
				Str("intent", fmt.Sprintf("%T", intent)).
				Msg("failed to carry out forum action")
		}
	}
}

// Waits for delayed deletions to complete.
func (e *Executor) Wait() {
	e.delayed.Wait()
}

func (e *Executor) execute(outer context.Context, intent forum.Intent) error {
	ctx, cancel := context.WithTimeout(outer, e.timeout)
	defer cancel()

	switch in := intent.(type) {
	case forum.SendMessage:
		_, err := e.rest.SendMessage(ctx, in.ChannelID, CreateMessageRequest{Content: in.Content})
		return err
	case forum.LockThread:
		return e.rest.ModifyThread(ctx, in.ThreadID, ModifyThreadRequest{Locked: utils.Ptr(true)})
	case forum.ArchiveThread:
		return e.rest.ModifyThread(ctx, in.ThreadID, ModifyThreadRequest{Archived: utils.Ptr(true)})
	case forum.DeleteThread:
		e.after(outer, in.Delay, "delete thread", func(ctx context.Context) error {
			err := e.rest.DeleteChannel(ctx, in.ThreadID)
			if errors.Is(err, NotFound) {
				return nil
			}
			return err
		})
		return nil
	case forum.DeleteMessage:
		err := e.rest.DeleteMessage(ctx, in.ChannelID, in.MessageID)
		if errors.Is(err, NotFound) {
			// Someone beat us to it.
			return nil
		}
		return err
	case forum.DirectNotify:
		return e.directNotify(ctx, outer, in)
	case forum.PostInfo:
		return e.postInfo(ctx, in.ThreadID, in.Info)
	case forum.EditDisplay:
		if in.MessageID == "" {
			return e.postInfo(ctx, in.ThreadID, in.Info)
		}
		_, err := e.rest.EditMessage(ctx, in.ThreadID, in.MessageID, EditMessageRequest{
			Embeds: []Embed{InfoEmbed(in.Info)},
		})
		if errors.Is(err, NotFound) {
			// The rules message was deleted. Post a fresh one.
			return e.postInfo(ctx, in.ThreadID, in.Info)
		}
		return err
	case forum.TransientNotice:
		return e.transientNotice(ctx, outer, in.ChannelID, in.Content, in.TTL)
	case forum.AuditLog:
		return e.auditLog(ctx, in)
	default:
		return oops.New(nil, "unknown forum intent %T", intent)
	}
}

func (e *Executor) directNotify(ctx, outer context.Context, in forum.DirectNotify) error {
	_, err := e.rest.SendDirectMessage(ctx, in.UserID, CreateMessageRequest{Content: in.Content})
	if err == nil {
		return nil
	}
	if in.FallbackChannelID == "" {
		return err
	}

	logging.ExtractLogger(ctx).Info().
		Err(err).
		Str("user", in.UserID).
		Msg("could not DM member; posting in thread instead")

	// A DM that timed out used up ctx, so the fallback gets its own deadline.
	fallbackCtx, cancel := context.WithTimeout(outer, e.timeout)
	defer cancel()
	return e.transientNotice(fallbackCtx, outer, in.FallbackChannelID, fmt.Sprintf("<@%s> %s", in.UserID, in.Content), dmFallbackTTL)
}

func (e *Executor) postInfo(ctx context.Context, threadID string, info forum.Info) error {
	msg, err := e.rest.SendMessage(ctx, threadID, CreateMessageRequest{
		Embeds: []Embed{InfoEmbed(info)},
	})
	if err != nil {
		return err
	}
	return e.recorder.SetInfoMessage(ctx, threadID, msg.ID)
}

// The notice is deleted after ttl, timed against outer rather than the
// per-call deadline.
func (e *Executor) transientNotice(ctx, outer context.Context, channelID, content string, ttl time.Duration) error {
	msg, err := e.rest.SendMessage(ctx, channelID, CreateMessageRequest{Content: content})
	if err != nil {
		return err
	}
	e.after(outer, ttl, "delete notice", func(ctx context.Context) error {
		err := e.rest.DeleteMessage(ctx, channelID, msg.ID)
		if errors.Is(err, NotFound) {
			return nil
		}
		return err
	})
	return nil
}

func (e *Executor) auditLog(ctx context.Context, in forum.AuditLog) error {
	if e.logChannelID == "" || e.enqueue == nil {
		return nil
	}
	return e.enqueue(ctx, MessageToSend{
		ChannelID: e.logChannelID,
		Req: CreateMessageRequest{
			Embeds: []Embed{{
				Title:       in.Title,
				Description: in.Description,
				Color:       AuditColor,
				Timestamp:   time.Now().UTC().Format(time.RFC3339),
			}},
			AllowedMentions: &AllowedMentions{Parse: []string{}},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	})
}

/*
Runs fn after delay. If ctx is canceled first, fn runs right away instead, so
that shutdown does not leave behind threads that were already forgotten.
*/
func (e *Executor) after(ctx context.Context, delay time.Duration, name string, fn func(ctx context.Context) error) {
	logger := logging.ExtractLogger(ctx)
	e.delayed.Add(1)
	go func() {
		defer e.delayed.Done()
		defer logging.LogPanics(logger)

		utils.SleepContext(ctx, delay)

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		if err := fn(runCtx); err != nil {
			logger.Error().Err(err).Str("action", name).Msg("delayed action failed")
		}
	}()
}

func InfoEmbed(info forum.Info) Embed {
	return Embed{
		Description: info.Description(),
		Color:       forum.InfoColor,
	}
}

/*
Package forum enforces the rules of the recruitment forum: one active post
per owner, no duplicate posts, a per-member bump cooldown, and strikes that
escalate into temporary bump bans for members who chat inside recruitment
threads.

The Engine decides; it never talks to Discord itself. Each entry point reads
and writes the registry and ledger through a Store and returns the side
effects it wants as a list of Intents, which the gateway carries out after
the state change has been committed.
*/
package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soch-community/sochbot/src/config"
	"github.com/soch-community/sochbot/src/models"
)

var (
	ErrNotTracked = errors.New("thread is not tracked")
	ErrNotAllowed = errors.New("actor is not allowed to do that")
)

type BannedError struct {
	Until time.Time
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("banned from bumping until %s", e.Until.Format(time.RFC3339))
}

type CooldownError struct {
	RetryAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("bump on cooldown until %s", e.RetryAt.Format(time.RFC3339))
}

type Config struct {
	ChannelIDs      []string
	BumpCooldown    time.Duration
	StrikeThreshold int
	BanDuration     time.Duration
	CommandPrefixes []string
	NoticeTTL       time.Duration
	RemakeDelay     time.Duration
	RulesChannelID  string
}

func ConfigFromGlobal() Config {
	cfg := config.Config.Forum
	return Config{
		ChannelIDs:      cfg.ChannelIDs,
		BumpCooldown:    cfg.BumpCooldown,
		StrikeThreshold: cfg.StrikeThreshold,
		BanDuration:     cfg.BanDuration,
		CommandPrefixes: cfg.CommandPrefixes,
		NoticeTTL:       cfg.NoticeTTL,
		RemakeDelay:     cfg.RemakeDelay,
		RulesChannelID:  cfg.RulesChannelID,
	}
}

// Resolves threads on the chat platform. Implementations must bound their
// own time, and report any failure to resolve as "does not exist".
type Platform interface {
	ThreadExists(ctx context.Context, threadID string) bool
}

type Clock func() time.Time

type Engine struct {
	cfg      Config
	store    Store
	platform Platform
	now      Clock
}

func NewEngine(cfg Config, store Store, platform Platform) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		platform: platform,
		now:      time.Now,
	}
}

// Replaces the engine's time source. Used by tests.
func (e *Engine) WithClock(now Clock) *Engine {
	e.now = now
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

// A newly created thread, as seen by the gateway.
type ThreadInfo struct {
	ThreadID string
	ParentID string
	OwnerID  string

	// Text of the opening post. Nil if it could not be fetched.
	OpeningBody *string
}

// A message posted somewhere in a thread.
type MessageInfo struct {
	MessageID   string
	ThreadID    string
	AuthorID    string
	AuthorIsBot bool
	Content     string
}

func (e *Engine) IsForumChannel(channelID string) bool {
	if channelID == "" {
		return false
	}
	for _, id := range e.cfg.ChannelIDs {
		if id == channelID {
			return true
		}
	}
	return false
}

func (e *Engine) isCommandAttempt(content string) bool {
	content = strings.TrimSpace(content)
	for _, prefix := range e.cfg.CommandPrefixes {
		if prefix != "" && strings.HasPrefix(content, prefix) {
			return true
		}
	}
	return false
}

func (e *Engine) info(lastBumped time.Time, roster []*models.ActorBumpState) Info {
	return Info{
		LastBumped:     lastBumped,
		NextBump:       lastBumped.Add(e.cfg.BumpCooldown),
		Cooldown:       e.cfg.BumpCooldown,
		RulesChannelID: e.cfg.RulesChannelID,
		Roster:         roster,
		Now:            e.now(),
	}
}

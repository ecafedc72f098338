package discord

import (
	"context"
	"errors"
	"time"

	"github.com/soch-community/sochbot/src/logging"
	"github.com/soch-community/sochbot/src/utils"
)

// Answers the forum engine's questions about live Discord state.
type Platform struct {
	Timeout time.Duration
}

func NewPlatform(timeout time.Duration) *Platform {
	return &Platform{Timeout: utils.OrDefault(timeout, 10*time.Second)}
}

/*
Reports whether a thread still exists. Anything other than a successful
lookup, including a timeout, counts as gone: a member should not be locked
out of posting because Discord was slow to answer.
*/
func (p *Platform) ThreadExists(ctx context.Context, threadID string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	_, err := GetChannel(ctx, threadID)
	if err != nil && !errors.Is(err, NotFound) {
		logging.ExtractLogger(ctx).Warn().Err(err).Str("thread", threadID).Msg("could not check whether thread exists")
	}
	return err == nil
}

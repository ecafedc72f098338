package forum

import (
	"fmt"
	"strings"
	"time"

	"github.com/soch-community/sochbot/src/models"
)

// Everything shown in a thread's rules message.
type Info struct {
	LastBumped     time.Time
	NextBump       time.Time
	Cooldown       time.Duration
	RulesChannelID string

	// Members with strikes or bans. Members with a clean record are left out
	// when rendering.
	Roster []*models.ActorBumpState
	Now    time.Time
}

const InfoColor = 0x00FF00

func (info Info) Description() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Post was last bumped: %s\n", Timestamp(info.LastBumped, 'R'))
	fmt.Fprintf(&b, "Next /bump available: %s\n", Timestamp(info.NextBump, 'R'))
	b.WriteString("Forum Post Rules:\n")
	fmt.Fprintf(&b, "➼ `/bump` should be every %s\n", HumanDuration(info.Cooldown))
	b.WriteString("➼ Only 1 post per kingdom / project / group\n")
	b.WriteString("➼ Your Kingdom Number or Project/Group Name must be in your post title\n")
	b.WriteString("➼ Do not send messages into recruitment posts or change your post title\n")
	b.WriteString("➼ If you are interested in joining a group, reach out through the contacts listed in the post\n")
	b.WriteString("\nIf you wish to make a new post to add/change information, use the `/remake` command in this channel.")
	if info.RulesChannelID != "" {
		fmt.Fprintf(&b, "\nWarnings + Recruitment bans will be enforced for posts breaking the rules found in <#%s>", info.RulesChannelID)
	}
	b.WriteString(RenderRoster(info.Roster, info.Now))
	return b.String()
}

// Renders the strike/ban section. Returns an empty string if nobody has a
// strike or an active ban.
func RenderRoster(roster []*models.ActorBumpState, now time.Time) string {
	var lines []string
	for _, state := range roster {
		if state.IsBanned(now) {
			lines = append(lines, fmt.Sprintf("<@%s>: BANNED until %s", state.ActorID, Timestamp(*state.BanExpires, 'R')))
		} else if state.StrikeCount > 0 {
			lines = append(lines, fmt.Sprintf("<@%s>: %d strike(s)", state.ActorID, state.StrikeCount))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\n**User Strikes / Bans:**\n" + strings.Join(lines, "\n")
}

// Formats a time as a Discord timestamp, which every client renders in its
// own timezone. Style 'R' is relative ("in 6 hours"), 'F' is a full date.
func Timestamp(t time.Time, style rune) string {
	return fmt.Sprintf("<t:%d:%c>", t.Unix(), style)
}

func HumanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func limitReachedMessage(activeThreadID string) string {
	if activeThreadID == "" {
		return "🚫 **Limit Reached!**\nYou already have an active post.\nUse `/remake` on the old one if you want to replace it."
	}
	return fmt.Sprintf("🚫 **Limit Reached!**\nYou already have an active post: <#%s>.\nUse `/remake` on the old one if you want to replace it.", activeThreadID)
}

const duplicateMessage = "⚠️ **Duplicate Content Detected**\nA newer post with identical content has been created. Use unique content for your recruitment.\n**Action:** This older post is now closed."

func warningMessage(strikes, threshold int) string {
	msg := fmt.Sprintf("⚠️ **Warning (%d/%d)**\nPlease do not send chat messages in the recruitment thread. ", strikes, threshold)
	if threshold-strikes <= 1 {
		return msg + "Your next strike will result in a temporary bump ban."
	}
	return msg + fmt.Sprintf("%d strikes will result in a temporary bump ban.", threshold)
}

func banMessage(threshold int, until time.Time) string {
	return fmt.Sprintf("🚫 **Ban Applied**\nYou have reached %d strikes for chatting in the recruitment thread. You are banned from bumping until %s.", threshold, Timestamp(until, 'F'))
}

func commandAttemptMessage(userID string, nextBump time.Time) string {
	return fmt.Sprintf("⚠️ <@%s>, please use the **Slash Commands** menu (click the command in the popup). Don't type it as plain text.\nNext bump available: %s", userID, Timestamp(nextBump, 'R'))
}

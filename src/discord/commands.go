package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/soch-community/sochbot/src/forum"
	"github.com/soch-community/sochbot/src/logging"
)

// Slash command names and options
const (
	SlashCommandBump      = "bump"
	SlashCommandRemake    = "remake"
	SlashCommandUnbanPost = "unban-post"
	SlashCommandCheckPost = "check-post"

	PostOptionPost = "post"
	PostOptionUser = "user"
)

var adminOnly = strconv.FormatUint(uint64(PermissionAdministrator), 10)

var threadChannelTypes = []ChannelType{ChannelTypeGuildPublicThread}

// The commands the bot registers in its guild.
var ApplicationCommands = []CreateGuildApplicationCommandRequest{
	{
		Type:        ApplicationCommandTypeChatInput,
		Name:        SlashCommandBump,
		Description: "Bump this recruitment post",
	},
	{
		Type:        ApplicationCommandTypeChatInput,
		Name:        SlashCommandRemake,
		Description: "Delete this recruitment post so you can make a new one",
	},
	{
		Type:                     ApplicationCommandTypeChatInput,
		Name:                     SlashCommandUnbanPost,
		Description:              "Clear bump strikes and bans in a recruitment post",
		DefaultMemberPermissions: &adminOnly,
		Options: []ApplicationCommandOption{
			{
				Type:         ApplicationCommandOptionTypeChannel,
				Name:         PostOptionPost,
				Description:  "The recruitment post (defaults to this one)",
				ChannelTypes: threadChannelTypes,
			},
			{
				Type:        ApplicationCommandOptionTypeUser,
				Name:        PostOptionUser,
				Description: "Only clear this member (defaults to everyone)",
			},
		},
	},
	{
		Type:                     ApplicationCommandTypeChatInput,
		Name:                     SlashCommandCheckPost,
		Description:              "Show the bump status of a recruitment post",
		DefaultMemberPermissions: &adminOnly,
		Options: []ApplicationCommandOption{
			{
				Type:         ApplicationCommandOptionTypeChannel,
				Name:         PostOptionPost,
				Description:  "The recruitment post (defaults to this one)",
				ChannelTypes: threadChannelTypes,
			},
		},
	},
}

func (bot *botInstance) createApplicationCommands(ctx context.Context) {
	err := BulkOverwriteGuildApplicationCommands(ctx, ApplicationCommands)
	if err == nil {
		logging.ExtractLogger(ctx).Info().Int("commands", len(ApplicationCommands)).Msg("Registered Discord application commands")
	} else {
		logging.ExtractLogger(ctx).Warn().Err(err).Msg("Failed to register Discord application commands")
	}
}

func (bot *botInstance) doInteraction(ctx context.Context, i *Interaction) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger := logging.ExtractLogger(ctx).Error()
			if err, ok := recovered.(error); ok {
				logger = logger.Err(err)
			} else {
				logger = logger.Interface("recovered", recovered)
			}
			logger.Msg("panic when handling Discord interaction")
		}
	}()

	if i.Type != InteractionTypeApplicationCommand || i.Data == nil || i.Invoker() == nil {
		return
	}

	var reply InteractionCallbackData
	var intents []forum.Intent
	switch i.Data.Name {
	case SlashCommandBump:
		reply, intents = bot.handleBump(ctx, i)
	case SlashCommandRemake:
		reply, intents = bot.handleRemake(ctx, i)
	case SlashCommandUnbanPost:
		reply, intents = bot.handleUnbanPost(ctx, i)
	case SlashCommandCheckPost:
		reply = bot.handleCheckPost(ctx, i)
	default:
		logging.ExtractLogger(ctx).Warn().Str("name", i.Data.Name).Msg("didn't recognize Discord interaction name")
		return
	}

	err := CreateInteractionResponse(ctx, i.ID, i.Token, InteractionResponse{
		Type: InteractionCallbackTypeChannelMessageWithSource,
		Data: &reply,
	})
	if err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Str("command", i.Data.Name).Msg("failed to respond to command")
	}

	bot.executor.Execute(ctx, intents)
}

func ephemeral(content string) InteractionCallbackData {
	return InteractionCallbackData{Content: content, Flags: FlagEphemeral}
}

const (
	replyNotInThread   = "⚠️ This command can only be used in a recruitment post (thread)."
	replyNotTracked    = "⚠️ This post is not tracked. Use `/remake` to create a new, tracked post."
	replyAdminOnly     = "🚫 Only Administrators can use this command."
	replyNotOwner      = "🚫 Only the post owner can remake this."
	replyUntrackedPost = "⚠️ This post is not tracked in the database."
	replyBadPost       = "⚠️ Please specify a valid recruitment post or use this command inside one."
	replyInternalError = "⚠️ Something went wrong. Please try again later."
)

func inThread(i *Interaction) bool {
	return i.Channel != nil && i.Channel.Type.IsThread()
}

func (bot *botInstance) handleBump(ctx context.Context, i *Interaction) (InteractionCallbackData, []forum.Intent) {
	if !inThread(i) {
		return ephemeral(replyNotInThread), nil
	}
	invoker := i.Invoker()
	res, err := bot.engine.Bump(ctx, i.ChannelID, invoker.ID)
	if err != nil {
		return bumpFailureReply(ctx, err), nil
	}
	return bumpSuccessReply(res.NextEligible, bot.engine.Config().BumpCooldown), res.Intents
}

func bumpSuccessReply(next time.Time, cooldown time.Duration) InteractionCallbackData {
	return InteractionCallbackData{
		Content: fmt.Sprintf("👊 **Bumped!**\nSee you in %s.\nNext /bump available: %s", forum.HumanDuration(cooldown), forum.Timestamp(next, 'R')),
	}
}

func bumpFailureReply(ctx context.Context, err error) InteractionCallbackData {
	var banned *forum.BannedError
	var cooldown *forum.CooldownError
	switch {
	case errors.Is(err, forum.ErrNotTracked):
		return ephemeral(replyNotTracked)
	case errors.As(err, &banned):
		return ephemeral(fmt.Sprintf("🚫 **You are banned from bumping** until %s.\nReason: Sending chat messages in recruitment post.", forum.Timestamp(banned.Until, 'F')))
	case errors.As(err, &cooldown):
		return ephemeral(fmt.Sprintf("⏳ **Bump Cooldown!**\nYou can bump again %s.", forum.Timestamp(cooldown.RetryAt, 'R')))
	default:
		logging.ExtractLogger(ctx).Error().Err(err).Msg("failed to bump")
		return ephemeral(replyInternalError)
	}
}

func (bot *botInstance) handleRemake(ctx context.Context, i *Interaction) (InteractionCallbackData, []forum.Intent) {
	if !inThread(i) {
		return ephemeral(replyNotInThread), nil
	}
	intents, err := bot.engine.Remake(ctx, forum.RemakeRequest{
		ThreadID: i.ChannelID,
		OwnerID:  i.Channel.OwnerID,
		ActorID:  i.Invoker().ID,
		IsAdmin:  i.Member.Has(PermissionAdministrator),
	})
	if errors.Is(err, forum.ErrNotAllowed) {
		return ephemeral(replyNotOwner), nil
	} else if err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("failed to remake post")
		return ephemeral(replyInternalError), nil
	}
	return ephemeral(fmt.Sprintf("🗑️ **Remaking...** Deleting this post in %s. Please create a new one.", bot.engine.Config().RemakeDelay)), intents
}

// The post an admin command applies to: the "post" option if given, or else
// the thread the command was used in.
func targetPost(i *Interaction) (string, bool) {
	if opt, ok := getInteractionOption(i.Data.Options, PostOptionPost); ok {
		if id, ok := opt.Value.(string); ok && id != "" {
			return id, true
		}
	}
	if inThread(i) {
		return i.ChannelID, true
	}
	return "", false
}

func (bot *botInstance) handleUnbanPost(ctx context.Context, i *Interaction) (InteractionCallbackData, []forum.Intent) {
	if !i.Member.Has(PermissionAdministrator) {
		return ephemeral(replyAdminOnly), nil
	}
	postID, ok := targetPost(i)
	if !ok {
		return ephemeral(replyBadPost), nil
	}
	userID := ""
	if opt, ok := getInteractionOption(i.Data.Options, PostOptionUser); ok {
		userID, _ = opt.Value.(string)
	}

	res, err := bot.engine.Unban(ctx, postID, userID, i.Invoker().ID)
	if errors.Is(err, forum.ErrNotTracked) {
		return ephemeral(replyUntrackedPost), nil
	} else if err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("failed to unban")
		return ephemeral(replyInternalError), nil
	}
	return unbanReply(postID, userID), res.Intents
}

func unbanReply(postID, userID string) InteractionCallbackData {
	if userID != "" {
		return ephemeral(fmt.Sprintf("✅ **Ban Removed!**\n<@%s> can now bump the recruitment post <#%s> again.", userID, postID))
	}
	return ephemeral(fmt.Sprintf("✅ **Ban Removed!**\nThe recruitment post <#%s> can now be bumped again.", postID))
}

func (bot *botInstance) handleCheckPost(ctx context.Context, i *Interaction) InteractionCallbackData {
	if !i.Member.Has(PermissionAdministrator) {
		return ephemeral(replyAdminOnly)
	}
	postID, ok := targetPost(i)
	if !ok {
		return ephemeral(replyBadPost)
	}

	status, err := bot.engine.Status(ctx, postID)
	if errors.Is(err, forum.ErrNotTracked) {
		return ephemeral(replyUntrackedPost)
	} else if err != nil {
		logging.ExtractLogger(ctx).Error().Err(err).Msg("failed to check post")
		return ephemeral(replyInternalError)
	}
	return ephemeral(bot.engine.RenderStatus(status))
}

func getInteractionOption(opts []ApplicationCommandInteractionDataOption, name string) (ApplicationCommandInteractionDataOption, bool) {
	for _, opt := range opts {
		if opt.Name == name {
			return opt, true
		}
	}

	return ApplicationCommandInteractionDataOption{}, false
}

package admintools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/soch-community/sochbot/src/bot"
	"github.com/soch-community/sochbot/src/config"
	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/discord"
	"github.com/soch-community/sochbot/src/forum"
	"github.com/spf13/cobra"
)

func init() {
	adminCommand := &cobra.Command{
		Use:   "admin",
		Short: "Miscellaneous admin commands",
	}
	bot.BotCommand.AddCommand(adminCommand)

	clearBansCommand := &cobra.Command{
		Use:   "clearbans",
		Short: "Reset every member's strikes and bumping bans in every post",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conn := db.NewConn()
			defer conn.Close(ctx)

			cleared, err := newEngine(conn).ClearAllBans(ctx)
			if err != nil {
				panic(err)
			}

			fmt.Printf("Cleared strikes and bans for %d ledger entries\n", cleared)
		},
	}
	adminCommand.AddCommand(clearBansCommand)

	unbanCommand := &cobra.Command{
		Use:   "unban [thread id] [user id]",
		Short: "Clear strikes and bans in one post, for one member or everyone",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a thread ID.\n\n")
				cmd.Usage()
				os.Exit(1)
			}
			threadID := args[0]
			userID := ""
			if len(args) > 1 {
				userID = args[1]
			}
			moderatorID, _ := cmd.Flags().GetString("moderator")

			ctx := context.Background()
			conn := db.NewConn()
			defer conn.Close(ctx)

			res, err := newEngine(conn).Unban(ctx, threadID, userID, moderatorID)
			if errors.Is(err, forum.ErrNotTracked) {
				fmt.Printf("Thread %s is not tracked\n", threadID)
				os.Exit(1)
			} else if err != nil {
				panic(err)
			}
			fmt.Printf("Cleared strikes and bans for %d ledger entries\n", res.Cleared)

			if config.Config.Discord.BotToken == "" {
				fmt.Printf("No Discord bot token is configured, so the post was not updated.\n")
				return
			}
			executor := discord.NewExecutor(
				forum.NewPgStore(conn),
				func(ctx context.Context, msgs ...discord.MessageToSend) error {
					return discord.SendMessages(ctx, conn, msgs...)
				},
				config.Config.Discord.RequestTimeout,
				config.Config.Discord.LogChannelID,
			)
			executor.Execute(ctx, res.Intents)
			executor.Wait()
		},
	}
	unbanCommand.Flags().String("moderator", config.Config.Discord.BotUserID, "Discord user ID to credit in the audit log")
	adminCommand.AddCommand(unbanCommand)

	statusCommand := &cobra.Command{
		Use:   "status [thread id]",
		Short: "Show a post's owner, last bump, and strikes",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a thread ID.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx := context.Background()
			conn := db.NewConn()
			defer conn.Close(ctx)

			engine := newEngine(conn)
			status, err := engine.Status(ctx, args[0])
			if errors.Is(err, forum.ErrNotTracked) {
				fmt.Printf("Thread %s is not tracked\n", args[0])
				os.Exit(1)
			} else if err != nil {
				panic(err)
			}

			fmt.Printf("Owner:       %s\n", status.Thread.OwnerID)
			fmt.Printf("Last bumped: %s\n", status.Thread.LastBumped.Local().Format(time.RFC1123))
			for _, state := range status.Roster {
				line := fmt.Sprintf("  %s: %d strike(s)", state.ActorID, state.StrikeCount)
				if state.IsBanned(time.Now()) {
					line += fmt.Sprintf(", banned until %s", state.BanExpires.Local().Format(time.RFC1123))
				}
				fmt.Println(line)
			}
		},
	}
	adminCommand.AddCommand(statusCommand)

	sweepCommand := &cobra.Command{
		Use:   "sweep",
		Short: "Delete ledger entries of posts that are no longer tracked",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conn := db.NewConn()
			defer conn.Close(ctx)

			res, err := newEngine(conn).Sweep(ctx)
			if err != nil {
				panic(err)
			}
			fmt.Printf("Pruned %d ledger entries; %d bans are active\n", res.Pruned, res.ActiveBans)
		},
	}
	adminCommand.AddCommand(sweepCommand)
}

func newEngine(conn db.ConnOrTx) *forum.Engine {
	return forum.NewEngine(
		forum.ConfigFromGlobal(),
		forum.NewPgStore(conn),
		discord.NewPlatform(config.Config.Discord.RequestTimeout),
	)
}

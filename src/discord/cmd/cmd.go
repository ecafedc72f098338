package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/soch-community/sochbot/src/bot"
	"github.com/soch-community/sochbot/src/discord"
	"github.com/soch-community/sochbot/src/logging"
	"github.com/spf13/cobra"
)

func init() {
	rootCommand := &cobra.Command{
		Use:   "discord",
		Short: "Commands for interacting with Discord",
	}
	bot.BotCommand.AddCommand(rootCommand)

	registerCommandsCommand := &cobra.Command{
		Use:   "registercommands",
		Short: "Register the bot's slash commands in the configured guild",
		Long:  "Register the bot's slash commands in the configured guild. The bot also does this whenever it connects, so this is only needed when it is not running.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			err := discord.BulkOverwriteGuildApplicationCommands(ctx, discord.ApplicationCommands)
			if err != nil {
				logging.Error().Err(err).Msg("failed to register commands")
				os.Exit(1)
			}
			for _, command := range discord.ApplicationCommands {
				fmt.Printf("/%s\n", command.Name)
			}
		},
	}
	rootCommand.AddCommand(registerCommandsCommand)

	threadCommand := &cobra.Command{
		Use:   "thread <thread id>",
		Short: "Print what Discord knows about a thread",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 {
				fmt.Printf("You must provide a thread ID.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			thread, err := discord.GetChannel(ctx, args[0])
			if err != nil {
				logging.Error().Err(err).Msg("failed to get thread")
				os.Exit(1)
			}
			fmt.Printf("Name:   %s\n", thread.Name)
			fmt.Printf("Owner:  %s\n", thread.OwnerID)
			fmt.Printf("Parent: %s\n", thread.ParentID)
			if thread.ThreadMetadata != nil {
				fmt.Printf("Locked: %v, archived: %v\n", thread.ThreadMetadata.Locked, thread.ThreadMetadata.Archived)
			}
		},
	}
	rootCommand.AddCommand(threadCommand)
}

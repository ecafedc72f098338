package bot

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soch-community/sochbot/src/config"
	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/discord"
	"github.com/soch-community/sochbot/src/forum"
	"github.com/soch-community/sochbot/src/health"
	"github.com/soch-community/sochbot/src/jobs"
	"github.com/soch-community/sochbot/src/logging"
	"github.com/spf13/cobra"
)

var BotCommand = &cobra.Command{
	Use:   "sochbot",
	Short: "Run the SOCH recruitment forum bot",
	Run: func(cmd *cobra.Command, args []string) {
		defer logging.LogPanics(nil)
		logging.Info().Str("env", string(config.Config.Env)).Msg("Starting SOCH Bot")

		conn := db.NewConnPool()
		defer conn.Close()

		forumCfg := forum.ConfigFromGlobal()
		if len(forumCfg.ChannelIDs) == 0 {
			logging.Warn().Msg("No forum channels are configured, so no threads will be policed.")
		}
		engine := forum.NewEngine(
			forumCfg,
			forum.NewPgStore(conn),
			discord.NewPlatform(config.Config.Discord.RequestTimeout),
		)

		sweeper, err := forum.RunSweeper(engine, config.Config.Forum.SweepSchedule)
		if err != nil {
			logging.Fatal().Err(err).Str("schedule", config.Config.Forum.SweepSchedule).Msg("Bad sweep schedule")
		}

		// Start background jobs
		backgroundJobs := jobs.Jobs{
			discord.RunDiscordBot(context.Background(), conn, engine),
			sweeper,
		}
		backgroundJobs = append(backgroundJobs, health.RunFromConfig()...)

		// Wait for SIGINT in the background and trigger graceful shutdown
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			<-signals // First signal (start shutdown)
			logging.Info().Msg("Shutting down SOCH Bot")

			go func() {
				logging.Info().Msg("Shutting down background jobs...")
				unfinished := backgroundJobs.CancelAndWait(10 * time.Second)
				if len(unfinished) == 0 {
					logging.Info().Msg("Background jobs closed gracefully")
				} else {
					logging.Warn().Strs("Unfinished", unfinished).Msg("Background jobs did not finish by the deadline")
				}
				close(done)
			}()

			<-signals // Second signal (force quit)
			logging.Warn().Strs("Unfinished background jobs", backgroundJobs.ListUnfinished()).Msg("Forcibly killed SOCH Bot")
			os.Exit(1)
		}()

		<-done
	},
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

var Config SochConfig

func init() {
	Config = Load()
}

/*
Loads the bot's configuration. Sources, lowest priority first:

  - built-in defaults (see SetDefaults)
  - config.yaml in the working directory
  - environment variables, optionally from a .env file

Environment variables are named after the config key with dots replaced by
underscores, e.g. DISCORD_BOTTOKEN or FORUM_CHANNELIDS. A few older names
(DISCORD_TOKEN, FORUM_CHANNEL_ID, LOG_CHANNEL_ID, GUILD_ID, CLIENT_ID, PORT,
HEALTHCHECK_URL) are still honored.
*/
func Load() SochConfig {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env file: %v\n", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	SetDefaults(v)
	BindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("failed to parse config.yaml: %w", err))
		}
	}

	return FromViper(v)
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("env", string(Dev))
	v.SetDefault("loglevel", "info")

	v.SetDefault("postgres.user", "soch")
	v.SetDefault("postgres.password", "password")
	v.SetDefault("postgres.hostname", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.dbname", "soch")
	v.SetDefault("postgres.loglevel", "warn")
	v.SetDefault("postgres.minconn", 2)
	v.SetDefault("postgres.maxconn", 10)

	v.SetDefault("discord.requesttimeout", 10*time.Second)

	v.SetDefault("forum.bumpcooldown", 6*time.Hour)
	v.SetDefault("forum.strikethreshold", 3)
	v.SetDefault("forum.banduration", 24*time.Hour)
	v.SetDefault("forum.commandprefixes", []string{"/", "!"})
	v.SetDefault("forum.noticettl", 5*time.Second)
	v.SetDefault("forum.remakedelay", 5*time.Second)
	v.SetDefault("forum.sweepschedule", "@daily")

	v.SetDefault("health.addr", ":3000")
	v.SetDefault("health.pinginterval", time.Minute)
}

func BindLegacyEnv(v *viper.Viper) {
	v.BindEnv("discord.bottoken", "DISCORD_BOTTOKEN", "DISCORD_TOKEN")
	v.BindEnv("discord.applicationid", "DISCORD_APPLICATIONID", "CLIENT_ID")
	v.BindEnv("discord.guildid", "DISCORD_GUILDID", "GUILD_ID")
	v.BindEnv("discord.logchannelid", "DISCORD_LOGCHANNELID", "LOG_CHANNEL_ID")
	v.BindEnv("forum.channelids", "FORUM_CHANNELIDS", "FORUM_CHANNEL_ID")
	v.BindEnv("health.pingurl", "HEALTH_PINGURL", "HEALTHCHECK_URL")
}

func FromViper(v *viper.Viper) SochConfig {
	logLevel, err := zerolog.ParseLevel(v.GetString("loglevel"))
	if err != nil {
		panic(fmt.Errorf("bad loglevel: %w", err))
	}
	pgLogLevel, err := tracelog.LogLevelFromString(v.GetString("postgres.loglevel"))
	if err != nil {
		panic(fmt.Errorf("bad postgres.loglevel: %w", err))
	}

	if v.GetInt("forum.strikethreshold") <= 0 {
		panic(fmt.Errorf("bad forum.strikethreshold: must be positive, got %d", v.GetInt("forum.strikethreshold")))
	}
	for _, key := range []string{"forum.bumpcooldown", "forum.banduration", "forum.noticettl", "forum.remakedelay"} {
		if v.GetDuration(key) <= 0 {
			panic(fmt.Errorf("bad %s: must be positive, got %q", key, v.GetString(key)))
		}
	}

	healthAddr := v.GetString("health.addr")
	if port := os.Getenv("PORT"); port != "" {
		healthAddr = ":" + port
	}

	return SochConfig{
		Env:      Environment(v.GetString("env")),
		LogLevel: logLevel,
		Postgres: PostgresConfig{
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Hostname: v.GetString("postgres.hostname"),
			Port:     v.GetInt("postgres.port"),
			DbName:   v.GetString("postgres.dbname"),
			LogLevel: pgLogLevel,
			MinConn:  v.GetInt32("postgres.minconn"),
			MaxConn:  v.GetInt32("postgres.maxconn"),
		},
		Discord: DiscordConfig{
			BotToken:       v.GetString("discord.bottoken"),
			BotUserID:      v.GetString("discord.botuserid"),
			ApplicationID:  v.GetString("discord.applicationid"),
			GuildID:        v.GetString("discord.guildid"),
			LogChannelID:   v.GetString("discord.logchannelid"),
			RequestTimeout: v.GetDuration("discord.requesttimeout"),
		},
		Forum: ForumConfig{
			ChannelIDs:      StringList(v.Get("forum.channelids")),
			BumpCooldown:    v.GetDuration("forum.bumpcooldown"),
			StrikeThreshold: v.GetInt("forum.strikethreshold"),
			BanDuration:     v.GetDuration("forum.banduration"),
			CommandPrefixes: StringList(v.Get("forum.commandprefixes")),
			NoticeTTL:       v.GetDuration("forum.noticettl"),
			RemakeDelay:     v.GetDuration("forum.remakedelay"),
			SweepSchedule:   v.GetString("forum.sweepschedule"),
			RulesChannelID:  v.GetString("forum.ruleschannelid"),
		},
		Health: HealthConfig{
			Addr:         healthAddr,
			PingURL:      v.GetString("health.pingurl"),
			PingInterval: v.GetDuration("health.pinginterval"),
		},
	}
}

// Accepts either a YAML list or a comma-separated string, which is how lists
// arrive from environment variables.
func StringList(val interface{}) []string {
	var raw []string
	switch tval := val.(type) {
	case nil:
		return nil
	case string:
		raw = strings.Split(tval, ",")
	case []string:
		raw = tval
	case []interface{}:
		for _, item := range tval {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = []string{fmt.Sprint(tval)}
	}

	var result []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

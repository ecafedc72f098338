package config

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

type Environment string

const (
	Live Environment = "live"
	Dev  Environment = "dev"
)

type SochConfig struct {
	Env      Environment
	LogLevel zerolog.Level
	Postgres PostgresConfig
	Discord  DiscordConfig
	Forum    ForumConfig
	Health   HealthConfig
}

type PostgresConfig struct {
	User     string
	Password string
	Hostname string
	Port     int
	DbName   string
	LogLevel tracelog.LogLevel
	MinConn  int32 // Min number of connections to keep open in the pool
	MaxConn  int32 // Max number of connections to keep open in the pool
}

func (info PostgresConfig) DSN() string {
	return fmt.Sprintf("user=%s password=%s host=%s port=%d dbname=%s", info.User, info.Password, info.Hostname, info.Port, info.DbName)
}

type DiscordConfig struct {
	BotToken      string
	BotUserID     string
	ApplicationID string
	GuildID       string

	// Staff channel that receives the audit log. Empty disables it.
	LogChannelID string

	// Upper bound on every outbound REST call made on behalf of the forum engine.
	RequestTimeout time.Duration
}

type ForumConfig struct {
	// Forum channels whose threads are policed. Threads anywhere else are ignored.
	ChannelIDs []string

	BumpCooldown    time.Duration
	StrikeThreshold int
	BanDuration     time.Duration

	// Messages starting with one of these are treated as failed command
	// attempts instead of chatter.
	CommandPrefixes []string

	NoticeTTL   time.Duration
	RemakeDelay time.Duration

	// Linked from the rules message. Empty leaves the link out.
	RulesChannelID string

	// Cron spec for the ledger sweep. Empty disables the sweep.
	SweepSchedule string
}

type HealthConfig struct {
	// Address for /health and /metrics. Empty disables the server.
	Addr string

	// External uptime monitor pinged with GET every PingInterval. Empty disables pinging.
	PingURL      string
	PingInterval time.Duration
}

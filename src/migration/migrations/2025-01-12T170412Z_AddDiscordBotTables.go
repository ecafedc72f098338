package migrations

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/soch-community/sochbot/src/migration/types"
	"github.com/soch-community/sochbot/src/oops"
)

func init() {
	registerMigration(AddDiscordBotTables{})
}

type AddDiscordBotTables struct{}

func (m AddDiscordBotTables) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2025, 1, 12, 17, 4, 12, 0, time.UTC))
}

func (m AddDiscordBotTables) Name() string {
	return "AddDiscordBotTables"
}

func (m AddDiscordBotTables) Description() string {
	return "Add the gateway session and the outgoing message queue"
}

func (m AddDiscordBotTables) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		CREATE TABLE discord_session (
			pk INT NOT NULL DEFAULT 1 PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			sequence_number INT NOT NULL,

			CONSTRAINT only_one_session CHECK (pk = 1)
		);
	`)
	if err != nil {
		return oops.New(err, "failed to create discord session table")
	}

	_, err = tx.Exec(ctx, `
		CREATE TABLE discord_outgoing_message (
			id SERIAL NOT NULL PRIMARY KEY,
			channel_id VARCHAR(64) NOT NULL,
			payload_json TEXT NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		);
	`)
	if err != nil {
		return oops.New(err, "failed to create discord outgoing message table")
	}

	return nil
}

func (m AddDiscordBotTables) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		DROP TABLE discord_outgoing_message;
		DROP TABLE discord_session;
	`)
	if err != nil {
		return oops.New(err, "failed to drop discord bot tables")
	}
	return nil
}

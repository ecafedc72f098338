package migrations

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/soch-community/sochbot/src/migration/types"
	"github.com/soch-community/sochbot/src/oops"
)

func init() {
	registerMigration(AddForumTables{})
}

type AddForumTables struct{}

func (m AddForumTables) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2025, 1, 14, 9, 33, 55, 0, time.UTC))
}

func (m AddForumTables) Name() string {
	return "AddForumTables"
}

func (m AddForumTables) Description() string {
	return "Track recruitment threads and per-member bump state"
}

func (m AddForumTables) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		CREATE TABLE tracked_thread (
			thread_id VARCHAR(64) NOT NULL PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			last_bumped TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			content_fingerprint VARCHAR(64)
		);
		CREATE UNIQUE INDEX tracked_thread_owner_id ON tracked_thread (owner_id);
		CREATE INDEX tracked_thread_content_fingerprint ON tracked_thread (content_fingerprint);
	`)
	if err != nil {
		return oops.New(err, "failed to create tracked_thread table")
	}

	_, err = tx.Exec(ctx, `
		CREATE TABLE actor_bump_state (
			thread_id VARCHAR(64) NOT NULL,
			actor_id VARCHAR(64) NOT NULL,
			last_bumped TIMESTAMP WITH TIME ZONE,
			strike_count INT NOT NULL DEFAULT 0,
			ban_expires TIMESTAMP WITH TIME ZONE,

			PRIMARY KEY (thread_id, actor_id),
			CONSTRAINT strike_count_not_negative CHECK (strike_count >= 0)
		);
	`)
	if err != nil {
		return oops.New(err, "failed to create actor_bump_state table")
	}

	return nil
}

func (m AddForumTables) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		DROP TABLE actor_bump_state;
		DROP INDEX tracked_thread_content_fingerprint;
		DROP INDEX tracked_thread_owner_id;
		DROP TABLE tracked_thread;
	`)
	if err != nil {
		return oops.New(err, "failed to drop forum tables")
	}
	return nil
}

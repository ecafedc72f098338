package migrations

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/soch-community/sochbot/src/migration/types"
	"github.com/soch-community/sochbot/src/oops"
)

func init() {
	registerMigration(AddInfoMessageID{})
}

type AddInfoMessageID struct{}

func (m AddInfoMessageID) Version() types.MigrationVersion {
	return types.MigrationVersion(time.Date(2025, 2, 3, 21, 18, 47, 0, time.UTC))
}

func (m AddInfoMessageID) Name() string {
	return "AddInfoMessageID"
}

func (m AddInfoMessageID) Description() string {
	return "Remember the rules message of each thread so the strike roster can be edited in place"
}

func (m AddInfoMessageID) Up(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		ALTER TABLE tracked_thread
			ADD COLUMN info_message_id VARCHAR(64);
	`)
	if err != nil {
		return oops.New(err, "failed to add info_message_id")
	}
	return nil
}

func (m AddInfoMessageID) Down(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `
		ALTER TABLE tracked_thread
			DROP COLUMN info_message_id;
	`)
	if err != nil {
		return oops.New(err, "failed to drop info_message_id")
	}
	return nil
}

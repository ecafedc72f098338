package forum

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/models"
	"github.com/soch-community/sochbot/src/oops"
)

var (
	// The thread ID is already in the registry.
	ErrThreadAlreadyTracked = errors.New("thread is already tracked")
	// The owner already has a tracked thread.
	ErrOwnerHasThread = errors.New("owner already has a tracked thread")
)

/*
Persistent state of the forum: the thread registry and the per-member bump
ledger. Lookups return db.NotFound when nothing matches.

UpdateActor is the only way to change a member's ledger row. It creates the
row with zero values if it does not exist yet, then runs fn with the row
locked so that concurrent updates for the same (thread, member) pair apply
one after the other. If fn returns an error, nothing is written and the
error is returned as is, along with the unchanged row.
*/
type Store interface {
	FindThread(ctx context.Context, threadID string) (*models.TrackedThread, error)
	FindThreadByOwner(ctx context.Context, ownerID string) (*models.TrackedThread, error)
	FindThreadByFingerprint(ctx context.Context, fingerprint string) (*models.TrackedThread, error)
	InsertThread(ctx context.Context, thread models.TrackedThread) error
	DeleteThread(ctx context.Context, threadID string) (bool, error)
	TouchThread(ctx context.Context, threadID string, lastBumped time.Time) error
	SetInfoMessage(ctx context.Context, threadID, messageID string) error

	UpdateActor(ctx context.Context, threadID, actorID string, fn func(state *models.ActorBumpState) error) (*models.ActorBumpState, error)
	ListActors(ctx context.Context, threadID string) ([]*models.ActorBumpState, error)

	// Resets strikes and bans. Empty IDs match everything.
	ClearBans(ctx context.Context, threadID, actorID string) (int64, error)
	PruneOrphanedActors(ctx context.Context) (int64, error)
	CountActiveBans(ctx context.Context, now time.Time) (int64, error)
}

type PgStore struct {
	conn db.ConnOrTx
}

var _ Store = &PgStore{}

func NewPgStore(conn db.ConnOrTx) *PgStore {
	return &PgStore{conn: conn}
}

func (s *PgStore) FindThread(ctx context.Context, threadID string) (*models.TrackedThread, error) {
	return db.QueryOne[models.TrackedThread](ctx, s.conn,
		`
		---- Find tracked thread
		SELECT $columns
		FROM tracked_thread
		WHERE thread_id = $1
		`,
		threadID,
	)
}

func (s *PgStore) FindThreadByOwner(ctx context.Context, ownerID string) (*models.TrackedThread, error) {
	return db.QueryOne[models.TrackedThread](ctx, s.conn,
		`
		---- Find tracked thread by owner
		SELECT $columns
		FROM tracked_thread
		WHERE owner_id = $1
		`,
		ownerID,
	)
}

func (s *PgStore) FindThreadByFingerprint(ctx context.Context, fingerprint string) (*models.TrackedThread, error) {
	return db.QueryOne[models.TrackedThread](ctx, s.conn,
		`
		---- Find tracked thread by fingerprint
		SELECT $columns
		FROM tracked_thread
		WHERE content_fingerprint = $1
		ORDER BY last_bumped DESC
		LIMIT 1
		`,
		fingerprint,
	)
}

func (s *PgStore) InsertThread(ctx context.Context, thread models.TrackedThread) error {
	_, err := s.conn.Exec(ctx,
		`
		---- Track thread
		INSERT INTO tracked_thread (thread_id, owner_id, last_bumped, content_fingerprint)
		VALUES ($1, $2, $3, $4)
		`,
		thread.ThreadID,
		thread.OwnerID,
		thread.LastBumped,
		thread.ContentFingerprint,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "tracked_thread_owner_id" {
			return ErrOwnerHasThread
		}
		return ErrThreadAlreadyTracked
	}
	if err != nil {
		return oops.New(err, "failed to insert tracked thread")
	}
	return nil
}

func (s *PgStore) DeleteThread(ctx context.Context, threadID string) (bool, error) {
	tag, err := s.conn.Exec(ctx,
		`
		---- Untrack thread
		DELETE FROM tracked_thread
		WHERE thread_id = $1
		`,
		threadID,
	)
	if err != nil {
		return false, oops.New(err, "failed to delete tracked thread")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) TouchThread(ctx context.Context, threadID string, lastBumped time.Time) error {
	_, err := s.conn.Exec(ctx,
		`
		---- Touch tracked thread
		UPDATE tracked_thread
		SET last_bumped = $2
		WHERE thread_id = $1
		`,
		threadID,
		lastBumped,
	)
	if err != nil {
		return oops.New(err, "failed to update thread bump time")
	}
	return nil
}

func (s *PgStore) SetInfoMessage(ctx context.Context, threadID, messageID string) error {
	_, err := s.conn.Exec(ctx,
		`
		---- Set info message
		UPDATE tracked_thread
		SET info_message_id = $2
		WHERE thread_id = $1
		`,
		threadID,
		messageID,
	)
	if err != nil {
		return oops.New(err, "failed to record info message")
	}
	return nil
}

func (s *PgStore) UpdateActor(
	ctx context.Context,
	threadID, actorID string,
	fn func(state *models.ActorBumpState) error,
) (*models.ActorBumpState, error) {
	// Created outside the transaction so that the row exists even if fn
	// rejects the update.
	_, err := s.conn.Exec(ctx,
		`
		---- Ensure actor state
		INSERT INTO actor_bump_state (thread_id, actor_id)
		VALUES ($1, $2)
		ON CONFLICT (thread_id, actor_id) DO NOTHING
		`,
		threadID,
		actorID,
	)
	if err != nil {
		return nil, oops.New(err, "failed to create actor state")
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, oops.New(err, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	state, err := db.QueryOne[models.ActorBumpState](ctx, tx,
		`
		---- Lock actor state
		SELECT $columns
		FROM actor_bump_state
		WHERE thread_id = $1 AND actor_id = $2
		FOR UPDATE
		`,
		threadID,
		actorID,
	)
	if err != nil {
		return nil, oops.New(err, "failed to lock actor state")
	}

	if err := fn(state); err != nil {
		return state, err
	}

	_, err = tx.Exec(ctx,
		`
		---- Update actor state
		UPDATE actor_bump_state
		SET
			last_bumped = $3,
			strike_count = $4,
			ban_expires = $5
		WHERE thread_id = $1 AND actor_id = $2
		`,
		threadID,
		actorID,
		state.LastBumped,
		state.StrikeCount,
		state.BanExpires,
	)
	if err != nil {
		return nil, oops.New(err, "failed to update actor state")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.New(err, "failed to commit actor state")
	}
	return state, nil
}

func (s *PgStore) ListActors(ctx context.Context, threadID string) ([]*models.ActorBumpState, error) {
	states, err := db.Query[models.ActorBumpState](ctx, s.conn,
		`
		---- List actor states
		SELECT $columns
		FROM actor_bump_state
		WHERE thread_id = $1
		ORDER BY actor_id
		`,
		threadID,
	)
	if err != nil {
		return nil, oops.New(err, "failed to list actor states")
	}
	return states, nil
}

func (s *PgStore) ClearBans(ctx context.Context, threadID, actorID string) (int64, error) {
	var qb db.QueryBuilder
	qb.Add(`
		---- Clear bans
		UPDATE actor_bump_state
		SET strike_count = 0, ban_expires = NULL
		WHERE TRUE
	`)
	if threadID != "" {
		qb.Add(`AND thread_id = $?`, threadID)
	}
	if actorID != "" {
		qb.Add(`AND actor_id = $?`, actorID)
	}

	tag, err := s.conn.Exec(ctx, qb.String(), qb.Args()...)
	if err != nil {
		return 0, oops.New(err, "failed to clear bans")
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) PruneOrphanedActors(ctx context.Context) (int64, error) {
	tag, err := s.conn.Exec(ctx,
		`
		---- Prune orphaned actor states
		DELETE FROM actor_bump_state AS s
		WHERE NOT EXISTS (
			SELECT 1 FROM tracked_thread AS t
			WHERE t.thread_id = s.thread_id
		)
		`,
	)
	if err != nil {
		return 0, oops.New(err, "failed to prune orphaned actor states")
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) CountActiveBans(ctx context.Context, now time.Time) (int64, error) {
	count, err := db.QueryOneScalar[int64](ctx, s.conn,
		`
		---- Count active bans
		SELECT COUNT(*)
		FROM actor_bump_state
		WHERE ban_expires > $1
		`,
		now,
	)
	if err != nil {
		return 0, oops.New(err, "failed to count active bans")
	}
	return count, nil
}

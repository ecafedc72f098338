package forum

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Records statements and fails them with a canned error. Anything it does
// not override panics through the nil embedded interface.
type scriptedConn struct {
	db.ConnOrTx
	execErr  error
	beginErr error
	execs    []string
}

func (c *scriptedConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, sql)
	return pgconn.CommandTag{}, c.execErr
}

func (c *scriptedConn) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, c.beginErr
}

func TestPgStoreInsertThreadConflicts(t *testing.T) {
	thread := models.TrackedThread{ThreadID: "T2", OwnerID: "U1", LastBumped: epoch}

	t.Run("same owner", func(t *testing.T) {
		conn := &scriptedConn{execErr: &pgconn.PgError{Code: "23505", ConstraintName: "tracked_thread_owner_id"}}
		err := NewPgStore(conn).InsertThread(context.Background(), thread)
		assert.ErrorIs(t, err, ErrOwnerHasThread)
	})

	t.Run("same thread", func(t *testing.T) {
		conn := &scriptedConn{execErr: &pgconn.PgError{Code: "23505", ConstraintName: "tracked_thread_pkey"}}
		err := NewPgStore(conn).InsertThread(context.Background(), thread)
		assert.ErrorIs(t, err, ErrThreadAlreadyTracked)
	})

	t.Run("other failure", func(t *testing.T) {
		conn := &scriptedConn{execErr: &pgconn.PgError{Code: "23502", ConstraintName: "tracked_thread_owner_id"}}
		err := NewPgStore(conn).InsertThread(context.Background(), thread)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrOwnerHasThread))
		assert.False(t, errors.Is(err, ErrThreadAlreadyTracked))
	})

	t.Run("ok", func(t *testing.T) {
		conn := &scriptedConn{}
		assert.Nil(t, NewPgStore(conn).InsertThread(context.Background(), thread))
		require.Len(t, conn.execs, 1)
		name, ok := db.GetQueryName(conn.execs[0])
		assert.True(t, ok)
		assert.Equal(t, "Track thread", name)
	})
}

func TestPgStoreUpdateActorCreatesRowFirst(t *testing.T) {
	conn := &scriptedConn{beginErr: errors.New("no transactions today")}
	called := false
	_, err := NewPgStore(conn).UpdateActor(context.Background(), "T1", "A", func(state *models.ActorBumpState) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)

	// The row is created before the locked read so that FOR UPDATE always
	// has something to lock.
	require.Len(t, conn.execs, 1)
	assert.Contains(t, conn.execs[0], "ON CONFLICT (thread_id, actor_id) DO NOTHING")
}

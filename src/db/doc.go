/*
This package contains lowish-level APIs for making database queries to our Postgres database. It streamlines the process of mapping query results to Go types, while allowing you to write arbitrary SQL queries.

Query syntax

Arguments can be provided using placeholders like $1, $2, etc. All arguments will be safely escaped and mapped from their Go type to the correct Postgres type. (This is a direct proxy to pgx.)

	threadIDs, err := db.QueryScalar[string](ctx, conn,
		`
		SELECT thread_id
		FROM tracked_thread
		WHERE owner_id = ANY($1)
		`,
		[]string{"132715550571888640", "745036422834028565"},
	)

(This also demonstrates a useful tip: if you want to use a slice in your query, use Postgres arrays instead of IN.)

To query multiple columns at once, you may use a struct type with `db:"column_name"` tags, and the special $columns placeholder:

	type TrackedThread struct {
		ThreadID   string    `db:"thread_id"`
		OwnerID    string    `db:"owner_id"`
		LastBumped time.Time `db:"last_bumped"`
	}
	threads, err := db.Query[TrackedThread](ctx, conn, `SELECT $columns FROM tracked_thread`)
	// Resulting query:
	// SELECT thread_id, owner_id, last_bumped FROM tracked_thread

Sometimes a table name prefix is required on each column to disambiguate between column names, especially when performing a JOIN. In those situations, you can include the prefix in the $columns placeholder like $columns{prefix}:

	states, err := db.Query[ActorBumpState](ctx, conn, `
		SELECT $columns{s}
		FROM
			actor_bump_state AS s
			LEFT JOIN tracked_thread AS t ON t.thread_id = s.thread_id
		WHERE
			t.thread_id IS NULL
	`)
	// Resulting query:
	// SELECT s.thread_id, s.actor_id, ... FROM ...

Structs must be flat, and nullable columns should be pointer fields.

A query may be given a name for the query duration metrics by starting it with a line like `---- Find thread by owner`.
*/
package db

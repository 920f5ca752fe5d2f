// Package postgres implements eventstore.EventStore against a Postgres
// `events` table, adapted from the teacher's
// pkg/dcb/store_implementation.go (buildReadQuerySQL's AND-within-item/
// OR-across-items predicate shape, `tags @> $N::text[]` array-contains
// matching, `type = ANY($N::text[])`) and pkg/dcb/append_events.go's
// conflict-check-then-insert transaction discipline.
//
// No schema.sql for this table exists anywhere in the retrieval pack
// (the teacher's own docker-entrypoint-initdb.d/schema.sql was not
// retrieved), so CreateSchemaSQL is authored directly from this
// package's own column choices plus spec.md §6's tag/type encoding.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/go-dcb/runtime/eventstore"
)

// DefaultTable is the events table name CreateSchemaSQL and Store
// assume when no override is configured.
const DefaultTable = "events"

// CreateSchemaSQL returns the DDL for the events table: a
// monotonically increasing position, the event's type, its tags as a
// Postgres text array (matched via @>), and its opaque envelope-wrapped
// payload.
func CreateSchemaSQL(table string) string {
	if table == "" {
		table = DefaultTable
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	position   BIGSERIAL PRIMARY KEY,
	type       TEXT NOT NULL,
	tags       TEXT[] NOT NULL DEFAULT '{}',
	data       BYTEA NOT NULL,
	event_uuid UUID NOT NULL
);
CREATE INDEX IF NOT EXISTS %s_type_idx ON %s USING btree (type);
CREATE INDEX IF NOT EXISTS %s_tags_idx ON %s USING gin (tags)`,
		table, table, table, table, table)
}

// Store implements eventstore.EventStore against Postgres.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// New returns a Store reading/writing table (DefaultTable if empty).
func New(pool *pgxpool.Pool, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{pool: pool, table: table}
}

func (s *Store) Head(ctx context.Context) (uint64, error) {
	var head int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COALESCE(MAX(position), 0) FROM %s", s.table)).Scan(&head)
	if err != nil {
		return 0, &eventstore.TransportError{StoreError: eventstore.StoreError{Op: "Head", Err: err}}
	}
	return uint64(head), nil
}

func (s *Store) Read(ctx context.Context, query eventstore.DCBQuery, opts eventstore.ReadOptions) (eventstore.EventStream, error) {
	sqlQuery, args := buildReadQuerySQL(s.table, query, opts)

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, &eventstore.TransportError{StoreError: eventstore.StoreError{Op: "Read", Err: err}}
	}
	return &rowStream{rows: rows}, nil
}

func (s *Store) Append(ctx context.Context, events []eventstore.DCBEvent, condition *eventstore.AppendCondition) (uint64, error) {
	if len(events) == 0 {
		return 0, &eventstore.ValidationError{
			StoreError: eventstore.StoreError{Op: "Append", Err: fmt.Errorf("events must not be empty")},
			Field:      "events",
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return 0, &eventstore.TransportError{StoreError: eventstore.StoreError{Op: "Append", Err: err}}
	}
	defer tx.Rollback(ctx)

	if condition != nil {
		conflictSQL, args := buildConflictCheckSQL(s.table, condition.FailIfEventsMatch, condition.After)
		var count int64
		if err := tx.QueryRow(ctx, conflictSQL, args...).Scan(&count); err != nil {
			return 0, &eventstore.TransportError{StoreError: eventstore.StoreError{Op: "Append", Err: err}}
		}
		if count > 0 {
			head, _ := s.headInTx(ctx, tx)
			return 0, &eventstore.IntegrityConflictError{
				StoreError:    eventstore.StoreError{Op: "Append", Err: fmt.Errorf("append condition matched %d existing event(s)", count)},
				ExpectedAfter: condition.After,
				ActualHead:    head,
			}
		}
	}

	var newHead int64
	for _, e := range events {
		if err := tx.QueryRow(ctx,
			fmt.Sprintf("INSERT INTO %s (type, tags, data, event_uuid) VALUES ($1, $2, $3, $4) RETURNING position", s.table),
			e.Type, tagStrings(e.Tags), e.Data, e.UUID,
		).Scan(&newHead); err != nil {
			return 0, &eventstore.TransportError{StoreError: eventstore.StoreError{Op: "Append", Err: err}}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &eventstore.TransportError{StoreError: eventstore.StoreError{Op: "Append", Err: err}}
	}
	return uint64(newHead), nil
}

func (s *Store) headInTx(ctx context.Context, tx pgx.Tx) (uint64, error) {
	var head int64
	err := tx.QueryRow(ctx, fmt.Sprintf("SELECT COALESCE(MAX(position), 0) FROM %s", s.table)).Scan(&head)
	return uint64(head), err
}

func tagStrings(tags []eventstore.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// queryPredicateSQL mirrors the teacher's buildReadQuerySQL: one
// parenthesized AND-group per query item (type = ANY(...) AND tags @>
// ...), joined with OR across items, AND'd with a position > $from
// predicate. argIndex is the first placeholder number to use.
func queryPredicateSQL(query eventstore.DCBQuery, from uint64, argIndex int) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if len(query.Items) > 0 {
		var orConditions []string
		for _, item := range query.Items {
			var andConditions []string
			if len(item.Types) > 0 {
				andConditions = append(andConditions, fmt.Sprintf("type = ANY($%d::text[])", argIndex))
				args = append(args, item.Types)
				argIndex++
			}
			if len(item.Tags) > 0 {
				andConditions = append(andConditions, fmt.Sprintf("tags @> $%d::text[]", argIndex))
				args = append(args, tagStrings(item.Tags))
				argIndex++
			}
			if len(andConditions) > 0 {
				orConditions = append(orConditions, "("+strings.Join(andConditions, " AND ")+")")
			}
		}
		if len(orConditions) > 0 {
			conditions = append(conditions, "("+strings.Join(orConditions, " OR ")+")")
		}
	}

	conditions = append(conditions, fmt.Sprintf("position > $%d", argIndex))
	args = append(args, int64(from))

	return strings.Join(conditions, " AND "), args
}

func buildReadQuerySQL(table string, query eventstore.DCBQuery, opts eventstore.ReadOptions) (string, []interface{}) {
	where, args := queryPredicateSQL(query, opts.From, 1)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT event_uuid, type, tags, data, position FROM %s WHERE %s", table, where)
	if opts.Descending {
		b.WriteString(" ORDER BY position DESC")
	} else {
		b.WriteString(" ORDER BY position ASC")
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}

	return b.String(), args
}

// buildConflictCheckSQL builds a COUNT(*) query over the same predicate
// shape as buildReadQuerySQL, restricted to events at a position
// strictly greater than after — this is the append-condition check.
func buildConflictCheckSQL(table string, query eventstore.DCBQuery, after uint64) (string, []interface{}) {
	where, args := queryPredicateSQL(query, after, 1)
	sqlQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, where)
	return sqlQuery, args
}

type rowStream struct {
	rows pgx.Rows
}

func (r *rowStream) Next(ctx context.Context) (eventstore.SequencedEvent, bool, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return eventstore.SequencedEvent{}, false, &eventstore.TransportError{StoreError: eventstore.StoreError{Op: "Read.Next", Err: err}}
		}
		return eventstore.SequencedEvent{}, false, nil
	}

	var (
		uuidStr  string
		typ      string
		tags     []string
		data     []byte
		position int64
	)
	if err := r.rows.Scan(&uuidStr, &typ, &tags, &data, &position); err != nil {
		return eventstore.SequencedEvent{}, false, &eventstore.TransportError{StoreError: eventstore.StoreError{Op: "Read.Next", Err: err}}
	}

	return eventstore.SequencedEvent{
		Position: uint64(position),
		Event: eventstore.DCBEvent{
			Type: typ,
			Tags: tagsFromStrings(tags),
			Data: data,
			UUID: uuidStr,
		},
	}, true, nil
}

func (r *rowStream) Close() error {
	r.rows.Close()
	return nil
}

func tagsFromStrings(ss []string) []eventstore.Tag {
	out := make([]eventstore.Tag, 0, len(ss))
	for _, s := range ss {
		key, value, _ := strings.Cut(s, ":")
		out = append(out, eventstore.Tag{Key: key, Value: value})
	}
	return out
}

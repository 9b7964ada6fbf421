package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	pgmqReadQuery   = `SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read($1, $2, $3)`
	pgmqSendQuery   = `SELECT pgmq.send($1, $2::jsonb, $3)`
	pgmqDeleteQuery = `SELECT pgmq.delete($1, $2::bigint)`
	pgmqSetVTQuery  = `SELECT msg_id FROM pgmq.set_vt($1, $2::bigint, $3)`
	pgmqExistsQuery = `SELECT EXISTS (SELECT 1 FROM pgmq.list_queues() WHERE queue_name = $1)`
)

// PGMQ is a Queue over the pgmq Postgres extension.
type PGMQ struct {
	db   DB
	name string
}

func NewPGMQ(db DB, name string) (*PGMQ, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	return &PGMQ{db: db, name: name}, nil
}

func (q *PGMQ) Read(ctx context.Context, n int, visibility time.Duration) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := q.db.QueryContext(ctx, pgmqReadQuery, q.name, seconds(visibility), n)
	if err != nil {
		return nil, fmt.Errorf("pgmq read: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, n)
	for rows.Next() {
		var msg Message
		var body []byte
		if err := rows.Scan(&msg.ID, &msg.ReadCount, &msg.EnqueuedAt, &body); err != nil {
			return nil, fmt.Errorf("pgmq scan: %w", err)
		}
		msg.EnqueuedAt = msg.EnqueuedAt.UTC()
		msg.Body = body
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq rows: %w", err)
	}
	return out, nil
}

func (q *PGMQ) Send(ctx context.Context, body []byte, delay time.Duration) (int64, error) {
	var id int64
	if err := q.db.QueryRowContext(ctx, pgmqSendQuery, q.name, body, seconds(delay)).Scan(&id); err != nil {
		return 0, fmt.Errorf("pgmq send: %w", err)
	}
	return id, nil
}

func (q *PGMQ) Delete(ctx context.Context, id int64) error {
	var deleted bool
	if err := q.db.QueryRowContext(ctx, pgmqDeleteQuery, q.name, id).Scan(&deleted); err != nil {
		return fmt.Errorf("pgmq delete %d: %w", id, err)
	}
	return nil
}

func (q *PGMQ) Retain(ctx context.Context, id int64, delay time.Duration) error {
	var got int64
	err := q.db.QueryRowContext(ctx, pgmqSetVTQuery, q.name, id, seconds(delay)).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pgmq set_vt %d: %w", id, err)
	}
	return nil
}

func (q *PGMQ) Check(ctx context.Context) error {
	var exists bool
	if err := q.db.QueryRowContext(ctx, pgmqExistsQuery, q.name).Scan(&exists); err != nil {
		return fmt.Errorf("pgmq list_queues: %w", err)
	}
	if !exists {
		return fmt.Errorf("pgmq queue missing: %s", q.name)
	}
	return nil
}

var _ Queue = (*PGMQ)(nil)

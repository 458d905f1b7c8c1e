package dispatchqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresQueue implements Queue on a Postgres table. Receive claims rows
// with FOR UPDATE SKIP LOCKED and deletes them in the same transaction, so
// concurrent consumers never double-claim within one delivery attempt.
type PostgresQueue struct {
	db   *sql.DB
	name string
}

// NewPostgresQueue ensures the schema exists and returns a queue scoped to
// the given queue name.
func NewPostgresQueue(db *sql.DB, name string) (*PostgresQueue, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	q := &PostgresQueue{db: db, name: name}
	if err := q.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return q, nil
}

func (q *PostgresQueue) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS task_dispatch_queue (
  id bigserial PRIMARY KEY,
  queue_name text NOT NULL,
  payload jsonb NOT NULL,
  enqueued_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_task_dispatch_queue_name
  ON task_dispatch_queue (queue_name, id);
`
	_, err := q.db.Exec(ddl)
	return err
}

func (q *PostgresQueue) Send(ctx context.Context, msg *TaskMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO task_dispatch_queue (queue_name, payload) VALUES ($1, $2)
	`, q.name, payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue task message: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Receive(ctx context.Context, max int) ([]*TaskMessage, error) {
	if max <= 0 {
		max = 10
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload FROM task_dispatch_queue
		WHERE queue_name = $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, q.name, max)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task messages: %w", err)
	}

	var ids []int64
	var messages []*TaskMessage
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task message: %w", err)
		}
		msg := &TaskMessage{}
		if err := json.Unmarshal(payload, msg); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal task message %d: %w", id, err)
		}
		ids = append(ids, id)
		messages = append(messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_dispatch_queue WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("failed to delete claimed message %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return messages, nil
}

var _ Queue = (*PostgresQueue)(nil)

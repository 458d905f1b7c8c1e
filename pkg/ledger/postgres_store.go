package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by Postgres.
type PostgresStore struct {
	db        *sql.DB
	retention time.Duration
	now       func() time.Time
}

// NewPostgresStore reuses an existing *sql.DB (for example opened via
// pgx/stdlib) and ensures the schema exists. retention <= 0 falls back to
// DefaultRetention.
func NewPostgresStore(db *sql.DB, retention time.Duration) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	store := &PostgresStore{db: db, retention: retention, now: time.Now}
	if err := store.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS etl_log (
  execution_name text NOT NULL,
  task_id text NOT NULL,
  parent_task_id text NOT NULL DEFAULT '',
  pipeline_id text NOT NULL DEFAULT '',
  state_machine_name text NOT NULL DEFAULT '',
  state_name text NOT NULL DEFAULT '',
  function_name text NOT NULL DEFAULT '',
  api text NOT NULL DEFAULT '',
  data text NOT NULL DEFAULT '',
  start_time text NOT NULL DEFAULT '',
  end_time text NOT NULL DEFAULT '',
  status text NOT NULL,
  pipeline_index_key text NOT NULL DEFAULT '',
  expiration_time bigint NOT NULL DEFAULT 0,
  PRIMARY KEY (execution_name, task_id)
);

CREATE INDEX IF NOT EXISTS idx_etl_log_pipeline_time
  ON etl_log (pipeline_index_key, start_time DESC, task_id DESC);
CREATE INDEX IF NOT EXISTS idx_etl_log_parent
  ON etl_log (execution_name, parent_task_id);
CREATE INDEX IF NOT EXISTS idx_etl_log_expiration
  ON etl_log (expiration_time);
`
	_, err := s.db.Exec(ddl)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, entry *Entry) error {
	now := s.now()
	indexKey := entry.PipelineIndexKey
	if indexKey == "" {
		indexKey = IndexKey(entry.PipelineID, entry.StateMachineName, entry.TaskID)
	}
	startTime := entry.StartTime
	if startTime == "" {
		startTime = now.UTC().Format(TimeLayout)
	}
	expiration := now.Add(s.retention).Unix()

	// start_time survives upserts: it is set exactly once, at creation.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO etl_log
		(execution_name, task_id, parent_task_id, pipeline_id, state_machine_name,
		 state_name, function_name, api, data, start_time, end_time, status,
		 pipeline_index_key, expiration_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (execution_name, task_id) DO UPDATE SET
			parent_task_id = EXCLUDED.parent_task_id,
			pipeline_id = EXCLUDED.pipeline_id,
			state_machine_name = EXCLUDED.state_machine_name,
			state_name = EXCLUDED.state_name,
			function_name = EXCLUDED.function_name,
			api = EXCLUDED.api,
			data = EXCLUDED.data,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			pipeline_index_key = EXCLUDED.pipeline_index_key,
			expiration_time = EXCLUDED.expiration_time
	`, entry.ExecutionName, entry.TaskID, entry.ParentTaskID, entry.PipelineID,
		entry.StateMachineName, entry.StateName, entry.FunctionName, entry.API,
		entry.Data, startTime, entry.EndTime, string(entry.Status), indexKey, expiration)
	if err != nil {
		return fmt.Errorf("failed to put ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, executionName, taskID string, status Status, endTime, data string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE etl_log
		SET status = $1,
		    end_time = $2,
		    data = CASE WHEN $3 = '' THEN data ELSE $3 END
		WHERE execution_name = $4 AND task_id = $5
	`, string(status), endTime, data, executionName, taskID)
	if err != nil {
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const entryColumns = `execution_name, task_id, parent_task_id, pipeline_id,
	state_machine_name, state_name, function_name, api, data, start_time,
	end_time, status, pipeline_index_key, expiration_time`

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	entry := &Entry{}
	var status string
	err := row.Scan(&entry.ExecutionName, &entry.TaskID, &entry.ParentTaskID,
		&entry.PipelineID, &entry.StateMachineName, &entry.StateName,
		&entry.FunctionName, &entry.API, &entry.Data, &entry.StartTime,
		&entry.EndTime, &status, &entry.PipelineIndexKey, &entry.ExpirationTime)
	if err != nil {
		return nil, err
	}
	entry.Status = Status(status)
	return entry, nil
}

func (s *PostgresStore) Get(ctx context.Context, executionName, taskID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM etl_log
		WHERE execution_name = $1 AND task_id = $2
	`, executionName, taskID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListChildren(ctx context.Context, executionName, parentTaskID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+` FROM etl_log
		WHERE execution_name = $1 AND parent_task_id = $2
	`, executionName, parentTaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var children []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		children = append(children, entry)
	}
	return children, rows.Err()
}

func (s *PostgresStore) QueryByPipelineTimeRange(ctx context.Context, q TimeRangeQuery) (*TimeRangePage, error) {
	query := strings.Builder{}
	query.WriteString("SELECT " + entryColumns + " FROM etl_log WHERE pipeline_index_key = $1")
	args := []any{q.PipelineIndexKey}
	argNum := 2

	if q.StartTime != "" {
		query.WriteString(fmt.Sprintf(" AND start_time >= $%d", argNum))
		args = append(args, q.StartTime)
		argNum++
	}
	if q.EndTime != "" {
		query.WriteString(fmt.Sprintf(" AND start_time <= $%d", argNum))
		args = append(args, q.EndTime)
		argNum++
	}
	if q.Status != "" {
		query.WriteString(fmt.Sprintf(" AND status = $%d", argNum))
		args = append(args, string(q.Status))
		argNum++
	}
	if q.Cursor != "" {
		curStart, curTask, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		query.WriteString(fmt.Sprintf(" AND (start_time, task_id) < ($%d, $%d)", argNum, argNum+1))
		args = append(args, curStart, curTask)
		argNum += 2
	}

	query.WriteString(" ORDER BY start_time DESC, task_id DESC")
	if q.Limit > 0 {
		// Fetch one extra row to decide whether a next page exists.
		query.WriteString(fmt.Sprintf(" LIMIT $%d", argNum))
		args = append(args, q.Limit+1)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query time range: %w", err)
	}
	defer rows.Close()

	page := &TimeRangePage{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		page.Items = append(page.Items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(page.Items) > q.Limit {
		page.Items = page.Items[:q.Limit]
		last := page.Items[len(page.Items)-1]
		page.NextCursor = encodeCursor(last.StartTime, last.TaskID)
	}
	return page, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM etl_log WHERE expiration_time > 0 AND expiration_time <= $1
	`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}
	purged, _ := result.RowsAffected()
	return purged, nil
}

var _ Store = (*PostgresStore)(nil)

package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/metalagman/steward/internal/db"
)

// SQLStore persists tasks in the thread_tasks table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a task store.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert stores a new task.
func (s *SQLStore) Insert(ctx context.Context, t Task) error {
	var payload any
	if len(t.Payload) > 0 {
		data, err := json.Marshal(t.Payload)
		if err != nil {
			return fmt.Errorf("marshal task payload: %w", err)
		}
		payload = string(data)
	}
	ts := db.FormatTime(t.CreatedAt)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO thread_tasks(id, thread_key, priority, payload, status, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`, t.ID, t.ThreadKey, t.Priority, payload, string(t.Status), ts, ts); err != nil {
		return fmt.Errorf("insert thread task: %w", err)
	}
	return nil
}

// SetStatus updates the status of a task.
func (s *SQLStore) SetStatus(ctx context.Context, id string, status Status) error {
	now := db.FormatTime(time.Now())
	res, err := s.db.ExecContext(ctx, `UPDATE thread_tasks SET status=?, updated_at=? WHERE id=?`, string(status), now, id)
	if err != nil {
		return fmt.Errorf("update thread task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("thread task %s not found", id)
	}
	return nil
}

// Pending returns queued and running tasks in creation order.
func (s *SQLStore) Pending(ctx context.Context) ([]Task, error) {
	return s.query(ctx, `WHERE status IN ('queued', 'running')`)
}

// List returns tasks filtered by status (optional), oldest first.
func (s *SQLStore) List(ctx context.Context, status *Status) ([]Task, error) {
	if status != nil {
		return s.query(ctx, `WHERE status=?`, string(*status))
	}
	return s.query(ctx, "")
}

func (s *SQLStore) query(ctx context.Context, where string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, thread_key, priority, payload, status, created_at FROM thread_tasks `+where+` ORDER BY created_at, rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("query thread tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var (
			t         Task
			payload   sql.NullString
			status    string
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.ThreadKey, &t.Priority, &payload, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan thread task: %w", err)
		}
		t.Status = Status(status)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &t.Payload); err != nil {
				return nil, fmt.Errorf("parse payload of task %s: %w", t.ID, err)
			}
		}
		if ts, err := db.ParseTime(createdAt); err == nil {
			t.CreatedAt = ts
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread tasks: %w", err)
	}
	return out, nil
}

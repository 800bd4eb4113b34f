package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/metalagman/steward/internal/db"
	"github.com/metalagman/steward/internal/model"
)

// ErrNotFound is returned when a cycle id is not archived.
var ErrNotFound = errors.New("cycle not found")

// Encoder and decoder are safe for concurrent use.
var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("history: zstd encoder initialization failed: " + err.Error())
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("history: zstd decoder initialization failed: " + err.Error())
	}
}

// Summary is the listing row of an archived cycle.
type Summary struct {
	ID          string            `json:"cycle_id"`
	TriggerType model.TriggerType `json:"trigger_type"`
	TriggerName string            `json:"trigger_name,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Agents      int               `json:"agents"`
	Surfaced    int               `json:"surfaced"`
	Errors      int               `json:"errors"`
}

// Archive persists cycles in the cycles table as zstd-compressed JSON.
type Archive struct {
	db *sql.DB
}

// NewArchive creates a cycle archive.
func NewArchive(db *sql.DB) *Archive {
	return &Archive{db: db}
}

// Save stores c, replacing an earlier record with the same id.
func (a *Archive) Save(ctx context.Context, c model.Cycle) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cycle: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, `INSERT OR REPLACE INTO cycles(cycle_id, trigger_type, trigger_name, started_at, completed_at, agents, surfaced, errors, body_zstd)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.Trigger.Type), c.Trigger.Name,
		db.FormatTime(c.StartedAt), db.FormatTime(c.CompletedAt),
		len(c.AgentsSpawned), len(c.Surfaced), len(c.Errors),
		encoder.EncodeAll(body, nil)); err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// Get loads a full cycle.
func (a *Archive) Get(ctx context.Context, id string) (model.Cycle, error) {
	var blob []byte
	err := a.db.QueryRowContext(ctx, `SELECT body_zstd FROM cycles WHERE cycle_id=?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Cycle{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Cycle{}, fmt.Errorf("query cycle: %w", err)
	}
	body, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return model.Cycle{}, fmt.Errorf("zstd decompress: %w", err)
	}
	var c model.Cycle
	if err := json.Unmarshal(body, &c); err != nil {
		return model.Cycle{}, fmt.Errorf("decode cycle: %w", err)
	}
	return c, nil
}

// List returns up to limit summaries, newest first. limit <= 0 means no limit.
func (a *Archive) List(ctx context.Context, limit int) ([]Summary, error) {
	query := `SELECT cycle_id, trigger_type, trigger_name, started_at, completed_at, agents, surfaced, errors
		FROM cycles ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			s                  Summary
			triggerType        string
			name               sql.NullString
			started, completed string
		)
		if err := rows.Scan(&s.ID, &triggerType, &name, &started, &completed, &s.Agents, &s.Surfaced, &s.Errors); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		s.TriggerType = model.TriggerType(triggerType)
		s.TriggerName = name.String
		s.StartedAt, _ = db.ParseTime(started)
		s.CompletedAt, _ = db.ParseTime(completed)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return out, nil
}

// Summarize builds the listing row of c.
func Summarize(c model.Cycle) Summary {
	return Summary{
		ID:          c.ID,
		TriggerType: c.Trigger.Type,
		TriggerName: c.Trigger.Name,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		Agents:      len(c.AgentsSpawned),
		Surfaced:    len(c.Surfaced),
		Errors:      len(c.Errors),
	}
}

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps sessions in the sessions table created by the migrations.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type sessionRow struct {
	State     string    `db:"state"`
	Fields    []byte    `db:"fields"`
	TempData  []byte    `db:"temp_data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get loads the session row for id.
func (p *PostgresStore) Get(ctx context.Context, id int64) (*Session, bool, error) {
	var row sessionRow
	err := p.db.GetContext(ctx, &row,
		`SELECT state, fields, temp_data, created_at, updated_at FROM sessions WHERE session_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select session %d: %w", id, err)
	}
	sess := &Session{State: State(row.State), CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt}
	if err := json.Unmarshal(row.Fields, &sess.Fields); err != nil {
		return nil, false, fmt.Errorf("decode fields of session %d: %w", id, err)
	}
	if err := json.Unmarshal(row.TempData, &sess.TempData); err != nil {
		return nil, false, fmt.Errorf("decode temp data of session %d: %w", id, err)
	}
	return sess, true, nil
}

// Set upserts the session row.
func (p *PostgresStore) Set(ctx context.Context, id int64, sess *Session) error {
	if sess == nil {
		return ErrNilSession
	}
	fields, err := json.Marshal(nonNil(sess.Fields))
	if err != nil {
		return fmt.Errorf("encode fields of session %d: %w", id, err)
	}
	temp := sess.TempData
	if temp == nil {
		temp = map[string]json.RawMessage{}
	}
	tempRaw, err := json.Marshal(temp)
	if err != nil {
		return fmt.Errorf("encode temp data of session %d: %w", id, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, state, fields, temp_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE
		SET state = EXCLUDED.state, fields = EXCLUDED.fields,
		    temp_data = EXCLUDED.temp_data, updated_at = EXCLUDED.updated_at`,
		id, string(sess.State), fields, tempRaw, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert session %d: %w", id, err)
	}
	return nil
}

// Clear deletes the session row for id.
func (p *PostgresStore) Clear(ctx context.Context, id int64) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete session %d: %w", id, err)
	}
	return nil
}

// Active counts rows outside the idle state.
func (p *PostgresStore) Active(ctx context.Context) (int, error) {
	var n int
	if err := p.db.GetContext(ctx, &n, `SELECT count(*) FROM sessions WHERE state <> $1`, string(StateIdle)); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func nonNil(fields []Field) []Field {
	if fields == nil {
		return []Field{}
	}
	return fields
}

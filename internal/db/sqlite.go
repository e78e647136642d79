package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RichardoC/persona-chat/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    last_active TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS turns_session ON turns(session_id, id);`

// MemoryDSN names a private in-memory database. The data lives only as
// long as the store's connection.
func MemoryDSN() string {
	return fmt.Sprintf("file:persona-chat-%s?mode=memory&cache=shared", uuid.New().String())
}

// SQLiteStore keeps sessions in SQLite, by default in memory.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = MemoryDSN()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps the in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{ID: uuid.New().String(), CreatedAt: now, LastActive: now}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO sessions (id, created_at, last_active)
        VALUES (?, ?, ?)`, sess.ID, sess.CreatedAt, sess.LastActive)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Session, error) {
	sess := &models.Session{}
	err := s.db.QueryRowContext(ctx, `
        SELECT id, created_at, last_active
        FROM sessions
        WHERE id = ?`, id).Scan(&sess.ID, &sess.CreatedAt, &sess.LastActive)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", id); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}

	return tx.Commit()
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, turn models.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "UPDATE sessions SET last_active = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO turns (session_id, role, content, created_at)
        VALUES (?, ?, ?, ?)`, id, string(turn.Role), turn.Content, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) RemoveLastTurn(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM turns
        WHERE id = (SELECT MAX(id) FROM turns WHERE session_id = ?)`, id)
	return err
}

func (s *SQLiteStore) Turns(ctx context.Context, id string) ([]models.Turn, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT role, content, created_at
        FROM turns
        WHERE session_id = ?
        ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]models.Turn, 0)
	for rows.Next() {
		var (
			turn models.Turn
			role string
		)
		if err := rows.Scan(&role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if turn.Role, err = models.ParseRole(role); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
        DELETE FROM turns
        WHERE session_id IN (SELECT id FROM sessions WHERE last_active < ?)`, cutoff.UTC()); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE last_active < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

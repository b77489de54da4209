// Package storage is the embedded local store: a sqlite database holding
// the device's copy of users, chat sessions and lab assets. It must work
// with zero network connectivity; owner filtering and sorting are the
// sync coordinator's job, not the store's.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"nexuslab/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	sql sq.StatementBuilderType
}

// Open creates or opens the local database at path and ensures the schema
// exists. Safe to call once per process; the returned Store is safe for
// concurrent use.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("local db path is empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	// modernc sqlite allows a single writer; serialize at the pool level.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping local db: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init local schema: %w", err)
	}

	return &Store{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS assets (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS session_cache (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    payload TEXT NOT NULL
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *Store) PutUser(ctx context.Context, u models.User) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	q := s.sql.Insert("users").
		Columns("id", "payload").
		Values(u.ID, string(payload)).
		Suffix("ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, updated_at=CURRENT_TIMESTAMP")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put user query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (s *Store) Users(ctx context.Context) ([]models.User, error) {
	rows, err := s.selectPayloads(ctx, "users")
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(rows))
	for _, raw := range rows {
		var u models.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("decode user payload: %w", err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) PutChat(ctx context.Context, chat models.ChatSession) error {
	payload, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	q := s.sql.Insert("chats").
		Columns("id", "user_id", "payload").
		Values(chat.ID, chat.UserID, string(payload)).
		Suffix("ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, payload=excluded.payload, updated_at=CURRENT_TIMESTAMP")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put chat query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put chat: %w", err)
	}
	return nil
}

// Chats returns every chat session in the store, all owners included.
func (s *Store) Chats(ctx context.Context) ([]models.ChatSession, error) {
	rows, err := s.selectPayloads(ctx, "chats")
	if err != nil {
		return nil, err
	}
	out := make([]models.ChatSession, 0, len(rows))
	for _, raw := range rows {
		var c models.ChatSession
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode chat payload: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteChat is idempotent; deleting an unknown id is not an error.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "chats", id)
}

func (s *Store) PutAsset(ctx context.Context, asset models.LabAsset) error {
	payload, err := json.Marshal(asset)
	if err != nil {
		return fmt.Errorf("marshal asset: %w", err)
	}
	q := s.sql.Insert("assets").
		Columns("id", "user_id", "payload").
		Values(asset.ID, asset.UserID, string(payload)).
		Suffix("ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, payload=excluded.payload")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put asset query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put asset: %w", err)
	}
	return nil
}

func (s *Store) Assets(ctx context.Context) ([]models.LabAsset, error) {
	rows, err := s.selectPayloads(ctx, "assets")
	if err != nil {
		return nil, err
	}
	out := make([]models.LabAsset, 0, len(rows))
	for _, raw := range rows {
		var a models.LabAsset
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode asset payload: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "assets", id)
}

// PutSessionBlob caches the (possibly encrypted) login session. A single
// row; each write replaces the previous session.
func (s *Store) PutSessionBlob(ctx context.Context, blob string) error {
	q := s.sql.Insert("session_cache").
		Columns("id", "payload").
		Values(1, blob).
		Suffix("ON CONFLICT(id) DO UPDATE SET payload=excluded.payload")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build put session query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *Store) SessionBlob(ctx context.Context) (string, error) {
	q := s.sql.Select("payload").From("session_cache").Where(sq.Eq{"id": 1})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build session query: %w", err)
	}
	var blob string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get session: %w", err)
	}
	return blob, nil
}

func (s *Store) DeleteSessionBlob(ctx context.Context) error {
	q := s.sql.Delete("session_cache").Where(sq.Eq{"id": 1})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete session query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) selectPayloads(ctx context.Context, table string) ([]string, error) {
	q := s.sql.Select("payload").From(table)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s select query: %w", table, err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return out, nil
}

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	q := s.sql.Delete(table).Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s delete query: %w", table, err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

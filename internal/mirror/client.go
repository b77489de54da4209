// Package mirror is the best-effort cloud replica of the local store:
// a postgres schema (chats, messages, assets) scoped by user id. Every
// call is a single attempt; there is no retry, queue or offline buffer.
// Callers treat any error as "remote currently unavailable".
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"nexuslab/internal/models"
)

type Client struct {
	db  *sql.DB
	sql sq.StatementBuilderType
}

func Open(ctx context.Context, dsn string, autoMigrate bool, migrationsDir string) (*Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mirror dsn is empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mirror db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mirror db: %w", err)
	}

	if autoMigrate {
		if migrationsDir == "" {
			migrationsDir = "migrations"
		}
		if err := goose.SetDialect("postgres"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set goose dialect: %w", err)
		}
		if err := goose.Up(db, migrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run mirror migrations: %w", err)
		}
	}

	return &Client{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// FetchChats returns the user's sessions with nested messages, newest
// updated first.
func (c *Client) FetchChats(ctx context.Context, userID string) ([]models.ChatSession, error) {
	q := c.sql.Select("id", "user_id", "title", "mode", "created_at", "updated_at").
		From("chats").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch chats query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch chats: %w", err)
	}
	defer rows.Close()

	chats := make([]models.ChatSession, 0)
	index := map[string]int{}
	ids := make([]string, 0)
	for rows.Next() {
		var chat models.ChatSession
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.Mode, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		chat.Messages = []models.Message{}
		index[chat.ID] = len(chats)
		ids = append(ids, chat.ID)
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	if len(chats) == 0 {
		return chats, nil
	}

	mq := c.sql.Select("id", "chat_id", "role", "content", "created_at").
		From("messages").
		Where(sq.Eq{"chat_id": ids}).
		OrderBy("chat_id", "position ASC")
	sqlStr, args, err = mq.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch messages query: %w", err)
	}

	mrows, err := c.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		var msg models.Message
		var chatID string
		if err := mrows.Scan(&msg.ID, &chatID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if i, ok := index[chatID]; ok {
			chats[i].Messages = append(chats[i].Messages, msg)
		}
	}
	if err := mrows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return chats, nil
}

// UpsertChat writes the chat row and replaces its message child rows in
// one transaction, so a later FetchChats reconstructs the full transcript.
func (c *Client) UpsertChat(ctx context.Context, chat models.ChatSession) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert chat tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := c.sql.Insert("chats").
		Columns("id", "user_id", "title", "mode", "created_at", "updated_at").
		Values(chat.ID, chat.UserID, chat.Title, chat.Mode, chat.CreatedAt, chat.UpdatedAt).
		Suffix("ON CONFLICT(id) DO UPDATE SET title=excluded.title, mode=excluded.mode, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert chat query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	dq := c.sql.Delete("messages").Where(sq.Eq{"chat_id": chat.ID})
	sqlStr, args, err = dq.ToSql()
	if err != nil {
		return fmt.Errorf("build clear messages query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	if len(chat.Messages) > 0 {
		iq := c.sql.Insert("messages").Columns("id", "chat_id", "role", "content", "position", "created_at")
		for i, msg := range chat.Messages {
			iq = iq.Values(msg.ID, chat.ID, msg.Role, msg.Content, i, msg.Timestamp)
		}
		sqlStr, args, err = iq.ToSql()
		if err != nil {
			return fmt.Errorf("build insert messages query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert chat tx: %w", err)
	}
	return nil
}

func (c *Client) InsertChat(ctx context.Context, chat models.ChatSession) error {
	q := c.sql.Insert("chats").
		Columns("id", "user_id", "title", "mode", "created_at", "updated_at").
		Values(chat.ID, chat.UserID, chat.Title, chat.Mode, chat.CreatedAt, chat.UpdatedAt).
		Suffix("ON CONFLICT(id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert chat query: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (c *Client) DeleteChat(ctx context.Context, userID, id string) error {
	q := c.sql.Delete("chats").Where(sq.Eq{"id": id, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete chat query: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// FetchAssets returns the user's assets, newest created first.
func (c *Client) FetchAssets(ctx context.Context, userID string) ([]models.LabAsset, error) {
	q := c.sql.Select("id", "user_id", "title", "asset_type", "content", "source_name", "created_at").
		From("assets").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fetch assets query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch assets: %w", err)
	}
	defer rows.Close()

	out := make([]models.LabAsset, 0)
	for rows.Next() {
		var a models.LabAsset
		var content []byte
		if err := rows.Scan(&a.ID, &a.UserID, &a.Title, &a.Type, &content, &a.SourceName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset row: %w", err)
		}
		if err := json.Unmarshal(content, &a.Content); err != nil {
			return nil, fmt.Errorf("decode asset content: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset rows: %w", err)
	}
	return out, nil
}

func (c *Client) InsertAsset(ctx context.Context, asset models.LabAsset) error {
	content, err := json.Marshal(asset.Content)
	if err != nil {
		return fmt.Errorf("marshal asset content: %w", err)
	}
	q := c.sql.Insert("assets").
		Columns("id", "user_id", "title", "asset_type", "content", "source_name", "created_at").
		Values(asset.ID, asset.UserID, asset.Title, asset.Type, string(content), asset.SourceName, asset.CreatedAt).
		Suffix("ON CONFLICT(id) DO NOTHING")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert asset query: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (c *Client) DeleteAsset(ctx context.Context, userID, id string) error {
	q := c.sql.Delete("assets").Where(sq.Eq{"id": id, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete asset query: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

func (c *Client) DeleteAllAssetsForUser(ctx context.Context, userID string) error {
	q := c.sql.Delete("assets").Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build clear assets query: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("clear assets: %w", err)
	}
	return nil
}

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ArchivedMessage is one row of the durable message log. Rows are only ever
// inserted, never updated.
type ArchivedMessage struct {
	bun.BaseModel `bun:"table:conversation_messages"`

	ID        int64     `bun:"id,pk,autoincrement"`
	ChatID    string    `bun:"chat_id,notnull"`
	Sender    string    `bun:"sender,notnull"`
	Text      string    `bun:"text,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type ArchiveConfig struct {
	DSN string `envconfig:"DSN" split_words:"true"`
}

// MessageArchive mirrors confirmed-delivery turns into Postgres for ordered
// scan and offline inspection. The Redis store stays the source of truth for
// the in-run snapshot; the archive is the long-lived log.
type MessageArchive struct {
	db *bun.DB
}

func NewMessageArchive(cfg ArchiveConfig) (*MessageArchive, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("archive dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &MessageArchive{db: db}, nil
}

// EnsureSchema creates the message table when it does not exist yet.
func (a *MessageArchive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.NewCreateTable().
		Model((*ArchivedMessage)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create conversation_messages table: %w", err)
	}
	return nil
}

func (a *MessageArchive) LogMessage(ctx context.Context, chatID, sender, text string, at time.Time) error {
	if strings.TrimSpace(chatID) == "" {
		return ErrInvalidChatID
	}
	row := &ArchivedMessage{
		ChatID:    chatID,
		Sender:    sender,
		Text:      text,
		CreatedAt: at.UTC(),
	}
	if _, err := a.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("archive message for chat=%s: %w", chatID, err)
	}
	return nil
}

// Recent returns up to limit archived turns for a chat, oldest-first.
func (a *MessageArchive) Recent(ctx context.Context, chatID string, limit int) ([]ArchivedMessage, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, ErrInvalidChatID
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []ArchivedMessage
	err := a.db.NewSelect().
		Model(&rows).
		Where("chat_id = ?", chatID).
		Order("created_at ASC", "id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load archived messages for chat=%s: %w", chatID, err)
	}
	return rows, nil
}

func (a *MessageArchive) Close() error {
	return a.db.Close()
}

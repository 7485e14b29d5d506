package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"studychat/internal/models"
	"studychat/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	conversation_id INTEGER NOT NULL,
	msg_id          TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	content         TEXT,
	sent_at         TIMESTAMP NOT NULL,
	is_deleted      INTEGER NOT NULL DEFAULT 0,
	attachments     TEXT,
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (conversation_id, msg_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_sent
	ON messages(conversation_id, sent_at);
`

const (
	upsertMessageQuery = `
		INSERT INTO messages (conversation_id, msg_id, sender_id, content, sent_at, is_deleted, attachments)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			content = excluded.content,
			is_deleted = excluded.is_deleted,
			attachments = excluded.attachments
	`

	markDeletedQuery = `
		UPDATE messages SET is_deleted = 1 WHERE conversation_id = ? AND msg_id = ?
	`

	removeMessageQuery = `
		DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?
	`

	selectConversationQuery = `
		SELECT msg_id, sender_id, content, sent_at, is_deleted, attachments
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at ASC, created_at ASC
	`
)

// Store is the optional local message archive backing offline
// scrollback. All writes go through the busy-retry wrapper since the
// archive may be shared with an inspection tool.
type Store struct {
	db        *sql.DB
	encryptor *encryptor
}

// Open creates or opens the archive at path and bootstraps the schema.
func Open(path string) (*Store, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid store path: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create store file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close store file: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Store{db: db, encryptor: enc}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage upserts one acknowledged message into the archive.
// Pending optimistic entries are never persisted; the session writes a
// message only once it carries a server-assigned id.
func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) error {
	content, err := s.encryptor.EncryptIfEnabled(msg.Text)
	if err != nil {
		return fmt.Errorf("failed to encrypt content: %w", err)
	}

	var attachments string
	if len(msg.AttachmentURLs) > 0 {
		raw, err := json.Marshal(msg.AttachmentURLs)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		attachments, err = s.encryptor.EncryptIfEnabled(string(raw))
		if err != nil {
			return fmt.Errorf("failed to encrypt attachments: %w", err)
		}
	}

	return retryableOperation(ctx, "save message", func() error {
		_, err := s.db.ExecContext(ctx, upsertMessageQuery,
			msg.ConversationID, msg.ID, msg.SenderID, content, msg.SentAt.UTC(),
			boolToInt(msg.IsDeleted), attachments)
		return err
	})
}

// MarkDeleted tombstones a message in the archive.
func (s *Store) MarkDeleted(ctx context.Context, conversationID int64, messageID string) error {
	return retryableOperation(ctx, "mark deleted", func() error {
		_, err := s.db.ExecContext(ctx, markDeletedQuery, conversationID, messageID)
		return err
	})
}

// Remove drops a message from the archive entirely (delete-for-me).
func (s *Store) Remove(ctx context.Context, conversationID int64, messageID string) error {
	return retryableOperation(ctx, "remove message", func() error {
		_, err := s.db.ExecContext(ctx, removeMessageQuery, conversationID, messageID)
		return err
	})
}

// GetConversationMessages returns the archived messages of one
// conversation in sent order, for offline scrollback.
func (s *Store) GetConversationMessages(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, selectConversationQuery, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{ConversationID: conversationID}
		var content, attachments string
		var deleted int
		if err := rows.Scan(&msg.ID, &msg.SenderID, &content, &msg.SentAt, &deleted, &attachments); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg.Text, err = s.encryptor.DecryptIfEnabled(content)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt content: %w", err)
		}
		msg.IsDeleted = deleted != 0
		msg.SentAt = msg.SentAt.UTC()

		if attachments != "" {
			raw, err := s.encryptor.DecryptIfEnabled(attachments)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt attachments: %w", err)
			}
			if err := json.Unmarshal([]byte(raw), &msg.AttachmentURLs); err != nil {
				return nil, fmt.Errorf("failed to decode attachments: %w", err)
			}
		}

		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

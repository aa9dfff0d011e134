package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/statnett/talk2powersystem/pkg/chat"
)

type SQLiteConversationStore struct {
	db     *sql.DB
	policy Policy
	now    func() time.Time
}

var _ ConversationStore = &SQLiteConversationStore{}

func NewSQLiteConversationStore(dsn string, policy Policy) (*SQLiteConversationStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite conversation store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteConversationStore{db: db, policy: policy, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteConversationDSNForFile derives a DSN with WAL and a busy timeout for a database file.
func SQLiteConversationDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite conversation store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteConversationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteConversationStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite conversation store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conv_id TEXT PRIMARY KEY,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			conv_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			role TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY (conv_id, ordinal),
			FOREIGN KEY (conv_id) REFERENCES conversations(conv_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_by_updated ON conversations(updated_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS conversation_messages_by_message ON conversation_messages(conv_id, message_id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite conversation store: migrate")
		}
	}
	return nil
}

// purgeExpired removes convID when its expiry has passed. It accepts a *sql.Tx or *sql.DB.
func purgeExpired(ctx context.Context, exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, convID string, nowMs int64) error {
	res, err := exec.ExecContext(ctx, `
		DELETE FROM conversations
		WHERE conv_id = ? AND expires_at_ms > 0 AND expires_at_ms <= ?
	`, convID, nowMs)
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: purge expired conversation")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := exec.ExecContext(ctx, `DELETE FROM conversation_messages WHERE conv_id = ?`, convID); err != nil {
			return errors.Wrap(err, "sqlite conversation store: purge expired messages")
		}
	}
	return nil
}

func (s *SQLiteConversationStore) lookup(ctx context.Context, convID string) (createdAtMs, updatedAtMs int64, ok bool, err error) {
	now := s.now()
	nowMs := now.UnixMilli()
	if err := purgeExpired(ctx, s.db, convID, nowMs); err != nil {
		return 0, 0, false, err
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT created_at_ms, updated_at_ms FROM conversations WHERE conv_id = ?
	`, convID).Scan(&createdAtMs, &updatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, errors.Wrap(err, "sqlite conversation store: lookup")
	}
	if s.policy.RefreshOnRead && s.policy.TTL > 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE conversations SET expires_at_ms = ? WHERE conv_id = ?
		`, s.policy.expiresAt(now), convID); err != nil {
			return 0, 0, false, errors.Wrap(err, "sqlite conversation store: refresh expiry")
		}
	}
	return createdAtMs, updatedAtMs, true, nil
}

func (s *SQLiteConversationStore) Exists(ctx context.Context, convID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("sqlite conversation store: db is nil")
	}
	if ctx == nil {
		return false, errors.New("sqlite conversation store: ctx is nil")
	}
	_, _, ok, err := s.lookup(ctx, convID)
	return ok, err
}

func (s *SQLiteConversationStore) Load(ctx context.Context, convID string) (chat.Conversation, bool, error) {
	if s == nil || s.db == nil {
		return chat.Conversation{}, false, errors.New("sqlite conversation store: db is nil")
	}
	if ctx == nil {
		return chat.Conversation{}, false, errors.New("sqlite conversation store: ctx is nil")
	}
	createdAtMs, updatedAtMs, ok, err := s.lookup(ctx, convID)
	if err != nil || !ok {
		return chat.Conversation{}, false, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload_json FROM conversation_messages
		WHERE conv_id = ?
		ORDER BY ordinal ASC
	`, convID)
	if err != nil {
		return chat.Conversation{}, false, errors.Wrap(err, "sqlite conversation store: query messages")
	}
	defer func() { _ = rows.Close() }()

	conv := chat.Conversation{
		ID:        convID,
		Messages:  []chat.Message{},
		CreatedAt: time.UnixMilli(createdAtMs),
		UpdatedAt: time.UnixMilli(updatedAtMs),
	}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return chat.Conversation{}, false, errors.Wrap(err, "sqlite conversation store: scan message")
		}
		m, err := decodeMessage(payload)
		if err != nil {
			return chat.Conversation{}, false, err
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return chat.Conversation{}, false, errors.Wrap(err, "sqlite conversation store: iterate messages")
	}
	return conv, true, nil
}

func (s *SQLiteConversationStore) Append(ctx context.Context, convID string, msgs ...chat.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite conversation store: db is nil")
	}
	if ctx == nil {
		return errors.New("sqlite conversation store: ctx is nil")
	}
	if strings.TrimSpace(convID) == "" {
		return errors.New("sqlite conversation store: convID is empty")
	}
	now := s.now()
	nowMs := now.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := purgeExpired(ctx, tx, convID, nowMs); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations(conv_id, created_at_ms, updated_at_ms, expires_at_ms)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
			updated_at_ms = MAX(conversations.updated_at_ms, excluded.updated_at_ms),
			expires_at_ms = excluded.expires_at_ms
	`, convID, nowMs, nowMs, s.policy.expiresAt(now)); err != nil {
		return errors.Wrap(err, "sqlite conversation store: upsert conversation")
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(ordinal), -1) + 1 FROM conversation_messages WHERE conv_id = ?
	`, convID).Scan(&next); err != nil {
		return errors.Wrap(err, "sqlite conversation store: next ordinal")
	}

	for i, m := range msgs {
		payload, err := encodeMessage(m)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages(conv_id, ordinal, message_id, role, payload_json, created_at_ms)
			VALUES(?, ?, ?, ?, ?, ?)
		`, convID, next+int64(i), m.ID, string(m.Role), payload, nowMs); err != nil {
			return errors.Wrap(err, "sqlite conversation store: insert message")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite conversation store: commit tx")
	}
	committed = true
	return nil
}

func (s *SQLiteConversationStore) List(ctx context.Context, q ConversationQuery) ([]ConversationSummary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite conversation store: db is nil")
	}
	if ctx == nil {
		return nil, errors.New("sqlite conversation store: ctx is nil")
	}
	nowMs := s.now().UnixMilli()

	query := strings.Builder{}
	query.WriteString(`
		SELECT c.conv_id, COUNT(m.ordinal), c.created_at_ms, c.updated_at_ms, c.expires_at_ms
		FROM conversations c
		LEFT JOIN conversation_messages m ON m.conv_id = c.conv_id
		WHERE (c.expires_at_ms = 0 OR c.expires_at_ms > ?)
	`)
	args := []any{nowMs}
	if q.ConvIDPrefix != "" {
		query.WriteString(" AND c.conv_id LIKE ?")
		args = append(args, q.ConvIDPrefix+"%")
	}
	query.WriteString(" GROUP BY c.conv_id ORDER BY c.updated_at_ms DESC, c.conv_id ASC LIMIT ?")
	args = append(args, defaultListLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: list")
	}
	defer func() { _ = rows.Close() }()

	out := []ConversationSummary{}
	for rows.Next() {
		var cs ConversationSummary
		if err := rows.Scan(&cs.ConvID, &cs.MessageCount, &cs.CreatedAtMs, &cs.UpdatedAtMs, &cs.ExpiresAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite conversation store: scan summary")
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: iterate summaries")
	}
	return out, nil
}

func (s *SQLiteConversationStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite conversation store: db is nil")
	}
	return s.db.PingContext(ctx)
}

package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteTranscriptStore struct {
	db *sql.DB
}

var _ TranscriptStore = &SQLiteTranscriptStore{}

func NewSQLiteTranscriptStore(dsn string) (*SQLiteTranscriptStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteTranscriptStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteTranscriptDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteTranscriptStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteTranscriptStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			id TEXT PRIMARY KEY,
			conversation_id INTEGER NOT NULL,
			chat_code TEXT NOT NULL DEFAULT '',
			bot TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			reply_id INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_entries_by_conversation ON transcript_entries(conversation_id, created_at_ms);`,
		`CREATE INDEX IF NOT EXISTS transcript_entries_by_bot ON transcript_entries(bot, created_at_ms);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteTranscriptStore) Append(ctx context.Context, entry TranscriptEntry) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	entry, err := normalizeEntry(entry, nowMs())
	if err != nil {
		return errors.Wrap(err, "sqlite transcript store")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_entries(
			id, conversation_id, chat_code, bot, role, text, state, reply_id, created_at_ms
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			state = excluded.state,
			reply_id = excluded.reply_id
	`, entry.ID, entry.ConversationID, entry.ChatCode, entry.Bot, string(entry.Role), entry.Text, entry.State, entry.ReplyID, entry.CreatedAtMs); err != nil {
		return errors.Wrap(err, "sqlite transcript store: insert entry")
	}
	return nil
}

func (s *SQLiteTranscriptStore) List(ctx context.Context, q TranscriptQuery) ([]TranscriptEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	clauses := []string{}
	args := []any{}
	if q.ConversationID != 0 {
		clauses = append(clauses, "conversation_id = ?")
		args = append(args, q.ConversationID)
	}
	if bot := strings.TrimSpace(q.Bot); bot != "" {
		clauses = append(clauses, "bot = ?")
		args = append(args, bot)
	}
	if q.SinceMs > 0 {
		clauses = append(clauses, "created_at_ms >= ?")
		args = append(args, q.SinceMs)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}

	// Newest N, returned oldest first.
	query := fmt.Sprintf(`
		SELECT id, conversation_id, chat_code, bot, role, text, state, reply_id, created_at_ms
		FROM (
			SELECT * FROM transcript_entries
			%s
			ORDER BY created_at_ms DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY created_at_ms ASC, rowid ASC
	`, where)
	args = append(args, normalizeLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: query")
	}
	defer func() { _ = rows.Close() }()

	items := []TranscriptEntry{}
	for rows.Next() {
		var (
			item TranscriptEntry
			role string
		)
		if err := rows.Scan(
			&item.ID,
			&item.ConversationID,
			&item.ChatCode,
			&item.Bot,
			&role,
			&item.Text,
			&item.State,
			&item.ReplyID,
			&item.CreatedAtMs,
		); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan entry")
		}
		item.Role = Role(role)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *SQLiteTranscriptStore) Conversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			conversation_id,
			COALESCE(MAX(chat_code), '') AS chat_code,
			COALESCE(MAX(bot), '') AS bot,
			COUNT(1) AS messages,
			MAX(created_at_ms) AS last_activity_ms
		FROM transcript_entries
		GROUP BY conversation_id
		ORDER BY last_activity_ms DESC
		LIMIT ?
	`, normalizeLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: query conversations")
	}
	defer func() { _ = rows.Close() }()

	out := []ConversationSummary{}
	for rows.Next() {
		var c ConversationSummary
		if err := rows.Scan(&c.ConversationID, &c.ChatCode, &c.Bot, &c.Messages, &c.LastActivityMs); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan conversation")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

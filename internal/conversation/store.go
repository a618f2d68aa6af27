// Package conversation persists the append-only log of answered
// questions in SQLite.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"sweetseek/internal/domain/entities"
)

// Store is a SQLite-backed conversation log. Entries are never
// mutated; the only destructive operation is Clear.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	question      TEXT NOT NULL,
	answer        TEXT NOT NULL,
	references_json TEXT NOT NULL DEFAULT '[]',
	timestamp     DATETIME NOT NULL,
	response_time REAL NOT NULL DEFAULT 0
);
`

// NewStore opens (or creates) the conversation database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating conversation directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening conversation database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing conversation schema: %w", err)
	}

	return &Store{db: db, logger: logger, nowFn: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	ID           int64     `db:"id"`
	Question     string    `db:"question"`
	Answer       string    `db:"answer"`
	RefsJSON     string    `db:"references_json"`
	Timestamp    time.Time `db:"timestamp"`
	ResponseTime float64   `db:"response_time"`
}

// Append records one answered question and returns the stored entry
// with its assigned id.
func (s *Store) Append(ctx context.Context, question, answer string, refs []entities.Reference, responseTime float64) (*entities.Conversation, error) {
	if refs == nil {
		refs = []entities.Reference{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("encoding references: %w", err)
	}

	now := s.nowFn()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (question, answer, references_json, timestamp, response_time)
		 VALUES (?, ?, ?, ?, ?)`,
		question, answer, string(refsJSON), now, responseTime)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading conversation id: %w", err)
	}

	return &entities.Conversation{
		ID:           id,
		Question:     question,
		Answer:       answer,
		References:   refs,
		Timestamp:    now,
		ResponseTime: responseTime,
	}, nil
}

// List returns all conversations in insertion order.
func (s *Store) List(ctx context.Context) ([]entities.Conversation, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, question, answer, references_json, timestamp, response_time
		 FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	out := make([]entities.Conversation, 0, len(rows))
	for _, r := range rows {
		var refs []entities.Reference
		if err := json.Unmarshal([]byte(r.RefsJSON), &refs); err != nil {
			s.logger.Warn("dropping unreadable references", "conversation", r.ID, "error", err)
			refs = []entities.Reference{}
		}
		out = append(out, entities.Conversation{
			ID:           r.ID,
			Question:     r.Question,
			Answer:       r.Answer,
			References:   refs,
			Timestamp:    r.Timestamp,
			ResponseTime: r.ResponseTime,
		})
	}
	return out, nil
}

// Clear drops all entries. The id sequence restarts at 1 for the next
// entry.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clearing conversations: %w", err)
	}
	// sqlite_sequence only exists once a row has ever been inserted.
	var seqTables int64
	if err := s.db.GetContext(ctx, &seqTables,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'`); err != nil {
		return fmt.Errorf("resetting conversation ids: %w", err)
	}
	if seqTables == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'conversations'`); err != nil {
		return fmt.Errorf("resetting conversation ids: %w", err)
	}
	return nil
}

// Count returns the number of logged conversations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM conversations`); err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return n, nil
}

// Package memory persists per-session facts in an embedded SQLite store and
// injects the relevant ones into prompts with exponential time decay. Memory
// is strictly best-effort: any store failure downgrades to a warning and the
// ask proceeds without it.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/metrics"
)

// Type classifies what kind of fact a memory records
type Type string

const (
	TypePractice    Type = "practice"
	TypePreference  Type = "preference"
	TypeAchievement Type = "achievement"
	TypeContext     Type = "context"
)

// ValidType reports whether t is one of the accepted memory types.
func ValidType(t Type) bool {
	switch t {
	case TypePractice, TypePreference, TypeAchievement, TypeContext:
		return true
	}
	return false
}

// Entry is one stored memory
type Entry struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Type      Type      `db:"memory_type" json:"memory_type"`
	Content   string    `db:"content" json:"content"`
	Embedding []float32 `db:"-" json:"-"`
	RawVector []byte    `db:"embedding" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Scored pairs an entry with its decayed relevance to a query
type Scored struct {
	Entry        Entry
	DecayedScore float64
}

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
`

// Store is the SQLite-backed memory store
type Store struct {
	db     *sqlx.DB
	decay  float64 // Per-day decay constant
	logger *zap.Logger
	now    func() time.Time
}

// NewStore opens (creating if needed) the memory database at path.
func NewStore(path string, decayPerDay float64, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if decayPerDay <= 0 {
		decayPerDay = 0.1
	}
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	// SQLite allows one writer; readers go through WAL
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &Store{db: db, decay: decayPerDay, logger: logger, now: time.Now}, nil
}

// Add persists a new memory. The entry's embedding should be unit length.
func (s *Store) Add(ctx context.Context, e Entry) error {
	if e.SessionID == "" {
		return fmt.Errorf("memory entry requires a session_id")
	}
	if !ValidType(e.Type) {
		return fmt.Errorf("invalid memory type %q", e.Type)
	}
	raw, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("encode memory embedding: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (session_id, memory_type, content, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Type, e.Content, raw, createdAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// List returns every memory for a session, newest first.
func (s *Store) List(ctx context.Context, sessionID string) ([]Entry, error) {
	var rows []Entry
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, session_id, memory_type, content, embedding, created_at
		 FROM memories WHERE session_id = ? ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	for i := range rows {
		if err := rows[i].decodeVector(); err != nil {
			s.logger.Warn("Undecodable memory embedding", zap.Int64("id", rows[i].ID), zap.Error(err))
		}
	}
	return rows, nil
}

// Search scores a session's memories against the query vector, applying
// exponential time decay, and returns the top k by decayed score.
func (s *Store) Search(ctx context.Context, sessionID string, queryVec []float32, k int) ([]Scored, error) {
	entries, err := s.List(ctx, sessionID)
	if err != nil {
		metrics.MemoryFetches.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.MemoryFetches.WithLabelValues("ok").Inc()

	now := s.now()
	scored := make([]Scored, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 || len(e.Embedding) != len(queryVec) {
			continue
		}
		var dot float64
		for i := range queryVec {
			dot += float64(queryVec[i]) * float64(e.Embedding[i])
		}
		days := now.Sub(e.CreatedAt).Hours() / 24
		scored = append(scored, Scored{
			Entry:        e,
			DecayedScore: dot * math.Exp(-s.decay*days),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].DecayedScore > scored[j].DecayedScore
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// DeleteBySession removes every memory for a session and returns how many
// were deleted. Entries are otherwise immutable; this is the only eviction.
func (s *Store) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Ping verifies the store is reachable, used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (e *Entry) decodeVector() error {
	if len(e.RawVector) == 0 {
		return nil
	}
	return json.Unmarshal(e.RawVector, &e.Embedding)
}

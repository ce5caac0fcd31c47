// Package corpus reads knowledge chunks from Postgres. The ask path never
// writes here; rows are produced by the ingestion pipeline and consumed
// read-only, by id for citation dereferencing and as a full scan for the
// lexical index build.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/circuitbreaker"
	"github.com/mixmentor/mixmentor/internal/config"
)

// Chunk is one retrievable unit of the knowledge base
type Chunk struct {
	ID         string  `db:"id" json:"id"`
	SourcePath string  `db:"source_path" json:"source_path"`
	SourceName string  `db:"source_name" json:"source_name"`
	PageNumber int     `db:"page_number" json:"page_number"`
	ChunkIndex int     `db:"chunk_index" json:"chunk_index"`
	TokenStart int     `db:"token_start" json:"token_start"`
	TokenEnd   int     `db:"token_end" json:"token_end"`
	Text       string  `db:"text" json:"text"`
	SubDomain  string  `db:"sub_domain" json:"sub_domain"`
	Embedding  []float32 `db:"-" json:"-"`

	// Raw json column; decoded into Embedding lazily since most reads
	// only need the text.
	RawEmbedding []byte `db:"embedding" json:"-"`
}

// DecodeEmbedding fills Embedding from the stored json column.
func (c *Chunk) DecodeEmbedding() error {
	if len(c.RawEmbedding) == 0 {
		return nil
	}
	return json.Unmarshal(c.RawEmbedding, &c.Embedding)
}

// Store is a read-only view over the chunks table
type Store struct {
	db     *sqlx.DB
	cb     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// NewStore opens the corpus database and verifies connectivity.
func NewStore(cfg config.PostgresConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open corpus database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping corpus database: %w", err)
	}

	return &Store{
		db:     db,
		cb:     circuitbreaker.NewDatabaseWrapper(db.DB, "corpus", logger),
		logger: logger,
	}, nil
}

// NewStoreWithDB wraps an existing connection, used by tests.
func NewStoreWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		cb:     circuitbreaker.NewDatabaseWrapper(db.DB, "corpus", logger),
		logger: logger,
	}
}

const chunkColumns = `id, source_path, source_name, page_number, chunk_index, token_start, token_end, text, sub_domain, embedding`

// GetByIDs fetches chunks by id. Missing ids are silently absent from the
// result; order follows the input ids.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+chunkColumns+` FROM chunks WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build chunk query: %w", err)
	}
	query = s.db.Rebind(query)

	var rows []Chunk
	err = s.cb.Execute(ctx, func() error {
		return s.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}

	byID := make(map[string]Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	out := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ScanAll streams every chunk to fn in id order. Used to build the lexical
// index at startup and after invalidation.
func (s *Store) ScanAll(ctx context.Context, fn func(Chunk) error) error {
	const batch = 500
	lastID := ""
	for {
		var rows []Chunk
		err := s.cb.Execute(ctx, func() error {
			return s.db.SelectContext(ctx, &rows,
				s.db.Rebind(`SELECT `+chunkColumns+` FROM chunks WHERE id > ? ORDER BY id LIMIT ?`),
				lastID, batch)
		})
		if err != nil {
			return fmt.Errorf("scan chunks after %q: %w", lastID, err)
		}
		if len(rows) == 0 {
			return nil
		}
		for _, c := range rows {
			if err := fn(c); err != nil {
				return err
			}
		}
		lastID = rows[len(rows)-1].ID
		rows = nil
	}
}

// Count returns the number of chunks, used by health checks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.cb.Execute(ctx, func() error {
		return s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chunks`)
	})
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Ping verifies database connectivity through the breaker.
func (s *Store) Ping(ctx context.Context) error {
	return s.cb.PingContext(ctx)
}

// Close releases the underlying connections.
func (s *Store) Close() error { return s.db.Close() }

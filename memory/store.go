// Package memory provides a persistent vector-similarity memory store for
// workflow runs. Each stored exchange is embedded and written to SQLite;
// retrieval ranks all entries by cosine similarity against the query
// embedding and returns the top k.
package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed memory store.
type Store struct {
	db       *sql.DB
	path     string
	embedder Embedder
}

// Hit is one retrieval result.
type Hit struct {
	Role     string
	Text     string
	Metadata map[string]string
	Score    float64
}

// Stats summarizes the store contents.
type Stats struct {
	TotalMemories int
	Dim           int
	Path          string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithEmbedder sets the embedder. The default is a hashing embedder with
// DefaultDim dimensions.
func WithEmbedder(e Embedder) StoreOption {
	return func(s *Store) {
		s.embedder = e
	}
}

// Open opens or creates a memory store at the given path. Use ":memory:" for
// an ephemeral store.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}

	s := &Store{
		db:       db,
		path:     path,
		embedder: NewHashingEmbedder(DefaultDim),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		role       TEXT NOT NULL DEFAULT '',
		text       TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		embedding  BLOB NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_memories_role ON memories(role);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store embeds and persists one entry.
func (s *Store) Store(ctx context.Context, role, text string, metadata map[string]string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	meta := "{}"
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(b)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (role, text, metadata, embedding) VALUES (?, ?, ?, ?)`,
		role, text, meta, encodeVector(vec),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Retrieve returns the k entries most similar to the query, best first.
// An empty store yields no hits and no error.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT role, text, metadata, embedding FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var role, text, meta string
		var blob []byte
		if err := rows.Scan(&role, &text, &meta, &blob); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}

		vec, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(queryVec) {
			// Written with a different embedder configuration; not comparable.
			continue
		}

		hit := Hit{Role: role, Text: text, Score: cosine(queryVec, vec)}
		if meta != "" && meta != "{}" {
			json.Unmarshal([]byte(meta), &hit.Metadata)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Context retrieves the k most relevant entries and formats them as a
// context block, one "role: text" paragraph per hit.
func (s *Store) Context(ctx context.Context, query string, k int) (string, error) {
	hits, err := s.Retrieve(ctx, query, k)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(hits))
	for _, hit := range hits {
		role := hit.Role
		if role == "" {
			role = "Agent"
		}
		parts = append(parts, role+": "+hit.Text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Clear removes all stored entries.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories`); err != nil {
		return fmt.Errorf("clear memories: %w", err)
	}
	return nil
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&total); err != nil {
		return Stats{}, fmt.Errorf("count memories: %w", err)
	}
	return Stats{TotalMemories: total, Dim: s.embedder.Dim(), Path: s.path}, nil
}

// Embedding blobs are packed little-endian float32.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("malformed embedding blob: %d bytes", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

// Package memory is the per-agent memory engine: markdown files chunked into
// a SQLite index with FTS5 and optional vector embeddings, hybrid retrieval,
// daily-log consolidation and MEMORY.md archival.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Engine indexes and searches one agent's memory files. All paths stored in
// the index are relative to the agent root.
type Engine struct {
	root     string // agent directory
	db       *sql.DB
	embedder Embedder // nil disables embeddings

	chunkSize    int
	chunkOverlap int
}

// Options tunes an Engine. Zero values take defaults.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Embedder     Embedder
}

// Open opens (or creates) the agent's memory.db under root.
func Open(root string, opts Options) (*Engine, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1600
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 320
	}

	path := filepath.Join(root, "memory.db")
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &Engine{
		root:         root,
		db:           db,
		embedder:     opts.Embedder,
		chunkSize:    opts.ChunkSize,
		chunkOverlap: opts.ChunkOverlap,
	}, nil
}

// OpenMemory opens an in-memory engine, for tests.
func OpenMemory(root string, opts Options) (*Engine, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1600
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 320
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Engine{
		root:         root,
		db:           db,
		embedder:     opts.Embedder,
		chunkSize:    opts.ChunkSize,
		chunkOverlap: opts.ChunkOverlap,
	}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			path         TEXT NOT NULL,
			content      TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset   INTEGER NOT NULL,
			updated_at   TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			content,
			content='chunks',
			content_rowid='id'
		);

		CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
		END;
		CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END;
		CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
			INSERT INTO chunks_fts(rowid, content) VALUES (new.id, new.content);
		END;

		CREATE TABLE IF NOT EXISTS embeddings (
			chunk_id INTEGER PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
			vector   BLOB NOT NULL,
			model    TEXT NOT NULL
		);`)
	return err
}

// Close closes the underlying database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Chunk is one indexed window of a memory file.
type Chunk struct {
	ID        int64
	Path      string // relative to the agent root
	Content   string
	Start     int // byte offset, inclusive
	End       int // byte offset, exclusive
	UpdatedAt time.Time
}

// IndexFile chunks one file and replaces its rows in a single transaction.
// path is relative to the agent root. Empty content indexes zero chunks.
func (e *Engine) IndexFile(ctx context.Context, path string, content []byte, mtime time.Time) error {
	chunks := splitChunks(string(content), e.chunkSize, e.chunkOverlap)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index: %w", err)
	}
	defer tx.Rollback()

	if err := indexFileTx(tx, path, chunks, mtime); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}

	if e.embedder != nil {
		e.embedChunks(ctx, path)
	}
	return nil
}

func indexFileTx(tx *sql.Tx, path string, chunks []span, mtime time.Time) error {
	if _, err := tx.Exec(`DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(`
			INSERT INTO chunks (path, content, start_offset, end_offset, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			path, c.text, c.start, c.end, mtime.UTC()); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return nil
}

type span struct {
	text       string
	start, end int
}

// splitChunks cuts text into overlapping windows. Step is
// max(size-overlap, 1) so a pathological overlap still terminates.
func splitChunks(text string, size, overlap int) []span {
	if len(text) == 0 {
		return nil
	}
	step := size - overlap
	if step < 1 {
		step = 1
	}
	var out []span
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, span{text: text[start:end], start: start, end: end})
		if end == len(text) {
			break
		}
	}
	return out
}

// ChunksForPath returns the indexed chunks of one file, in offset order.
func (e *Engine) ChunksForPath(path string) ([]Chunk, error) {
	rows, err := e.db.Query(`
		SELECT id, path, content, start_offset, end_offset, updated_at
		FROM chunks WHERE path = ? ORDER BY start_offset`, path)
	if err != nil {
		return nil, fmt.Errorf("chunks for path: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.Path, &c.Content, &c.Start, &c.End, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

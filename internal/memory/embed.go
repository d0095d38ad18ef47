package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder produces embedding vectors for text. Implementations must be safe
// for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// OpenAIEmbedder embeds via an OpenAI-compatible endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder builds an embedder. baseURL may be empty for the default
// endpoint.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIEmbedder) Model() string { return o.model }

func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// encodeVector packs a vector as little-endian float32 bytes.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks a little-endian float32 blob.
func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// cosineSimilarity of two vectors; 0 when lengths differ or either is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// embedChunks computes and stores embeddings for every chunk of path that
// lacks one. Best-effort: failures log and leave the chunks searchable by
// text only.
func (e *Engine) embedChunks(ctx context.Context, path string) {
	rows, err := e.db.Query(`
		SELECT c.id, c.content FROM chunks c
		LEFT JOIN embeddings em ON em.chunk_id = c.id
		WHERE c.path = ? AND em.chunk_id IS NULL`, path)
	if err != nil {
		slog.Warn("memory.embed_query_failed", "path", path, "error", err)
		return
	}
	var ids []int64
	var texts []string
	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			rows.Close()
			slog.Warn("memory.embed_scan_failed", "path", path, "error", err)
			return
		}
		ids = append(ids, id)
		texts = append(texts, content)
	}
	rows.Close()
	if len(ids) == 0 {
		return
	}

	vecs, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Warn("memory.embed_failed", "path", path, "chunks", len(ids), "error", err)
		return
	}
	for i, id := range ids {
		if i >= len(vecs) || vecs[i] == nil {
			continue
		}
		_, err := e.db.Exec(`
			INSERT INTO embeddings (chunk_id, vector, model) VALUES (?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET vector = excluded.vector, model = excluded.model`,
			id, encodeVector(vecs[i]), e.embedder.Model())
		if err != nil {
			slog.Warn("memory.embed_store_failed", "chunk", id, "error", err)
		}
	}
}

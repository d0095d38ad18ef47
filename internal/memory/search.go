package memory

import (
	"fmt"
	"sort"
	"strings"
)

// rrfK is the Reciprocal Rank Fusion constant.
const rrfK = 60

// Hit is one search result.
type Hit struct {
	ChunkID    int64
	Path       string
	Content    string
	Score      float64 // RRF score for hybrid, rank-derived otherwise
	Similarity float64 // cosine similarity when a vector matched, else 0
}

// ftsQuery turns free text into an FTS5 MATCH expression: whitespace tokens,
// each double-quoted with internal quotes doubled.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// SearchText runs full-text search, best rank first.
func (e *Engine) SearchText(q string, limit int) ([]Hit, error) {
	match := ftsQuery(q)
	if match == "" || limit <= 0 {
		return nil, nil
	}
	rows, err := e.db.Query(`
		SELECT c.id, c.path, c.content
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.Path, &h.Content); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SearchVector ranks every embedded chunk by cosine similarity against vec
// and returns the top limit. A zero or empty vector returns nothing.
func (e *Engine) SearchVector(vec []float32, limit int) ([]Hit, error) {
	if limit <= 0 || isZeroVector(vec) {
		return nil, nil
	}
	rows, err := e.db.Query(`
		SELECT c.id, c.path, c.content, em.vector
		FROM embeddings em
		JOIN chunks c ON c.id = em.chunk_id`)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var h Hit
		var blob []byte
		if err := rows.Scan(&h.ChunkID, &h.Path, &h.Content, &blob); err != nil {
			return nil, err
		}
		h.Similarity = cosineSimilarity(vec, decodeVector(blob))
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rank is -similarity so lower stays better.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchHybrid fuses text and vector results with Reciprocal Rank Fusion:
// top 2*limit from each side, score = sum of 1/(k+rank+1) over the lists a
// chunk appears in, descending. An empty query with a zero vector returns
// nothing.
func (e *Engine) SearchHybrid(q string, vec []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	textHits, err := e.SearchText(q, 2*limit)
	if err != nil {
		return nil, err
	}
	vecHits, err := e.SearchVector(vec, 2*limit)
	if err != nil {
		return nil, err
	}
	if len(textHits) == 0 && len(vecHits) == 0 {
		return nil, nil
	}

	merged := map[int64]*Hit{}
	for rank, h := range textHits {
		hit := h
		hit.Score = 1.0 / float64(rrfK+rank+1)
		merged[h.ChunkID] = &hit
	}
	for rank, h := range vecHits {
		if m, ok := merged[h.ChunkID]; ok {
			m.Score += 1.0 / float64(rrfK+rank+1)
			m.Similarity = h.Similarity
		} else {
			hit := h
			hit.Score = 1.0 / float64(rrfK+rank+1)
			merged[h.ChunkID] = &hit
		}
	}

	out := make([]Hit, 0, len(merged))
	for _, h := range merged {
		out = append(out, *h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

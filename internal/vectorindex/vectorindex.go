// Package vectorindex implements the flat cosine-similarity vector store
// described in spec.md §4.2: a row-id keyed vector table and a UUID-keyed
// payload table, both living in the same SQLite database and connection as
// internal/store so a search and a memory read share one busy-timeout
// domain. There is no ANN structure — k-NN is a full scan scored in Go and
// reduced with a bounded top-k heap, which is the deliberate tradeoff named
// in spec.md §1's "GPU-accelerated vector search" Non-goal.
package vectorindex

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

// Index is a handle on one SQLite-backed vector collection store. Every
// collection the kernel uses (memories, scenes, ...) shares the same
// underlying tables, partitioned by the collection column.
type Index struct {
	db *sql.DB
}

// New wraps an already-opened, already-migrated database connection.
func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// Insert upserts a batch of vectors and their payloads into collection. ids,
// vectors, and payloads must have equal length; an id already present in the
// collection has both its vector and payload overwritten.
func (ix *Index) Insert(collection string, ids []string, vectors [][]float32, payloads []map[string]string) error {
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return &models.ValidationError{Field: "ids/vectors/payloads", Reason: "lengths must match"}
	}
	return store.Transact(ix.db, func(tx *sql.Tx) error {
		for i, id := range ids {
			if err := upsertOneTx(tx, collection, id, vectors[i], payloads[i]); err != nil {
				return fmt.Errorf("failed to insert vector %q: %w", id, err)
			}
		}
		return nil
	})
}

// Upsert inserts or replaces a single vector/payload pair.
func (ix *Index) Upsert(collection, id string, vector []float32, payload map[string]string) error {
	return store.Transact(ix.db, func(tx *sql.Tx) error {
		return upsertOneTx(tx, collection, id, vector, payload)
	})
}

func upsertOneTx(tx *sql.Tx, collection, id string, vector []float32, payload map[string]string) error {
	if _, err := tx.ExecContext(context.Background(), `DELETE FROM vector_rows WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(context.Background(), `
		INSERT INTO vector_rows (id, collection, dim, vector) VALUES (?, ?, ?, ?)
	`, id, collection, len(vector), encodeVector(vector)); err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(nonNilMap(payload))
	if err != nil {
		return err
	}
	memoryID := payload["memory_id"]
	_, err = tx.ExecContext(context.Background(), `
		INSERT INTO vector_payloads (id, collection, memory_id, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET memory_id = excluded.memory_id, payload = excluded.payload
	`, id, collection, memoryID, string(payloadJSON))
	return err
}

// Update changes only the fields given; a nil vector or payload leaves that
// half of the row untouched.
func (ix *Index) Update(collection, id string, vector []float32, payload map[string]string) error {
	return store.Transact(ix.db, func(tx *sql.Tx) error {
		if vector != nil {
			if _, err := tx.ExecContext(context.Background(), `
				UPDATE vector_rows SET dim = ?, vector = ? WHERE collection = ? AND id = ?
			`, len(vector), encodeVector(vector), collection, id); err != nil {
				return err
			}
		}
		if payload != nil {
			payloadJSON, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(context.Background(), `
				UPDATE vector_payloads SET memory_id = ?, payload = ? WHERE collection = ? AND id = ?
			`, payload["memory_id"], string(payloadJSON), collection, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a single vector/payload pair from collection.
func (ix *Index) Delete(collection, id string) error {
	return store.Transact(ix.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(context.Background(), `DELETE FROM vector_rows WHERE collection = ? AND id = ?`, collection, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(context.Background(), `DELETE FROM vector_payloads WHERE collection = ? AND id = ?`, collection, id)
		return err
	})
}

// Get returns the stored vector and payload for id, or (nil, nil, nil) if absent.
func (ix *Index) Get(collection, id string) ([]float32, map[string]string, error) {
	var vec []float32
	var payload map[string]string
	err := store.RetryWithBackoff(func() error {
		var blob []byte
		err := ix.db.QueryRowContext(context.Background(), `SELECT vector FROM vector_rows WHERE collection = ? AND id = ?`, collection, id).Scan(&blob)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		vec = decodeVector(blob)

		var payloadJSON string
		err = ix.db.QueryRowContext(context.Background(), `SELECT payload FROM vector_payloads WHERE collection = ? AND id = ?`, collection, id).Scan(&payloadJSON)
		if err == sql.ErrNoRows {
			payload = map[string]string{}
			return nil
		}
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(payloadJSON), &payload)
	})
	return vec, payload, err
}

// List returns every payload in collection matching filters (exact-match
// equality on payload keys), up to limit.
func (ix *Index) List(collection string, filters map[string]string, limit int) ([]models.VectorSearchResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	var out []models.VectorSearchResult
	err := store.RetryWithBackoff(func() error {
		rows, err := ix.db.QueryContext(context.Background(), `SELECT id, payload FROM vector_payloads WHERE collection = ? LIMIT ?`, collection, limit*4)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		out = nil
		for rows.Next() {
			var id, payloadJSON string
			if err := rows.Scan(&id, &payloadJSON); err != nil {
				return err
			}
			var payload map[string]string
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return &models.CorruptionError{Entity: "vector_payload", Detail: err.Error()}
			}
			if !matchesFilters(payload, filters) {
				continue
			}
			out = append(out, models.VectorSearchResult{ID: id, Payload: payload})
			if len(out) >= limit {
				break
			}
		}
		return rows.Err()
	})
	return out, err
}

// ColInfo reports the collection's row count and fixed dimensionality (0 if empty).
func (ix *Index) ColInfo(collection string) (count int, dim int, err error) {
	err = store.RetryWithBackoff(func() error {
		row := ix.db.QueryRowContext(context.Background(), `
			SELECT COUNT(*), COALESCE(MAX(dim), 0) FROM vector_rows WHERE collection = ?
		`, collection)
		return row.Scan(&count, &dim)
	})
	return
}

// Reset deletes every vector and payload in collection.
func (ix *Index) Reset(collection string) error {
	return store.Transact(ix.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(context.Background(), `DELETE FROM vector_rows WHERE collection = ?`, collection); err != nil {
			return err
		}
		_, err := tx.ExecContext(context.Background(), `DELETE FROM vector_payloads WHERE collection = ?`, collection)
		return err
	})
}

// Search returns the k best cosine-similarity matches to query in
// collection. When filters are non-empty it over-fetches 3×k candidates
// before filtering and truncating, per spec.md §4.2.
func (ix *Index) Search(collection string, query []float32, k int, filters map[string]string) ([]models.VectorSearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	fetch := k
	if len(filters) > 0 {
		fetch = k * 3
	}

	type candidate struct {
		id      string
		score   float64
		payload map[string]string
	}
	var best []candidate

	err := store.RetryWithBackoff(func() error {
		rows, err := ix.db.QueryContext(context.Background(), `SELECT id, vector FROM vector_rows WHERE collection = ?`, collection)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		h := &scoreHeap{}
		heap.Init(h)
		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				return err
			}
			vec := decodeVector(blob)
			sim := cosineSimilarity(query, vec)
			heap.Push(h, scoredID{id: id, score: sim})
			if h.Len() > fetch {
				heap.Pop(h)
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}

		ordered := make([]scoredID, h.Len())
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i] = heap.Pop(h).(scoredID)
		}

		best = make([]candidate, 0, len(ordered))
		for _, o := range ordered {
			var payloadJSON string
			err := ix.db.QueryRowContext(context.Background(), `SELECT payload FROM vector_payloads WHERE collection = ? AND id = ?`, collection, o.id).Scan(&payloadJSON)
			if err == sql.ErrNoRows {
				best = append(best, candidate{id: o.id, score: o.score, payload: map[string]string{}})
				continue
			}
			if err != nil {
				return err
			}
			var payload map[string]string
			if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
				return &models.CorruptionError{Entity: "vector_payload", Detail: err.Error()}
			}
			best = append(best, candidate{id: o.id, score: o.score, payload: payload})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.VectorSearchResult, 0, k)
	for _, c := range best {
		if len(filters) > 0 && !matchesFilters(c.payload, filters) {
			continue
		}
		out = append(out, models.VectorSearchResult{ID: c.id, Score: c.score, Payload: c.payload})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func matchesFilters(payload, filters map[string]string) bool {
	for k, v := range filters {
		if payload[k] != v {
			return false
		}
	}
	return true
}

// cosineSimilarity converts cosine distance in [0,2] to similarity in [0,1]
// per spec.md §4.2's score-normalisation rule: similarity = 1 - distance/2.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	distance := 1 - cos
	return 1 - distance/2
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v
}

package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements VectorIndex.
var _ VectorIndex = (*SQLiteIndex)(nil)

// SQLiteIndex provides vector storage and brute-force cosine similarity
// search backed by the knowledge_vectors table. Search is exact, so recall is
// 1.0 and query cost is linear in corpus size; the corpus here is a curated
// knowledge base, not a web-scale index.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an existing *sql.DB for vector operations. The
// knowledge_vectors table must already exist (created via migrations).
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

// Upsert stores the vector and metadata for a document. A conflicting doc id
// is overwritten in place (last writer wins); SQLite preserves the rowid on
// conflict update, which keeps the original insertion order for tie-breaking.
func (s *SQLiteIndex) Upsert(docID string, vector []float32, meta DocMeta) error {
	if docID == "" {
		return fmt.Errorf("upsert: empty doc id")
	}
	if len(vector) == 0 {
		return fmt.Errorf("upsert: empty vector for %s", docID)
	}
	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	blob := encodeFloat32s(vector)
	_, err := s.db.Exec(`
		INSERT INTO knowledge_vectors (doc_id, title, doc_type, body, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			title = excluded.title,
			doc_type = excluded.doc_type,
			body = excluded.body,
			embedding = excluded.embedding,
			created_at = excluded.created_at`,
		docID, meta.Title, meta.DocType, meta.Body, blob, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting vector for %s: %w", docID, err)
	}
	return nil
}

// idScore holds only the id, score and insertion rank during the scan phase.
// Full metadata is fetched only for top-K winners.
type idScore struct {
	DocID string
	Score float32
	Seq   int64
}

// Query performs brute-force cosine similarity search over all vectors,
// returning the top-K most similar documents in descending score order.
// Equal scores order by insertion sequence ascending (oldest first).
func (s *SQLiteIndex) Query(vector []float32, topK int) ([]Scored, error) {
	if topK <= 0 {
		return nil, nil
	}

	// Phase 1: scan only rowid + id + embedding to find top-K candidates.
	rows, err := s.db.Query(`SELECT rowid, doc_id, embedding FROM knowledge_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var seq int64
		var id string
		var blob []byte
		if err := rows.Scan(&seq, &id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		cand := idScore{DocID: id, Score: score, Seq: seq}
		if h.Len() < topK {
			heap.Push(h, cand)
		} else if better(cand, (*h)[0]) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Pop the heap into descending result order.
	winners := make([]idScore, h.Len())
	for i := len(winners) - 1; i >= 0; i-- {
		winners[i] = heap.Pop(h).(idScore)
	}

	// Phase 2: fetch metadata only for the top-K ids.
	ids := make([]interface{}, len(winners))
	for i, w := range winners {
		ids[i] = w.DocID
	}
	metaQuery := `SELECT doc_id, title, doc_type, body, created_at
		FROM knowledge_vectors WHERE doc_id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	metaRows, err := s.db.Query(metaQuery, ids...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K metadata: %w", err)
	}
	defer metaRows.Close()

	metas := make(map[string]DocMeta, len(winners))
	for metaRows.Next() {
		var id, createdAt string
		var m DocMeta
		if err := metaRows.Scan(&id, &m.Title, &m.DocType, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning metadata: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", id, err)
		}
		m.CreatedAt = t
		metas[id] = m
	}
	if err := metaRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metadata: %w", err)
	}

	results := make([]Scored, 0, len(winners))
	for _, w := range winners {
		m, ok := metas[w.DocID]
		if !ok {
			// Deleted between phases; drop rather than return a stale id.
			continue
		}
		results = append(results, Scored{DocID: w.DocID, Meta: m, Score: w.Score})
	}
	return results, nil
}

// Delete removes a document's vector by id.
func (s *SQLiteIndex) Delete(docID string) error {
	res, err := s.db.Exec(`DELETE FROM knowledge_vectors WHERE doc_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("deleting vector %s: %w", docID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("vector %s not found", docID)
	}
	return nil
}

// Count returns the number of indexed documents.
func (s *SQLiteIndex) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_vectors`).Scan(&count)
	return count, err
}

// better reports whether candidate a outranks b: higher score wins, equal
// scores prefer the earlier insertion.
func better(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Seq < b.Seq
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore: the root is the worst candidate seen
// so far, evicted when a better one arrives.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return better(h[j], h[i]) }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

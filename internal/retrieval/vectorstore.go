package retrieval

import "time"

// VectorIndex is the interface for vector storage and similarity search
// backends. The default implementation is SQLite with exact brute-force
// cosine similarity (recall 1.0); an ANN-capable backend can be substituted
// as long as it documents its recall.
//
// Consistency: Upsert replaces any existing vector for the same document id
// (last writer wins), and a Query started after a Delete has returned will
// not see the deleted id. The SQLite backend runs on a single connection, so writes
// serialize and reads observe fully applied writes.
type VectorIndex interface {
	// Upsert stores the vector and metadata for a document, replacing any
	// previous entry with the same id.
	Upsert(docID string, vector []float32, meta DocMeta) error

	// Query returns the top-K most similar documents by descending cosine
	// similarity. Ties break by insertion order, oldest first.
	Query(vector []float32, topK int) ([]Scored, error)

	// Delete removes a document's vector by id.
	Delete(docID string) error

	// Count returns the number of indexed documents.
	Count() (int, error)
}

// DocMeta is the metadata stored alongside a vector.
type DocMeta struct {
	Title     string
	DocType   string
	Body      string
	CreatedAt time.Time
}

// Scored is one query hit.
type Scored struct {
	DocID string
	Meta  DocMeta
	Score float32
}

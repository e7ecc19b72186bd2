package retrieval

// Backend identifies which search path produced a batch. The choice is
// made once per batch, never per query.
const (
	BackendVector  = "pgvector"
	BackendKeyword = "keyword_fallback"
)

// Hit is a single retrieved chunk. Distance is a similarity-search score
// (lower = closer) and is only set on vector-backed hits; keyword hits
// carry no relevance score, so scores are never comparable across
// backends.
type Hit struct {
	ChunkID    int64    `json:"id"`
	DocumentID int64    `json:"document_id"`
	Snippet    string   `json:"snippet"`
	Distance   *float64 `json:"distance"`
}

// QueryResult holds the hits for one input query.
type QueryResult struct {
	Query string `json:"query"`
	Docs  []Hit  `json:"docs"`
}

// Batch is the fan-out result for one set of queries. Results are
// index-aligned with the input query order regardless of completion
// order; downstream consumers zip queries to results positionally.
type Batch struct {
	OK      bool          `json:"ok"`
	Results []QueryResult `json:"results"`
	Backend string        `json:"backend"`
}

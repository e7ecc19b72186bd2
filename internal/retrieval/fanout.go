package retrieval

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxParallel  = 8
	defaultQueryTimeout = 20 * time.Second
	maxTopK             = 50
)

// Engine fans one batch of queries out across goroutines and collects
// the results in input order.
type Engine struct {
	retriever *Retriever

	maxParallel  int
	queryTimeout time.Duration
}

func NewEngine(retriever *Retriever, maxParallel int, queryTimeout time.Duration) *Engine {
	if maxParallel < 1 {
		maxParallel = defaultMaxParallel
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Engine{
		retriever:    retriever,
		maxParallel:  maxParallel,
		queryTimeout: queryTimeout,
	}
}

// RetrieveMany runs one retrieval per query concurrently and returns a
// batch with exactly one QueryResult per input query, index-aligned.
//
// The backend is decided once for the whole batch: if no embeddings
// exist for the configured model tag, every query uses the keyword
// fallback; otherwise every query attempts vector search, degrading to
// a synthetic error hit (never to keyword search) on individual
// failure. A slow or failed query never delays or cancels its siblings.
//
// The returned error is non-nil only when the backend decision itself
// is unreachable; callers treat that as batch-level unavailability.
func (e *Engine) RetrieveMany(ctx context.Context, queries []string, topK int) (Batch, error) {
	if topK < 1 {
		topK = 1
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	if len(queries) == 0 {
		return Batch{OK: true, Results: []QueryResult{}}, nil
	}

	hasVectors, err := e.retriever.HasEmbeddings(ctx)
	if err != nil {
		return Batch{}, err
	}

	backend := BackendKeyword
	if hasVectors {
		backend = BackendVector
	}

	results := make([]QueryResult, len(queries))

	g := new(errgroup.Group)
	g.SetLimit(e.maxParallel)
	for i, q := range queries {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
			defer cancel()

			var hits []Hit
			if hasVectors {
				hits = e.retriever.RetrieveVector(qctx, q, topK)
			} else {
				hits = e.retriever.RetrieveKeyword(qctx, q, topK)
			}
			if hits == nil {
				hits = []Hit{}
			}
			results[i] = QueryResult{Query: q, Docs: hits}
			return nil
		})
	}
	// Goroutines never return an error; per-query failures are already
	// folded into synthetic hits.
	_ = g.Wait()

	return Batch{OK: true, Results: results, Backend: backend}, nil
}

package retrieval

import (
	"context"
	"fmt"
)

// Searcher is the storage boundary for retrieval. Implemented by
// store.ChunkStore; tests substitute fakes.
type Searcher interface {
	// HasEmbeddings reports whether any stored embedding carries the
	// given model tag.
	HasEmbeddings(ctx context.Context, modelTag string) (bool, error)
	// SimilaritySearch returns up to topK hits ordered by ascending
	// distance from the query vector, restricted to rows tagged with
	// modelTag. Distance is populated on every hit.
	SimilaritySearch(ctx context.Context, vector []float32, modelTag string, topK int) ([]Hit, error)
	// KeywordSearch returns up to topK hits whose content contains the
	// query (case-insensitive), most recently ingested first. Distance
	// is absent on every hit.
	KeywordSearch(ctx context.Context, query string, topK int) ([]Hit, error)
}

// Embedder turns query text into a vector. langchaingo's
// embeddings.Embedder satisfies this.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever executes a single retrieval against the chunk store. The
// model tag scopes every vector search: mixing embeddings from
// different models would make distance comparisons meaningless, so the
// tag is part of the search predicate.
type Retriever struct {
	Store    Searcher
	Embedder Embedder
	ModelTag string
}

func NewRetriever(store Searcher, embedder Embedder, modelTag string) *Retriever {
	return &Retriever{
		Store:    store,
		Embedder: embedder,
		ModelTag: modelTag,
	}
}

// HasEmbeddings reports whether vector search is possible for the
// configured model tag.
func (r *Retriever) HasEmbeddings(ctx context.Context) (bool, error) {
	return r.Store.HasEmbeddings(ctx, r.ModelTag)
}

// RetrieveVector embeds the query and runs a similarity search. Any
// failure is converted into a single synthetic error hit so that a
// batch never loses an entry.
func (r *Retriever) RetrieveVector(ctx context.Context, query string, topK int) []Hit {
	vec, err := r.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return []Hit{errorHit(err)}
	}
	hits, err := r.Store.SimilaritySearch(ctx, vec, r.ModelTag, topK)
	if err != nil {
		return []Hit{errorHit(err)}
	}
	return hits
}

// RetrieveKeyword runs the substring fallback. Same error contract as
// RetrieveVector.
func (r *Retriever) RetrieveKeyword(ctx context.Context, query string, topK int) []Hit {
	hits, err := r.Store.KeywordSearch(ctx, query, topK)
	if err != nil {
		return []Hit{errorHit(err)}
	}
	return hits
}

func errorHit(err error) Hit {
	return Hit{
		ChunkID:    -1,
		DocumentID: -1,
		Snippet:    fmt.Sprintf("retrieval error: %v", err),
	}
}

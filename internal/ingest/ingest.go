// Package ingest feeds documents into the chunk store: it splits text
// into chunks, embeds them under the configured model tag, and stores
// the result. Web pages are fetched and reduced to clean article text
// before chunking.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// ChunkSink is the storage boundary; store.ChunkStore implements it.
type ChunkSink interface {
	IngestDocument(ctx context.Context, name, source string, chunks []string, vectors [][]float32, modelTag string) (int64, error)
}

// Embedder produces one vector per chunk. langchaingo's
// embeddings.Embedder satisfies this.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

const defaultChunkSize = 1200

// Ingestor wires the pieces together. Embedder may be nil, in which
// case chunks are stored without vectors and are only reachable through
// the keyword fallback.
type Ingestor struct {
	Store     ChunkSink
	Embedder  Embedder
	ModelTag  string
	ChunkSize int

	Fetcher *Fetcher
}

func NewIngestor(store ChunkSink, embedder Embedder, modelTag string) *Ingestor {
	return &Ingestor{
		Store:     store,
		Embedder:  embedder,
		ModelTag:  modelTag,
		ChunkSize: defaultChunkSize,
		Fetcher:   NewFetcher(),
	}
}

// IngestText chunks, embeds, and stores one document. Returns the
// document id and the number of chunks stored.
func (in *Ingestor) IngestText(ctx context.Context, name, source, content string) (int64, int, error) {
	chunks := SplitChunks(content, in.chunkSize())
	if len(chunks) == 0 {
		return 0, 0, fmt.Errorf("document %q has no content", name)
	}

	var vectors [][]float32
	if in.Embedder != nil {
		var err error
		vectors, err = in.Embedder.EmbedDocuments(ctx, chunks)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to embed document %q: %w", name, err)
		}
	}

	docID, err := in.Store.IngestDocument(ctx, name, source, chunks, vectors, in.ModelTag)
	if err != nil {
		return 0, 0, err
	}

	log.Printf("Ingested document %q: %d chunks (doc id %d)", name, len(chunks), docID)
	return docID, len(chunks), nil
}

// IngestURL fetches a web page, extracts its article text, and ingests
// it under the page title.
func (in *Ingestor) IngestURL(ctx context.Context, pageURL string) (int64, int, error) {
	if in.Fetcher == nil {
		return 0, 0, fmt.Errorf("no fetcher configured")
	}
	title, text, err := in.Fetcher.FetchArticle(ctx, pageURL)
	if err != nil {
		return 0, 0, err
	}
	name := title
	if name == "" {
		name = pageURL
	}
	return in.IngestText(ctx, name, pageURL, text)
}

func (in *Ingestor) chunkSize() int {
	if in.ChunkSize > 0 {
		return in.ChunkSize
	}
	return defaultChunkSize
}

// SplitChunks breaks content into chunks of at most maxLen characters,
// preferring paragraph boundaries and falling back to word boundaries
// inside oversized paragraphs. Whitespace-only input yields no chunks.
func SplitChunks(content string, maxLen int) []string {
	if maxLen < 1 {
		maxLen = defaultChunkSize
	}

	var chunks []string
	var buf strings.Builder

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if len(para) > maxLen {
			flush()
			for _, piece := range splitLongParagraph(para, maxLen) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if buf.Len() > 0 && buf.Len()+len(para)+2 > maxLen {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()

	return chunks
}

func splitLongParagraph(para string, maxLen int) []string {
	var out []string
	words := strings.Fields(para)
	var buf strings.Builder

	for _, w := range words {
		if buf.Len() > 0 && buf.Len()+len(w)+1 > maxLen {
			out = append(out, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(w)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

// Package knowledge is the local RAG store: ingested documents are
// chunked, embedded, and retrieved by vector similarity at query time.
package knowledge

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/philippgille/chromem-go"
)

const (
	collectionName = "jarvis_knowledge"

	chunkSize    = 500
	chunkOverlap = 50
	minChunkLen  = 10

	defaultTopK = 3
)

// Embedder produces an embedding vector for a text. Satisfied by the
// LLM clients.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one retrieved chunk with its similarity score.
type Result struct {
	Content    string
	Source     string
	Similarity float32
}

// Store holds the embedded document chunks, persisted under the data
// directory.
type Store struct {
	collection *chromem.Collection
	embedder   Embedder
	logger     *slog.Logger
}

// NewStore opens (or creates) the persistent knowledge base in
// dataDir. The embedder is invoked both at ingest and query time, so
// the same model must serve both.
func NewStore(dataDir string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dataDir, "knowledge"), false)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge db: %w", err)
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge collection: %w", err)
	}

	return &Store{
		collection: collection,
		embedder:   embedder,
		logger:     logger,
	}, nil
}

// Ingest chunks content and stores each chunk with its embedding.
// Chunk IDs are content hashes, so re-ingesting the same text is a
// no-op rather than a duplicate. Returns the number of chunks stored.
func (s *Store) Ingest(ctx context.Context, source, content string) (int, error) {
	chunks := Chunk(content)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("content too short to ingest")
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:      chunkID(chunk),
			Content: chunk,
			Metadata: map[string]string{
				"source": source,
			},
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return 0, fmt.Errorf("storing knowledge chunks: %w", err)
	}

	s.logger.Info("ingested document", "source", source, "chunks", len(docs))
	return len(docs), nil
}

// Query retrieves the topK most similar chunks. topK <= 0 uses the
// default. Fewer stored chunks than topK is not an error.
func (s *Store) Query(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	if n := s.collection.Count(); n < topK {
		if n == 0 {
			return nil, nil
		}
		topK = n
	}

	results, err := s.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge base: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			Content:    r.Content,
			Source:     r.Metadata["source"],
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Chunk splits content into overlapping windows. Tiny trailing
// fragments are dropped rather than stored as near-useless chunks.
func Chunk(content string) []string {
	content = strings.TrimSpace(content)
	runes := []rune(content)

	var chunks []string
	step := chunkSize - chunkOverlap
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if len([]rune(chunk)) >= minChunkLen {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func chunkID(chunk string) string {
	sum := md5.Sum([]byte(chunk))
	return hex.EncodeToString(sum[:])
}

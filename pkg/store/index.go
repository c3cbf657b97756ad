package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/internal/types"
)

// Indexer embeds chunks into a fresh Index per call.
type Indexer struct {
	embedder types.Embedder
}

func NewIndexer(embedder types.Embedder) *Indexer {
	return &Indexer{embedder: embedder}
}

// Index is an in-memory cosine-similarity index over one job's chunks.
// It is never shared between jobs.
type Index struct {
	collection *chromem.Collection
	chunks     map[string]models.Chunk
	dim        int
}

// Build embeds every chunk and indexes it. An empty input yields an empty
// index that returns no results.
func (ix *Indexer) Build(ctx context.Context, chunks []models.Chunk) (*Index, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection("chunks", map[string]string{"hnsw:space": "cosine"}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	index := &Index{
		collection: collection,
		chunks:     make(map[string]models.Chunk, len(chunks)),
	}
	if len(chunks) == 0 {
		return index, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, &models.EmbeddingError{Op: "index", Err: fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))}
	}

	ids := make([]string, len(chunks))
	metadatas := make([]map[string]string, len(chunks))
	for i, c := range chunks {
		ids[i] = strconv.Itoa(i)
		metadatas[i] = map[string]string{"source_url": c.SourceURL, "chunk_id": c.ID}
		index.chunks[ids[i]] = c
	}
	if err := collection.Add(ctx, ids, vectors, metadatas, texts); err != nil {
		return nil, &models.EmbeddingError{Op: "index", Err: err}
	}
	index.dim = len(vectors[0])
	return index, nil
}

// Len returns the number of indexed chunks.
func (x *Index) Len() int {
	return x.collection.Count()
}

// Search returns up to k chunks ordered by descending similarity to vector.
// Ties keep chunk order so repeated searches return the same sequence.
func (x *Index) Search(ctx context.Context, vector []float32, k int) ([]models.Chunk, error) {
	n := min(k, x.collection.Count())
	if n <= 0 {
		return nil, nil
	}
	if len(vector) != x.dim {
		return nil, fmt.Errorf("query has dimension %d, index has %d", len(vector), x.dim)
	}

	results, err := x.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	slices.SortStableFunc(results, func(a, b chromem.Result) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(x.chunks[a.ID].Index, x.chunks[b.ID].Index)
	})

	out := make([]models.Chunk, 0, len(results))
	for _, r := range results {
		out = append(out, x.chunks[r.ID])
	}
	return out, nil
}

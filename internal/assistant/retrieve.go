package assistant

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/classsight/classsight/internal/store"
	"github.com/classsight/classsight/provider"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// ChunkStore provides read access to the evidence chunk table. Satisfied by
// *store.Store.
type ChunkStore interface {
	SearchChunks(ctx context.Context, table string, vector []float32, k int) ([]store.ChunkRecord, error)
	ListChunks(ctx context.Context, table string) ([]store.ChunkRecord, error)
}

// Retriever is the alternate answering path: embed the question, rank stored
// chunks by similarity, return the top-k. With hybrid enabled it fuses a BM25
// keyword ranking over an in-memory index with the vector ranking.
type Retriever struct {
	llm    provider.Provider
	chunks ChunkStore
	table  string
	topK   int
	hybrid bool

	mu    sync.RWMutex
	index bleve.Index
	docs  map[string]store.ChunkRecord
}

func NewRetriever(llm provider.Provider, chunks ChunkStore, table string, topK int, hybrid bool) *Retriever {
	if topK <= 0 {
		topK = 50
	}
	return &Retriever{llm: llm, chunks: chunks, table: table, topK: topK, hybrid: hybrid}
}

// Retrieve returns the top-k evidence chunks for the question. An empty
// question or a zero embedding yields no evidence rather than an undefined
// ranking; only infrastructure faults are errors.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]EvidenceChunk, error) {
	if k <= 0 {
		k = r.topK
	}
	if strings.TrimSpace(question) == "" {
		return nil, nil
	}
	vecs, err := r.llm.CreateEmbedding(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %v", ErrRetrieval, err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embedding response was empty", ErrRetrieval)
	}
	vec, ok := normalizeVector(vecs[0])
	if !ok {
		return nil, nil
	}

	records, err := r.chunks.SearchChunks(ctx, r.table, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	vectorHits := make([]EvidenceChunk, 0, len(records))
	for _, rec := range records {
		// pgvector's <#> operator returns the negated inner product.
		vectorHits = append(vectorHits, EvidenceChunk{Text: rec.Text, Metadata: rec.Metadata, Score: -rec.Distance})
	}

	if !r.hybrid {
		return vectorHits, nil
	}
	keywordHits, err := r.keywordSearch(question, k)
	if err != nil {
		// Keyword index problems degrade to pure vector ranking.
		return vectorHits, nil
	}
	return fuseRRF(vectorHits, keywordHits, k), nil
}

// RefreshIndex rebuilds the in-memory BM25 index from the chunk table. Only
// needed when hybrid retrieval is enabled.
func (r *Retriever) RefreshIndex(ctx context.Context) error {
	if !r.hybrid {
		return nil
	}
	records, err := r.chunks.ListChunks(ctx, r.table)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	docs := make(map[string]store.ChunkRecord, len(records))
	for _, rec := range records {
		docs[rec.ID] = rec
		if err := index.Index(rec.ID, map[string]interface{}{"text": rec.Text}); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.index = index
	r.docs = docs
	r.mu.Unlock()
	return nil
}

func (r *Retriever) keywordSearch(q string, k int) ([]EvidenceChunk, error) {
	r.mu.RLock()
	index := r.index
	docs := r.docs
	r.mu.RUnlock()
	if index == nil {
		return nil, fmt.Errorf("keyword index not built")
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := index.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []EvidenceChunk
	for _, hit := range res.Hits {
		doc, ok := docs[hit.ID]
		if !ok {
			continue
		}
		out = append(out, EvidenceChunk{Text: doc.Text, Metadata: doc.Metadata, Score: hit.Score})
	}
	return out, nil
}

// fuseRRF merges two rankings by reciprocal rank fusion.
func fuseRRF(a, b []EvidenceChunk, k int) []EvidenceChunk {
	type agg struct {
		item  EvidenceChunk
		score float64
	}
	m := map[string]*agg{}
	add := func(list []EvidenceChunk) {
		for rank, h := range list {
			x, ok := m[h.Text]
			if !ok {
				m[h.Text] = &agg{item: h}
				x = m[h.Text]
			}
			x.score += 1.0 / float64(rrfK+rank+1)
		}
	}
	add(a)
	add(b)
	items := make([]*agg, 0, len(m))
	for _, v := range m {
		items = append(items, v)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].score > items[j].score })
	if k > len(items) {
		k = len(items)
	}
	out := make([]EvidenceChunk, 0, k)
	for i := 0; i < k; i++ {
		c := items[i].item
		c.Score = items[i].score
		out = append(out, c)
	}
	return out
}

// normalizeVector scales the vector to unit norm. The second return is false
// for the degenerate zero vector, where similarity ranking is undefined.
func normalizeVector(vec []float32) ([]float32, bool) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, false
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, true
}

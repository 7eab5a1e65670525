package encode

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	chromem "github.com/philippgille/chromem-go"

	"github.com/dohr-michael/dayflow/internal/domain"
)

const collectionName = "dayflow_tasks"

// VectorResult holds a single vector search result.
type VectorResult struct {
	ID         string
	Content    string
	Similarity float32
	Metadata   map[string]string
}

// VectorStore wraps chromem-go for persistent task embeddings.
type VectorStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorStore creates a persistent vector store in the given directory.
// The embedder is bridged from Eino's [][]float64 to chromem-go's []float32.
func NewVectorStore(ctx context.Context, dir string, embedder embedding.Embedder) (*VectorStore, error) {
	vectorDir := filepath.Join(dir, "vectors")
	db, err := chromem.NewPersistentDB(vectorDir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	ef := bridgeEmbedder(ctx, embedder)
	col, err := db.GetOrCreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}

	return &VectorStore{db: db, collection: col}, nil
}

// EncodeTask upserts a task's searchable text. Re-encoding the same task id
// overwrites the previous document.
func (vs *VectorStore) EncodeTask(ctx context.Context, t *domain.Task) error {
	return vs.collection.Add(ctx,
		[]string{t.ID},
		nil,
		[]map[string]string{{
			"user_id":  t.User,
			"source":   string(t.Source),
			"priority": string(t.Priority),
		}},
		[]string{TaskDocument(t)})
}

// Delete removes a task's document.
func (vs *VectorStore) Delete(ctx context.Context, id string) error {
	return vs.collection.Delete(ctx, nil, nil, id)
}

// Query performs a semantic search over one user's tasks.
func (vs *VectorStore) Query(ctx context.Context, user, queryText string, nResults int) ([]VectorResult, error) {
	if vs.collection.Count() == 0 {
		return nil, nil
	}
	if nResults > vs.collection.Count() {
		nResults = vs.collection.Count()
	}

	results, err := vs.collection.Query(ctx, queryText, nResults, map[string]string{"user_id": user}, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	out := make([]VectorResult, len(results))
	for i, r := range results {
		out[i] = VectorResult{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
			Metadata:   r.Metadata,
		}
	}
	return out, nil
}

// Count returns the number of encoded documents.
func (vs *VectorStore) Count() int {
	return vs.collection.Count()
}

// TaskDocument flattens a task into the text that gets embedded.
func TaskDocument(t *domain.Task) string {
	parts := []string{t.Title}
	if t.Description != "" {
		parts = append(parts, t.Description)
	}
	if t.Location != "" {
		parts = append(parts, "at "+t.Location)
	}
	if len(t.Attendees) > 0 {
		parts = append(parts, "with "+strings.Join(t.Attendees, ", "))
	}
	parts = append(parts, "on "+t.Start.Format("2006-01-02 15:04"))
	return strings.Join(parts, "\n")
}

// bridgeEmbedder converts an Eino Embedder ([][]float64) to a chromem-go EmbeddingFunc ([]float32).
func bridgeEmbedder(ctx context.Context, embedder embedding.Embedder) chromem.EmbeddingFunc {
	return func(embedCtx context.Context, text string) ([]float32, error) {
		if embedCtx == context.Background() {
			embedCtx = ctx
		}
		vectors, err := embedder.EmbedStrings(embedCtx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("embed text: empty result")
		}

		f64 := vectors[0]
		f32 := make([]float32, len(f64))
		for i, v := range f64 {
			f32[i] = float32(v)
		}
		return f32, nil
	}
}

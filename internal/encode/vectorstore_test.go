package encode

import (
	"context"
	"crypto/sha256"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/dohr-michael/dayflow/internal/domain"
)

// hashEmbedder derives deterministic vectors from content, good enough to
// exercise upsert and filtered query without a live embedding service.
type hashEmbedder struct{}

func (hashEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		vec := make([]float64, 16)
		for j := range vec {
			vec[j] = float64(sum[j])/255.0 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}

func TestEncodeTaskUpsertsAndQueries(t *testing.T) {
	ctx := context.Background()
	vs, err := NewVectorStore(ctx, t.TempDir(), hashEmbedder{})
	if err != nil {
		t.Fatalf("new vector store: %v", err)
	}

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	task := &domain.Task{
		ID: "task_1", User: "alice", Source: domain.SourceCalendar,
		Title: "Quarterly budget review", Start: start, End: start.Add(time.Hour),
		Priority: domain.PriorityHigh,
	}
	if err := vs.EncodeTask(ctx, task); err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Re-encoding overwrites, not duplicates.
	if err := vs.EncodeTask(ctx, task); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if vs.Count() != 1 {
		t.Fatalf("count = %d, want 1", vs.Count())
	}

	other := *task
	other.ID = "task_2"
	other.User = "bob"
	if err := vs.EncodeTask(ctx, &other); err != nil {
		t.Fatalf("encode other: %v", err)
	}

	results, err := vs.Query(ctx, "alice", "budget review", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].ID != "task_1" {
		t.Fatalf("results = %+v, want only alice's task", results)
	}
}

func TestTaskDocumentIncludesContext(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	task := &domain.Task{
		Title: "Standup", Description: "daily sync", Location: "Room 4",
		Attendees: []string{"bob@example.com"}, Start: start, End: start.Add(time.Hour),
	}
	doc := TaskDocument(task)
	for _, want := range []string{"Standup", "daily sync", "Room 4", "bob@example.com", "2026-03-02"} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q:\n%s", want, doc)
		}
	}
}

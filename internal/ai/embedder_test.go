package ai

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"query-sphere/internal/config"
	"query-sphere/models"
)

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(64)
	a, err := e.Embed(context.Background(), []string{"Termination notice period", "termination NOTICE period!"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 2 || len(a[0]) != 64 {
		t.Fatalf("unexpected shape %d x %d", len(a), len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatalf("case and punctuation should not change the vector (dim %d)", i)
		}
	}

	var norm float64
	for _, x := range a[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("expected unit vector, norm^2=%f", norm)
	}
}

func TestHashingEmbedderEmptyText(t *testing.T) {
	v, err := NewHashingEmbedder(8).Embed(context.Background(), []string{""})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if v[0][0] != 1 {
		t.Fatalf("empty text should map to the first basis vector, got %v", v[0])
	}
}

type countingEmbedder struct {
	calls []int
	dims  []int
	err   error
	delay time.Duration
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, len(texts))
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		dim := 4
		if len(c.dims) > 0 {
			dim = c.dims[(len(c.calls)-1)%len(c.dims)]
		}
		out[i] = make([]float32, dim)
		out[i][0] = 1
	}
	return out, nil
}

func (c *countingEmbedder) Model() string { return "counting" }
func (c *countingEmbedder) Close() error  { return nil }

func TestBatchingEmbedderSplitsBatches(t *testing.T) {
	inner := &countingEmbedder{}
	b := NewBatchingEmbedder(inner, 2, time.Second)

	vecs, err := b.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(vecs))
	}
	want := []int{2, 2, 1}
	if len(inner.calls) != len(want) {
		t.Fatalf("expected batches %v, got %v", want, inner.calls)
	}
	for i := range want {
		if inner.calls[i] != want[i] {
			t.Fatalf("expected batches %v, got %v", want, inner.calls)
		}
	}
}

func TestBatchingEmbedderErrors(t *testing.T) {
	tests := []struct {
		name  string
		inner *countingEmbedder
	}{
		{"provider failure", &countingEmbedder{err: errors.New("connection refused")}},
		{"dimension mismatch", &countingEmbedder{dims: []int{4, 8}}},
		{"timeout", &countingEmbedder{delay: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatchingEmbedder(tt.inner, 1, 20*time.Millisecond)
			_, err := b.Embed(context.Background(), []string{"a", "b"})
			if !errors.Is(err, models.ErrEmbeddingUnavailable) {
				t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
			}
		})
	}
}

func TestNewEmbedderHashingDefault(t *testing.T) {
	cfg := config.Default()
	e, err := NewEmbedder(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	defer e.Close()
	if e.Model() != "hashing-384" {
		t.Fatalf("unexpected model %q", e.Model())
	}
}

// Network dependent; runs only with a real key.
func TestGeminiEmbedder(t *testing.T) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	e, err := NewGeminiEmbedder(context.Background(), key, "text-embedding-004")
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer e.Close()
	vec, err := e.Embed(context.Background(), []string{"hello world"})
	if err != nil {
		t.Fatalf("embedding error: %v", err)
	}
	if len(vec) != 1 || len(vec[0]) == 0 {
		t.Fatalf("empty embedding")
	}
}

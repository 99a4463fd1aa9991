package embedding

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/rcliao/companion-memory/internal/model"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestSimilarityScoreRange(t *testing.T) {
	// Cosine of -1 maps to 0, +1 maps to 1.
	if got := SimilarityScore(Vector{1, 0}, Vector{-1, 0}); math.Abs(got) > 0.001 {
		t.Errorf("opposite vectors should score 0, got %f", got)
	}
	if got := SimilarityScore(Vector{1, 0}, Vector{1, 0}); math.Abs(got-1) > 0.001 {
		t.Errorf("identical vectors should score 1, got %f", got)
	}
}

func TestHashDeterministic(t *testing.T) {
	a := Hash("hello world")
	b := Hash("hello world")
	if a != b {
		t.Error("identical text must hash identically")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if Hash("hello world ") == a {
		t.Error("different text must hash differently")
	}
}

func TestNewFromEnvDisabled(t *testing.T) {
	// With no env vars set, embeddings are disabled.
	if p := NewFromEnv(); p != nil {
		t.Error("expected nil provider when no provider configured")
	}
}

func TestMockProviderDeterministic(t *testing.T) {
	ctx := context.Background()
	m := NewMockProvider(8)

	a, _ := m.Embed(ctx, "same text")
	b, _ := m.Embed(ctx, "same text")
	if CosineSimilarity(a, b) < 0.999 {
		t.Error("identical text must yield identical vectors")
	}
	if len(a) != 8 {
		t.Errorf("expected 8 dims, got %d", len(a))
	}
}

// memCache is an in-memory Cache for exercising the cached provider.
type memCache struct {
	mu      sync.Mutex
	entries map[string]Vector
	hits    int
}

func newMemCache() *memCache { return &memCache{entries: map[string]Vector{}} }

func (c *memCache) GetCachedEmbedding(_ context.Context, hash string) (*model.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.entries[hash]; ok {
		c.hits++
		return &model.CacheEntry{Hash: hash, Embedding: v}, nil
	}
	return nil, nil
}

func (c *memCache) PutCachedEmbedding(_ context.Context, hash string, v []float32, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = v
	return nil
}

func TestCachedProviderHitsSkipInner(t *testing.T) {
	ctx := context.Background()
	inner := NewMockProvider(4)
	cache := newMemCache()
	p := NewCachedProvider(inner, cache, nil)

	first, err := p.Embed(ctx, "repeat me")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := p.Embed(ctx, "repeat me")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if inner.Calls != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.Calls)
	}
	if cache.hits != 1 {
		t.Errorf("expected 1 cache hit, got %d", cache.hits)
	}
	if CosineSimilarity(first, second) < 0.999 {
		t.Error("cached vector must match the embedded one")
	}
}

func TestCachedProviderBatchPartialMiss(t *testing.T) {
	ctx := context.Background()
	inner := NewMockProvider(4)
	cache := newMemCache()
	p := NewCachedProvider(inner, cache, nil)

	p.Embed(ctx, "cached already")

	vecs, err := p.BatchEmbed(ctx, []string{"cached already", "fresh one"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vecs) != 2 || vecs[0] == nil || vecs[1] == nil {
		t.Fatalf("expected 2 vectors, got %v", vecs)
	}
	// One call to seed the cache, one for the single miss.
	if inner.Calls != 2 {
		t.Errorf("expected 2 provider calls, got %d", inner.Calls)
	}
}

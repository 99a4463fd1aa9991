package embedding

import (
	"context"
	"crypto/sha256"
	"sync"
)

// MockProvider is a deterministic in-process provider for tests and
// offline development. Identical text always yields an identical vector.
type MockProvider struct {
	dims int

	mu    sync.Mutex
	Calls int
}

// NewMockProvider returns a mock with the given dimensionality.
func NewMockProvider(dims int) *MockProvider {
	if dims <= 0 {
		dims = 8
	}
	return &MockProvider{dims: dims}
}

func (m *MockProvider) Embed(_ context.Context, text string) (Vector, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()

	// Derive a stable pseudo-vector from the content hash.
	sum := sha256.Sum256([]byte(text))
	v := make(Vector, m.dims)
	for i := 0; i < m.dims; i++ {
		v[i] = float32(sum[i%len(sum)])/255.0 - 0.5
	}
	return v, nil
}

func (m *MockProvider) BatchEmbed(ctx context.Context, texts []string) ([]Vector, error) {
	return batchSequential(ctx, m, texts)
}

func (m *MockProvider) Model() string { return "mock" }
func (m *MockProvider) Dims() int     { return m.dims }

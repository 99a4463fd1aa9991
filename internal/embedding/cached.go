package embedding

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/model"
)

// Cache is the persistence surface the cached provider needs. The store
// satisfies it.
type Cache interface {
	GetCachedEmbedding(ctx context.Context, hash string) (*model.CacheEntry, error)
	PutCachedEmbedding(ctx context.Context, hash string, embedding []float32, model string) error
}

// CachedProvider wraps a Provider with the persistent embedding cache.
// Identical text is hashed, looked up, and only embedded on a miss.
// Cache failures degrade to direct provider calls rather than erroring.
type CachedProvider struct {
	inner Provider
	cache Cache
	log   *logrus.Logger
}

// NewCachedProvider wraps inner with cache. Inner must be non-nil.
func NewCachedProvider(inner Provider, cache Cache, log *logrus.Logger) *CachedProvider {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CachedProvider{inner: inner, cache: cache, log: log}
}

func (c *CachedProvider) Embed(ctx context.Context, text string) (Vector, error) {
	hash := Hash(text)

	if entry, err := c.cache.GetCachedEmbedding(ctx, hash); err != nil {
		c.log.WithError(err).Warn("embedding cache lookup")
	} else if entry != nil {
		return entry.Embedding, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.PutCachedEmbedding(ctx, hash, vec, c.inner.Model()); err != nil {
		c.log.WithError(err).Warn("embedding cache store")
	}
	return vec, nil
}

func (c *CachedProvider) BatchEmbed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		entry, err := c.cache.GetCachedEmbedding(ctx, Hash(text))
		if err == nil && entry != nil {
			out[i] = entry.Embedding
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.BatchEmbed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		if err := c.cache.PutCachedEmbedding(ctx, Hash(missing[j]), vec, c.inner.Model()); err != nil {
			c.log.WithError(err).Warn("embedding cache store")
		}
	}
	return out, nil
}

func (c *CachedProvider) Model() string { return c.inner.Model() }
func (c *CachedProvider) Dims() int     { return c.inner.Dims() }

// Package embedding provides a pluggable interface for text embedding
// providers, plus the content hashing and similarity math the search
// engine builds on.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Provider generates embedding vectors from text. A nil Provider means
// embeddings are disabled and search degrades to keyword-only scoring.
type Provider interface {
	Embed(ctx context.Context, text string) (Vector, error)
	BatchEmbed(ctx context.Context, texts []string) ([]Vector, error)
	Model() string
	Dims() int
}

// Hash returns the cache key for a piece of text: hex SHA-256 of the
// exact bytes.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched or zero-norm inputs score 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SimilarityScore maps cosine similarity from [-1, 1] into [0, 1] for
// fusion with the other score components.
func SimilarityScore(a, b Vector) float64 {
	return (CosineSimilarity(a, b) + 1) / 2
}

// --- Ollama Provider ---

// OllamaProvider uses a local Ollama instance for embeddings.
type OllamaProvider struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaProvider creates a provider using Ollama's API.
// Default model: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllamaProvider(model string) *OllamaProvider {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	dims := 768 // default for nomic-embed-text
	if model == "all-minilm" {
		dims = 384
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(ollamaRequest{Model: p.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

func (p *OllamaProvider) BatchEmbed(ctx context.Context, texts []string) ([]Vector, error) {
	return batchSequential(ctx, p, texts)
}

func (p *OllamaProvider) Model() string { return p.model }
func (p *OllamaProvider) Dims() int     { return p.dims }

// --- OpenAI-compatible Provider ---

// OpenAIProvider uses any OpenAI-compatible embedding API.
type OpenAIProvider struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

type openaiEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIProvider creates a provider using an OpenAI-compatible API.
func NewOpenAIProvider(baseURL, apiKey, model string, dims int) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims == 0 {
		dims = 1536
	}
	return &OpenAIProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := p.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) BatchEmbed(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, _ := json.Marshal(openaiEmbedRequest{Input: texts, Model: p.model})
	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai error %d: %s", resp.StatusCode, string(b))
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data))
	}
	out := make([]Vector, len(result.Data))
	for i, d := range result.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (p *OpenAIProvider) Model() string { return p.model }
func (p *OpenAIProvider) Dims() int     { return p.dims }

// batchSequential implements BatchEmbed for APIs without a batch
// endpoint. The first failure aborts the batch.
func batchSequential(ctx context.Context, p Provider, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed %d/%d: %w", i+1, len(texts), err)
		}
		out[i] = v
	}
	return out, nil
}

// --- Factory ---

// NewFromEnv creates a provider from environment variables.
// COMPANION_MEMORY_EMBED_PROVIDER: "ollama" | "openai" | "" (disabled)
// COMPANION_MEMORY_EMBED_MODEL: model name
// COMPANION_MEMORY_EMBED_URL: base URL override
// OPENAI_API_KEY: for openai provider
func NewFromEnv() Provider {
	provider := os.Getenv("COMPANION_MEMORY_EMBED_PROVIDER")
	model := os.Getenv("COMPANION_MEMORY_EMBED_MODEL")

	switch provider {
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaProvider(model)
	case "openai":
		url := os.Getenv("COMPANION_MEMORY_EMBED_URL")
		key := os.Getenv("OPENAI_API_KEY")
		return NewOpenAIProvider(url, key, model, 0)
	default:
		return nil // embeddings disabled
	}
}

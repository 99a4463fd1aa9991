package search

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/embedding"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/store"
)

// Options controls one search call. Zero values fall back to the
// configured defaults.
type Options struct {
	// Limit caps the result count; defaults to config.Search.DefaultLimit.
	Limit int
	// MinScore overrides the configured score floor when MinScoreSet.
	MinScore    float64
	MinScoreSet bool
	// Mood is the companion's current mood, used for the mood-match
	// bonus when MoodSet.
	Mood    int
	MoodSet bool
	// Role restricts candidates to one speaker.
	Role string
}

// Result is one scored conversation.
type Result struct {
	Conversation model.Conversation `json:"conversation"`
	Score        float64            `json:"score"`
	// Component scores, kept for re-ranking by the context assembler.
	Keyword    float64 `json:"keyword"`
	Vector     float64 `json:"vector"`
	Temporal   float64 `json:"temporal"`
	Importance float64 `json:"importance"`
	// Fallback marks results surfaced by the empty-result fallback
	// rather than genuine matches.
	Fallback bool `json:"fallback,omitempty"`

	chunkIDs []string
}

// Engine ranks stored conversations against a query. The embedding
// provider is optional; without one the fusion degrades to
// keyword-temporal-importance weighting.
type Engine struct {
	store    *store.Store
	provider embedding.Provider
	cfg      *config.Config
	log      *logrus.Logger
}

// New builds a search engine. provider may be nil.
func New(st *store.Store, provider embedding.Provider, cfg *config.Config, log *logrus.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{store: st, provider: provider, cfg: cfg, log: log}
}

// Search scores the most recent conversations against the query. It
// never fails: provider errors degrade to keyword-only scoring and an
// empty result set falls back to recent conversations.
func (e *Engine) Search(ctx context.Context, query string, opts Options) []Result {
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.Search.DefaultLimit
	}
	minScore := e.cfg.Search.MinScore
	if opts.MinScoreSet {
		minScore = opts.MinScore
	}

	candidates, err := e.store.ListConversations(ctx, store.ListConversationsParams{
		Role:  opts.Role,
		Limit: limit * e.cfg.Search.CandidateFactor,
	})
	if err != nil {
		e.log.WithError(err).Warn("search: load candidates")
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	now := time.Now()
	queryVec, chunksByConv := e.vectorContext(ctx, query)

	results := make([]Result, 0, len(candidates))
	for _, conv := range candidates {
		r := Result{Conversation: conv}
		r.Keyword = e.keywordScore(query, conv.Content)
		r.Temporal = temporalBucket(conv.Timestamp, now)
		r.Importance = e.importanceHeuristic(conv)

		if queryVec != nil {
			best := 0.0
			for _, c := range chunksByConv[conv.ID] {
				if s := embedding.SimilarityScore(queryVec, c.Embedding); s > best {
					best = s
					r.chunkIDs = append(r.chunkIDs[:0], c.ID)
				}
			}
			r.Vector = best
			w := e.cfg.Search
			r.Score = w.KeywordWeight*r.Keyword + w.VectorWeight*r.Vector +
				w.TemporalWeight*r.Temporal + w.ImportanceWeight*r.Importance
		} else {
			w := e.cfg.Search
			r.Score = w.KeywordOnlyWeight*r.Keyword +
				w.KeywordOnlyTemporalWeight*r.Temporal + w.KeywordOnlyImportance*r.Importance
		}

		if conv.Role == model.RoleUser {
			r.Score += e.cfg.Search.UserRoleBonus
		}
		if opts.MoodSet {
			diff := conv.Mood - opts.Mood
			if diff < 0 {
				diff = -diff
			}
			if diff < e.cfg.Search.MoodMatchRange {
				r.Score += e.cfg.Search.MoodMatchBonus
			}
		}

		if r.Score >= minScore {
			results = append(results, r)
		}
	}

	if len(results) == 0 {
		return e.fallback(candidates)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	e.touchResults(ctx, results)
	return results
}

// vectorContext embeds the query and indexes embedded chunks by
// conversation. Any failure disables the vector term for this call.
func (e *Engine) vectorContext(ctx context.Context, query string) ([]float32, map[string][]model.MemoryChunk) {
	if e.provider == nil {
		return nil, nil
	}

	queryVec, err := e.provider.Embed(ctx, query)
	if err != nil || len(queryVec) == 0 {
		if err != nil {
			e.log.WithError(err).Debug("search: embed query, degrading to keyword scoring")
		}
		return nil, nil
	}

	chunks, err := e.store.EmbeddedChunks(ctx)
	if err != nil {
		e.log.WithError(err).Warn("search: load embedded chunks")
		return nil, nil
	}

	byConv := make(map[string][]model.MemoryChunk, len(chunks))
	for _, c := range chunks {
		byConv[c.ConversationID] = append(byConv[c.ConversationID], c)
	}
	return queryVec, byConv
}

// keywordScore measures token overlap between query and content,
// clamped to [0, 1].
func (e *Engine) keywordScore(query, content string) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	content = strings.ToLower(content)
	if query == "" {
		return 0
	}

	score := 0.1
	for _, token := range strings.Fields(query) {
		if strings.Contains(content, token) {
			score += 0.3
		}
		// A full token match implies its prefix matches too; both
		// increments stack.
		if prefix := runePrefix(token, 2); prefix != "" && strings.Contains(content, prefix) {
			score += 0.1
		}
	}
	for _, kw := range e.cfg.Search.ImportantKeywords {
		kw = strings.ToLower(kw)
		if strings.Contains(query, kw) && strings.Contains(content, kw) {
			score += 0.2
		}
	}

	if score > 1.0 {
		return 1.0
	}
	return score
}

// importanceHeuristic estimates standalone conversation importance in
// [0, 1] from length, speaker and personal-info keywords.
func (e *Engine) importanceHeuristic(conv model.Conversation) float64 {
	score := 0.3
	n := utf8.RuneCountInString(conv.Content)
	if n >= 50 {
		score += 0.2
	}
	if n >= 200 {
		score += 0.1
	}
	if conv.Role == model.RoleUser {
		score += 0.2
	}
	content := strings.ToLower(conv.Content)
	for _, kw := range e.cfg.Search.ImportantKeywords {
		if strings.Contains(content, strings.ToLower(kw)) {
			score += 0.2
			break
		}
	}
	if score > 1.0 {
		return 1.0
	}
	return score
}

// fallback surfaces the most recent conversations at a nominal score so
// a query matching nothing still yields context.
func (e *Engine) fallback(candidates []model.Conversation) []Result {
	n := e.cfg.Search.FallbackCount
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]Result, 0, n)
	for _, conv := range candidates[:n] {
		out = append(out, Result{
			Conversation: conv,
			Score:        e.cfg.Search.FallbackScore,
			Fallback:     true,
		})
	}
	return out
}

// touchResults bumps access stats for the chunks that produced hits.
// Best effort: failures are logged inside the store.
func (e *Engine) touchResults(ctx context.Context, results []Result) {
	var ids []string
	for _, r := range results {
		ids = append(ids, r.chunkIDs...)
	}
	if len(ids) > 0 {
		e.store.TouchChunks(ctx, ids)
	}
}

func runePrefix(s string, n int) string {
	runes := []rune(s)
	if len(runes) < n {
		return ""
	}
	return string(runes[:n])
}

package memlayer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/search"
	"github.com/rcliao/companion-memory/internal/store"
)

// Options controls context assembly.
type Options struct {
	// Limit caps core-tier search results.
	Limit int
	// Mood and Personality feed the emotional re-weighting pass.
	Mood        int
	MoodSet     bool
	Personality string
	// TotalBudget overrides the configured token budget when positive.
	TotalBudget int
}

// Item is one packed context entry.
type Item struct {
	ConversationID string  `json:"conversation_id"`
	Role           string  `json:"role"`
	Text           string  `json:"text"`
	Score          float64 `json:"score,omitempty"`
	Tokens         int     `json:"tokens"`
}

// LayeredContext is the assembled three-tier context.
type LayeredContext struct {
	Profile       string `json:"profile,omitempty"`
	ProfileTokens int    `json:"profile_tokens"`
	Core          []Item `json:"core"`
	History       []Item `json:"history"`
	TotalTokens   int    `json:"total_tokens"`
}

// Manager assembles context from the search engine and the store.
type Manager struct {
	store  *store.Store
	engine *search.Engine
	cfg    *config.Config
	log    *logrus.Logger
}

// New builds a context manager.
func New(st *store.Store, engine *search.Engine, cfg *config.Config, log *logrus.Logger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{store: st, engine: engine, cfg: cfg, log: log}
}

// GetContext renders the layered context as one prompt-ready string.
func (m *Manager) GetContext(ctx context.Context, query string, opts Options) string {
	lc := m.GetLayeredContext(ctx, query, opts)

	var sb strings.Builder
	if lc.Profile != "" {
		sb.WriteString(lc.Profile)
		sb.WriteString("\n")
	}
	for _, item := range lc.Core {
		sb.WriteString(item.Text)
		sb.WriteString("\n")
	}
	for _, item := range lc.History {
		sb.WriteString(item.Text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// GetLayeredContext assembles the three tiers under their sub-budgets.
// Budgets are split proportionally when the caller overrides the total.
func (m *Manager) GetLayeredContext(ctx context.Context, query string, opts Options) *LayeredContext {
	budget := m.cfg.Budget
	if opts.TotalBudget > 0 && opts.TotalBudget != budget.Total {
		scale := float64(opts.TotalBudget) / float64(budget.Total)
		budget = config.Budget{
			Total:   opts.TotalBudget,
			Profile: int(float64(budget.Profile) * scale),
			Core:    int(float64(budget.Core) * scale),
			History: int(float64(budget.History) * scale),
		}
	}

	lc := &LayeredContext{}

	// Profile tier: all or nothing, never truncated mid-field.
	if profile := m.renderProfile(ctx); profile != "" {
		if tokens := EstimateTokens(profile); tokens <= budget.Profile {
			lc.Profile = profile
			lc.ProfileTokens = tokens
		}
	}

	// Core tier: re-ranked search results, greedily packed.
	coreIDs := map[string]bool{}
	results := m.engine.Search(ctx, query, search.Options{
		Limit: opts.Limit, Mood: opts.Mood, MoodSet: opts.MoodSet,
	})
	results = m.engine.EmotionalReweight(ctx, results, search.EmotionalContext{
		Mood: opts.Mood, MoodSet: opts.MoodSet, Personality: opts.Personality,
	})
	sort.SliceStable(results, func(i, j int) bool {
		return coreRank(results[i]) > coreRank(results[j])
	})

	used := 0
	for _, r := range results {
		text := renderTurn(r.Conversation)
		tokens := EstimateTokens(text)
		if used+tokens > budget.Core {
			// Greedy packing: skip oversized items, keep trying smaller ones.
			continue
		}
		used += tokens
		coreIDs[r.Conversation.ID] = true
		lc.Core = append(lc.Core, Item{
			ConversationID: r.Conversation.ID,
			Role:           r.Conversation.Role,
			Text:           text,
			Score:          r.Score,
			Tokens:         tokens,
		})
	}

	// History tier: recent turns not already surfaced, oldest first.
	historyUsed := 0
	recent, err := m.store.RecentConversations(ctx, 20)
	if err != nil {
		m.log.WithError(err).Warn("context: load recent history")
	}
	var history []Item
	for _, conv := range recent {
		if coreIDs[conv.ID] {
			continue
		}
		text := renderTurn(conv)
		tokens := EstimateTokens(text)
		if historyUsed+tokens > budget.History {
			continue
		}
		historyUsed += tokens
		history = append(history, Item{
			ConversationID: conv.ID,
			Role:           conv.Role,
			Text:           text,
			Tokens:         tokens,
		})
	}
	// Recent list is newest-first; flip to chronological for readability.
	for i := len(history) - 1; i >= 0; i-- {
		lc.History = append(lc.History, history[i])
	}

	lc.TotalTokens = lc.ProfileTokens + used + historyUsed
	return lc
}

// coreRank blends relevance with standalone importance for core-tier
// ordering.
func coreRank(r search.Result) float64 {
	return 0.6*r.Score + 0.4*r.Importance
}

// renderProfile folds confident facts into a readable profile block.
// Single-valued keys first, then list-valued preferences and
// relationships.
func (m *Manager) renderProfile(ctx context.Context) string {
	entries, err := m.store.GetProfile(ctx)
	if err != nil {
		m.log.WithError(err).Warn("context: load profile")
		return ""
	}
	if len(entries) == 0 {
		return ""
	}

	single := map[string]string{}
	var likes, dislikes, relationships, extra []string
	for _, e := range entries {
		if e.Confidence < 0.5 {
			continue
		}
		switch {
		case strings.HasPrefix(e.Key, "like."):
			likes = append(likes, e.Value)
		case strings.HasPrefix(e.Key, "dislike."):
			dislikes = append(dislikes, e.Value)
		case strings.HasPrefix(e.Key, "relationship."):
			relationships = append(relationships,
				strings.TrimPrefix(e.Key, "relationship.")+": "+e.Value)
		case strings.HasPrefix(e.Key, "personal."):
			extra = append(extra, strings.TrimPrefix(e.Key, "personal.")+": "+e.Value)
		default:
			single[e.Key] = e.Value
		}
	}

	var sb strings.Builder
	sb.WriteString("[User Profile]\n")
	for _, key := range []string{"name", "gender", "age", "birthday", "occupation", "location"} {
		if v, ok := single[key]; ok {
			fmt.Fprintf(&sb, "%s: %s\n", key, v)
		}
	}
	for _, line := range extra {
		sb.WriteString(line + "\n")
	}
	if len(likes) > 0 {
		fmt.Fprintf(&sb, "likes: %s\n", strings.Join(likes, ", "))
	}
	if len(dislikes) > 0 {
		fmt.Fprintf(&sb, "dislikes: %s\n", strings.Join(dislikes, ", "))
	}
	if len(relationships) > 0 {
		fmt.Fprintf(&sb, "relationships: %s\n", strings.Join(relationships, "; "))
	}

	out := strings.TrimRight(sb.String(), "\n")
	if out == "[User Profile]" {
		return ""
	}
	return out
}

func renderTurn(conv model.Conversation) string {
	return fmt.Sprintf("[%s] %s: %s",
		conv.Timestamp.Format("2006-01-02 15:04"), conv.Role, conv.Content)
}

package search

import (
	"context"
	"strings"
)

// EmotionalContext carries the companion state the re-weighting pass
// conditions on.
type EmotionalContext struct {
	Mood        int
	MoodSet     bool
	Personality string
}

// EmotionalReweight applies the secondary scoring pass used during
// context assembly: mood-bucket similarity, personality priorities over
// related fact types, and a sentiment lexicon. The base fusion is left
// untouched; only Score changes.
func (e *Engine) EmotionalReweight(ctx context.Context, results []Result, ec EmotionalContext) []Result {
	if !e.cfg.Emotional.Enabled {
		return results
	}

	for i := range results {
		r := &results[i]
		mult := 1.0

		if e.cfg.Emotional.MoodWeighting && ec.MoodSet {
			mult *= e.moodBucketMultiplier(r.Conversation.Mood, ec.Mood)
		}
		if ec.Personality != "" {
			mult *= e.personalityMultiplier(ctx, r.Conversation.ID, ec.Personality)
		}
		mult *= e.sentimentMultiplier(r.Conversation.Content)

		r.Score *= mult
	}
	return results
}

// moodBucketMultiplier rewards candidates whose recorded mood falls in
// the same bucket as the current mood.
func (e *Engine) moodBucketMultiplier(candidateMood, currentMood int) float64 {
	if e.moodBucket(candidateMood) == e.moodBucket(currentMood) {
		switch e.moodBucket(currentMood) {
		case "high":
			return e.cfg.Emotional.HighMood.Multiplier
		case "medium":
			return e.cfg.Emotional.MediumMood.Multiplier
		default:
			return e.cfg.Emotional.LowMood.Multiplier
		}
	}
	return 1.0
}

func (e *Engine) moodBucket(mood int) string {
	switch {
	case mood >= e.cfg.Emotional.HighMood.Threshold:
		return "high"
	case mood >= e.cfg.Emotional.MediumMood.Threshold:
		return "medium"
	default:
		return "low"
	}
}

// personalityMultiplier boosts candidates whose extracted facts match
// the active personality's fact-type affinities.
func (e *Engine) personalityMultiplier(ctx context.Context, conversationID, personality string) float64 {
	priorities, ok := e.cfg.Emotional.PersonalityPriorities[personality]
	if !ok {
		return 1.0
	}

	facts, err := e.store.FactsByConversation(ctx, conversationID)
	if err != nil || len(facts) == 0 {
		return 1.0
	}

	var affinity float64
	seen := map[string]bool{}
	for _, f := range facts {
		if seen[f.Type] {
			continue
		}
		seen[f.Type] = true
		affinity += priorities[f.Type]
	}
	// Affinities sum to 1 across types; 1 + affinity keeps the
	// multiplier in [1, 2).
	return 1.0 + affinity
}

// sentimentMultiplier scores content against the positive/negative
// lexicons. Majority positive amplifies, majority negative dampens.
func (e *Engine) sentimentMultiplier(content string) float64 {
	content = strings.ToLower(content)
	var pos, neg int
	for _, kw := range e.cfg.Emotional.PositiveKeywords {
		if strings.Contains(content, strings.ToLower(kw)) {
			pos++
		}
	}
	for _, kw := range e.cfg.Emotional.NegativeKeywords {
		if strings.Contains(content, strings.ToLower(kw)) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return e.cfg.Emotional.PositiveMultiplier
	case neg > pos:
		return e.cfg.Emotional.NegativeMultiplier
	default:
		return 1.0
	}
}

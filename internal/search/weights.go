// Package search implements the hybrid ranking engine: keyword overlap,
// vector similarity, temporal decay and importance fused into one score.
package search

import (
	"math"
	"time"

	"github.com/rcliao/companion-memory/internal/config"
)

// TemporalWeight computes the exponential decay weight of content aged
// between ts and now, floored at MinWeight so old memories never vanish.
func TemporalWeight(cfg config.Temporal, ts, now time.Time) float64 {
	ageHours := now.Sub(ts).Hours()
	if ageHours <= 0 {
		return 1.0
	}
	w := math.Pow(0.5, ageHours/cfg.HalfLife.Hours())
	if w < cfg.MinWeight {
		return cfg.MinWeight
	}
	return w
}

// AccessBoost rewards recently accessed content: a within-day access
// boosts strongest, a within-week access moderately, anything older not
// at all.
func AccessBoost(cfg config.Temporal, lastAccessed, now time.Time) float64 {
	age := now.Sub(lastAccessed)
	switch {
	case age <= cfg.RecentThreshold:
		return cfg.RecentAccessBoost
	case age <= cfg.WeekThreshold:
		return cfg.WeekAccessBoost
	default:
		return 1.0
	}
}

// MoodModulation scales a score by the companion's current mood: high
// mood amplifies recall, low mood dampens it.
func MoodModulation(cfg config.Temporal, score float64, mood int) float64 {
	if !cfg.MoodModulationEnabled {
		return score
	}
	switch {
	case mood >= cfg.HighMoodThreshold:
		return score * cfg.HighMoodMultiplier
	case mood <= cfg.LowMoodThreshold:
		return score * cfg.LowMoodMultiplier
	default:
		return score
	}
}

// temporalBucket is the coarse recency score used in fusion: recency
// matters but should not dominate keyword or vector relevance.
func temporalBucket(ts, now time.Time) float64 {
	age := now.Sub(ts)
	switch {
	case age < 24*time.Hour:
		return 1.0
	case age < 3*24*time.Hour:
		return 0.7
	case age < 7*24*time.Hour:
		return 0.5
	case age < 30*24*time.Hour:
		return 0.3
	default:
		return 0.1
	}
}

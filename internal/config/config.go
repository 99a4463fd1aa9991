// Package config holds the engine configuration. A Config is built once
// (usually from Default) and injected into each component, so tests can
// override individual knobs without touching globals.
package config

import "time"

// Temporal controls time-decay and access-refresh weighting.
type Temporal struct {
	// HalfLife is the age at which a memory's decay weight reaches 0.5.
	HalfLife time.Duration
	// MinWeight floors the decay so old memories never vanish entirely.
	MinWeight float64
	// RecentThreshold bounds the "accessed recently" boost window.
	RecentThreshold  time.Duration
	WeekThreshold    time.Duration
	RecentAccessBoost float64
	WeekAccessBoost   float64

	MoodModulationEnabled bool
	HighMoodThreshold     int
	HighMoodMultiplier    float64
	LowMoodThreshold      int
	LowMoodMultiplier     float64
}

// Cache controls the embedding cache LRU policy.
type Cache struct {
	MaxSize       int
	EvictionBatch int
	AutoEvict     bool
}

// Search controls the hybrid search engine.
type Search struct {
	DefaultLimit int
	MinScore     float64
	// CandidateFactor sizes the scan window: limit*CandidateFactor most
	// recent conversations are scored.
	CandidateFactor int
	FallbackCount   int
	FallbackScore   float64

	// Fusion weights when vector scoring is available.
	KeywordWeight    float64
	VectorWeight     float64
	TemporalWeight   float64
	ImportanceWeight float64
	// Fusion weights when no embedding provider is ready. The weights are
	// redistributed; the vector term is absent, not zero.
	KeywordOnlyWeight        float64
	KeywordOnlyTemporalWeight float64
	KeywordOnlyImportance    float64

	UserRoleBonus  float64
	MoodMatchBonus float64
	MoodMatchRange int

	// ImportantKeywords mark personal-info content worth surfacing.
	ImportantKeywords []string
}

// MoodBucket pairs a lower mood threshold with a score multiplier.
type MoodBucket struct {
	Threshold  int
	Multiplier float64
}

// ImportanceFactors tune the multiplicative chunk importance score.
type ImportanceFactors struct {
	AccessFrequencyThreshold int
	AccessFrequencyBonus     float64
	RecentActiveWindow       time.Duration
	RecentActiveBonus        float64
	LongContentThreshold     int
	LongContentBonus         float64
}

// Emotional controls the secondary re-weighting pass used during context
// assembly.
type Emotional struct {
	Enabled       bool
	MoodWeighting bool

	HighMood   MoodBucket
	MediumMood MoodBucket
	LowMood    MoodBucket

	// PersonalityPriorities maps a personality tag to per-fact-type
	// affinities used when a candidate has related facts.
	PersonalityPriorities map[string]map[string]float64

	PositiveKeywords   []string
	NegativeKeywords   []string
	PositiveMultiplier float64
	NegativeMultiplier float64

	Importance ImportanceFactors
}

// Budget splits the total context token budget across the three tiers.
type Budget struct {
	Total   int
	Profile int
	Core    int
	History int
}

// Extractor controls fact-extraction buffering.
type Extractor struct {
	BufferThreshold int
	// MinConfidence is assumed when the provider omits a confidence.
	MinConfidence float64
}

// Backfill paces the background embedding backfill task.
type Backfill struct {
	BatchSize int
	Delay     time.Duration
	// IdleInterval is how long the task sleeps between checks once the
	// store is drained.
	IdleInterval time.Duration
}

// OverdueStrategy selects how reminders inside the overdue threshold are
// reconciled on startup.
type OverdueStrategy string

const (
	// OverdueMiss marks recently overdue reminders as missed.
	OverdueMiss OverdueStrategy = "miss"
	// OverdueCatchUp fires recently overdue reminders immediately.
	OverdueCatchUp OverdueStrategy = "catch_up"
)

// Reminder controls the scheduler and preference learning.
type Reminder struct {
	CheckInterval    time.Duration
	OverdueThreshold time.Duration
	// OverdueMinAge is how far past due a pending reminder must be before
	// startup reconciliation touches it.
	OverdueMinAge   time.Duration
	OverdueStrategy OverdueStrategy

	// AskThreshold and AskWindow throttle vague-time clarification
	// prompts: past AskThreshold asks inside the window the learned or
	// default value is used silently. Tuned heuristics, kept as-is.
	AskThreshold int
	AskWindow    time.Duration
	// MinPreferenceSamples is how many history rows a vague keyword needs
	// before its learned average delay is trusted.
	MinPreferenceSamples int

	// VagueTimeDefaults maps a vague keyword to its default offset in
	// minutes, used until a preference is learned.
	VagueTimeDefaults map[string]int
}

// Config is the full engine configuration.
type Config struct {
	Temporal  Temporal
	Cache     Cache
	Search    Search
	Emotional Emotional
	Budget    Budget
	Extractor Extractor
	Backfill  Backfill
	Reminder  Reminder
}

// Default returns the tuned production configuration.
func Default() *Config {
	return &Config{
		Temporal: Temporal{
			HalfLife:          168 * time.Hour,
			MinWeight:         0.1,
			RecentThreshold:   24 * time.Hour,
			WeekThreshold:     168 * time.Hour,
			RecentAccessBoost: 1.3,
			WeekAccessBoost:   1.1,

			MoodModulationEnabled: true,
			HighMoodThreshold:     80,
			HighMoodMultiplier:    1.2,
			LowMoodThreshold:      40,
			LowMoodMultiplier:     0.8,
		},
		Cache: Cache{
			MaxSize:       5000,
			EvictionBatch: 100,
			AutoEvict:     true,
		},
		Search: Search{
			DefaultLimit:    5,
			MinScore:        0.05,
			CandidateFactor: 10,
			FallbackCount:   3,
			FallbackScore:   0.05,

			KeywordWeight:    0.3,
			VectorWeight:     0.4,
			TemporalWeight:   0.2,
			ImportanceWeight: 0.1,

			KeywordOnlyWeight:         0.5,
			KeywordOnlyTemporalWeight: 0.3,
			KeywordOnlyImportance:     0.2,

			UserRoleBonus:  0.05,
			MoodMatchBonus: 0.05,
			MoodMatchRange: 20,

			ImportantKeywords: []string{
				"名字", "叫", "性别", "生日", "喜欢", "爱好",
				"name", "birthday", "like", "favorite",
			},
		},
		Emotional: Emotional{
			Enabled:       true,
			MoodWeighting: true,

			HighMood:   MoodBucket{Threshold: 80, Multiplier: 1.5},
			MediumMood: MoodBucket{Threshold: 50, Multiplier: 1.0},
			LowMood:    MoodBucket{Threshold: 0, Multiplier: 0.7},

			PersonalityPriorities: map[string]map[string]float64{
				"healing":   {"preference": 0.3, "event": 0.3, "relationship": 0.4},
				"funny":     {"preference": 0.5, "event": 0.3, "relationship": 0.2},
				"cool":      {"preference": 0.2, "event": 0.2, "relationship": 0.6},
				"assistant": {"preference": 0.4, "event": 0.4, "relationship": 0.2},
			},

			PositiveKeywords: []string{
				"开心", "高兴", "快乐", "喜欢", "爱", "棒", "幸福", "满意", "不错",
				"happy", "love", "great", "glad",
			},
			NegativeKeywords: []string{
				"难过", "伤心", "讨厌", "不喜欢", "痛苦", "失望", "烦", "生气",
				"sad", "hate", "angry", "upset",
			},
			PositiveMultiplier: 1.3,
			NegativeMultiplier: 0.8,

			Importance: ImportanceFactors{
				AccessFrequencyThreshold: 10,
				AccessFrequencyBonus:     1.3,
				RecentActiveWindow:       7 * 24 * time.Hour,
				RecentActiveBonus:        1.1,
				LongContentThreshold:     200,
				LongContentBonus:         1.2,
			},
		},
		Budget: Budget{
			Total:   1500,
			Profile: 200,
			Core:    800,
			History: 500,
		},
		Extractor: Extractor{
			BufferThreshold: 3,
			MinConfidence:   0.8,
		},
		Backfill: Backfill{
			BatchSize:    50,
			Delay:        time.Second,
			IdleInterval: 30 * time.Second,
		},
		Reminder: Reminder{
			CheckInterval:    30 * time.Second,
			OverdueThreshold: time.Hour,
			OverdueMinAge:    time.Minute,
			OverdueStrategy:  OverdueMiss,

			AskThreshold:         3,
			AskWindow:            5 * time.Minute,
			MinPreferenceSamples: 3,

			VagueTimeDefaults: map[string]int{
				"马上":  1,
				"立刻":  1,
				"立即":  1,
				"一会儿": 10,
				"过一会": 10,
				"等一下": 5,
				"等下":  5,
				"稍后":  15,
				"晚点":  30,
				"半小时": 30,
				"半天":  120,
				"soon":       5,
				"later":      15,
				"in a bit":   10,
				"eventually": 30,
			},
		},
	}
}

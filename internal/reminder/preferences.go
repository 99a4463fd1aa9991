package reminder

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/store"
)

// TimePreference describes how a vague-time keyword resolves for this
// user.
type TimePreference struct {
	Keyword        string  `json:"keyword"`
	Minutes        float64 `json:"minutes"`
	Samples        int     `json:"samples"`
	Learned        bool    `json:"learned"`
	DefaultMinutes int     `json:"default_minutes,omitempty"`
}

// Resolution is the outcome of resolving a vague time expression.
type Resolution struct {
	RemindAt time.Time `json:"remind_at"`
	Keyword  string    `json:"keyword"`
	Minutes  float64   `json:"minutes"`
	// Ask is set when the host should confirm the resolved time with
	// the user instead of applying it silently.
	Ask bool `json:"ask,omitempty"`
}

// Preferences learns per-keyword timing habits from reminder history
// and throttles clarification prompts.
type Preferences struct {
	store *store.Store
	cfg   *config.Config
	log   *logrus.Logger
	clock clockwork.Clock

	mu   sync.Mutex
	asks map[string][]time.Time
}

// NewPreferences builds the preference learner. clock may be nil for
// wall time.
func NewPreferences(st *store.Store, cfg *config.Config, log *logrus.Logger, clock clockwork.Clock) *Preferences {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Preferences{store: st, cfg: cfg, log: log, clock: clock, asks: map[string][]time.Time{}}
}

// Lookup reports the current preference for a keyword: the learned
// average once enough samples exist, the configured default otherwise.
// Returns nil for keywords the system has no opinion about.
func (p *Preferences) Lookup(ctx context.Context, keyword string) *TimePreference {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil
	}

	def, hasDefault := p.cfg.Reminder.VagueTimeDefaults[keyword]

	stats, err := p.store.KeywordDelayStats(ctx)
	if err != nil {
		p.log.WithError(err).Warn("load keyword delay stats")
	}
	for _, st := range stats {
		if st.Keyword != keyword {
			continue
		}
		if st.Samples >= p.cfg.Reminder.MinPreferenceSamples {
			// Learned preference: the observed average delay is the
			// resolved offset, replacing the default outright.
			minutes := st.AvgDelayMins
			if minutes < 1 {
				minutes = 1
			}
			return &TimePreference{
				Keyword: keyword, Minutes: minutes, Samples: st.Samples,
				Learned: true, DefaultMinutes: def,
			}
		}
		if hasDefault {
			return &TimePreference{
				Keyword: keyword, Minutes: float64(def), Samples: st.Samples,
				DefaultMinutes: def,
			}
		}
	}

	if hasDefault {
		return &TimePreference{Keyword: keyword, Minutes: float64(def), DefaultMinutes: def}
	}
	return nil
}

// Resolve turns a vague keyword into a concrete reminder time. Ask is
// set while the keyword is still unlearned and the clarification
// throttle permits another prompt; past the throttle the value is used
// silently.
func (p *Preferences) Resolve(ctx context.Context, keyword string) *Resolution {
	pref := p.Lookup(ctx, keyword)
	if pref == nil {
		return nil
	}

	now := p.clock.Now()
	res := &Resolution{
		RemindAt: now.Add(time.Duration(pref.Minutes * float64(time.Minute))),
		Keyword:  keyword,
		Minutes:  pref.Minutes,
	}
	if !pref.Learned {
		res.Ask = p.shouldAsk(keyword, now)
	}
	return res
}

// shouldAsk rate-limits clarification prompts: at most AskThreshold
// prompts per keyword inside the rolling AskWindow.
func (p *Preferences) shouldAsk(keyword string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	windowStart := now.Add(-p.cfg.Reminder.AskWindow)
	recent := p.asks[keyword][:0]
	for _, t := range p.asks[keyword] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= p.cfg.Reminder.AskThreshold {
		p.asks[keyword] = recent
		return false
	}
	p.asks[keyword] = append(recent, now)
	return true
}

// HabitReport summarizes the user's reminder behavior.
type HabitReport struct {
	TotalReminders  int              `json:"total_reminders"`
	AvgDelayMinutes float64          `json:"avg_delay_minutes"`
	BusiestHours    []int            `json:"busiest_hours,omitempty"`
	ByWeekday       map[string]int   `json:"by_weekday,omitempty"`
	Keywords        []TimePreference `json:"keywords,omitempty"`
}

// AnalyzeHabits aggregates reminder history into scheduling habits:
// when reminders cluster, how punctual the user is, and which vague
// keywords have learned values.
func (p *Preferences) AnalyzeHabits(ctx context.Context) (*HabitReport, error) {
	rows, err := p.store.HabitRows(ctx)
	if err != nil {
		return nil, err
	}

	report := &HabitReport{ByWeekday: map[string]int{}}
	report.TotalReminders = len(rows)
	if len(rows) == 0 {
		return report, nil
	}

	hourCounts := map[int]int{}
	var delaySum float64
	var delayN int
	for _, r := range rows {
		hourCounts[r.RemindAt.Hour()]++
		report.ByWeekday[r.RemindAt.Weekday().String()]++
		if r.DelayMinutes != nil {
			delaySum += float64(*r.DelayMinutes)
			delayN++
		}
	}
	if delayN > 0 {
		report.AvgDelayMinutes = delaySum / float64(delayN)
	}

	type hourCount struct{ hour, count int }
	hours := make([]hourCount, 0, len(hourCounts))
	for h, c := range hourCounts {
		hours = append(hours, hourCount{h, c})
	}
	sort.Slice(hours, func(i, j int) bool {
		if hours[i].count != hours[j].count {
			return hours[i].count > hours[j].count
		}
		return hours[i].hour < hours[j].hour
	})
	for i := 0; i < len(hours) && i < 3; i++ {
		report.BusiestHours = append(report.BusiestHours, hours[i].hour)
	}

	stats, err := p.store.KeywordDelayStats(ctx)
	if err == nil {
		for _, st := range stats {
			if pref := p.Lookup(ctx, st.Keyword); pref != nil {
				report.Keywords = append(report.Keywords, *pref)
			}
		}
	}

	return report, nil
}

// Package extractor buffers conversational turns, invokes an injected
// fact-extraction capability over them, and merges the results into the
// fact table and the canonical user profile.
package extractor

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/store"
)

// Candidate is one raw extraction from the provider, prior to
// validation.
type Candidate struct {
	Type       string  `json:"type"`
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

// Provider is the injected fact-extraction capability. It owns its own
// timeout and retry policy; the extractor only reacts to the final
// error.
type Provider interface {
	Extract(ctx context.Context, text string) ([]Candidate, error)
}

type bufferedTurn struct {
	conversationID string
	text           string
}

// Extractor accumulates turns until the buffer threshold is reached,
// then issues one batched extraction over the concatenated buffer. A
// single-flight guard prevents overlapping flushes.
type Extractor struct {
	store    *store.Store
	provider Provider
	cfg      *config.Config
	log      *logrus.Logger

	mu     sync.Mutex
	buffer []bufferedTurn

	flight singleflight.Group
}

// New builds an extractor. provider may be nil, in which case turns are
// silently discarded.
func New(st *store.Store, provider Provider, cfg *config.Config, log *logrus.Logger) *Extractor {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{store: st, provider: provider, cfg: cfg, log: log}
}

// Observe feeds one turn into the buffer. Trivial content is filtered
// out before buffering. When the buffer reaches the threshold a flush
// is triggered synchronously; callers wanting it in the background run
// Observe from a goroutine.
func (e *Extractor) Observe(ctx context.Context, conv *model.Conversation) {
	if e.provider == nil || conv == nil {
		return
	}
	if isTrivial(conv.Content) {
		return
	}

	e.mu.Lock()
	e.buffer = append(e.buffer, bufferedTurn{conversationID: conv.ID, text: conv.Content})
	ready := len(e.buffer) >= e.cfg.Extractor.BufferThreshold
	e.mu.Unlock()

	if ready {
		e.Flush(ctx)
	}
}

// Flush runs one extraction pass over the buffered turns. Concurrent
// calls coalesce into a single provider invocation. Extraction failure
// drops the buffer rather than retrying forever.
func (e *Extractor) Flush(ctx context.Context) {
	e.flight.Do("flush", func() (interface{}, error) {
		e.mu.Lock()
		turns := e.buffer
		e.buffer = nil
		e.mu.Unlock()

		if len(turns) == 0 {
			return nil, nil
		}

		var sb strings.Builder
		for i, t := range turns {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(t.text)
		}

		candidates, err := e.provider.Extract(ctx, sb.String())
		if err != nil {
			e.log.WithError(err).WithField("turns", len(turns)).Warn("fact extraction failed, dropping buffer")
			return nil, nil
		}

		e.merge(ctx, candidates, turns[len(turns)-1].conversationID, sb.String())
		return nil, nil
	})
}

// Pending reports the current buffer depth.
func (e *Extractor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// merge validates candidates, upserts them as facts and projects the
// survivors onto the user profile.
func (e *Extractor) merge(ctx context.Context, candidates []Candidate, sourceConversationID, sourceText string) {
	var params []store.UpsertFactParams
	for _, c := range candidates {
		if !model.ValidFactTypes[c.Type] {
			e.log.WithField("type", c.Type).Debug("dropping candidate with unknown type")
			continue
		}
		if strings.TrimSpace(c.Predicate) == "" || strings.TrimSpace(c.Object) == "" {
			continue
		}
		conf := c.Confidence
		if conf <= 0 {
			conf = e.cfg.Extractor.MinConfidence
		}
		if conf > 1 {
			conf = 1
		}
		params = append(params, store.UpsertFactParams{
			Type:                 c.Type,
			Subject:              c.Subject,
			Predicate:            c.Predicate,
			Object:               c.Object,
			Confidence:           conf,
			SourceConversationID: sourceConversationID,
			SourceText:           sourceText,
		})
	}
	if len(params) == 0 {
		return
	}

	facts, err := e.store.UpsertFacts(ctx, params)
	if err != nil {
		e.log.WithError(err).Warn("fact merge failed")
		return
	}

	var entries []store.UpsertProfileParams
	for _, f := range facts {
		key, value, ok := ProjectFact(f)
		if !ok {
			continue
		}
		entries = append(entries, store.UpsertProfileParams{
			Key: key, Value: value, Confidence: f.Confidence, SourceFactID: f.ID,
		})
	}
	if len(entries) == 0 {
		return
	}
	if err := e.store.UpsertProfile(ctx, entries); err != nil {
		e.log.WithError(err).Warn("profile projection failed")
	}
}

// isTrivial filters very short or filler-only replies so the buffer
// only accumulates extraction-worthy content.
func isTrivial(content string) bool {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) < 5 {
		return true
	}
	lower := strings.ToLower(content)
	for _, filler := range fillerPhrases {
		if lower == filler {
			return true
		}
	}
	return false
}

var fillerPhrases = []string{
	"嗯嗯", "哦哦", "好的好的", "哈哈哈", "哈哈哈哈", "知道了",
	"okay", "ok ok", "haha", "hahaha", "thanks", "thank you", "got it",
}

package extractor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/rcliao/companion-memory/internal/config"
	"github.com/rcliao/companion-memory/internal/model"
	"github.com/rcliao/companion-memory/internal/store"
)

// fakeProvider records calls and returns canned candidates.
type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	lastInput  string
	candidates []Candidate
	err        error
}

func (p *fakeProvider) Extract(_ context.Context, text string) ([]Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastInput = text
	return p.candidates, p.err
}

func newTestExtractor(t *testing.T, p Provider) (*Extractor, *store.Store) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), config.Default(), log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, p, config.Default(), log), st
}

func turn(id, text string) *model.Conversation {
	return &model.Conversation{ID: id, Role: model.RoleUser, Content: text}
}

func TestObserveBuffersUntilThreshold(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{candidates: []Candidate{
		{Type: model.FactPersonal, Predicate: "名字", Object: "小明", Confidence: 0.95},
	}}
	e, st := newTestExtractor(t, p)

	e.Observe(ctx, turn("c1", "我的名字是小明"))
	e.Observe(ctx, turn("c2", "我今年25岁了"))
	if p.calls != 0 {
		t.Fatalf("expected no extraction before threshold, got %d calls", p.calls)
	}

	e.Observe(ctx, turn("c3", "我在上海工作"))
	if p.calls != 1 {
		t.Fatalf("expected 1 extraction at threshold, got %d", p.calls)
	}
	if e.Pending() != 0 {
		t.Errorf("expected buffer drained, got %d", e.Pending())
	}

	facts, _ := st.ListFacts(ctx, store.ListFactsParams{})
	if len(facts) != 1 || facts[0].Object != "小明" {
		t.Fatalf("expected extracted fact stored, got %+v", facts)
	}

	profile, _ := st.GetProfile(ctx)
	if len(profile) != 1 || profile[0].Key != "name" || profile[0].Value != "小明" {
		t.Fatalf("expected profile projection, got %+v", profile)
	}
}

func TestTrivialTurnsNotBuffered(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	e, _ := newTestExtractor(t, p)

	e.Observe(ctx, turn("c1", "嗯嗯"))
	e.Observe(ctx, turn("c2", "ok"))
	e.Observe(ctx, turn("c3", "haha"))
	if e.Pending() != 0 {
		t.Errorf("expected trivial turns filtered, got %d buffered", e.Pending())
	}
	if p.calls != 0 {
		t.Errorf("expected no extraction, got %d calls", p.calls)
	}
}

func TestExtractionFailureDropsBuffer(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{err: errors.New("provider down")}
	e, st := newTestExtractor(t, p)

	e.Observe(ctx, turn("c1", "我的名字是小明"))
	e.Observe(ctx, turn("c2", "我喜欢喝咖啡呀"))
	e.Observe(ctx, turn("c3", "周末打算去爬山"))

	if p.calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", p.calls)
	}
	// Buffer dropped, not retried.
	if e.Pending() != 0 {
		t.Errorf("expected buffer dropped after failure, got %d", e.Pending())
	}
	facts, _ := st.ListFacts(ctx, store.ListFactsParams{})
	if len(facts) != 0 {
		t.Errorf("expected no facts, got %d", len(facts))
	}
}

func TestCandidateValidation(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{candidates: []Candidate{
		{Type: "gossip", Predicate: "p", Object: "o", Confidence: 0.9},   // unknown type
		{Type: model.FactEvent, Predicate: "", Object: "o"},              // empty predicate
		{Type: model.FactPreference, Predicate: "喜欢", Object: "茶"},      // no confidence: default applies
		{Type: model.FactPersonal, Predicate: "age", Object: "25", Confidence: 3.0}, // clamped
	}}
	e, st := newTestExtractor(t, p)

	e.Observe(ctx, turn("c1", "我今年25岁，喜欢喝茶"))
	e.Observe(ctx, turn("c2", "平时也喝咖啡的"))
	e.Observe(ctx, turn("c3", "不过最爱还是茶"))

	facts, _ := st.ListFacts(ctx, store.ListFactsParams{})
	if len(facts) != 2 {
		t.Fatalf("expected 2 valid facts, got %d", len(facts))
	}
	for _, f := range facts {
		if f.Confidence < 0 || f.Confidence > 1 {
			t.Errorf("confidence out of range: %v", f.Confidence)
		}
		if f.Type == model.FactPreference && f.Confidence != config.Default().Extractor.MinConfidence {
			t.Errorf("expected default confidence, got %v", f.Confidence)
		}
	}
}

func TestConcurrentFlushesCoalesce(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	e, _ := newTestExtractor(t, p)

	e.Observe(ctx, turn("c1", "这是一个足够长的句子"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Flush(ctx)
		}()
	}
	wg.Wait()

	if p.calls > 1 {
		t.Errorf("expected concurrent flushes to coalesce, got %d calls", p.calls)
	}
}

func TestProjectFact(t *testing.T) {
	cases := []struct {
		fact    model.Fact
		key     string
		value   string
		project bool
	}{
		{model.Fact{Type: model.FactPersonal, Predicate: "名字", Object: "小明"}, "name", "小明", true},
		{model.Fact{Type: model.FactPersonal, Predicate: "birthday", Object: "June 3"}, "birthday", "June 3", true},
		{model.Fact{Type: model.FactPersonal, Predicate: "血型", Object: "O"}, "personal.血型", "O", true},
		{model.Fact{Type: model.FactPreference, Predicate: "喜欢", Object: "咖啡"}, "like.咖啡", "咖啡", true},
		{model.Fact{Type: model.FactPreference, Predicate: "不喜欢", Object: "香菜"}, "dislike.香菜", "香菜", true},
		{model.Fact{Type: model.FactRelationship, Predicate: "母亲", Object: "王芳"}, "relationship.母亲", "王芳", true},
		{model.Fact{Type: model.FactEvent, Predicate: "meeting", Object: "friday"}, "", "", false},
		{model.Fact{Type: model.FactRoutine, Predicate: "morning run", Object: "7am"}, "", "", false},
	}

	for _, c := range cases {
		key, value, ok := ProjectFact(c.fact)
		if ok != c.project {
			t.Errorf("%s/%s: projected=%v, want %v", c.fact.Type, c.fact.Predicate, ok, c.project)
			continue
		}
		if key != c.key || value != c.value {
			t.Errorf("%s/%s: got (%q,%q), want (%q,%q)", c.fact.Type, c.fact.Predicate, key, value, c.key, c.value)
		}
	}
}

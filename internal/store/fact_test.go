package store

import (
	"context"
	"testing"

	"github.com/rcliao/companion-memory/internal/model"
)

func TestUpsertFactsInsertAndMerge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.UpsertFacts(ctx, []UpsertFactParams{{
		Type: model.FactPreference, Subject: "user", Predicate: "喜欢", Object: "咖啡",
		Confidence: 0.9, SourceText: "我喜欢咖啡",
	}})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(first))
	}

	// Same triple with lower confidence merges, keeping the maximum.
	second, err := s.UpsertFacts(ctx, []UpsertFactParams{{
		Type: model.FactPreference, Subject: "user", Predicate: "喜欢", Object: "咖啡",
		Confidence: 0.6, SourceText: "还是喜欢咖啡",
	}})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second[0].ID != first[0].ID {
		t.Error("expected merge into existing row, got new fact")
	}
	if second[0].Confidence != 0.9 {
		t.Errorf("expected confidence max 0.9, got %v", second[0].Confidence)
	}

	all, _ := s.ListFacts(ctx, ListFactsParams{})
	if len(all) != 1 {
		t.Fatalf("expected 1 stored fact, got %d", len(all))
	}
	if all[0].SourceText != "还是喜欢咖啡" {
		t.Errorf("expected source text refreshed, got %q", all[0].SourceText)
	}
	if !all[0].LastConfirmedAt.After(all[0].CreatedAt) && !all[0].LastConfirmedAt.Equal(all[0].CreatedAt) {
		t.Error("expected last_confirmed_at at or after created_at")
	}
}

func TestUpsertFactsDistinctTriples(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.UpsertFacts(ctx, []UpsertFactParams{
		{Type: model.FactPreference, Predicate: "喜欢", Object: "咖啡", Confidence: 0.9},
		{Type: model.FactPreference, Predicate: "喜欢", Object: "茶", Confidence: 0.8},
		{Type: model.FactPersonal, Predicate: "名字", Object: "小明", Confidence: 1.0},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	all, _ := s.ListFacts(ctx, ListFactsParams{})
	if len(all) != 3 {
		t.Fatalf("expected 3 distinct facts, got %d", len(all))
	}

	prefs, _ := s.ListFacts(ctx, ListFactsParams{Type: model.FactPreference})
	if len(prefs) != 2 {
		t.Errorf("expected 2 preference facts, got %d", len(prefs))
	}

	confident, _ := s.ListFacts(ctx, ListFactsParams{MinConfidence: 0.85})
	if len(confident) != 2 {
		t.Errorf("expected 2 facts with confidence >= 0.85, got %d", len(confident))
	}
}

func TestUpsertFactsValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertFacts(ctx, []UpsertFactParams{{Type: "rumor", Predicate: "p"}}); err == nil {
		t.Error("expected error for invalid fact type")
	}
	if _, err := s.UpsertFacts(ctx, []UpsertFactParams{{Type: model.FactEvent, Predicate: " "}}); err == nil {
		t.Error("expected error for empty predicate")
	}

	// Confidence clamps into [0, 1].
	out, err := s.UpsertFacts(ctx, []UpsertFactParams{{
		Type: model.FactEvent, Predicate: "meeting", Object: "friday", Confidence: 1.7,
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if out[0].Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %v", out[0].Confidence)
	}
}

func TestProfileNonDecreasingConfidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.UpsertProfile(ctx, []UpsertProfileParams{{Key: "name", Value: "小明", Confidence: 0.9}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Lower confidence must not overwrite.
	s.UpsertProfile(ctx, []UpsertProfileParams{{Key: "name", Value: "小红", Confidence: 0.5}})
	profile, _ := s.GetProfile(ctx)
	if len(profile) != 1 || profile[0].Value != "小明" {
		t.Fatalf("expected low-confidence update dropped, got %+v", profile)
	}

	// Equal confidence refreshes the value.
	s.UpsertProfile(ctx, []UpsertProfileParams{{Key: "name", Value: "小刚", Confidence: 0.9}})
	profile, _ = s.GetProfile(ctx)
	if profile[0].Value != "小刚" {
		t.Errorf("expected equal-confidence update applied, got %q", profile[0].Value)
	}

	// Higher confidence overwrites.
	s.UpsertProfile(ctx, []UpsertProfileParams{{Key: "name", Value: "小李", Confidence: 1.0}})
	profile, _ = s.GetProfile(ctx)
	if profile[0].Value != "小李" || profile[0].Confidence != 1.0 {
		t.Errorf("expected high-confidence overwrite, got %+v", profile[0])
	}
}

func TestGetProfileOrdering(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.UpsertProfile(ctx, []UpsertProfileParams{
		{Key: "like.tea", Value: "茶", Confidence: 0.6},
		{Key: "name", Value: "小明", Confidence: 1.0},
		{Key: "location", Value: "上海", Confidence: 0.8},
	})

	profile, err := s.GetProfile(ctx)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if len(profile) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(profile))
	}
	if profile[0].Key != "name" {
		t.Errorf("expected highest confidence first, got %q", profile[0].Key)
	}
}

package resolve

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/unalkalkan/pronounce/internal/dict"
	"github.com/unalkalkan/pronounce/internal/provider"
	"github.com/unalkalkan/pronounce/pkg/types"
)

func newTestStore(t *testing.T, entries map[string]string) *dict.Store {
	t.Helper()
	dir := t.TempDir()
	data, err := json.Marshal(map[string]interface{}{
		"name":    "en_core",
		"version": "20240101-000000",
		"format":  "espeak",
		"entries": entries,
	})
	if err != nil {
		t.Fatalf("failed to marshal entries: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "en_core.json"), data, 0o644); err != nil {
		t.Fatalf("failed to write pack: %v", err)
	}
	s, err := dict.NewStore(types.ResolverConfig{DictDir: dir, AutolearnMinLen: 2})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestResolveGreedyPhraseMatch(t *testing.T) {
	store := newTestStore(t, map[string]string{
		"san francisco": "s_ae_n f_r_ae_n_s_i_s_k_o",
		"san":           "s_ae_n",
	})
	r := New(store, nil)

	result, err := r.Resolve(context.Background(), "san francisco", false)
	if err != nil {
		t.Fatalf("Resolve returned unexpected error: %v", err)
	}
	if result.Phonemes != "s_ae_n f_r_ae_n_s_i_s_k_o" {
		t.Errorf("expected the 2-word phrase to win over the 1-word match, got %q", result.Phonemes)
	}
	if result.SourceCounts["en_core"] != 1 {
		t.Errorf("expected one en_core hit, got %d", result.SourceCounts["en_core"])
	}
}

func TestResolveUnmatchedPassesThrough(t *testing.T) {
	store := newTestStore(t, map[string]string{})
	r := New(store, nil)

	result, err := r.Resolve(context.Background(), "hello world", false)
	if err != nil {
		t.Fatalf("Resolve returned unexpected error: %v", err)
	}
	if result.Phonemes != "hello world" {
		t.Errorf("expected unmatched words to pass through, got %q", result.Phonemes)
	}
	if result.UsedPhonemes {
		t.Error("expected UsedPhonemes false when nothing resolved")
	}
}

type stubPhonemizer struct{}

func (stubPhonemizer) Name() string { return "stub" }
func (stubPhonemizer) Phonemize(ctx context.Context, req provider.PhonemizeRequest) (*provider.PhonemizeResponse, error) {
	return &provider.PhonemizeResponse{Phonemes: "x_x_x"}, nil
}
func (stubPhonemizer) Close() error { return nil }

func TestResolveFallsBackToPhonemizerAndLearns(t *testing.T) {
	store := newTestStore(t, map[string]string{})
	r := New(store, stubPhonemizer{})

	result, err := r.Resolve(context.Background(), "gobbledygook", true)
	if err != nil {
		t.Fatalf("Resolve returned unexpected error: %v", err)
	}
	if result.Phonemes != "x_x_x" {
		t.Errorf("expected phonemizer fallback result, got %q", result.Phonemes)
	}
	if !result.UsedPhonemes {
		t.Error("expected UsedPhonemes true after phonemizer fallback")
	}

	looked, ok := store.Lookup("gobbledygook")
	if !ok || looked.Phonemes != "x_x_x" {
		t.Errorf("expected phonemizer fallback to auto-learn the token, got %+v ok=%v", looked, ok)
	}
}

func TestResolveReturnsFallbackUnavailableWithoutPhonemizer(t *testing.T) {
	store := newTestStore(t, map[string]string{})
	r := New(store, nil)

	result, err := r.Resolve(context.Background(), "gobbledygook", true)
	if err != ErrFallbackUnavailable {
		t.Fatalf("expected ErrFallbackUnavailable, got %v", err)
	}
	if result.Phonemes != "gobbledygook" {
		t.Errorf("expected literal-token fallback in Result despite the error, got %q", result.Phonemes)
	}
}

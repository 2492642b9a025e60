package dict

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/unalkalkan/pronounce/pkg/types"
)

func writePack(t *testing.T, dir, name string, entries map[string]string) {
	t.Helper()
	file := packFile{
		Name:    name,
		Version: "20240101-000000",
		Format:  "espeak",
		Entries: make(map[string]json.RawMessage, len(entries)),
	}
	for key, phon := range entries {
		raw, err := json.Marshal(phon)
		if err != nil {
			t.Fatalf("failed to marshal entry %q: %v", key, err)
		}
		file.Entries[key] = raw
	}
	data, err := json.Marshal(file)
	if err != nil {
		t.Fatalf("failed to marshal pack: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644); err != nil {
		t.Fatalf("failed to write pack file: %v", err)
	}
}

func TestLoadPackFileAcceptsMetaEntries(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`{"name":"en_core","version":"v1","format":"espeak","entries":{"read":"r_i_d","naruto":{"phonemes":"n_a_r_u_t_o","source":"manual"}}}`)
	if err := os.WriteFile(filepath.Join(dir, "en_core.json"), data, 0o644); err != nil {
		t.Fatalf("failed to write pack file: %v", err)
	}

	pack, err := loadPackFile(filepath.Join(dir, "en_core.json"))
	if err != nil {
		t.Fatalf("loadPackFile failed: %v", err)
	}
	if pack.Name != "en_core" || pack.Version != "v1" || pack.Format != "espeak" {
		t.Errorf("unexpected pack metadata: %+v", pack)
	}
	if pack.Entries["read"] != "r_i_d" {
		t.Errorf("expected bare string entry, got %q", pack.Entries["read"])
	}
	if pack.Entries["naruto"] != "n_a_r_u_t_o" {
		t.Errorf("expected {phonemes,source} entry to resolve to phonemes, got %q", pack.Entries["naruto"])
	}
}

func TestStoreLookupPriority(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "en_core", map[string]string{"read": "r_i_d"})
	writePack(t, dir, "anime_en", map[string]string{"read": "r_e_d", "naruto": "n_a_r_u_t_o"})

	s, err := NewStore(types.ResolverConfig{DictDir: dir, AutolearnMinLen: 2})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	result, ok := s.Lookup("read")
	if !ok {
		t.Fatal("expected lookup hit for 'read'")
	}
	if result.SourcePack != "anime_en" {
		t.Errorf("expected anime_en to win over en_core, got %s", result.SourcePack)
	}

	if _, ok := s.Lookup("missing"); ok {
		t.Error("expected lookup miss for unknown key")
	}
}

func TestStoreLearnAndPromote(t *testing.T) {
	dir := t.TempDir()
	autolearnPath := filepath.Join(dir, "auto_learn.json")

	s, err := NewStore(types.ResolverConfig{DictDir: dir, AutolearnPath: autolearnPath, AutolearnMinLen: 2})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := s.Learn("sasuke", "s_a_s_u_k_e"); err != nil {
		t.Fatalf("Learn failed: %v", err)
	}
	if err := s.Learn("a", "a"); err == nil {
		t.Error("expected Learn to reject a token shorter than autolearn_min_len")
	}
	if err := s.Learn("two words", "x"); err == nil {
		t.Error("expected Learn to reject a multi-token phrase")
	}

	result, ok := s.Lookup("sasuke")
	if !ok || result.SourcePack != "auto_learn" {
		t.Fatalf("expected sasuke to resolve from auto_learn, got %+v ok=%v", result, ok)
	}

	if err := s.Promote("sasuke"); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	result, ok = s.Lookup("sasuke")
	if !ok || result.SourcePack != "local_overrides" {
		t.Fatalf("expected sasuke to resolve from local_overrides after promote, got %+v ok=%v", result, ok)
	}
}

func TestStoreOverride(t *testing.T) {
	dir := t.TempDir()
	writePack(t, dir, "en_core", map[string]string{"read": "r_i_d"})

	s, err := NewStore(types.ResolverConfig{DictDir: dir, AutolearnMinLen: 2})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	s.Override("read", "r_e_d")
	result, ok := s.Lookup("read")
	if !ok || result.SourcePack != "local_overrides" || result.Phonemes != "r_e_d" {
		t.Fatalf("expected override to win, got %+v ok=%v", result, ok)
	}
}

// Package dict loads, compiles, and persists pronunciation dictionary
// packs. Packs are read from (and auto-learned entries written to) local
// disk, in the teacher's book/repository.go storage-backed JSON
// read/write pattern, generalized from "book metadata" to "pack files".
package dict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unalkalkan/pronounce/pkg/types"
)

// Store holds the loaded pack set and the writable auto_learn pack.
type Store struct {
	dictDir       string
	compiledDir   string
	autolearnPath string
	minLen        int

	mu    sync.RWMutex
	packs map[string]*types.Pack

	learnMu   sync.Mutex
	dirty     bool
	flushStop chan struct{}
}

// NewStore loads every *.json pack file in dictDir (and compiledDir, if
// set) into memory. Packs are registered under the file's "name" field,
// or under the file's base name (without extension) when that field is
// empty.
func NewStore(cfg types.ResolverConfig) (*Store, error) {
	s := &Store{
		dictDir:       cfg.DictDir,
		compiledDir:   cfg.CompiledDir,
		autolearnPath: cfg.AutolearnPath,
		minLen:        cfg.AutolearnMinLen,
		packs:         make(map[string]*types.Pack),
	}

	if err := s.loadDir(s.dictDir); err != nil {
		return nil, err
	}
	if s.compiledDir != "" {
		if err := s.loadDir(s.compiledDir); err != nil {
			return nil, err
		}
	}

	if s.autolearnPath != "" {
		if _, ok := s.packs["auto_learn"]; !ok {
			if err := s.loadAutolearn(); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

func (s *Store) loadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dict dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		pack, err := loadPackFile(path)
		if err != nil {
			return fmt.Errorf("failed to load pack %s: %w", path, err)
		}
		s.packs[pack.Name] = pack
	}
	return nil
}

func (s *Store) loadAutolearn() error {
	if _, err := os.Stat(s.autolearnPath); os.IsNotExist(err) {
		s.packs["auto_learn"] = &types.Pack{
			Name:    "auto_learn",
			Version: versionFromTime(time.Now()),
			Format:  "espeak",
			Entries: map[string]string{},
		}
		return nil
	}
	pack, err := loadPackFile(s.autolearnPath)
	if err != nil {
		return fmt.Errorf("failed to load auto_learn pack: %w", err)
	}
	pack.Name = "auto_learn"
	s.packs["auto_learn"] = pack
	return nil
}

// packFile mirrors the on-disk wrapper shape spec.md §6 mandates:
// {"name","version","format","entries":{...}}. Entries is read as raw
// JSON per key since a value may be either a bare phoneme string or a
// {"phonemes","source"} object; decodeEntries normalizes both to the
// phoneme string callers care about.
type packFile struct {
	Name    string                     `json:"name"`
	Version string                     `json:"version"`
	Format  string                     `json:"format"`
	Entries map[string]json.RawMessage `json:"entries"`
}

func decodeEntries(raw map[string]json.RawMessage) (map[string]string, error) {
	entries := make(map[string]string, len(raw))
	for key, value := range raw {
		var phon string
		if err := json.Unmarshal(value, &phon); err == nil {
			entries[key] = phon
			continue
		}
		var meta types.PackEntryMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			return nil, fmt.Errorf("entry %q: must be a phoneme string or {phonemes,source}: %w", key, err)
		}
		entries[key] = meta.Phonemes
	}
	return entries, nil
}

func loadPackFile(path string) (*types.Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file packFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid pack json: %w", err)
	}
	entries, err := decodeEntries(file.Entries)
	if err != nil {
		return nil, fmt.Errorf("invalid pack entries: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	name := file.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	version := file.Version
	if version == "" {
		version = versionFromTime(info.ModTime())
	}
	format := file.Format
	if format == "" {
		format = "espeak"
	}

	return &types.Pack{
		Name:    name,
		Version: version,
		Format:  format,
		Entries: entries,
	}, nil
}

func versionFromTime(t time.Time) string {
	return t.UTC().Format("20060102-150405")
}

// PacksByPriority returns the loaded packs ordered highest-priority first,
// per types.FixedPackPriority.
func (s *Store) PacksByPriority() []*types.Pack {
	s.mu.RLock()
	defer s.mu.RUnlock()

	packs := make([]*types.Pack, 0, len(s.packs))
	for _, p := range s.packs {
		packs = append(packs, p)
	}
	sort.Slice(packs, func(i, j int) bool {
		return types.PriorityOf(packs[i].Name) < types.PriorityOf(packs[j].Name)
	})
	return packs
}

// Versions snapshots every loaded pack's (name, version) for inclusion in
// a job's dict_pack_versions at admission time.
func (s *Store) Versions() []types.PackVersion {
	packs := s.PacksByPriority()
	versions := make([]types.PackVersion, 0, len(packs))
	for _, p := range packs {
		versions = append(versions, types.PackVersion{Name: p.Name, Version: p.Version})
	}
	return versions
}

// Summaries returns one types.PackSummary per loaded pack, for GET /v1/dicts.
func (s *Store) Summaries() []types.PackSummary {
	packs := s.PacksByPriority()
	summaries := make([]types.PackSummary, 0, len(packs))
	for _, p := range packs {
		summaries = append(summaries, types.PackSummary{
			Name:       p.Name,
			Version:    p.Version,
			EntryCount: len(p.Entries),
		})
	}
	return summaries
}

// Lookup searches every pack in priority order for key (case-preserving,
// exact match), returning the first hit.
func (s *Store) Lookup(key string) (*types.LookupResult, bool) {
	for _, p := range s.PacksByPriority() {
		if phon, ok := p.Entries[key]; ok {
			return &types.LookupResult{Key: key, Phonemes: phon, SourcePack: p.Name}, true
		}
	}
	return nil, false
}

// Learn records a single-token phoneme mapping into the in-memory
// auto_learn pack and marks it dirty for the next periodic flush. Entries
// shorter than minLen runes are rejected, per spec's explicit-only,
// single-token auto-learn scope.
func (s *Store) Learn(token, phonemes string) error {
	if len([]rune(token)) < s.minLen {
		return fmt.Errorf("token %q shorter than autolearn_min_len", token)
	}
	if strings.ContainsAny(token, " \t\n") {
		return fmt.Errorf("autolearn only accepts single tokens, got phrase %q", token)
	}

	s.mu.Lock()
	pack, ok := s.packs["auto_learn"]
	if !ok {
		pack = &types.Pack{Name: "auto_learn", Version: versionFromTime(time.Now()), Format: "espeak", Entries: map[string]string{}}
		s.packs["auto_learn"] = pack
	}
	pack.Entries[token] = phonemes
	s.mu.Unlock()

	s.learnMu.Lock()
	s.dirty = true
	s.learnMu.Unlock()
	return nil
}

// LearnPhrase records a resolved key (single token or multi-word phrase)
// into auto_learn, for the server-resolved /v1/dicts/learn path. Unlike
// Learn it accepts whitespace in key, since an explicit learn request is
// not subject to auto-learn's single-token scope.
func (s *Store) LearnPhrase(key, phonemes string) error {
	if len([]rune(key)) < s.minLen {
		return fmt.Errorf("key %q shorter than autolearn_min_len", key)
	}

	s.mu.Lock()
	pack, ok := s.packs["auto_learn"]
	if !ok {
		pack = &types.Pack{Name: "auto_learn", Version: versionFromTime(time.Now()), Format: "espeak", Entries: map[string]string{}}
		s.packs["auto_learn"] = pack
	}
	pack.Entries[key] = phonemes
	s.mu.Unlock()

	s.learnMu.Lock()
	s.dirty = true
	s.learnMu.Unlock()
	return nil
}

// Override writes (or replaces) an entry directly into local_overrides,
// bypassing auto-learn's single-token/min-length restrictions.
func (s *Store) Override(key, phonemes string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pack, ok := s.packs["local_overrides"]
	if !ok {
		pack = &types.Pack{Name: "local_overrides", Version: versionFromTime(time.Now()), Format: "espeak", Entries: map[string]string{}}
		s.packs["local_overrides"] = pack
	}
	pack.Entries[key] = phonemes
}

// Upload merges entries into local_overrides, the top-priority pack, as
// POST /v1/dicts/upload. name identifies the uploaded batch for callers
// but does not gate priority: uploads always win like a manual override.
func (s *Store) Upload(name string, entries map[string]string) error {
	if name == "" {
		return fmt.Errorf("pack name is required")
	}
	if len(entries) == 0 {
		return fmt.Errorf("entries must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pack, ok := s.packs["local_overrides"]
	if !ok {
		pack = &types.Pack{Name: "local_overrides", Version: versionFromTime(time.Now()), Format: "espeak", Entries: map[string]string{}}
		s.packs["local_overrides"] = pack
	}
	for key, phon := range entries {
		pack.Entries[key] = phon
	}
	pack.Version = versionFromTime(time.Now())
	return nil
}

// Compile flushes every loaded pack to compiledDir in the on-disk wrapper
// shape, atomically (tmp file + rename, same pattern as flush's autolearn
// write), returning the number of packs written.
func (s *Store) Compile() (int, error) {
	if s.compiledDir == "" {
		return 0, fmt.Errorf("compiled_dir is not configured")
	}
	if err := os.MkdirAll(s.compiledDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create compiled dir: %w", err)
	}

	s.mu.RLock()
	packs := make([]*types.Pack, 0, len(s.packs))
	for _, p := range s.packs {
		packs = append(packs, p)
	}
	s.mu.RUnlock()

	for _, p := range packs {
		file := packFile{Name: p.Name, Version: p.Version, Format: p.Format, Entries: make(map[string]json.RawMessage, len(p.Entries))}
		for key, phon := range p.Entries {
			raw, err := json.Marshal(phon)
			if err != nil {
				return 0, fmt.Errorf("failed to marshal entry %q of pack %s: %w", key, p.Name, err)
			}
			file.Entries[key] = raw
		}

		data, err := json.MarshalIndent(file, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("failed to marshal pack %s: %w", p.Name, err)
		}

		path := filepath.Join(s.compiledDir, p.Name+".json")
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return 0, fmt.Errorf("failed to write compiled pack %s: %w", p.Name, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return 0, fmt.Errorf("failed to finalize compiled pack %s: %w", p.Name, err)
		}
	}

	return len(packs), nil
}

// Promote copies an auto_learn entry into local_overrides and removes it
// from auto_learn, for operators promoting a vetted learned entry.
func (s *Store) Promote(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	learned, ok := s.packs["auto_learn"]
	if !ok {
		return fmt.Errorf("no auto_learn pack loaded")
	}
	phon, ok := learned.Entries[key]
	if !ok {
		return fmt.Errorf("key %q not found in auto_learn", key)
	}

	overrides, ok := s.packs["local_overrides"]
	if !ok {
		overrides = &types.Pack{Name: "local_overrides", Version: versionFromTime(time.Now()), Format: "espeak", Entries: map[string]string{}}
		s.packs["local_overrides"] = overrides
	}
	overrides.Entries[key] = phon
	delete(learned.Entries, key)
	return nil
}

// StartAutolearnFlusher periodically persists the auto_learn pack to disk
// when dirty, every interval seconds. Call Stop to end the loop.
func (s *Store) StartAutolearnFlusher(interval time.Duration) {
	if s.autolearnPath == "" {
		return
	}
	s.flushStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.flush(); err != nil {
					fmt.Fprintf(os.Stderr, "autolearn flush failed: %v\n", err)
				}
			case <-s.flushStop:
				return
			}
		}
	}()
}

// Stop ends the autolearn flusher goroutine, flushing once more first.
func (s *Store) Stop() error {
	if s.flushStop != nil {
		close(s.flushStop)
	}
	return s.flush()
}

func (s *Store) flush() error {
	s.learnMu.Lock()
	if !s.dirty {
		s.learnMu.Unlock()
		return nil
	}
	s.dirty = false
	s.learnMu.Unlock()

	s.mu.RLock()
	pack, ok := s.packs["auto_learn"]
	var data []byte
	var err error
	if ok {
		file := packFile{Name: pack.Name, Version: pack.Version, Format: pack.Format, Entries: make(map[string]json.RawMessage, len(pack.Entries))}
		for key, phon := range pack.Entries {
			raw, _ := json.Marshal(phon)
			file.Entries[key] = raw
		}
		data, err = json.MarshalIndent(file, "", "  ")
	}
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to marshal auto_learn pack: %w", err)
	}

	tmp := s.autolearnPath + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.autolearnPath), 0o755); err != nil {
		return fmt.Errorf("failed to create autolearn dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write autolearn tmp file: %w", err)
	}
	return os.Rename(tmp, s.autolearnPath)
}

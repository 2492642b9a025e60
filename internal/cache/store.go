// Package cache implements the content-addressed segment audio cache:
// fingerprint computation, storage-backed get/put with a JSON sidecar
// recording access time and size, and LRU-by-access-time eviction against
// a configured byte budget.
//
// Grounded in the teacher's internal/storage/local.go (atomic
// create-parent-dirs-then-write pattern, now literally shared via the
// same storage.Adapter) and internal/storage/adapter.go's Adapter
// interface, so the cache can sit on local disk or S3 through the same
// adapter the merged-audio store uses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unalkalkan/pronounce/internal/storage"
	"github.com/unalkalkan/pronounce/pkg/types"
)

// Meta is the JSON sidecar recorded alongside every cached segment.
type Meta struct {
	Key        string    `json:"key"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Store is the content-addressed segment audio cache.
type Store struct {
	adapter storage.Adapter
	maxMB   int64

	mu sync.Mutex
}

// NewStore creates a Store backed by adapter, evicting down to maxMB
// megabytes whenever Put pushes the cache over budget.
func NewStore(adapter storage.Adapter, maxMB int64) *Store {
	return &Store{adapter: adapter, maxMB: maxMB}
}

// Fingerprint computes a segment's cache key: sha256 over normalized
// text, model/voice, the job's dictionary pack versions (name:version,
// sorted), the reading profile, the resolver's compiler version, and the
// phoneme mode, exactly as spec.md §4.5 defines it.
func Fingerprint(text, modelID, voiceID string, packVersions []types.PackVersion, profile types.ReadingProfile, compilerVersion, phonemeMode string) string {
	versions := make([]string, len(packVersions))
	for i, v := range packVersions {
		versions[i] = fmt.Sprintf("%s:%s", v.Name, v.Version)
	}
	sort.Strings(versions)

	h := sha256.New()
	fmt.Fprintf(h, "text=%s\n", text)
	fmt.Fprintf(h, "model=%s\n", modelID)
	fmt.Fprintf(h, "voice=%s\n", voiceID)
	fmt.Fprintf(h, "packs=%s\n", strings.Join(versions, ","))
	fmt.Fprintf(h, "rate=%.3f\n", profile.Rate)
	fmt.Fprintf(h, "pause_scale=%.3f\n", profile.PauseScale)
	fmt.Fprintf(h, "quote_mode=%s\n", profile.QuoteMode)
	fmt.Fprintf(h, "acronym_mode=%s\n", profile.AcronymMode)
	fmt.Fprintf(h, "number_mode=%s\n", profile.NumberMode)
	fmt.Fprintf(h, "compiler_version=%s\n", compilerVersion)
	fmt.Fprintf(h, "phoneme_mode=%s\n", phonemeMode)

	return hex.EncodeToString(h.Sum(nil))
}

func audioPath(key string) string {
	return path.Join("cache", key[:2], key+".ogg")
}

func metaPath(key string) string {
	return path.Join("cache", key[:2], key+".meta.json")
}

// Get returns the cached audio for key, or found=false on a miss. A hit
// updates the sidecar's accessed_at for LRU purposes.
func (s *Store) Get(ctx context.Context, key string) (data []byte, found bool, err error) {
	exists, err := s.adapter.Exists(ctx, audioPath(key))
	if err != nil {
		return nil, false, fmt.Errorf("cache: exists check: %w", err)
	}
	if !exists {
		return nil, false, nil
	}

	reader, err := s.adapter.Get(ctx, audioPath(key))
	if err != nil {
		return nil, false, fmt.Errorf("cache: get: %w", err)
	}
	defer reader.Close()

	data, err = io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("cache: read: %w", err)
	}

	s.touch(ctx, key, int64(len(data)))
	return data, true, nil
}

func (s *Store) touch(ctx context.Context, key string, size int64) {
	meta := Meta{Key: key, SizeBytes: size, AccessedAt: time.Now().UTC()}
	if existing, err := s.readMeta(ctx, key); err == nil {
		meta.CreatedAt = existing.CreatedAt
	} else {
		meta.CreatedAt = meta.AccessedAt
	}
	s.writeMeta(ctx, key, meta)
}

// Put stores audio under key and runs eviction if the cache is over
// budget afterward.
func (s *Store) Put(ctx context.Context, key string, audio []byte) error {
	if err := s.adapter.Put(ctx, audioPath(key), strings.NewReader(string(audio))); err != nil {
		return fmt.Errorf("cache: put audio: %w", err)
	}

	now := time.Now().UTC()
	meta := Meta{Key: key, SizeBytes: int64(len(audio)), CreatedAt: now, AccessedAt: now}
	if err := s.writeMeta(ctx, key, meta); err != nil {
		return err
	}

	return s.evictIfNeeded(ctx)
}

func (s *Store) readMeta(ctx context.Context, key string) (Meta, error) {
	reader, err := s.adapter.Get(ctx, metaPath(key))
	if err != nil {
		return Meta{}, err
	}
	defer reader.Close()

	var meta Meta
	if err := json.NewDecoder(reader).Decode(&meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

func (s *Store) writeMeta(ctx context.Context, key string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: marshal meta: %w", err)
	}
	if err := s.adapter.Put(ctx, metaPath(key), strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("cache: put meta: %w", err)
	}
	return nil
}

// evictIfNeeded walks every cached entry's meta sidecar and removes the
// least-recently-accessed ones until total size is back under maxMB.
func (s *Store) evictIfNeeded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxMB <= 0 {
		return nil
	}

	paths, err := s.adapter.List(ctx, "cache/")
	if err != nil {
		return fmt.Errorf("cache: list for eviction: %w", err)
	}

	type entry struct {
		key  string
		meta Meta
	}
	var entries []entry
	var total int64

	for _, p := range paths {
		if !strings.HasSuffix(p, ".meta.json") {
			continue
		}
		key := strings.TrimSuffix(path.Base(p), ".meta.json")
		meta, err := s.readMeta(ctx, key)
		if err != nil {
			continue
		}
		entries = append(entries, entry{key: key, meta: meta})
		total += meta.SizeBytes
	}

	budget := s.maxMB * 1024 * 1024
	if total <= budget {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].meta.AccessedAt.Before(entries[j].meta.AccessedAt)
	})

	for _, e := range entries {
		if total <= budget {
			break
		}
		if err := s.adapter.Delete(ctx, audioPath(e.key)); err != nil {
			continue
		}
		s.adapter.Delete(ctx, metaPath(e.key))
		total -= e.meta.SizeBytes
	}

	return nil
}

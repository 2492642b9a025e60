// Package merge produces and caches the per-job merged OGG/Opus stream,
// grounded in the teacher's internal/packaging/service.go (which
// assembles a single derived artifact from per-segment blobs under
// storage.Adapter and writes it back through the same adapter), adapted
// from a ZIP-of-everything artifact to a single concatenated audio
// stream reusing segment cache entries by key.
package merge

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
	"time"

	"github.com/unalkalkan/pronounce/internal/cache"
	"github.com/unalkalkan/pronounce/internal/jobstore"
	"github.com/unalkalkan/pronounce/internal/storage"
	"github.com/unalkalkan/pronounce/pkg/types"
)

// ErrNotTerminal is returned when Merge is asked to assemble a job whose
// status is not complete or complete_with_errors (canceled and failed
// jobs included).
var ErrNotTerminal = fmt.Errorf("merge: job is not in a terminal status")

// ErrLockTimeout is returned when the per-job merge lock could not be
// acquired within the caller's wait budget.
var ErrLockTimeout = fmt.Errorf("merge: lock wait budget exceeded")

// pauseMsDefaults is spec.md §9's recommended millisecond mapping per
// terminal-punctuation class, scaled by the job's pause_scale.
var pauseMsDefaults = map[string]int{
	"period":         350,
	"comma_semicolon": 150,
	"other":          60,
}

// Meta is the JSON sidecar written next to every merged artifact.
type Meta struct {
	CreatedAt        time.Time `json:"created_at"`
	SizeBytes        int64     `json:"size_bytes"`
	SegmentCacheKeys []string  `json:"segment_cache_keys"`
}

// Merger assembles and caches a job's merged audio stream.
type Merger struct {
	cache   *cache.Store
	adapter storage.Adapter
	jobs    jobstore.Store
	codec   interface {
		Concat(segments [][]byte, pauseMs []int) ([]byte, error)
	}
}

// New wires a Merger. adapter backs the merged/ output directory; it may
// be the same storage.Adapter the cache store uses.
func New(cacheStore *cache.Store, adapter storage.Adapter, jobs jobstore.Store, codec interface {
	Concat(segments [][]byte, pauseMs []int) ([]byte, error)
}) *Merger {
	return &Merger{cache: cacheStore, adapter: adapter, jobs: jobs, codec: codec}
}

func mergedAudioPath(fingerprint string) string {
	return path.Join("merged", fingerprint[:2], fingerprint+".ogg")
}

func mergedMetaPath(fingerprint string) string {
	return path.Join("merged", fingerprint[:2], fingerprint+".meta.json")
}

// Fingerprint computes spec.md §4.5's merge_fingerprint: a sha256 over
// the ordered list of contributing cache keys (one per segment, in index
// order; skipped/errored segments contribute a positional placeholder so
// which segments were ready is itself part of the fingerprint) and the
// job's pause_scale.
func Fingerprint(orderedKeys []string, pauseScale float64) string {
	h := sha256.New()
	for _, k := range orderedKeys {
		fmt.Fprintf(h, "%s\n", k)
	}
	fmt.Fprintf(h, "pause_scale=%.3f\n", pauseScale)
	return hex.EncodeToString(h.Sum(nil))
}

// punctuationClass classifies a segment's trailing punctuation into the
// three pause classes spec.md §9 names.
func punctuationClass(text string) string {
	trimmed := strings.TrimRight(text, " \t\n\r\"'”’)")
	if trimmed == "" {
		return "other"
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return "period"
	case ',', ';', ':':
		return "comma_semicolon"
	default:
		return "other"
	}
}

func pauseMsFor(text string, scale float64) int {
	if scale <= 0 {
		scale = 1.0
	}
	return int(float64(pauseMsDefaults[punctuationClass(text)]) * scale)
}

// Merge returns job's merged OGG/Opus stream, computing and caching it
// under the per-job merge lock if not already present. The caller (the
// HTTP layer) is responsible for only calling Merge once job.Status is
// terminal; Merge itself still refuses any job that is not complete or
// complete_with_errors defensively
// since a caller bug here would otherwise cache a partial merge under a
// fingerprint that looks final.
func (m *Merger) Merge(ctx context.Context, job *types.Job, lockWait time.Duration) ([]byte, error) {
	if job.Status != "complete" && job.Status != "complete_with_errors" {
		return nil, ErrNotTerminal
	}

	sorted := append([]*types.Segment(nil), job.Segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	orderedKeys := make([]string, len(sorted))
	for i, seg := range sorted {
		if seg.Status == "ready" && seg.Fingerprint != "" {
			orderedKeys[i] = seg.Fingerprint
		} else {
			orderedKeys[i] = fmt.Sprintf("!skip:%s:%d", seg.ID, i)
		}
	}

	fingerprint := Fingerprint(orderedKeys, job.ReadingProfile.PauseScale)

	if data, ok, err := m.readCached(ctx, fingerprint); err == nil && ok {
		return data, nil
	}

	acquired, err := m.jobs.AcquireMergeLock(ctx, job.ID, lockWait)
	if err != nil {
		return nil, fmt.Errorf("merge: acquire lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockTimeout
	}
	defer m.jobs.ReleaseMergeLock(ctx, job.ID)

	// Re-check under the lock: a concurrent caller may have finished the
	// merge while we were waiting to acquire it.
	if data, ok, err := m.readCached(ctx, fingerprint); err == nil && ok {
		return data, nil
	}

	var audioChunks [][]byte
	var pauseMs []int
	var readyKeys []string

	for _, seg := range sorted {
		if seg.Status != "ready" || seg.Fingerprint == "" {
			continue
		}
		audio, found, err := m.cache.Get(ctx, seg.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("merge: fetch segment %s: %w", seg.ID, err)
		}
		if !found {
			return nil, fmt.Errorf("merge: segment %s missing from cache under key %s", seg.ID, seg.Fingerprint)
		}
		audioChunks = append(audioChunks, audio)
		pauseMs = append(pauseMs, pauseMsFor(seg.Text, job.ReadingProfile.PauseScale))
		readyKeys = append(readyKeys, seg.Fingerprint)
	}

	if len(audioChunks) == 0 {
		return nil, fmt.Errorf("merge: job %s has no ready segments to merge", job.ID)
	}

	merged, err := m.codec.Concat(audioChunks, pauseMs)
	if err != nil {
		return nil, fmt.Errorf("merge: concat: %w", err)
	}

	if err := m.writeCached(ctx, fingerprint, merged, readyKeys); err != nil {
		return nil, err
	}

	return merged, nil
}

func (m *Merger) readCached(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	exists, err := m.adapter.Exists(ctx, mergedAudioPath(fingerprint))
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, nil
	}
	reader, err := m.adapter.Get(ctx, mergedAudioPath(fingerprint))
	if err != nil {
		return nil, false, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Merger) writeCached(ctx context.Context, fingerprint string, data []byte, segmentKeys []string) error {
	if err := m.adapter.Put(ctx, mergedAudioPath(fingerprint), strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("merge: write audio: %w", err)
	}

	meta := Meta{CreatedAt: time.Now().UTC(), SizeBytes: int64(len(data)), SegmentCacheKeys: segmentKeys}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("merge: marshal meta: %w", err)
	}
	if err := m.adapter.Put(ctx, mergedMetaPath(fingerprint), strings.NewReader(string(metaBytes))); err != nil {
		return fmt.Errorf("merge: write meta: %w", err)
	}
	return nil
}

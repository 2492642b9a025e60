package merge

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/unalkalkan/pronounce/internal/cache"
	"github.com/unalkalkan/pronounce/internal/jobstore"
	"github.com/unalkalkan/pronounce/internal/storage"
	"github.com/unalkalkan/pronounce/pkg/types"
)

type fakeCodec struct {
	calls int
}

func (f *fakeCodec) Concat(segments [][]byte, pauseMs []int) ([]byte, error) {
	f.calls++
	var buf bytes.Buffer
	for i, seg := range segments {
		buf.Write(seg)
		if i < len(pauseMs) {
			buf.WriteByte(byte(pauseMs[i]))
		}
	}
	return buf.Bytes(), nil
}

func newTestMerger(t *testing.T) (*Merger, *cache.Store, jobstore.Store, *fakeCodec) {
	t.Helper()
	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalAdapter: %v", err)
	}
	cacheStore := cache.NewStore(adapter, 0)
	store := jobstore.NewMemoryStore(jobstore.MemoryConfig{
		MaxActiveJobs:        10,
		SegmentMaxRetries:    2,
		SegmentStaleSeconds:  30,
		JobsTTLSeconds:       3600,
		MergeLockWaitSeconds: 5,
	})
	codec := &fakeCodec{}
	return New(cacheStore, adapter, store, codec), cacheStore, store, codec
}

func readyJob(t *testing.T, ctx context.Context, cacheStore *cache.Store, store jobstore.Store, id string) *types.Job {
	t.Helper()
	job := &types.Job{
		ID:             id,
		Status:         "queued",
		ModelID:        "stub-model",
		ReadingProfile: types.DefaultReadingProfile(),
		Segments: []*types.Segment{
			{ID: "s0", JobID: id, Index: 0, Text: "Hello there.", Status: "queued"},
			{ID: "s1", JobID: id, Index: 1, Text: "Wait, what?", Status: "queued"},
		},
	}
	if err := store.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	for i := 0; i < 2; i++ {
		claim, err := store.ClaimNextSegment(ctx, "w1")
		if err != nil {
			t.Fatalf("ClaimNextSegment: %v", err)
		}
		key := "key-" + claim.Segment.ID
		if err := cacheStore.Put(ctx, key, []byte("audio-"+claim.Segment.ID)); err != nil {
			t.Fatalf("cache Put: %v", err)
		}
		if err := store.CompleteSegment(ctx, id, claim.Segment.ID, claim.Epoch, jobstore.SegmentResult{Fingerprint: key, Path: key}); err != nil {
			t.Fatalf("CompleteSegment: %v", err)
		}
	}

	got, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return got
}

func TestMergeProducesAndCachesArtifact(t *testing.T) {
	m, cacheStore, store, codec := newTestMerger(t)
	ctx := context.Background()

	job := readyJob(t, ctx, cacheStore, store, "job1")
	if job.Status != "complete" {
		t.Fatalf("expected job complete, got %s", job.Status)
	}

	data, err := m.Merge(ctx, job, 5*time.Second)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty merged audio")
	}
	if codec.calls != 1 {
		t.Fatalf("expected 1 concat call, got %d", codec.calls)
	}

	// Second call should hit the on-disk merged cache, not invoke Concat again.
	data2, err := m.Merge(ctx, job, 5*time.Second)
	if err != nil {
		t.Fatalf("Merge (cached): %v", err)
	}
	if !bytes.Equal(data, data2) {
		t.Fatal("expected identical merged bytes from cache")
	}
	if codec.calls != 1 {
		t.Fatalf("expected concat still called once, got %d", codec.calls)
	}
}

func TestMergeRejectsNonTerminalJob(t *testing.T) {
	m, _, _, _ := newTestMerger(t)
	job := &types.Job{ID: "job2", Status: "running"}
	if _, err := m.Merge(context.Background(), job, time.Second); err != ErrNotTerminal {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
}

func TestPunctuationClassification(t *testing.T) {
	cases := map[string]string{
		"Hello there.": "period",
		"Wait, what?!": "period",
		"one, two,":    "comma_semicolon",
		"just words":   "other",
	}
	for text, want := range cases {
		if got := punctuationClass(text); got != want {
			t.Errorf("punctuationClass(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestMergeFingerprintStableAndOrderSensitive(t *testing.T) {
	a := Fingerprint([]string{"k1", "k2"}, 1.0)
	b := Fingerprint([]string{"k1", "k2"}, 1.0)
	if a != b {
		t.Fatal("expected stable fingerprint for identical input")
	}
	c := Fingerprint([]string{"k2", "k1"}, 1.0)
	if a == c {
		t.Fatal("expected order-sensitive fingerprint")
	}
	d := Fingerprint([]string{"k1", "k2"}, 1.1)
	if a == d {
		t.Fatal("expected pause_scale-sensitive fingerprint")
	}
}

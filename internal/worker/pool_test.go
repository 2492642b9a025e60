package worker

import (
	"context"
	"testing"
	"time"

	"github.com/unalkalkan/pronounce/internal/cache"
	"github.com/unalkalkan/pronounce/internal/dict"
	"github.com/unalkalkan/pronounce/internal/jobstore"
	"github.com/unalkalkan/pronounce/internal/provider"
	"github.com/unalkalkan/pronounce/internal/resolve"
	"github.com/unalkalkan/pronounce/internal/storage"
	"github.com/unalkalkan/pronounce/pkg/types"
)

func newTestPool(t *testing.T) (*Pool, jobstore.Store) {
	t.Helper()

	store := jobstore.NewMemoryStore(jobstore.MemoryConfig{
		MaxActiveJobs:        10,
		SegmentMaxRetries:    2,
		SegmentStaleSeconds:  30,
		JobsTTLSeconds:       3600,
		MergeLockWaitSeconds: 5,
	})

	dictStore, err := dict.NewStore(types.ResolverConfig{DictDir: t.TempDir(), AutolearnMinLen: 2})
	if err != nil {
		t.Fatalf("dict.NewStore failed: %v", err)
	}
	resolver := resolve.New(dictStore, nil)

	adapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalAdapter failed: %v", err)
	}
	cacheStore := cache.NewStore(adapter, 4096)

	registry := provider.NewRegistry()
	registry.RegisterSynthesizer(provider.NewStubSynthesizer(types.TTSProviderConfig{Name: "stub-model"}))
	codec, err := provider.NewOpusCodec(types.CodecConfig{})
	if err != nil {
		t.Fatalf("NewOpusCodec failed: %v", err)
	}
	registry.RegisterCodec(codec)

	pool, err := NewPool(store, registry, resolver, cacheStore, "opus", Config{JobWorkers: 1})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	return pool, store
}

func TestProcessSegmentCommitsReady(t *testing.T) {
	pool, store := newTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	job := &types.Job{
		ID:             "job1",
		Status:         "queued",
		ModelID:        "stub-model",
		ReadingProfile: types.DefaultReadingProfile(),
		Segments: []*types.Segment{
			{ID: "seg1", JobID: "job1", Index: 0, Text: "hello there", Status: "queued"},
		},
	}
	if err := store.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob failed: %v", err)
	}

	claim, err := store.ClaimNextSegment(ctx, "w1")
	if err != nil {
		t.Fatalf("ClaimNextSegment failed: %v", err)
	}

	pool.processSegment(ctx, "w1", claim)

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Segments[0].Status != "ready" {
		t.Fatalf("expected segment ready, got %s (err=%s)", got.Segments[0].Status, got.Segments[0].ErrorMessage)
	}
	if got.Segments[0].Fingerprint == "" {
		t.Error("expected a non-empty cache fingerprint")
	}
	if got.Status != "complete" {
		t.Errorf("expected job complete, got %s", got.Status)
	}
}

func TestProcessSegmentReleasesWhenJobCanceled(t *testing.T) {
	pool, store := newTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	job := &types.Job{
		ID:      "job2",
		Status:  "queued",
		ModelID: "stub-model",
		Segments: []*types.Segment{
			{ID: "seg1", JobID: "job2", Index: 0, Text: "hi", Status: "queued"},
		},
	}
	store.SubmitJob(ctx, job)
	claim, err := store.ClaimNextSegment(ctx, "w1")
	if err != nil {
		t.Fatalf("ClaimNextSegment failed: %v", err)
	}

	// Simulate the job having been canceled between claim and processing.
	claim.Job.Status = "canceled"
	store.CancelJob(ctx, job.ID)

	pool.processSegment(ctx, "w1", claim)

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Segments[0].Status != "canceled" {
		t.Errorf("expected segment canceled, got %s", got.Segments[0].Status)
	}
}

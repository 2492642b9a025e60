// Package worker runs the claim/resolve/synthesize/encode/commit loop
// against a jobstore.Store, grounded in the teacher's
// internal/tts/orchestrator.go (semaphore-bounded fan-out over segments)
// and internal/pipeline/orchestrator_hybrid.go's poll-synthesize-update
// worker loop, generalized with the claim/stale-reclaim/retry-cap state
// machine the teacher never needed (it had no distributed claims).
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unalkalkan/pronounce/internal/cache"
	"github.com/unalkalkan/pronounce/internal/jobstore"
	"github.com/unalkalkan/pronounce/internal/provider"
	"github.com/unalkalkan/pronounce/internal/resolve"
	"github.com/unalkalkan/pronounce/pkg/types"
)

// Config configures a Pool.
type Config struct {
	JobWorkers      int
	MaxConcurrent   int // not read by Pool; each claim loop processes one segment at a time
	CompilerVersion string
	PhonemeMode     string
}

// Pool runs JobWorkers parallel claim loops against a jobstore.Store.
type Pool struct {
	store    jobstore.Store
	registry *provider.Registry
	resolver *resolve.Resolver
	cache    *cache.Store
	codec    provider.AudioCodec

	cfg Config

	mu        sync.Mutex
	synths    map[string]*serializedSynth
}

// serializedSynth pairs a Synthesizer instance with the mutex that
// serializes calls into it, since TTS backends are not assumed
// thread-safe (spec.md §5's shared-resource policy), grounded in the
// teacher's provider.Registry map+RWMutex instance cache, narrowed from
// "one instance per provider name" to "one instance per (model,voice)".
type serializedSynth struct {
	mu    sync.Mutex
	synth provider.Synthesizer
}

// NewPool wires a worker pool. codecName selects the AudioCodec from
// registry (the server registers exactly one, "opus").
func NewPool(store jobstore.Store, registry *provider.Registry, resolver *resolve.Resolver, cacheStore *cache.Store, codecName string, cfg Config) (*Pool, error) {
	codec, err := registry.GetCodec(codecName)
	if err != nil {
		return nil, fmt.Errorf("worker: codec %q not registered: %w", codecName, err)
	}
	if cfg.JobWorkers <= 0 {
		cfg.JobWorkers = 2
	}
	if cfg.CompilerVersion == "" {
		cfg.CompilerVersion = "1"
	}
	if cfg.PhonemeMode == "" {
		cfg.PhonemeMode = "espeak"
	}
	return &Pool{
		store:    store,
		registry: registry,
		resolver: resolver,
		cache:    cacheStore,
		codec:    codec,
		cfg:      cfg,
		synths:   make(map[string]*serializedSynth),
	}, nil
}

// Run blocks, running cfg.JobWorkers parallel claim loops until ctx is
// canceled, then waits for all in-flight segments to finish.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.JobWorkers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		g.Go(func() error {
			p.loop(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.store.Heartbeat(ctx, workerID)

		claim, err := p.store.ClaimNextSegment(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[worker-%s] claim failed: %v", workerID, err)
			continue
		}

		p.processSegment(ctx, workerID, claim)
	}
}

func (p *Pool) processSegment(ctx context.Context, workerID string, claim *jobstore.ClaimedSegment) {
	job, seg := claim.Job, claim.Segment

	if job.Status == "canceled" {
		if err := p.store.ReleaseSegment(ctx, job.ID, seg.ID, claim.Epoch); err != nil {
			log.Printf("[worker-%s] release canceled segment %s failed: %v", workerID, seg.ID, err)
		}
		return
	}

	result, err := p.synthesizeSegment(ctx, job, seg)
	if err != nil {
		code := classifyError(err)
		if ferr := p.store.FailSegment(ctx, job.ID, seg.ID, claim.Epoch, code, err.Error()); ferr != nil {
			log.Printf("[worker-%s] fail-segment commit for %s rejected: %v", workerID, seg.ID, ferr)
		}
		return
	}

	if cerr := p.store.CompleteSegment(ctx, job.ID, seg.ID, claim.Epoch, *result); cerr != nil {
		log.Printf("[worker-%s] complete-segment commit for %s rejected: %v", workerID, seg.ID, cerr)
	}
}

func (p *Pool) synthesizeSegment(ctx context.Context, job *types.Job, seg *types.Segment) (*jobstore.SegmentResult, error) {
	resolved, resolveErr := p.resolver.Resolve(ctx, seg.Text, job.PreferPhonemes)
	if resolveErr != nil {
		return nil, fmt.Errorf("resolver.fallback_unavailable: %w", resolveErr)
	}

	key := cache.Fingerprint(seg.Text, job.ModelID, job.VoiceID, job.PackVersions, job.ReadingProfile, p.cfg.CompilerVersion, p.cfg.PhonemeMode)

	// A segment not marked ready at admission may still have been
	// written to cache by another job sharing the same fingerprint
	// between admission and claim; check again to skip re-synthesis.
	if p.cache != nil {
		if _, found, err := p.cache.Get(ctx, key); err == nil && found {
			return &jobstore.SegmentResult{
				Fingerprint:      key,
				Path:             key,
				ResolvedPhonemes: resolved.Phonemes,
				UsedPhonemes:     resolved.UsedPhonemes,
				SourceCounts:     resolved.SourceCounts,
			}, nil
		}
	}

	synthStart := time.Now()
	synth, err := p.synthesizerFor(job.ModelID, job.VoiceID)
	if err != nil {
		return nil, fmt.Errorf("synth.permanent: %w", err)
	}

	req := provider.SynthesizeRequest{
		Text:        seg.Text,
		Phonemes:    resolved.Phonemes,
		UsePhonemes: resolved.UsedPhonemes,
		VoiceID:     job.VoiceID,
		ModelID:     job.ModelID,
		Rate:        job.ReadingProfile.Rate,
	}

	synth.mu.Lock()
	resp, err := synth.synth.Synthesize(ctx, req)
	synth.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("synth.transient: %w", err)
	}
	synthMs := time.Since(synthStart).Milliseconds()

	encodeStart := time.Now()
	encoded, err := p.codec.EncodeSegment(resp.PCM, resp.SampleRate, resp.Channels)
	if err != nil {
		return nil, fmt.Errorf("codec.encode_failed: %w", err)
	}
	encodeMs := time.Since(encodeStart).Milliseconds()

	if p.cache != nil {
		if err := p.cache.Put(ctx, key, encoded); err != nil {
			return nil, fmt.Errorf("cache.write_failed: %w", err)
		}
	}

	return &jobstore.SegmentResult{
		Fingerprint:      key,
		Path:             key,
		ResolvedPhonemes: resolved.Phonemes,
		UsedPhonemes:     resolved.UsedPhonemes,
		SourceCounts:     resolved.SourceCounts,
		TimingSynthMs:    synthMs,
		TimingEncodeMs:   encodeMs,
	}, nil
}

func (p *Pool) synthesizerFor(modelID, voiceID string) (*serializedSynth, error) {
	key := modelID + "|" + voiceID

	p.mu.Lock()
	if s, ok := p.synths[key]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	synth, err := p.registry.GetSynthesizer(modelID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.synths[key]; ok {
		return s, nil
	}
	s := &serializedSynth{synth: synth}
	p.synths[key] = s
	return s, nil
}

// classifyError maps a wrapped synthesis error onto the error codes
// spec.md §6's error taxonomy names, so FailSegment's retry_counts
// breakdown is meaningful.
func classifyError(err error) string {
	msg := err.Error()
	switch {
	case hasPrefix(msg, "resolver.fallback_unavailable"):
		return "resolver.fallback_unavailable"
	case hasPrefix(msg, "synth.permanent"):
		return "synth.permanent"
	case hasPrefix(msg, "synth.transient"):
		return "synth.transient"
	case hasPrefix(msg, "codec.encode_failed"):
		return "codec.encode_failed"
	case hasPrefix(msg, "cache.write_failed"):
		return "cache.write_failed"
	default:
		return "synth.transient"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

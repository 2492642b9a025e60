package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unalkalkan/pronounce/internal/queue"
	"github.com/unalkalkan/pronounce/pkg/types"
)

const pollInterval = 200 * time.Millisecond

type jobEntry struct {
	mu        sync.Mutex
	job       *types.Job
	admittedAt time.Time
	terminalAt time.Time
}

func (e *jobEntry) isTerminal() bool {
	switch e.job.Status {
	case "complete", "complete_with_errors", "canceled", "failed":
		return true
	default:
		return false
	}
}

// MemoryStore is the single-process Store: an in-memory map of job
// records, each guarded by its own mutex (grounded in the teacher's
// hybridPipelineState per-job lock set), with a mutex-guarded FIFO slice
// standing in for the teacher's SegmentQueue.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*jobEntry
	queue  *queue.FIFO
	idem   map[string]idemEntry
	active int

	maxActiveJobs   int
	maxRetries      int
	staleAfter      time.Duration
	jobsTTL         time.Duration
	idemTTL         time.Duration
	mergeLockWait   time.Duration

	heartbeats map[string]time.Time
	mergeLocks map[string]time.Time

	retryCounts map[string]int
	fallbacks   map[string]int
	lockContention int

	stopTTL chan struct{}
}

type idemEntry struct {
	jobID     string
	expiresAt time.Time
}

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	MaxActiveJobs       int
	SegmentMaxRetries   int
	SegmentStaleSeconds int
	JobsTTLSeconds      int
	MergeLockWaitSeconds int
}

// NewMemoryStore creates an in-process Store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	s := &MemoryStore{
		jobs:          make(map[string]*jobEntry),
		queue:         queue.NewFIFO(),
		idem:          make(map[string]idemEntry),
		maxActiveJobs: cfg.MaxActiveJobs,
		maxRetries:    cfg.SegmentMaxRetries,
		staleAfter:    time.Duration(cfg.SegmentStaleSeconds) * time.Second,
		jobsTTL:       time.Duration(cfg.JobsTTLSeconds) * time.Second,
		idemTTL:       time.Duration(cfg.JobsTTLSeconds) * time.Second,
		mergeLockWait: time.Duration(cfg.MergeLockWaitSeconds) * time.Second,
		heartbeats:    make(map[string]time.Time),
		mergeLocks:    make(map[string]time.Time),
		retryCounts:   make(map[string]int),
		fallbacks:     make(map[string]int),
		stopTTL:       make(chan struct{}),
	}
	return s
}

// StartTTLSweeper runs a background loop evicting terminal jobs past
// jobs_ttl_seconds; stop it via Close.
func (s *MemoryStore) StartTTLSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopTTL:
				return
			case <-ticker.C:
				s.sweepExpired()
			}
		}
	}()
}

func (s *MemoryStore) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, e := range s.jobs {
		e.mu.Lock()
		expired := e.isTerminal() && !e.terminalAt.IsZero() && now.Sub(e.terminalAt) > s.jobsTTL
		e.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
	for key, entry := range s.idem {
		if now.After(entry.expiresAt) {
			delete(s.idem, key)
		}
	}
}

func (s *MemoryStore) SubmitJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	if s.maxActiveJobs > 0 && s.active >= s.maxActiveJobs {
		s.mu.Unlock()
		return ErrNoActiveJobCapacity
	}
	s.active++
	s.jobs[job.ID] = &jobEntry{job: job, admittedAt: time.Now()}
	s.queue.PushTail(job.ID)
	if job.IdempotencyKey != "" {
		s.idem[job.IdempotencyKey] = idemEntry{jobID: job.ID, expiresAt: time.Now().Add(s.idemTTL)}
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LookupIdempotencyKey(ctx context.Context, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.idem[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.jobID, true
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	cp := *entry.job
	return &cp, nil
}

func (s *MemoryStore) dequeueHead() (string, bool) {
	return s.queue.PopFront()
}

func (s *MemoryStore) enqueueTail(id string) {
	s.queue.PushTail(id)
}

func (s *MemoryStore) enqueueHead(id string) {
	s.queue.PushHead(id)
}

func (s *MemoryStore) ClaimNextSegment(ctx context.Context, workerID string) (*ClaimedSegment, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		jobID, ok := s.dequeueHead()
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		s.mu.Lock()
		entry, exists := s.jobs[jobID]
		s.mu.Unlock()
		if !exists {
			continue
		}

		claim, requeue, tail := s.tryClaimFromJob(entry, workerID)
		if claim != nil {
			if requeue {
				if tail {
					s.enqueueTail(jobID)
				} else {
					s.enqueueHead(jobID)
				}
			}
			return claim, nil
		}
		if requeue {
			if tail {
				s.enqueueTail(jobID)
			} else {
				s.enqueueHead(jobID)
			}
		} else {
			s.finalizeIfDone(entry)
		}
	}
}

// tryClaimFromJob walks entry's segments in index order and claims the
// first queued (or stale-reclaimable) one. It returns whether the job
// should be requeued for further work by other workers.
func (s *MemoryStore) tryClaimFromJob(entry *jobEntry, workerID string) (claim *ClaimedSegment, requeue bool, tail bool) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.job.Status == "canceled" {
		return nil, false, true
	}

	now := time.Now()
	allTerminal := true
	for _, seg := range entry.job.Segments {
		switch seg.Status {
		case "ready", "error", "canceled":
			continue
		case "queued":
			allTerminal = false
			s.claimSegment(entry, seg, workerID, now)
			return &ClaimedSegment{Job: cloneJob(entry.job), Segment: cloneSegment(seg), Epoch: seg.ClaimEpoch}, true, true
		case "in_progress":
			allTerminal = false
			if now.Sub(seg.ClaimedAt) > s.staleAfter {
				s.claimSegment(entry, seg, workerID, now)
				return &ClaimedSegment{Job: cloneJob(entry.job), Segment: cloneSegment(seg), Epoch: seg.ClaimEpoch}, true, true
			}
		default:
			allTerminal = false
		}
	}

	if allTerminal {
		return nil, false, true
	}
	// Nothing claimable right now (all remaining segments freshly claimed
	// by other workers); requeue at the tail so the polling loop doesn't
	// busy-spin on this job alone.
	return nil, true, true
}

func (s *MemoryStore) claimSegment(entry *jobEntry, seg *types.Segment, workerID string, now time.Time) {
	seg.Status = "in_progress"
	seg.ClaimOwner = workerID
	seg.ClaimedAt = now
	seg.ClaimEpoch++
	if entry.job.Status == "queued" {
		entry.job.Status = "running"
	}
}

func (s *MemoryStore) finalizeIfDone(entry *jobEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.isTerminal() {
		return
	}
	hasError := false
	for _, seg := range entry.job.Segments {
		if seg.Status != "ready" && seg.Status != "error" && seg.Status != "canceled" {
			return // not all terminal yet
		}
		if seg.Status == "error" {
			hasError = true
		}
	}
	if hasError {
		entry.job.Status = "complete_with_errors"
	} else {
		entry.job.Status = "complete"
	}
	entry.terminalAt = time.Now()
	s.decrementActive()
}

func (s *MemoryStore) decrementActive() {
	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	s.mu.Unlock()
}

func (s *MemoryStore) findSegment(entry *jobEntry, segmentID string) *types.Segment {
	for _, seg := range entry.job.Segments {
		if seg.ID == segmentID {
			return seg
		}
	}
	return nil
}

func (s *MemoryStore) CompleteSegment(ctx context.Context, jobID, segmentID string, epoch int64, result SegmentResult) error {
	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	entry.mu.Lock()
	seg := s.findSegment(entry, segmentID)
	if seg == nil {
		entry.mu.Unlock()
		return ErrNotFound
	}
	if seg.ClaimEpoch != epoch {
		entry.mu.Unlock()
		return ErrClaimLost
	}
	canceled := entry.job.Status == "canceled"
	if canceled {
		seg.Status = "canceled"
		seg.ClaimOwner = ""
		entry.mu.Unlock()
		s.finalizeIfDone(entry)
		return ErrJobCanceled
	}

	seg.Status = "ready"
	seg.Fingerprint = result.Fingerprint
	seg.Path = result.Path
	seg.ResolvedPhonemes = result.ResolvedPhonemes
	seg.UsedPhonemes = result.UsedPhonemes
	seg.ResolveSourceCounts = result.SourceCounts
	seg.TimingSynthMs = result.TimingSynthMs
	seg.TimingEncodeMs = result.TimingEncodeMs
	seg.ClaimOwner = ""
	entry.job.SegmentsReady++
	updateProgress(entry.job)
	entry.mu.Unlock()

	s.finalizeIfDone(entry)
	return nil
}

func (s *MemoryStore) FailSegment(ctx context.Context, jobID, segmentID string, epoch int64, errorCode, errorMessage string) error {
	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	entry.mu.Lock()
	seg := s.findSegment(entry, segmentID)
	if seg == nil {
		entry.mu.Unlock()
		return ErrNotFound
	}
	if seg.ClaimEpoch != epoch {
		entry.mu.Unlock()
		return ErrClaimLost
	}

	seg.Attempts++
	s.mu.Lock()
	s.retryCounts[errorCode]++
	s.mu.Unlock()

	terminal := seg.Attempts > retryLimitFor(errorCode, s.maxRetries)
	if terminal {
		seg.Status = "error"
		seg.ErrorCode = terminalErrorCodeFor(errorCode)
		seg.ErrorMessage = fmt.Sprintf("%s (last: %s)", errorCode, errorMessage)
		seg.ClaimOwner = ""
		entry.job.SegmentsError++
		updateProgress(entry.job)
		entry.mu.Unlock()
		s.finalizeIfDone(entry)
		return nil
	}

	seg.Status = "queued"
	seg.ClaimOwner = ""
	entry.mu.Unlock()

	s.enqueueHead(jobID)
	return nil
}

func (s *MemoryStore) ReleaseSegment(ctx context.Context, jobID, segmentID string, epoch int64) error {
	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	entry.mu.Lock()
	seg := s.findSegment(entry, segmentID)
	if seg == nil {
		entry.mu.Unlock()
		return ErrNotFound
	}
	if seg.ClaimEpoch != epoch {
		entry.mu.Unlock()
		return ErrClaimLost
	}
	seg.Status = "canceled"
	seg.ClaimOwner = ""
	entry.mu.Unlock()

	s.finalizeIfDone(entry)
	return nil
}

func (s *MemoryStore) CancelJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	entry.mu.Lock()
	if !entry.isTerminal() {
		entry.job.Status = "canceled"
		entry.terminalAt = time.Now()
		entry.mu.Unlock()
		s.decrementActive()
		return nil
	}
	entry.mu.Unlock()
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, workerID string) error {
	s.mu.Lock()
	s.heartbeats[workerID] = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AcquireMergeLock(ctx context.Context, jobID string, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		s.mu.Lock()
		held, ok := s.mergeLocks[jobID]
		if !ok || time.Since(held) > time.Minute {
			s.mergeLocks[jobID] = time.Now()
			s.mu.Unlock()
			return true, nil
		}
		s.lockContention++
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (s *MemoryStore) ReleaseMergeLock(ctx context.Context, jobID string) error {
	s.mu.Lock()
	delete(s.mergeLocks, jobID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) StatusSnapshot(ctx context.Context) (StatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	online := 0
	cutoff := time.Now().Add(-30 * time.Second)
	for _, t := range s.heartbeats {
		if t.After(cutoff) {
			online++
		}
	}

	retryCounts := make(map[string]int, len(s.retryCounts))
	for k, v := range s.retryCounts {
		retryCounts[k] = v
	}
	fallbacks := make(map[string]int, len(s.fallbacks))
	for k, v := range s.fallbacks {
		fallbacks[k] = v
	}

	return StatusSnapshot{
		WorkersOnline:       online,
		QueueLen:            s.queue.Len(),
		ActiveJobs:          s.active,
		RetryCounts:         retryCounts,
		FallbackModelUsage:  fallbacks,
		MergeLockContention: s.lockContention,
	}, nil
}

func (s *MemoryStore) Close() error {
	close(s.stopTTL)
	return nil
}

func updateProgress(job *types.Job) {
	total := len(job.Segments)
	if total == 0 {
		job.ProgressPct = 100
		return
	}
	done := 0
	for _, seg := range job.Segments {
		if seg.Status == "ready" || seg.Status == "error" || seg.Status == "canceled" {
			done++
		}
	}
	job.SegmentsTotal = total
	job.ProgressPct = 100 * float64(done) / float64(total)
}

func cloneJob(job *types.Job) *types.Job {
	cp := *job
	cp.Segments = make([]*types.Segment, len(job.Segments))
	for i, seg := range job.Segments {
		cp.Segments[i] = cloneSegment(seg)
	}
	return &cp
}

func cloneSegment(seg *types.Segment) *types.Segment {
	cp := *seg
	return &cp
}

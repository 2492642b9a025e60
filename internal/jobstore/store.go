// Package jobstore holds job and segment records and the claim/commit
// protocol workers use to synthesize segments exactly once (absent
// failures). Two implementations share the Store interface: an
// in-process map-and-mutex store for single-node deployments, and a
// Redis-backed store for distributed ones, selected by whether
// RedisConfig.URL is set (mirrors the teacher's storage.NewAdapter
// adapter-selection-by-config pattern).
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/unalkalkan/pronounce/pkg/types"
)

var (
	// ErrNotFound is returned by GetJob/claim operations for an unknown job.
	ErrNotFound = errors.New("jobstore: not found")
	// ErrClaimLost is returned when a commit's claim epoch no longer
	// matches the current claim — another worker reclaimed the segment
	// as stale while this one was still working.
	ErrClaimLost = errors.New("jobstore: claim lost to a newer owner")
	// ErrJobCanceled is returned by a commit against a job that was
	// canceled while the segment was in flight.
	ErrJobCanceled = errors.New("jobstore: job canceled")
	// ErrNoActiveJobCapacity is returned by SubmitJob when max_active_jobs
	// would be exceeded.
	ErrNoActiveJobCapacity = errors.New("jobstore: active job capacity exceeded")
)

// ClaimedSegment is what ClaimNextSegment hands a worker: a snapshot of
// the job (for reading model/voice/profile/pack versions) plus the
// specific segment now claimed, and the epoch the worker must present
// back on commit.
type ClaimedSegment struct {
	Job     *types.Job
	Segment *types.Segment
	Epoch   int64
}

// SegmentResult is what a worker commits on successful synthesis.
type SegmentResult struct {
	Fingerprint      string
	Path             string
	ResolvedPhonemes string
	UsedPhonemes     bool
	SourceCounts     map[string]int
	TimingSynthMs    int64
	TimingEncodeMs   int64
}

// StatusSnapshot backs GET /v1/admin/status.
type StatusSnapshot struct {
	WorkersOnline       int            `json:"workers_online"`
	QueueLen            int            `json:"queue_len"`
	ActiveJobs          int            `json:"active_jobs"`
	RetryCounts         map[string]int `json:"retry_counts"`
	FallbackModelUsage  map[string]int `json:"fallback_model_usage"`
	MergeLockContention int            `json:"merge_lock_contention"`
}

// retryLimitFor returns how many attempts a segment failing with errorCode
// gets before becoming terminal, per spec's error taxonomy: permanent
// kinds get none, codec/cache failures get one retry, everything else
// (synth.transient, and any unrecognized kind) gets defaultMax.
func retryLimitFor(errorCode string, defaultMax int) int {
	switch errorCode {
	case "synth.permanent", "resolver.fallback_unavailable":
		return 0
	case "codec.encode_failed", "cache.write_failed":
		return 1
	default:
		return defaultMax
	}
}

// terminalErrorCodeFor maps the error kind FailSegment was called with
// onto the terminal ErrorCode a segment's manifest entry carries, per
// spec's error taxonomy.
func terminalErrorCodeFor(errorCode string) string {
	switch errorCode {
	case "synth.permanent":
		return "synth_permanent"
	case "resolver.fallback_unavailable":
		return "resolver_unavailable"
	case "codec.encode_failed":
		return "codec_failed"
	case "cache.write_failed":
		return "cache_write_failed"
	default:
		return "retry_cap_exceeded"
	}
}

// Store is implemented by MemoryStore and RedisStore.
type Store interface {
	// SubmitJob persists a newly-admitted job (with pre-chunked segments
	// and any cache-hit segments already marked ready) and enqueues it.
	// Returns ErrNoActiveJobCapacity if max_active_jobs is already met.
	SubmitJob(ctx context.Context, job *types.Job) error

	// GetJob returns the current job record, or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*types.Job, error)

	// ClaimNextSegment blocks (respecting ctx) until it can hand a worker
	// a claimable segment, or ctx is done.
	ClaimNextSegment(ctx context.Context, workerID string) (*ClaimedSegment, error)

	// CompleteSegment commits a successful synthesis. Returns
	// ErrClaimLost if epoch is stale, ErrJobCanceled if the job was
	// canceled while the segment was in flight.
	CompleteSegment(ctx context.Context, jobID, segmentID string, epoch int64, result SegmentResult) error

	// FailSegment records a synthesis failure. If attempts now exceeds
	// retryLimitFor(errorCode, maxRetries) the segment becomes a terminal
	// error; otherwise it is
	// released and re-enqueued at the head of its job's retry order.
	FailSegment(ctx context.Context, jobID, segmentID string, epoch int64, errorCode, errorMessage string) error

	// CancelJob marks a job canceled; outstanding claims are allowed to
	// finish but their commits will be rejected.
	CancelJob(ctx context.Context, jobID string) error

	// ReleaseSegment discards a claim on a segment whose job was observed
	// canceled before any expensive work began, marking the segment
	// canceled without counting it as a retry attempt.
	ReleaseSegment(ctx context.Context, jobID, segmentID string, epoch int64) error

	// Heartbeat refreshes a worker's liveness record.
	Heartbeat(ctx context.Context, workerID string) error

	// StatusSnapshot returns the admin status view.
	StatusSnapshot(ctx context.Context) (StatusSnapshot, error)

	// LookupIdempotencyKey returns the job ID previously admitted under
	// key, if any and still within the idempotency TTL.
	LookupIdempotencyKey(ctx context.Context, key string) (string, bool)

	// AcquireMergeLock attempts the per-job merge lock, waiting up to
	// wait before giving up (false, nil) on contention.
	AcquireMergeLock(ctx context.Context, jobID string, wait time.Duration) (bool, error)

	// ReleaseMergeLock releases a held merge lock.
	ReleaseMergeLock(ctx context.Context, jobID string) error

	// Close releases any held resources (Redis client, background timers).
	Close() error
}

package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unalkalkan/pronounce/pkg/types"
)

// RedisStore is the distributed Store. It writes px:job:<id> (the job
// JSON, with every segment and its claim state embedded), px:queue:jobs,
// px:active_jobs, px:job:<id>:merge_lock, px:worker:heartbeat:<id>,
// px:idem:<key> and px:retry_count:<code>. No separate per-segment record
// or claim key is written (keyClaim is defined but not used).
// Grounded in the teacher's storage.NewAdapter config-selected-backend
// pattern; the claim/commit compare-and-swap rides Redis WATCH/MULTI/EXEC.
type RedisStore struct {
	client *redis.Client

	maxActiveJobs int
	maxRetries    int
	staleAfter    time.Duration
	jobsTTL       time.Duration
	idemTTL       time.Duration
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	URL                  string
	MaxActiveJobs        int
	SegmentMaxRetries    int
	SegmentStaleSeconds  int
	JobsTTLSeconds       int
}

const (
	keyQueueJobs   = "px:queue:jobs"
	keyActiveJobs  = "px:active_jobs"
)

func keyJob(jobID string) string        { return "px:job:" + jobID }
func keyClaim(jobID, segID string) string {
	return fmt.Sprintf("px:job:%s:seg:%s:claim", jobID, segID)
}
func keyMergeLock(jobID string) string    { return "px:job:" + jobID + ":merge_lock" }
func keyHeartbeat(workerID string) string { return "px:worker:heartbeat:" + workerID }
func keyIdem(idemKey string) string       { return "px:idem:" + idemKey }

// NewRedisStore parses cfg.URL and connects.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("jobstore: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	return &RedisStore{
		client:        client,
		maxActiveJobs: cfg.MaxActiveJobs,
		maxRetries:    cfg.SegmentMaxRetries,
		staleAfter:    time.Duration(cfg.SegmentStaleSeconds) * time.Second,
		jobsTTL:       time.Duration(cfg.JobsTTLSeconds) * time.Second,
		idemTTL:       time.Duration(cfg.JobsTTLSeconds) * time.Second,
	}, nil
}

func (r *RedisStore) saveJob(ctx context.Context, job *types.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobstore: marshal job: %w", err)
	}
	return r.client.Set(ctx, keyJob(job.ID), data, r.jobsTTL).Err()
}

func (r *RedisStore) loadJob(ctx context.Context, jobID string) (*types.Job, error) {
	data, err := r.client.Get(ctx, keyJob(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: get job: %w", err)
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("jobstore: unmarshal job: %w", err)
	}
	return &job, nil
}

func (r *RedisStore) SubmitJob(ctx context.Context, job *types.Job) error {
	if r.maxActiveJobs > 0 {
		active, err := r.client.Get(ctx, keyActiveJobs).Int()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("jobstore: read active_jobs: %w", err)
		}
		if active >= r.maxActiveJobs {
			return ErrNoActiveJobCapacity
		}
	}

	if err := r.saveJob(ctx, job); err != nil {
		return err
	}
	if err := r.client.RPush(ctx, keyQueueJobs, job.ID).Err(); err != nil {
		return fmt.Errorf("jobstore: rpush queue: %w", err)
	}
	if err := r.client.Incr(ctx, keyActiveJobs).Err(); err != nil {
		return fmt.Errorf("jobstore: incr active_jobs: %w", err)
	}
	if job.IdempotencyKey != "" {
		r.client.Set(ctx, keyIdem(job.IdempotencyKey), job.ID, r.idemTTL)
	}
	return nil
}

func (r *RedisStore) LookupIdempotencyKey(ctx context.Context, key string) (string, bool) {
	jobID, err := r.client.Get(ctx, keyIdem(key)).Result()
	if err != nil {
		return "", false
	}
	return jobID, true
}

func (r *RedisStore) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	return r.loadJob(ctx, jobID)
}

// ClaimNextSegment blocking-pops a job ID (BLPOP), then runs the
// claim/commit CAS loop under WATCH/MULTI/EXEC against that job's
// record, retrying on a concurrent writer.
func (r *RedisStore) ClaimNextSegment(ctx context.Context, workerID string) (*ClaimedSegment, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		res, err := r.client.BLPop(ctx, pollInterval*5, keyQueueJobs).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("jobstore: blpop: %w", err)
		}
		jobID := res[1]

		claim, requeue, tail, err := r.tryClaimFromJob(ctx, jobID, workerID)
		if err != nil {
			if err == redis.TxFailedErr {
				// A concurrent writer changed the job record; put the job
				// back at the head so the claim is retried.
				r.client.LPush(ctx, keyQueueJobs, jobID)
			}
			continue
		}
		if requeue {
			if tail {
				r.client.RPush(ctx, keyQueueJobs, jobID)
			} else {
				r.client.LPush(ctx, keyQueueJobs, jobID)
			}
		}
		if claim != nil {
			return claim, nil
		}
	}
}

func (r *RedisStore) tryClaimFromJob(ctx context.Context, jobID, workerID string) (claim *ClaimedSegment, requeue bool, tail bool, err error) {
	jobKey := keyJob(jobID)

	txErr := r.client.Watch(ctx, func(tx *redis.Tx) error {
		job, err := r.loadJob(ctx, jobID)
		if err != nil {
			return err
		}

		if job.Status == "canceled" {
			claim, requeue, tail = nil, false, true
			return nil
		}

		now := time.Now()
		allTerminal := true
		claimed := false
		for _, seg := range job.Segments {
			switch seg.Status {
			case "ready", "error", "canceled":
				continue
			case "queued":
				allTerminal = false
				r.claimSegment(seg, workerID, now, job)
				claimed = true
			case "in_progress":
				allTerminal = false
				if now.Sub(seg.ClaimedAt) > r.staleAfter {
					r.claimSegment(seg, workerID, now, job)
					claimed = true
				}
			default:
				allTerminal = false
			}
			if claimed {
				claim = &ClaimedSegment{Job: cloneJob(job), Segment: cloneSegment(seg), Epoch: seg.ClaimEpoch}
				break
			}
		}

		if !claimed && allTerminal {
			r.finalizeJob(job)
		}

		_, execErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(job)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, jobKey, data, r.jobsTTL)
			if !claimed && allTerminal && job.Status != "canceled" {
				pipe.Decr(ctx, keyActiveJobs)
			}
			return nil
		})
		if execErr != nil {
			return execErr
		}

		requeue = !allTerminal
		tail = true
		return nil
	}, jobKey)

	if txErr != nil {
		return nil, false, false, txErr
	}
	return claim, requeue, tail, nil
}

func (r *RedisStore) claimSegment(seg *types.Segment, workerID string, now time.Time, job *types.Job) {
	seg.Status = "in_progress"
	seg.ClaimOwner = workerID
	seg.ClaimedAt = now
	seg.ClaimEpoch++
	if job.Status == "queued" {
		job.Status = "running"
	}
}

func (r *RedisStore) finalizeJob(job *types.Job) {
	hasError := false
	for _, seg := range job.Segments {
		if seg.Status == "error" {
			hasError = true
		}
	}
	if hasError {
		job.Status = "complete_with_errors"
	} else {
		job.Status = "complete"
	}
}

func (r *RedisStore) mutateSegment(ctx context.Context, jobID, segmentID string, mutate func(job *types.Job, seg *types.Segment) error) error {
	jobKey := keyJob(jobID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		job, err := r.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		var seg *types.Segment
		for _, s := range job.Segments {
			if s.ID == segmentID {
				seg = s
				break
			}
		}
		if seg == nil {
			return ErrNotFound
		}
		if err := mutate(job, seg); err != nil {
			return err
		}
		_, execErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(job)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, jobKey, data, r.jobsTTL)
			return nil
		})
		return execErr
	}, jobKey)
}

func (r *RedisStore) CompleteSegment(ctx context.Context, jobID, segmentID string, epoch int64, result SegmentResult) error {
	var outcome error
	err := r.mutateSegment(ctx, jobID, segmentID, func(job *types.Job, seg *types.Segment) error {
		if seg.ClaimEpoch != epoch {
			outcome = ErrClaimLost
			return nil
		}
		if job.Status == "canceled" {
			seg.Status = "canceled"
			seg.ClaimOwner = ""
			outcome = ErrJobCanceled
			return nil
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
		job.SegmentsReady++
		updateProgress(job)

		allTerminal := true
		for _, s := range job.Segments {
			if s.Status != "ready" && s.Status != "error" && s.Status != "canceled" {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			r.finalizeJob(job)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}

func (r *RedisStore) FailSegment(ctx context.Context, jobID, segmentID string, epoch int64, errorCode, errorMessage string) error {
	var outcome error
	var requeueHead bool
	err := r.mutateSegment(ctx, jobID, segmentID, func(job *types.Job, seg *types.Segment) error {
		if seg.ClaimEpoch != epoch {
			outcome = ErrClaimLost
			return nil
		}
		seg.Attempts++
		if seg.Attempts > retryLimitFor(errorCode, r.maxRetries) {
			seg.Status = "error"
			seg.ErrorCode = terminalErrorCodeFor(errorCode)
			seg.ErrorMessage = fmt.Sprintf("%s (last: %s)", errorCode, errorMessage)
			seg.ClaimOwner = ""
			job.SegmentsError++
			updateProgress(job)
			return nil
		}
		seg.Status = "queued"
		seg.ClaimOwner = ""
		requeueHead = true
		return nil
	})
	if err != nil {
		return err
	}
	if outcome == nil {
		r.client.Incr(ctx, "px:retry_count:"+errorCode)
	}
	if requeueHead {
		r.client.LPush(ctx, keyQueueJobs, jobID)
	}
	return outcome
}

func (r *RedisStore) ReleaseSegment(ctx context.Context, jobID, segmentID string, epoch int64) error {
	var outcome error
	err := r.mutateSegment(ctx, jobID, segmentID, func(job *types.Job, seg *types.Segment) error {
		if seg.ClaimEpoch != epoch {
			outcome = ErrClaimLost
			return nil
		}
		seg.Status = "canceled"
		seg.ClaimOwner = ""
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}

func (r *RedisStore) CancelJob(ctx context.Context, jobID string) error {
	jobKey := keyJob(jobID)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		job, err := r.loadJob(ctx, jobID)
		if err != nil {
			return err
		}
		wasTerminal := job.Status == "complete" || job.Status == "complete_with_errors" || job.Status == "canceled" || job.Status == "failed"
		job.Status = "canceled"
		_, execErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			data, merr := json.Marshal(job)
			if merr != nil {
				return merr
			}
			pipe.Set(ctx, jobKey, data, r.jobsTTL)
			if !wasTerminal {
				pipe.Decr(ctx, keyActiveJobs)
			}
			return nil
		})
		return execErr
	}, jobKey)
}

func (r *RedisStore) Heartbeat(ctx context.Context, workerID string) error {
	return r.client.Set(ctx, keyHeartbeat(workerID), time.Now().Format(time.RFC3339), 30*time.Second).Err()
}

func (r *RedisStore) AcquireMergeLock(ctx context.Context, jobID string, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := r.client.SetNX(ctx, keyMergeLock(jobID), "1", 60*time.Second).Result()
		if err != nil {
			return false, fmt.Errorf("jobstore: merge lock setnx: %w", err)
		}
		if ok {
			return true, nil
		}
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

func (r *RedisStore) ReleaseMergeLock(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, keyMergeLock(jobID)).Err()
}

func (r *RedisStore) StatusSnapshot(ctx context.Context) (StatusSnapshot, error) {
	queueLen, err := r.client.LLen(ctx, keyQueueJobs).Result()
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("jobstore: llen: %w", err)
	}
	active, err := r.client.Get(ctx, keyActiveJobs).Int()
	if err != nil && err != redis.Nil {
		return StatusSnapshot{}, fmt.Errorf("jobstore: get active_jobs: %w", err)
	}

	workerKeys, err := r.client.Keys(ctx, "px:worker:heartbeat:*").Result()
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("jobstore: keys heartbeat: %w", err)
	}

	retryKeys, err := r.client.Keys(ctx, "px:retry_count:*").Result()
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("jobstore: keys retry_count: %w", err)
	}
	retryCounts := make(map[string]int, len(retryKeys))
	for _, k := range retryKeys {
		n, _ := r.client.Get(ctx, k).Int()
		retryCounts[k[len("px:retry_count:"):]] = n
	}

	return StatusSnapshot{
		WorkersOnline:      len(workerKeys),
		QueueLen:           int(queueLen),
		ActiveJobs:         active,
		RetryCounts:        retryCounts,
		FallbackModelUsage: map[string]int{},
	}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

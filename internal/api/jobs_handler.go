package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/unalkalkan/pronounce/internal/cache"
	"github.com/unalkalkan/pronounce/internal/chunk"
	"github.com/unalkalkan/pronounce/internal/jobstore"
	"github.com/unalkalkan/pronounce/internal/merge"
	"github.com/unalkalkan/pronounce/pkg/types"
)

// admitRequest is the POST /v1/tts/jobs request body.
type admitRequest struct {
	Text            string              `json:"text"`
	ModelID         string              `json:"model_id"`
	VoiceID         string              `json:"voice_id"`
	ReadingProfile  *types.ReadingProfile `json:"reading_profile"`
	PreferPhonemes  bool                `json:"prefer_phonemes"`
	ClientID        string              `json:"client_id"`
	IdempotencyKey  string              `json:"idempotency_key"`
}

// AdmitJob handles POST /v1/tts/jobs: validates, normalizes, chunks,
// resolves+fingerprints+cache-checks every segment up front (spec.md's
// data-flow: "per-segment { resolve → fingerprint → cache lookup →
// enqueue if miss }"), and submits the job.
func (h *Handler) AdmitJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req admitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "bad_request", "invalid request body", http.StatusBadRequest)
		return
	}

	if !h.allow(req.ClientID) {
		respondError(w, "rate_limited", "too many requests", http.StatusTooManyRequests)
		return
	}

	if req.Text == "" {
		respondError(w, "bad_request", "text is required", http.StatusBadRequest)
		return
	}
	if h.jobsCfg.MaxTextChars > 0 && len([]rune(req.Text)) > h.jobsCfg.MaxTextChars {
		respondError(w, "text_too_long", "text exceeds max_text_chars", http.StatusRequestEntityTooLarge)
		return
	}
	if req.ModelID == "" {
		respondError(w, "bad_request", "model_id is required", http.StatusBadRequest)
		return
	}
	if !h.modelAllowed(req.ModelID) {
		respondError(w, "model_not_allowed", fmt.Sprintf("model %q is not in the allowlist", req.ModelID), http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if req.IdempotencyKey != "" {
		if existingID, ok := h.jobs.LookupIdempotencyKey(ctx, req.IdempotencyKey); ok {
			if job, err := h.jobs.GetJob(ctx, existingID); err == nil {
				respondJSON(w, manifestFromJob(job), http.StatusOK)
				return
			}
		}
	}

	profile := types.DefaultReadingProfile()
	if req.ReadingProfile != nil {
		profile = *req.ReadingProfile
	}

	normalized := normalizedText(req.Text, profile)
	pieces := chunk.Split(normalized, h.chunkCfg)
	if h.jobsCfg.MinSegmentChars > 0 {
		pieces = chunk.MergeShort(pieces, h.jobsCfg.MinSegmentChars)
	}
	if len(pieces) == 0 {
		respondError(w, "bad_request", "text produced no segments", http.StatusBadRequest)
		return
	}
	if h.jobsCfg.MaxSegments > 0 && len(pieces) > h.jobsCfg.MaxSegments {
		respondError(w, "too_many_segments", "text exceeds max_segments once chunked", http.StatusRequestEntityTooLarge)
		return
	}

	jobID := newJobID()
	packVersions := h.dict.Versions()

	segments := make([]*types.Segment, len(pieces))
	for i, text := range pieces {
		seg := &types.Segment{
			ID:     newSegmentID(jobID, i),
			JobID:  jobID,
			Index:  i,
			Text:   text,
			Status: "queued",
		}

		// Resolution is best-effort at admission time (only previews the
		// manifest's resolved phonemes and primes the fingerprint); an
		// unavailable phonemizer fallback is re-checked and surfaced as a
		// terminal segment error when the worker actually synthesizes it.
		resolved, _ := h.resolver.Resolve(ctx, text, req.PreferPhonemes)
		seg.ResolvedPhonemes = resolved.Phonemes
		seg.UsedPhonemes = resolved.UsedPhonemes
		seg.ResolveSourceCounts = resolved.SourceCounts

		key := cache.Fingerprint(text, req.ModelID, req.VoiceID, packVersions, profile, h.compilerVersion, h.phonemeMode)
		seg.Fingerprint = key

		if h.cache != nil {
			if _, found, err := h.cache.Get(ctx, key); err == nil && found {
				seg.Status = "ready"
				seg.Path = key
				if h.metrics != nil {
					h.metrics.CacheHits.Inc()
				}
			} else if h.metrics != nil {
				h.metrics.CacheMisses.Inc()
			}
		}

		segments[i] = seg
	}

	job := &types.Job{
		ID:             jobID,
		ClientID:       req.ClientID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
		Status:         "queued",
		Segments:       segments,
		ModelID:        req.ModelID,
		VoiceID:        req.VoiceID,
		ReadingProfile: profile,
		PackVersions:   packVersions,
		PreferPhonemes: req.PreferPhonemes,
		SegmentsTotal:  len(segments),
	}

	if err := h.jobs.SubmitJob(ctx, job); err != nil {
		if errors.Is(err, jobstore.ErrNoActiveJobCapacity) {
			respondError(w, "capacity_exceeded", "too many active jobs", http.StatusServiceUnavailable)
			return
		}
		respondError(w, "internal", "failed to submit job", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.JobsAdmitted.Inc()
	}

	respondJSON(w, manifestFromJob(job), http.StatusCreated)
}

func (h *Handler) modelAllowed(modelID string) bool {
	if len(h.modelList) == 0 {
		return true
	}
	for _, m := range h.modelList {
		if m == modelID {
			return true
		}
	}
	return false
}

func manifestFromJob(job *types.Job) types.JobManifest {
	return types.JobManifest{JobID: job.ID, Status: job.Status, Segments: job.Segments}
}

// GetJob handles GET /v1/tts/jobs/{job_id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := jobIDFromPath(r.URL.Path, "/v1/tts/jobs/")
	if jobID == "" {
		respondError(w, "bad_request", "job id required", http.StatusBadRequest)
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		respondError(w, "not_found", "job not found", http.StatusNotFound)
		return
	}
	respondJSON(w, manifestFromJob(job), http.StatusOK)
}

// CancelJob handles DELETE /v1/tts/jobs/{job_id}.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := jobIDFromPath(r.URL.Path, "/v1/tts/jobs/")
	if jobID == "" {
		respondError(w, "bad_request", "job id required", http.StatusBadRequest)
		return
	}
	if err := h.jobs.CancelJob(r.Context(), jobID); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			respondError(w, "not_found", "job not found", http.StatusNotFound)
			return
		}
		respondError(w, "internal", "failed to cancel job", http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.JobsCanceled.Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelJobPost handles POST /v1/tts/jobs/{job_id}/cancel, the spec's
// documented cancellation endpoint (DELETE above does the same work for
// clients that prefer that verb, returning 204 instead).
func (h *Handler) CancelJobPost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := jobIDFromPath(r.URL.Path, "/v1/tts/jobs/")
	if jobID == "" {
		respondError(w, "bad_request", "job id required", http.StatusBadRequest)
		return
	}
	if err := h.jobs.CancelJob(r.Context(), jobID); err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			respondError(w, "not_found", "job not found", http.StatusNotFound)
			return
		}
		respondError(w, "internal", "failed to cancel job", http.StatusInternalServerError)
		return
	}
	if h.metrics != nil {
		h.metrics.JobsCanceled.Inc()
	}
	respondJSON(w, map[string]string{"status": "canceled"}, http.StatusOK)
}

// SegmentAudio handles GET /v1/tts/jobs/{job_id}/segments/{segment_id}/audio.ogg,
// serving with Range support via net/http.ServeContent.
func (h *Handler) SegmentAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := jobIDFromPath(r.URL.Path, "/v1/tts/jobs/")
	segmentID := segmentIDFromPath(r.URL.Path)
	if jobID == "" || segmentID == "" {
		respondError(w, "bad_request", "job id and segment id required", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		respondError(w, "not_found", "job not found", http.StatusNotFound)
		return
	}

	var seg *types.Segment
	for _, s := range job.Segments {
		if s.ID == segmentID {
			seg = s
			break
		}
	}
	if seg == nil {
		respondError(w, "not_found", "segment not found", http.StatusNotFound)
		return
	}
	if seg.Status != "ready" {
		respondJSON(w, map[string]string{"status": seg.Status, "error_code": seg.ErrorCode}, http.StatusAccepted)
		return
	}

	audio, found, err := h.cache.Get(r.Context(), seg.Fingerprint)
	if err != nil || !found {
		respondError(w, "not_found", "segment audio not found in cache", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "audio/ogg")
	http.ServeContent(w, r, segmentID+".ogg", job.CreatedAt, bytes.NewReader(audio))
}

// Playlist handles GET /v1/tts/jobs/{job_id}/playlist.json.
func (h *Handler) Playlist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := jobIDFromPath(r.URL.Path, "/v1/tts/jobs/")
	if jobID == "" {
		respondError(w, "bad_request", "job id required", http.StatusBadRequest)
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		respondError(w, "not_found", "job not found", http.StatusNotFound)
		return
	}

	entries := make([]types.PlaylistEntry, len(job.Segments))
	for i, seg := range job.Segments {
		url := fmt.Sprintf("/v1/tts/jobs/%s/segments/%s/audio.ogg", jobID, seg.ID)
		entry := types.PlaylistEntry{
			SegmentID:  seg.ID,
			Index:      seg.Index,
			Status:     seg.Status,
			URLProxy:   url,
			URLBackend: url,
			URLBest:    url,
			ErrorCode:  seg.ErrorCode,
		}
		if seg.Status != "ready" && seg.Status != "error" {
			entry.RetryAfterMs = 1000
		}
		entries[i] = entry
	}
	respondJSON(w, entries, http.StatusOK)
}

// MergedAudio handles GET /v1/tts/jobs/{job_id}/audio.ogg: 200 with the
// merged stream once the job is complete or complete_with_errors, 202 with
// progress JSON and a Retry-After header for any other status (including
// canceled and failed).
func (h *Handler) MergedAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := jobIDFromPath(r.URL.Path, "/v1/tts/jobs/")
	if jobID == "" {
		respondError(w, "bad_request", "job id required", http.StatusBadRequest)
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		respondError(w, "not_found", "job not found", http.StatusNotFound)
		return
	}

	if job.Status != "complete" && job.Status != "complete_with_errors" {
		w.Header().Set("Retry-After", "1")
		respondJSON(w, types.MergeProgress{
			JobID:         job.ID,
			Status:        job.Status,
			ProgressPct:   job.ProgressPct,
			SegmentsTotal: job.SegmentsTotal,
			SegmentsReady: job.SegmentsReady,
		}, http.StatusAccepted)
		return
	}

	lockWait := time.Duration(h.jobsCfg.MergeLockWaitSeconds) * time.Second
	if lockWait <= 0 {
		lockWait = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), lockWait+5*time.Second)
	defer cancel()

	data, err := h.merger.Merge(ctx, job, lockWait)
	if err != nil {
		if errors.Is(err, merge.ErrLockTimeout) {
			if h.metrics != nil {
				h.metrics.MergeLockWaits.Inc()
			}
			respondError(w, "merge.lock_timeout", "timed out waiting for the merge lock", http.StatusServiceUnavailable)
			return
		}
		respondError(w, "merge_failed", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/ogg")
	http.ServeContent(w, r, jobID+".ogg", job.CreatedAt, bytes.NewReader(data))
}

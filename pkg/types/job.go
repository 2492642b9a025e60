package types

import "time"

// Job represents a long-form TTS synthesis job submitted by a client.
type Job struct {
	ID              string          `json:"id"`
	ClientID        string          `json:"client_id,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Status          string          `json:"status"` // queued, running, complete, complete_with_errors, canceled, failed
	Segments        []*Segment      `json:"segments"`
	ModelID         string          `json:"model_id"`
	VoiceID         string          `json:"voice_id,omitempty"`
	ReadingProfile  ReadingProfile  `json:"reading_profile"`
	PackVersions    []PackVersion   `json:"dict_pack_versions"`
	PreferPhonemes  bool            `json:"prefer_phonemes"`
	ProgressPct     float64         `json:"progress_pct"`
	SegmentsTotal   int             `json:"segments_total"`
	SegmentsReady   int             `json:"segments_ready"`
	SegmentsError   int             `json:"segments_error"`
}

// PackVersion snapshots a dictionary pack's version at job admission.
type PackVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ReadingProfile enumerates the synthesis-shaping options that participate
// in a segment's cache fingerprint.
type ReadingProfile struct {
	Rate        float64 `json:"rate"`         // [0.8, 1.2], default 1.0
	PauseScale  float64 `json:"pause_scale"`  // [0.8, 1.3], default 1.0
	QuoteMode   string  `json:"quote_mode"`   // "normal" | "tight"
	AcronymMode string  `json:"acronym_mode"` // "off" | "spell"
	NumberMode  string  `json:"number_mode"`  // "cardinal" | "ordinal" | "year"
}

// DefaultReadingProfile returns the spec's default reading profile.
func DefaultReadingProfile() ReadingProfile {
	return ReadingProfile{
		Rate:        1.0,
		PauseScale:  1.0,
		QuoteMode:   "normal",
		AcronymMode: "off",
		NumberMode:  "cardinal",
	}
}

// Segment is a unit of synthesis: a contiguous, ordered piece of a job's
// text synthesized into one audio file.
type Segment struct {
	ID                  string            `json:"segment_id"`
	JobID               string            `json:"job_id"`
	Index               int               `json:"index"`
	Text                string            `json:"text"`
	Status              string            `json:"status"` // queued, in_progress, ready, error, canceled
	Fingerprint         string            `json:"cache_key"`
	Path                string            `json:"path,omitempty"`
	ErrorCode           string            `json:"error_code,omitempty"`
	ErrorMessage        string            `json:"error,omitempty"`
	ResolvedPhonemes    string            `json:"resolved_phonemes,omitempty"`
	UsedPhonemes        bool              `json:"used_phonemes"`
	ResolveSourceCounts map[string]int    `json:"resolve_source_counts,omitempty"`
	TimingSynthMs       int64             `json:"timing_synth_ms,omitempty"`
	TimingEncodeMs      int64             `json:"timing_encode_ms,omitempty"`
	Attempts            int               `json:"attempts"`
	ClaimedAt           time.Time         `json:"claimed_at,omitempty"`
	ClaimOwner          string            `json:"claim_owner,omitempty"`
	ClaimEpoch          int64             `json:"-"`
}

// JobManifest is the admission response and the GET /v1/tts/jobs/{id} body.
type JobManifest struct {
	JobID    string     `json:"job_id"`
	Status   string     `json:"status"`
	Segments []*Segment `json:"segments"`
}

// PlaylistEntry is one row of GET /v1/tts/jobs/{id}/playlist.json.
type PlaylistEntry struct {
	SegmentID     string `json:"segment_id"`
	Index         int    `json:"index"`
	Status        string `json:"status"`
	URLProxy      string `json:"url_proxy"`
	URLBackend    string `json:"url_backend"`
	URLBest       string `json:"url_best"`
	RetryAfterMs  int    `json:"retry_after_ms,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
}

// MergeProgress is the 202 body returned by GET .../audio.ogg while a job
// is not yet terminal-complete.
type MergeProgress struct {
	JobID         string  `json:"job_id"`
	Status        string  `json:"status"`
	ProgressPct   float64 `json:"progress_pct"`
	SegmentsTotal int     `json:"segments_total"`
	SegmentsReady int     `json:"segments_ready"`
}

// Package api implements the HTTP surface spec.md §6 describes: job
// admission/cancellation/retrieval, segment/playlist/merged-audio
// delivery, and the dictionary pack endpoints. Grounded in the teacher's
// internal/api/book_handler.go (a handler struct wrapping every
// collaborator service, dispatched by http.ServeMux path-suffix closures
// from cmd/server/main.go) and internal/health/handler.go's
// respondJSON-style helpers, rebuilt around jobs/segments/playlist/merge
// instead of books/chapters/segments.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/google/uuid"

	"github.com/unalkalkan/pronounce/internal/cache"
	"github.com/unalkalkan/pronounce/internal/chunk"
	"github.com/unalkalkan/pronounce/internal/dict"
	"github.com/unalkalkan/pronounce/internal/jobstore"
	"github.com/unalkalkan/pronounce/internal/merge"
	"github.com/unalkalkan/pronounce/internal/normalize"
	"github.com/unalkalkan/pronounce/internal/observe"
	"github.com/unalkalkan/pronounce/internal/provider"
	"github.com/unalkalkan/pronounce/internal/resolve"
	"github.com/unalkalkan/pronounce/pkg/types"
)

// Handler wires every collaborator the job-admission/playback surface
// needs, mirroring BookHandler's shape.
type Handler struct {
	jobsCfg   types.JobsConfig
	chunkCfg  chunk.Config
	modelList []string // empty means any registered synthesizer is allowed

	compilerVersion string
	phonemeMode     string

	dict      *dict.Store
	resolver  *resolve.Resolver
	cache     *cache.Store
	jobs      jobstore.Store
	merger    *merge.Merger
	registry  *provider.Registry
	metrics   *observe.Metrics
	codecName string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// Config bundles the dependencies NewHandler needs, to keep its
// signature from growing one parameter per collaborator.
type Config struct {
	JobsConfig      types.JobsConfig
	ChunkConfig     chunk.Config
	ModelAllowlist  []string
	CompilerVersion string
	PhonemeMode     string
	Dict            *dict.Store
	Resolver       *resolve.Resolver
	Cache          *cache.Store
	Jobs           jobstore.Store
	Merger         *merge.Merger
	Registry       *provider.Registry
	Metrics        *observe.Metrics
	CodecName      string
}

// NewHandler builds a Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		jobsCfg:         cfg.JobsConfig,
		chunkCfg:        cfg.ChunkConfig,
		modelList:       cfg.ModelAllowlist,
		compilerVersion: cfg.CompilerVersion,
		phonemeMode:     cfg.PhonemeMode,
		dict:      cfg.Dict,
		resolver:  cfg.Resolver,
		cache:     cfg.Cache,
		jobs:      cfg.Jobs,
		merger:    cfg.Merger,
		registry:  cfg.Registry,
		metrics:   cfg.Metrics,
		codecName: cfg.CodecName,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// RegisterRoutes wires every endpoint this package serves onto mux,
// following the teacher's suffix-dispatch closure idiom from
// cmd/server/main.go's "/api/v1/books/" registration.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/models", h.ListModels)

	mux.HandleFunc("/v1/dicts", h.ListDicts)
	mux.HandleFunc("/v1/dicts/lookup", h.LookupDict)
	mux.HandleFunc("/v1/dicts/learn", h.LearnDict)
	mux.HandleFunc("/v1/dicts/override", h.OverrideDict)
	mux.HandleFunc("/v1/dicts/promote", h.PromoteDict)
	mux.HandleFunc("/v1/dicts/upload", h.UploadDict)
	mux.HandleFunc("/v1/dicts/compile", h.CompileDict)

	mux.HandleFunc("/v1/tts/jobs", h.AdmitJob)
	mux.HandleFunc("/v1/tts/jobs/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/playlist.json"):
			h.Playlist(w, r)
		case strings.HasSuffix(path, "/audio.ogg") && strings.Contains(path, "/segments/"):
			h.SegmentAudio(w, r)
		case strings.HasSuffix(path, "/audio.ogg"):
			h.MergedAudio(w, r)
		case strings.HasSuffix(path, "/cancel"):
			h.CancelJobPost(w, r)
		case r.Method == http.MethodDelete:
			h.CancelJob(w, r)
		default:
			h.GetJob(w, r)
		}
	})
}

// jobIDFromPath extracts the {job_id} path segment immediately following
// prefix, exactly as the teacher's extractIDFromPath does for book IDs.
func jobIDFromPath(path, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}

// segmentIDFromPath extracts {segment_id} from
// .../jobs/{job_id}/segments/{segment_id}/audio.ogg.
func segmentIDFromPath(path string) string {
	parts := strings.Split(path, "/segments/")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSuffix(parts[1], "/audio.ogg")
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error_code": code, "error": message})
}

// allow applies the per-client token bucket spec.md §4.5's backpressure
// section names, keyed by client_id (requests that carry none share a
// single "anonymous" bucket).
func (h *Handler) allow(clientID string) bool {
	if h.jobsCfg.RateLimitPerMin <= 0 {
		return true
	}
	if clientID == "" {
		clientID = "anonymous"
	}

	h.limiterMu.Lock()
	lim, ok := h.limiters[clientID]
	if !ok {
		perSec := rate.Limit(float64(h.jobsCfg.RateLimitPerMin) / 60.0)
		burst := h.jobsCfg.RateLimitPerMin / 6
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(perSec, burst)
		h.limiters[clientID] = lim
	}
	h.limiterMu.Unlock()

	return lim.Allow()
}

func newJobID() string {
	return "job_" + uuid.NewString()
}

func newSegmentID(jobID string, index int) string {
	return fmt.Sprintf("%s_seg_%04d", jobID, index)
}

// normalizedText is a small package-local alias kept for readability at
// call sites; it is exactly normalize.Text's return value.
func normalizedText(text string, profile types.ReadingProfile) string {
	return normalize.Text(text, profile)
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/unalkalkan/pronounce/internal/cache"
	"github.com/unalkalkan/pronounce/internal/chunk"
	"github.com/unalkalkan/pronounce/internal/dict"
	"github.com/unalkalkan/pronounce/internal/jobstore"
	"github.com/unalkalkan/pronounce/internal/merge"
	"github.com/unalkalkan/pronounce/internal/provider"
	"github.com/unalkalkan/pronounce/internal/resolve"
	"github.com/unalkalkan/pronounce/internal/storage"
	"github.com/unalkalkan/pronounce/internal/worker"
	"github.com/unalkalkan/pronounce/pkg/types"
)

func newTestHandler(t *testing.T) (*Handler, jobstore.Store, *worker.Pool) {
	t.Helper()

	dictStore, err := dict.NewStore(types.ResolverConfig{DictDir: t.TempDir(), AutolearnMinLen: 2})
	if err != nil {
		t.Fatalf("dict.NewStore: %v", err)
	}
	resolver := resolve.New(dictStore, provider.NewStubPhonemizer(types.PhonemizerConfig{Name: "stub-phonemizer"}))

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

	registry := provider.NewRegistry()
	registry.RegisterSynthesizer(provider.NewStubSynthesizer(types.TTSProviderConfig{Name: "stub-model"}))
	codec, err := provider.NewOpusCodec(types.CodecConfig{})
	if err != nil {
		t.Fatalf("NewOpusCodec: %v", err)
	}
	registry.RegisterCodec(codec)

	merger := merge.New(cacheStore, adapter, store, codec)

	pool, err := worker.NewPool(store, registry, resolver, cacheStore, "opus", worker.Config{JobWorkers: 1})
	if err != nil {
		t.Fatalf("worker.NewPool: %v", err)
	}

	h := NewHandler(Config{
		JobsConfig: types.JobsConfig{
			MaxTextChars:         10000,
			MaxSegments:          50,
			MinSegmentChars:      0,
			MergeLockWaitSeconds: 5,
		},
		ChunkConfig: chunk.Config{TargetChars: 200, MaxChars: 400},
		Dict:        dictStore,
		Resolver:    resolver,
		Cache:       cacheStore,
		Jobs:        store,
		Merger:      merger,
		Registry:    registry,
		CodecName:   "opus",
	})

	return h, store, pool
}

func doJSON(h http.HandlerFunc, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestAdmitAndGetJob(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rr := doJSON(h.AdmitJob, http.MethodPost, "/v1/tts/jobs", admitRequest{
		Text:    "Hello there. Wait, what? Something else entirely.",
		ModelID: "stub-model",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var manifest types.JobManifest
	if err := json.NewDecoder(rr.Body).Decode(&manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.JobID == "" {
		t.Fatal("expected non-empty job id")
	}
	if len(manifest.Segments) == 0 {
		t.Fatal("expected at least one segment")
	}

	getRR := doJSON(h.GetJob, http.MethodGet, "/v1/tts/jobs/"+manifest.JobID, nil)
	if getRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRR.Code)
	}
}

func TestCancelJobPostReturns200(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rr := doJSON(h.AdmitJob, http.MethodPost, "/v1/tts/jobs", admitRequest{
		Text:    "Hello there.",
		ModelID: "stub-model",
	})
	var manifest types.JobManifest
	json.NewDecoder(rr.Body).Decode(&manifest)

	cancelRR := doJSON(h.CancelJobPost, http.MethodPost, "/v1/tts/jobs/"+manifest.JobID+"/cancel", nil)
	if cancelRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", cancelRR.Code, cancelRR.Body.String())
	}
}

func TestAdmitRejectsDisallowedModel(t *testing.T) {
	h, _, _ := newTestHandler(t)
	h.modelList = []string{"other-model"}

	rr := doJSON(h.AdmitJob, http.MethodPost, "/v1/tts/jobs", admitRequest{
		Text:    "hello",
		ModelID: "stub-model",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestMergedAudioReturnsProgressUntilComplete(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rr := doJSON(h.AdmitJob, http.MethodPost, "/v1/tts/jobs", admitRequest{
		Text:    "Hello there.",
		ModelID: "stub-model",
	})
	var manifest types.JobManifest
	json.NewDecoder(rr.Body).Decode(&manifest)

	audioRR := doJSON(h.MergedAudio, http.MethodGet, "/v1/tts/jobs/"+manifest.JobID+"/audio.ogg", nil)
	if audioRR.Code != http.StatusAccepted {
		t.Fatalf("expected 202 before synthesis, got %d", audioRR.Code)
	}
}

func TestPlaylistListsSegmentsInOrder(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rr := doJSON(h.AdmitJob, http.MethodPost, "/v1/tts/jobs", admitRequest{
		Text:    "Hello there. Wait, what? Something else entirely here, more text to split.",
		ModelID: "stub-model",
	})
	var manifest types.JobManifest
	json.NewDecoder(rr.Body).Decode(&manifest)

	plRR := doJSON(h.Playlist, http.MethodGet, "/v1/tts/jobs/"+manifest.JobID+"/playlist.json", nil)
	if plRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", plRR.Code)
	}
	var entries []types.PlaylistEntry
	if err := json.NewDecoder(plRR.Body).Decode(&entries); err != nil {
		t.Fatalf("decode playlist: %v", err)
	}
	for i, e := range entries {
		if e.Index != i {
			t.Errorf("expected entry %d to have index %d, got %d", i, i, e.Index)
		}
	}
}

func TestDictsLearnAndLookup(t *testing.T) {
	h, _, _ := newTestHandler(t)

	learnRR := doJSON(h.LearnDict, http.MethodPost, "/v1/dicts/learn", learnRequest{Key: "hello"})
	if learnRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", learnRR.Code, learnRR.Body.String())
	}
	var learned learnResponse
	if err := json.NewDecoder(learnRR.Body).Decode(&learned); err != nil {
		t.Fatalf("decode learn response: %v", err)
	}
	if learned.Phonemes == "" {
		t.Fatal("expected resolved phonemes in the learn response")
	}

	lookupRR := doJSON(h.LookupDict, http.MethodGet, "/v1/dicts/lookup?key=hello", nil)
	if lookupRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", lookupRR.Code)
	}
}

func TestDictsLearnAcceptsMultiWordPhrase(t *testing.T) {
	h, _, _ := newTestHandler(t)

	learnRR := doJSON(h.LearnDict, http.MethodPost, "/v1/dicts/learn", learnRequest{Key: "good morning"})
	if learnRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", learnRR.Code, learnRR.Body.String())
	}

	lookupRR := doJSON(h.LookupDict, http.MethodGet, "/v1/dicts/lookup?key=good+morning", nil)
	if lookupRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", lookupRR.Code, lookupRR.Body.String())
	}
}

func TestDictsUploadAndCompile(t *testing.T) {
	h, _, _ := newTestHandler(t)

	uploadRR := doJSON(h.UploadDict, http.MethodPost, "/v1/dicts/upload", uploadRequest{
		Name:    "batch1",
		Entries: map[string]string{"xyzzy": "z_i_z_i"},
	})
	if uploadRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", uploadRR.Code, uploadRR.Body.String())
	}

	lookupRR := doJSON(h.LookupDict, http.MethodGet, "/v1/dicts/lookup?key=xyzzy", nil)
	if lookupRR.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", lookupRR.Code)
	}

	compileRR := doJSON(h.CompileDict, http.MethodPost, "/v1/dicts/compile", nil)
	if compileRR.Code != http.StatusInternalServerError {
		t.Fatalf("expected compile to fail without a configured compiled_dir, got %d", compileRR.Code)
	}
}

package api

import (
	"net/http"
)

// ListDicts handles GET /v1/dicts.
func (h *Handler) ListDicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, h.dict.Summaries(), http.StatusOK)
}

// LookupDict handles GET /v1/dicts/lookup?key=....
func (h *Handler) LookupDict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		respondError(w, "bad_request", "key is required", http.StatusBadRequest)
		return
	}
	result, ok := h.dict.Lookup(key)
	if !ok {
		respondError(w, "not_found", "no pack defines that key", http.StatusNotFound)
		return
	}
	respondJSON(w, result, http.StatusOK)
}

type learnRequest struct {
	Key string `json:"key"`
}

type learnResponse struct {
	Key      string `json:"key"`
	Phonemes string `json:"phonemes"`
}

// LearnDict handles POST /v1/dicts/learn: the server resolves key itself
// (forcing the phonemizer fallback for any token the loaded packs miss)
// and persists the result into auto_learn, accepting multi-word phrases
// as well as single tokens.
func (h *Handler) LearnDict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req learnRequest
	if err := decodeJSON(r, &req); err != nil || req.Key == "" {
		respondError(w, "bad_request", "key is required", http.StatusBadRequest)
		return
	}

	resolved, err := h.resolver.Resolve(r.Context(), req.Key, true)
	if err != nil {
		respondError(w, "resolver_unavailable", err.Error(), http.StatusServiceUnavailable)
		return
	}
	if resolved.Phonemes == "" {
		respondError(w, "not_resolved", "resolver produced no phonemes for key", http.StatusUnprocessableEntity)
		return
	}
	if err := h.dict.LearnPhrase(req.Key, resolved.Phonemes); err != nil {
		respondError(w, "bad_request", err.Error(), http.StatusBadRequest)
		return
	}
	respondJSON(w, learnResponse{Key: req.Key, Phonemes: resolved.Phonemes}, http.StatusOK)
}

type uploadRequest struct {
	Name    string            `json:"name"`
	Entries map[string]string `json:"entries"`
}

// UploadDict handles POST /v1/dicts/upload, adding or updating entries in
// the top-priority local_overrides pack.
func (h *Handler) UploadDict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req uploadRequest
	if err := decodeJSON(r, &req); err != nil || req.Name == "" || len(req.Entries) == 0 {
		respondError(w, "bad_request", "name and entries are required", http.StatusBadRequest)
		return
	}
	if err := h.dict.Upload(req.Name, req.Entries); err != nil {
		respondError(w, "bad_request", err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CompileDict handles POST /v1/dicts/compile, flushing every loaded pack
// to compiled_dir in the on-disk wrapper shape.
func (h *Handler) CompileDict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	count, err := h.dict.Compile()
	if err != nil {
		respondError(w, "internal", err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]int{"packs_compiled": count}, http.StatusOK)
}

type overrideRequest struct {
	Key      string `json:"key"`
	Phonemes string `json:"phonemes"`
}

// OverrideDict handles POST /v1/dicts/override, writing directly into
// local_overrides, the top-priority pack.
func (h *Handler) OverrideDict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil || req.Key == "" || req.Phonemes == "" {
		respondError(w, "bad_request", "key and phonemes are required", http.StatusBadRequest)
		return
	}
	h.dict.Override(req.Key, req.Phonemes)
	w.WriteHeader(http.StatusNoContent)
}

type promoteRequest struct {
	Key string `json:"key"`
}

// PromoteDict handles POST /v1/dicts/promote, moving a vetted auto_learn
// entry into local_overrides.
func (h *Handler) PromoteDict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req promoteRequest
	if err := decodeJSON(r, &req); err != nil || req.Key == "" {
		respondError(w, "bad_request", "key is required", http.StatusBadRequest)
		return
	}
	if err := h.dict.Promote(req.Key); err != nil {
		respondError(w, "not_found", err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

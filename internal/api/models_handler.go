package api

import (
	"net/http"

	"github.com/unalkalkan/pronounce/internal/provider"
)

// modelInfo is one row of GET /v1/models.
type modelInfo struct {
	ModelID string           `json:"model_id"`
	Voices  []provider.Voice `json:"voices"`
}

// ListModels handles GET /v1/models: every registered Synthesizer,
// filtered by the configured model allowlist if one is set, with its
// voice list.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	names := h.registry.ListSynthesizers()
	models := make([]modelInfo, 0, len(names))

	for _, name := range names {
		if !h.modelAllowed(name) {
			continue
		}
		synth, err := h.registry.GetSynthesizer(name)
		if err != nil {
			continue
		}
		voices, err := synth.ListVoices(ctx)
		if err != nil {
			voices = nil
		}
		models = append(models, modelInfo{ModelID: name, Voices: voices})
	}

	respondJSON(w, models, http.StatusOK)
}

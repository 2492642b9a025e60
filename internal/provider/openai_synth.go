package provider

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/unalkalkan/pronounce/pkg/types"
)

// OpenAISynthesizer implements Synthesizer using OpenAI-compatible TTS APIs,
// requesting raw PCM so the result can be handed straight to an AudioCodec.
type OpenAISynthesizer struct {
	name       string
	config     types.TTSProviderConfig
	httpClient *http.Client
	model      string
	sampleRate int
}

// NewOpenAISynthesizer creates a new OpenAI-compatible Synthesizer
func NewOpenAISynthesizer(config types.TTSProviderConfig) (*OpenAISynthesizer, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for OpenAI-compatible synthesizer")
	}

	model := config.Model
	if model == "" {
		model = config.Options["model"]
	}
	if model == "" {
		return nil, fmt.Errorf("model is required for OpenAI-compatible synthesizer")
	}

	// Configure timeout from options or use default (5 minutes); TTS calls
	// can take longer than short RPC calls.
	timeout := 300 * time.Second
	if timeoutStr, ok := config.Options["timeout"]; ok {
		var timeoutSec int
		if _, err := fmt.Sscanf(timeoutStr, "%d", &timeoutSec); err == nil && timeoutSec > 0 {
			timeout = time.Duration(timeoutSec) * time.Second
		}
	}

	sampleRate := 24000
	if srStr, ok := config.Options["sample_rate"]; ok {
		var sr int
		if _, err := fmt.Sscanf(srStr, "%d", &sr); err == nil && sr > 0 {
			sampleRate = sr
		}
	}

	return &OpenAISynthesizer{
		name:   config.Name,
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		model:      model,
		sampleRate: sampleRate,
	}, nil
}

func (o *OpenAISynthesizer) Name() string {
	return o.name
}

// Synthesize converts text (or phonemes) to speech via the OpenAI-compatible
// audio/speech endpoint, requesting response_format=pcm (signed 16-bit
// little-endian, mono, at o.sampleRate).
func (o *OpenAISynthesizer) Synthesize(ctx context.Context, req SynthesizeRequest) (*SynthesizeResponse, error) {
	input := req.Text
	if req.UsePhonemes && req.Phonemes != "" {
		input = req.Phonemes
	}

	apiReq := ttsAPIRequest{
		Model:          o.model,
		Input:          input,
		Voice:          req.VoiceID,
		ResponseFormat: "pcm",
	}
	if req.Rate > 0 {
		apiReq.Speed = req.Rate
	}

	raw, err := o.callTTSAPI(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call synthesis API: %w", err)
	}

	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}

	return &SynthesizeResponse{
		PCM:        pcm,
		SampleRate: o.sampleRate,
		Channels:   1,
	}, nil
}

// ListVoices returns available voices from the synthesis provider
func (o *OpenAISynthesizer) ListVoices(ctx context.Context) ([]Voice, error) {
	endpoint := o.config.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	endpoint += "voices"

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		log.Printf("[synth-%s] failed to create request: %v", o.name, err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if o.model != "" {
		q := httpReq.URL.Query()
		q.Add("model", o.model)
		httpReq.URL.RawQuery = q.Encode()
	}

	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.config.APIKey))
	}

	log.Printf("[synth-%s] request: GET %s", o.name, httpReq.URL.String())

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		log.Printf("[synth-%s] request failed after %v: %v", o.name, duration, err)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("[synth-%s] response: %d %s (took %v)", o.name, resp.StatusCode, resp.Status, duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[synth-%s] failed to read response body: %v", o.name, err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[synth-%s] response payload: %s", o.name, truncateString(string(body), 500))

	if resp.StatusCode != http.StatusOK {
		var errResp ttsAPIErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			log.Printf("[synth-%s] api error: %s (type: %s, code: %s)", o.name, errResp.Error.Message, errResp.Error.Type, errResp.Error.Code)
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("api request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp voicesAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		log.Printf("[synth-%s] failed to parse response json: %v", o.name, err)
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	voices := make([]Voice, 0, len(apiResp.Data))
	for _, v := range apiResp.Data {
		languages := v.Languages
		if len(languages) == 0 && v.Language != "" {
			languages = []string{v.Language}
		}
		voices = append(voices, Voice{
			ID:          v.ID,
			Name:        v.Name,
			Languages:   languages,
			Gender:      v.Gender,
			Accent:      v.Accent,
			Description: v.Description,
		})
	}

	log.Printf("[synth-%s] parsed %d voices from response", o.name, len(voices))
	return voices, nil
}

func (o *OpenAISynthesizer) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// ttsAPIRequest represents the OpenAI-compatible TTS API request structure
type ttsAPIRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// ttsAPIErrorResponse represents an error response from the TTS API
type ttsAPIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// voicesAPIResponse represents the response from the voices list endpoint
type voicesAPIResponse struct {
	Object string      `json:"object"`
	Data   []voiceData `json:"data"`
}

// voiceData represents voice metadata from the API
type voiceData struct {
	ID          string   `json:"id"`
	Object      string   `json:"object"`
	Name        string   `json:"name"`
	Language    string   `json:"language"`
	Languages   []string `json:"languages"`
	Gender      string   `json:"gender"`
	Accent      string   `json:"accent"`
	Description string   `json:"description"`
}

// callTTSAPI calls the OpenAI-compatible audio/speech endpoint
func (o *OpenAISynthesizer) callTTSAPI(ctx context.Context, req ttsAPIRequest) ([]byte, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := o.config.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	endpoint += "audio/speech"

	log.Printf("[synth-%s] request: POST %s", o.name, endpoint)
	log.Printf("[synth-%s] request payload: model=%s, voice=%s, input_length=%d chars", o.name, req.Model, req.Voice, len(req.Input))
	log.Printf("[synth-%s] request input (truncated): %s", o.name, truncateString(req.Input, 200))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Printf("[synth-%s] failed to create request: %v", o.name, err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.config.APIKey))
	}

	start := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		log.Printf("[synth-%s] request failed after %v: %v", o.name, duration, err)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("[synth-%s] response: %d %s (took %v)", o.name, resp.StatusCode, resp.Status, duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[synth-%s] failed to read response body: %v", o.name, err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ttsAPIErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			log.Printf("[synth-%s] api error: %s (type: %s, code: %s)", o.name, errResp.Error.Message, errResp.Error.Type, errResp.Error.Code)
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		log.Printf("[synth-%s] api request failed: %s", o.name, truncateString(string(body), 500))
		return nil, fmt.Errorf("api request failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("[synth-%s] response payload: audio_size=%d bytes", o.name, len(body))
	return body, nil
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}

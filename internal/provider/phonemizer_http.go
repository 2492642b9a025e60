package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/unalkalkan/pronounce/pkg/types"
)

// HTTPPhonemizer implements Phonemizer against an eSpeak-compatible RPC
// service: POST {endpoint}/phonemize with a text+language body, expecting
// a JSON body carrying the phoneme string back.
type HTTPPhonemizer struct {
	name       string
	config     types.PhonemizerConfig
	httpClient *http.Client
}

// NewHTTPPhonemizer creates a new HTTP-backed Phonemizer
func NewHTTPPhonemizer(config types.PhonemizerConfig) (*HTTPPhonemizer, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for http phonemizer")
	}

	return &HTTPPhonemizer{
		name:   config.Name,
		config: config,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (p *HTTPPhonemizer) Name() string {
	return p.name
}

// Phonemize calls the phonemizer RPC endpoint
func (p *HTTPPhonemizer) Phonemize(ctx context.Context, req PhonemizeRequest) (*PhonemizeResponse, error) {
	lang := req.Language
	if lang == "" {
		lang = "en"
	}

	apiResp, err := p.callPhonemizeAPI(ctx, phonemizeAPIRequest{
		Text:     req.Text,
		Language: lang,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call phonemizer API: %w", err)
	}

	return &PhonemizeResponse{Phonemes: apiResp.Phonemes}, nil
}

func (p *HTTPPhonemizer) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

type phonemizeAPIRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type phonemizeAPIResponse struct {
	Phonemes string `json:"phonemes"`
}

type phonemizeAPIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (p *HTTPPhonemizer) callPhonemizeAPI(ctx context.Context, req phonemizeAPIRequest) (*phonemizeAPIResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := p.config.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	endpoint += "phonemize"

	log.Printf("[phonemizer-%s] request: POST %s text_length=%d", p.name, endpoint, len(req.Text))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.APIKey))
	}

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		log.Printf("[phonemizer-%s] request failed after %v: %v", p.name, duration, err)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("[phonemizer-%s] response: %d %s (took %v)", p.name, resp.StatusCode, resp.Status, duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp phonemizeAPIErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("api request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp phonemizeAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &apiResp, nil
}

package provider

import (
	"context"

	"github.com/unalkalkan/pronounce/pkg/types"
)

// StubSynthesizer is a no-network Synthesizer that InitializeProviders
// registers for an enabled tts binding with no endpoint or no model
// configured (reachability is not checked). It returns silence sized to roughly match the
// requested text's expected spoken duration, so downstream merge/playlist
// logic has real audio lengths to reason about in tests.
type StubSynthesizer struct {
	name   string
	config types.TTSProviderConfig
}

// NewStubSynthesizer creates a new stub Synthesizer
func NewStubSynthesizer(config types.TTSProviderConfig) *StubSynthesizer {
	return &StubSynthesizer{
		name:   config.Name,
		config: config,
	}
}

func (s *StubSynthesizer) Name() string {
	return s.name
}

func (s *StubSynthesizer) Synthesize(ctx context.Context, req SynthesizeRequest) (*SynthesizeResponse, error) {
	const sampleRate = 24000
	text := req.Text
	if req.UsePhonemes {
		text = req.Phonemes
	}
	// ~13 characters per second of speech at rate 1.0, clamped to a sane floor.
	rate := req.Rate
	if rate <= 0 {
		rate = 1.0
	}
	seconds := float64(len([]rune(text))) / (13.0 * rate)
	if seconds < 0.2 {
		seconds = 0.2
	}
	pcm := make([]int16, int(seconds*sampleRate))
	return &SynthesizeResponse{
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   1,
	}, nil
}

func (s *StubSynthesizer) ListVoices(ctx context.Context) ([]Voice, error) {
	return []Voice{
		{
			ID:        "stub-voice-1",
			Name:      "Stub Voice 1",
			Languages: []string{"en"},
			Gender:    "neutral",
		},
	}, nil
}

func (s *StubSynthesizer) Close() error {
	return nil
}

// StubPhonemizer is a no-network Phonemizer that passes text through
// unchanged; used when no phonemizer endpoint is configured.
type StubPhonemizer struct {
	name   string
	config types.PhonemizerConfig
}

// NewStubPhonemizer creates a new stub Phonemizer
func NewStubPhonemizer(config types.PhonemizerConfig) *StubPhonemizer {
	return &StubPhonemizer{
		name:   config.Name,
		config: config,
	}
}

func (s *StubPhonemizer) Name() string {
	return s.name
}

func (s *StubPhonemizer) Phonemize(ctx context.Context, req PhonemizeRequest) (*PhonemizeResponse, error) {
	return &PhonemizeResponse{Phonemes: req.Text}, nil
}

func (s *StubPhonemizer) Close() error {
	return nil
}

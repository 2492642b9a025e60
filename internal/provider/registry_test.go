package provider

import (
	"context"
	"testing"

	"github.com/unalkalkan/pronounce/pkg/types"
)

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	synth := NewStubSynthesizer(types.TTSProviderConfig{Name: "test-synth", Enabled: true})
	phon := NewStubPhonemizer(types.PhonemizerConfig{Name: "test-phonemizer"})
	codec, err := NewOpusCodec(types.CodecConfig{})
	if err != nil {
		t.Fatalf("NewOpusCodec: %v", err)
	}

	t.Run("RegisterSynthesizer", func(t *testing.T) {
		if err := registry.RegisterSynthesizer(synth); err != nil {
			t.Fatalf("RegisterSynthesizer: %v", err)
		}
		if err := registry.RegisterSynthesizer(synth); err == nil {
			t.Error("expected error registering duplicate synthesizer")
		}
	})

	t.Run("RegisterPhonemizer", func(t *testing.T) {
		if err := registry.RegisterPhonemizer(phon); err != nil {
			t.Fatalf("RegisterPhonemizer: %v", err)
		}
	})

	t.Run("RegisterCodec", func(t *testing.T) {
		if err := registry.RegisterCodec(codec); err != nil {
			t.Fatalf("RegisterCodec: %v", err)
		}
	})

	t.Run("GetSynthesizer", func(t *testing.T) {
		p, err := registry.GetSynthesizer("test-synth")
		if err != nil {
			t.Fatalf("GetSynthesizer: %v", err)
		}
		if p.Name() != "test-synth" {
			t.Errorf("expected name test-synth, got %s", p.Name())
		}
		if _, err := registry.GetSynthesizer("missing"); err == nil {
			t.Error("expected error for missing synthesizer")
		}
	})

	t.Run("GetPhonemizer", func(t *testing.T) {
		p, err := registry.GetPhonemizer("test-phonemizer")
		if err != nil {
			t.Fatalf("GetPhonemizer: %v", err)
		}
		if p.Name() != "test-phonemizer" {
			t.Errorf("expected name test-phonemizer, got %s", p.Name())
		}
	})

	t.Run("GetCodec", func(t *testing.T) {
		c, err := registry.GetCodec("opus")
		if err != nil {
			t.Fatalf("GetCodec: %v", err)
		}
		if c.Name() != "opus" {
			t.Errorf("expected name opus, got %s", c.Name())
		}
	})

	t.Run("List", func(t *testing.T) {
		names := registry.ListSynthesizers()
		if len(names) != 1 || names[0] != "test-synth" {
			t.Errorf("expected [test-synth], got %v", names)
		}
		phons := registry.ListPhonemizers()
		if len(phons) != 1 || phons[0] != "test-phonemizer" {
			t.Errorf("expected [test-phonemizer], got %v", phons)
		}
	})

	t.Run("Close", func(t *testing.T) {
		if err := registry.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
}

func TestStubProviders(t *testing.T) {
	ctx := context.Background()

	t.Run("StubSynthesizer", func(t *testing.T) {
		s := NewStubSynthesizer(types.TTSProviderConfig{Name: "stub"})
		resp, err := s.Synthesize(ctx, SynthesizeRequest{Text: "hello there", Rate: 1.0})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if len(resp.PCM) == 0 {
			t.Error("expected non-empty PCM")
		}
		if resp.SampleRate != 24000 || resp.Channels != 1 {
			t.Errorf("unexpected format: %+v", resp)
		}

		voices, err := s.ListVoices(ctx)
		if err != nil || len(voices) == 0 {
			t.Fatalf("ListVoices: %v / %v", voices, err)
		}
	})

	t.Run("StubSynthesizerFasterRateIsShorter", func(t *testing.T) {
		s := NewStubSynthesizer(types.TTSProviderConfig{Name: "stub"})
		slow, _ := s.Synthesize(ctx, SynthesizeRequest{Text: "a reasonably long sentence to speak aloud", Rate: 1.0})
		fast, _ := s.Synthesize(ctx, SynthesizeRequest{Text: "a reasonably long sentence to speak aloud", Rate: 2.0})
		if len(fast.PCM) >= len(slow.PCM) {
			t.Errorf("expected faster rate to produce shorter PCM, got fast=%d slow=%d", len(fast.PCM), len(slow.PCM))
		}
	})

	t.Run("StubPhonemizerPassesThrough", func(t *testing.T) {
		p := NewStubPhonemizer(types.PhonemizerConfig{Name: "stub"})
		resp, err := p.Phonemize(ctx, PhonemizeRequest{Text: "hello"})
		if err != nil {
			t.Fatalf("Phonemize: %v", err)
		}
		if resp.Phonemes != "hello" {
			t.Errorf("expected pass-through, got %q", resp.Phonemes)
		}
	})
}

func TestInitializeProviders(t *testing.T) {
	registry := NewRegistry()

	cfg := types.ProvidersConfig{
		TTS: []types.TTSProviderConfig{
			{Name: "tts1", Enabled: true},
			{Name: "tts2", Enabled: false},
		},
		Phonemizer: types.PhonemizerConfig{Name: "phon1"},
	}

	if err := registry.InitializeProviders(cfg); err != nil {
		t.Fatalf("InitializeProviders: %v", err)
	}

	names := registry.ListSynthesizers()
	if len(names) != 1 || names[0] != "tts1" {
		t.Errorf("expected [tts1], got %v", names)
	}

	if _, err := registry.GetPhonemizer("phon1"); err != nil {
		t.Fatalf("expected phon1 registered: %v", err)
	}
	if _, err := registry.GetCodec("opus"); err != nil {
		t.Fatalf("expected opus codec always registered: %v", err)
	}
}

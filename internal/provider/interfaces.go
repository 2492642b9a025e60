package provider

import (
	"context"
)

// Synthesizer turns resolved text (and, optionally, phoneme hints) into raw
// PCM audio. One Synthesizer instance is bound to a single (model, voice)
// pair; the worker pool pools instances by that key and serializes calls
// against each one.
type Synthesizer interface {
	// Name returns the provider name
	Name() string

	// Synthesize converts text to speech
	Synthesize(ctx context.Context, req SynthesizeRequest) (*SynthesizeResponse, error)

	// ListVoices returns the voices this provider exposes
	ListVoices(ctx context.Context) ([]Voice, error)

	// Close cleans up resources
	Close() error
}

// SynthesizeRequest contains the text and voice settings for synthesis
type SynthesizeRequest struct {
	Text        string  // normalized segment text
	Phonemes    string  // resolved eSpeak phoneme string, used when UsePhonemes is set
	UsePhonemes bool    // send Phonemes instead of Text
	VoiceID     string  // provider-specific voice ID
	ModelID     string  // provider-specific model ID
	Rate        float64 // reading-profile speaking rate multiplier
}

// SynthesizeResponse contains the synthesized audio and metadata
type SynthesizeResponse struct {
	PCM        []int16 // signed 16-bit linear PCM samples
	SampleRate int     // samples per second
	Channels   int
}

// Voice describes one voice a Synthesizer can speak with
type Voice struct {
	ID          string
	Name        string
	Languages   []string
	Gender      string
	Accent      string
	Description string
}

// Phonemizer is the fallback phoneme generator invoked when the dictionary
// resolver could not find an entry for a token and the job's
// prefer_phonemes setting is enabled.
type Phonemizer interface {
	Name() string

	// Phonemize returns an eSpeak-format phoneme string for the given text
	Phonemize(ctx context.Context, req PhonemizeRequest) (*PhonemizeResponse, error)

	Close() error
}

// PhonemizeRequest carries one word or short phrase to phonemize
type PhonemizeRequest struct {
	Text     string
	Language string // ISO-639-1 hint, defaults to "en"
}

// PhonemizeResponse carries the phonemizer's answer
type PhonemizeResponse struct {
	Phonemes string
}

// AudioCodec encodes PCM into the segment/merge output format and
// concatenates previously-encoded segments into one merged stream.
type AudioCodec interface {
	Name() string

	// EncodeSegment encodes one segment's PCM into this codec's on-disk
	// container format (an Ogg/Opus stream, see opus_codec.go and
	// ogg.go)
	EncodeSegment(pcm []int16, sampleRate, channels int) ([]byte, error)

	// Concat stitches already-encoded segments into one stream, inserting
	// pauseMs[i] milliseconds of silence after segment i (the last entry
	// of pauseMs is ignored)
	Concat(segments [][]byte, pauseMs []int) ([]byte, error)

	Close() error
}

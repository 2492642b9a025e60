package provider

import (
	"fmt"
	"sync"

	"github.com/unalkalkan/pronounce/pkg/types"
)

// Registry manages the Synthesizer, Phonemizer, and AudioCodec instances
// configured for the server, keyed by provider name.
type Registry struct {
	synthesizers map[string]Synthesizer
	phonemizers  map[string]Phonemizer
	codecs       map[string]AudioCodec
	mu           sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		synthesizers: make(map[string]Synthesizer),
		phonemizers:  make(map[string]Phonemizer),
		codecs:       make(map[string]AudioCodec),
	}
}

// RegisterSynthesizer registers a Synthesizer
func (r *Registry) RegisterSynthesizer(p Synthesizer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.synthesizers[name]; exists {
		return fmt.Errorf("synthesizer already registered: %s", name)
	}
	r.synthesizers[name] = p
	return nil
}

// RegisterPhonemizer registers a Phonemizer
func (r *Registry) RegisterPhonemizer(p Phonemizer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.phonemizers[name]; exists {
		return fmt.Errorf("phonemizer already registered: %s", name)
	}
	r.phonemizers[name] = p
	return nil
}

// RegisterCodec registers an AudioCodec
func (r *Registry) RegisterCodec(c AudioCodec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.codecs[name]; exists {
		return fmt.Errorf("codec already registered: %s", name)
	}
	r.codecs[name] = c
	return nil
}

// GetSynthesizer retrieves a Synthesizer by name
func (r *Registry) GetSynthesizer(name string) (Synthesizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.synthesizers[name]
	if !exists {
		return nil, fmt.Errorf("synthesizer not found: %s", name)
	}
	return p, nil
}

// GetPhonemizer retrieves a Phonemizer by name
func (r *Registry) GetPhonemizer(name string) (Phonemizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.phonemizers[name]
	if !exists {
		return nil, fmt.Errorf("phonemizer not found: %s", name)
	}
	return p, nil
}

// GetCodec retrieves an AudioCodec by name
func (r *Registry) GetCodec(name string) (AudioCodec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.codecs[name]
	if !exists {
		return nil, fmt.Errorf("codec not found: %s", name)
	}
	return c, nil
}

// ListSynthesizers returns all registered synthesizer names
func (r *Registry) ListSynthesizers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.synthesizers))
	for name := range r.synthesizers {
		names = append(names, name)
	}
	return names
}

// ListPhonemizers returns all registered phonemizer names
func (r *Registry) ListPhonemizers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.phonemizers))
	for name := range r.phonemizers {
		names = append(names, name)
	}
	return names
}

// Close closes all registered providers
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	for name, p := range r.synthesizers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close synthesizer %s: %w", name, err))
		}
	}
	for name, p := range r.phonemizers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close phonemizer %s: %w", name, err))
		}
	}
	for name, c := range r.codecs {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close codec %s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing providers: %v", errs)
	}
	return nil
}

// InitializeProviders creates Synthesizer, Phonemizer, and AudioCodec
// instances from configuration. A Synthesizer falls back to a stub when
// its endpoint/model are not both configured; the Phonemizer falls back to
// a pass-through stub when no endpoint is configured. Exactly one codec,
// "opus", is always registered.
func (r *Registry) InitializeProviders(cfg types.ProvidersConfig) error {
	for _, ttsCfg := range cfg.TTS {
		if !ttsCfg.Enabled {
			continue
		}
		var p Synthesizer
		var err error
		if ttsCfg.Endpoint != "" && (ttsCfg.Model != "" || ttsCfg.Options["model"] != "") {
			p, err = NewOpenAISynthesizer(ttsCfg)
			if err != nil {
				return fmt.Errorf("failed to create synthesizer %s: %w", ttsCfg.Name, err)
			}
		} else {
			p = NewStubSynthesizer(ttsCfg)
		}
		if err := r.RegisterSynthesizer(p); err != nil {
			return err
		}
	}

	var phonemizer Phonemizer
	var err error
	if cfg.Phonemizer.Endpoint != "" {
		phonemizer, err = NewHTTPPhonemizer(cfg.Phonemizer)
		if err != nil {
			return fmt.Errorf("failed to create phonemizer %s: %w", cfg.Phonemizer.Name, err)
		}
	} else {
		phonemizer = NewStubPhonemizer(cfg.Phonemizer)
	}
	if err := r.RegisterPhonemizer(phonemizer); err != nil {
		return err
	}

	codec, err := NewOpusCodec(cfg.Codec)
	if err != nil {
		return fmt.Errorf("failed to create codec: %w", err)
	}
	if err := r.RegisterCodec(codec); err != nil {
		return err
	}

	return nil
}

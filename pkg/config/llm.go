package config

import (
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"
)

const (
	// SectionIDLLM is the identifier for the LLM settings section
	SectionIDLLM = "llm"
)

// LLMSection manages completion provider settings and the adapter's limits.
// Zero values mean "use the default".
type LLMSection struct {
	Provider       string
	Model          string
	BaseURL        string
	APIKey         string
	MaxInputTokens int
	MaxTokens      int
	Temperature    *float64
	MaxRetries     int
	SupportsImages *bool // nil selects the built-in multimodal model list
	mu             sync.RWMutex
}

// llmData mirrors the stored keys. Pointers tell absent keys from zeros.
type llmData struct {
	Provider       *string  `mapstructure:"provider"`
	Model          *string  `mapstructure:"model"`
	BaseURL        *string  `mapstructure:"base_url"`
	APIKey         *string  `mapstructure:"api_key"`
	MaxInputTokens *int     `mapstructure:"max_input_tokens"`
	MaxTokens      *int     `mapstructure:"max_tokens"`
	Temperature    *float64 `mapstructure:"temperature"`
	MaxRetries     *int     `mapstructure:"max_retries"`
	SupportsImages *bool    `mapstructure:"supports_images"`
}

// NewLLMSection creates a new LLM section with default settings.
func NewLLMSection() *LLMSection {
	return &LLMSection{}
}

// ID returns the section identifier.
func (s *LLMSection) ID() string {
	return SectionIDLLM
}

// Title returns the section title.
func (s *LLMSection) Title() string {
	return "LLM Settings"
}

// Description returns the section description.
func (s *LLMSection) Description() string {
	return "Configure the LLM provider (openai, anthropic or openrouter), the model and the request limits. " +
		"max_input_tokens caps cumulative input tokens; 0 disables the cap."
}

// Data returns the current configuration data.
func (s *LLMSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := map[string]any{
		"provider":         s.Provider,
		"model":            s.Model,
		"base_url":         s.BaseURL,
		"api_key":          s.APIKey,
		"max_input_tokens": s.MaxInputTokens,
		"max_tokens":       s.MaxTokens,
		"max_retries":      s.MaxRetries,
	}
	if s.Temperature != nil {
		data["temperature"] = *s.Temperature
	}
	if s.SupportsImages != nil {
		data["supports_images"] = *s.SupportsImages
	}
	return data
}

// SetData updates the configuration from the provided data. Numbers may
// arrive as JSON floats or strings.
func (s *LLMSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	var in llmData
	if err := decodeSection(data, &in); err != nil {
		return fmt.Errorf("invalid %s settings: %w", SectionIDLLM, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	setIf(&s.Provider, in.Provider)
	setIf(&s.Model, in.Model)
	setIf(&s.BaseURL, in.BaseURL)
	setIf(&s.APIKey, in.APIKey)
	setIf(&s.MaxInputTokens, in.MaxInputTokens)
	setIf(&s.MaxTokens, in.MaxTokens)
	setIf(&s.MaxRetries, in.MaxRetries)
	if in.Temperature != nil {
		s.Temperature = in.Temperature
	}
	if in.SupportsImages != nil {
		s.SupportsImages = in.SupportsImages
	}
	return nil
}

// Validate validates the current configuration.
func (s *LLMSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.Provider {
	case "", ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter:
	default:
		return fmt.Errorf("unknown provider %q", s.Provider)
	}
	if s.MaxInputTokens < 0 || s.MaxTokens < 0 || s.MaxRetries < 0 {
		return fmt.Errorf("token and retry limits must not be negative")
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", *s.Temperature)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *LLMSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Provider = ""
	s.Model = ""
	s.BaseURL = ""
	s.APIKey = ""
	s.MaxInputTokens = 0
	s.MaxTokens = 0
	s.Temperature = nil
	s.MaxRetries = 0
	s.SupportsImages = nil
}

// Snapshot returns a copy of the settings without the lock.
func (s *LLMSection) Snapshot() LLMSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LLMSettings{
		Provider:       s.Provider,
		Model:          s.Model,
		BaseURL:        s.BaseURL,
		APIKey:         s.APIKey,
		MaxInputTokens: s.MaxInputTokens,
		MaxTokens:      s.MaxTokens,
		Temperature:    s.Temperature,
		MaxRetries:     s.MaxRetries,
		SupportsImages: s.SupportsImages,
	}
}

// LLMSettings is a plain copy of an LLMSection.
type LLMSettings struct {
	Provider       string
	Model          string
	BaseURL        string
	APIKey         string
	MaxInputTokens int
	MaxTokens      int
	Temperature    *float64
	MaxRetries     int
	SupportsImages *bool
}

// GetModel returns the configured model name.
func (s *LLMSection) GetModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Model
}

// SetModel sets the model name.
func (s *LLMSection) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = model
}

// GetProvider returns the configured provider name.
func (s *LLMSection) GetProvider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Provider
}

// SetProvider sets the provider name.
func (s *LLMSection) SetProvider(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Provider = provider
}

// decodeSection decodes stored section data into out, a struct tagged with
// mapstructure keys.
func decodeSection(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

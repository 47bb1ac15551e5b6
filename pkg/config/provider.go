package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/llm/adapter"
	"github.com/entrhq/conduit/pkg/llm/anthropic"
	"github.com/entrhq/conduit/pkg/llm/openai"
	"github.com/entrhq/conduit/pkg/llm/tokenizer"
)

// Provider names accepted in the llm section and on the command line.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint used for openrouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// ProviderFlags are the command-line overrides for the llm section.
type ProviderFlags struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// resolved is the outcome of merging flags, environment and config file.
type resolved struct {
	provider string
	model    string
	baseURL  string
	apiKey   string
}

// envFor returns the API key and base URL environment variables of a
// provider.
func envFor(provider string) (keyVar, urlVar string) {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY", ""
	default:
		return "OPENAI_API_KEY", "OPENAI_BASE_URL"
	}
}

// resolve merges settings with the precedence
// CLI flags > environment variables > config file > defaults.
func resolve(flags ProviderFlags, defaultModel string) (resolved, error) {
	var file LLMSettings
	if s := GetLLM(); s != nil {
		file = s.Snapshot()
	}

	r := resolved{
		provider: strings.ToLower(flags.Provider),
		model:    flags.Model,
		baseURL:  flags.BaseURL,
		apiKey:   flags.APIKey,
	}
	if r.provider == "" {
		r.provider = strings.ToLower(file.Provider)
	}
	if r.provider == "" {
		r.provider = ProviderOpenAI
	}

	keyVar, urlVar := envFor(r.provider)
	if r.apiKey == "" {
		r.apiKey = os.Getenv(keyVar)
	}
	if r.apiKey == "" && r.provider == ProviderOpenRouter {
		r.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if r.baseURL == "" && urlVar != "" {
		r.baseURL = os.Getenv(urlVar)
	}

	// the file model wins over a flag that merely repeats the default
	if flags.Model == "" || flags.Model == defaultModel {
		if file.Model != "" {
			r.model = file.Model
		}
	}
	if r.baseURL == "" {
		r.baseURL = file.BaseURL
	}
	if r.apiKey == "" {
		r.apiKey = file.APIKey
	}

	if r.model == "" {
		r.model = defaultModel
	}
	if r.baseURL == "" && r.provider == ProviderOpenRouter {
		r.baseURL = OpenRouterBaseURL
	}

	if r.apiKey == "" {
		return resolved{}, fmt.Errorf("API key is required. Set %s, use the -api-key flag, or configure api_key in ~/.conduit/config.json", keyVar)
	}
	return r, nil
}

// BuildProvider creates the completion provider selected by flags, the
// environment and the llm section.
func BuildProvider(flags ProviderFlags, defaultModel string) (llm.Provider, error) {
	r, err := resolve(flags, defaultModel)
	if err != nil {
		return nil, err
	}

	var file LLMSettings
	if s := GetLLM(); s != nil {
		file = s.Snapshot()
	}

	switch r.provider {
	case ProviderOpenAI, ProviderOpenRouter:
		opts := []openai.ProviderOption{openai.WithModel(r.model)}
		if r.baseURL != "" {
			opts = append(opts, openai.WithBaseURL(r.baseURL))
		}
		if file.MaxTokens > 0 {
			opts = append(opts, openai.WithMaxTokens(file.MaxTokens))
		}
		if file.Temperature != nil {
			opts = append(opts, openai.WithTemperature(*file.Temperature))
		}
		p, err := openai.NewProvider(r.apiKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM provider: %w", err)
		}
		return p, nil

	case ProviderAnthropic:
		opts := []anthropic.ProviderOption{anthropic.WithModel(r.model)}
		if r.baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(r.baseURL))
		}
		if file.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(file.MaxTokens))
		}
		if file.Temperature != nil {
			opts = append(opts, anthropic.WithTemperature(*file.Temperature))
		}
		p, err := anthropic.NewProvider(r.apiKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM provider: %w", err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown provider %q", r.provider)
	}
}

// BuildAdapter wraps provider in a completion adapter using the llm
// section's limits and a tokenizer for the provider's model.
func BuildAdapter(provider llm.Provider) (*adapter.Adapter, error) {
	tok, err := tokenizer.NewForModel(provider.GetModel())
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}

	var file LLMSettings
	if s := GetLLM(); s != nil {
		file = s.Snapshot()
	}
	cfg := adapter.Config{
		MaxInputTokens: file.MaxInputTokens,
		MaxTokens:      file.MaxTokens,
		Temperature:    file.Temperature,
		MaxRetries:     file.MaxRetries,
		SupportsImages: file.SupportsImages,
	}
	counter := tokenizer.NewCounter(tok, tokenizer.DefaultCounterConfig())
	return adapter.New(provider, counter, cfg), nil
}

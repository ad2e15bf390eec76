package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingAPIKey is returned when a provider needs a key the resolver
// config does not have.
var ErrMissingAPIKey = errors.New("missing api key")

const defaultOllamaBaseURL = "http://localhost:11434/v1"

// ResolverConfig carries provider credentials and endpoints. It is built
// once at startup; Resolve never reads the environment.
type ResolverConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaBaseURL string
}

// Resolve parses a model spec (string or map) and returns a Client along
// with the bare model name.
//
//	"openai:gpt-4o-mini"
//	"ollama:llama3.1:8b"
//	{"provider": "proxy", "model": "m", "callback_url": "http://127.0.0.1:9100"}
func Resolve(modelSpec any, cfg *ResolverConfig) (Client, string, error) {
	if cfg == nil {
		cfg = &ResolverConfig{}
	}
	switch v := modelSpec.(type) {
	case string:
		return resolveString(v, cfg)
	case map[string]any:
		return resolveMap(v, cfg)
	case nil:
		return nil, "", fmt.Errorf("model spec is empty")
	default:
		return nil, "", fmt.Errorf("unsupported model spec type: %T", modelSpec)
	}
}

func resolveString(spec string, cfg *ResolverConfig) (Client, string, error) {
	if spec == "" {
		return nil, "", fmt.Errorf("model spec is empty")
	}
	provider, model, ok := strings.Cut(spec, ":")
	if !ok {
		// A bare model name goes to OpenAI
		return resolveMap(map[string]any{"provider": "openai", "model": spec}, cfg)
	}
	return resolveMap(map[string]any{"provider": provider, "model": model}, cfg)
}

func resolveMap(spec map[string]any, cfg *ResolverConfig) (Client, string, error) {
	provider, _ := spec["provider"].(string)
	model, _ := spec["model"].(string)
	baseURL, _ := spec["base_url"].(string)

	if model == "" && provider != "proxy" {
		return nil, "", fmt.Errorf("%s provider requires a model name", provider)
	}

	switch provider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, "", fmt.Errorf("openai provider: %w (OPENAI_API_KEY)", ErrMissingAPIKey)
		}
		if baseURL == "" {
			baseURL = cfg.OpenAIBaseURL
		}
		return NewOpenAIClient(baseURL, cfg.OpenAIAPIKey, model), model, nil
	case "ollama":
		if baseURL == "" {
			baseURL = cfg.OllamaBaseURL
		}
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		return NewOpenAIClient(baseURL, "ollama", model), model, nil
	case "proxy":
		callbackURL, _ := spec["callback_url"].(string)
		if callbackURL == "" {
			return nil, "", fmt.Errorf("proxy provider requires callback_url")
		}
		return NewHTTPProxyClient(callbackURL, model), model, nil
	default:
		return nil, "", fmt.Errorf("unknown provider: %q", provider)
	}
}

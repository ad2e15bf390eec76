package agent

import (
	"fmt"
	"strings"

	"stepstream/llm"
)

// BuildDeps carries what Build needs besides the config.
type BuildDeps struct {
	Resolver *llm.ResolverConfig
	Builtins BuiltinOptions
	Options  []Option
}

// Build turns a config into a ready engine. A config with a remote section
// yields a RemoteEngine; otherwise the model is resolved and an Agent is
// assembled with the selected tools. Any error means the engine is unavailable.
func Build(cfg *Config, deps BuildDeps) (Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Remote != nil && cfg.Remote.URL != "" {
		return NewRemoteEngine(*cfg.Remote), nil
	}

	client, _, err := llm.Resolve(cfg.Model, deps.Resolver)
	if err != nil {
		return nil, fmt.Errorf("resolve model %q: %w", cfg.ModelStr(), err)
	}

	all := NewToolRegistry(NewBuiltinTools(deps.Builtins)...)
	tools, missing := all.Select(cfg.Tools)
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown tools: %s", strings.Join(missing, ", "))
	}
	for _, h := range cfg.HTTPTools {
		if h.Name == "" || h.CallbackURL == "" {
			return nil, fmt.Errorf("http tool %q: name and callback_url are required", h.Name)
		}
		tools.Register(NewHTTPTool(h))
	}
	if tools.Get(FinalAnswerTool) == nil {
		tools.Register(FinalAnswer())
	}

	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return NewAgent(cfg, client, tools, deps.Options...), nil
}

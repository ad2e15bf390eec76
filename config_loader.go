package stepstream

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stepstream/agent"
)

// LoadEngineConfig reads the engine YAML file. An empty path yields the
// default config. defaultModel fills in a missing model spec.
//
//	name: calculator
//	model: openai:gpt-4o-mini
//	max_iterations: 3
//	tools: [add, multiply, final_answer]
//	http_tools:
//	  - name: lookup
//	    callback_url: http://127.0.0.1:9100
func LoadEngineConfig(path, defaultModel string) (*agent.Config, error) {
	cfg := agent.DefaultConfig()
	if defaultModel != "" {
		cfg.Model = defaultModel
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var fileCfg agent.Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Merge defaults
	if fileCfg.Name == "" {
		fileCfg.Name = cfg.Name
	}
	if fileCfg.Model == nil || fileCfg.ModelStr() == "" {
		fileCfg.Model = cfg.Model
	}
	if fileCfg.SystemPrompt == "" {
		fileCfg.SystemPrompt = cfg.SystemPrompt
	}
	if fileCfg.MaxIterations <= 0 {
		fileCfg.MaxIterations = cfg.MaxIterations
	}
	if fileCfg.ToolChoice == "" {
		fileCfg.ToolChoice = cfg.ToolChoice
	}
	return &fileCfg, nil
}

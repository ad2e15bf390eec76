package agent

import "stepstream/llm"

// DefaultMaxIterations bounds the LLM-tool loop when the config leaves it unset.
const DefaultMaxIterations = 3

// DefaultSystemPrompt steers the model toward calling tools and finishing
// with final_answer.
const DefaultSystemPrompt = `You are a helpful assistant. When answering the user's question, first use one of the tools provided.
After a tool runs, its output is given back to you. Once you have everything you need,
you MUST call the final_answer tool to answer the user. Answer the user's CURRENT question only.`

// Config is the engine configuration loaded from the YAML config file.
type Config struct {
	Name          string        `yaml:"name" json:"name"`
	Model         any           `yaml:"model" json:"model"` // string or map
	SystemPrompt  string        `yaml:"system_prompt" json:"system_prompt"`
	MaxIterations int           `yaml:"max_iterations" json:"max_iterations"`
	MaxTokens     int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature   *float64      `yaml:"temperature" json:"temperature"`
	ToolChoice    string        `yaml:"tool_choice" json:"tool_choice"`
	Tools         []string      `yaml:"tools" json:"tools"`
	HTTPTools     []HTTPToolCfg `yaml:"http_tools" json:"http_tools"`
	Remote        *RemoteCfg    `yaml:"remote" json:"remote"`
}

// HTTPToolCfg declares a tool executed by a remote HTTP callback.
type HTTPToolCfg struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`
	CallbackURL string         `yaml:"callback_url" json:"callback_url"`

	// Timeout is in seconds; zero uses DefaultHTTPToolTimeout.
	Timeout float64           `yaml:"timeout" json:"timeout"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// RemoteCfg points the server at an out-of-process engine instead of the
// built-in agent loop.
type RemoteCfg struct {
	URL     string  `yaml:"url" json:"url"`
	Timeout float64 `yaml:"timeout" json:"timeout"` // seconds
}

// DefaultConfig returns the configuration used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		Name:          "default",
		Model:         "openai:gpt-4o-mini",
		SystemPrompt:  DefaultSystemPrompt,
		MaxIterations: DefaultMaxIterations,
		ToolChoice:    llm.ToolChoiceRequired,
	}
}

// ModelStr extracts a display string from the Model field (string or map).
func (c *Config) ModelStr() string {
	switch v := c.Model.(type) {
	case string:
		return v
	case map[string]any:
		prov, _ := v["provider"].(string)
		model, _ := v["model"].(string)
		if prov != "" && model != "" {
			return prov + ":" + model
		}
		if model != "" {
			return model
		}
		return prov
	default:
		return ""
	}
}

func (c *Config) maxIterations() int {
	if c.MaxIterations <= 0 {
		return DefaultMaxIterations
	}
	return c.MaxIterations
}

func (c *Config) toolChoice() string {
	if c.ToolChoice == "" {
		return llm.ToolChoiceRequired
	}
	return c.ToolChoice
}

package stepstream

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// AppConfig holds server-level runtime configuration.
type AppConfig struct {
	Host           string
	Port           int
	ConfigFile     string // engine YAML, optional
	AllowedOrigins string // comma-separated, "*" allows all
	TraceCapacity  int

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OllamaBaseURL   string
	SerpAPIKey      string
	LangChainAPIKey string
	DefaultModel    string
}

// Environment variables the engine depends on, as reported by /health.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvSerpAPIKey   = "SERPAPI_API_KEY"
	EnvLangChainKey = "LANGCHAIN_API_KEY"
)

// LoadAppConfig reads configuration from a .env file, the environment and
// CLI flags, in increasing order of precedence. A missing .env file is fine.
func LoadAppConfig(args []string) (*AppConfig, error) {
	fset := flag.NewFlagSet("stepstream", flag.ContinueOnError)
	envFile := fset.String("env-file", ".env", "Path to a .env file")
	host := fset.String("host", "", "Listen host (env: HOST, default: 0.0.0.0)")
	port := fset.Int("port", 0, "Listen port (env: PORT, default: 8000)")
	configFile := fset.String("config", "", "Path to engine YAML config (env: STEPSTREAM_CONFIG)")
	origins := fset.String("origins", "", "Allowed CORS origins, comma-separated (env: ALLOWED_ORIGINS, default: *)")
	model := fset.String("model", "", "Default model spec (env: STEPSTREAM_MODEL, default: openai:gpt-4o-mini)")
	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := &AppConfig{
		Host:            envOr("HOST", "0.0.0.0"),
		Port:            envIntOr("PORT", 8000),
		ConfigFile:      os.Getenv("STEPSTREAM_CONFIG"),
		AllowedOrigins:  envOr("ALLOWED_ORIGINS", "*"),
		TraceCapacity:   envIntOr("STEPSTREAM_TRACE_CAPACITY", 200),
		OpenAIAPIKey:    os.Getenv(EnvOpenAIKey),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OllamaBaseURL:   os.Getenv("OLLAMA_BASE_URL"),
		SerpAPIKey:      os.Getenv(EnvSerpAPIKey),
		LangChainAPIKey: os.Getenv(EnvLangChainKey),
		DefaultModel:    envOr("STEPSTREAM_MODEL", "openai:gpt-4o-mini"),
	}

	// CLI flags override env
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *configFile != "" {
		cfg.ConfigFile = *configFile
	}
	if *origins != "" {
		cfg.AllowedOrigins = *origins
	}
	if *model != "" {
		cfg.DefaultModel = *model
	}

	return cfg, nil
}

// Environment reports which engine-related variables are set.
func (c *AppConfig) Environment() map[string]bool {
	return map[string]bool{
		EnvOpenAIKey:    c.OpenAIAPIKey != "",
		EnvSerpAPIKey:   c.SerpAPIKey != "",
		EnvLangChainKey: c.LangChainAPIKey != "",
	}
}

// Addr returns the listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// envOr returns the environment variable or a default value.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envIntOr returns the environment variable as int or a default value.
func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

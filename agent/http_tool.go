package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPToolTimeout bounds one callback when the config sets no timeout.
const DefaultHTTPToolTimeout = 120 * time.Second

// maxToolReply caps how much of a callback reply is read.
const maxToolReply = 1 << 20

// HTTPTool is a tool whose work happens behind a callback URL. Each call is
// POST {callback_url}/tools/{name} with {"name","args","run_id"}; the reply
// is {"result": ...} or {"error": "..."}. A non-string result is passed to
// the model as its JSON text.
type HTTPTool struct {
	cfg     HTTPToolCfg
	base    string
	params  map[string]any
	client  *http.Client
	headers http.Header
}

// Compile-time check that *HTTPTool implements Tool.
var _ Tool = (*HTTPTool)(nil)

// NewHTTPTool creates a callback tool from its config.
func NewHTTPTool(cfg HTTPToolCfg) *HTTPTool {
	timeout := DefaultHTTPToolTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout * float64(time.Second))
	}
	params := cfg.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	headers := make(http.Header, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}
	headers.Set("Content-Type", "application/json")

	return &HTTPTool{
		cfg:     cfg,
		base:    strings.TrimRight(cfg.CallbackURL, "/"),
		params:  params,
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}
}

func (t *HTTPTool) Name() string               { return t.cfg.Name }
func (t *HTTPTool) Description() string        { return t.cfg.Description }
func (t *HTTPTool) Parameters() map[string]any { return t.params }

// Timeout reports the per-call timeout.
func (t *HTTPTool) Timeout() time.Duration { return t.client.Timeout }

// toolReply is the callback's answer.
type toolReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (t *HTTPTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	runID := RunIDFromContext(ctx)
	payload, err := json.Marshal(struct {
		Name  string         `json:"name"`
		Args  map[string]any `json:"args"`
		RunID string         `json:"run_id,omitempty"`
	}{t.cfg.Name, args, runID})
	if err != nil {
		return "", fmt.Errorf("%s: encode args: %w", t.cfg.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+"/tools/"+t.cfg.Name, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%s: build request: %w", t.cfg.Name, err)
	}
	req.Header = t.headers.Clone()
	if runID != "" {
		req.Header.Set("X-Run-ID", runID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: callback failed: %w", t.cfg.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxToolReply))
	if err != nil {
		return "", fmt.Errorf("%s: read reply: %w", t.cfg.Name, err)
	}

	var reply toolReply
	decodeErr := json.Unmarshal(raw, &reply)
	if reply.Error != "" {
		return "", fmt.Errorf("%s: %s", t.cfg.Name, reply.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: callback returned %d: %s", t.cfg.Name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%s: decode reply: %w", t.cfg.Name, decodeErr)
	}
	return resultText(reply.Result), nil
}

// resultText unwraps a JSON string and keeps anything else as JSON text.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

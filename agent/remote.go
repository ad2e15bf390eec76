package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stepstream/sink"
)

// RemoteEngine runs the computation in another process. It POSTs
// {"input"} to URL and reads an SSE stream back:
//
//	event: payload   data: <callback payload JSON>
//	event: result    data: {"answer","tools_used","steps"}
//	event: error     data: {"error"}
//
// Every payload is recorded as it arrives.
type RemoteEngine struct {
	URL    string
	Client *http.Client
}

// Compile-time check that *RemoteEngine implements Engine.
var _ Engine = (*RemoteEngine)(nil)

// NewRemoteEngine creates a remote engine from its config.
func NewRemoteEngine(cfg RemoteCfg) *RemoteEngine {
	timeout := 5 * time.Minute
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout * float64(time.Second))
	}
	return &RemoteEngine{
		URL:    strings.TrimRight(cfg.URL, "/"),
		Client: &http.Client{Timeout: timeout},
	}
}

// Invoke streams the remote run into rec.
func (e *RemoteEngine) Invoke(ctx context.Context, input string, rec sink.Recorder) (*Result, error) {
	body, err := json.Marshal(map[string]string{"input": input, "run_id": RunIDFromContext(ctx)})
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("remote: HTTP %d: %s", resp.StatusCode, string(msg))
	}

	var result *Result
	event := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "payload", "":
				rec.RecordJSON([]byte(data))
			case "result":
				var r Result
				if err := json.Unmarshal([]byte(data), &r); err != nil {
					return nil, fmt.Errorf("remote: parse result: %w", err)
				}
				result = &r
			case "error":
				var failure struct {
					Error string `json:"error"`
				}
				if json.Unmarshal([]byte(data), &failure) != nil || failure.Error == "" {
					failure.Error = data
				}
				return nil, errors.New(failure.Error)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("remote: read stream: %w", err)
	}
	if result == nil {
		result = &Result{}
	}
	return result, nil
}

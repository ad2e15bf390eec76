package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProxyClient implements the Client interface by proxying LLM calls to
// an external model sidecar over HTTP. The sidecar owns auth and any
// request/response transforms.
type HTTPProxyClient struct {
	callbackURL string
	modelName   string
	client      *http.Client
}

// NewHTTPProxyClient creates a new proxy client that forwards LLM calls
// to the given callback URL (e.g. "http://127.0.0.1:9100").
func NewHTTPProxyClient(callbackURL, modelName string) *HTTPProxyClient {
	return &HTTPProxyClient{
		callbackURL: strings.TrimRight(callbackURL, "/"),
		modelName:   modelName,
		client:      &http.Client{Timeout: 5 * time.Minute},
	}
}

// proxyChunk is one "data:" line of the sidecar's stream.
type proxyChunk struct {
	StreamChunk
	Error string `json:"error,omitempty"`
}

// Stream makes a streaming LLM call via the sidecar. The sidecar returns
// SSE lines (data: {...}) which are parsed as StreamChunk and pushed to the
// channel.
func (c *HTTPProxyClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error {
	defer close(ch)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/llm/%s/stream", c.callbackURL, c.modelName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("proxy LLM stream error %d: %s", resp.StatusCode, string(data))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk proxyChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("proxy LLM: %s", chunk.Error)
		}

		ch <- chunk.StreamChunk

		if chunk.Done {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	ch <- StreamChunk{Done: true}
	return nil
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepstream/llm"
	"stepstream/sink"
)

func runTool(t *testing.T, reg *ToolRegistry, name string, args map[string]any) (string, error) {
	t.Helper()
	tool := reg.Get(name)
	require.NotNil(t, tool, "tool %s not registered", name)
	return tool.Execute(context.Background(), args)
}

func TestBuiltinTools_Arithmetic(t *testing.T) {
	reg := NewToolRegistry(NewBuiltinTools(BuiltinOptions{})...)

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"add", map[string]any{"x": 2.0, "y": 2.0}, "4"},
		{"subtract", map[string]any{"x": 3.0, "y": 10.0}, "7"},
		{"multiply", map[string]any{"x": 1.5, "y": 4.0}, "6"},
		{"exponentiate", map[string]any{"x": 2.0, "y": 10.0}, "1024"},
		{"add", map[string]any{"x": "1", "y": 2}, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got, err := runTool(t, reg, tt.tool, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := runTool(t, reg, "add", map[string]any{"x": 1.0})
	assert.Error(t, err)
}

func TestCalculate(t *testing.T) {
	tests := map[string]string{
		"2+2":        "4",
		"10 / 4":     "2.5",
		"-5+3":       "-2",
		"2 ^ 3":      "8",
		"sqrt(16)":   "4",
		"7 % 4":      "3",
		"42":         "42",
		"1/0":        "Error: division by zero",
		"two plus 2": "Error: could not evaluate expression: two plus 2",
	}
	for expr, want := range tests {
		assert.Equal(t, want, calculate(expr), expr)
	}
}

func TestBuiltinTools_CurrentDatetime(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reg := NewToolRegistry(NewBuiltinTools(BuiltinOptions{Now: func() time.Time { return fixed }})...)
	out, err := runTool(t, reg, "current_datetime", map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out, "UTC: 2024-05-01T12:00:00Z")
}

func TestBuiltinTools_SerpAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "google", r.URL.Query().Get("engine"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "serp-key", r.URL.Query().Get("api_key"))

		results := make([]map[string]string, 7)
		for i := range results {
			results[i] = map[string]string{"title": fmt.Sprintf("T%d", i), "link": "https://x", "snippet": "s"}
		}
		json.NewEncoder(w).Encode(map[string]any{"organic_results": results})
	}))
	defer srv.Close()

	reg := NewToolRegistry(NewBuiltinTools(BuiltinOptions{SerpAPIKey: "serp-key", SerpAPIURL: srv.URL})...)
	out, err := runTool(t, reg, "serpapi", map[string]any{"query": "golang"})
	require.NoError(t, err)
	assert.Contains(t, out, "Title: T0")
	assert.Contains(t, out, "Title: T4")
	assert.NotContains(t, out, "Title: T5")
}

func TestHTTPTool_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tools/lookup", r.URL.Path)
		var body struct {
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Args["key"] == "bad" {
			json.NewEncoder(w).Encode(map[string]string{"error": "no such key"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"result": "value for " + body.Args["key"].(string)})
	}))
	defer srv.Close()

	tool := NewHTTPTool(HTTPToolCfg{Name: "lookup", CallbackURL: srv.URL + "/"})
	out, err := tool.Execute(context.Background(), map[string]any{"key": "k1"})
	require.NoError(t, err)
	assert.Equal(t, "value for k1", out)

	_, err = tool.Execute(context.Background(), map[string]any{"key": "bad"})
	assert.ErrorContains(t, err, "no such key")
}

func TestHTTPTool_ConfigAndRunID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RunID string `json:"run_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "run-1", body.RunID)
		assert.Equal(t, "run-1", r.Header.Get("X-Run-ID"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"result":{"price":42}}`))
	}))
	defer srv.Close()

	tool := NewHTTPTool(HTTPToolCfg{
		Name:        "quote",
		CallbackURL: srv.URL,
		Timeout:     2.5,
		Headers:     map[string]string{"X-Api-Key": "secret"},
	})
	assert.Equal(t, 2500*time.Millisecond, tool.Timeout())
	assert.Equal(t, DefaultHTTPToolTimeout, NewHTTPTool(HTTPToolCfg{Name: "q"}).Timeout())

	out, err := tool.Execute(WithRunID(context.Background(), "run-1"), map[string]any{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":42}`, out)
}

func TestHTTPTool_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPTool(HTTPToolCfg{Name: "q", CallbackURL: srv.URL}).Execute(context.Background(), nil)
	assert.ErrorContains(t, err, "callback returned 503: overloaded")
}

func TestRemoteEngine_Invoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "What is 2+2?", body["input"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: payload\ndata: {\"message\":{\"tool_calls\":[{\"index\":0,\"name\":\"add\"}]}}\n\n")
		fmt.Fprint(w, "event: payload\ndata: {\"message\":{\"tool_calls\":[{\"index\":0,\"arguments\":\"{}\"}]}}\n\n")
		fmt.Fprint(w, "event: payload\ndata: \"<<STEP_END>>\"\n\n")
		fmt.Fprint(w, "event: result\ndata: {\"answer\":\"4\",\"tools_used\":[\"add\"],\"steps\":1}\n\n")
	}))
	defer srv.Close()

	s := sink.New()
	res, err := NewRemoteEngine(RemoteCfg{URL: srv.URL}).Invoke(context.Background(), "What is 2+2?", s)
	require.NoError(t, err)
	assert.Equal(t, "4", res.Answer)
	assert.Equal(t, []sink.Event{sink.ToolStart("add"), sink.ToolArguments("{}"), sink.StepEnd()}, drain(t, s))
}

func TestRemoteEngine_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"error\":\"engine exploded\"}\n\n")
	}))
	defer srv.Close()

	_, err := NewRemoteEngine(RemoteCfg{URL: srv.URL}).Invoke(context.Background(), "q", sink.New())
	assert.EqualError(t, err, "engine exploded")
}

func TestBuild(t *testing.T) {
	resolver := &llm.ResolverConfig{OpenAIAPIKey: "sk-test"}

	t.Run("default config", func(t *testing.T) {
		eng, err := Build(nil, BuildDeps{Resolver: resolver})
		require.NoError(t, err)
		a, ok := eng.(*Agent)
		require.True(t, ok)
		assert.NotNil(t, a.Tools.Get(FinalAnswerTool))
		assert.Nil(t, a.Tools.Get("serpapi"))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := Build(DefaultConfig(), BuildDeps{Resolver: &llm.ResolverConfig{}})
		assert.ErrorIs(t, err, llm.ErrMissingAPIKey)
	})

	t.Run("tool selection keeps final_answer", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tools = []string{"add"}
		cfg.HTTPTools = []HTTPToolCfg{{Name: "lookup", CallbackURL: "http://127.0.0.1:9"}}
		eng, err := Build(cfg, BuildDeps{Resolver: resolver})
		require.NoError(t, err)
		assert.Equal(t, []string{"add", FinalAnswerTool, "lookup"}, eng.(*Agent).Tools.Names())
	})

	t.Run("serpapi without key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tools = []string{"serpapi"}
		_, err := Build(cfg, BuildDeps{Resolver: resolver})
		assert.ErrorContains(t, err, "serpapi")
	})

	t.Run("remote", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Remote = &RemoteCfg{URL: "http://127.0.0.1:9/run"}
		eng, err := Build(cfg, BuildDeps{})
		require.NoError(t, err)
		assert.IsType(t, &RemoteEngine{}, eng)
	})
}

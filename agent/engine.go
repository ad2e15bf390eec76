package agent

import (
	"context"

	"stepstream/sink"
)

// Engine is a long-running computation that reports its progress through a
// sink.Recorder while it works. Invoke may record any number of payloads
// before it returns; it must not close the recorder.
type Engine interface {
	Invoke(ctx context.Context, input string, rec sink.Recorder) (*Result, error)
}

// EngineFunc adapts a plain function to Engine.
type EngineFunc func(ctx context.Context, input string, rec sink.Recorder) (*Result, error)

// Invoke calls f.
func (f EngineFunc) Invoke(ctx context.Context, input string, rec sink.Recorder) (*Result, error) {
	return f(ctx, input, rec)
}

// Result is what an engine hands back once it is done.
type Result struct {
	Answer    string   `json:"answer"`
	ToolsUsed []string `json:"tools_used"`
	Steps     int      `json:"steps"`
}

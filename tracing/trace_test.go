package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepstream/agent"
)

func TestTrace_SpansAndFinish(t *testing.T) {
	tr := NewTrace("", "http", "What is 2+2?")
	require.NotEmpty(t, tr.TraceID)

	tr.StartSpan("work").Set("k", 1).End()
	tr.RecordEvent("marker", map[string]any{"n": 2})
	tr.SetOutput("fragments", 3)
	tr.Finish(errors.New("boom"))

	snap := tr.Snapshot()
	require.Len(t, snap.Spans, 2)
	assert.Equal(t, "work", snap.Spans[0].Name)
	assert.Equal(t, 1, snap.Spans[0].Metadata["k"])
	assert.Equal(t, "marker", snap.Spans[1].Name)
	assert.Equal(t, 3, snap.Output["fragments"])
	assert.Equal(t, "boom", snap.Error)
	assert.False(t, snap.EndTime.IsZero())
}

func TestStore_EvictsOldestAndListsNewestFirst(t *testing.T) {
	s := NewStore(2)
	for i := 0; i < 3; i++ {
		s.Put(NewTrace(fmt.Sprintf("t%d", i), "http", ""))
	}
	assert.Equal(t, 2, s.Len())
	assert.Nil(t, s.Get("t0"))
	require.NotNil(t, s.Get("t2"))

	list := s.List(10)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].TraceID)
	assert.Equal(t, "t1", list[1].TraceID)

	assert.Len(t, s.List(1), 1)
}

func TestContextRoundTrip(t *testing.T) {
	tr := NewTrace("id", "ws", "")
	ctx := WithTrace(context.Background(), tr)
	assert.Same(t, tr, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}

func TestHook_RecordsModelAndToolSpans(t *testing.T) {
	tr := NewTrace("id", "http", "")
	ctx := WithTrace(context.Background(), tr)
	h := NewHook()

	_, err := h.WrapModelCall(ctx, nil, func(ctx context.Context, msgs []agent.Message) (*agent.ModelResponse, error) {
		return &agent.ModelResponse{ToolCalls: []agent.ToolCall{{Name: "add"}}}, nil
	})
	require.NoError(t, err)

	_, err = h.WrapToolCall(ctx, agent.ToolCall{ID: "1", Name: "add"}, func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
		return &agent.ToolResult{Output: "4"}, nil
	})
	require.NoError(t, err)

	snap := tr.Snapshot()
	require.Len(t, snap.Spans, 2)
	assert.Equal(t, "llm.call", snap.Spans[0].Name)
	assert.Equal(t, []string{"add"}, snap.Spans[0].Metadata["tool_calls"])
	assert.Equal(t, "tool.call", snap.Spans[1].Name)
	assert.Equal(t, "4", snap.Spans[1].Metadata["output"])
}

func TestHook_PassThroughWithoutTrace(t *testing.T) {
	called := false
	_, err := NewHook().WrapToolCall(context.Background(), agent.ToolCall{}, func(ctx context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
		called = true
		return &agent.ToolResult{}, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

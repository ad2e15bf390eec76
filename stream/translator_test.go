package stream

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepstream/agent"
	"stepstream/llm"
	"stepstream/sink"
	"stepstream/tracing"
)

func toolCall(name, args string) sink.Payload {
	return sink.ToolCallPayload(sink.ToolCallChunk{Name: name, Arguments: args})
}

// twoPlusTwo records what a tool-calling engine emits for "What is 2+2?".
func twoPlusTwo(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
	rec.Record(toolCall("add", ""))
	rec.Record(toolCall("", `{"x":2,`))
	rec.Record(toolCall("", `"y":2}`))
	rec.Record(sink.StepEndPayload())
	rec.Record(toolCall("final_answer", ""))
	rec.Record(toolCall("", `{"answer":"4","tools_used":["add"]}`))
	rec.Record(sink.StepEndPayload())
	return &agent.Result{Answer: "4", ToolsUsed: []string{"add"}, Steps: 2}, nil
}

func collectAll(t *testing.T, tr *Translator, input string) ([]string, error) {
	t.Helper()
	var frags []string
	for frag, err := range tr.Execute(context.Background(), input) {
		if err != nil {
			return frags, err
		}
		frags = append(frags, frag)
	}
	return frags, nil
}

func TestExecute_WhatIsTwoPlusTwo(t *testing.T) {
	tr := New(agent.EngineFunc(twoPlusTwo))
	frags, err := collectAll(t, tr, "What is 2+2?")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"<step><step_name>add</step_name>",
		`{"x":2,`,
		`"y":2}`,
		"</step>",
		"<step><step_name>final_answer</step_name>",
		`{"answer":"4","tools_used":["add"]}`,
		"</step>",
	}, frags)
}

func TestExecute_NameAndArgumentsInOneChunk(t *testing.T) {
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		rec.Record(toolCall("serpapi", `{"query":"go"}`))
		rec.Record(sink.StepEndPayload())
		return &agent.Result{}, nil
	}))
	out, err := Collect(tr.Execute(context.Background(), "q"))
	require.NoError(t, err)
	assert.Equal(t, `<step><step_name>serpapi</step_name>{"query":"go"}</step>`, out)
}

func TestExecute_EngineFailureAfterEvents(t *testing.T) {
	boom := errors.New("model exploded")
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		rec.Record(toolCall("add", ""))
		rec.Record(toolCall("", "{}"))
		rec.Record(sink.StepEndPayload())
		return nil, boom
	}))

	var frags []string
	var errs []error
	for frag, err := range tr.Execute(context.Background(), "q") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frags = append(frags, frag)
	}

	assert.Equal(t, []string{"<step><step_name>add</step_name>", "{}", "</step>"}, frags)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrEngineFailed)
	assert.ErrorIs(t, errs[0], boom)
}

func TestExecute_EnginePanicBecomesError(t *testing.T) {
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		rec.Record(toolCall("add", ""))
		panic("nil map")
	}))
	out, err := Collect(tr.Execute(context.Background(), "q"))
	assert.Equal(t, "<step><step_name>add</step_name>", out)
	require.ErrorIs(t, err, ErrEngineFailed)
	assert.ErrorContains(t, err, "engine panic: nil map")
}

func TestExecute_Unavailable(t *testing.T) {
	initErr := errors.New("OPENAI_API_KEY missing")
	tr := Unavailable(initErr)

	assert.False(t, tr.Available())
	assert.ErrorIs(t, tr.InitError(), ErrUnavailable)
	assert.ErrorIs(t, tr.InitError(), initErr)

	frags, err := collectAll(t, tr, "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, []string{UnavailableMessage}, frags)

	assert.ErrorIs(t, New(nil).InitError(), ErrUnavailable)
}

func TestExecute_MalformedPayloadsAreSkipped(t *testing.T) {
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		rec.RecordJSON([]byte(`{"message":{"tool_calls":[{"name":"add"}]}}`))
		rec.RecordJSON([]byte(`{not json`))
		rec.Record(sink.Payload{Sentinel: "<<BOGUS>>"})
		rec.Record(sink.ContentPayload("thinking out loud"))
		rec.Record(sink.Payload{})
		rec.RecordJSON([]byte(`{"message":{"tool_calls":[{"arguments":"{}"}]}}`))
		rec.RecordJSON([]byte(`"<<STEP_END>>"`))
		return &agent.Result{}, nil
	}))
	out, err := Collect(tr.Execute(context.Background(), "q"))
	require.NoError(t, err)
	assert.Equal(t, "<step><step_name>add</step_name>{}</step>", out)
}

func TestExecute_StepsAreBalanced(t *testing.T) {
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		for i := 0; i < 50; i++ {
			rec.Record(toolCall("multiply", ""))
			rec.Record(toolCall("", `{"x":1,"y":1}`))
			rec.Record(sink.StepEndPayload())
		}
		return &agent.Result{}, nil
	}))
	out, err := Collect(tr.Execute(context.Background(), "q"))
	require.NoError(t, err)
	assert.Equal(t, 50, strings.Count(out, "<step>"))
	assert.Equal(t, strings.Count(out, "<step>"), strings.Count(out, "</step>"))
}

func TestExecute_EmptyRun(t *testing.T) {
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		return &agent.Result{Answer: "nothing to do"}, nil
	}))
	frags, err := collectAll(t, tr, "q")
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestExecute_IsLazyAndSinglePass(t *testing.T) {
	var calls atomic.Int32
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		calls.Add(1)
		return twoPlusTwo(ctx, input, rec)
	}))

	seq := tr.Execute(context.Background(), "q")
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, calls.Load())

	_, err := Collect(seq)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = Collect(seq)
	assert.ErrorIs(t, err, ErrConsumed)
	assert.EqualValues(t, 1, calls.Load())
}

func TestExecute_EarlyBreakCancelsEngine(t *testing.T) {
	var cancelled atomic.Bool
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		rec.Record(toolCall("serpapi", ""))
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &agent.Result{}, nil
		}
	}))

	start := time.Now()
	for frag, err := range tr.Execute(context.Background(), "q") {
		require.NoError(t, err)
		assert.Equal(t, "<step><step_name>serpapi</step_name>", frag)
		break
	}
	// The range statement returns only after the engine goroutine has finished.
	assert.True(t, cancelled.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecute_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	go func() {
		<-started
		cancel()
	}()
	_, err := Collect(tr.Execute(ctx, "q"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrEngineFailed)
}

func TestExecute_ConcurrentExecutionsAreIsolated(t *testing.T) {
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		rec.Record(toolCall(input, ""))
		rec.Record(sink.StepEndPayload())
		return &agent.Result{}, nil
	}))

	results := make(chan string, 2)
	for _, name := range []string{"left", "right"} {
		go func(name string) {
			out, err := Collect(tr.Execute(context.Background(), name))
			assert.NoError(t, err)
			results <- out
		}(name)
	}
	got := []string{<-results, <-results}
	assert.ElementsMatch(t, []string{
		"<step><step_name>left</step_name></step>",
		"<step><step_name>right</step_name></step>",
	}, got)
}

func TestExecute_StoresTrace(t *testing.T) {
	store := tracing.NewStore(10)
	tr := New(agent.EngineFunc(func(ctx context.Context, input string, rec sink.Recorder) (*agent.Result, error) {
		assert.NotEmpty(t, agent.RunIDFromContext(ctx))
		assert.NotNil(t, tracing.FromContext(ctx))
		return twoPlusTwo(ctx, input, rec)
	}), WithTraceStore(store))

	_, err := Collect(tr.Execute(WithTransport(context.Background(), "ws"), "What is 2+2?"))
	require.NoError(t, err)

	list := store.List(1)
	require.Len(t, list, 1)
	snap := list[0].Snapshot()
	assert.Equal(t, "ws", snap.Transport)
	assert.Equal(t, "What is 2+2?", snap.Input)
	assert.Equal(t, 7, snap.Output["fragments"])
	assert.Equal(t, "4", snap.Output["answer"])
	assert.Empty(t, snap.Error)
}

func TestRun_UsesProvidedSink(t *testing.T) {
	s := sink.New()
	tr := New(agent.EngineFunc(twoPlusTwo))
	_, err := Collect(tr.Run(context.Background(), "q", s))
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	assert.Error(t, err, "sink is closed and drained after the run")
}

// fakeLLM answers with an add call and then a final answer.
type fakeLLM struct{ calls atomic.Int32 }

func (f *fakeLLM) Stream(ctx context.Context, req llm.Request, ch chan<- llm.StreamChunk) error {
	defer close(ch)
	delta := func(d llm.ToolCallDelta) { ch <- llm.StreamChunk{ToolCallDelta: &d} }
	if f.calls.Add(1) == 1 {
		delta(llm.ToolCallDelta{ID: "a", Name: "add"})
		delta(llm.ToolCallDelta{Arguments: `{"x":2,"y":2}`})
	} else {
		delta(llm.ToolCallDelta{ID: "b", Name: "final_answer"})
		delta(llm.ToolCallDelta{Arguments: `{"answer":"4","tools_used":["add"]}`})
	}
	ch <- llm.StreamChunk{Done: true}
	return nil
}

func TestExecute_WithAgentEngine(t *testing.T) {
	tools := agent.NewToolRegistry(agent.NewBuiltinTools(agent.BuiltinOptions{})...)
	eng := agent.NewAgent(agent.DefaultConfig(), &fakeLLM{}, tools, agent.WithHooks(tracing.NewHook()))
	store := tracing.NewStore(1)

	out, err := Collect(New(eng, WithTraceStore(store)).Execute(context.Background(), "What is 2+2?"))
	require.NoError(t, err)
	assert.Equal(t,
		`<step><step_name>add</step_name>{"x":2,"y":2}</step>`+
			`<step><step_name>final_answer</step_name>{"answer":"4","tools_used":["add"]}</step>`,
		out)

	snap := store.List(1)[0].Snapshot()
	var names []string
	for _, s := range snap.Spans {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "llm.call")
	assert.Contains(t, names, "tool.call")
}

// textLLM replies with plain text and no tool call.
type textLLM struct{}

func (textLLM) Stream(ctx context.Context, req llm.Request, ch chan<- llm.StreamChunk) error {
	defer close(ch)
	ch <- llm.StreamChunk{Delta: "4"}
	ch <- llm.StreamChunk{Done: true}
	return nil
}

func TestExecute_TextOnlyReplyProducesNoFragments(t *testing.T) {
	cfg := agent.DefaultConfig()
	cfg.ToolChoice = llm.ToolChoiceAuto
	eng := agent.NewAgent(cfg, textLLM{}, agent.NewToolRegistry(agent.FinalAnswer()))

	out, err := Collect(New(eng).Execute(context.Background(), "What is 2+2?"))
	require.NoError(t, err)
	assert.Empty(t, out, "no step opened, so no </step> either")
}

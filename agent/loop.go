package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"stepstream/llm"
	"stepstream/sink"
)

// FinalAnswerTool is the tool name that ends a run.
const FinalAnswerTool = "final_answer"

// ErrUnknownTool is reported to the model when it calls a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Agent is the built-in tool-calling engine. It streams every model call
// into the recorder so a consumer can watch tool calls as they form.
type Agent struct {
	Config *Config
	LLM    llm.Client
	Tools  *ToolRegistry
	Hooks  []Hook

	log      zerolog.Logger
	toolDone func(tool, status string)
}

// Compile-time check that *Agent implements Engine.
var _ Engine = (*Agent)(nil)

// Option configures an Agent.
type Option func(*Agent)

// WithHooks appends hooks. Earlier hooks wrap later ones.
func WithHooks(hooks ...Hook) Option {
	return func(a *Agent) { a.Hooks = append(a.Hooks, hooks...) }
}

// WithLogger sets the agent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// WithToolObserver registers a callback invoked after each tool execution
// with status "ok" or "error".
func WithToolObserver(fn func(tool, status string)) Option {
	return func(a *Agent) { a.toolDone = fn }
}

// NewAgent creates a new Agent. A nil config uses DefaultConfig.
func NewAgent(cfg *Config, client llm.Client, tools *ToolRegistry, opts ...Option) *Agent {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	a := &Agent{
		Config: cfg,
		LLM:    client,
		Tools:  tools,
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Invoke runs the LLM-tool loop for a single user input.
func (a *Agent) Invoke(ctx context.Context, input string, rec sink.Recorder) (*Result, error) {
	msgs := Messages{}.Human(input)
	if err := msgs.Validate(); err != nil {
		return nil, err
	}

	toolSchemas := buildToolSchemas(a.Tools)
	modelCall := a.buildModelChain(toolSchemas, rec)
	toolCall := a.buildToolCallChain()

	tr := TraceFromContext(ctx)
	if tr != nil {
		tr.RecordEvent("tools.available", map[string]any{
			"count": len(toolSchemas),
			"tools": a.Tools.Names(),
		})
	}

	var used []string
	maxIter := a.Config.maxIterations()

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := modelCall(ctx, msgs)
		if err != nil {
			return nil, fmt.Errorf("LLM call: %w", err)
		}
		msgs = msgs.AI(resp.Content, resp.ToolCalls...)

		if len(resp.ToolCalls) == 0 {
			return &Result{Answer: resp.Content, ToolsUsed: used, Steps: iter + 1}, nil
		}

		results := a.runTools(ctx, resp.ToolCalls, toolCall)
		for _, r := range results {
			msgs = msgs.Tool(r.ToolCallID, r.Name, r.Output)
		}

		for _, tc := range resp.ToolCalls {
			if tc.Name == FinalAnswerTool {
				return finalResult(tc, used, iter+1), nil
			}
			used = appendUnique(used, tc.Name)
		}
	}

	a.log.Warn().
		Int("max_iterations", maxIter).
		Msg("max iterations reached without a final answer")
	return &Result{Answer: msgs.LastAssistantContent(), ToolsUsed: used, Steps: maxIter}, nil
}

// runTools executes the calls of one response concurrently and returns the
// results in call order.
func (a *Agent) runTools(ctx context.Context, calls []ToolCall, chain ToolCallFunc) []ToolResult {
	var wg sync.WaitGroup
	results := make([]ToolResult, len(calls))

	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc ToolCall) {
			defer wg.Done()
			wrapped, err := chain(ctx, tc)
			var result ToolResult
			switch {
			case err != nil:
				result = ToolResult{ToolCallID: tc.ID, Name: tc.Name, Error: err.Error(), Output: "Error: " + err.Error()}
			case wrapped != nil:
				result = *wrapped
			default:
				result = ToolResult{ToolCallID: tc.ID, Name: tc.Name}
			}
			results[idx] = result

			if a.toolDone != nil {
				status := "ok"
				if result.Error != "" {
					status = "error"
				}
				a.toolDone(tc.Name, status)
			}
		}(i, tc)
	}
	wg.Wait()
	return results
}

func (a *Agent) executeTool(ctx context.Context, tc ToolCall) ToolResult {
	tool := a.Tools.Get(tc.Name)
	if tool == nil {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, tc.Name)
		return ToolResult{ToolCallID: tc.ID, Name: tc.Name, Error: err.Error(), Output: "Error: " + err.Error()}
	}
	if tc.Args == nil {
		return ToolResult{ToolCallID: tc.ID, Name: tc.Name, Error: "invalid arguments", Output: "Error: invalid arguments: " + tc.RawArgs}
	}

	output, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		return ToolResult{ToolCallID: tc.ID, Name: tc.Name, Error: err.Error(), Output: "Error: " + err.Error()}
	}
	return ToolResult{ToolCallID: tc.ID, Name: tc.Name, Output: output}
}

func (a *Agent) buildModelChain(toolSchemas []llm.ToolSchema, rec sink.Recorder) ModelCallFunc {
	base := func(ctx context.Context, msgs []Message) (*ModelResponse, error) {
		return a.streamModel(ctx, msgs, toolSchemas, rec)
	}

	// Wrap with hooks (reverse order so index-0 is outermost)
	fn := ModelCallFunc(base)
	for i := len(a.Hooks) - 1; i >= 0; i-- {
		hook := a.Hooks[i]
		prev := fn
		fn = func(ctx context.Context, msgs []Message) (*ModelResponse, error) {
			return hook.WrapModelCall(ctx, msgs, prev)
		}
	}
	return fn
}

// streamModel makes one streamed model call. Each tool call delta is
// recorded as it arrives. A step-end sentinel closes each tool call, either
// at the switch to the next index or at the end of the call.
func (a *Agent) streamModel(ctx context.Context, msgs []Message, toolSchemas []llm.ToolSchema, rec sink.Recorder) (*ModelResponse, error) {
	parallel := false
	req := llm.Request{
		Messages:          convertMessages(msgs),
		Tools:             toolSchemas,
		SystemPrompt:      a.Config.SystemPrompt,
		MaxTokens:         a.Config.MaxTokens,
		Temperature:       a.Config.Temperature,
		ToolChoice:        a.Config.toolChoice(),
		ParallelToolCalls: &parallel,
	}
	if len(toolSchemas) == 0 {
		req.ToolChoice = ""
		req.ParallelToolCalls = nil
	}

	chunkCh := make(chan llm.StreamChunk, 64)
	var llmErr error
	var llmDone sync.WaitGroup
	llmDone.Add(1)
	go func() {
		defer llmDone.Done()
		llmErr = a.LLM.Stream(ctx, req, chunkCh)
	}()

	var content strings.Builder
	acc := newToolCallAccumulator()
	var streamErr error

	// Keep draining after an error so the producer never blocks.
	for chunk := range chunkCh {
		if streamErr != nil {
			continue
		}
		if chunk.Error != nil {
			streamErr = chunk.Error
			continue
		}
		if chunk.Delta != "" {
			content.WriteString(chunk.Delta)
			rec.Record(sink.ContentPayload(chunk.Delta))
		}
		if d := chunk.ToolCallDelta; d != nil {
			if acc.switchesIndex(d.Index) {
				rec.Record(sink.StepEndPayload())
			}
			acc.add(d)
			rec.Record(sink.ToolCallPayload(sink.ToolCallChunk{
				Index:     d.Index,
				ID:        d.ID,
				Name:      d.Name,
				Arguments: d.Arguments,
			}))
		}
	}

	llmDone.Wait()
	if streamErr != nil {
		return nil, streamErr
	}
	if llmErr != nil {
		return nil, llmErr
	}

	// A reply without tool calls opened no step, so there is nothing to close.
	if acc.started {
		rec.Record(sink.StepEndPayload())
	}

	return &ModelResponse{
		Content:   content.String(),
		ToolCalls: acc.calls(),
	}, nil
}

// buildToolCallChain builds an onion-ring chain for tool execution,
// wrapping the actual executeTool call with all WrapToolCall hooks.
func (a *Agent) buildToolCallChain() ToolCallFunc {
	base := func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
		r := a.executeTool(ctx, tc)
		return &r, nil
	}

	fn := ToolCallFunc(base)
	for i := len(a.Hooks) - 1; i >= 0; i-- {
		hook := a.Hooks[i]
		prev := fn
		fn = func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
			return hook.WrapToolCall(ctx, tc, prev)
		}
	}
	return fn
}

// toolCallAccumulator rebuilds complete tool calls from streamed deltas.
type toolCallAccumulator struct {
	order   []int
	byIndex map[int]*ToolCall
	args    map[int]*strings.Builder
	current int
	started bool
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		byIndex: make(map[int]*ToolCall),
		args:    make(map[int]*strings.Builder),
	}
}

// switchesIndex reports whether idx starts a new call after another one.
func (t *toolCallAccumulator) switchesIndex(idx int) bool {
	return t.started && idx != t.current
}

func (t *toolCallAccumulator) add(d *llm.ToolCallDelta) {
	t.current = d.Index
	t.started = true

	tc, ok := t.byIndex[d.Index]
	if !ok {
		tc = &ToolCall{}
		t.byIndex[d.Index] = tc
		t.args[d.Index] = &strings.Builder{}
		t.order = append(t.order, d.Index)
	}
	if d.ID != "" {
		tc.ID = d.ID
	}
	if d.Name != "" {
		tc.Name = d.Name
	}
	t.args[d.Index].WriteString(d.Arguments)
}

func (t *toolCallAccumulator) calls() []ToolCall {
	if len(t.order) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(t.order))
	for _, idx := range t.order {
		tc := *t.byIndex[idx]
		tc.RawArgs = t.args[idx].String()
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d", idx)
		}
		tc.Args = parseArgs(tc.RawArgs)
		out = append(out, tc)
	}
	return out
}

// parseArgs decodes a raw arguments string. Empty input is an empty object;
// malformed input yields nil.
func parseArgs(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}

func finalResult(tc ToolCall, used []string, steps int) *Result {
	answer, _ := tc.Args["answer"].(string)
	tools := used
	if raw, ok := tc.Args["tools_used"].([]any); ok && len(raw) > 0 {
		tools = make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tools = append(tools, s)
			}
		}
	}
	return &Result{Answer: answer, ToolsUsed: tools, Steps: steps}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func convertMessages(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			raw := tc.RawArgs
			if raw == "" {
				b, _ := json.Marshal(tc.Args)
				raw = string(b)
			}
			out[i].ToolCalls = append(out[i].ToolCalls, llm.ToolCallInfo{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: raw,
			})
		}
	}
	return out
}

func buildToolSchemas(reg *ToolRegistry) []llm.ToolSchema {
	all := reg.All()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	schemas := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		t := all[name]
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return schemas
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSerpAPIURL is the SerpAPI search endpoint.
const DefaultSerpAPIURL = "https://serpapi.com/search.json"

// BuiltinOptions configures the built-in tool set.
type BuiltinOptions struct {
	SerpAPIKey string
	SerpAPIURL string // overrides DefaultSerpAPIURL, mostly for tests
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewBuiltinTools returns the built-in tools. serpapi is only included when
// a SerpAPI key is configured.
func NewBuiltinTools(opts BuiltinOptions) []Tool {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.SerpAPIURL == "" {
		opts.SerpAPIURL = DefaultSerpAPIURL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tools := []Tool{
		binaryTool("add", "Add 'x' and 'y'.", func(x, y float64) float64 { return x + y }),
		binaryTool("subtract", "Subtract 'x' from 'y'.", func(x, y float64) float64 { return y - x }),
		binaryTool("multiply", "Multiply 'x' and 'y'.", func(x, y float64) float64 { return x * y }),
		binaryTool("exponentiate", "Raise 'x' to the power of 'y'.", math.Pow),
	}

	tools = append(tools, &FuncTool{
		ToolName: "calculate",
		ToolDesc: "Evaluate a mathematical expression. Supports basic arithmetic (+, -, *, /, ^, %, sqrt).",
		ToolParams: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{"type": "string", "description": "Mathematical expression to evaluate"},
			},
			"required": []string{"expression"},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			expr, _ := args["expression"].(string)
			if expr == "" {
				return "Error: expression is required", nil
			}
			return calculate(expr), nil
		},
	})

	now := opts.Now
	tools = append(tools, &FuncTool{
		ToolName:   "current_datetime",
		ToolDesc:   "Get the current date and time in UTC and local timezone.",
		ToolParams: map[string]any{"type": "object", "properties": map[string]any{}},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			t := now()
			return fmt.Sprintf("UTC: %s\nLocal: %s", t.UTC().Format(time.RFC3339), t.Format(time.RFC3339)), nil
		},
	})

	if opts.SerpAPIKey != "" {
		key, endpoint, client := opts.SerpAPIKey, opts.SerpAPIURL, opts.HTTPClient
		tools = append(tools, &FuncTool{
			ToolName: "serpapi",
			ToolDesc: "Use this tool to search the web.",
			ToolParams: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Search query"},
				},
				"required": []string{"query"},
			},
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				query, _ := args["query"].(string)
				if query == "" {
					return "Error: query is required", nil
				}
				return serpSearch(ctx, client, endpoint, key, query)
			},
		})
	}

	tools = append(tools, FinalAnswer())
	return tools
}

// FinalAnswer returns the tool the model calls to finish a run.
func FinalAnswer() Tool {
	return &FuncTool{
		ToolName: FinalAnswerTool,
		ToolDesc: "Use this tool to provide a final answer to the user.",
		ToolParams: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"answer": map[string]any{"type": "string", "description": "The answer to the user's question"},
				"tools_used": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Tools used to produce the answer",
				},
			},
			"required": []string{"answer", "tools_used"},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			answer, _ := args["answer"].(string)
			return answer, nil
		},
	}
}

func binaryTool(name, desc string, fn func(x, y float64) float64) Tool {
	return &FuncTool{
		ToolName: name,
		ToolDesc: desc,
		ToolParams: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "number"},
				"y": map[string]any{"type": "number"},
			},
			"required": []string{"x", "y"},
		},
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			x, err := numberArg(args, "x")
			if err != nil {
				return "", err
			}
			y, err := numberArg(args, "y")
			if err != nil {
				return "", err
			}
			return strconv.FormatFloat(fn(x, y), 'g', -1, 64), nil
		},
	}
}

func numberArg(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", key, err)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("argument %q is required", key)
	default:
		return 0, fmt.Errorf("argument %q: unsupported type %T", key, v)
	}
}

// serpSearch runs a Google search through SerpAPI and formats the top
// organic results.
func serpSearch(ctx context.Context, client *http.Client, endpoint, apiKey, query string) (string, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("api_key", apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "Error: " + err.Error(), nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return "Error: search request failed: " + err.Error(), nil
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error: search API returned %d: %s", resp.StatusCode, string(data)), nil
	}

	var result struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Source  string `json:"source"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "Error parsing search results: " + err.Error(), nil
	}

	var sb strings.Builder
	for i, r := range result.OrganicResults {
		if i == 5 {
			break
		}
		fmt.Fprintf(&sb, "Title: %s\nSource: %s\nLink: %s\nSnippet: %s\n\n", r.Title, r.Source, r.Link, r.Snippet)
	}
	if sb.Len() == 0 {
		return "No results found.", nil
	}
	return sb.String(), nil
}

// calculate evaluates a simple math expression.
func calculate(expr string) string {
	expr = strings.TrimSpace(expr)

	if strings.HasPrefix(expr, "sqrt(") && strings.HasSuffix(expr, ")") {
		val, err := strconv.ParseFloat(strings.TrimSpace(expr[5:len(expr)-1]), 64)
		if err != nil {
			return "Error: invalid number in sqrt"
		}
		return fmt.Sprintf("%g", math.Sqrt(val))
	}

	// Simple two-operand expression; a leading sign belongs to the number.
	for _, op := range []byte{'+', '-', '*', '/', '^', '%'} {
		idx := strings.IndexByte(expr[min(1, len(expr)):], op)
		if idx < 0 {
			continue
		}
		idx++

		left, err1 := strconv.ParseFloat(strings.TrimSpace(expr[:idx]), 64)
		right, err2 := strconv.ParseFloat(strings.TrimSpace(expr[idx+1:]), 64)
		if err1 != nil || err2 != nil {
			continue
		}

		switch op {
		case '+':
			return fmt.Sprintf("%g", left+right)
		case '-':
			return fmt.Sprintf("%g", left-right)
		case '*':
			return fmt.Sprintf("%g", left*right)
		case '/':
			if right == 0 {
				return "Error: division by zero"
			}
			return fmt.Sprintf("%g", left/right)
		case '^':
			return fmt.Sprintf("%g", math.Pow(left, right))
		case '%':
			return fmt.Sprintf("%g", math.Mod(left, right))
		}
	}

	if val, err := strconv.ParseFloat(expr, 64); err == nil {
		return fmt.Sprintf("%g", val)
	}
	return "Error: could not evaluate expression: " + expr
}

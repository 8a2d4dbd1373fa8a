package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentloop/agentloop/pkg/models"
)

// openAIClient issues chat completions against one OpenAI-compatible
// endpoint. It has no retry logic of its own — the Gateway owns retry
// and fallback across candidates; this client makes exactly one attempt.
type openAIClient struct {
	httpClient *http.Client
}

func newOpenAIClient() *openAIClient {
	return &openAIClient{httpClient: &http.Client{}}
}

type chatCompletionRequest struct {
	Model     string            `json:"model"`
	Messages  []openAIMessage   `json:"messages"`
	Tools     []openAITool      `json:"tools,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []openAIToolUse `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type openAIToolUse struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string                 `json:"type"`
	Function openAIToolFunctionSpec `json:"function"`
}

type openAIToolFunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string          `json:"content"`
			ToolCalls []openAIToolUse `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// chat performs one HTTP POST to spec.EndpointURL + "/chat/completions"
// with the given deadline. The returned error is already classified:
// ErrInvariant for a 4xx other than 429 and for a malformed or empty
// response body, plain errors otherwise (network, timeout, 429, 5xx) for
// the caller to count against the breaker.
func (c *openAIClient) chat(ctx context.Context, spec *models.ModelSpec, req Request, deadline time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	body := chatCompletionRequest{Model: spec.ID, MaxTokens: req.MaxTokens}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toOpenAIMessage(m))
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrInvariant, err)
	}

	url := strings.TrimRight(spec.EndpointURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInvariant, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if spec.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+spec.APIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request to %s: %w", spec.ID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", spec.ID, err)
	}
	latency := time.Since(start)

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: rate limited (429)", spec.ID)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrInvariant, spec.ID, resp.StatusCode, truncate(string(respBody), 500))
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%s returned %d: %s", spec.ID, resp.StatusCode, truncate(string(respBody), 500))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s returned malformed JSON: %v", ErrInvariant, spec.ID, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s returned no choices", ErrInvariant, spec.ID)
	}

	choice := parsed.Choices[0]
	result := &Result{
		Content:      choice.Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		LatencyMS:    latency.Milliseconds(),
		ModelUsed:    spec.ID,
		FinishReason: choice.FinishReason,
		CostUSD:      estimateCost(spec, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens),
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return result, nil
}

func toOpenAIMessage(m ChatMessage) openAIMessage {
	out := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		argsJSON, _ := json.Marshal(tc.Arguments)
		out.ToolCalls = append(out.ToolCalls, openAIToolUse{
			ID:   tc.ID,
			Type: "function",
			Function: openAIToolFunction{
				Name:      tc.Name,
				Arguments: string(argsJSON),
			},
		})
	}
	return out
}

func estimateCost(spec *models.ModelSpec, inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1000*spec.InputCostPer1K + float64(outputTokens)/1000*spec.OutputCostPer1K
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

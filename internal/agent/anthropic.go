package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	defaultMaxTokens        = 4096
)

// AnthropicClient implements Engine against the Anthropic Messages API.
type AnthropicClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	logger     *slog.Logger
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithBaseURL overrides the API base URL. Used by tests.
func WithBaseURL(u string) AnthropicOption {
	return func(c *AnthropicClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithMaxTokens sets the per-response token budget.
func WithMaxTokens(n int) AnthropicOption {
	return func(c *AnthropicClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithAnthropicLogger sets the client logger.
func WithAnthropicLogger(logger *slog.Logger) AnthropicOption {
	return func(c *AnthropicClient) { c.logger = logger }
}

// NewAnthropicClient creates a Messages API client for the given model.
func NewAnthropicClient(apiKey, model string, opts ...AnthropicOption) *AnthropicClient {
	c := &AnthropicClient{
		httpClient: &http.Client{},
		baseURL:    defaultAnthropicBaseURL,
		apiKey:     apiKey,
		model:      model,
		maxTokens:  defaultMaxTokens,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages API request/response shapes (unexported).

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type messagesRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []Turn          `json:"messages"`
	Tools     []anthropicTool `json:"tools,omitempty"`
}

type messagesResponse struct {
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

// Respond sends the conversation and tool catalog and parses the reply's
// text and tool-use blocks.
func (c *AnthropicClient) Respond(ctx context.Context, turns []Turn, tools []mcp.Tool) (*Reply, error) {
	reqBody := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  turns,
	}
	for _, t := range tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal tool schema %s: %w", t.Name, err)
		}
		reqBody.Tools = append(reqBody.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messages request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("messages request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return replyFromBlocks(parsed.Content, parsed.StopReason)
}

// replyFromBlocks splits a response's content blocks into display text and
// tool calls, preserving the blocks verbatim for the conversation log.
func replyFromBlocks(blocks []ContentBlock, stopReason string) (*Reply, error) {
	reply := &Reply{StopReason: stopReason, Raw: blocks}
	var text []string
	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			text = append(text, blk.Text)
		case "tool_use":
			args := map[string]any{}
			if len(blk.Input) > 0 {
				if err := json.Unmarshal(blk.Input, &args); err != nil {
					return nil, fmt.Errorf("parse tool input for %s: %w", blk.Name, err)
				}
			}
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{ID: blk.ID, Name: blk.Name, Args: args})
		}
	}
	reply.Text = strings.Join(text, "\n")
	return reply, nil
}

var _ Engine = (*AnthropicClient)(nil)

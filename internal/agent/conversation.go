// Package agent drives a tool-use conversation loop: it sends the
// conversation to a reasoning engine, dispatches requested tool calls
// through the tool bridge, appends the results, and repeats until the
// engine responds with no further tool calls.
package agent

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentBlock is one unit of conversation content: plain text, a tool
// invocation request from the engine, or a tool result fed back to it.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", "tool_result"

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Turn is one entry in the append-only conversation log.
type Turn struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolCall is a tool invocation requested by the engine.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Reply is one reasoning response: its text plus any tool calls, in the
// order the engine requested them.
type Reply struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	// Raw holds the response content blocks exactly as received, so they
	// can be appended back into the log unmodified.
	Raw []ContentBlock
}

// Engine is the reasoning side of the loop.
type Engine interface {
	// Respond sends the conversation and the tool catalog and returns the
	// engine's next reply.
	Respond(ctx context.Context, turns []Turn, tools []mcp.Tool) (*Reply, error)
}

func userTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: text}}}
}

func toolResultBlock(toolUseID, result string) ContentBlock {
	return ContentBlock{Type: "tool_result", ToolUseID: toolUseID, Content: result}
}

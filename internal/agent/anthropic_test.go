package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/martindkaz/email-reader/internal/tools"
)

func TestAnthropicRespond(t *testing.T) {
	var gotReq messagesRequest
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"stop_reason": "tool_use",
			"content": []map[string]any{
				{"type": "text", "text": "Let me search."},
				{"type": "tool_use", "id": "toolu_01", "name": "search_emails",
					"input": map[string]any{"query": "budget", "page_size": 10}},
			},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient("sk-test", "claude-sonnet-4-5",
		WithBaseURL(srv.URL),
		WithMaxTokens(1024),
		WithAnthropicLogger(discardLogger()),
	)

	reply, err := c.Respond(context.Background(), []Turn{userTurn("any budget emails?")}, tools.Catalog())
	if err != nil {
		t.Fatal(err)
	}

	if gotHeaders.Get("X-Api-Key") != "sk-test" {
		t.Errorf("missing api key header")
	}
	if gotHeaders.Get("Anthropic-Version") != anthropicVersion {
		t.Errorf("version header = %q", gotHeaders.Get("Anthropic-Version"))
	}
	if gotReq.Model != "claude-sonnet-4-5" || gotReq.MaxTokens != 1024 {
		t.Errorf("request carried model=%q max_tokens=%d", gotReq.Model, gotReq.MaxTokens)
	}
	if len(gotReq.Tools) != 3 {
		t.Fatalf("request carried %d tools, want 3", len(gotReq.Tools))
	}
	for _, tool := range gotReq.Tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			t.Errorf("tool %s schema not valid JSON: %v", tool.Name, err)
		}
		if schema["type"] != "object" {
			t.Errorf("tool %s schema type = %v", tool.Name, schema["type"])
		}
	}

	if reply.Text != "Let me search." {
		t.Errorf("text = %q", reply.Text)
	}
	if reply.StopReason != "tool_use" {
		t.Errorf("stop reason = %q", reply.StopReason)
	}
	if len(reply.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(reply.ToolCalls))
	}
	call := reply.ToolCalls[0]
	if call.ID != "toolu_01" || call.Name != "search_emails" {
		t.Errorf("tool call = %+v", call)
	}
	if call.Args["query"] != "budget" || call.Args["page_size"] != float64(10) {
		t.Errorf("tool args = %v", call.Args)
	}
	if len(reply.Raw) != 2 {
		t.Errorf("raw blocks = %d, want 2", len(reply.Raw))
	}
}

func TestAnthropicRespondHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAnthropicClient("bad-key", "m", WithBaseURL(srv.URL), WithAnthropicLogger(discardLogger()))
	if _, err := c.Respond(context.Background(), []Turn{userTurn("hi")}, nil); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestReplyFromBlocks(t *testing.T) {
	t.Run("joins text blocks", func(t *testing.T) {
		reply, err := replyFromBlocks([]ContentBlock{
			{Type: "text", Text: "part one"},
			{Type: "text", Text: "part two"},
		}, "end_turn")
		if err != nil {
			t.Fatal(err)
		}
		if reply.Text != "part one\npart two" {
			t.Errorf("text = %q", reply.Text)
		}
	})

	t.Run("empty tool input", func(t *testing.T) {
		reply, err := replyFromBlocks([]ContentBlock{
			{Type: "tool_use", ID: "t1", Name: "list_email_attachments"},
		}, "tool_use")
		if err != nil {
			t.Fatal(err)
		}
		if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Args == nil {
			t.Errorf("tool calls = %+v", reply.ToolCalls)
		}
	})

	t.Run("malformed tool input", func(t *testing.T) {
		_, err := replyFromBlocks([]ContentBlock{
			{Type: "tool_use", ID: "t1", Name: "x", Input: json.RawMessage(`not json`)},
		}, "tool_use")
		if err == nil {
			t.Fatal("expected parse error")
		}
	})
}

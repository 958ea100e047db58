package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/oauth2"

	"github.com/martindkaz/email-reader/internal/graph"
)

// CredentialSource produces a bearer credential for the Graph API. It
// fails closed: no token source before a successful Connect.
type CredentialSource interface {
	Connect(ctx context.Context) error
	TokenSource() (oauth2.TokenSource, error)
}

// Bridge dispatches tool invocations against the mail search client.
//
// The first invocation establishes one authenticated session for the
// process lifetime; a credential failure there is fatal and surfaced as
// an error. Every other fault — missing argument, downstream failure,
// even a handler panic — is converted into a textual error result so the
// calling loop can always continue.
type Bridge struct {
	creds      CredentialSource
	logger     *slog.Logger
	clientOpts []graph.Option
	client     *graph.Client
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

// WithClientOptions passes options through to the Graph client built at
// session time. Tests use this to point at a fake server.
func WithClientOptions(opts ...graph.Option) BridgeOption {
	return func(b *Bridge) { b.clientOpts = opts }
}

// NewBridge creates a bridge over the given credential source.
func NewBridge(creds CredentialSource, opts ...BridgeOption) *Bridge {
	b := &Bridge{creds: creds, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnsureSession lazily establishes the authenticated session and builds
// the Graph client. Idempotent; later calls reuse the session.
func (b *Bridge) EnsureSession(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	if err := b.creds.Connect(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	ts, err := b.creds.TokenSource()
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	opts := append([]graph.Option{graph.WithLogger(b.logger)}, b.clientOpts...)
	b.client = graph.NewClient(ts, opts...)
	b.logger.Debug("tool session established")
	return nil
}

// Close releases bridge-held scratch resources.
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.ReleaseScratchDir()
	}
}

// Call dispatches one tool invocation by name and returns exactly one
// text payload. The only error it can return is a failed session
// establishment; past that point faults come back as error text.
func (b *Bridge) Call(ctx context.Context, name string, args map[string]any) (result string, err error) {
	if err := b.EnsureSession(ctx); err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("tool handler panicked", "tool", name, "panic", r)
			result = fmt.Sprintf("Error in tool %s: internal fault: %v", name, r)
			err = nil
		}
	}()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var res *mcp.CallToolResult
	switch name {
	case ToolSearchEmails:
		res, _ = b.searchEmails(ctx, req)
	case ToolGetEmailDetails:
		res, _ = b.getEmailDetails(ctx, req)
	case ToolListEmailAttachments:
		res, _ = b.listEmailAttachments(ctx, req)
	default:
		return fmt.Sprintf("Error: unknown tool: %s", name), nil
	}
	return resultToText(name, res), nil
}

// resultToText flattens a tool result into one text payload, tagging
// error results with the tool name.
func resultToText(name string, res *mcp.CallToolResult) string {
	if res == nil || len(res.Content) == 0 {
		return fmt.Sprintf("Error in tool %s: empty result", name)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		return fmt.Sprintf("Error in tool %s: non-text result", name)
	}
	if res.IsError {
		return fmt.Sprintf("Error in tool %s: %s", name, tc.Text)
	}
	return tc.Text
}

func (b *Bridge) searchEmails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	pageSize := pageSizeArg(args, "page_size", defaultPageSize)

	mode, _ := args["match_mode"].(string)
	if mode == "" {
		mode = string(graph.MatchRaw)
	}
	if !graph.ValidMatchMode(mode) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid match_mode: %s", mode)), nil
	}

	b.logger.Info("searching emails", "query", query, "match_mode", mode, "page_size", pageSize)

	msgs, _, err := b.client.Search(ctx, query, pageSize, "", graph.MatchMode(mode))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(msgs) == 0 {
		return mcp.NewToolResultText("No emails found matching query: " + query), nil
	}
	return mcp.NewToolResultText(b.client.RenderBatch(msgs)), nil
}

func (b *Bridge) getEmailDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	emailID, _ := args["email_id"].(string)
	if emailID == "" {
		return mcp.NewToolResultError("email_id parameter is required"), nil
	}

	b.logger.Info("getting email details", "email_id", emailID)

	msg, err := b.client.GetMessage(ctx, emailID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fetching email details: %v", err)), nil
	}
	return mcp.NewToolResultText(b.client.RenderFull(ctx, msg)), nil
}

func (b *Bridge) listEmailAttachments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	emailID, _ := args["email_id"].(string)
	if emailID == "" {
		return mcp.NewToolResultError("email_id parameter is required"), nil
	}

	b.logger.Info("listing attachments", "email_id", emailID)

	atts := b.client.FetchAttachments(ctx, emailID)
	if len(atts) == 0 {
		return mcp.NewToolResultText("No attachments found for this email"), nil
	}

	text := fmt.Sprintf("Found %d attachment(s):\n", len(atts))
	for i, att := range atts {
		text += fmt.Sprintf("\n%d. %s (%d bytes, %s)", i+1, att.Name, att.Size, att.ContentType)
	}
	return mcp.NewToolResultText(text), nil
}

// pageSizeArg extracts a page size from the arguments map, applying the
// default and the hard cap. JSON numbers arrive as float64.
func pageSizeArg(args map[string]any, key string, def int) int {
	v, ok := args[key].(float64)
	if !ok {
		return def
	}
	if math.IsNaN(v) || v < 1 {
		return def
	}
	if math.IsInf(v, 1) || v > maxPageSize {
		return maxPageSize
	}
	return int(v)
}

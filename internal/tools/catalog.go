// Package tools exposes the mail search operations as a fixed catalog of
// named tools with declared argument schemas, dispatches invocations
// against the Graph client, and normalizes every outcome to text.
package tools

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool name constants.
const (
	ToolSearchEmails         = "search_emails"
	ToolGetEmailDetails      = "get_email_details"
	ToolListEmailAttachments = "list_email_attachments"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Catalog returns the tool declarations the reasoning engine sees. The
// catalog is fixed; adding a tool means adding a handler in bridge.go.
func Catalog() []mcp.Tool {
	return []mcp.Tool{searchEmailsTool(), getEmailDetailsTool(), listEmailAttachmentsTool()}
}

func searchEmailsTool() mcp.Tool {
	return mcp.NewTool(ToolSearchEmails,
		mcp.WithDescription("Search emails in the Outlook mailbox via the Microsoft Graph API. "+
			"Supports match modes: 'raw' (query passed through), 'single' (quoted once), "+
			"'and' (all words must match), 'or' (any word matches), 'phrase' (escaped quoted phrase). "+
			"Returns one combined text document with sender, subject, date, recipients, and body per email."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string (e.g. 'meeting notes', 'project update')"),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Number of emails to return (default 50, max 100)"),
			mcp.DefaultNumber(defaultPageSize),
		),
		mcp.WithString("match_mode",
			mcp.Description("How the query is embedded in the search expression"),
			mcp.Enum("raw", "single", "and", "or", "phrase"),
			mcp.DefaultString("raw"),
		),
	)
}

func getEmailDetailsTool() mcp.Tool {
	return mcp.NewTool(ToolGetEmailDetails,
		mcp.WithDescription("Get full details of one email by its ID: headers, recipients, "+
			"attachment listing, and the body as plain text. Use after search_emails."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("email_id",
			mcp.Required(),
			mcp.Description("The Graph API email ID (from search results)"),
		),
	)
}

func listEmailAttachmentsTool() mcp.Tool {
	return mcp.NewTool(ToolListEmailAttachments,
		mcp.WithDescription("List attachments for one email: names, sizes, and content types. "+
			"Metadata only, nothing is downloaded."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("email_id",
			mcp.Required(),
			mcp.Description("The Graph API email ID"),
		),
	)
}

// Serve exposes the bridge's catalog as an MCP server over stdio. It
// blocks until stdin closes or the context is cancelled. Authentication
// happens lazily on the first tool call.
func Serve(ctx context.Context, b *Bridge) error {
	s := server.NewMCPServer(
		"email-reader",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(searchEmailsTool(), withSession(b, b.searchEmails))
	s.AddTool(getEmailDetailsTool(), withSession(b, b.getEmailDetails))
	s.AddTool(listEmailAttachmentsTool(), withSession(b, b.listEmailAttachments))

	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// withSession establishes the bridge's authenticated session before the
// handler runs. The handlers assume a live Graph client; without this the
// first MCP call would arrive on an unconnected bridge. A credential
// failure is reported as a tool error result so the protocol stream stays
// intact.
func withSession(b *Bridge, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := b.EnsureSession(ctx); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return h(ctx, req)
	}
}

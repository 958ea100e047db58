package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

const defaultEndpoint = "https://graph.microsoft.com/v1.0"

// searchSelect is the field projection requested on every search call.
const searchSelect = "id,internetMessageId,conversationId,subject,from,toRecipients,receivedDateTime,bodyPreview,uniqueBody,hasAttachments"

// MatchMode selects how a query string is embedded in the outbound
// $search expression.
type MatchMode string

const (
	// MatchRaw passes the query through unchanged.
	MatchRaw MatchMode = "raw"
	// MatchAnd tokenizes on whitespace and requires every token, each
	// individually quoted.
	MatchAnd MatchMode = "and"
	// MatchOr tokenizes on whitespace and matches any token, each
	// individually quoted.
	MatchOr MatchMode = "or"
	// MatchPhrase wraps the whole query in one escaped quoted phrase.
	MatchPhrase MatchMode = "phrase"
	// MatchSingle wraps the whole query in quotes exactly once, without
	// tokenizing.
	MatchSingle MatchMode = "single"
)

// ValidMatchMode reports whether s names a known match mode.
func ValidMatchMode(s string) bool {
	switch MatchMode(s) {
	case MatchRaw, MatchAnd, MatchOr, MatchPhrase, MatchSingle:
		return true
	}
	return false
}

// ErrNoQuery is returned when a search is attempted with neither a query
// nor a continuation cursor. This is a caller bug, not a remote condition,
// so no request is issued.
var ErrNoQuery = errors.New("graph: search requires a query or a cursor")

// Client issues mail search and attachment calls against the Graph API.
//
// Remote failures (transport errors or non-2xx responses) are logged and
// degrade to empty results on the search paths; callers must treat an
// empty page as ambiguous between "no matches" and "call failed".
type Client struct {
	httpClient *http.Client
	endpoint   string
	logger     *slog.Logger
	scratchDir string
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the Graph API base URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the token-bearing HTTP client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Graph client that authenticates every request with
// tokens drawn from the given source.
func NewClient(tokenSource oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient: oauth2.NewClient(context.Background(), tokenSource),
		endpoint:   defaultEndpoint,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get issues a GET against an absolute URL and returns the response body.
// Non-2xx responses become errors carrying the response detail.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// buildSearchExpression produces the $search value for a query under the
// given match mode. The construction is deterministic per mode:
//
//	raw:    query unchanged
//	and:    "tok1" AND "tok2" ...
//	or:     "tok1" OR "tok2" ...
//	phrase: \"query\"  (one escaped quoted phrase)
//	single: "query"    (quoted exactly once, not tokenized)
func buildSearchExpression(query string, mode MatchMode) string {
	switch mode {
	case MatchAnd, MatchOr:
		connective := " AND "
		if mode == MatchOr {
			connective = " OR "
		}
		tokens := strings.Fields(query)
		quoted := make([]string, len(tokens))
		for i, tok := range tokens {
			quoted[i] = `"` + tok + `"`
		}
		return strings.Join(quoted, connective)
	case MatchPhrase:
		return `\"` + query + `\"`
	case MatchSingle:
		return `"` + query + `"`
	default: // MatchRaw
		return query
	}
}

// searchURL builds the first-page search URL for a query.
func (c *Client) searchURL(query string, pageSize int, mode MatchMode) string {
	params := url.Values{}
	params.Set("$search", buildSearchExpression(query, mode))
	params.Set("$top", strconv.Itoa(pageSize))
	params.Set("$select", searchSelect)
	return c.endpoint + "/me/messages?" + params.Encode()
}

// Search runs one page of a message search.
//
// When cursor is non-empty it is followed verbatim — the remote API embeds
// all query state in it — and query and mode are ignored. Otherwise query
// must be non-empty; an empty query with no cursor returns ErrNoQuery
// without issuing a request. The returned cursor is empty on the last page.
func (c *Client) Search(ctx context.Context, query string, pageSize int, cursor string, mode MatchMode) ([]Message, string, error) {
	var reqURL string
	switch {
	case cursor != "":
		reqURL = cursor
	case query != "":
		if pageSize <= 0 {
			pageSize = 10
		}
		reqURL = c.searchURL(query, pageSize, mode)
	default:
		return nil, "", ErrNoQuery
	}

	body, err := c.get(ctx, reqURL)
	if err != nil {
		c.logger.Error("search request failed", "error", err)
		return nil, "", nil
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Error("parse search response", "error", err)
		return nil, "", nil
	}
	return resp.Value, resp.NextLink, nil
}

// GetNext walks search results one message at a time. On the first call
// (empty cursor) it builds a single-result query for mail sent to
// filterTarget; subsequent calls follow the returned cursor. The message
// is nil when the walk is exhausted or the call failed.
func (c *Client) GetNext(ctx context.Context, filterTarget, cursor string) (*Message, string, error) {
	if cursor == "" && filterTarget == "" {
		return nil, "", ErrNoQuery
	}
	msgs, next, err := c.Search(ctx, "to:"+filterTarget, 1, cursor, MatchSingle)
	if err != nil {
		return nil, "", err
	}
	if len(msgs) == 0 {
		return nil, "", nil
	}
	return &msgs[0], next, nil
}

// GetMessage fetches one message by its per-request id, including the full
// body. Unlike the search paths, failures are returned to the caller so
// they can be reported against the specific id.
func (c *Client) GetMessage(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, errors.New("graph: message id is required")
	}
	body, err := c.get(ctx, c.endpoint+"/me/messages/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &msg, nil
}

// FetchAttachments lists attachment records for a message via the
// attachments sub-resource. Failures are logged and degrade to an empty
// list.
func (c *Client) FetchAttachments(ctx context.Context, messageID string) []Attachment {
	if messageID == "" {
		return nil
	}
	body, err := c.get(ctx, c.endpoint+"/me/messages/"+url.PathEscape(messageID)+"/attachments")
	if err != nil {
		c.logger.Error("fetch attachments failed", "message_id", messageID, "error", err)
		return nil
	}
	var resp listAttachmentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Error("parse attachments response", "error", err)
		return nil
	}
	return resp.Value
}

// DownloadAttachment decodes a file attachment's payload into dir and
// returns a descriptor for the written file. Non-file attachments, decode
// failures, and write failures return nil; failures are logged, not
// raised.
func (c *Client) DownloadAttachment(att Attachment, dir string) *SavedAttachment {
	if !att.IsFile() {
		c.logger.Debug("skipping non-file attachment", "name", att.Name, "type", att.ODataType)
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil {
		c.logger.Warn("decode attachment payload failed", "name", att.Name, "error", err)
		return nil
	}

	name := SanitizeFilename(att.Name)
	path := resolveCollision(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.logger.Warn("write attachment failed", "path", path, "error", err)
		return nil
	}

	return &SavedAttachment{
		Name:        filepath.Base(path),
		Size:        int64(len(data)),
		ContentType: att.ContentType,
		Path:        path,
	}
}

// AcquireScratchDir returns a process-local temporary directory for
// attachment payloads, creating it on first use. One message's attachments
// should be released before the next message's are acquired.
func (c *Client) AcquireScratchDir() (string, error) {
	if c.scratchDir != "" {
		return c.scratchDir, nil
	}
	dir, err := os.MkdirTemp("", "email-reader-attachments-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	c.scratchDir = dir
	return dir, nil
}

// ReleaseScratchDir recursively deletes the scratch directory, if any.
func (c *Client) ReleaseScratchDir() {
	if c.scratchDir == "" {
		return
	}
	if err := os.RemoveAll(c.scratchDir); err != nil {
		c.logger.Warn("remove scratch dir failed", "dir", c.scratchDir, "error", err)
	}
	c.scratchDir = ""
}

// SanitizeFilename reduces a filename to a safe character subset:
// alphanumerics, space, dot, underscore, and hyphen. A name that empties
// out falls back to a generic one.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || strings.Trim(out, ".") == "" {
		return "attachment"
	}
	return out
}

// resolveCollision returns a path under dir that does not yet exist,
// appending _1, _2, ... before the extension until one is free.
func resolveCollision(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

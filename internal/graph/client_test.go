package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient builds a client pointed at a fake Graph server.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		WithEndpoint(srv.URL),
		WithLogger(discardLogger()),
	)
	return c, srv
}

func writePage(t *testing.T, w http.ResponseWriter, msgs []Message, nextLink string) {
	t.Helper()
	resp := map[string]any{"value": msgs}
	if nextLink != "" {
		resp["@odata.nextLink"] = nextLink
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("encode page: %v", err)
	}
}

func TestBuildSearchExpression(t *testing.T) {
	tests := []struct {
		name  string
		query string
		mode  MatchMode
		want  string
	}{
		{"raw passes through", "meeting notes", MatchRaw, "meeting notes"},
		{"and quotes each token", "meeting notes", MatchAnd, `"meeting" AND "notes"`},
		{"or quotes each token", "meeting notes", MatchOr, `"meeting" OR "notes"`},
		{"phrase escapes quotes", "meeting notes", MatchPhrase, `\"meeting notes\"`},
		{"single quotes once", "meeting notes", MatchSingle, `"meeting notes"`},
		{"and single token", "budget", MatchAnd, `"budget"`},
		{"and collapses whitespace", "  a   b ", MatchAnd, `"a" AND "b"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchExpression(tt.query, tt.mode); got != tt.want {
				t.Errorf("buildSearchExpression(%q, %q) = %q, want %q", tt.query, tt.mode, got, tt.want)
			}
		})
	}
}

func TestSearchRequiresQueryOrCursor(t *testing.T) {
	c := NewClient(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}),
		WithLogger(discardLogger()),
	)
	_, _, err := c.Search(context.Background(), "", 10, "", MatchRaw)
	if !errors.Is(err, ErrNoQuery) {
		t.Fatalf("expected ErrNoQuery, got %v", err)
	}
}

func TestSearchPagination(t *testing.T) {
	// Two pages; the cursor must come back to the server verbatim and the
	// walk must fetch exactly twice.
	var requests []string
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())
		writePage(t, w, []Message{{ID: "a1", InternetMessageID: "<m1@x>"}}, srv.URL+"/page2?skiptoken=opaque%3Dcursor")
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.String())
		if r.URL.RawQuery != "skiptoken=opaque%3Dcursor" {
			t.Errorf("cursor not passed verbatim: %s", r.URL.RawQuery)
		}
		writePage(t, w, []Message{{ID: "b2", InternetMessageID: "<m2@x>"}}, "")
	})

	c, server := newTestClient(t, mux)
	srv = server

	ctx := context.Background()
	var seen []string
	cursor := ""
	query := "status report"
	fetches := 0
	for {
		msgs, next, err := c.Search(ctx, query, 1, cursor, MatchAnd)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		fetches++
		for _, m := range msgs {
			seen = append(seen, m.InternetMessageID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if fetches != 2 {
		t.Errorf("expected exactly 2 fetches, got %d", fetches)
	}
	if len(requests) != 2 {
		t.Errorf("server saw %d requests, want 2", len(requests))
	}
	if len(seen) != 2 || seen[0] != "<m1@x>" || seen[1] != "<m2@x>" {
		t.Errorf("unexpected message set: %v", seen)
	}
}

func TestSearchRemoteErrorDegradesToEmpty(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"SearchEvaluationError"}}`, http.StatusInternalServerError)
	}))

	msgs, next, err := c.Search(context.Background(), "anything", 10, "", MatchRaw)
	if err != nil {
		t.Fatalf("remote errors must not surface: %v", err)
	}
	if len(msgs) != 0 || next != "" {
		t.Errorf("expected empty degraded result, got %d messages, cursor %q", len(msgs), next)
	}
}

func TestGetNextWalk(t *testing.T) {
	var srv *httptest.Server
	fetches := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages", func(w http.ResponseWriter, r *http.Request) {
		fetches++
		if got := r.URL.Query().Get("$search"); got != `"to:group@example.com"` {
			t.Errorf("unexpected $search: %q", got)
		}
		if got := r.URL.Query().Get("$top"); got != "1" {
			t.Errorf("unexpected $top: %q", got)
		}
		writePage(t, w, []Message{{ID: "a1", InternetMessageID: "<m1@x>", Subject: "first"}}, srv.URL+"/next")
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		fetches++
		writePage(t, w, []Message{{ID: "b2", InternetMessageID: "<m2@x>", Subject: "second"}}, "")
	})

	c, server := newTestClient(t, mux)
	srv = server

	ctx := context.Background()
	m1, cursor, err := c.GetNext(ctx, "group@example.com", "")
	if err != nil || m1 == nil {
		t.Fatalf("first GetNext: msg=%v err=%v", m1, err)
	}
	if m1.Subject != "first" || cursor == "" {
		t.Fatalf("unexpected first result: %+v cursor=%q", m1, cursor)
	}

	m2, cursor2, err := c.GetNext(ctx, "", cursor)
	if err != nil || m2 == nil {
		t.Fatalf("second GetNext: msg=%v err=%v", m2, err)
	}
	if m2.Subject != "second" || cursor2 != "" {
		t.Fatalf("unexpected second result: %+v cursor=%q", m2, cursor2)
	}
	if fetches != 2 {
		t.Errorf("expected exactly 2 fetches, got %d", fetches)
	}

	if _, _, err := c.GetNext(ctx, "", ""); !errors.Is(err, ErrNoQuery) {
		t.Errorf("expected ErrNoQuery with no target and no cursor, got %v", err)
	}
}

func TestGetMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages/msg-42", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Message{ID: "msg-42", Subject: "hello"})
	})
	c, _ := newTestClient(t, mux)

	t.Run("found", func(t *testing.T) {
		m, err := c.GetMessage(context.Background(), "msg-42")
		if err != nil {
			t.Fatal(err)
		}
		if m.Subject != "hello" {
			t.Errorf("unexpected subject: %q", m.Subject)
		}
	})

	t.Run("missing id is a validation error", func(t *testing.T) {
		if _, err := c.GetMessage(context.Background(), ""); err == nil {
			t.Fatal("expected error for empty id")
		}
	})

	t.Run("remote error surfaces", func(t *testing.T) {
		if _, err := c.GetMessage(context.Background(), "absent"); err == nil {
			t.Fatal("expected error for unknown id")
		}
	})
}

func TestFetchAttachmentsDegradesToEmpty(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	if atts := c.FetchAttachments(context.Background(), "msg-1"); len(atts) != 0 {
		t.Errorf("expected empty attachments on failure, got %d", len(atts))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my report (final).pdf", "my report final.pdf"},
		{"../../etc/passwd", "....etcpasswd"},
		{"q4_budget-v2.xlsx", "q4_budget-v2.xlsx"},
		{"///", "attachment"},
		{"", "attachment"},
		{"...", "attachment"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func fileAttachment(name, content string) Attachment {
	return Attachment{
		ODataType:    fileAttachmentType,
		Name:         name,
		ContentType:  "application/pdf",
		Size:         int64(len(content)),
		ContentBytes: base64.StdEncoding.EncodeToString([]byte(content)),
	}
}

func TestDownloadAttachmentCollision(t *testing.T) {
	c := &Client{logger: discardLogger()}
	dir := t.TempDir()

	first := c.DownloadAttachment(fileAttachment("report.pdf", "first"), dir)
	second := c.DownloadAttachment(fileAttachment("report.pdf", "second"), dir)
	if first == nil || second == nil {
		t.Fatal("expected both downloads to succeed")
	}
	if first.Name != "report.pdf" || second.Name != "report_1.pdf" {
		t.Errorf("unexpected names: %q, %q", first.Name, second.Name)
	}

	b1, err := os.ReadFile(first.Path)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(second.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != "first" || string(b2) != "second" {
		t.Errorf("files overwrote each other: %q, %q", b1, b2)
	}

	third := c.DownloadAttachment(fileAttachment("report.pdf", "third"), dir)
	if third == nil || third.Name != "report_2.pdf" {
		t.Errorf("expected report_2.pdf, got %+v", third)
	}
}

func TestDownloadAttachmentSkips(t *testing.T) {
	c := &Client{logger: discardLogger()}
	dir := t.TempDir()

	t.Run("non-file attachment", func(t *testing.T) {
		att := Attachment{ODataType: "#microsoft.graph.itemAttachment", Name: "fwd.eml"}
		if saved := c.DownloadAttachment(att, dir); saved != nil {
			t.Errorf("expected nil for non-file attachment, got %+v", saved)
		}
	})

	t.Run("bad base64", func(t *testing.T) {
		att := Attachment{ODataType: fileAttachmentType, Name: "x.bin", ContentBytes: "!!not base64!!"}
		if saved := c.DownloadAttachment(att, dir); saved != nil {
			t.Errorf("expected nil for undecodable payload, got %+v", saved)
		}
	})

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("skipped downloads must not write files, found %d", len(entries))
	}
}

func TestScratchDirLifecycle(t *testing.T) {
	c := &Client{logger: discardLogger()}

	dir, err := c.AcquireScratchDir()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("scratch dir not created: %v", err)
	}

	again, err := c.AcquireScratchDir()
	if err != nil {
		t.Fatal(err)
	}
	if again != dir {
		t.Errorf("second acquire returned a different dir: %q vs %q", again, dir)
	}

	if err := os.WriteFile(filepath.Join(dir, "payload.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.ReleaseScratchDir()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("release did not remove the dir: %v", err)
	}

	// Release twice is harmless; a new acquire makes a fresh dir.
	c.ReleaseScratchDir()
	fresh, err := c.AcquireScratchDir()
	if err != nil {
		t.Fatal(err)
	}
	defer c.ReleaseScratchDir()
	if fresh == dir {
		t.Errorf("expected a fresh dir after release")
	}
}

func TestSearchURLProjection(t *testing.T) {
	c := &Client{endpoint: "https://example.test/v1.0"}
	u := c.searchURL("budget", 25, MatchRaw)
	for _, want := range []string{"%24top=25", "internetMessageId", "hasAttachments"} {
		if !strings.Contains(u, want) {
			t.Errorf("search URL %q missing %q", u, want)
		}
	}
}

func TestClientOptionDefaults(t *testing.T) {
	c := NewClient(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}))
	if c.endpoint != defaultEndpoint {
		t.Errorf("unexpected default endpoint: %q", c.endpoint)
	}
}

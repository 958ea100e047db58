package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
)

const (
	// noContent is the placeholder for absent or empty message bodies.
	noContent = "No content"

	previewLimit = 200

	headerRule = "================================================================================"
)

// formatAddress renders one name+address pair, substituting "Unknown" for
// missing fields.
func formatAddress(r *Recipient) string {
	name, address := "Unknown", "Unknown"
	if r != nil {
		if r.EmailAddress.Name != "" {
			name = r.EmailAddress.Name
		}
		if r.EmailAddress.Address != "" {
			address = r.EmailAddress.Address
		}
	}
	return fmt.Sprintf("%s <%s>", name, address)
}

// formatRecipientList renders a recipient list as "name <addr>, addr, ...".
// Recipients without a display name render as the bare address.
func formatRecipientList(recipients []Recipient) string {
	parts := make([]string, 0, len(recipients))
	for _, r := range recipients {
		addr := r.EmailAddress
		if addr.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
		} else {
			parts = append(parts, addr.Address)
		}
	}
	return strings.Join(parts, ", ")
}

// RenderSingle builds a compact display record for one message: sender,
// subject, received time, and a preview truncated to 200 characters.
func (c *Client) RenderSingle(m *Message) string {
	subject := m.Subject
	if subject == "" {
		subject = "No Subject"
	}
	received := m.ReceivedDateTime
	if received == "" {
		received = "Unknown"
	}
	preview := m.BodyPreview
	if preview == "" {
		preview = noContent
	} else if runes := []rune(preview); len(runes) > previewLimit {
		// The limit counts characters; a byte slice could split a rune.
		preview = string(runes[:previewLimit]) + "..."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "From: %s\n", formatAddress(m.From))
	fmt.Fprintf(&sb, "Subject: %s\n", subject)
	fmt.Fprintf(&sb, "Received: %s\n", received)
	fmt.Fprintf(&sb, "Preview: %s", preview)
	return sb.String()
}

// RenderFull builds the full human-readable record for one message:
// headers, recipients, attachment listing, and the body converted to plain
// text. When the message carries attachments they are fetched and file
// attachments downloaded into the scratch directory.
func (c *Client) RenderFull(ctx context.Context, m *Message) string {
	var sb strings.Builder
	sb.WriteString(headerRule + "\n")
	sb.WriteString("EMAIL DETAILS\n")
	sb.WriteString(headerRule + "\n")

	subject := m.Subject
	if subject == "" {
		subject = "No Subject"
	}
	received := m.ReceivedDateTime
	if received == "" {
		received = "Unknown"
	}
	fmt.Fprintf(&sb, "From: %s\n", formatAddress(m.From))
	fmt.Fprintf(&sb, "Subject: %s\n", subject)
	fmt.Fprintf(&sb, "Received: %s\n", received)
	if len(m.ToRecipients) > 0 {
		fmt.Fprintf(&sb, "To: %s\n", formatRecipientList(m.ToRecipients))
	}

	if m.HasAttachments {
		sb.WriteString("\nAttachments:\n")
		sb.WriteString(c.renderAttachments(ctx, m.ID))
	}

	sb.WriteString("\n" + strings.Repeat("-", 40) + " BODY " + strings.Repeat("-", 40) + "\n")
	sb.WriteString(CleanHTML(m.BodyContent()) + "\n")
	sb.WriteString(headerRule)
	return sb.String()
}

// renderAttachments lists a message's attachments, downloading file
// attachments into the scratch directory so their local paths can be
// reported. Non-file attachments appear as metadata only.
func (c *Client) renderAttachments(ctx context.Context, messageID string) string {
	atts := c.FetchAttachments(ctx, messageID)
	if len(atts) == 0 {
		return "  (none listed)\n"
	}

	dir, err := c.AcquireScratchDir()
	if err != nil {
		c.logger.Warn("scratch dir unavailable, listing metadata only", "error", err)
	}

	var sb strings.Builder
	for i, att := range atts {
		fmt.Fprintf(&sb, "  %d. %s (%d bytes, %s)", i+1, att.Name, att.Size, att.ContentType)
		if dir != "" {
			if saved := c.DownloadAttachment(att, dir); saved != nil {
				fmt.Fprintf(&sb, " -> %s", saved.Path)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderBatch combines messages into one text document, sorted ascending
// by received time. Messages with a missing or unparsable timestamp sort
// first. Each message renders as a delimited block with an id line, header
// lines, a body marker, and the cleaned plain-text body.
func (c *Client) RenderBatch(messages []Message) string {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return receivedTime(&sorted[i]).Before(receivedTime(&sorted[j]))
	})

	var sb strings.Builder
	for i := range sorted {
		m := &sorted[i]
		subject := m.Subject
		if subject == "" {
			subject = "No Subject"
		}
		received := m.ReceivedDateTime
		if received == "" {
			received = "Unknown"
		}

		fmt.Fprintf(&sb, "==== EMAIL %s ====\n", m.ID)
		fmt.Fprintf(&sb, "From: %s\n", formatAddress(m.From))
		fmt.Fprintf(&sb, "Subject: %s\n", subject)
		fmt.Fprintf(&sb, "Received: %s\n", received)
		fmt.Fprintf(&sb, "To: %s\n", formatRecipientList(m.ToRecipients))
		sb.WriteString("---- BODY ----\n")
		sb.WriteString(CleanHTML(m.BodyContent()) + "\n")
		sb.WriteString("==== END ====\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// receivedTime parses a message's received timestamp. Unparsable or absent
// timestamps map to the zero time so they sort before all valid ones.
func receivedTime(m *Message) time.Time {
	t, err := time.Parse(time.RFC3339, m.ReceivedDateTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CleanHTML strips markup and collapses the extracted text: non-blank
// lines are kept verbatim (surrounding whitespace stripped), runs of blank
// lines collapse to at most one, and there are no leading or trailing
// blank lines. Absent input yields the "No content" placeholder.
func CleanHTML(html string) string {
	if strings.TrimSpace(html) == "" {
		return noContent
	}

	text, err := html2text.FromString(html, html2text.Options{TextOnly: true})
	if err != nil {
		// Markup too broken to parse; fall back to the raw input.
		text = html
	}

	var cleaned []string
	prevBlank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
			prevBlank = false
		} else if !prevBlank && len(cleaned) > 0 {
			cleaned = append(cleaned, "")
			prevBlank = true
		}
	}
	// Drop a trailing blank left by the collapse.
	for len(cleaned) > 0 && cleaned[len(cleaned)-1] == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}
	if len(cleaned) == 0 {
		return noContent
	}
	return strings.Join(cleaned, "\n")
}

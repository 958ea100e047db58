// Package graph is a client for the Microsoft Graph mail API. It covers
// paginated message search, single-message retrieval, attachment listing
// and download, and rendering of messages into display or batch text.
package graph

// EmailAddress is a Graph emailAddress record.
type EmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Recipient wraps an EmailAddress the way Graph nests it in from/toRecipients.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// ItemBody is a Graph itemBody: HTML or text content plus its type.
type ItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Message is a Graph message projected to the fields this tool uses.
//
// ID is the per-request lookup key for detail and attachment calls and is
// not guaranteed stable across requests. InternetMessageID is stable across
// pagination and across runs; deduplication always keys on it.
type Message struct {
	ID                string      `json:"id"`
	InternetMessageID string      `json:"internetMessageId"`
	ConversationID    string      `json:"conversationId"`
	Subject           string      `json:"subject"`
	BodyPreview       string      `json:"bodyPreview"`
	ReceivedDateTime  string      `json:"receivedDateTime"`
	From              *Recipient  `json:"from"`
	ToRecipients      []Recipient `json:"toRecipients"`
	Body              *ItemBody   `json:"body"`
	UniqueBody        *ItemBody   `json:"uniqueBody"`
	HasAttachments    bool        `json:"hasAttachments"`
}

// BodyContent returns the best available body HTML: the unique body when
// present, otherwise the full body.
func (m *Message) BodyContent() string {
	if m.UniqueBody != nil && m.UniqueBody.Content != "" {
		return m.UniqueBody.Content
	}
	if m.Body != nil {
		return m.Body.Content
	}
	return ""
}

// fileAttachmentType is the @odata.type Graph uses for downloadable
// attachments carried inline as base64. Item and reference attachments
// have no contentBytes and are reported as metadata only.
const fileAttachmentType = "#microsoft.graph.fileAttachment"

// Attachment is a Graph attachment record. ContentBytes is populated only
// for file attachments.
type Attachment struct {
	ODataType    string `json:"@odata.type"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	IsInline     bool   `json:"isInline"`
	ContentBytes string `json:"contentBytes"`
}

// IsFile reports whether the attachment is a downloadable file attachment.
func (a Attachment) IsFile() bool {
	return a.ODataType == fileAttachmentType
}

// SavedAttachment describes an attachment written to the scratch directory.
type SavedAttachment struct {
	Name        string
	Size        int64
	ContentType string
	Path        string
}

// Graph API JSON response envelopes (unexported, used only for unmarshaling).

type listMessagesResponse struct {
	Value    []Message `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

type listAttachmentsResponse struct {
	Value []Attachment `json:"value"`
}

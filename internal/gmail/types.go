// internal/gmail/types.go
package gmail

import "time"

type MessageID string
type LabelID string
type AttachmentID string

// LabelUnread is the system label cleared once a message has been taken in.
const LabelUnread LabelID = "UNREAD"

type Header struct {
	Name  string
	Value string
}

type MessageMeta struct {
	ID       MessageID
	LabelIDs []LabelID
	Headers  map[string]string // From, Subject, Date, ...
	Date     time.Time
}

// ListPage is one listing result; NextPageToken is empty on the last page.
type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

// Message is the full structure of a mailbox entry, as returned by get-message.
type Message struct {
	ID       MessageID
	LabelIDs []LabelID
	Headers  map[string]string
	Payload  *Part
}

// Part is one node of the MIME part tree. Attachment-bearing parts carry a
// Filename and an AttachmentID; the body itself is fetched separately.
type Part struct {
	PartID       string
	MimeType     string
	Filename     string
	AttachmentID AttachmentID
	Size         int64
	Parts        []*Part
}

// Walk visits p and its descendants depth-first in document order.
func (p *Part) Walk(fn func(*Part)) {
	if p == nil {
		return
	}
	fn(p)
	for _, child := range p.Parts {
		child.Walk(fn)
	}
}

// IsAttachment reports whether the part names a downloadable attachment.
func (p *Part) IsAttachment() bool {
	return p != nil && p.Filename != "" && p.AttachmentID != ""
}

// AttachmentBody is an attachment payload still in transfer encoding.
type AttachmentBody struct {
	Data string
	Size int64
}

// Attachment is a decoded attachment. Filename comes from the provider and is untrusted.
type Attachment struct {
	MessageID MessageID
	Filename  string
	MimeType  string
	Data      []byte
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

type Query struct {
	Raw string // provider query string, already formed (e.g., `has:attachment is:unread`)
}

// UnreadWithAttachments is the intake filter.
var UnreadWithAttachments = Query{Raw: "has:attachment is:unread"}

package imap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // register non-UTF-8 charsets
	"github.com/emersion/go-message/mail"

	"github.com/joshsymonds/claimintake/internal/gmail"
)

// parsedMessage is one RFC 822 message flattened into the provider shape,
// with the decoded attachment bodies kept by attachment id.
type parsedMessage struct {
	msg    gmail.Message
	bodies map[gmail.AttachmentID][]byte
}

var metadataHeaders = []string{"From", "To", "Subject", "Date", "Message-Id"}

// parseMessage reads a raw message and builds its part tree. Every leaf part
// becomes a child of the root; parts that carry a filename get an attachment
// id equal to their position.
func parseMessage(id gmail.MessageID, raw []byte) (*parsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	defer mr.Close()

	ct, _, _ := mr.Header.ContentType()
	out := &parsedMessage{
		msg: gmail.Message{
			ID:      id,
			Headers: headerMap(&mr.Header, metadataHeaders),
			Payload: &gmail.Part{PartID: "", MimeType: ct},
		},
		bodies: map[gmail.AttachmentID][]byte{},
	}

	for n := 0; ; n++ {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read part %d of %s: %w", n, id, err)
		}

		part := &gmail.Part{PartID: strconv.Itoa(n)}
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			part.MimeType, _, _ = h.ContentType()
			if _, params, err := h.ContentDisposition(); err == nil {
				part.Filename = params["filename"]
			}
		case *mail.AttachmentHeader:
			part.MimeType, _, _ = h.ContentType()
			part.Filename, _ = h.Filename()
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("read part %d of %s: %w", n, id, err)
		}
		part.Size = int64(len(body))
		if part.Filename != "" {
			part.AttachmentID = gmail.AttachmentID(part.PartID)
			out.bodies[part.AttachmentID] = body
		}
		out.msg.Payload.Parts = append(out.msg.Payload.Parts, part)
	}
	return out, nil
}

// parseMetadata reads only the header block of a raw message.
func parseMetadata(id gmail.MessageID, raw []byte, headers []string) (gmail.MessageMeta, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return gmail.MessageMeta{}, fmt.Errorf("parse headers of %s: %w", id, err)
	}
	defer mr.Close()

	if len(headers) == 0 {
		headers = metadataHeaders
	}
	meta := gmail.MessageMeta{ID: id, Headers: headerMap(&mr.Header, headers)}
	if d, err := mr.Header.Date(); err == nil {
		meta.Date = d
	}
	return meta, nil
}

func headerMap(h *mail.Header, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, err := h.Text(name)
		if err != nil {
			v = h.Get(name)
		}
		if v != "" {
			out[name] = v
		}
	}
	return out
}

// internal/imap/client.go

// Package imap serves the mail provider surface from an IMAP mailbox, for
// accounts that are reachable over IMAP but not through the Gmail API.
package imap

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	goimap "github.com/emersion/go-imap/v2"

	"github.com/joshsymonds/claimintake/internal/gmail"
)

// Client implements gmail.Client over IMAP. Message ids are UIDs in the
// selected mailbox and page tokens are the first UID of the next page.
type Client struct {
	mb mailbox

	mu     sync.Mutex
	cached *parsedMessage
}

var _ gmail.Client = (*Client)(nil)

// New returns a Client that connects on first use.
func New(opts Options) *Client {
	return &Client{mb: newConn(opts)}
}

func newWithMailbox(mb mailbox) *Client {
	return &Client{mb: mb}
}

// Close logs out of the server.
func (c *Client) Close() error {
	return c.mb.Close()
}

func (c *Client) List(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	if pageSize <= 0 {
		return gmail.ListPage{}, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	from, err := parsePageToken(pageToken)
	if err != nil {
		return gmail.ListPage{}, err
	}

	uids, err := c.mb.Search(ctx, strings.Contains(q.Raw, "is:unread"))
	if err != nil {
		return gmail.ListPage{}, err
	}
	slices.Sort(uids)
	start, _ := slices.BinarySearch(uids, from)
	candidates := uids[start:]
	needAttachment := strings.Contains(q.Raw, "has:attachment")

	var page gmail.ListPage
	for i := 0; i < len(candidates); i += pageSize {
		batch := candidates[i:min(i+pageSize, len(candidates))]
		var match map[goimap.UID]bool
		if needAttachment {
			if match, err = c.mb.WithAttachments(ctx, batch); err != nil {
				return gmail.ListPage{}, err
			}
		}
		for _, uid := range batch {
			if needAttachment && !match[uid] {
				continue
			}
			if len(page.IDs) == pageSize {
				page.NextPageToken = formatUID(uid)
				return page, nil
			}
			page.IDs = append(page.IDs, messageID(uid))
		}
	}
	return page, nil
}

func (c *Client) GetMessage(ctx context.Context, id gmail.MessageID) (gmail.Message, error) {
	pm, raw, err := c.load(ctx, id)
	if err != nil {
		return gmail.Message{}, err
	}
	msg := pm.msg
	if !raw.Seen {
		msg.LabelIDs = []gmail.LabelID{gmail.LabelUnread}
	}
	return msg, nil
}

func (c *Client) GetAttachment(ctx context.Context, id gmail.MessageID, attachmentID gmail.AttachmentID) (gmail.AttachmentBody, error) {
	c.mu.Lock()
	pm := c.cached
	c.mu.Unlock()
	if pm == nil || pm.msg.ID != id {
		var err error
		if pm, _, err = c.load(ctx, id); err != nil {
			return gmail.AttachmentBody{}, err
		}
	}
	body, ok := pm.bodies[attachmentID]
	if !ok {
		return gmail.AttachmentBody{}, fmt.Errorf("message %s has no attachment %s", id, attachmentID)
	}
	return gmail.AttachmentBody{Data: gmail.EncodeBody(body), Size: int64(len(body))}, nil
}

func (c *Client) Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	for _, l := range append(slices.Clone(ops.AddLabels), ops.RemoveLabels...) {
		if l != gmail.LabelUnread {
			return fmt.Errorf("label %s cannot be set over imap", l)
		}
	}
	if slices.Contains(ops.RemoveLabels, gmail.LabelUnread) {
		return c.mb.SetSeen(ctx, uid, true)
	}
	if slices.Contains(ops.AddLabels, gmail.LabelUnread) {
		return c.mb.SetSeen(ctx, uid, false)
	}
	return nil
}

func (c *Client) GetMetadata(ctx context.Context, id gmail.MessageID, headers []string) (gmail.MessageMeta, error) {
	uid, err := parseUID(id)
	if err != nil {
		return gmail.MessageMeta{}, err
	}
	raw, err := c.mb.Fetch(ctx, uid)
	if err != nil {
		return gmail.MessageMeta{}, err
	}
	meta, err := parseMetadata(id, raw.Body, headers)
	if err != nil {
		return gmail.MessageMeta{}, err
	}
	if !raw.Seen {
		meta.LabelIDs = []gmail.LabelID{gmail.LabelUnread}
	}
	return meta, nil
}

// load fetches and parses one message and keeps it for the attachment calls
// that follow.
func (c *Client) load(ctx context.Context, id gmail.MessageID) (*parsedMessage, rawMessage, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, rawMessage{}, err
	}
	raw, err := c.mb.Fetch(ctx, uid)
	if err != nil {
		return nil, rawMessage{}, err
	}
	pm, err := parseMessage(id, raw.Body)
	if err != nil {
		return nil, rawMessage{}, err
	}
	c.mu.Lock()
	c.cached = pm
	c.mu.Unlock()
	return pm, raw, nil
}

func messageID(uid goimap.UID) gmail.MessageID {
	return gmail.MessageID(formatUID(uid))
}

func formatUID(uid goimap.UID) string {
	return strconv.FormatUint(uint64(uid), 10)
}

func parseUID(id gmail.MessageID) (goimap.UID, error) {
	n, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid imap message id %q", id)
	}
	return goimap.UID(n), nil
}

func parsePageToken(token string) (goimap.UID, error) {
	if token == "" {
		return 0, nil
	}
	uid, err := parseUID(gmail.MessageID(token))
	if err != nil {
		return 0, fmt.Errorf("invalid page token %q", token)
	}
	return uid, nil
}

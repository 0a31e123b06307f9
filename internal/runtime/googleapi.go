package runtime

import (
	"context"
	"time"

	"google.golang.org/api/gmail/v1"

	gc "github.com/joshsymonds/claimintake/internal/gmail"
)

const userID = "me"

// googleClient adapts *gmail.Service to the narrow mailbox interface.
type googleClient struct{ svc *gmail.Service }

func NewGoogleAPIClient(svc *gmail.Service) *googleClient { return &googleClient{svc} }

func (g *googleClient) List(ctx context.Context, q gc.Query, pageToken string, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List(userID).Q(q.Raw).MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, err
	}
	ids := make([]gc.MessageID, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, gc.MessageID(m.Id))
	}
	return gc.ListPage{IDs: ids, NextPageToken: res.NextPageToken}, nil
}

func (g *googleClient) GetMessage(ctx context.Context, id gc.MessageID) (gc.Message, error) {
	msg, err := g.svc.Users.Messages.Get(userID, string(id)).Format("full").Context(ctx).Do()
	if err != nil {
		return gc.Message{}, err
	}
	out := gc.Message{ID: id, LabelIDs: toLabelIDs(msg.LabelIds)}
	if msg.Payload != nil {
		out.Headers = headerMap(msg.Payload.Headers)
		out.Payload = toPart(msg.Payload)
	}
	return out, nil
}

func (g *googleClient) GetAttachment(ctx context.Context, id gc.MessageID, attachmentID gc.AttachmentID) (gc.AttachmentBody, error) {
	body, err := g.svc.Users.Messages.Attachments.Get(userID, string(id), string(attachmentID)).Context(ctx).Do()
	if err != nil {
		return gc.AttachmentBody{}, err
	}
	return gc.AttachmentBody{Data: body.Data, Size: body.Size}, nil
}

func (g *googleClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	req := &gmail.ModifyMessageRequest{}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = labelStrings(ops.AddLabels)
	}
	if len(ops.RemoveLabels) > 0 {
		req.RemoveLabelIds = labelStrings(ops.RemoveLabels)
	}
	_, err := g.svc.Users.Messages.Modify(userID, string(id), req).Context(ctx).Do()
	return err
}

func (g *googleClient) GetMetadata(ctx context.Context, id gc.MessageID, headers []string) (gc.MessageMeta, error) {
	msg, err := g.svc.Users.Messages.Get(userID, string(id)).Format("metadata").MetadataHeaders(headers...).Context(ctx).Do()
	if err != nil {
		return gc.MessageMeta{}, err
	}
	meta := gc.MessageMeta{ID: id, LabelIDs: toLabelIDs(msg.LabelIds), Headers: map[string]string{}}
	if msg.Payload != nil {
		meta.Headers = headerMap(msg.Payload.Headers)
	}
	if msg.InternalDate > 0 {
		meta.Date = time.UnixMilli(msg.InternalDate)
	}
	return meta, nil
}

func toPart(p *gmail.MessagePart) *gc.Part {
	if p == nil {
		return nil
	}
	part := &gc.Part{PartID: p.PartId, MimeType: p.MimeType, Filename: p.Filename}
	if p.Body != nil {
		part.AttachmentID = gc.AttachmentID(p.Body.AttachmentId)
		part.Size = p.Body.Size
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, toPart(child))
	}
	return part
}

func headerMap(headers []*gmail.MessagePartHeader) map[string]string {
	h := make(map[string]string, len(headers))
	for _, hd := range headers {
		h[hd.Name] = hd.Value
	}
	return h
}

func toLabelIDs(ids []string) []gc.LabelID {
	out := make([]gc.LabelID, 0, len(ids))
	for _, id := range ids {
		out = append(out, gc.LabelID(id))
	}
	return out
}

func labelStrings(ids []gc.LabelID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

var _ gc.Client = (*googleClient)(nil)

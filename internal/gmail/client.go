package gmail

import "context"

// Client is the narrow mailbox surface required by claimintake.
type Client interface {
	List(ctx context.Context, q Query, pageToken string, pageSize int) (ListPage, error)
	GetMessage(ctx context.Context, id MessageID) (Message, error)
	GetAttachment(ctx context.Context, id MessageID, attachmentID AttachmentID) (AttachmentBody, error)
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error
	GetMetadata(ctx context.Context, id MessageID, headers []string) (MessageMeta, error)
}

// internal/intake/service.go
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/claimintake/internal/gmail"
	"github.com/joshsymonds/claimintake/internal/logger"
	"github.com/joshsymonds/claimintake/internal/rate"
)

// ClearPolicy decides whether a message whose attachments did not all
// arrive is still marked read.
type ClearPolicy int

const (
	// ClearAlways removes UNREAD once every attachment fetch was attempted,
	// whether or not they succeeded. Marked read does not imply delivered.
	ClearAlways ClearPolicy = iota
	// ClearOnSuccess leaves the message unread when any fetch or the
	// handler failed, so the next run picks it up again.
	ClearOnSuccess
)

func (p ClearPolicy) String() string {
	switch p {
	case ClearAlways:
		return "always"
	case ClearOnSuccess:
		return "on-success"
	default:
		return fmt.Sprintf("ClearPolicy(%d)", int(p))
	}
}

// ParseClearPolicy accepts "always" and "on-success".
func ParseClearPolicy(s string) (ClearPolicy, error) {
	switch s {
	case "", "always":
		return ClearAlways, nil
	case "on-success":
		return ClearOnSuccess, nil
	default:
		return ClearAlways, fmt.Errorf("unknown clear policy %q", s)
	}
}

// Handler receives the attachments of one message before it is cleared.
type Handler func(ctx context.Context, id gmail.MessageID, atts []gmail.Attachment) error

// Options controls a Run.
type Options struct {
	MaxResults  int
	FollowPages bool // follow NextPageToken instead of stopping after the first page
	MaxPages    int  // with FollowPages, stop after this many pages (0 = no limit)
	DryRun      bool // never modify the mailbox
	Policy      ClearPolicy
	Handler     Handler
}

// Result is what a Run produced, also when it stopped on an error.
type Result struct {
	Attachments []gmail.Attachment
	Messages    []gmail.MessageID // listed messages whose processing was attempted
	Cleared     []gmail.MessageID
}

// Service turns unread messages with attachments into decoded attachments.
type Service struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	Clock   func() time.Time
	Policy  ClearPolicy
	DryRun  bool
}

// NewService constructs a Service with sane defaults.
func NewService(client gmail.Client, limiter rate.Limiter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Client:  client,
		Limiter: limiter,
		Logger:  log,
		Clock:   time.Now,
	}
}

// ListUnreadWithAttachments issues a single filtered listing call and returns
// the first page only.
func (s *Service) ListUnreadWithAttachments(ctx context.Context, maxResults int) ([]gmail.MessageID, error) {
	page, err := s.listPage(ctx, "", maxResults)
	if err != nil {
		return nil, err
	}
	return page.IDs, nil
}

func (s *Service) listPage(ctx context.Context, pageToken string, maxResults int) (gmail.ListPage, error) {
	if maxResults <= 0 {
		return gmail.ListPage{}, fmt.Errorf("maxResults must be positive, got %d", maxResults)
	}
	if err := s.wait(ctx, "rate limit list"); err != nil {
		return gmail.ListPage{}, err
	}
	page, err := s.Client.List(ctx, gmail.UnreadWithAttachments, pageToken, maxResults)
	if err != nil {
		return gmail.ListPage{}, &gmail.TransportError{Op: "list messages", Err: err}
	}
	return page, nil
}

// FetchAttachments downloads and decodes every attachment of one message and
// then removes its UNREAD label. All fetches are attempted before the clear;
// failed ones are reported through the returned error alongside the
// attachments that did arrive.
func (s *Service) FetchAttachments(ctx context.Context, id gmail.MessageID) ([]gmail.Attachment, error) {
	atts, _, err := s.processMessage(ctx, id, nil)
	return atts, err
}

// processMessage fetches, hands off and clears one message. cleared reports
// whether the UNREAD label was actually removed.
func (s *Service) processMessage(
	ctx context.Context,
	id gmail.MessageID,
	handler Handler,
) (atts []gmail.Attachment, cleared bool, err error) {
	ctx = logger.WithAttrs(ctx, slog.String("message_id", string(id)))

	if err := s.wait(ctx, "rate limit get message"); err != nil {
		return nil, false, err
	}
	msg, err := s.Client.GetMessage(ctx, id)
	if err != nil {
		return nil, false, &gmail.TransportError{Op: "get message", MessageID: id, Err: err}
	}

	var errs []error
	msg.Payload.Walk(func(p *gmail.Part) {
		if !p.IsAttachment() {
			return
		}
		att, err := s.fetchPart(ctx, id, p)
		if err != nil {
			s.Logger.WarnContext(ctx, "attachment fetch failed", slog.String("filename", p.Filename), slog.Any("error", err))
			errs = append(errs, err)
			return
		}
		atts = append(atts, att)
	})
	if len(atts) == 0 && len(errs) == 0 {
		s.Logger.InfoContext(ctx, "message matched filter but carries no attachment parts")
	}

	// Whatever arrived is handed off before the clear.
	if handler != nil && (len(atts) > 0 || len(errs) == 0) {
		if err := handler(ctx, id, atts); err != nil {
			errs = append(errs, fmt.Errorf("handle attachments of %s: %w", id, err))
		}
	}

	fetchErr := errors.Join(errs...)
	cleared, err = s.clear(ctx, id, fetchErr)
	if err != nil {
		return atts, false, errors.Join(fetchErr, err)
	}
	return atts, cleared, fetchErr
}

func (s *Service) fetchPart(ctx context.Context, id gmail.MessageID, p *gmail.Part) (gmail.Attachment, error) {
	if err := s.wait(ctx, "rate limit get attachment"); err != nil {
		return gmail.Attachment{}, err
	}
	body, err := s.Client.GetAttachment(ctx, id, p.AttachmentID)
	if err != nil {
		return gmail.Attachment{}, &gmail.TransportError{Op: "get attachment " + p.Filename, MessageID: id, Err: err}
	}
	data, err := gmail.DecodeBody(body.Data)
	if err != nil {
		return gmail.Attachment{}, &gmail.TransportError{Op: "decode attachment " + p.Filename, MessageID: id, Err: err}
	}
	return gmail.Attachment{MessageID: id, Filename: p.Filename, MimeType: p.MimeType, Data: data}, nil
}

// clear removes UNREAD from the message according to the policy.
func (s *Service) clear(ctx context.Context, id gmail.MessageID, fetchErr error) (bool, error) {
	if s.DryRun {
		s.Logger.InfoContext(ctx, "dry-run: leaving message unread")
		return false, nil
	}
	if fetchErr != nil && s.Policy == ClearOnSuccess {
		s.Logger.WarnContext(ctx, "leaving message unread after failed fetch", slog.String("policy", s.Policy.String()))
		return false, nil
	}
	if err := s.wait(ctx, "rate limit modify"); err != nil {
		return false, err
	}
	ops := gmail.ModifyOps{RemoveLabels: []gmail.LabelID{gmail.LabelUnread}}
	if err := s.Client.Modify(ctx, id, ops); err != nil {
		return false, &gmail.TransportError{Op: "mark read", MessageID: id, Err: err}
	}
	return true, nil
}

// Run lists unread messages with attachments and processes them in listing
// order. It stops at the first message that fails; messages cleared before
// that stay cleared. The partial result is returned with the error.
func (s *Service) Run(ctx context.Context, opts Options) (Result, error) {
	svc := *s
	svc.Policy = opts.Policy
	svc.DryRun = s.DryRun || opts.DryRun

	var (
		res   Result
		token string
		pages int
	)
	started := s.now()
	for {
		page, err := svc.listPage(ctx, token, opts.MaxResults)
		if err != nil {
			return res, err
		}
		pages++
		for _, id := range page.IDs {
			res.Messages = append(res.Messages, id)
			atts, cleared, err := svc.processMessage(ctx, id, opts.Handler)
			res.Attachments = append(res.Attachments, atts...)
			if cleared {
				res.Cleared = append(res.Cleared, id)
			}
			if err != nil {
				return res, fmt.Errorf("process message %s: %w", id, err)
			}
		}
		if !opts.FollowPages || page.NextPageToken == "" {
			break
		}
		if opts.MaxPages > 0 && pages >= opts.MaxPages {
			s.Logger.InfoContext(ctx, "page limit reached; remaining messages left for the next run", slog.Int("pages", pages))
			break
		}
		token = page.NextPageToken
	}

	if len(res.Messages) == 0 {
		s.Logger.InfoContext(ctx, "no unread messages with attachments")
		return res, nil
	}
	s.Logger.InfoContext(ctx, "intake complete",
		slog.Int("messages", len(res.Messages)),
		slog.Int("attachments", len(res.Attachments)),
		slog.Int("cleared", len(res.Cleared)),
		slog.Duration("elapsed", s.now().Sub(started)),
	)
	return res, nil
}

func (s *Service) wait(ctx context.Context, operation string) error {
	if s.Limiter == nil {
		return nil
	}
	if err := s.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock()
}

// internal/backlog/service.go

// Package backlog reports on unread messages with attachments that are still
// waiting for intake, without modifying the mailbox.
package backlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joshsymonds/claimintake/internal/gmail"
	"github.com/joshsymonds/claimintake/internal/rate"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
	defaultTopN     = 20
)

func defaultHeaders() []string {
	return []string{"From", "Subject", "Date"}
}

// Options controls the behavior of the backlog scan.
type Options struct {
	PageSize int
	MaxPages int // 0 = follow every page
	TopN     int
}

// Ledger tells which messages already had attachments delivered.
type Ledger interface {
	HasMessage(ctx context.Context, messageID string) (bool, error)
}

// Service scans the pending listing.
type Service struct {
	Client  gmail.Client
	Limiter rate.Limiter
	Logger  *slog.Logger
	Clock   func() time.Time
	Ledger  Ledger
}

// NewService constructs a Service with sane defaults. ledger may be nil.
func NewService(client gmail.Client, limiter rate.Limiter, logger *slog.Logger, ledger Ledger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Client:  client,
		Limiter: limiter,
		Logger:  logger,
		Clock:   time.Now,
		Ledger:  ledger,
	}
}

// Report summarises the pending backlog.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Total       int          `json:"total"`
	Truncated   bool         `json:"truncated"` // page limit hit before the listing ended
	Delivered   int          `json:"delivered"` // unread, but already in the ledger
	Oldest      time.Time    `json:"oldest,omitzero"`
	Ages        AgeBuckets   `json:"ages"`
	TopSenders  []SenderStat `json:"top_senders"`
}

// AgeBuckets counts pending messages by how long they have waited.
type AgeBuckets struct {
	Day     int `json:"day"`
	Week    int `json:"week"`
	Older   int `json:"older"`
	Unknown int `json:"unknown"`
}

// SenderStat ranks sender domains by pending messages.
type SenderStat struct {
	Domain         string `json:"domain"`
	Count          int    `json:"count"`
	PreviewSubject string `json:"preview_subject"`
}

// Run pages through the listing and builds the report.
func (s *Service) Run(ctx context.Context, opts Options) (Report, error) {
	topN := opts.TopN
	if topN <= 0 {
		topN = defaultTopN
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	s.Logger.InfoContext(ctx, "scanning backlog", slog.Int("page_size", pageSize), slog.Int("max_pages", opts.MaxPages))

	metas, truncated, err := s.fetchMetadata(ctx, pageSize, opts.MaxPages)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		GeneratedAt: s.now(),
		Total:       len(metas),
		Truncated:   truncated,
	}
	if len(metas) == 0 {
		return rep, nil
	}

	rep.TopSenders = buildRankings(metas, topN)
	rep.Oldest, rep.Ages = buildAges(metas, rep.GeneratedAt)
	if rep.Delivered, err = s.countDelivered(ctx, metas); err != nil {
		return Report{}, err
	}
	return rep, nil
}

func (s *Service) fetchMetadata(ctx context.Context, pageSize, maxPages int) ([]gmail.MessageMeta, bool, error) {
	var (
		metas []gmail.MessageMeta
		token string
		pages int
	)
	for {
		page, err := s.listMessages(ctx, token, pageSize)
		if err != nil {
			return nil, false, err
		}
		pages++

		chunk, err := s.messageMetadata(ctx, page.IDs)
		if err != nil {
			return nil, false, err
		}
		metas = append(metas, chunk...)

		if page.NextPageToken == "" {
			return metas, false, nil
		}
		if maxPages > 0 && pages >= maxPages {
			return metas, true, nil
		}
		token = page.NextPageToken
	}
}

func (s *Service) countDelivered(ctx context.Context, metas []gmail.MessageMeta) (int, error) {
	if s.Ledger == nil {
		return 0, nil
	}
	n := 0
	for _, meta := range metas {
		ok, err := s.Ledger.HasMessage(ctx, string(meta.ID))
		if err != nil {
			return 0, fmt.Errorf("check ledger: %w", err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func buildRankings(metas []gmail.MessageMeta, topN int) []SenderStat {
	senders := map[string]*SenderStat{}
	for _, meta := range metas {
		domain := domainOf(meta.Headers["From"])
		if domain == "" {
			continue
		}
		st := senders[domain]
		if st == nil {
			st = &SenderStat{Domain: domain}
			senders[domain] = st
		}
		st.Count++
		if st.PreviewSubject == "" {
			st.PreviewSubject = meta.Headers["Subject"]
		}
	}
	return rankSenders(senders, topN)
}

func rankSenders(m map[string]*SenderStat, topN int) []SenderStat {
	slice := make([]SenderStat, 0, len(m))
	for _, st := range m {
		slice = append(slice, *st)
	}
	sort.Slice(slice, func(i, j int) bool {
		if slice[i].Count == slice[j].Count {
			return slice[i].Domain < slice[j].Domain
		}
		return slice[i].Count > slice[j].Count
	})
	if topN < len(slice) {
		slice = slice[:topN]
	}
	return slice
}

func buildAges(metas []gmail.MessageMeta, now time.Time) (time.Time, AgeBuckets) {
	const day = 24 * time.Hour
	var (
		oldest  time.Time
		buckets AgeBuckets
	)
	for _, meta := range metas {
		date := messageDate(meta.Date, meta.Headers["Date"])
		if date.IsZero() {
			buckets.Unknown++
			continue
		}
		if oldest.IsZero() || date.Before(oldest) {
			oldest = date
		}
		switch age := now.Sub(date); {
		case age < day:
			buckets.Day++
		case age < 7*day:
			buckets.Week++
		default:
			buckets.Older++
		}
	}
	return oldest, buckets
}

func (s *Service) listMessages(ctx context.Context, pageToken string, pageSize int) (gmail.ListPage, error) {
	if err := s.wait(ctx, "rate limit messages"); err != nil {
		return gmail.ListPage{}, err
	}
	page, err := s.Client.List(ctx, gmail.UnreadWithAttachments, pageToken, pageSize)
	if err != nil {
		return gmail.ListPage{}, &gmail.TransportError{Op: "list messages", Err: err}
	}
	return page, nil
}

func (s *Service) messageMetadata(ctx context.Context, ids []gmail.MessageID) ([]gmail.MessageMeta, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	metas := make([]gmail.MessageMeta, 0, len(ids))
	for _, id := range ids {
		if err := s.wait(ctx, "rate limit metadata"); err != nil {
			return nil, err
		}
		meta, err := s.Client.GetMetadata(ctx, id, defaultHeaders())
		if err != nil {
			return nil, &gmail.TransportError{Op: "get metadata", MessageID: id, Err: err}
		}
		if meta.ID == "" {
			meta.ID = id
		}
		metas = append(metas, meta)
	}
	return metas, nil
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

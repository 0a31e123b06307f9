package imap

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"sync"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/claimintake/internal/gmail"
)

// rawMessage is a message as fetched with BODY.PEEK[].
type rawMessage struct {
	Body []byte
	Seen bool
}

// mailbox is the slice of IMAP the adapter needs.
type mailbox interface {
	Search(ctx context.Context, unseenOnly bool) ([]goimap.UID, error)
	WithAttachments(ctx context.Context, uids []goimap.UID) (map[goimap.UID]bool, error)
	Fetch(ctx context.Context, uid goimap.UID) (rawMessage, error)
	SetSeen(ctx context.Context, uid goimap.UID, seen bool) error
	Close() error
}

// Dialer opens a TLS connection to an IMAP server.
type Dialer interface {
	DialTLS(address string, options *imapclient.Options) (*imapclient.Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(string, *imapclient.Options) (*imapclient.Client, error)

func (f DialerFunc) DialTLS(address string, options *imapclient.Options) (*imapclient.Client, error) {
	return f(address, options)
}

// Options describe one IMAP account.
type Options struct {
	Address  string // host:port, implicit TLS
	Username string
	Password string             // LOGIN, used when Tokens is nil
	Tokens   oauth2.TokenSource // XOAUTH2
	Mailbox  string             // defaults to INBOX
	Dialer   Dialer
	Logger   *slog.Logger
}

// conn is a lazily established, selected IMAP session.
type conn struct {
	opts Options

	mu     sync.Mutex
	client *imapclient.Client
}

func newConn(opts Options) *conn {
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	if opts.Dialer == nil {
		opts.Dialer = DialerFunc(imapclient.DialTLS)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &conn{opts: opts}
}

func (c *conn) session(ctx context.Context) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	client, err := c.opts.Dialer.DialTLS(c.opts.Address, &imapclient.Options{
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.Address, err)
	}
	if err := c.authenticate(client); err != nil {
		_ = client.Close()
		return nil, err
	}
	if _, err := client.Select(c.opts.Mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("select %s: %w", c.opts.Mailbox, err)
	}
	c.opts.Logger.DebugContext(ctx, "imap session ready", slog.String("address", c.opts.Address), slog.String("mailbox", c.opts.Mailbox))
	c.client = client
	return client, nil
}

func (c *conn) authenticate(client *imapclient.Client) error {
	if c.opts.Tokens == nil {
		if err := client.Login(c.opts.Username, c.opts.Password).Wait(); err != nil {
			return &gmail.AuthError{Reason: "imap login for " + c.opts.Username, Err: err}
		}
		return nil
	}

	tok, err := c.opts.Tokens.Token()
	if err != nil {
		return &gmail.AuthError{Reason: "obtain imap access token", Err: err}
	}
	sc := NewXoauth2Client(c.opts.Username, tok.AccessToken)
	if err := client.Authenticate(sc); err != nil {
		if x, ok := sc.(*xoauth2Client); ok && len(x.failure) > 0 {
			err = fmt.Errorf("%w (server said %s)", err, x.failure)
		}
		return &gmail.AuthError{Reason: "imap xoauth2 for " + c.opts.Username, Err: err}
	}
	return nil
}

func (c *conn) Search(ctx context.Context, unseenOnly bool) ([]goimap.UID, error) {
	client, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	criteria := &goimap.SearchCriteria{}
	if unseenOnly {
		criteria.NotFlag = []goimap.Flag{goimap.FlagSeen}
	}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	return data.AllUIDs(), nil
}

func (c *conn) WithAttachments(ctx context.Context, uids []goimap.UID) (map[goimap.UID]bool, error) {
	out := make(map[goimap.UID]bool, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	client, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	cmd := client.Fetch(goimap.UIDSetNum(uids...), &goimap.FetchOptions{
		UID:           true,
		BodyStructure: &goimap.FetchItemBodyStructure{Extended: true},
	})
	defer func() { _ = cmd.Close() }()

	for {
		msg := cmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			return nil, fmt.Errorf("fetch bodystructure: %w", err)
		}
		if buf.BodyStructure != nil && hasAttachment(buf.BodyStructure) {
			out[buf.UID] = true
		}
	}
	if err := cmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch bodystructure: %w", err)
	}
	return out, nil
}

func hasAttachment(bs goimap.BodyStructure) bool {
	found := false
	bs.Walk(func(path []int, part goimap.BodyStructure) bool {
		if sp, ok := part.(*goimap.BodyStructureSinglePart); ok && sp.Filename() != "" {
			found = true
		}
		return !found
	})
	return found
}

func (c *conn) Fetch(ctx context.Context, uid goimap.UID) (rawMessage, error) {
	client, err := c.session(ctx)
	if err != nil {
		return rawMessage{}, err
	}
	section := &goimap.FetchItemBodySection{Peek: true}
	cmd := client.Fetch(goimap.UIDSetNum(uid), &goimap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*goimap.FetchItemBodySection{section},
	})
	defer func() { _ = cmd.Close() }()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return rawMessage{}, fmt.Errorf("fetch uid %d: %w", uid, err)
		}
		return rawMessage{}, fmt.Errorf("fetch uid %d: no such message", uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return rawMessage{}, fmt.Errorf("fetch uid %d: %w", uid, err)
	}
	out := rawMessage{Body: buf.FindBodySection(section)}
	for _, f := range buf.Flags {
		if f == goimap.FlagSeen {
			out.Seen = true
		}
	}
	if err := cmd.Close(); err != nil {
		return rawMessage{}, fmt.Errorf("fetch uid %d: %w", uid, err)
	}
	return out, nil
}

func (c *conn) SetSeen(ctx context.Context, uid goimap.UID, seen bool) error {
	client, err := c.session(ctx)
	if err != nil {
		return err
	}
	op := goimap.StoreFlagsAdd
	if !seen {
		op = goimap.StoreFlagsDel
	}
	cmd := client.Store(goimap.UIDSetNum(uid), &goimap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []goimap.Flag{goimap.FlagSeen},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("store flags uid %d: %w", uid, err)
	}
	return nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Logout().Wait()
	c.client = nil
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

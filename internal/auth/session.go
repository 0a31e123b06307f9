// internal/auth/session.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/joshsymonds/claimintake/internal/gmail"
)

// Options configures Authenticate.
type Options struct {
	// RegistrationPath points at the client registration (credentials.json).
	// It is needed for refresh and interactive consent only.
	RegistrationPath string
	Scopes           []string
	Store            TokenStore
	Authorizer       Authorizer
	Logger           *slog.Logger
	// HTTPClient, when set, is used for token endpoint calls.
	HTTPClient *http.Client
}

// Session is a live, authenticated handle on one mailbox.
type Session struct {
	Config *oauth2.Config // nil for headless sessions
	Token  *oauth2.Token  // valid at the time Authenticate returned
	Source oauth2.TokenSource
	Client *http.Client
}

// AccessToken returns a currently valid access token, refreshing through the
// session's token source when needed.
func (s *Session) AccessToken() (string, error) {
	tok, err := s.Source.Token()
	if err != nil {
		return "", &gmail.AuthError{Reason: "refresh credential", Err: err}
	}
	return tok.AccessToken, nil
}

// Authenticate returns a session whose credential is valid at return time.
//
// A valid stored credential is used unchanged. An expired credential with a
// refresh token is refreshed and persisted before returning. Otherwise the
// Authorizer runs consent once and its result is persisted.
//
// A Static authorizer bypasses the store: its token is used as given, never
// persisted, and needs no client registration unless it must be refreshed.
func Authenticate(ctx context.Context, opts Options) (*Session, error) {
	if _, ok := opts.Authorizer.(Static); !ok && opts.Store == nil {
		return nil, &gmail.AuthError{Reason: "no token store configured"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}

	var (
		cfg    *oauth2.Config
		cfgErr error
	)
	if opts.RegistrationPath != "" {
		cfg, cfgErr = LoadRegistration(opts.RegistrationPath, opts.Scopes...)
	} else {
		cfgErr = &gmail.AuthError{Reason: "client registration not configured"}
	}

	if static, ok := opts.Authorizer.(Static); ok {
		return staticSession(ctx, static, cfg, cfgErr)
	}

	stored, err := opts.Store.Load()
	switch {
	case errors.Is(err, ErrNoToken):
		stored = nil
	case err != nil:
		return nil, &gmail.AuthError{Reason: "load stored credential", Err: err}
	}

	var tok *oauth2.Token
	switch {
	case stored != nil && stored.Valid():
		logger.DebugContext(ctx, "using stored credential", slog.Time("expiry", stored.Expiry))
		tok = stored
	case stored != nil && stored.RefreshToken != "":
		if cfgErr != nil {
			return nil, cfgErr
		}
		tok, err = cfg.TokenSource(ctx, stored).Token()
		if err != nil {
			return nil, &gmail.AuthError{Reason: "refresh credential", Err: err}
		}
		if err := opts.Store.Save(tok); err != nil {
			return nil, &gmail.AuthError{Reason: "persist refreshed credential", Err: err}
		}
		logger.InfoContext(ctx, "refreshed stored credential", slog.Time("expiry", tok.Expiry))
	default:
		tok, err = consent(ctx, opts, cfg, cfgErr)
		if err != nil {
			return nil, err
		}
		if err := opts.Store.Save(tok); err != nil {
			return nil, &gmail.AuthError{Reason: "persist credential", Err: err}
		}
		logger.InfoContext(ctx, "stored new credential", slog.Time("expiry", tok.Expiry))
	}

	base, err := refresher(ctx, opts, cfg, tok)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		base:   oauth2.ReuseTokenSource(tok, base),
		store:  opts.Store,
		last:   tok.AccessToken,
		logger: logger,
	}
	return &Session{
		Config: cfg,
		Token:  tok,
		Source: src,
		Client: oauth2.NewClient(ctx, src),
	}, nil
}

func staticSession(ctx context.Context, static Static, cfg *oauth2.Config, cfgErr error) (*Session, error) {
	tok, err := static.Authorize(ctx, cfg)
	if err != nil {
		return nil, &gmail.AuthError{Reason: "pre-provisioned credential", Err: err}
	}
	var src oauth2.TokenSource = oauth2.StaticTokenSource(tok)
	if !tok.Valid() {
		if cfgErr != nil {
			return nil, cfgErr
		}
		src = cfg.TokenSource(ctx, tok)
		if tok, err = src.Token(); err != nil {
			return nil, &gmail.AuthError{Reason: "refresh credential", Err: err}
		}
	}
	return &Session{Config: cfg, Token: tok, Source: src, Client: oauth2.NewClient(ctx, src)}, nil
}

func consent(ctx context.Context, opts Options, cfg *oauth2.Config, cfgErr error) (*oauth2.Token, error) {
	if opts.Authorizer == nil {
		return nil, &gmail.AuthError{Reason: "no usable credential and no authorizer configured"}
	}
	if _, headless := opts.Authorizer.(Headless); !headless && cfgErr != nil {
		return nil, cfgErr
	}
	tok, err := opts.Authorizer.Authorize(ctx, cfg)
	if err != nil {
		return nil, &gmail.AuthError{Reason: "consent", Err: err}
	}
	if tok == nil || !tok.Valid() {
		return nil, &gmail.AuthError{Reason: "consent returned an unusable credential"}
	}
	return tok, nil
}

func refresher(ctx context.Context, opts Options, cfg *oauth2.Config, tok *oauth2.Token) (oauth2.TokenSource, error) {
	if h, ok := opts.Authorizer.(Headless); ok && tok.RefreshToken == "" {
		ts, err := h.TokenSource(ctx)
		if err != nil {
			return nil, &gmail.AuthError{Reason: "headless token source", Err: err}
		}
		return ts, nil
	}
	if cfg != nil {
		return cfg.TokenSource(ctx, tok), nil
	}
	return oauth2.StaticTokenSource(tok), nil
}

// persistingSource writes every newly issued token back to the store so a
// refresh during a long session survives the process.
type persistingSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	store  TokenStore
	last   string
	logger *slog.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("token source: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.Save(tok); err != nil {
			p.logger.Warn("persist refreshed credential", slog.Any("error", err))
		} else {
			p.last = tok.AccessToken
		}
	}
	return tok, nil
}

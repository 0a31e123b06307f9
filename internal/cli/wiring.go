package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/joshsymonds/claimintake/internal/auth"
	"github.com/joshsymonds/claimintake/internal/config"
	"github.com/joshsymonds/claimintake/internal/gmail"
	"github.com/joshsymonds/claimintake/internal/imap"
	"github.com/joshsymonds/claimintake/internal/rate"
	"github.com/joshsymonds/claimintake/internal/runtime"
	"github.com/joshsymonds/claimintake/internal/store"
)

const keyringKey = "claimintake"

func scopesFor(cfg *config.Config) []string {
	if cfg.Provider == config.ProviderIMAP {
		return runtime.ScopeIMAP.OAuthScopes()
	}
	return runtime.ScopeModify.OAuthScopes()
}

func newTokenStore(cfg *config.Config) (auth.TokenStore, error) {
	switch cfg.TokenStore {
	case config.TokenStoreKeyring:
		return auth.OpenKeyringStore(keyringKey, cfg.KeyringDir)
	default:
		return auth.FileStore{Path: cfg.TokenFile}, nil
	}
}

func newAuthorizer(cfg *config.Config, in io.Reader, out io.Writer) (auth.Authorizer, error) {
	switch cfg.Authorizer {
	case config.AuthorizerLoopback:
		return auth.Loopback{Out: out}, nil
	case config.AuthorizerServiceAccount:
		return auth.LoadServiceAccount(cfg.ServiceAccountFile, cfg.Subject, scopesFor(cfg)...)
	case config.AuthorizerStatic:
		return auth.Static{Token: &oauth2.Token{AccessToken: cfg.StaticToken}}, nil
	default:
		return auth.PasteCode{In: in, Out: out}, nil
	}
}

// needsOAuth reports whether the provider authenticates with an OAuth
// credential. IMAP with a password uses LOGIN instead.
func needsOAuth(cfg *config.Config) bool {
	return cfg.Provider != config.ProviderIMAP || cfg.IMAP.Password == ""
}

func (a *app) authenticate(ctx context.Context) (*auth.Session, error) {
	tokens, err := newTokenStore(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open token store: %w", err)
	}
	authorizer, err := newAuthorizer(a.cfg, a.in, a.err)
	if err != nil {
		return nil, fmt.Errorf("configure authorizer: %w", err)
	}
	return auth.Authenticate(ctx, auth.Options{
		RegistrationPath: a.cfg.CredentialsFile,
		Scopes:           scopesFor(a.cfg),
		Store:            tokens,
		Authorizer:       authorizer,
		Logger:           a.logger,
	})
}

// mailClient authenticates and returns the configured provider. The returned
// close function must be called when the command is done.
func (a *app) mailClient(ctx context.Context) (gmail.Client, func() error, error) {
	if a.connect != nil {
		return a.connect(ctx)
	}
	var sess *auth.Session
	if needsOAuth(a.cfg) {
		var err error
		if sess, err = a.authenticate(ctx); err != nil {
			return nil, nil, err
		}
	}

	if a.cfg.Provider == config.ProviderIMAP {
		opts := imap.Options{
			Address:  a.cfg.IMAP.Address,
			Username: a.cfg.IMAP.Username,
			Password: a.cfg.IMAP.Password,
			Mailbox:  a.cfg.IMAP.Mailbox,
			Logger:   a.logger,
		}
		if sess != nil {
			opts.Tokens = sess.Source
		}
		client := imap.New(opts)
		return client, client.Close, nil
	}

	client, err := runtime.NewGmailClient(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	return client, func() error { return nil }, nil
}

// limiter returns the configured rate limiter and a stop function.
func (a *app) limiter() (rate.Limiter, func()) {
	if a.cfg.RPS <= 0 {
		return rate.Unlimited{}, func() {}
	}
	bucket := rate.NewTokenBucket(a.cfg.RPS, a.cfg.Burst)
	return bucket, bucket.Stop
}

// openLedger opens the delivery ledger. With mustExist, a ledger that was
// never created yields nil instead of an empty new database.
func (a *app) openLedger(mustExist bool) (*store.SQLiteStore, error) {
	path := a.cfg.LedgerPath()
	if path == "" {
		return nil, nil
	}
	if mustExist {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return st, nil
}

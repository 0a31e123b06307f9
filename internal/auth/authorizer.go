package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/joshsymonds/claimintake/internal/gmail"
)

// Authorizer obtains a fresh credential when no usable stored one exists.
// cfg is nil when no client registration was configured.
type Authorizer interface {
	Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	return f(ctx, cfg)
}

// Headless is implemented by authorizers that mint tokens without a client
// registration or a refresh token.
type Headless interface {
	TokenSource(ctx context.Context) (oauth2.TokenSource, error)
}

var errNoRegistration = errors.New("interactive consent requires a client registration")

// PasteCode prints the consent URL and reads the authorization code back
// from In. The user copies the code from the redirect target.
type PasteCode struct {
	In  io.Reader
	Out io.Writer
}

func (p PasteCode) Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	if cfg == nil {
		return nil, errNoRegistration
	}
	in, out := p.In, p.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stderr
	}
	state, err := randomState()
	if err != nil {
		return nil, err
	}
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	_, _ = fmt.Fprintf(out, "Go to the following link in your browser then type the authorization code:\n%s\n", authURL)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.New("consent denied: empty authorization code")
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// Static serves a pre-provisioned credential.
type Static struct {
	Token *oauth2.Token
}

func (s Static) Authorize(context.Context, *oauth2.Config) (*oauth2.Token, error) {
	if s.Token == nil || (s.Token.AccessToken == "" && s.Token.RefreshToken == "") {
		return nil, errors.New("no pre-provisioned token")
	}
	cp := *s.Token
	return &cp, nil
}

// ServiceAccount mints tokens from a service-account key using domain-wide
// delegation on behalf of Subject.
type ServiceAccount struct {
	KeyJSON []byte
	Subject string
	Scopes  []string
}

// LoadServiceAccount reads a service-account key file.
func LoadServiceAccount(path, subject string, scopes ...string) (ServiceAccount, error) {
	b, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
	if err != nil {
		return ServiceAccount{}, &gmail.AuthError{Reason: "read service account key", Err: err}
	}
	return ServiceAccount{KeyJSON: b, Subject: subject, Scopes: scopes}, nil
}

func (s ServiceAccount) jwtConfig() (*jwt.Config, error) {
	conf, err := google.JWTConfigFromJSON(s.KeyJSON, s.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	conf.Subject = s.Subject
	return conf, nil
}

func (s ServiceAccount) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	conf, err := s.jwtConfig()
	if err != nil {
		return nil, err
	}
	return conf.TokenSource(ctx), nil
}

func (s ServiceAccount) Authorize(ctx context.Context, _ *oauth2.Config) (*oauth2.Token, error) {
	ts, err := s.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("mint service account token: %w", err)
	}
	return tok, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

var (
	_ Authorizer = PasteCode{}
	_ Authorizer = Static{}
	_ Authorizer = ServiceAccount{}
	_ Headless   = ServiceAccount{}
)

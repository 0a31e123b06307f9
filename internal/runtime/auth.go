// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/joshsymonds/claimintake/internal/auth"
	gc "github.com/joshsymonds/claimintake/internal/gmail"
	"github.com/joshsymonds/claimintake/internal/logger"
)

type Scope int

const (
	ScopeReadonly Scope = iota
	ScopeModify
	ScopeIMAP
)

// OAuthScopes maps a Scope to the provider scope strings requested at consent.
func (s Scope) OAuthScopes() []string {
	switch s {
	case ScopeReadonly:
		return []string{gmail.GmailReadonlyScope}
	case ScopeModify:
		return []string{gmail.GmailModifyScope}
	case ScopeIMAP:
		return []string{gmail.MailGoogleComScope}
	default:
		panic("unknown scope")
	}
}

// NewGmailClient builds a Gmail API client over an authenticated session.
func NewGmailClient(ctx context.Context, sess *auth.Session) (gc.Client, error) {
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(sess.Client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc), nil
}

func DefaultLogger() *slog.Logger {
	return NewLogger("info")
}

// NewLogger returns a text logger on stderr that also carries attributes
// stored in the context via logger.WithAttrs.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl, ReplaceAttr: logger.ReplaceAttr})
	return slog.New(logger.NewContextHandler(h))
}

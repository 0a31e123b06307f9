package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
)

const defaultConsentTimeout = 5 * time.Minute

// Loopback runs consent through an ephemeral HTTP callback on the local
// machine. The redirect URL registered with the provider must allow
// http://127.0.0.1 (desktop client registrations do).
type Loopback struct {
	Addr    string // listen address, default 127.0.0.1:0
	Timeout time.Duration
	// OpenURL presents the consent URL to the user. When nil the URL is
	// printed to Out.
	OpenURL func(url string) error
	Out     io.Writer
}

type callbackResult struct {
	code string
	err  error
}

func (l Loopback) Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	if cfg == nil {
		return nil, errNoRegistration
	}
	addr := l.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = defaultConsentTimeout
	}
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for consent callback: %w", err)
	}
	local := *cfg
	local.RedirectURL = fmt.Sprintf("http://%s/callback", ln.Addr().String())

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackRouter(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := local.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	if l.OpenURL != nil {
		if err := l.OpenURL(authURL); err != nil {
			return nil, fmt.Errorf("open consent url: %w", err)
		}
	} else {
		out := l.Out
		if out == nil {
			out = os.Stderr
		}
		_, _ = fmt.Fprintf(out, "Open the following link in your browser to authorize access:\n%s\n", authURL)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var res callbackResult
	select {
	case <-waitCtx.Done():
		return nil, fmt.Errorf("wait for consent callback: %w", waitCtx.Err())
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}
	tok, err := local.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

func callbackRouter(state string, results chan<- callbackResult) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	deliver := func(res callbackResult) {
		select {
		case results <- res:
		default:
		}
	}
	r.GET("/callback", func(c *gin.Context) {
		if c.Query("state") != state {
			c.String(http.StatusBadRequest, "state mismatch")
			return
		}
		if reason := c.Query("error"); reason != "" {
			c.String(http.StatusForbidden, "authorization denied: %s", reason)
			deliver(callbackResult{err: fmt.Errorf("consent denied: %s", reason)})
			return
		}
		code := c.Query("code")
		if code == "" {
			c.String(http.StatusBadRequest, "missing code")
			deliver(callbackResult{err: errors.New("consent callback without code")})
			return
		}
		c.String(http.StatusOK, "Authorization complete. You can close this window.")
		deliver(callbackResult{code: code})
	})
	return r
}

var _ Authorizer = Loopback{}

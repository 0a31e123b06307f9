package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/joshsymonds/claimintake/internal/auth"
	"github.com/joshsymonds/claimintake/internal/config"
	"github.com/joshsymonds/claimintake/internal/gmail"
	"github.com/joshsymonds/claimintake/internal/intake"
	"github.com/joshsymonds/claimintake/internal/rate"
	"github.com/joshsymonds/claimintake/internal/runtime"
	"github.com/joshsymonds/claimintake/internal/store"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claimintake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeApp(t, &app{}, args...)
}

func executeApp(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a.in, a.out, a.err = strings.NewReader(""), &out, io.Discard
	root := newRootCommand(a)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func testApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	return &app{in: strings.NewReader(""), out: io.Discard, err: io.Discard, cfg: cfg, logger: slogDiscard()}
}

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"auth", "list", "fetch", "backlog", "deliveries"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestScopesFollowProvider(t *testing.T) {
	assert.Equal(t, runtime.ScopeModify.OAuthScopes(), scopesFor(&config.Config{Provider: config.ProviderGmail}))
	assert.Equal(t, runtime.ScopeIMAP.OAuthScopes(), scopesFor(&config.Config{Provider: config.ProviderIMAP}))
}

func TestNeedsOAuth(t *testing.T) {
	assert.True(t, needsOAuth(&config.Config{Provider: config.ProviderGmail}))
	assert.True(t, needsOAuth(&config.Config{Provider: config.ProviderIMAP}))
	assert.False(t, needsOAuth(&config.Config{
		Provider: config.ProviderIMAP,
		IMAP:     config.IMAPConfig{Password: "app-password"},
	}))
}

func TestNewTokenStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	ts, err := newTokenStore(&config.Config{TokenStore: config.TokenStoreFile, TokenFile: path})
	require.NoError(t, err)
	assert.Equal(t, auth.FileStore{Path: path}, ts)
}

func TestNewAuthorizerSelection(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want any
	}{
		{"paste", config.Config{Authorizer: config.AuthorizerPaste}, auth.PasteCode{}},
		{"loopback", config.Config{Authorizer: config.AuthorizerLoopback}, auth.Loopback{}},
		{"static", config.Config{Authorizer: config.AuthorizerStatic, StaticToken: "ya29.x"}, auth.Static{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newAuthorizer(&tt.cfg, strings.NewReader(""), io.Discard)
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}

	keyPath := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(keyPath, []byte(`{"type":"service_account"}`), 0o600))
	got, err := newAuthorizer(&config.Config{
		Authorizer:         config.AuthorizerServiceAccount,
		ServiceAccountFile: keyPath,
		Subject:            "claims@example.com",
	}, nil, io.Discard)
	require.NoError(t, err)
	sa, ok := got.(auth.ServiceAccount)
	require.True(t, ok)
	assert.Equal(t, "claims@example.com", sa.Subject)
	assert.Equal(t, runtime.ScopeModify.OAuthScopes(), sa.Scopes)

	_, err = newAuthorizer(&config.Config{
		Authorizer:         config.AuthorizerServiceAccount,
		ServiceAccountFile: filepath.Join(t.TempDir(), "missing.json"),
	}, nil, io.Discard)
	require.Error(t, err)
}

func TestLimiterFromConfig(t *testing.T) {
	a := testApp(t, &config.Config{RPS: 0})
	l, stop := a.limiter()
	defer stop()
	assert.IsType(t, rate.Unlimited{}, l)

	a = testApp(t, &config.Config{RPS: 5, Burst: 2})
	l, stop = a.limiter()
	defer stop()
	assert.IsType(t, &rate.TokenBucket{}, l)
}

func TestFetchOptionsMergeFlagsOverConfig(t *testing.T) {
	a := testApp(t, &config.Config{MaxResults: 10, MaxPages: 3, ClearPolicy: "always"})

	var f fetchFlags
	cmd := &cobra.Command{Use: "fetch"}
	bindFetchFlags(cmd, &f)
	require.NoError(t, cmd.ParseFlags([]string{"--dry-run", "--clear-policy", "on-success", "--follow-pages"}))

	opts, err := a.fetchOptions(cmd, f)
	require.NoError(t, err)
	assert.Equal(t, 10, opts.MaxResults)
	assert.Equal(t, 3, opts.MaxPages)
	assert.True(t, opts.DryRun)
	assert.True(t, opts.FollowPages)
	assert.Equal(t, intake.ClearOnSuccess, opts.Policy)
}

func TestFetchOptionsRejectBadValues(t *testing.T) {
	a := testApp(t, &config.Config{MaxResults: 10, ClearPolicy: "always"})

	for _, args := range [][]string{
		{"--clear-policy", "sometimes"},
		{"--max-results", "0"},
	} {
		var f fetchFlags
		cmd := &cobra.Command{Use: "fetch"}
		bindFetchFlags(cmd, &f)
		require.NoError(t, cmd.ParseFlags(args))
		_, err := a.fetchOptions(cmd, f)
		assert.Error(t, err, "args %v", args)
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, intake.Result{
		Attachments: nil,
		Messages:    []gmail.MessageID{"m1"},
	}, intake.Options{DryRun: true})
	assert.Equal(t, "1 messages, 0 attachments, 0 marked read (dry run)\n", buf.String())
}

func TestAuthCommandUsesStoredCredential(t *testing.T) {
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "token.json")
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, auth.FileStore{Path: tokenPath}.Save(&oauth2.Token{AccessToken: "ya29.stored", Expiry: expiry}))

	cfgPath := writeConfig(t, "token_file: "+tokenPath+"\ncredentials_file: "+filepath.Join(dir, "missing.json")+"\n")
	out, err := execute(t, "--config", cfgPath, "auth")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated; access token valid until "+expiry.Local().Format(time.RFC3339))
}

func TestAuthCommandSkipsOAuthForIMAPPassword(t *testing.T) {
	cfgPath := writeConfig(t, `
provider: imap
imap:
  username: claims@example.com
  password: app-password
`)
	out, err := execute(t, "--config", cfgPath, "auth")
	require.NoError(t, err)
	assert.Contains(t, out, "no OAuth credential needed")
}

func TestInvalidConfigFailsBeforeRunning(t *testing.T) {
	cfgPath := writeConfig(t, "provider: pop3\n")
	_, err := execute(t, "--config", cfgPath, "auth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestDeliveriesCommand(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "deliveries.db")
	st, err := store.Open(ledgerPath)
	require.NoError(t, err)
	_, err = st.RecordDelivery(context.Background(), store.Delivery{
		MessageID: "18c2",
		Filename:  "estimate.pdf",
		StoredAs:  "18c2/estimate.pdf",
		MimeType:  "application/pdf",
		Size:      4,
		SHA256:    "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cfgPath := writeConfig(t, "sink:\n  ledger: "+ledgerPath+"\n")
	out, err := execute(t, "--config", cfgPath, "deliveries", "--message", "18c2")
	require.NoError(t, err)
	assert.Contains(t, out, "18c2/estimate.pdf")
	assert.Contains(t, out, "9f86d081884c")
	assert.NotContains(t, out, "9f86d081884c7")
}

func TestDeliveriesCommandWithoutLedger(t *testing.T) {
	cfgPath := writeConfig(t, "sink:\n  ledger: "+filepath.Join(t.TempDir(), "absent.db")+"\n")
	_, err := execute(t, "--config", cfgPath, "deliveries")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no delivery ledger")
}

type fakeMailbox struct {
	messages map[gmail.MessageID]gmail.Message
	bodies   map[gmail.AttachmentID][]byte
	modified []gmail.MessageID
	closed   bool
}

func (f *fakeMailbox) List(_ context.Context, q gmail.Query, _ string, _ int) (gmail.ListPage, error) {
	if q != gmail.UnreadWithAttachments {
		return gmail.ListPage{}, fmt.Errorf("unexpected query %q", q.Raw)
	}
	var page gmail.ListPage
	for id := range f.messages {
		if !slices.Contains(f.modified, id) {
			page.IDs = append(page.IDs, id)
		}
	}
	slices.Sort(page.IDs)
	return page, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, id gmail.MessageID) (gmail.Message, error) {
	return f.messages[id], nil
}

func (f *fakeMailbox) GetAttachment(_ context.Context, _ gmail.MessageID, att gmail.AttachmentID) (gmail.AttachmentBody, error) {
	b := f.bodies[att]
	return gmail.AttachmentBody{Data: gmail.EncodeBody(b), Size: int64(len(b))}, nil
}

func (f *fakeMailbox) Modify(_ context.Context, id gmail.MessageID, _ gmail.ModifyOps) error {
	f.modified = append(f.modified, id)
	return nil
}

func (f *fakeMailbox) GetMetadata(_ context.Context, id gmail.MessageID, _ []string) (gmail.MessageMeta, error) {
	return gmail.MessageMeta{ID: id}, nil
}

func TestFetchCommandWritesSinkAndLedger(t *testing.T) {
	sinkDir := filepath.Join(t.TempDir(), "inbox")
	cfgPath := writeConfig(t, "rps: 0\nsink:\n  dir: "+sinkDir+"\n")

	mb := &fakeMailbox{
		messages: map[gmail.MessageID]gmail.Message{
			"m1": {
				ID:       "m1",
				LabelIDs: []gmail.LabelID{gmail.LabelUnread},
				Payload: &gmail.Part{MimeType: "multipart/mixed", Parts: []*gmail.Part{
					{PartID: "0", MimeType: "text/plain"},
					{PartID: "1", MimeType: "application/pdf", Filename: "claim.pdf", AttachmentID: "a1"},
				}},
			},
		},
		bodies: map[gmail.AttachmentID][]byte{"a1": []byte("PDF!")},
	}
	a := &app{connect: func(context.Context) (gmail.Client, func() error, error) {
		return mb, func() error { mb.closed = true; return nil }, nil
	}}

	out, err := executeApp(t, a, "--config", cfgPath, "fetch")
	require.NoError(t, err)
	assert.Contains(t, out, "m1\tclaim.pdf\tapplication/pdf\t4 bytes")
	assert.Contains(t, out, "1 messages, 1 attachments, 1 marked read")
	assert.Equal(t, []gmail.MessageID{"m1"}, mb.modified)
	assert.True(t, mb.closed)

	data, err := os.ReadFile(filepath.Join(sinkDir, "m1", "claim.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "PDF!", string(data))

	st, err := store.Open(filepath.Join(sinkDir, "deliveries.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	rows, err := st.ListDeliveries(context.Background(), store.Filter{MessageID: "m1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1/claim.pdf", rows[0].StoredAs)
	assert.Equal(t, int64(4), rows[0].Size)
}

func TestFetchCommandDryRunLeavesMessagesUnread(t *testing.T) {
	cfgPath := writeConfig(t, "rps: 0\n")
	mb := &fakeMailbox{
		messages: map[gmail.MessageID]gmail.Message{
			"m1": {ID: "m1", Payload: &gmail.Part{Parts: []*gmail.Part{
				{PartID: "1", Filename: "photo.jpg", MimeType: "image/jpeg", AttachmentID: "a1"},
			}}},
		},
		bodies: map[gmail.AttachmentID][]byte{"a1": []byte("jpg")},
	}
	a := &app{connect: func(context.Context) (gmail.Client, func() error, error) {
		return mb, func() error { return nil }, nil
	}}

	out, err := executeApp(t, a, "--config", cfgPath, "fetch", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "1 messages, 1 attachments, 0 marked read (dry run)")
	assert.Empty(t, mb.modified)
}

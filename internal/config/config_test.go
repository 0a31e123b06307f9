package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenDefaultFileMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, ProviderGmail, cfg.Provider)
	assert.Equal(t, "credentials.json", cfg.CredentialsFile)
	assert.Equal(t, "token.json", cfg.TokenFile)
	assert.Equal(t, TokenStoreFile, cfg.TokenStore)
	assert.Equal(t, AuthorizerPaste, cfg.Authorizer)
	assert.Equal(t, 10, cfg.MaxResults)
	assert.Equal(t, "always", cfg.ClearPolicy)
	assert.False(t, cfg.FollowPages)
	assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
	assert.Empty(t, cfg.LedgerPath())
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
}

func TestLoadFileValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "claimintake.yaml", `
provider: imap
max_results: 25
follow_pages: true
max_pages: 4
clear_policy: on-success
imap:
  address: mail.example.com:993
  username: claims@example.com
sink:
  dir: /var/lib/claimintake
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, ProviderIMAP, cfg.Provider)
	assert.Equal(t, 25, cfg.MaxResults)
	assert.True(t, cfg.FollowPages)
	assert.Equal(t, 4, cfg.MaxPages)
	assert.Equal(t, "on-success", cfg.ClearPolicy)
	assert.Equal(t, "mail.example.com:993", cfg.IMAP.Address)
	assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
	assert.Equal(t, filepath.Join("/var/lib/claimintake", "deliveries.db"), cfg.LedgerPath())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "claimintake.yaml", "max_results: 25\n")
	t.Setenv("CLAIMINTAKE_MAX_RESULTS", "50")
	t.Setenv("CLAIMINTAKE_SINK_DIR", "/srv/inbox")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.MaxResults)
	assert.Equal(t, "/srv/inbox", cfg.Sink.Dir)
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "claimintake.yaml", "provider: gmail\n")
	envFile := writeFile(t, dir, ".env", "CLAIMINTAKE_TOKEN_STORE=keyring\n")
	t.Cleanup(func() { _ = os.Unsetenv("CLAIMINTAKE_TOKEN_STORE") })

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, TokenStoreKeyring, cfg.TokenStore)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"provider", "provider: pop3\n"},
		{"token store", "token_store: vault\n"},
		{"authorizer", "authorizer: magic\n"},
		{"service account without key", "authorizer: service-account\n"},
		{"max results", "max_results: 0\n"},
		{"max pages", "max_pages: -1\n"},
		{"imap without account", "provider: imap\nimap:\n  address: ''\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "c.yaml", tt.yaml)
			_, err := Load(path, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

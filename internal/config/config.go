// internal/config/config.go

// Package config loads claimintake settings from a YAML file, an optional
// .env file and CLAIMINTAKE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CLAIMINTAKE_SINK_DIR.
const EnvPrefix = "CLAIMINTAKE"

// Provider values.
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Token store values.
const (
	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
)

// Authorizer values.
const (
	AuthorizerPaste          = "paste"
	AuthorizerLoopback       = "loopback"
	AuthorizerServiceAccount = "service-account"
	AuthorizerStatic         = "static"
)

// Config is the full application configuration.
type Config struct {
	Provider           string `mapstructure:"provider"`
	CredentialsFile    string `mapstructure:"credentials_file"`
	TokenFile          string `mapstructure:"token_file"`
	TokenStore         string `mapstructure:"token_store"`
	KeyringDir         string `mapstructure:"keyring_dir"` // file backend fallback for headless hosts
	Authorizer         string `mapstructure:"authorizer"`
	ServiceAccountFile string `mapstructure:"service_account_file"`
	Subject            string `mapstructure:"subject"` // mailbox impersonated by a service account
	StaticToken        string `mapstructure:"static_token"`
	MaxResults         int    `mapstructure:"max_results"`
	FollowPages        bool   `mapstructure:"follow_pages"`
	MaxPages           int    `mapstructure:"max_pages"`
	ClearPolicy        string `mapstructure:"clear_policy"`
	DryRun             bool   `mapstructure:"dry_run"`
	RPS                int    `mapstructure:"rps"`
	Burst              int    `mapstructure:"burst"`
	LogLevel           string `mapstructure:"log_level"`

	IMAP IMAPConfig `mapstructure:"imap"`
	Sink SinkConfig `mapstructure:"sink"`
}

// IMAPConfig is used when Provider is "imap".
type IMAPConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"` // LOGIN; empty selects XOAUTH2
	Mailbox  string `mapstructure:"mailbox"`
}

// SinkConfig enables writing attachments to disk. An empty Dir disables it.
type SinkConfig struct {
	Dir    string `mapstructure:"dir"`
	Ledger string `mapstructure:"ledger"`
}

// DefaultConfigPath is ~/.config/claimintake/claimintake.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "claimintake.yaml")
	}
	return filepath.Join(home, ".config", "claimintake", "claimintake.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGmail)
	v.SetDefault("credentials_file", "credentials.json")
	v.SetDefault("token_file", "token.json")
	v.SetDefault("token_store", TokenStoreFile)
	v.SetDefault("keyring_dir", "")
	v.SetDefault("authorizer", AuthorizerPaste)
	v.SetDefault("service_account_file", "")
	v.SetDefault("subject", "")
	v.SetDefault("static_token", "")
	v.SetDefault("max_results", 10)
	v.SetDefault("follow_pages", false)
	v.SetDefault("max_pages", 0)
	v.SetDefault("clear_policy", "always")
	v.SetDefault("dry_run", false)
	v.SetDefault("rps", 5)
	v.SetDefault("burst", 5)
	v.SetDefault("log_level", "info")
	v.SetDefault("imap.address", "imap.gmail.com:993")
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("sink.dir", "")
	v.SetDefault("sink.ledger", "")
}

// Load reads envFile (if it exists), then the config file at path. A missing
// file at the default location yields the defaults; a missing explicit path
// is an error.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
		if !missing || explicit {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and bounds.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderGmail, ProviderIMAP:
	default:
		errs = append(errs, fmt.Errorf("provider must be %q or %q, got %q", ProviderGmail, ProviderIMAP, c.Provider))
	}
	switch c.TokenStore {
	case TokenStoreFile, TokenStoreKeyring:
	default:
		errs = append(errs, fmt.Errorf("token_store must be %q or %q, got %q", TokenStoreFile, TokenStoreKeyring, c.TokenStore))
	}
	switch c.Authorizer {
	case AuthorizerPaste, AuthorizerLoopback, AuthorizerStatic:
	case AuthorizerServiceAccount:
		if c.ServiceAccountFile == "" {
			errs = append(errs, errors.New("authorizer service-account needs service_account_file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown authorizer %q", c.Authorizer))
	}
	if c.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("max_results must be positive, got %d", c.MaxResults))
	}
	if c.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("max_pages must not be negative, got %d", c.MaxPages))
	}
	if c.RPS < 0 {
		errs = append(errs, fmt.Errorf("rps must not be negative, got %d", c.RPS))
	}
	if c.Provider == ProviderIMAP && (c.IMAP.Address == "" || c.IMAP.Username == "") {
		errs = append(errs, errors.New("imap provider needs imap.address and imap.username"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LedgerPath defaults the ledger to deliveries.db inside the sink directory.
func (c *Config) LedgerPath() string {
	if c.Sink.Ledger != "" || c.Sink.Dir == "" {
		return c.Sink.Ledger
	}
	return filepath.Join(c.Sink.Dir, "deliveries.db")
}

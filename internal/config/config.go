package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Inbox     InboxConfig               `yaml:"inbox"`
	Telegram  TelegramConfig            `yaml:"telegram,omitempty"`
	Browser   BrowserConfig             `yaml:"browser,omitempty"`
	Platforms map[string]PlatformConfig `yaml:"platforms"`
	Ledger    LedgerConfig              `yaml:"ledger,omitempty"`
}

// InboxConfig holds IMAP settings for the verification-code mailbox
type InboxConfig struct {
	Provider string `yaml:"provider"` // "gmail", "outlook", "imap"
	Server   string `yaml:"server"`   // e.g., "imap.gmail.com"
	Port     int    `yaml:"port"`     // e.g., 993
	Email    string `yaml:"email"`    // Mailbox receiving verification codes
	Password string `yaml:"password"` // App password (not main password)
	Folder   string `yaml:"folder"`   // Folder to watch (default: "INBOX")
}

// TelegramConfig holds the escalation channel settings. Optional: when the
// token is empty, escalations fall back to the console.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token,omitempty"`
	ChatID   int64  `yaml:"chat_id,omitempty"`
}

// BrowserConfig holds chromedp session settings
type BrowserConfig struct {
	Headless      bool   `yaml:"headless"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	ScreenshotDir string `yaml:"screenshot_dir,omitempty"`
	SessionDir    string `yaml:"session_dir,omitempty"` // Per-platform user-data dirs live under here
}

// PlatformConfig is the per-exchange account material. A platform without
// a TOTP secret is excluded from the run's candidates.
type PlatformConfig struct {
	TOTPSecret string `yaml:"totp_secret"`
}

// LedgerConfig points at the address files
type LedgerConfig struct {
	AddressFile string `yaml:"address_file"` // Pending addresses, one per line
	AuditDir    string `yaml:"audit_dir,omitempty"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".provisioner", "config.yaml")
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets may come from the environment instead of the file. A .env in
	// the working directory is honored when present.
	godotenv.Load()
	applyEnvOverrides(&cfg)

	cfg.applyDefaults()
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EMAIL_LOGIN"); v != "" {
		cfg.Inbox.Email = v
	}
	if v := os.Getenv("EMAIL_PASSWORD"); v != "" {
		cfg.Inbox.Password = v
	}
	if v := os.Getenv("EMAIL_HOST"); v != "" {
		cfg.Inbox.Server = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	for name, pc := range cfg.Platforms {
		// e.g. BYBIT_AUTHENTICATOR, OKX_AUTHENTICATOR
		if v := os.Getenv(envName(name) + "_AUTHENTICATOR"); v != "" {
			pc.TOTPSecret = v
			cfg.Platforms[name] = pc
		}
	}
}

func envName(platform string) string {
	out := make([]rune, 0, len(platform))
	for _, r := range platform {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

func (c *Config) applyDefaults() {
	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.Provider == "gmail" && c.Inbox.Server == "" {
		c.Inbox.Server = "imap.gmail.com"
		c.Inbox.Port = 993
	}
	if c.Inbox.Provider == "outlook" && c.Inbox.Server == "" {
		c.Inbox.Server = "outlook.office365.com"
		c.Inbox.Port = 993
	}
	if c.Inbox.Port == 0 {
		c.Inbox.Port = 993
	}

	if c.Browser.TimeoutSec == 0 {
		c.Browser.TimeoutSec = 30
	}
	if c.Browser.SessionDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Browser.SessionDir = filepath.Join(home, ".provisioner", "sessions")
		} else {
			c.Browser.SessionDir = "sessions"
		}
	}

	if c.Ledger.AddressFile == "" {
		c.Ledger.AddressFile = "addresses.txt"
	}
	if c.Ledger.AuditDir == "" {
		c.Ledger.AuditDir = "."
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks the settings the run cannot start without. Per-platform
// TOTP secrets are not required here: a platform missing its secret is
// skipped, not fatal.
func (c *Config) Validate() error {
	if err := c.ValidateInbox(); err != nil {
		return err
	}
	if len(c.Platforms) == 0 {
		return fmt.Errorf("platforms: at least one platform must be configured")
	}
	if c.Ledger.AddressFile == "" {
		return fmt.Errorf("ledger: address_file is required")
	}
	return nil
}

// ValidateInbox validates the verification-code mailbox settings
func (c *Config) ValidateInbox() error {
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required")
	}
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	if c.Inbox.Port == 0 {
		return fmt.Errorf("inbox: IMAP port is required")
	}
	return nil
}

// CandidatePlatforms returns the names of platforms whose 2FA can be
// completed, i.e. those with a usable TOTP secret.
func (c *Config) CandidatePlatforms(available func(secret string) bool) []string {
	var names []string
	for name, pc := range c.Platforms {
		if available(pc.TOTPSecret) {
			names = append(names, name)
		}
	}
	return names
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DisplayMode controls how a message is opened from a list
type DisplayMode string

const (
	// DisplayWindow opens each message in its own panel
	DisplayWindow DisplayMode = "window"
	// DisplayPreview splices the message into the list panel
	DisplayPreview DisplayMode = "preview"
	// DisplaySplit reuses one side panel for every message
	DisplaySplit DisplayMode = "split"
)

// Valid reports whether m is a known display mode
func (m DisplayMode) Valid() bool {
	switch m {
	case DisplayWindow, DisplayPreview, DisplaySplit:
		return true
	}
	return false
}

// Config holds the application configuration
type Config struct {
	CachePath string
	LogLevel  string

	// RefreshInterval is in seconds; zero or less disables periodic refresh
	RefreshInterval int
	DisplayMode     DisplayMode
	Locale          string
	PageSize        int

	Accounts []AccountConfig
}

// FolderRoles maps folder roles to server folder paths
type FolderRoles struct {
	Sent        string
	Drafts      string
	Trash       string
	Spam        string
	Archive     string
	Newsletters string
}

// ByPath returns the role assigned to path, if any
func (r FolderRoles) ByPath(path string) string {
	switch path {
	case "":
		return ""
	case r.Sent:
		return "sent"
	case r.Drafts:
		return "drafts"
	case r.Trash:
		return "trash"
	case r.Spam:
		return "spam"
	case r.Archive:
		return "archive"
	case r.Newsletters:
		return "newsletters"
	}
	return ""
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	// Name is the account id used as a key everywhere
	Name string

	// IMAP settings
	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string
	IMAPTLS      bool

	// SMTP settings
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	Folders FolderRoles
}

// ID returns the account id
func (a *AccountConfig) ID() string {
	return a.Name
}

// LoadConfig loads configuration from environment variables, optionally
// layered over the YAML file named by MAILVIEW_CONFIG
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := os.Getenv("MAILVIEW_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CACHE_PATH", defaultCachePath())
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REFRESH_INTERVAL", 300)
	v.SetDefault("MESSAGE_DISPLAY_MODE", string(DisplayWindow))
	v.SetDefault("LOCALE", "")
	v.SetDefault("PAGE_SIZE", 50)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		CachePath:       v.GetString("CACHE_PATH"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		RefreshInterval: v.GetInt("REFRESH_INTERVAL"),
		DisplayMode:     DisplayMode(strings.ToLower(v.GetString("MESSAGE_DISPLAY_MODE"))),
		Locale:          v.GetString("LOCALE"),
		PageSize:        v.GetInt("PAGE_SIZE"),
	}

	accounts, err := loadAccounts(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	cfg.Accounts = accounts
	return cfg, nil
}

// loadAccounts loads account configurations; zero accounts is valid
func loadAccounts(v *viper.Viper) ([]AccountConfig, error) {
	// Single account configuration first
	if v.GetString("IMAP_HOST") != "" {
		name := v.GetString("ACCOUNT_NAME")
		if name == "" {
			name = "default"
		}
		account, err := loadAccount(v, "", name)
		if err != nil {
			return nil, err
		}
		return []AccountConfig{*account}, nil
	}

	// ACCOUNT_1_*, ACCOUNT_2_*, etc.
	var accounts []AccountConfig
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		name := v.GetString(prefix + "NAME")
		if name == "" {
			break
		}
		account, err := loadAccount(v, prefix, name)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, nil
}

func loadAccount(v *viper.Viper, prefix, name string) (*AccountConfig, error) {
	get := func(key string) string { return v.GetString(prefix + key) }
	getInt := func(key string, def int) int {
		if !v.IsSet(prefix + key) {
			return def
		}
		return v.GetInt(prefix + key)
	}
	getBool := func(key string, def bool) bool {
		if !v.IsSet(prefix + key) {
			return def
		}
		return v.GetBool(prefix + key)
	}

	acc := &AccountConfig{
		Name:         name,
		IMAPHost:     get("IMAP_HOST"),
		IMAPPort:     getInt("IMAP_PORT", 993),
		IMAPUsername: get("IMAP_USERNAME"),
		IMAPPassword: get("IMAP_PASSWORD"),
		SMTPHost:     get("SMTP_HOST"),
		SMTPPort:     getInt("SMTP_PORT", 587),
		SMTPUsername: get("SMTP_USERNAME"),
		SMTPPassword: get("SMTP_PASSWORD"),
		Folders: FolderRoles{
			Sent:        get("FOLDER_SENT"),
			Drafts:      get("FOLDER_DRAFTS"),
			Trash:       get("FOLDER_TRASH"),
			Spam:        get("FOLDER_SPAM"),
			Archive:     get("FOLDER_ARCHIVE"),
			Newsletters: get("FOLDER_NEWSLETTERS"),
		},
	}
	acc.IMAPTLS = getBool("IMAP_TLS", acc.IMAPPort == 993)

	if acc.IMAPHost == "" {
		return nil, fmt.Errorf("IMAP_HOST is required")
	}
	if acc.IMAPUsername == "" {
		return nil, fmt.Errorf("IMAP_USERNAME is required")
	}
	if acc.SMTPUsername == "" {
		acc.SMTPUsername = acc.IMAPUsername
	}
	return acc, nil
}

func defaultCachePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mailview", "cache.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailview-cache.db")
	}
	return filepath.Join(home, ".local", "share", "mailview", "cache.db")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}

	if !c.DisplayMode.Valid() {
		return fmt.Errorf("MESSAGE_DISPLAY_MODE must be one of window, preview, split")
	}

	if c.PageSize < 1 || c.PageSize > 500 {
		return fmt.Errorf("PAGE_SIZE must be between 1 and 500")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate account name", acc.Name)
		}
		seen[acc.Name] = true

		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
		if acc.SMTPHost != "" && (acc.SMTPPort < 1 || acc.SMTPPort > 65535) {
			return fmt.Errorf("account %s: invalid SMTP_PORT", acc.Name)
		}
	}

	return nil
}

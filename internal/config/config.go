// Package config assembles process configuration from the environment. Both
// binaries read the same variables so a shared .env points them at the same
// mailbox and stores.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// MailboxDSN selects the shared job store: a plain path or file://
	// for JSON-on-disk, memory:// for tests, postgres:// for a database
	// snapshot.
	MailboxDSN string
	PrefsDSN   string

	// Paths for the small file-backed stores both processes share.
	RegistryPath    string
	UnlockIndexPath string
	RosterPath      string

	GatewayURL   string
	GatewayToken string

	// Entrypoint is the public chat link deep-link URLs are built from.
	Entrypoint  string
	ProxyChatID string

	PollInterval time.Duration
}

const (
	defaultPollInterval = 10 * time.Second
	defaultDataDir      = ".nyxfan"
)

// FromEnv resolves the configuration. A backend profile fills in DSN
// defaults; explicit NYXFAN_* variables always win over the profile.
func FromEnv() (Config, error) {
	profileMailbox, profilePrefs, err := profileDefaults()
	if err != nil {
		return Config{}, err
	}
	dataDir := dataDir()

	cfg := Config{
		MailboxDSN:      firstNonEmpty(strings.TrimSpace(os.Getenv("NYXFAN_MAILBOX_DSN")), profileMailbox),
		PrefsDSN:        firstNonEmpty(strings.TrimSpace(os.Getenv("NYXFAN_PREFS_DSN")), profilePrefs),
		RegistryPath:    firstNonEmpty(strings.TrimSpace(os.Getenv("NYXFAN_REGISTRY_FILE")), filepath.Join(dataDir, "registry.json")),
		UnlockIndexPath: firstNonEmpty(strings.TrimSpace(os.Getenv("NYXFAN_UNLOCK_INDEX_FILE")), filepath.Join(dataDir, "unlocks.json")),
		RosterPath:      firstNonEmpty(strings.TrimSpace(os.Getenv("NYXFAN_ROSTER_FILE")), filepath.Join(dataDir, "roster.json")),
		GatewayURL:      strings.TrimSpace(os.Getenv("NYXFAN_GATEWAY_URL")),
		GatewayToken:    os.Getenv("NYXFAN_GATEWAY_TOKEN"),
		Entrypoint:      strings.TrimSpace(os.Getenv("NYXFAN_ENTRYPOINT")),
		ProxyChatID:     strings.TrimSpace(os.Getenv("NYXFAN_PROXY_CHAT_ID")),
		PollInterval:    durationEnv("NYXFAN_POLL_INTERVAL", defaultPollInterval),
	}
	if cfg.MailboxDSN == "" {
		cfg.MailboxDSN = filepath.Join(dataDir, "mailbox.json")
	}
	if cfg.PrefsDSN == "" {
		cfg.PrefsDSN = filepath.Join(dataDir, "prefs.json")
	}
	return cfg, nil
}

// MailboxPath returns the watchable file path behind the mailbox DSN, or ""
// when the backend is not a local file.
func (c Config) MailboxPath() string {
	dsn := c.MailboxDSN
	if rest, ok := strings.CutPrefix(dsn, "file://"); ok {
		return rest
	}
	if strings.Contains(dsn, "://") {
		return ""
	}
	return dsn
}

func profileDefaults() (mailboxDSN, prefsDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("NYXFAN_BACKEND_PROFILE")))
	switch profile {
	case "", "custom":
		return "", "", nil
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "durable-local", "local-durable":
		dir := dataDir()
		return "file://" + filepath.Join(dir, "mailbox.json"),
			"file://" + filepath.Join(dir, "prefs.json"),
			nil
	case "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("NYXFAN_POSTGRES_DSN"))
		if dsn == "" {
			return "", "", fmt.Errorf("NYXFAN_POSTGRES_DSN is required when NYXFAN_BACKEND_PROFILE=%s", profile)
		}
		return dsn, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported NYXFAN_BACKEND_PROFILE: %s", profile)
	}
}

func dataDir() string {
	dir := strings.TrimSpace(os.Getenv("NYXFAN_DATA_DIR"))
	if dir == "" {
		dir = defaultDataDir
	}
	return dir
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

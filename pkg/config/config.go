// Package config loads slipwatch settings from ini-style config files with
// embedded defaults. Settings merge in three layers: embedded defaults, the
// global config in the user config directory, and a local .slipwatch file in
// the working directory. Later layers override only the keys they set.
package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

//go:embed defaults
var defaultsFS embed.FS

const (
	localConfigName  = ".slipwatch"
	globalConfigName = "config"
	personaFileName  = "persona.md"
)

// Config holds all slipwatch settings.
type Config struct {
	// watching and parsing
	ReplayDir        string // replay directory to watch, auto-detected when empty
	IncludeCPUEvents bool   // emit events attributed to CPU players

	// event detection
	MinComboMoves     int // combos below this hit count are ignored
	ComboWindowFrames int // combos ending further behind the cursor are stale
	HeartbeatFrames   int // frame-update cadence in frames

	// pipeline timing
	BatchSize       int
	FlushIntervalMs int
	DebounceMs      int
	PurgeDelayMs    int

	// per-category throttle intervals
	ThrottleStockLostMs  int
	ThrottleComboLargeMs int
	ThrottleComboSmallMs int
	ThrottleTechniqueMs  int
	ThrottleHeartbeatMs  int

	// output
	FeedPort    int    // SSE feed port, 0 disables
	PersonaFile string // commentary persona file
	LogFile     string // optional session log file

	// match summary notifications
	NotifyChannels  []string
	NotifyTimeoutMs int
	TelegramToken   string
	TelegramChat    string
	SlackToken      string
	SlackChannel    string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPStartTLS    bool
	EmailFrom       string
	EmailTo         []string
	WebhookURLs     []string
	CustomScript    string

	configDir string
}

// Load loads configuration from the given config directory, installing
// default files on first run. An empty configDir uses the platform default
// (~/.config/slipwatch on linux). Values merge embedded defaults, then the
// global config file, then a local .slipwatch in the working directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user config dir: %w", err)
		}
		configDir = filepath.Join(base, "slipwatch")
	}

	if err := installDefaults(configDir); err != nil {
		return nil, err
	}

	cfg := &Config{configDir: configDir}

	embedded, err := defaultsFS.ReadFile("defaults/config")
	if err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}
	if err := cfg.applyBytes(embedded); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}

	if err := cfg.applyFile(filepath.Join(configDir, globalConfigName)); err != nil {
		return nil, fmt.Errorf("parse global config: %w", err)
	}
	if err := cfg.applyFile(localConfigName); err != nil {
		return nil, fmt.Errorf("parse local config: %w", err)
	}

	// the installed default persona is always available
	if cfg.PersonaFile == "" {
		cfg.PersonaFile = filepath.Join(configDir, personaFileName)
	}

	return cfg, nil
}

// ConfigDir returns the resolved config directory.
func (c *Config) ConfigDir() string { return c.configDir }

// installDefaults creates the config directory and installs the default
// config and persona files if they don't exist. Existing files are never
// overwritten.
func installDefaults(configDir string) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	files := map[string]string{
		globalConfigName: "defaults/config",
		personaFileName:  "defaults/persona.md",
	}
	for name, embedPath := range files {
		destPath := filepath.Join(configDir, name)
		_, statErr := os.Stat(destPath)
		if statErr == nil {
			continue
		}
		if !os.IsNotExist(statErr) {
			return fmt.Errorf("check %s: %w", name, statErr)
		}
		data, err := defaultsFS.ReadFile(embedPath)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", name, err)
		}
		if err := os.WriteFile(destPath, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	return nil
}

// applyFile parses a config file and applies present keys onto c.
// a missing file applies nothing, keeping the previous layer's values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.applyBytes(data)
}

// applyBytes parses ini data and overwrites only the keys present in it.
//
//nolint:gocyclo // flat key-by-key application, splitting would hurt readability
func (c *Config) applyBytes(data []byte) error {
	// ignoreInlineComment: true prevents # from being treated as inline comment marker
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	section := f.Section("") // default section (no section header)

	applyString(section, "replay_dir", &c.ReplayDir)
	if err := applyBool(section, "include_cpu_events", &c.IncludeCPUEvents); err != nil {
		return err
	}

	intKeys := []struct {
		name string
		dst  *int
	}{
		{"min_combo_moves", &c.MinComboMoves},
		{"combo_window_frames", &c.ComboWindowFrames},
		{"heartbeat_frames", &c.HeartbeatFrames},
		{"batch_size", &c.BatchSize},
		{"flush_interval_ms", &c.FlushIntervalMs},
		{"debounce_ms", &c.DebounceMs},
		{"purge_delay_ms", &c.PurgeDelayMs},
		{"throttle_stock_lost_ms", &c.ThrottleStockLostMs},
		{"throttle_combo_large_ms", &c.ThrottleComboLargeMs},
		{"throttle_combo_small_ms", &c.ThrottleComboSmallMs},
		{"throttle_technique_ms", &c.ThrottleTechniqueMs},
		{"throttle_heartbeat_ms", &c.ThrottleHeartbeatMs},
		{"feed_port", &c.FeedPort},
		{"notify_timeout_ms", &c.NotifyTimeoutMs},
		{"notify_smtp_port", &c.SMTPPort},
	}
	for _, k := range intKeys {
		if err := applyInt(section, k.name, k.dst); err != nil {
			return err
		}
	}

	applyString(section, "persona_file", &c.PersonaFile)
	applyString(section, "log_file", &c.LogFile)

	applyList(section, "notify_channels", &c.NotifyChannels)
	applyString(section, "notify_telegram_token", &c.TelegramToken)
	applyString(section, "notify_telegram_chat", &c.TelegramChat)
	applyString(section, "notify_slack_token", &c.SlackToken)
	applyString(section, "notify_slack_channel", &c.SlackChannel)
	applyString(section, "notify_smtp_host", &c.SMTPHost)
	applyString(section, "notify_smtp_username", &c.SMTPUsername)
	applyString(section, "notify_smtp_password", &c.SMTPPassword)
	if err := applyBool(section, "notify_smtp_starttls", &c.SMTPStartTLS); err != nil {
		return err
	}
	applyString(section, "notify_email_from", &c.EmailFrom)
	applyList(section, "notify_email_to", &c.EmailTo)
	applyList(section, "notify_webhook_urls", &c.WebhookURLs)
	applyString(section, "notify_custom_script", &c.CustomScript)

	return nil
}

// applyString overwrites dst if the key is present.
func applyString(section *ini.Section, name string, dst *string) {
	if key, err := section.GetKey(name); err == nil {
		*dst = key.String()
	}
}

// applyInt overwrites dst if the key is present, rejecting negative values.
func applyInt(section *ini.Section, name string, dst *int) error {
	key, err := section.GetKey(name)
	if err != nil {
		return nil //nolint:nilerr // key absent, keep previous layer's value
	}
	val, intErr := key.Int()
	if intErr != nil {
		return fmt.Errorf("invalid %s: %w", name, intErr)
	}
	if val < 0 {
		return fmt.Errorf("invalid %s: must be non-negative, got %d", name, val)
	}
	*dst = val
	return nil
}

// applyBool overwrites dst if the key is present.
func applyBool(section *ini.Section, name string, dst *bool) error {
	key, err := section.GetKey(name)
	if err != nil {
		return nil //nolint:nilerr // key absent, keep previous layer's value
	}
	val, boolErr := key.Bool()
	if boolErr != nil {
		return fmt.Errorf("invalid %s: %w", name, boolErr)
	}
	*dst = val
	return nil
}

// applyList overwrites dst with a comma-separated list if the key is present.
func applyList(section *ini.Section, name string, dst *[]string) {
	key, err := section.GetKey(name)
	if err != nil {
		return
	}
	val := strings.TrimSpace(key.String())
	if val == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(val, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	*dst = out
}

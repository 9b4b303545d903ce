package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Engine holds the tunables of the identity/reconciliation engine.
// The shadow-suppression window and digit bounds are heuristics, not
// protocol guarantees, so they are configurable rather than hard-coded.
type Engine struct {
	PollIntervalSecs int    `toml:"poll_interval_secs"`
	PendingTTLMins   int    `toml:"pending_ttl_mins"`
	ShadowWindowSecs int    `toml:"shadow_window_secs"`
	MinPhoneDigits   int    `toml:"min_phone_digits"`
	HistoryPageSize  int    `toml:"history_page_size"`
	Channel          string `toml:"channel"`
}

// Config represents the global ~/.inboxd/config.toml.
type Config struct {
	DefaultWorkspace string `toml:"default_workspace"`
	Engine           Engine `toml:"engine"`
}

// Defaults returns the engine tunables used when the config file is absent
// or leaves a field unset.
func Defaults() Engine {
	return Engine{
		PollIntervalSecs: 15,
		PendingTTLMins:   30,
		ShadowWindowSecs: 15,
		MinPhoneDigits:   8,
		HistoryPageSize:  50,
		Channel:          "whatsapp",
	}
}

// Load reads config from the given path and fills unset engine fields with
// defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.Engine = withDefaults(cfg.Engine)
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func withDefaults(e Engine) Engine {
	d := Defaults()
	if e.PollIntervalSecs <= 0 {
		e.PollIntervalSecs = d.PollIntervalSecs
	}
	if e.PendingTTLMins <= 0 {
		e.PendingTTLMins = d.PendingTTLMins
	}
	if e.ShadowWindowSecs <= 0 {
		e.ShadowWindowSecs = d.ShadowWindowSecs
	}
	if e.MinPhoneDigits <= 0 {
		e.MinPhoneDigits = d.MinPhoneDigits
	}
	if e.HistoryPageSize <= 0 {
		e.HistoryPageSize = d.HistoryPageSize
	}
	if e.Channel == "" {
		e.Channel = d.Channel
	}
	return e
}

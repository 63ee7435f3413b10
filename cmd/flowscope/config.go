package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all flowscope server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr       string  `json:"listen_addr"`
	DBPath           string  `json:"db_path"`
	LogLevel         string  `json:"log_level"`
	EventLogCapacity int     `json:"event_log_capacity"`
	OverlayMargin    float64 `json:"overlay_margin"`

	// Metadata poller. Polling stays off unless a URL is configured.
	MetadataURL      string `json:"metadata_url"`
	MetadataSchedule string `json:"metadata_schedule"`
	MetadataExtract  string `json:"metadata_extract"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:       ":4700",
		DBPath:           filepath.Join(flowscopeDir(), "flowscope.db"),
		LogLevel:         "info",
		EventLogCapacity: 500,
		OverlayMargin:    300,
	}
}

func flowscopeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowscope"
	}
	return filepath.Join(home, ".flowscope")
}

func settingsPath() string {
	return filepath.Join(flowscopeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWSCOPE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLOWSCOPE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWSCOPE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWSCOPE_EVENT_LOG_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EventLogCapacity = n
		}
	}
	if v := os.Getenv("FLOWSCOPE_OVERLAY_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OverlayMargin = f
		}
	}
	if v := os.Getenv("FLOWSCOPE_METADATA_URL"); v != "" {
		cfg.MetadataURL = v
	}
	if v := os.Getenv("FLOWSCOPE_METADATA_SCHEDULE"); v != "" {
		cfg.MetadataSchedule = v
	}
	if v := os.Getenv("FLOWSCOPE_METADATA_EXTRACT"); v != "" {
		cfg.MetadataExtract = v
	}

	return cfg
}

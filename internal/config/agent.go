package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// Agent captures what the client process needs to run a sync session
type Agent struct {
	ServerURL         string
	Role              string
	ActorID           string
	Token             string
	StoreDSN          string
	StorePrefix       string
	ActiveInterval    time.Duration
	IdleInterval      time.Duration
	ActiveWindow      time.Duration
	RequestTimeout    time.Duration
	MaxRetries        int
	LocationsInterval time.Duration
	MaxSkippedTicks   int
	LogLevel          string
}

const (
	defaultAgentConfigPath = "~/.config/fleetsync/agent.toml"
	defaultStorePath       = "~/.local/share/fleetsync/agent.db"
	defaultServerURL       = "http://127.0.0.1:8080"
	defaultStorePrefix     = "fleetsync"
)

// DefaultAgent returns the built-in agent settings
func DefaultAgent() Agent {
	return Agent{
		ServerURL:         defaultServerURL,
		Role:              "driver",
		StoreDSN:          mustExpand(defaultStorePath),
		StorePrefix:       defaultStorePrefix,
		ActiveInterval:    10 * time.Second,
		IdleInterval:      30 * time.Second,
		ActiveWindow:      60 * time.Second,
		RequestTimeout:    8 * time.Second,
		MaxRetries:        3,
		LocationsInterval: 5 * time.Second,
		MaxSkippedTicks:   3,
		LogLevel:          "info",
	}
}

type rawAgent struct {
	ServerURL         string `toml:"server_url"`
	Role              string `toml:"role"`
	ActorID           string `toml:"actor_id"`
	Token             string `toml:"token"`
	StoreDSN          string `toml:"store_dsn"`
	StorePrefix       string `toml:"store_prefix"`
	ActiveInterval    string `toml:"active_interval"`
	IdleInterval      string `toml:"idle_interval"`
	ActiveWindow      string `toml:"active_window"`
	RequestTimeout    string `toml:"request_timeout"`
	MaxRetries        *int   `toml:"max_retries"`
	LocationsInterval string `toml:"locations_interval"`
	MaxSkippedTicks   *int   `toml:"max_skipped_ticks"`
	LogLevel          string `toml:"log_level"`
}

// LoadAgent parses the agent TOML file, falling back to defaults when it is missing
func LoadAgent(path string) (Agent, error) {
	cfg := DefaultAgent()

	resolved, err := resolveAgentPath(path)
	if err != nil {
		return Agent{}, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Agent{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Agent{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawAgent
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Agent{}, fmt.Errorf("parse config: %w", err)
	}

	setString(&cfg.ServerURL, raw.ServerURL)
	setString(&cfg.Role, raw.Role)
	setString(&cfg.ActorID, raw.ActorID)
	setString(&cfg.Token, raw.Token)
	setString(&cfg.StorePrefix, raw.StorePrefix)
	setString(&cfg.LogLevel, raw.LogLevel)
	if dsn := strings.TrimSpace(raw.StoreDSN); dsn != "" {
		cfg.StoreDSN = expandDSN(dsn)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"active_interval", raw.ActiveInterval, &cfg.ActiveInterval},
		{"idle_interval", raw.IdleInterval, &cfg.IdleInterval},
		{"active_window", raw.ActiveWindow, &cfg.ActiveWindow},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"locations_interval", raw.LocationsInterval, &cfg.LocationsInterval},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Agent{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	if raw.MaxRetries != nil {
		cfg.MaxRetries = *raw.MaxRetries
	}
	if raw.MaxSkippedTicks != nil {
		cfg.MaxSkippedTicks = *raw.MaxSkippedTicks
	}

	return cfg, cfg.Validate()
}

// RegisterAgentFlags declares every override flag on fs
func RegisterAgentFlags(fs *pflag.FlagSet) {
	def := DefaultAgent()
	fs.String("config", defaultAgentConfigPath, "path to agent.toml")
	fs.String("server", def.ServerURL, "authoritative store base URL")
	fs.String("role", def.Role, "driver or manager")
	fs.String("actor", "", "actor (driver/user) id")
	fs.String("token", "", "bearer token for the server")
	fs.String("store", def.StoreDSN, "local store DSN (sqlite path or postgres:// URL)")
	fs.String("prefix", def.StorePrefix, "local record key prefix")
	fs.Duration("active-interval", def.ActiveInterval, "poll interval while locally active")
	fs.Duration("idle-interval", def.IdleInterval, "poll interval while idle")
	fs.Int("max-retries", def.MaxRetries, "pull failures before an offline warning")
	fs.String("log-level", def.LogLevel, "debug, info, warn, error")
}

// Override applies the flags the user actually set on top of cfg
func (a *Agent) Override(fs *pflag.FlagSet) error {
	var err error
	visit := func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "server":
			a.ServerURL = f.Value.String()
		case "role":
			a.Role = f.Value.String()
		case "actor":
			a.ActorID = f.Value.String()
		case "token":
			a.Token = f.Value.String()
		case "store":
			a.StoreDSN = expandDSN(f.Value.String())
		case "prefix":
			a.StorePrefix = f.Value.String()
		case "active-interval":
			a.ActiveInterval, err = fs.GetDuration(f.Name)
		case "idle-interval":
			a.IdleInterval, err = fs.GetDuration(f.Name)
		case "max-retries":
			a.MaxRetries, err = fs.GetInt(f.Name)
		case "log-level":
			a.LogLevel = f.Value.String()
		}
	}
	fs.Visit(visit)
	if err != nil {
		return err
	}
	return a.Validate()
}

// Validate rejects settings the agent cannot run with
func (a Agent) Validate() error {
	if a.Role != "driver" && a.Role != "manager" {
		return fmt.Errorf("role must be driver or manager, got %q", a.Role)
	}
	if strings.TrimSpace(a.ServerURL) == "" {
		return fmt.Errorf("server_url is empty")
	}
	if a.ActiveInterval <= 0 || a.IdleInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if a.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// expandDSN expands ~ in file paths and leaves URLs untouched
func expandDSN(dsn string) string {
	if strings.Contains(dsn, "://") || dsn == ":memory:" {
		return dsn
	}
	return mustExpand(dsn)
}

func resolveAgentPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultAgentConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}

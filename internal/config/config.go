// Package config loads the daemon settings file (dispatch.yaml).
//
// The keymap itself lives in a separate JSON file (see internal/keymap) that
// is watched and reloaded at runtime; this file is read once at startup.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"dispatch/internal/userutil"
)

const (
	// DefaultPath is the settings file looked up in the working directory.
	DefaultPath = "dispatch.yaml"

	DefaultKeymapPath  = "dispatch.json"
	DefaultLogPath     = "dispatch.log"
	DefaultLogLevel    = "debug"
	DefaultControlAddr = "127.0.0.1:3599"

	// PipeDisabled turns off the Windows named-pipe stop listener.
	PipeDisabled = "-"

	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
)

const defaultPipePrefix = `\\.\pipe\dispatch-`

var validLogLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Config holds daemon settings.
type Config struct {
	// KeymapPath is the watched JSON keymap file.
	KeymapPath string `yaml:"keymap_path"`
	// LogPath is truncated on every start. Empty logs to stderr.
	LogPath  string `yaml:"log_path"`
	LogLevel string `yaml:"log_level"`
	// ControlAddr is the loopback TCP address accepting "shutdown".
	ControlAddr string `yaml:"control_addr"`
	// ControlPipe is the Windows named pipe accepting "shutdown".
	// Empty selects the per-user default; "-" disables it.
	ControlPipe string `yaml:"control_pipe"`
	// EventsAddr enables the live WebSocket event feed when set.
	EventsAddr string `yaml:"events_addr,omitempty"`
	// JournalPath enables the SQLite launch journal when set.
	JournalPath string `yaml:"journal_path,omitempty"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() Config {
	return Config{
		KeymapPath:  DefaultKeymapPath,
		LogPath:     DefaultLogPath,
		LogLevel:    DefaultLogLevel,
		ControlAddr: DefaultControlAddr,
	}
}

// DefaultPipeName returns the per-user named pipe path.
func DefaultPipeName() string {
	return defaultPipePrefix + userutil.CurrentUsername()
}

// Level returns the slog level for LogLevel. Unknown values map to debug.
func (c Config) Level() slog.Level {
	if lvl, ok := validLogLevels[strings.ToLower(strings.TrimSpace(c.LogLevel))]; ok {
		return lvl
	}
	return slog.LevelDebug
}

// PipeName returns the resolved control pipe name, or "" when disabled.
func (c Config) PipeName() string {
	switch strings.TrimSpace(c.ControlPipe) {
	case PipeDisabled:
		return ""
	case "":
		return DefaultPipeName()
	}
	return strings.TrimSpace(c.ControlPipe)
}

// Load reads the settings file. If the file does not exist, defaults are
// returned. On a parse or validation error the defaults are returned together
// with the error so the caller can warn and continue.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("[DEBUG-CONFIG] settings file not found, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		slog.Warn("[WARN-CONFIG] invalid config, using defaults", "path", path, "error", err)
		return DefaultConfig(), err
	}
	slog.Debug("[DEBUG-CONFIG] settings loaded", "path", path)
	return cfg, nil
}

// Save validates cfg and writes it atomically to path.
// Returns the normalized config that was actually written to disk.
func Save(path string, cfg Config) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return cfg, errors.New("save config: path required")
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := AtomicWrite(path, raw); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

func applyDefaultsAndValidate(cfg *Config) error {
	defaults := DefaultConfig()
	cfg.KeymapPath = strings.TrimSpace(cfg.KeymapPath)
	if cfg.KeymapPath == "" {
		cfg.KeymapPath = defaults.KeymapPath
	}
	cfg.LogPath = strings.TrimSpace(cfg.LogPath)

	level := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	switch {
	case level == "":
		cfg.LogLevel = defaults.LogLevel
	case level == "warning":
		cfg.LogLevel = "warn"
	default:
		if _, ok := validLogLevels[level]; !ok {
			return fmt.Errorf("log_level %q must be one of debug, info, warn, error", cfg.LogLevel)
		}
		cfg.LogLevel = level
	}

	cfg.ControlAddr = strings.TrimSpace(cfg.ControlAddr)
	if cfg.ControlAddr == "" {
		cfg.ControlAddr = defaults.ControlAddr
	}
	if err := validateLoopbackAddr("control_addr", cfg.ControlAddr); err != nil {
		return err
	}

	cfg.EventsAddr = strings.TrimSpace(cfg.EventsAddr)
	if cfg.EventsAddr != "" {
		if err := validateLoopbackAddr("events_addr", cfg.EventsAddr); err != nil {
			return err
		}
	}

	cfg.ControlPipe = strings.TrimSpace(cfg.ControlPipe)
	if cfg.ControlPipe != "" && cfg.ControlPipe != PipeDisabled &&
		!strings.HasPrefix(cfg.ControlPipe, `\\.\pipe\`) {
		return fmt.Errorf(`control_pipe %q must start with \\.\pipe\`, cfg.ControlPipe)
	}
	cfg.JournalPath = strings.TrimSpace(cfg.JournalPath)
	return nil
}

// validateLoopbackAddr accepts host:port where host is a loopback IP or
// "localhost". Both listeners are unauthenticated and must not be exposed.
func validateLoopbackAddr(field, addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%s %q: %w", field, addr, err)
	}
	if port == "" {
		return fmt.Errorf("%s %q: port required", field, addr)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%s %q: host must be a loopback address", field, addr)
	}
	return nil
}

// AtomicWrite writes data using temp-file + rename to avoid partial writes
// and retries rename on Windows to tolerate transient file locks.
func AtomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("write %s: mkdir: %w", path, err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("write %s: create temp: %w", path, err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("write %s: chmod temp: %w", path, err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("write %s: sync: %w", path, err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("write %s: close: %w", path, err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("write %s: rename: %w", path, err)
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configurable tasktrail limits. Every field is a simple
// knob with a sane default; zero values mean "not set" during merging.
type Config struct {
	// MaxContentLength caps rendered freeform fields (final responses,
	// extracted results) in characters.
	MaxContentLength int `json:"max_content_length"`
	// MaxToolResultLength caps each rendered tool result.
	MaxToolResultLength int `json:"max_tool_result_length"`
	// MaxToolInputLength caps each rendered tool input payload.
	MaxToolInputLength int `json:"max_tool_input_length"`
	// MaxEvents caps how many transcript events are processed per read.
	MaxEvents int `json:"max_events"`
	// MaxFileSizeMB caps how much of a transcript file is read.
	MaxFileSizeMB int `json:"max_file_size_mb"`
	// MaxPromptLength caps stored prompt text.
	MaxPromptLength int `json:"max_prompt_length"`
	// CacheTTLHours is the session cache entry time-to-live.
	CacheTTLHours int `json:"cache_ttl_hours"`
	// StaleLockTimeoutSec is the age after which a lock file from a
	// crashed process may be broken.
	StaleLockTimeoutSec int `json:"stale_lock_timeout_sec"`
	// MaxParentTranscriptMB / MaxParentTranscriptEvents bound the scan of
	// the parent session transcript when recovering task metadata.
	MaxParentTranscriptMB     int `json:"max_parent_transcript_mb"`
	MaxParentTranscriptEvents int `json:"max_parent_transcript_events"`
	// LogsRoot is the log tree location, relative to the working
	// directory unless absolute.
	LogsRoot string `json:"logs_root"`
}

// Defaults returns the stock limits.
func Defaults() Config {
	return Config{
		MaxContentLength:          1000,
		MaxToolResultLength:       500,
		MaxToolInputLength:        1000,
		MaxEvents:                 1000,
		MaxFileSizeMB:             10,
		MaxPromptLength:           500,
		CacheTTLHours:             24,
		StaleLockTimeoutSec:       60,
		MaxParentTranscriptMB:     5,
		MaxParentTranscriptEvents: 500,
		LogsRoot:                  "logs",
	}
}

// CacheTTL returns the cache entry time-to-live as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// StaleLockAge returns the lock staleness bound as a duration.
func (c Config) StaleLockAge() time.Duration {
	return time.Duration(c.StaleLockTimeoutSec) * time.Second
}

// MaxTranscriptBytes returns the transcript byte cap.
func (c Config) MaxTranscriptBytes() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

// MaxParentTranscriptBytes returns the parent-transcript byte cap.
func (c Config) MaxParentTranscriptBytes() int64 {
	return int64(c.MaxParentTranscriptMB) << 20
}

// AgentsDir returns the per-invocation log directory under a project root.
func (c Config) AgentsDir(root string) string {
	return filepath.Join(root, c.LogsRoot, "agents")
}

// SessionsDir returns the session summary directory under a project root.
func (c Config) SessionsDir(root string) string {
	return filepath.Join(root, c.LogsRoot, "sessions")
}

// LoadGlobal reads ~/.config/tasktrail/config.json ($XDG_CONFIG_HOME
// honored). Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".config")
	}
	return loadFile(filepath.Join(base, "tasktrail", "config.json"), true)
}

// LoadProject reads .tasktrail.json in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".tasktrail.json", false)
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking
// precedence. Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	overlay(&result, global)
	overlay(&result, project)
	return result
}

// overlay applies every set (non-zero) field of src onto dst.
func overlay(dst, src *Config) {
	if src == nil {
		return
	}
	if src.MaxContentLength > 0 {
		dst.MaxContentLength = src.MaxContentLength
	}
	if src.MaxToolResultLength > 0 {
		dst.MaxToolResultLength = src.MaxToolResultLength
	}
	if src.MaxToolInputLength > 0 {
		dst.MaxToolInputLength = src.MaxToolInputLength
	}
	if src.MaxEvents > 0 {
		dst.MaxEvents = src.MaxEvents
	}
	if src.MaxFileSizeMB > 0 {
		dst.MaxFileSizeMB = src.MaxFileSizeMB
	}
	if src.MaxPromptLength > 0 {
		dst.MaxPromptLength = src.MaxPromptLength
	}
	if src.CacheTTLHours > 0 {
		dst.CacheTTLHours = src.CacheTTLHours
	}
	if src.StaleLockTimeoutSec > 0 {
		dst.StaleLockTimeoutSec = src.StaleLockTimeoutSec
	}
	if src.MaxParentTranscriptMB > 0 {
		dst.MaxParentTranscriptMB = src.MaxParentTranscriptMB
	}
	if src.MaxParentTranscriptEvents > 0 {
		dst.MaxParentTranscriptEvents = src.MaxParentTranscriptEvents
	}
	if src.LogsRoot != "" {
		dst.LogsRoot = src.LogsRoot
	}
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Package config holds the explicit service configuration. Values come
// from the environment (main loads .env first); every component receives
// the parts it needs at construction time instead of reading ambient
// settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config enumerates everything the service needs to run.
type Config struct {
	ListenAddr string

	// MediaRoot is the public media directory; audio lives under
	// MediaRoot/audio. MediaURLPrefix is the URL prefix it is served at.
	MediaRoot      string
	MediaURLPrefix string

	// TranscriptDir receives persisted transcript JSON side artifacts.
	TranscriptDir string

	// InboxDir, when set, is watched for dropped audio files that are
	// run through the pipeline without an HTTP upload.
	InboxDir string

	DefaultLanguage string
	WhisperModel    string
	PythonBin       string

	MaxUploadBytes    int64
	AllowedExtensions []string

	TranscodeTimeout  time.Duration
	TranscribeTimeout time.Duration

	RetentionAge  time.Duration
	SweepInterval time.Duration
	LogLevel      string
}

// Load reads configuration from the environment, applying defaults that
// mirror the service's stock deployment.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:        envOr("ECHOSCRIBE_ADDR", ":8000"),
		MediaRoot:         envOr("ECHOSCRIBE_MEDIA_ROOT", "media"),
		MediaURLPrefix:    envOr("ECHOSCRIBE_MEDIA_URL", "/media/"),
		TranscriptDir:     envOr("ECHOSCRIBE_TRANSCRIPT_DIR", "transcripts"),
		InboxDir:          os.Getenv("ECHOSCRIBE_INBOX_DIR"),
		DefaultLanguage:   envOr("ECHOSCRIBE_LANGUAGE", "en"),
		WhisperModel:      envOr("ECHOSCRIBE_WHISPER_MODEL", "base"),
		PythonBin:         envOr("ECHOSCRIBE_PYTHON", "python3"),
		MaxUploadBytes:    50 * 1024 * 1024,
		AllowedExtensions: []string{".mp3", ".wav", ".m4a", ".wma", ".aac", ".ogg", ".flac", ".webm"},
		TranscodeTimeout:  2 * time.Minute,
		TranscribeTimeout: 10 * time.Minute,
		RetentionAge:      7 * 24 * time.Hour,
		SweepInterval:     time.Hour,
		LogLevel:          envOr("ECHOSCRIBE_LOG_LEVEL", "info"),
	}

	var err error
	if cfg.MaxUploadBytes, err = envBytes("ECHOSCRIBE_MAX_UPLOAD_MB", cfg.MaxUploadBytes); err != nil {
		return nil, err
	}
	if cfg.TranscodeTimeout, err = envSeconds("ECHOSCRIBE_TRANSCODE_TIMEOUT_SEC", cfg.TranscodeTimeout); err != nil {
		return nil, err
	}
	if cfg.TranscribeTimeout, err = envSeconds("ECHOSCRIBE_TRANSCRIBE_TIMEOUT_SEC", cfg.TranscribeTimeout); err != nil {
		return nil, err
	}
	if cfg.RetentionAge, err = envDays("ECHOSCRIBE_RETENTION_DAYS", cfg.RetentionAge); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envSeconds("ECHOSCRIBE_SWEEP_INTERVAL_SEC", cfg.SweepInterval); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: max upload size must be positive")
	}
	if !strings.HasPrefix(c.MediaURLPrefix, "/") {
		return fmt.Errorf("config: media URL prefix must start with /")
	}
	if !strings.HasSuffix(c.MediaURLPrefix, "/") {
		c.MediaURLPrefix += "/"
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("config: allowed extension list must not be empty")
	}
	return nil
}

// AudioDir is the directory retained audio deliverables live in.
func (c *Config) AudioDir() string {
	return filepath.Join(c.MediaRoot, "audio")
}

// ExtensionAllowed reports whether the filename's extension is accepted
// for upload.
func (c *Config) ExtensionAllowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range c.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBytes(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	mb, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return mb * 1024 * 1024, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return time.Duration(sec) * time.Second, nil
}

func envDays(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	days, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return time.Duration(days) * 24 * time.Hour, nil
}

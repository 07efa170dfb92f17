// Package config loads server configuration from a single YAML or JSONC
// file. The path comes from the --config flag or the COLLAB_CONFIG
// environment variable; without either the defaults are used as is.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/astromechza/collab-ot/pkg/store"
)

const EnvVar = "COLLAB_CONFIG"

type Config struct {
	ListenAddr string          `yaml:"listen_addr" json:"listen_addr"`
	Log        LogConfig       `yaml:"log" json:"log"`
	Store      StoreConfig     `yaml:"store" json:"store"`
	Session    SessionConfig   `yaml:"session" json:"session"`
	Transport  TransportConfig `yaml:"transport" json:"transport"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is text or json.
	Format string `yaml:"format" json:"format"`
}

type StoreConfig struct {
	// Driver is sqlite or memory.
	Driver      string `yaml:"driver" json:"driver"`
	Path        string `yaml:"path" json:"path"`
	Compression string `yaml:"compression" json:"compression"`
}

type SessionConfig struct {
	HistoryCapacity     int `yaml:"history_capacity" json:"history_capacity"`
	MaxPending          int `yaml:"max_pending" json:"max_pending"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds" json:"write_timeout_seconds"`
}

type TransportConfig struct {
	ReadBufferSize      int      `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize     int      `yaml:"write_buffer_size" json:"write_buffer_size"`
	SendQueue           int      `yaml:"send_queue" json:"send_queue"`
	SubmitRate          float64  `yaml:"submit_rate" json:"submit_rate"`
	SubmitBurst         int      `yaml:"submit_burst" json:"submit_burst"`
	MaxMessageSize      int64    `yaml:"max_message_size" json:"max_message_size"`
	PingIntervalSeconds int      `yaml:"ping_interval_seconds" json:"ping_interval_seconds"`
	AllowedOrigins      []string `yaml:"allowed_origins" json:"allowed_origins"`
}

func Default() *Config {
	return &Config{
		ListenAddr: "localhost:8080",
		Log:        LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        "collab.sqlite3",
			Compression: string(store.CompressionZstd),
		},
		Session: SessionConfig{
			HistoryCapacity:     500,
			MaxPending:          256,
			WriteTimeoutSeconds: 30,
		},
		Transport: TransportConfig{
			ReadBufferSize:      1024,
			WriteBufferSize:     1024,
			SendQueue:           64,
			SubmitRate:          50,
			SubmitBurst:         100,
			MaxMessageSize:      1 << 20,
			PingIntervalSeconds: 30,
		},
	}
}

// Path picks the config file: the flag value if set, else COLLAB_CONFIG.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvVar)
}

// Load reads path over the defaults. Fields missing from the file keep
// their default values and unknown fields are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Decode(data, filepath.Ext(path), cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses data into cfg based on the file extension.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse yaml: %w", err)
		}
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse json: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or memory, got %q", c.Store.Driver))
	}
	if _, err := store.ParseCompression(c.Store.Compression); err != nil {
		errs = append(errs, fmt.Errorf("store.compression: %w", err))
	}
	if c.Session.HistoryCapacity < 1 {
		errs = append(errs, errors.New("session.history_capacity must be at least 1"))
	}
	if c.Session.MaxPending < 0 {
		errs = append(errs, errors.New("session.max_pending must not be negative"))
	}
	if c.Session.WriteTimeoutSeconds < 1 {
		errs = append(errs, errors.New("session.write_timeout_seconds must be at least 1"))
	}
	t := c.Transport
	if t.ReadBufferSize < 0 || t.WriteBufferSize < 0 {
		errs = append(errs, errors.New("transport buffer sizes must not be negative"))
	}
	if t.SendQueue < 1 {
		errs = append(errs, errors.New("transport.send_queue must be at least 1"))
	}
	if t.SubmitRate <= 0 {
		errs = append(errs, errors.New("transport.submit_rate must be positive"))
	}
	if t.SubmitBurst < 1 {
		errs = append(errs, errors.New("transport.submit_burst must be at least 1"))
	}
	if t.MaxMessageSize < 1 {
		errs = append(errs, errors.New("transport.max_message_size must be at least 1"))
	}
	if t.PingIntervalSeconds < 0 {
		errs = append(errs, errors.New("transport.ping_interval_seconds must not be negative"))
	}
	return errors.Join(errs...)
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger described by l.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

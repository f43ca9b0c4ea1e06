package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the incident engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Storage   StorageConfig   `yaml:"storage"`
	Audit     AuditConfig     `yaml:"audit"`
	Playbooks PlaybooksConfig `yaml:"playbooks"`
	Events    EventsConfig    `yaml:"events"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the gRPC and HTTP admin listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	// RequestTimeout bounds every RPC, including lock acquisition.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig selects the persistence plug-in.
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	SQLitePath   string `yaml:"sqlitePath"`
	RingCapacity int    `yaml:"ringCapacity"`
}

// AuditConfig controls the audit sink.
type AuditConfig struct {
	PolicyFile      string `yaml:"policyFile"`
	HashAlgorithm   string `yaml:"hashAlgorithm"`
	DefaultPolicyID string `yaml:"defaultPolicy"`
	RulesPath       string `yaml:"rulesPath"`
}

// PlaybooksConfig points at the playbook pack loaded on start.
type PlaybooksConfig struct {
	PackPath string `yaml:"packPath"`
}

// EventsConfig controls publication of timeline events to NATS.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NATSURL       string `yaml:"natsURL"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// CacheConfig sizes the incident report cache.
type CacheConfig struct {
	ReportSize int           `yaml:"reportSize"`
	ReportTTL  time.Duration `yaml:"reportTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_IR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlitePath is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.natsURL is required when events are enabled")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			HTTPAddress:     ":2113",
			GracefulTimeout: 10 * time.Second,
			RequestTimeout:  5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Storage: StorageConfig{
			Driver:       "memory",
			SQLitePath:   "data/mirador-ir.db",
			RingCapacity: 100_000,
		},
		Audit: AuditConfig{
			PolicyFile:      "configs/audit/policies.yaml",
			HashAlgorithm:   "sha256",
			DefaultPolicyID: "standard_retention",
			RulesPath:       "configs/rules/compliance.yaml",
		},
		Playbooks: PlaybooksConfig{PackPath: "configs/playbooks/default.yaml"},
		Events: EventsConfig{
			Enabled:       false,
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "ir.timeline",
		},
		Cache: CacheConfig{
			ReportSize: 512,
			ReportTTL:  10 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_IR_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_IR_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_IR_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_IR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_IR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_IR_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_IR_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("MIRADOR_IR_RING_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.RingCapacity = n
		}
	}
	if v := os.Getenv("MIRADOR_IR_AUDIT_POLICY_FILE"); v != "" {
		cfg.Audit.PolicyFile = v
	}
	if v := os.Getenv("MIRADOR_IR_AUDIT_HASH"); v != "" {
		cfg.Audit.HashAlgorithm = v
	}
	if v := os.Getenv("MIRADOR_IR_AUDIT_DEFAULT_POLICY"); v != "" {
		cfg.Audit.DefaultPolicyID = v
	}
	if v := os.Getenv("MIRADOR_IR_RULES_PATH"); v != "" {
		cfg.Audit.RulesPath = v
	}
	if v := os.Getenv("MIRADOR_IR_PLAYBOOK_PACK"); v != "" {
		cfg.Playbooks.PackPath = v
	}
	if v := os.Getenv("MIRADOR_IR_EVENTS_ENABLED"); v != "" {
		cfg.Events.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_IR_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("MIRADOR_IR_EVENTS_SUBJECT_PREFIX"); v != "" {
		cfg.Events.SubjectPrefix = v
	}
	if v := os.Getenv("MIRADOR_IR_REPORT_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.ReportSize = n
		}
	}
	if v := os.Getenv("MIRADOR_IR_REPORT_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReportTTL = d
		}
	}
}

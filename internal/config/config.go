// Package config loads the orchestrator's typed configuration record.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"sigs.k8s.io/yaml"
)

// UnknownKeyPolicy controls how the loader reacts to keys it does not
// recognize in the YAML config file.
type UnknownKeyPolicy string

const (
	UnknownKeyStrict     UnknownKeyPolicy = "strict"
	UnknownKeyPermissive UnknownKeyPolicy = "permissive"
)

// BlockedWindow is one entry in the change-window block list. EndHour is
// inclusive: a window {Friday, 16, 23} blocks through 23:59:59 Friday.
type BlockedWindow struct {
	DayOfWeek time.Weekday `json:"day_of_week"`
	StartHour int          `json:"start_hour"`
	EndHour   int          `json:"end_hour"`
}

// RiskConfig holds the Risk agent's tunables, including the promoted
// auto-approval escape hatch (open question in SPEC_FULL.md §9 — was a
// hard-coded "for demo" branch upstream, now explicit config).
type RiskConfig struct {
	AutoApproveResourceTypes []string `json:"auto_approve_resource_types"`
}

// Config is the orchestrator's full configuration record. Every field here
// corresponds to one of the "recognized options" the spec names; there is no
// dynamic dictionary fallback.
type Config struct {
	IncidentTable       string          `json:"incident_table"`
	CooldownMinutes     int             `json:"cooldown_minutes"`
	ConfidenceThreshold float64         `json:"confidence_threshold"`
	BlockedWindows      []BlockedWindow `json:"blocked_windows"`
	DefaultEmail        string          `json:"default_email"`
	SenderEmail         string          `json:"sender_email"`
	EscalationEmails    []string        `json:"escalation_emails"`
	SNSTopicARN         string          `json:"sns_topic_arn"`
	CodeBuildProject    string          `json:"codebuild_project"`
	CentralRegion       string          `json:"central_region"`

	Risk RiskConfig `json:"risk"`

	UnknownKeys UnknownKeyPolicy `json:"unknown_keys"`

	// MaxConcurrentIncidents bounds the across-incident worker pool (§5).
	MaxConcurrentIncidents int `json:"max_concurrent_incidents"`
	// IncidentDeadline is the top-level per-incident deadline (§5, default 15m).
	IncidentDeadline time.Duration `json:"incident_deadline"`

	DataDir string `json:"data_dir"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	return &Config{
		IncidentTable:       "incidents",
		CooldownMinutes:     5,
		ConfidenceThreshold: 0.8,
		BlockedWindows: []BlockedWindow{
			{DayOfWeek: time.Friday, StartHour: 16, EndHour: 23},
		},
		UnknownKeys:            UnknownKeyStrict,
		MaxConcurrentIncidents: 64,
		IncidentDeadline:       15 * time.Minute,
		DataDir:                "data",
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. path may be empty, in which case only defaults + env apply.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional local .env; absence is not an error

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var probe struct {
			UnknownKeys UnknownKeyPolicy `json:"unknown_keys"`
		}
		if err := yaml.Unmarshal(raw, &probe); err == nil && probe.UnknownKeys != "" {
			cfg.UnknownKeys = probe.UnknownKeys
		}
		if cfg.UnknownKeys == UnknownKeyStrict {
			if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCH_SENDER_EMAIL"); v != "" {
		cfg.SenderEmail = v
	}
	if v := os.Getenv("ORCH_DEFAULT_EMAIL"); v != "" {
		cfg.DefaultEmail = v
	}
	if v := os.Getenv("ORCH_SNS_TOPIC_ARN"); v != "" {
		cfg.SNSTopicARN = v
	}
	if v := os.Getenv("ORCH_CENTRAL_REGION"); v != "" {
		cfg.CentralRegion = v
	}
	if v := os.Getenv("ORCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

// BlockedAt reports whether t falls inside any configured blocked window.
// EndHour is inclusive of the full hour (i.e. up to :59:59).
func (c *Config) BlockedAt(t time.Time) bool {
	for _, w := range c.BlockedWindows {
		if t.Weekday() != w.DayOfWeek {
			continue
		}
		h := t.Hour()
		if h >= w.StartHour && h <= w.EndHour {
			return true
		}
	}
	return false
}

// Package config defines the engine configuration and its YAML loader.
package config

import (
	"time"

	"github.com/guardbook/guardbook/internal/schema"
)

// Config is the root configuration for the scheduling engine.
type Config struct {
	Store     StoreConfig          `yaml:"store"`
	Scheduler SchedulerConfig      `yaml:"scheduler"`
	Tenants   []schema.TenantScope `yaml:"tenants"`
	Notify    NotifyConfig         `yaml:"notify"`
}

// StoreConfig selects the backing store. Driver "memory" keeps jobs in a
// local JSON file and collaborator data in a YAML seed; "postgres" uses the
// shared registry table and per-tenant schemas.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
	DSN    string `yaml:"dsn"`
	// JobsPath is the JSON file backing the memory registry.
	JobsPath string `yaml:"jobsPath"`
	// SeedPath is the YAML file seeding the memory collaborator stores.
	SeedPath string `yaml:"seedPath"`
}

// SchedulerConfig tunes the firing runtime.
type SchedulerConfig struct {
	PollIntervalSeconds int `yaml:"pollIntervalSeconds"`
	EvalTimeoutSeconds  int `yaml:"evalTimeoutSeconds"`
	MaxConcurrent       int `yaml:"maxConcurrent"`
}

// PollInterval returns the poll tick, defaulting to one minute and never
// slower than one minute.
func (s SchedulerConfig) PollInterval() time.Duration {
	d := time.Duration(s.PollIntervalSeconds) * time.Second
	if d <= 0 || d > time.Minute {
		return time.Minute
	}
	return d
}

// EvalTimeout returns the per-job evaluation budget.
func (s SchedulerConfig) EvalTimeout() time.Duration {
	d := time.Duration(s.EvalTimeoutSeconds) * time.Second
	if d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// NotifyConfig enables escalation sinks. A nil section leaves that sink off.
type NotifyConfig struct {
	Email    *EmailConfig    `yaml:"email,omitempty"`
	Slack    *SlackConfig    `yaml:"slack,omitempty"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
}

// EmailConfig configures the SMTP sink.
type EmailConfig struct {
	SMTPHost      string `yaml:"smtpHost"`
	SMTPPort      int    `yaml:"smtpPort"`
	SMTPUsername  string `yaml:"smtpUsername"`
	SMTPPassword  string `yaml:"smtpPassword"`
	SMTPUseSSL    bool   `yaml:"smtpUseSsl"`
	FromAddress   string `yaml:"fromAddress"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// SlackConfig configures the slack sink.
type SlackConfig struct {
	BotToken string `yaml:"botToken"`
}

// TelegramConfig configures the telegram sink.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// DefaultConfig returns a single-node configuration with the memory store
// and no notification sinks.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver:   "memory",
			JobsPath: "jobs.json",
			SeedPath: "seed.yaml",
		},
		Scheduler: SchedulerConfig{
			PollIntervalSeconds: 60,
			EvalTimeoutSeconds:  120,
			MaxConcurrent:       8,
		},
		Tenants: []schema.TenantScope{{ID: "public", Timezone: "UTC"}},
	}
}

// Tenant looks a tenant scope up by id.
func (c Config) Tenant(id string) (schema.TenantScope, bool) {
	for _, t := range c.Tenants {
		if t.ID == id {
			return t, true
		}
	}
	return schema.TenantScope{}, false
}

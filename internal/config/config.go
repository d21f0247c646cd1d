// Package config loads the daemon's YAML configuration, including the
// recurring-schedule definitions that are synced into the store on start
// and on every file change.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Owners    []OwnerConfig   `yaml:"owners"`
}

type LogConfig struct {
	Level   string        `yaml:"level"`
	Console bool          `yaml:"console"`
	File    LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StorageConfig struct {
	Path        string   `yaml:"path"`
	BusyTimeout Duration `yaml:"busy_timeout"`
}

type TelegramConfig struct {
	Token      string `yaml:"token"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

// SchedulerConfig durations are Go duration strings (e.g. "30s", "2m").
type SchedulerConfig struct {
	GracePeriod Duration `yaml:"grace_period"`
	SendTimeout Duration `yaml:"send_timeout"`
	RunTimeout  Duration `yaml:"run_timeout"`
	Retention   Duration `yaml:"retention"`
}

// OwnerConfig declares one owner's delivery target and recurring schedules.
// One-shot reminders are created at runtime, not here.
type OwnerConfig struct {
	ID        string           `yaml:"id"`
	Target    string           `yaml:"target"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

type ScheduleConfig struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Cron        string `yaml:"cron"`
	Timezone    string `yaml:"timezone"`
	Payload     string `yaml:"payload"`
	Disabled    bool   `yaml:"disabled"`
}

// Load reads and strictly decodes the config file, then applies defaults
// and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./data/remindd.db"
	}
	if c.Storage.BusyTimeout <= 0 {
		c.Storage.BusyTimeout = Duration(5 * time.Second)
	}
}

func (c *Config) Validate() error {
	seenOwner := map[string]bool{}
	for i, o := range c.Owners {
		if strings.TrimSpace(o.ID) == "" {
			return fmt.Errorf("owners[%d]: id is required", i)
		}
		if seenOwner[o.ID] {
			return fmt.Errorf("owners[%d]: duplicate owner id %q", i, o.ID)
		}
		seenOwner[o.ID] = true

		seenSched := map[string]bool{}
		for j, sc := range o.Schedules {
			if strings.TrimSpace(sc.ID) == "" {
				return fmt.Errorf("owner %q: schedules[%d]: id is required", o.ID, j)
			}
			if seenSched[sc.ID] {
				return fmt.Errorf("owner %q: duplicate schedule id %q", o.ID, sc.ID)
			}
			seenSched[sc.ID] = true
			if strings.TrimSpace(sc.Cron) == "" {
				return fmt.Errorf("owner %q: schedule %q: cron is required", o.ID, sc.ID)
			}
		}
	}
	return nil
}

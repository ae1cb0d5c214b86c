package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corralproject/corral/pkg/enforcement"
	"github.com/corralproject/corral/pkg/healer"
	"github.com/corralproject/corral/pkg/identity"
	"github.com/corralproject/corral/pkg/manager"
	"github.com/corralproject/corral/pkg/plugin/host"
	"github.com/corralproject/corral/pkg/scheduler"
)

// FileConfig is the YAML configuration of the corral server
type FileConfig struct {
	DataDir     string `yaml:"data_dir"`
	MetricsAddr string `yaml:"metrics_addr"`
	Region      string `yaml:"region"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`

	Lease struct {
		BeforeEndLeadMinutes int `yaml:"before_end_lead_minutes"`
	} `yaml:"lease"`

	Scheduler struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
		EventMaxRetries     int `yaml:"event_max_retries"`
	} `yaml:"scheduler"`

	Healer struct {
		CheckIntervalSeconds int `yaml:"check_interval_seconds"`
		HealingWindowHours   int `yaml:"healing_window_hours"`
	} `yaml:"healer"`

	Host struct {
		CleaningTimeMinutes int  `yaml:"cleaning_time_minutes"`
		Randomize           bool `yaml:"randomize_candidates"`
	} `yaml:"host"`

	Enforcement struct {
		MaxLeaseDurationHours  int      `yaml:"max_lease_duration_hours"`
		ExemptProjects         []string `yaml:"exempt_projects"`
		ExternalURL            string   `yaml:"external_url"`
		ExternalTimeoutSeconds int      `yaml:"external_timeout_seconds"`
	} `yaml:"enforcement"`

	Trusts map[string]struct {
		UserID    string `yaml:"user_id"`
		ProjectID string `yaml:"project_id"`
	} `yaml:"trusts"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *FileConfig {
	cfg := &FileConfig{}
	cfg.DataDir = "/var/lib/corral"
	cfg.MetricsAddr = ":9464"
	cfg.LogLevel = "info"
	cfg.Lease.BeforeEndLeadMinutes = 60
	cfg.Scheduler.PollIntervalSeconds = 10
	cfg.Scheduler.EventMaxRetries = 5
	cfg.Healer.CheckIntervalSeconds = 60
	cfg.Healer.HealingWindowHours = 24
	cfg.Host.CleaningTimeMinutes = 5
	return cfg
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	return cfg, nil
}

func (c *FileConfig) managerConfig() manager.Config {
	return manager.Config{
		BeforeEndLead: time.Duration(c.Lease.BeforeEndLeadMinutes) * time.Minute,
	}
}

func (c *FileConfig) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		PollInterval:    time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second,
		EventMaxRetries: c.Scheduler.EventMaxRetries,
	}
}

func (c *FileConfig) healerConfig() healer.Config {
	return healer.Config{
		CheckInterval: time.Duration(c.Healer.CheckIntervalSeconds) * time.Second,
		HealingWindow: time.Duration(c.Healer.HealingWindowHours) * time.Hour,
	}
}

func (c *FileConfig) hostConfig() host.Config {
	return host.Config{
		CleaningTime:        time.Duration(c.Host.CleaningTimeMinutes) * time.Minute,
		RandomizeCandidates: c.Host.Randomize,
	}
}

// enforcementFilters builds the configured filter chain
func (c *FileConfig) enforcementFilters() ([]enforcement.Filter, error) {
	var filters []enforcement.Filter
	if c.Enforcement.MaxLeaseDurationHours > 0 {
		filters = append(filters, &enforcement.MaxLeaseDuration{
			Max:            time.Duration(c.Enforcement.MaxLeaseDurationHours) * time.Hour,
			ExemptProjects: c.Enforcement.ExemptProjects,
		})
	}
	if c.Enforcement.ExternalURL != "" {
		ext, err := enforcement.NewExternalService(enforcement.ExternalServiceConfig{
			BaseURL: c.Enforcement.ExternalURL,
			Timeout: time.Duration(c.Enforcement.ExternalTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		filters = append(filters, ext)
	}
	return filters, nil
}

// trustProvider builds the static identity provider from the trust table
func (c *FileConfig) trustProvider() identity.TrustProvider {
	trusts := make(map[string]identity.Context, len(c.Trusts))
	for id, t := range c.Trusts {
		trusts[id] = identity.Context{UserID: t.UserID, ProjectID: t.ProjectID, Region: c.Region}
	}
	return &identity.StaticProvider{Region: c.Region, Trusts: trusts}
}

package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models the leadops site configuration document. It is stored as
// YAML per site in the site_configs table and seeded from Default().
type Config struct {
	Site struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"site"`

	Leads struct {
		// Statuses is the ordered catalog of lead statuses.
		Statuses []string `yaml:"statuses"`
		// ReasonRequired lists statuses that cannot be entered without a
		// reason_code.
		ReasonRequired []string `yaml:"reason_required"`
		SubStatuses    map[string][]string `yaml:"sub_statuses"`
	} `yaml:"leads"`

	Worker struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		ExportLimit  int           `yaml:"export_limit"`
	} `yaml:"worker"`

	SavedViews []SavedViewPreset `yaml:"saved_views"`
}

type SavedViewPreset struct {
	Name    string            `yaml:"name"`
	Sort    string            `yaml:"sort"`
	Filters map[string]string `yaml:"filters"`
}

// Default returns the seed configuration for a site.
func Default(siteID string) *Config {
	cfg := &Config{}
	cfg.Site.ID = siteID
	cfg.Site.Name = siteID
	cfg.Leads.Statuses = []string{"new", "contacted", "qualified", "quoted", "won", "lost", "archived"}
	cfg.Leads.ReasonRequired = []string{"lost", "archived"}
	cfg.Leads.SubStatuses = map[string][]string{
		"contacted": {"left_voicemail", "awaiting_reply"},
		"lost":      {"duplicate", "unreachable", "not_interested"},
	}
	cfg.Worker.PollInterval = 1500 * time.Millisecond
	cfg.Worker.ExportLimit = 5000
	cfg.SavedViews = []SavedViewPreset{
		{Name: "New (24h)", Sort: "created_at_desc", Filters: map[string]string{"created_since_hours": "24"}},
		{Name: "Hot (>=80)", Sort: "priority_desc", Filters: map[string]string{"priority_min": "80"}},
		{Name: "Needs follow-up", Sort: "next_action_asc", Filters: map[string]string{"next_action_due": "overdue"}},
		{Name: "High value", Sort: "est_premium_desc", Filters: map[string]string{}},
		{Name: "Lost/Archived", Sort: "created_at_desc", Filters: map[string]string{"status": "lost,archived", "archived": "any"}},
	}
	return cfg
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToYAML serializes the config for storage.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Site.ID == "" {
		return fmt.Errorf("config.site.id is required")
	}
	if len(c.Leads.Statuses) == 0 {
		return fmt.Errorf("config.leads.statuses is required")
	}
	known := map[string]bool{}
	for _, s := range c.Leads.Statuses {
		if s == "" {
			return fmt.Errorf("config.leads.statuses has an empty entry")
		}
		known[s] = true
	}
	for _, s := range c.Leads.ReasonRequired {
		if !known[s] {
			return fmt.Errorf("reason_required status %s not in catalog", s)
		}
	}
	for status := range c.Leads.SubStatuses {
		if !known[status] {
			return fmt.Errorf("sub_statuses key %s not in catalog", status)
		}
	}
	if c.Worker.PollInterval < 0 {
		return fmt.Errorf("worker.poll_interval must not be negative")
	}
	if c.Worker.ExportLimit < 0 {
		return fmt.Errorf("worker.export_limit must not be negative")
	}
	return nil
}

// KnownStatus reports whether s is in the status catalog.
func (c *Config) KnownStatus(s string) bool {
	for _, st := range c.Leads.Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// ReasonRequiredFor reports whether entering status s requires a reason code.
func (c *Config) ReasonRequiredFor(s string) bool {
	for _, st := range c.Leads.ReasonRequired {
		if st == s {
			return true
		}
	}
	return false
}

package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("site-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Site.ID != "site-1" {
		t.Fatalf("site id: %s", cfg.Site.ID)
	}
	if !cfg.KnownStatus("new") || cfg.KnownStatus("frozen") {
		t.Fatalf("status catalog wrong")
	}
	if !cfg.ReasonRequiredFor("lost") || cfg.ReasonRequiredFor("contacted") {
		t.Fatalf("reason_required wrong")
	}
	if len(cfg.SavedViews) != 5 {
		t.Fatalf("expected 5 preset views, got %d", len(cfg.SavedViews))
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default("site-1")
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	back, err := FromYAML(data)
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if back.Site.ID != cfg.Site.ID {
		t.Fatalf("site id lost: %s", back.Site.ID)
	}
	if len(back.Leads.Statuses) != len(cfg.Leads.Statuses) {
		t.Fatalf("statuses lost: %v", back.Leads.Statuses)
	}
	if back.Worker.PollInterval != cfg.Worker.PollInterval {
		t.Fatalf("poll interval lost: %v", back.Worker.PollInterval)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing site id",
			mutate: func(c *Config) { c.Site.ID = "" },
			want:   "site.id",
		},
		{
			name:   "empty status catalog",
			mutate: func(c *Config) { c.Leads.Statuses = nil },
			want:   "statuses",
		},
		{
			name:   "blank status entry",
			mutate: func(c *Config) { c.Leads.Statuses = []string{"new", ""} },
			want:   "empty",
		},
		{
			name:   "reason_required outside catalog",
			mutate: func(c *Config) { c.Leads.ReasonRequired = []string{"vanished"} },
			want:   "vanished",
		},
		{
			name:   "sub_statuses outside catalog",
			mutate: func(c *Config) { c.Leads.SubStatuses = map[string][]string{"vanished": {"x"}} },
			want:   "vanished",
		},
		{
			name:   "negative poll interval",
			mutate: func(c *Config) { c.Worker.PollInterval = -1 },
			want:   "poll_interval",
		},
	}
	for _, tc := range cases {
		cfg := Default("site-1")
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestFromYAMLRejectsMalformed(t *testing.T) {
	if _, err := FromYAML([]byte("site: [not a map")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := FromYAML([]byte("site:\n  name: unnamed\n")); err == nil {
		t.Fatalf("expected validation error for missing site id")
	}
}

package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/meetgraph/internal/config"
)

func ptr(v float64) *float64 { return &v }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:       config.ServerConfig{LogLevel: config.LogInfo},
		Organization: config.OrganizationConfig{Name: "Initech", Aliases: []string{"ITC"}},
		Matching:     config.MatchingConfig{Entities: config.EntityMatching{AutoLink: ptr(0.9)}},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.PipelineChanged() || len(d.RestartRequired) != 0 {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.PipelineChanged() {
		t.Error("log level alone must not rebuild the pipeline")
	}
}

func TestDiff_PipelineSettings(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		return &config.Config{
			Organization: config.OrganizationConfig{Name: "Initech"},
			Roster:       config.RosterConfig{Path: "roster.yaml"},
			Matching:     config.MatchingConfig{Identity: config.IdentityMatching{Automatic: ptr(0.9)}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{"threshold value", func(c *config.Config) { c.Matching.Identity.Automatic = ptr(0.95) }, func(d config.ConfigDiff) bool { return d.MatchingChanged }},
		{"organization alias", func(c *config.Config) { c.Organization.Aliases = []string{"ITC"} }, func(d config.ConfigDiff) bool { return d.OrganizationChanged }},
		{"roster source", func(c *config.Config) { c.Roster.FromGraph = true }, func(d config.ConfigDiff) bool { return d.RosterChanged }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := base()
			tt.mutate(next)
			d := config.Diff(base(), next)
			if !tt.check(d) || !d.PipelineChanged() {
				t.Errorf("diff = %+v", d)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080"},
		Graph:  config.GraphConfig{Backend: config.GraphMemory},
	}
	new := &config.Config{
		Server:     config.ServerConfig{ListenAddr: ":9090"},
		Graph:      config.GraphConfig{Backend: config.GraphPostgres, PostgresDSN: "postgres://x"},
		Extraction: config.ExtractionConfig{Provider: "openai"},
	}
	d := config.Diff(old, new)
	for _, key := range []string{"server.listen_addr", "graph", "extraction"} {
		if !slices.Contains(d.RestartRequired, key) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, key)
		}
	}
	if d.PipelineChanged() {
		t.Error("restart-only changes must not rebuild the pipeline")
	}
}

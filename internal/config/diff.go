package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Analysis settings are applied by rebuilding the ingest pipeline; the rest
// needs a restart and is only reported.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Hot-reloadable: the pipeline is rebuilt when any of these is true.
	MatchingChanged     bool
	OrganizationChanged bool
	RosterChanged       bool

	// RestartRequired lists top-level keys whose change takes effect only
	// after a restart (e.g., "graph", "extraction", "server.listen_addr").
	RestartRequired []string
}

// PipelineChanged reports whether the ingest pipeline must be rebuilt.
func (d ConfigDiff) PipelineChanged() bool {
	return d.MatchingChanged || d.OrganizationChanged || d.RosterChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.MatchingChanged = !reflect.DeepEqual(old.Matching, new.Matching)
	d.OrganizationChanged = old.Organization.Name != new.Organization.Name ||
		!slices.Equal(old.Organization.Aliases, new.Organization.Aliases)
	d.RosterChanged = old.Roster != new.Roster

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Server.CuratorHeader != new.Server.CuratorHeader {
		d.RestartRequired = append(d.RestartRequired, "server.curator_header")
	}
	if old.Server.SessionTTL != new.Server.SessionTTL {
		d.RestartRequired = append(d.RestartRequired, "server.session_ttl")
	}
	if old.Graph != new.Graph {
		d.RestartRequired = append(d.RestartRequired, "graph")
	}
	if !reflect.DeepEqual(old.Extraction, new.Extraction) {
		d.RestartRequired = append(d.RestartRequired, "extraction")
	}

	return d
}

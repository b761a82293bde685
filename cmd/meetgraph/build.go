package main

import (
	"fmt"

	"github.com/MrWong99/meetgraph/internal/config"
	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/ingest"
	"github.com/MrWong99/meetgraph/internal/matcher"
	"github.com/MrWong99/meetgraph/internal/observe"
	"github.com/MrWong99/meetgraph/pkg/graph"
	"github.com/MrWong99/meetgraph/pkg/provider/llm"
)

// newExtractionClient wraps provider with the configured call limits. A nil
// provider yields an unconfigured client.
func newExtractionClient(cfg config.ExtractionConfig, provider llm.Provider, m *observe.Metrics) *extraction.Client {
	opts := []extraction.Option{
		extraction.WithTimeout(cfg.Timeout.Std()),
		extraction.WithMaxPromptChars(cfg.MaxPromptChars),
		extraction.WithMaxTokens(cfg.MaxTokens),
		extraction.WithMetrics(m),
	}
	if cfg.Temperature != nil {
		opts = append(opts, extraction.WithTemperature(*cfg.Temperature))
	}
	return extraction.New(provider, opts...)
}

// buildPipeline assembles the analysis pipeline from the hot-reloadable
// parts of cfg. It runs at startup and again whenever the roster,
// organisation or matching settings change on disk.
func buildPipeline(cfg *config.Config, ex *extraction.Client, store graph.Reader, m *observe.Metrics) (*ingest.Pipeline, error) {
	roster := &identity.Roster{}
	if cfg.Roster.Path != "" {
		r, err := identity.LoadRosterFile(cfg.Roster.Path)
		if err != nil {
			return nil, fmt.Errorf("load roster: %w", err)
		}
		roster = r
	}

	mt := matcher.New(store,
		matcher.WithThresholds(cfg.Matching.Entities.Thresholds()),
		matcher.WithCandidateLimit(cfg.Matching.Entities.CandidateLimit),
		matcher.WithMetrics(m),
	)
	resolver := identity.NewResolver(
		identity.WithThresholds(cfg.Matching.Identity.Thresholds()),
		identity.WithMaxCandidates(cfg.Matching.Identity.MaxCandidates),
	)

	opts := []ingest.Option{
		ingest.WithRoster(roster),
		ingest.WithResolver(resolver),
		ingest.WithOrganization(matcher.Organization{
			Name:    cfg.Organization.Name,
			Aliases: cfg.Organization.Aliases,
		}),
		ingest.WithMetrics(m),
	}
	if cfg.Roster.FromGraph {
		opts = append(opts, ingest.WithGraphRoster(store))
	}
	return ingest.New(ex, mt, opts...), nil
}

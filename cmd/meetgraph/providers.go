package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/meetgraph/internal/config"
	"github.com/MrWong99/meetgraph/pkg/graph"
	"github.com/MrWong99/meetgraph/pkg/graph/memgraph"
	"github.com/MrWong99/meetgraph/pkg/graph/neo4j"
	"github.com/MrWong99/meetgraph/pkg/graph/postgres"
	"github.com/MrWong99/meetgraph/pkg/provider/llm"
	"github.com/MrWong99/meetgraph/pkg/provider/llm/anyllm"
	"github.com/MrWong99/meetgraph/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires the graph backends and extraction backends
// that ship with meetgraph into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Graph ─────────────────────────────────────────────────────────────────

	reg.RegisterGraph(config.GraphMemory, func(context.Context, config.GraphConfig) (graph.Store, error) {
		return memgraph.New(), nil
	})

	reg.RegisterGraph(config.GraphPostgres, func(ctx context.Context, cfg config.GraphConfig) (graph.Store, error) {
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	})

	reg.RegisterGraph(config.GraphNeo4j, func(ctx context.Context, cfg config.GraphConfig) (graph.Store, error) {
		return neo4j.NewStore(ctx, neo4j.Config{
			URL:      cfg.Neo4j.URL,
			User:     cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
	})

	// ── Extraction ────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(cfg config.ExtractionConfig) (llm.Provider, error) {
		var opts []openai.Option
		if cfg.Endpoint != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
		}
		if org := optString(cfg.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d := cfg.Timeout.Std(); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)
	})

	// azure is the OpenAI wire protocol against a deployment endpoint.
	reg.RegisterLLM("azure", func(cfg config.ExtractionConfig) (llm.Provider, error) {
		opts := []openai.Option{openai.WithAzure(cfg.Endpoint, cfg.APIVersion)}
		if d := cfg.Timeout.Std(); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(cfg.APIKey, cfg.Model, opts...)
	})

	// Every other vendor goes through any-llm-go: optional APIKey + optional
	// BaseURL. ollama and the llama.cpp servers usually need only the URL.
	for _, providerName := range anyllm.Providers {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(cfg config.ExtractionConfig) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			if cfg.Endpoint != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.Endpoint))
			}
			return anyllm.New(providerName, cfg.Model, opts...)
		})
	}

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildExtractionProvider instantiates the configured extraction backend. A
// nil provider with a nil error means extraction stays unconfigured and
// sessions run without extracted facts.
func buildExtractionProvider(cfg config.ExtractionConfig, reg *config.Registry) (llm.Provider, error) {
	if cfg.Provider == "" {
		slog.Warn("no extraction provider configured; sessions will contain speakers only")
		return nil, nil
	}
	if cfg.APIKey == "" && needsAPIKey(cfg.Provider) {
		slog.Warn("extraction provider has no api key; extraction disabled", "name", cfg.Provider)
		return nil, nil
	}
	if cfg.Endpoint == "" && needsEndpoint(cfg.Provider) {
		slog.Warn("extraction provider has no endpoint; extraction disabled", "name", cfg.Provider)
		return nil, nil
	}
	p, err := reg.CreateLLM(cfg)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("extraction provider not available; extraction disabled", "name", cfg.Provider)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create extraction provider %q: %w", cfg.Provider, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Provider, "model", cfg.Model)
	return p, nil
}

// needsAPIKey reports whether the named backend is a hosted service.
func needsAPIKey(name string) bool {
	switch name {
	case "ollama", "llamacpp", "llamafile":
		return false
	}
	return true
}

// needsEndpoint reports whether the named backend has no default URL.
func needsEndpoint(name string) bool {
	return name == "azure"
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

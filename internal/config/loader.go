package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known extraction backends.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "azure", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultCuratorHeader = "X-Meetgraph-Role"
	DefaultSessionTTL    = 2 * time.Hour
)

// Environment variables that override YAML values. Credentials are expected
// to arrive this way rather than in the file.
const (
	EnvExtractionEndpoint = "MEETGRAPH_EXTRACTION_ENDPOINT"
	EnvExtractionAPIKey   = "MEETGRAPH_EXTRACTION_API_KEY"
	EnvPostgresDSN        = "MEETGRAPH_POSTGRES_DSN"
	EnvNeo4jURL           = "MEETGRAPH_NEO4J_URL"
	EnvNeo4jUser          = "MEETGRAPH_NEO4J_USER"
	EnvNeo4jPassword      = "MEETGRAPH_NEO4J_PASSWORD"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays the MEETGRAPH_* variables found through lookup onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for env, dst := range map[string]*string{
		EnvExtractionEndpoint: &cfg.Extraction.Endpoint,
		EnvExtractionAPIKey:   &cfg.Extraction.APIKey,
		EnvPostgresDSN:        &cfg.Graph.PostgresDSN,
		EnvNeo4jURL:           &cfg.Graph.Neo4j.URL,
		EnvNeo4jUser:          &cfg.Graph.Neo4j.User,
		EnvNeo4jPassword:      &cfg.Graph.Neo4j.Password,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
		}
	}
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.CuratorHeader == "" {
		cfg.Server.CuratorHeader = DefaultCuratorHeader
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = Duration(DefaultSessionTTL)
	}
	if cfg.Graph.Backend == "" {
		switch {
		case cfg.Graph.PostgresDSN != "":
			cfg.Graph.Backend = GraphPostgres
		case cfg.Graph.Neo4j.URL != "":
			cfg.Graph.Backend = GraphNeo4j
		default:
			cfg.Graph.Backend = GraphMemory
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("server.session_ttl %s must not be negative", cfg.Server.SessionTTL.Std()))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Graph
	switch cfg.Graph.Backend {
	case "", GraphMemory:
	case GraphPostgres:
		if cfg.Graph.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("graph.postgres_dsn is required for backend %q (or set %s)", GraphPostgres, EnvPostgresDSN))
		}
	case GraphNeo4j:
		if cfg.Graph.Neo4j.URL == "" {
			errs = append(errs, fmt.Errorf("graph.neo4j.url is required for backend %q (or set %s)", GraphNeo4j, EnvNeo4jURL))
		}
	default:
		errs = append(errs, fmt.Errorf("graph.backend %q is invalid; valid values: postgres, neo4j, memory", cfg.Graph.Backend))
	}
	if cfg.Graph.Backend == GraphMemory && cfg.Roster.FromGraph {
		slog.Warn("roster.from_graph with the in-memory graph backend starts from an empty roster")
	}

	// Extraction
	validateProviderName(cfg.Extraction.Provider)
	ex := cfg.Extraction
	if ex.Provider != "" && ex.APIKey == "" && ex.Provider != "ollama" && ex.Provider != "llamacpp" && ex.Provider != "llamafile" {
		slog.Warn("extraction.api_key is empty; extraction will be unavailable", "provider", ex.Provider, "env", EnvExtractionAPIKey)
	}
	if ex.Provider == "azure" && ex.Endpoint == "" {
		slog.Warn("extraction.endpoint is empty; extraction will be unavailable", "provider", ex.Provider, "env", EnvExtractionEndpoint)
	}
	if ex.Timeout < 0 {
		errs = append(errs, fmt.Errorf("extraction.timeout %s must not be negative", ex.Timeout.Std()))
	}
	if ex.MaxPromptChars < 0 {
		errs = append(errs, fmt.Errorf("extraction.max_prompt_chars %d must not be negative", ex.MaxPromptChars))
	}
	if ex.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("extraction.max_tokens %d must not be negative", ex.MaxTokens))
	}
	if t := ex.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("extraction.temperature %.2f is out of range [0, 2]", *t))
	}
	if ex.Circuit.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("extraction.circuit.max_failures %d must not be negative", ex.Circuit.MaxFailures))
	}
	if ex.Circuit.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("extraction.circuit.reset_timeout %s must not be negative", ex.Circuit.ResetTimeout.Std()))
	}

	// Organization
	for i, a := range cfg.Organization.Aliases {
		if strings.TrimSpace(a) == "" {
			errs = append(errs, fmt.Errorf("organization.aliases[%d] is empty", i))
		}
	}
	if cfg.Organization.Name == "" && len(cfg.Organization.Aliases) > 0 {
		errs = append(errs, errors.New("organization.name is required when aliases are set"))
	}

	// Matching
	if err := cfg.Matching.Identity.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("matching.identity: %w", err))
	}
	if err := cfg.Matching.Entities.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("matching.entities: %w", err))
	}
	if cfg.Matching.Identity.MaxCandidates < 0 {
		errs = append(errs, fmt.Errorf("matching.identity.max_candidates %d must not be negative", cfg.Matching.Identity.MaxCandidates))
	}
	if cfg.Matching.Entities.CandidateLimit < 0 {
		errs = append(errs, fmt.Errorf("matching.entities.candidate_limit %d must not be negative", cfg.Matching.Entities.CandidateLimit))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown extraction provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}

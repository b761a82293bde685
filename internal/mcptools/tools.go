// Package mcptools exposes read-only meetgraph operations as MCP tools:
// transcript parsing, identity resolution against the roster and a name
// search over the knowledge graph. Nothing here writes to the graph; commits
// stay behind the curator-gated HTTP API.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/observe"
	"github.com/MrWong99/meetgraph/internal/transcript"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// Tool names.
const (
	ToolParseTranscript = "parse_transcript"
	ToolResolveIdentity = "resolve_identity"
	ToolSearchGraph     = "search_graph"
)

// maxSearchLimit caps search_graph results.
const maxSearchLimit = 50

// Resolver resolves a name against the current roster.
// [*ingest.Pipeline] implements it.
type Resolver interface {
	Resolve(ctx context.Context, name string) (identity.Resolution, error)
}

// Deps are the services behind the tools.
type Deps struct {
	Graph graph.Reader

	// Resolver returns the resolver to use for one call, so a reloaded
	// pipeline is picked up.
	Resolver func() Resolver
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool I/O
// ─────────────────────────────────────────────────────────────────────────────

type parseInput struct {
	Transcript string `json:"transcript" jsonschema:"the transcript text, timestamped captions or plain text"`
}

type speakerTally struct {
	Label      string `json:"label"`
	Utterances int    `json:"utterances"`
}

type parseOutput struct {
	Format          string         `json:"format"`
	Segments        int            `json:"segments"`
	Skipped         int            `json:"skipped"`
	DurationSeconds float64        `json:"duration_seconds"`
	Speakers        []speakerTally `json:"speakers"`
}

type resolveInput struct {
	Name string `json:"name" jsonschema:"the speaker label or person name to resolve"`
}

type candidate struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Rationale  string  `json:"rationale,omitempty"`
}

type resolveOutput struct {
	Query      string      `json:"query"`
	Outcome    string      `json:"outcome"`
	Candidates []candidate `json:"candidates"`
	Warning    string      `json:"warning,omitempty"`
}

type searchInput struct {
	Query string   `json:"query" jsonschema:"case-insensitive substring of the node name"`
	Kinds []string `json:"kinds,omitempty" jsonschema:"node labels to restrict to, e.g. Person, Project, Tool"`
	Limit int      `json:"limit,omitempty" jsonschema:"maximum number of results, at most 50"`
}

type nodeSummary struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type searchOutput struct {
	Nodes []nodeSummary `json:"nodes"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Server
// ─────────────────────────────────────────────────────────────────────────────

// NewServer returns an MCP server with the three tools registered.
func NewServer(d Deps, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "meetgraph", Version: version}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolParseTranscript,
		Description: "Parse a meeting transcript and report its speakers with utterance counts.",
	}, parseTranscript)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolResolveIdentity,
		Description: "Rank roster identities for a speaker label or person name.",
	}, d.resolveIdentity)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolSearchGraph,
		Description: "Find knowledge graph nodes whose name contains the query.",
	}, d.searchGraph)

	return srv
}

// Serve runs srv over stdin/stdout until ctx is cancelled or the client
// disconnects.
func Serve(ctx context.Context, srv *mcpsdk.Server) error {
	return srv.Run(ctx, &mcpsdk.StdioTransport{})
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func parseTranscript(_ context.Context, _ *mcpsdk.CallToolRequest, in parseInput) (*mcpsdk.CallToolResult, parseOutput, error) {
	tr := transcript.ParseString(in.Transcript)
	out := parseOutput{
		Format:          tr.Format.String(),
		Segments:        len(tr.Segments),
		Skipped:         tr.Skipped,
		DurationSeconds: tr.Duration().Seconds(),
		Speakers:        []speakerTally{},
	}
	for _, t := range tr.Tallies() {
		out.Speakers = append(out.Speakers, speakerTally{Label: t.Label, Utterances: t.Utterances})
	}
	return textResult(out)
}

func (d Deps) resolveIdentity(ctx context.Context, _ *mcpsdk.CallToolRequest, in resolveInput) (*mcpsdk.CallToolResult, resolveOutput, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, resolveOutput{}, fmt.Errorf("name is required")
	}
	res, err := d.Resolver().Resolve(ctx, in.Name)
	out := resolveOutput{Query: res.Query, Outcome: res.Outcome.String(), Candidates: []candidate{}}
	if err != nil {
		observe.Logger(ctx).Warn("mcp resolve_identity: graph roster unavailable", "err", err)
		out.Warning = "graph roster unavailable: " + err.Error()
	}
	for _, c := range res.Candidates {
		out.Candidates = append(out.Candidates, candidate{
			ID: c.ID, Name: c.Name, Confidence: c.Confidence, Source: string(c.Source), Rationale: c.Rationale,
		})
	}
	return textResult(out)
}

func (d Deps) searchGraph(ctx context.Context, _ *mcpsdk.CallToolRequest, in searchInput) (*mcpsdk.CallToolResult, searchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, searchOutput{}, fmt.Errorf("query is required")
	}
	q := graph.NodeQuery{NameContains: strings.TrimSpace(in.Query), Limit: in.Limit}
	if q.Limit <= 0 || q.Limit > maxSearchLimit {
		q.Limit = maxSearchLimit
	}
	for _, k := range in.Kinds {
		kind := graph.Kind(k)
		if !kind.Valid() {
			return nil, searchOutput{}, fmt.Errorf("%w: %q", graph.ErrUnknownKind, k)
		}
		q.Kinds = append(q.Kinds, kind)
	}

	nodes, err := d.Graph.FindNodes(ctx, q)
	if err != nil {
		return nil, searchOutput{}, fmt.Errorf("search graph: %w", err)
	}
	out := searchOutput{Nodes: make([]nodeSummary, 0, len(nodes))}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, nodeSummary{ID: string(n.ID), Kind: string(n.Kind), Name: n.Name})
	}
	return textResult(out)
}

// textResult mirrors the structured output as JSON text for clients that
// only read text content.
func textResult[T any](out T) (*mcpsdk.CallToolResult, T, error) {
	b, err := json.Marshal(out)
	if err != nil {
		var zero T
		return nil, zero, err
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}}}, out, nil
}

// Package matcher reconciles model-proposed mentioned entities against nodes
// already in the knowledge graph.
//
// Each entity is scored against lexically close graph nodes and classified as
// auto-link, suggested link or create-new. Two filters run first: entities
// naming the tenant organisation itself, and entities overlapping the
// selected project's name, are dropped. When the graph query fails the
// matcher degrades to those filters alone, applied as plain substring
// checks, and proposes no links.
package matcher

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/observe"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// Disposition is the matcher's verdict for one entity.
type Disposition int

const (
	// DispositionNew means the entity becomes a new node on commit.
	DispositionNew Disposition = iota
	// DispositionSuggest attaches a link for one-click curator review.
	DispositionSuggest
	// DispositionAutoLink links the entity to an existing node without review.
	DispositionAutoLink
)

// String returns the lowercase disposition name.
func (d Disposition) String() string {
	switch d {
	case DispositionAutoLink:
		return "auto_link"
	case DispositionSuggest:
		return "suggest"
	default:
		return "new"
	}
}

// Link names an existing graph node.
type Link struct {
	NodeID graph.NodeID
	Name   string
	Kind   graph.Kind
	Score  float64
}

// Match is one fact after matching. Link is set for auto-linked and
// suggested entities. For auto-links Fact.Value is rewritten to the node's
// canonical name and OriginalValue keeps the extracted one.
type Match struct {
	Fact          extraction.Fact
	Disposition   Disposition
	Link          *Link
	OriginalValue string
}

// Drop reasons.
const (
	ReasonSelf    = "self_reference"
	ReasonProject = "selected_project"
)

// Dropped is a fact removed by a filter.
type Dropped struct {
	Fact   extraction.Fact
	Reason string
}

// Organization is the tenant's own identity.
type Organization struct {
	Name    string
	Aliases []string
}

// Context carries per-session inputs.
type Context struct {
	Organization Organization

	// Project is the selected project's name, if any.
	Project string

	// Resolved holds entities already settled by identity resolution,
	// keyed by fact id. They bypass the graph query but still pass the
	// filters.
	Resolved map[extraction.FactID]Match
}

// Outcome is the matcher output. Matches keeps input order and includes
// facts of every kind; only mentioned entities are ever linked or dropped.
type Outcome struct {
	Matches []Match
	Dropped []Dropped

	// Degraded reports that the graph query failed and only the substring
	// filters were applied.
	Degraded bool
	Warning  string
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Default thresholds. Empirically chosen; exposed for tuning.
const (
	DefaultAutoLink       = 0.9
	DefaultSuggest        = 0.6
	DefaultSelfFilter     = 0.8
	DefaultCandidateLimit = 25

	// aliasScore is given to an exact alias hit.
	aliasScore = 0.95
	// partialScore caps a fuzzy match whose sides differ in word count.
	partialScore = 0.85
)

// Thresholds holds the matcher cut-offs. All bounds are inclusive.
type Thresholds struct {
	AutoLink   float64
	Suggest    float64
	SelfFilter float64
}

// DefaultThresholds returns the default cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoLink: DefaultAutoLink, Suggest: DefaultSuggest, SelfFilter: DefaultSelfFilter}
}

// Validate checks ranges and ordering.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"auto_link": t.AutoLink, "suggest": t.Suggest, "self_filter": t.SelfFilter} {
		if v < 0 || v > 1 {
			return fmt.Errorf("matcher: threshold %s=%v outside [0,1]", name, v)
		}
	}
	if t.Suggest > t.AutoLink {
		return fmt.Errorf("matcher: suggest threshold %v above auto_link %v", t.Suggest, t.AutoLink)
	}
	return nil
}

// searchKinds are the node labels a mentioned entity may link to.
var searchKinds = []graph.Kind{
	graph.KindOrganization, graph.KindTool, graph.KindProduct, graph.KindClient,
	graph.KindExternalContact, graph.KindConcept, graph.KindProject,
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithThresholds replaces the default cut-offs.
func WithThresholds(t Thresholds) Option {
	return func(m *Matcher) { m.th = t }
}

// WithCandidateLimit caps the nodes fetched per search term.
func WithCandidateLimit(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithMetrics records match latency and degradations on mt.
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

// Matcher is safe for concurrent use.
type Matcher struct {
	graph   graph.Reader
	th      Thresholds
	limit   int
	metrics *observe.Metrics
}

// New returns a Matcher querying g.
func New(g graph.Reader, opts ...Option) *Matcher {
	m := &Matcher{graph: g, th: DefaultThresholds(), limit: DefaultCandidateLimit}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// Matching
// ─────────────────────────────────────────────────────────────────────────────

// Match classifies every mentioned entity in facts. Other kinds pass
// through as [DispositionNew]. Match never fails; a graph error degrades the
// whole outcome.
func (m *Matcher) Match(ctx context.Context, facts []extraction.Fact, mc Context) Outcome {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "matcher.match")

	out, err := m.match(ctx, facts, mc)
	if err != nil {
		observe.Logger(ctx).Warn("entity matcher degraded to substring filters", "err", err)
		if m.metrics != nil {
			m.metrics.MatcherDegradations.Add(ctx, 1)
		}
		out = m.degrade(facts, mc, fmt.Sprintf("entity matching unavailable: %v", err))
	}
	observe.EndSpan(span, err)

	if m.metrics != nil {
		m.metrics.MatchDuration.Record(ctx, time.Since(start).Seconds())
	}
	return out
}

func (m *Matcher) match(ctx context.Context, facts []extraction.Fact, mc Context) (Outcome, error) {
	var out Outcome
	for _, f := range facts {
		if f.Kind != extraction.KindMentionedEntity {
			out.Matches = append(out.Matches, Match{Fact: f, Disposition: DispositionNew})
			continue
		}
		if reason := m.filter(f, mc, false); reason != "" {
			out.Dropped = append(out.Dropped, Dropped{Fact: f, Reason: reason})
			continue
		}
		if pre, ok := mc.Resolved[f.ID]; ok {
			out.Matches = append(out.Matches, pre)
			continue
		}
		best, err := m.bestCandidate(ctx, f)
		if err != nil {
			return Outcome{}, err
		}
		out.Matches = append(out.Matches, m.classify(f, best))
	}
	return out, nil
}

// degrade builds the outcome from the substring filters alone. No graph
// link is proposed; identity resolutions are kept.
func (m *Matcher) degrade(facts []extraction.Fact, mc Context, warning string) Outcome {
	out := Outcome{Degraded: true, Warning: warning}
	for _, f := range facts {
		if f.Kind == extraction.KindMentionedEntity {
			if reason := m.filter(f, mc, true); reason != "" {
				out.Dropped = append(out.Dropped, Dropped{Fact: f, Reason: reason})
				continue
			}
			if pre, ok := mc.Resolved[f.ID]; ok {
				out.Matches = append(out.Matches, pre)
				continue
			}
		}
		out.Matches = append(out.Matches, Match{Fact: f, Disposition: DispositionNew})
	}
	return out
}

// filter returns the drop reason for f, or "". plain selects the substring
// form of the self filter used after a query failure.
func (m *Matcher) filter(f extraction.Fact, mc Context, plain bool) string {
	v := identity.Normalize(f.Value)
	if v == "" {
		return ""
	}
	org := append([]string{mc.Organization.Name}, mc.Organization.Aliases...)
	if plain {
		for _, name := range org {
			if n := identity.Normalize(name); n != "" && overlaps(v, n) {
				return ReasonSelf
			}
		}
	} else if Score(f.Value, mc.Organization.Name, mc.Organization.Aliases) >= m.th.SelfFilter {
		return ReasonSelf
	}
	if p := identity.Normalize(mc.Project); p != "" && overlaps(v, p) {
		return ReasonProject
	}
	return ""
}

func (m *Matcher) classify(f extraction.Fact, best *Link) Match {
	switch {
	case best != nil && best.Score >= m.th.AutoLink:
		original := f.Value
		f.Value = best.Name
		return Match{Fact: f, Disposition: DispositionAutoLink, Link: best, OriginalValue: original}
	case best != nil && best.Score >= m.th.Suggest:
		return Match{Fact: f, Disposition: DispositionSuggest, Link: best}
	default:
		return Match{Fact: f, Disposition: DispositionNew}
	}
}

// bestCandidate fetches nodes sharing a word with f.Value and returns the
// highest scoring one. Ties prefer the node kind the entity maps to, then
// name, then id.
func (m *Matcher) bestCandidate(ctx context.Context, f extraction.Fact) (*Link, error) {
	terms := searchTerms(f.Value)
	seen := make(map[graph.NodeID]bool)
	var links []Link
	for _, term := range terms {
		nodes, err := m.graph.FindNodes(ctx, graph.NodeQuery{Kinds: searchKinds, NameContains: term, Limit: m.limit})
		if err != nil {
			return nil, fmt.Errorf("matcher: search %q: %w", term, err)
		}
		for _, n := range nodes {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			links = append(links, Link{
				NodeID: n.ID,
				Name:   n.Name,
				Kind:   n.Kind,
				Score:  Score(f.Value, n.Name, identity.AliasesOf(n)),
			})
		}
	}
	if len(links) == 0 {
		return nil, nil
	}
	want := f.EntityKind.GraphKind()
	slices.SortFunc(links, func(a, b Link) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if (a.Kind == want) != (b.Kind == want) {
			if a.Kind == want {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.NodeID, b.NodeID)
	})
	best := links[0]
	return &best, nil
}

// searchTerms returns the words of s used as substring queries: every word of
// three or more runes, or the whole trimmed value when there are none.
func searchTerms(s string) []string {
	var terms []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if len([]rune(w)) > 2 && !slices.Contains(terms, w) {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		if s = strings.TrimSpace(s); s != "" {
			terms = []string{s}
		}
	}
	return terms
}

// ─────────────────────────────────────────────────────────────────────────────
// Scoring
// ─────────────────────────────────────────────────────────────────────────────

// Score rates how close value is to a node called name with the given
// aliases: 1.0 for an exact normalised name, 0.95 for an exact alias, and
// otherwise the best Jaro-Winkler similarity over the full strings, the
// strings without spaces and the strings with their words sorted.
//
// A fuzzy score never exceeds the weakest word pairing: every word of three
// or more runes on one side is paired with its closest counterpart on the
// other, and the lowest pair similarity bounds the result. When the two
// sides have a different number of such words the score is also capped at
// 0.85, so a value naming only part of a node is at most a suggestion.
func Score(value, name string, aliases []string) float64 {
	v := identity.Normalize(value)
	n := identity.Normalize(name)
	if v == "" {
		return 0
	}
	if v == n {
		return 1.0
	}
	for _, a := range aliases {
		if identity.Normalize(a) == v {
			return aliasScore
		}
	}
	if n == "" {
		return 0
	}
	score := matchr.JaroWinkler(v, n, false)
	if s := matchr.JaroWinkler(strings.ReplaceAll(v, " ", ""), strings.ReplaceAll(n, " ", ""), false); s > score {
		score = s
	}
	if s := matchr.JaroWinkler(sortedWords(v), sortedWords(n), false); s > score {
		score = s
	}
	return min(score, tokenAgreement(v, n))
}

// tokenAgreement bounds a fuzzy score by the weakest pairing of the
// significant words of two normalised strings.
func tokenAgreement(v, n string) float64 {
	if strings.ReplaceAll(v, " ", "") == strings.ReplaceAll(n, " ", "") {
		return 1.0
	}
	a, b := significantWords(v), significantWords(n)
	if len(a) == 0 || len(b) == 0 {
		return 1.0
	}
	ceiling := 1.0
	if len(a) != len(b) {
		ceiling = partialScore
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	used := make([]bool, len(b))
	for _, wa := range a {
		best, at := 0.0, -1
		for j, wb := range b {
			if used[j] {
				continue
			}
			if s := matchr.JaroWinkler(wa, wb, false); s > best {
				best, at = s, j
			}
		}
		if at >= 0 {
			used[at] = true
		}
		ceiling = min(ceiling, best)
	}
	return ceiling
}

// significantWords returns the words of three or more runes with
// surrounding punctuation removed.
func significantWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if len([]rune(w)) > 2 {
			out = append(out, w)
		}
	}
	return out
}

func sortedWords(s string) string {
	words := strings.Fields(s)
	slices.Sort(words)
	return strings.Join(words, " ")
}

// overlaps reports whether either string contains the other.
func overlaps(a, b string) bool {
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Package identity resolves free-text names (speaker labels, mentioned
// people) to known identities from a [Roster] snapshot.
//
// Resolution is a pure function of the query and the roster: the same inputs
// always produce the same ranked candidate list. Each roster entry is scored
// by the first heuristic that applies, in this order:
//
//  1. exact normalised name
//  2. exact alias
//  3. token overlap between names
//  4. first name plus last name (external contacts only)
//  5. substring containment between query and alias
//
// Candidates from both directories are merged, de-duplicated by id, sorted
// by confidence and capped. The top score then decides whether the match is
// applied automatically, offered as a suggestion, or discarded.
package identity

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/meetgraph/pkg/graph"
)

// Source names the directory a candidate came from.
type Source string

const (
	SourceInternal Source = "internal"
	SourceExternal Source = "external"
)

// Candidate is one possible identity for a query. Candidates are transient;
// they feed an acceptance decision and are never persisted as such.
type Candidate struct {
	ID         string
	Name       string
	Confidence float64
	Source     Source
	Rationale  string

	// NodeID is the graph node backing the entry, when known.
	NodeID graph.NodeID
}

// Outcome classifies a resolution by its top score.
type Outcome int

const (
	// OutcomeNew means no candidate was good enough to surface.
	OutcomeNew Outcome = iota
	// OutcomeSuggest means the top candidate is offered for one-click review.
	OutcomeSuggest
	// OutcomeAutomatic means the top candidate is applied without review.
	OutcomeAutomatic
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAutomatic:
		return "automatic"
	case OutcomeSuggest:
		return "suggest"
	default:
		return "new"
	}
}

// Resolution is the result of resolving one query.
type Resolution struct {
	Query      string
	Candidates []Candidate
	Outcome    Outcome
}

// Top returns the best candidate.
func (r Resolution) Top() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// ─────────────────────────────────────────────────────────────────────────────
// Thresholds
// ─────────────────────────────────────────────────────────────────────────────

// Default scoring constants. They were tuned empirically and are exposed as a
// configuration surface through [Thresholds].
const (
	DefaultAutomatic       = 0.9
	DefaultSuggest         = 0.5
	DefaultAliasExact      = 0.9
	DefaultOverlapBoost    = 0.3
	DefaultOverlapCap      = 0.95
	DefaultMinOverlapRatio = 0.5
	DefaultFirstLast       = 0.85
	DefaultContainment     = 0.7

	// DefaultMaxCandidates caps the ranked list.
	DefaultMaxCandidates = 5
)

// Thresholds holds every score and cut-off used by the resolver.
type Thresholds struct {
	// Automatic is the inclusive lower bound for [OutcomeAutomatic].
	Automatic float64
	// Suggest is the inclusive lower bound for [OutcomeSuggest]. Candidates
	// below it are not surfaced.
	Suggest float64

	AliasExact      float64
	OverlapBoost    float64
	OverlapCap      float64
	MinOverlapRatio float64
	FirstLast       float64
	Containment     float64
}

// DefaultThresholds returns the default constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Automatic:       DefaultAutomatic,
		Suggest:         DefaultSuggest,
		AliasExact:      DefaultAliasExact,
		OverlapBoost:    DefaultOverlapBoost,
		OverlapCap:      DefaultOverlapCap,
		MinOverlapRatio: DefaultMinOverlapRatio,
		FirstLast:       DefaultFirstLast,
		Containment:     DefaultContainment,
	}
}

// Validate reports scores outside [0,1] and an inverted automatic/suggest
// pair.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"automatic": t.Automatic, "suggest": t.Suggest, "alias_exact": t.AliasExact,
		"overlap_boost": t.OverlapBoost, "overlap_cap": t.OverlapCap,
		"min_overlap_ratio": t.MinOverlapRatio, "first_last": t.FirstLast,
		"containment": t.Containment,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("identity: threshold %s=%v outside [0,1]", name, v)
		}
	}
	if t.Suggest > t.Automatic {
		return fmt.Errorf("identity: suggest threshold %v above automatic %v", t.Suggest, t.Automatic)
	}
	return nil
}

// Classify maps a score to an [Outcome]. Both bounds are inclusive.
func (t Thresholds) Classify(score float64) Outcome {
	switch {
	case score >= t.Automatic:
		return OutcomeAutomatic
	case score >= t.Suggest:
		return OutcomeSuggest
	default:
		return OutcomeNew
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Resolver
// ─────────────────────────────────────────────────────────────────────────────

// Option configures a [Resolver].
type Option func(*Resolver)

// WithThresholds replaces the default scoring constants.
func WithThresholds(t Thresholds) Option {
	return func(r *Resolver) { r.th = t }
}

// WithMaxCandidates caps the ranked list at n. Values below 1 are ignored.
func WithMaxCandidates(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.max = n
		}
	}
}

// Resolver scores names against a roster. It holds no roster state and is
// safe for concurrent use.
type Resolver struct {
	th  Thresholds
	max int
}

// NewResolver returns a Resolver with default thresholds.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{th: DefaultThresholds(), max: DefaultMaxCandidates}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Thresholds returns the resolver's scoring constants.
func (r *Resolver) Thresholds() Thresholds { return r.th }

// entry is a roster record flattened for scoring.
type entry struct {
	id      string
	name    string
	aliases []string
	source  Source
	nodeID  graph.NodeID
}

// Resolve ranks roster entries against name. A nil roster or a name that
// normalises to nothing yields [OutcomeNew] with no candidates.
func (r *Resolver) Resolve(name string, roster *Roster) Resolution {
	res := Resolution{Query: name}
	q := Normalize(name)
	if q == "" || roster == nil {
		return res
	}

	var cands []Candidate
	for _, e := range flatten(roster) {
		score, why, ok := r.score(q, e)
		if !ok || score < r.th.Suggest {
			continue
		}
		cands = append(cands, Candidate{
			ID:         e.id,
			Name:       e.name,
			Confidence: score,
			Source:     e.source,
			Rationale:  why,
			NodeID:     e.nodeID,
		})
	}

	slices.SortFunc(cands, compareCandidates)
	cands = dedupe(cands)
	if len(cands) > r.max {
		cands = cands[:r.max]
	}

	res.Candidates = cands
	if len(cands) > 0 {
		res.Outcome = r.th.Classify(cands[0].Confidence)
	}
	return res
}

// score applies the heuristics in order and returns the first that matches.
func (r *Resolver) score(q string, e entry) (float64, string, bool) {
	name := Normalize(e.name)
	aliases := make([]string, 0, len(e.aliases))
	for _, a := range e.aliases {
		if n := Normalize(a); n != "" {
			aliases = append(aliases, n)
		}
	}

	if q == name {
		return 1.0, "exact name match", true
	}
	if slices.Contains(aliases, q) {
		return r.th.AliasExact, "exact alias match", true
	}
	if s, ok := r.tokenOverlap(q, name); ok {
		return s, "token overlap", true
	}
	if e.source == SourceExternal && firstLast(q, name) {
		return r.th.FirstLast, "first and last name", true
	}
	for _, a := range aliases {
		if strings.Contains(q, a) || strings.Contains(a, q) {
			return r.th.Containment, fmt.Sprintf("contains alias %q", a), true
		}
	}
	return 0, "", false
}

// tokenOverlap scores names sharing significant tokens. The overlap must
// cover at least two tokens or the whole of the shorter name, and its ratio
// to the longer name must reach MinOverlapRatio.
func (r *Resolver) tokenOverlap(q, name string) (float64, bool) {
	qt, ct := Tokens(q), Tokens(name)
	if len(qt) == 0 || len(ct) == 0 {
		return 0, false
	}
	overlap := 0
	for _, t := range dedupeStrings(qt) {
		if slices.Contains(ct, t) {
			overlap++
		}
	}
	if overlap == 0 {
		return 0, false
	}
	if overlap < 2 && overlap != min(len(qt), len(ct)) {
		return 0, false
	}
	ratio := float64(overlap) / float64(max(len(qt), len(ct)))
	if ratio < r.th.MinOverlapRatio {
		return 0, false
	}
	return min(r.th.OverlapCap, ratio+r.th.OverlapBoost), true
}

// firstLast matches when first names agree and either the query is a single
// word or its last word appears anywhere in the candidate.
func firstLast(q, name string) bool {
	qf, cf := strings.Fields(q), strings.Fields(name)
	if len(qf) == 0 || len(cf) == 0 || qf[0] != cf[0] {
		return false
	}
	return len(qf) == 1 || slices.Contains(cf, qf[len(qf)-1])
}

func flatten(r *Roster) []entry {
	out := make([]entry, 0, len(r.Staff)+len(r.External))
	for _, s := range r.Staff {
		out = append(out, entry{id: s.ID, name: s.Name, aliases: s.Aliases, source: SourceInternal, nodeID: s.NodeID})
	}
	for _, e := range r.External {
		out = append(out, entry{id: e.ID, name: e.Name, aliases: e.Aliases, source: SourceExternal, nodeID: e.NodeID})
	}
	return out
}

// compareCandidates orders by confidence descending, then internal before
// external, then name and id.
func compareCandidates(a, b Candidate) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	if a.Source != b.Source {
		if a.Source == SourceInternal {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// dedupe keeps the first (best ranked) candidate per id.
func dedupe(sorted []Candidate) []Candidate {
	seen := make(map[string]bool, len(sorted))
	out := sorted[:0]
	for _, c := range sorted {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

func dedupeStrings(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

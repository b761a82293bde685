// Package ingest runs the analysis half of an ingestion session: parse the
// transcript, resolve speakers, extract facts, match mentioned entities and
// seed a curation workspace. Nothing is written to the graph here.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetgraph/internal/curation"
	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/matcher"
	"github.com/MrWong99/meetgraph/internal/observe"
	"github.com/MrWong99/meetgraph/internal/persist"
	"github.com/MrWong99/meetgraph/internal/transcript"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// Extractor produces facts from a transcript. [*extraction.Client]
// implements it.
type Extractor interface {
	IsConfigured() bool
	Extract(ctx context.Context, req extraction.Request) extraction.Result
}

// EntityMatcher reconciles mentioned entities with the graph.
// [*matcher.Matcher] implements it.
type EntityMatcher interface {
	Match(ctx context.Context, facts []extraction.Fact, mc matcher.Context) matcher.Outcome
}

var (
	_ Extractor     = (*extraction.Client)(nil)
	_ EntityMatcher = (*matcher.Matcher)(nil)
)

// Input is one transcript submitted for analysis.
type Input struct {
	Transcript string
	Meeting    persist.Meeting
}

// Analysis is the pre-curation result of one session.
type Analysis struct {
	Transcript *transcript.Transcript
	Extraction extraction.Result
	Matching   matcher.Outcome
	Workspace  *curation.Workspace

	// Warnings lists every degradation met on the way, for the curator.
	Warnings []string
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithRoster sets the static roster snapshot.
func WithRoster(r *identity.Roster) Option {
	return func(p *Pipeline) { p.roster = r }
}

// WithGraphRoster reads staff and external contacts from g at the start of
// every analysis and merges them after the static roster.
func WithGraphRoster(g graph.Reader) Option {
	return func(p *Pipeline) { p.rosterGraph = g }
}

// WithOrganization sets the tenant identity used by the self filter.
func WithOrganization(o matcher.Organization) Option {
	return func(p *Pipeline) { p.org = o }
}

// WithResolver replaces the default identity resolver.
func WithResolver(r *identity.Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithMetrics records resolution outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline is safe for concurrent use; every Analyze call is independent.
type Pipeline struct {
	extractor   Extractor
	matcher     EntityMatcher
	resolver    *identity.Resolver
	roster      *identity.Roster
	rosterGraph graph.Reader
	org         matcher.Organization
	metrics     *observe.Metrics
}

// New returns a Pipeline. A nil extractor behaves as an unconfigured one.
func New(ex Extractor, m EntityMatcher, opts ...Option) *Pipeline {
	if ex == nil {
		ex = extraction.New(nil)
	}
	p := &Pipeline{
		extractor: ex,
		matcher:   m,
		resolver:  identity.NewResolver(),
		roster:    &identity.Roster{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Analyze parses in.Transcript and prepares a curation workspace. Speaker
// resolution and extraction run concurrently; entity matching follows
// extraction. Degradations are reported in [Analysis.Warnings] and never
// fail the call; the only error is cancellation of ctx.
func (p *Pipeline) Analyze(ctx context.Context, in Input) (*Analysis, error) {
	ctx, span := observe.StartSpan(ctx, "ingest.analyze")
	a, err := p.analyze(ctx, in)
	observe.EndSpan(span, err)
	return a, err
}

func (p *Pipeline) analyze(ctx context.Context, in Input) (*Analysis, error) {
	log := observe.Logger(ctx)
	a := &Analysis{Transcript: transcript.ParseString(in.Transcript)}
	if a.Transcript.Skipped > 0 {
		log.Info("skipped malformed transcript lines", "count", a.Transcript.Skipped)
	}

	roster, err := p.loadRoster(ctx)
	if err != nil {
		log.Warn("graph roster unavailable, using static roster", "err", err)
		a.Warnings = append(a.Warnings, fmt.Sprintf("roster: %v", err))
	}

	var speakers []curation.Speaker
	for _, t := range a.Transcript.Tallies() {
		if t.Label != "" {
			speakers = append(speakers, curation.Speaker{Label: t.Label, Utterances: t.Utterances})
		}
	}

	req := p.request(a.Transcript, in.Meeting, speakers, roster)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Extraction = p.extractor.Extract(gctx, req)
		return nil
	})
	g.Go(func() error {
		return p.resolveSpeakers(gctx, speakers, roster)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w := a.Extraction.Warning; w != "" {
		a.Warnings = append(a.Warnings, "extraction: "+w)
	}

	a.Matching = p.matcher.Match(ctx, a.Extraction.Facts, matcher.Context{
		Organization: p.org,
		Project:      in.Meeting.ProjectName,
		Resolved:     p.resolveMentionedPeople(a.Extraction.Facts, roster),
	})
	if w := a.Matching.Warning; w != "" {
		a.Warnings = append(a.Warnings, "matching: "+w)
	}
	for _, d := range a.Matching.Dropped {
		log.Debug("mentioned entity dropped", "value", d.Fact.Value, "reason", d.Reason)
	}

	meeting := in.Meeting
	meeting.Summary = a.Extraction.Summary
	meeting.Topics = a.Extraction.Topics
	if d := a.Transcript.Duration(); d > 0 {
		meeting.DurationSeconds = d.Seconds()
	}
	a.Workspace = curation.NewWorkspace(curation.Input{
		Meeting:  meeting,
		Speakers: speakers,
		Matches:  a.Matching.Matches,
	})

	log.Info("transcript analysed",
		"session", a.Workspace.ID(),
		"segments", len(a.Transcript.Segments),
		"speakers", len(speakers),
		"facts", len(a.Extraction.Facts),
		"dropped", len(a.Matching.Dropped),
		"warnings", len(a.Warnings),
	)
	return a, nil
}

// Resolve runs one name through the identity resolver against the current
// roster. A graph roster failure is returned alongside the resolution made
// with the static roster.
func (p *Pipeline) Resolve(ctx context.Context, name string) (identity.Resolution, error) {
	roster, err := p.loadRoster(ctx)
	return p.resolver.Resolve(name, roster), err
}

// loadRoster returns the static roster merged with the graph roster. On a
// graph failure the static roster is returned with the error.
func (p *Pipeline) loadRoster(ctx context.Context) (*identity.Roster, error) {
	if p.rosterGraph == nil {
		return p.roster, nil
	}
	fromGraph, err := identity.RosterFromGraph(ctx, p.rosterGraph)
	if err != nil {
		return p.roster, err
	}
	return p.roster.Merge(fromGraph), nil
}

// resolveSpeakers fills in the resolution of every speaker, one goroutine
// per label.
func (p *Pipeline) resolveSpeakers(ctx context.Context, speakers []curation.Speaker, roster *identity.Roster) error {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := range speakers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			speakers[i].Resolution = p.resolver.Resolve(speakers[i].Label, roster)
			return nil
		})
	}
	err := g.Wait()
	if p.metrics != nil {
		p.metrics.ResolutionDuration.Record(ctx, time.Since(start).Seconds())
		for _, s := range speakers {
			p.metrics.RecordResolution(ctx, s.Resolution.Outcome.String())
		}
	}
	return err
}

// resolveMentionedPeople runs external-person entities through the identity
// resolver. Candidates backed by a graph node become pre-resolved matches so
// the entity matcher skips them.
func (p *Pipeline) resolveMentionedPeople(facts []extraction.Fact, roster *identity.Roster) map[extraction.FactID]matcher.Match {
	out := make(map[extraction.FactID]matcher.Match)
	for _, f := range facts {
		if f.Kind != extraction.KindMentionedEntity || f.EntityKind != extraction.EntityExternalPerson {
			continue
		}
		res := p.resolver.Resolve(f.Value, roster)
		top, ok := res.Top()
		if !ok || top.NodeID == "" {
			continue
		}
		kind := graph.KindExternalContact
		if top.Source == identity.SourceInternal {
			kind = graph.KindPerson
		}
		link := &matcher.Link{NodeID: top.NodeID, Name: top.Name, Kind: kind, Score: top.Confidence}
		switch res.Outcome {
		case identity.OutcomeAutomatic:
			m := matcher.Match{Fact: f, Disposition: matcher.DispositionAutoLink, Link: link, OriginalValue: f.Value}
			m.Fact.Value = top.Name
			out[f.ID] = m
		case identity.OutcomeSuggest:
			out[f.ID] = matcher.Match{Fact: f, Disposition: matcher.DispositionSuggest, Link: link}
		}
	}
	return out
}

func (p *Pipeline) request(tr *transcript.Transcript, m persist.Meeting, speakers []curation.Speaker, roster *identity.Roster) extraction.Request {
	req := extraction.Request{
		Transcript: tr.Dialogue(),
		Meeting: extraction.MeetingContext{
			Title:   m.Title,
			Project: m.ProjectName,
		},
	}
	for _, s := range speakers {
		req.Meeting.Participants = append(req.Meeting.Participants, s.Label)
	}
	if strings.TrimSpace(p.org.Name) != "" || len(roster.Staff) > 0 {
		org := &extraction.OrgContext{Name: p.org.Name, Departments: roster.Departments()}
		for _, s := range roster.Staff {
			org.Staff = append(org.Staff, extraction.StaffContext{Name: s.Name, Role: s.Role, Department: s.Department})
		}
		req.Organization = org
	}
	return req
}

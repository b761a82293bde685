package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/observe"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// Step names, in execution order.
const (
	StepMeeting       = "create_meeting"
	StepProject       = "link_project"
	StepParticipants  = "link_participants"
	StepFacts         = "create_facts"
	StepEntities      = "mentioned_entities"
	StepRelationships = "relationships"
	StepFinalize      = "finalize_meeting"

	// StepCommit reports a failure of the transaction commit itself.
	StepCommit = "commit"
)

// Provenance property keys and values written on every created fact node.
const (
	PropOrigin          = "origin"
	PropMeetingID       = "meeting_id"
	PropIngestedAt      = "ingested_at"
	PropSourceFile      = "source_file"
	PropIngestionStatus = "ingestion_status"

	OriginMeetingIngestion = "meeting_ingestion"
	StatusInProgress       = "in_progress"
	StatusCompleted        = "completed"
)

// staffLookupLimit bounds the write-time person lookup.
const staffLookupLimit = 10

// StepError reports the write step that aborted a commit.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("persist: step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Option configures a [Writer].
type Option func(*Writer)

// WithClock replaces time.Now for ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithMetrics records commit outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// Writer commits batches to a graph store. It is safe for concurrent use;
// each commit runs in its own transaction.
type Writer struct {
	store   graph.Store
	now     func() time.Time
	metrics *observe.Metrics
}

// NewWriter returns a Writer on store.
func NewWriter(store graph.Store, opts ...Option) *Writer {
	w := &Writer{store: store, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

type step struct {
	name string
	run  func(ctx context.Context, c *commit) error
}

// commit is the state threaded through the steps of one transaction.
type commit struct {
	tx    graph.Tx
	batch Batch
	at    string

	meeting graph.NodeID
	nodes   map[extraction.FactID]graph.NodeID
	// people maps participant labels and names to their nodes,
	// keyed by normalised form.
	people  map[string]graph.NodeID
	receipt Receipt
}

// Commit validates b and writes it in one transaction. A step failure rolls
// the transaction back and returns a [*StepError]; validation failures are
// returned before any write, as [*ValidationError] values joined together or
// as [ErrNothingToCommit].
func (w *Writer) Commit(ctx context.Context, b Batch) (*Receipt, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "persist.commit")
	log := observe.Logger(ctx)

	steps := []step{
		{StepMeeting, w.createMeeting},
		{StepProject, w.linkProject},
		{StepParticipants, w.linkParticipants},
		{StepFacts, w.createFacts},
		{StepEntities, w.mentionedEntities},
		{StepRelationships, w.relationships},
		{StepFinalize, w.finalize},
	}

	var c *commit
	err := w.store.WithTx(ctx, func(tx graph.Tx) error {
		c = &commit{
			tx:     tx,
			batch:  b,
			at:     w.now().UTC().Format(time.RFC3339),
			nodes:  make(map[extraction.FactID]graph.NodeID),
			people: make(map[string]graph.NodeID),
		}
		for _, s := range steps {
			if err := s.run(ctx, c); err != nil {
				return &StepError{Step: s.name, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		var se *StepError
		if !errors.As(err, &se) {
			err = &StepError{Step: StepCommit, Err: err}
		}
	}
	observe.EndSpan(span, err)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if w.metrics != nil {
		w.metrics.RecordCommit(ctx, status, time.Since(start).Seconds())
	}
	if err != nil {
		log.Error("commit rolled back", "title", b.Meeting.Title, "err", err)
		return nil, err
	}

	for _, f := range b.Transient {
		log.Info("transient fact not persisted", "fact_id", f.ID, "kind", f.Kind, "value", f.Value)
	}
	c.receipt.Transient = len(b.Transient)
	log.Info("commit complete",
		"meeting_id", c.meeting,
		"participants", c.receipt.ParticipantsLinked,
		"facts", c.receipt.FactsCreated,
		"entities_created", c.receipt.EntitiesCreated,
		"entities_linked", c.receipt.EntitiesLinked,
		"edges", c.receipt.EdgesCreated,
	)
	r := c.receipt
	return &r, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Steps
// ─────────────────────────────────────────────────────────────────────────────

func (w *Writer) createMeeting(ctx context.Context, c *commit) error {
	m := c.batch.Meeting
	props := map[string]any{
		PropOrigin:          OriginMeetingIngestion,
		PropIngestedAt:      c.at,
		PropIngestionStatus: StatusInProgress,
	}
	if !m.Date.IsZero() {
		props["date"] = m.Date.UTC().Format(time.RFC3339)
	}
	if m.SourceFile != "" {
		props[PropSourceFile] = m.SourceFile
	}
	for k, v := range map[string]string{
		"summary":               m.Summary,
		"time":                  m.Time,
		"organizer":             m.Organizer,
		"meeting_type":          m.MeetingType,
		"confidentiality_level": m.ConfidentialityLevel,
		"recurrence":            m.Recurrence,
	} {
		if v != "" {
			props[k] = v
		}
	}
	if len(m.Topics) > 0 {
		props["topic_tags"] = m.Topics
	}
	if m.DurationSeconds > 0 {
		props["duration_seconds"] = m.DurationSeconds
	}
	id, err := c.tx.CreateNode(ctx, graph.KindMeeting, strings.TrimSpace(m.Title), props)
	if err != nil {
		return err
	}
	c.meeting = id
	return nil
}

func (w *Writer) linkProject(ctx context.Context, c *commit) error {
	m := c.batch.Meeting
	var project graph.NodeID
	switch {
	case m.ProjectID != "":
		n, err := c.tx.GetNode(ctx, m.ProjectID)
		if err != nil {
			return fmt.Errorf("project %s: %w", m.ProjectID, err)
		}
		if n.Kind != graph.KindProject {
			return fmt.Errorf("node %s is a %s, not a project", n.ID, n.Kind)
		}
		project = n.ID
	case strings.TrimSpace(m.ProjectName) != "":
		id, _, err := c.tx.MergeNode(ctx, graph.KindProject, "project:"+identity.Normalize(m.ProjectName), strings.TrimSpace(m.ProjectName), map[string]any{
			PropOrigin: OriginMeetingIngestion,
		})
		if err != nil {
			return err
		}
		project = id
	default:
		return nil
	}
	return c.edge(ctx, graph.Edge{From: c.meeting, To: project, Type: graph.EdgeRelatedToProject})
}

func (w *Writer) linkParticipants(ctx context.Context, c *commit) error {
	for _, p := range c.batch.Participants {
		id, err := c.participantNode(ctx, p)
		if err != nil {
			return fmt.Errorf("participant %q: %w", p.Label, err)
		}
		err = c.edge(ctx, graph.Edge{From: id, To: c.meeting, Type: graph.EdgeParticipatedIn, Props: map[string]any{
			"confidence":       p.Confidence,
			"source_reference": p.SourceReference,
			"utterance_count":  p.Utterances,
		}})
		if err != nil {
			return fmt.Errorf("participant %q: %w", p.Label, err)
		}
		for _, key := range []string{p.Label, p.Name} {
			if k := identity.Normalize(key); k != "" {
				c.people[k] = id
			}
		}
		c.receipt.ParticipantsLinked++
	}
	return nil
}

func (c *commit) participantNode(ctx context.Context, p Participant) (graph.NodeID, error) {
	if p.NodeID != "" {
		n, err := c.tx.GetNode(ctx, p.NodeID)
		if err != nil {
			return "", err
		}
		return n.ID, nil
	}
	kind := graph.KindPerson
	if p.External {
		kind = graph.KindExternalContact
	}
	name := strings.TrimSpace(p.Name)
	props := map[string]any{PropOrigin: OriginMeetingIngestion}
	key := "person:" + identity.Normalize(name)
	if p.RosterID != "" {
		key = "roster:" + p.RosterID
		props[identity.PropRosterID] = p.RosterID
	}
	id, _, err := c.tx.MergeNode(ctx, kind, key, name, props)
	return id, err
}

func (w *Writer) createFacts(ctx context.Context, c *commit) error {
	for _, f := range c.batch.Facts {
		if f.Kind == extraction.KindMentionedEntity {
			continue
		}
		id, err := c.tx.CreateNode(ctx, f.Kind.GraphKind(), f.Value, c.factProps(f))
		if err != nil {
			return fmt.Errorf("fact %s: %w", f.ID, err)
		}
		c.nodes[f.ID] = id
		if err := c.edge(ctx, graph.Edge{From: id, To: c.meeting, Type: graph.EdgeExtractedFrom}); err != nil {
			return fmt.Errorf("fact %s: %w", f.ID, err)
		}
		c.receipt.FactsCreated++

		person, err := c.findPerson(ctx, f.Person())
		if err != nil {
			return fmt.Errorf("fact %s: %w", f.ID, err)
		}
		if person == "" {
			if f.Person() != "" {
				observe.Logger(ctx).Debug("no staff match for related person", "fact_id", f.ID, "person", f.Person())
			}
			continue
		}
		if err := c.edge(ctx, graph.Edge{From: id, To: person, Type: f.Kind.PersonEdge()}); err != nil {
			return fmt.Errorf("fact %s: %w", f.ID, err)
		}
	}
	return nil
}

func (w *Writer) mentionedEntities(ctx context.Context, c *commit) error {
	for _, f := range c.batch.Facts {
		if f.Kind != extraction.KindMentionedEntity {
			continue
		}
		id := f.LinkedNodeID
		if id != "" {
			if _, err := c.tx.GetNode(ctx, id); err != nil {
				return fmt.Errorf("entity %s: linked node %s: %w", f.ID, id, err)
			}
			c.receipt.EntitiesLinked++
		} else {
			kind := f.EntityKind.GraphKind()
			props := c.factProps(f)
			props["entity_kind"] = string(f.EntityKind)
			name := f.Value
			if f.Contact != nil {
				kind = graph.KindExternalContact
				if f.Contact.Name != "" {
					name = f.Contact.Name
				}
				if f.Contact.Organization != "" {
					props[identity.PropOrganization] = f.Contact.Organization
				}
				if f.Contact.PartnershipTier != "" {
					props[identity.PropPartnershipTier] = f.Contact.PartnershipTier
				}
			}
			var err error
			id, err = c.tx.CreateNode(ctx, kind, name, props)
			if err != nil {
				return fmt.Errorf("entity %s: %w", f.ID, err)
			}
			if err := c.edge(ctx, graph.Edge{From: id, To: c.meeting, Type: graph.EdgeExtractedFrom}); err != nil {
				return fmt.Errorf("entity %s: %w", f.ID, err)
			}
			c.receipt.EntitiesCreated++
		}
		c.nodes[f.ID] = id
		if err := c.edge(ctx, graph.Edge{From: c.meeting, To: id, Type: graph.EdgeMentions}); err != nil {
			return fmt.Errorf("entity %s: %w", f.ID, err)
		}
	}
	return nil
}

func (w *Writer) relationships(ctx context.Context, c *commit) error {
	for _, r := range c.batch.Relationships {
		from, ok := c.nodes[r.From]
		if !ok {
			return fmt.Errorf("relationship %s: unknown fact %q", r.Type, r.From)
		}
		to, ok := c.nodes[r.To]
		if !ok {
			return fmt.Errorf("relationship %s: unknown fact %q", r.Type, r.To)
		}
		if err := c.edge(ctx, graph.Edge{From: from, To: to, Type: r.Type}); err != nil {
			return fmt.Errorf("relationship %s %s->%s: %w", r.Type, r.From, r.To, err)
		}
	}
	return nil
}

func (w *Writer) finalize(ctx context.Context, c *commit) error {
	return c.tx.UpdateNode(ctx, c.meeting, map[string]any{
		"participant_count": c.receipt.ParticipantsLinked,
		"fact_count":        c.receipt.FactsCreated,
		"entity_count":      c.receipt.EntitiesCreated + c.receipt.EntitiesLinked,
		PropIngestionStatus: StatusCompleted,
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (c *commit) edge(ctx context.Context, e graph.Edge) error {
	if err := c.tx.CreateEdge(ctx, e); err != nil {
		return err
	}
	c.receipt.EdgesCreated++
	return nil
}

func (c *commit) factProps(f Fact) map[string]any {
	props := map[string]any{
		PropOrigin:       OriginMeetingIngestion,
		PropMeetingID:    string(c.meeting),
		PropIngestedAt:   c.at,
		"provisional_id": string(f.ID),
		"confidence":     f.Confidence,
	}
	if sf := c.batch.Meeting.SourceFile; sf != "" {
		props[PropSourceFile] = sf
	}
	for k, v := range map[string]string{
		"description":      f.Desc,
		"source_reference": f.SourceReference,
		"assignee":         f.Assignee,
		"due_date":         f.DueDate,
		"priority":         f.Priority,
		"related_person":   f.RelatedPerson,
		"impact":           f.Impact,
		"visibility":       f.Visibility,
		"memory_tier":      f.Tier,
	} {
		if v != "" {
			props[k] = v
		}
	}
	return props
}

// findPerson resolves a free-text person to a node: first a participant of
// this batch by label or name, then a Person node whose name contains it,
// case-insensitively. An exact name wins over a longer one.
func (c *commit) findPerson(ctx context.Context, person string) (graph.NodeID, error) {
	key := identity.Normalize(person)
	if key == "" {
		return "", nil
	}
	if id, ok := c.people[key]; ok {
		return id, nil
	}
	nodes, err := c.tx.FindNodes(ctx, graph.NodeQuery{
		Kinds:        []graph.Kind{graph.KindPerson},
		NameContains: strings.TrimSpace(person),
		Limit:        staffLookupLimit,
	})
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", nil
	}
	for _, n := range nodes {
		if identity.Normalize(n.Name) == key {
			return n.ID, nil
		}
	}
	return nodes[0].ID, nil
}

package curation

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/matcher"
	"github.com/MrWong99/meetgraph/internal/persist"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// Speaker seeds one speaker record.
type Speaker struct {
	Label      string
	Utterances int
	Resolution identity.Resolution
}

// Input is everything a workspace is built from.
type Input struct {
	Meeting  persist.Meeting
	Speakers []Speaker
	Matches  []matcher.Match
}

// Workspace is the review state of one session. Each method applies one
// curator action atomically with respect to the record it touches. It is
// safe for concurrent use.
type Workspace struct {
	id    string
	input Input

	mu            sync.Mutex
	meeting       persist.Meeting
	facts         []*FactRecord
	speakers      []*SpeakerRecord
	relationships []persist.Relationship
}

// NewWorkspace builds a workspace with every record accepted, durable,
// shared and at the medium tier. Auto-linked entities carry their link and
// suggested ones their suggestion; automatic speaker resolutions are applied
// and suggested ones offered. A suggestion stays open until the curator
// settles it; an accepted record with an open suggestion commits as a new
// node.
func NewWorkspace(in Input) *Workspace {
	w := &Workspace{id: uuid.NewString(), input: in}
	w.reset()
	return w
}

// ID returns the workspace id.
func (w *Workspace) ID() string { return w.id }

func (w *Workspace) reset() {
	w.meeting = w.input.Meeting
	w.meeting.Topics = slices.Clone(w.input.Meeting.Topics)
	w.relationships = nil

	w.facts = make([]*FactRecord, 0, len(w.input.Matches))
	for _, m := range w.input.Matches {
		r := &FactRecord{
			ID:             RecordID(m.Fact.ID),
			Fact:           m.Fact,
			Validation:     Accepted,
			Classification: Durable,
			Visibility:     Shared,
			Tier:           TierMedium,
			OriginalValue:  m.OriginalValue,
		}
		switch m.Disposition {
		case matcher.DispositionAutoLink:
			r.Link = cloneLink(m.Link)
		case matcher.DispositionSuggest:
			r.Suggestion = cloneLink(m.Link)
		}
		w.facts = append(w.facts, r)
	}

	w.speakers = make([]*SpeakerRecord, 0, len(w.input.Speakers))
	for i, s := range w.input.Speakers {
		r := &SpeakerRecord{
			ID:         RecordID(fmt.Sprintf("speaker-%d", i+1)),
			Label:      s.Label,
			Utterances: s.Utterances,
			Validation: Accepted,
			Resolution: s.Resolution,
		}
		if top, ok := s.Resolution.Top(); ok {
			switch s.Resolution.Outcome {
			case identity.OutcomeAutomatic:
				r.Identity = &top
			case identity.OutcomeSuggest:
				r.Suggestion = &top
			}
		}
		w.speakers = append(w.speakers, r)
	}
}

// Reset discards every curator action.
func (w *Workspace) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// Meeting returns the meeting metadata.
func (w *Workspace) Meeting() persist.Meeting {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := w.meeting
	m.Topics = slices.Clone(m.Topics)
	return m
}

// Facts returns a snapshot of the fact records in extraction order.
func (w *Workspace) Facts() []FactRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FactRecord, len(w.facts))
	for i, r := range w.facts {
		out[i] = *r
	}
	return out
}

// Speakers returns a snapshot of the speaker records in tally order.
func (w *Workspace) Speakers() []SpeakerRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]SpeakerRecord, len(w.speakers))
	for i, r := range w.speakers {
		out[i] = *r
	}
	return out
}

// Fact returns one fact record.
func (w *Workspace) Fact(id RecordID) (FactRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, err := w.fact(id)
	if err != nil {
		return FactRecord{}, err
	}
	return *r, nil
}

// Speaker returns one speaker record.
func (w *Workspace) Speaker(id RecordID) (SpeakerRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, err := w.speaker(id)
	if err != nil {
		return SpeakerRecord{}, err
	}
	return *r, nil
}

// Relationships returns the edges added between facts.
func (w *Workspace) Relationships() []persist.Relationship {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.relationships)
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation state
// ─────────────────────────────────────────────────────────────────────────────

// Accept marks a record accepted.
func (w *Workspace) Accept(id RecordID) error {
	return w.setValidation(id, func(Validation) Validation { return Accepted })
}

// Reject marks a record rejected.
func (w *Workspace) Reject(id RecordID) error {
	return w.setValidation(id, func(Validation) Validation { return Rejected })
}

// Toggle flips a record between accepted and rejected. A pending record
// becomes accepted.
func (w *Workspace) Toggle(id RecordID) error {
	return w.setValidation(id, func(v Validation) Validation {
		if v == Accepted {
			return Rejected
		}
		return Accepted
	})
}

func (w *Workspace) setValidation(id RecordID, next func(Validation) Validation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, err := w.fact(id); err == nil {
		r.Validation = next(r.Validation)
		return nil
	}
	r, err := w.speaker(id)
	if err != nil {
		return err
	}
	r.Validation = next(r.Validation)
	return nil
}

// CanCommit reports whether at least one record is accepted.
func (w *Workspace) CanCommit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.facts {
		if r.Validation == Accepted {
			return true
		}
	}
	for _, r := range w.speakers {
		if r.Validation == Accepted {
			return true
		}
	}
	return false
}

// ─────────────────────────────────────────────────────────────────────────────
// Field edits. None of them changes the validation state.
// ─────────────────────────────────────────────────────────────────────────────

// SetMeeting replaces the meeting metadata.
func (w *Workspace) SetMeeting(m persist.Meeting) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m.Topics = slices.Clone(m.Topics)
	w.meeting = m
}

// SetValue replaces a fact's text value.
func (w *Workspace) SetValue(id RecordID, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidValue)
	}
	return w.editFact(id, func(r *FactRecord) error {
		r.Fact.Value = value
		return nil
	})
}

// SetDescription replaces a fact's description.
func (w *Workspace) SetDescription(id RecordID, desc string) error {
	return w.editFact(id, func(r *FactRecord) error {
		r.Fact.Desc = desc
		return nil
	})
}

// SetClassification marks a fact durable or transient.
func (w *Workspace) SetClassification(id RecordID, c Classification) error {
	if c != Durable && c != Transient {
		return fmt.Errorf("%w: classification %q", ErrInvalidValue, c)
	}
	return w.editFact(id, func(r *FactRecord) error {
		r.Classification = c
		return nil
	})
}

// SetVisibility marks a fact shared or private.
func (w *Workspace) SetVisibility(id RecordID, v Visibility) error {
	if v != Shared && v != Private {
		return fmt.Errorf("%w: visibility %q", ErrInvalidValue, v)
	}
	return w.editFact(id, func(r *FactRecord) error {
		r.Visibility = v
		return nil
	})
}

// SetTier sets a fact's memory tier.
func (w *Workspace) SetTier(id RecordID, t Tier) error {
	if !t.Valid() {
		return fmt.Errorf("%w: tier %q", ErrInvalidValue, t)
	}
	return w.editFact(id, func(r *FactRecord) error {
		r.Tier = t
		return nil
	})
}

// SetPerson sets the assignee of a task or the related person of a
// decision, risk or insight. Any text is accepted; staff names are only the
// suggested choices.
func (w *Workspace) SetPerson(id RecordID, person string) error {
	person = strings.TrimSpace(person)
	return w.editFact(id, func(r *FactRecord) error {
		switch r.Fact.Kind {
		case extraction.KindTask:
			r.Fact.Assignee = person
		case extraction.KindMentionedEntity:
			return fmt.Errorf("%w: mentioned entities have no related person", ErrNotApplicable)
		default:
			r.Fact.RelatedPerson = person
		}
		return nil
	})
}

// SetDeadline sets a task's due date.
func (w *Workspace) SetDeadline(id RecordID, due string) error {
	return w.editFact(id, func(r *FactRecord) error {
		if r.Fact.Kind != extraction.KindTask {
			return fmt.Errorf("%w: only tasks have a deadline", ErrNotApplicable)
		}
		r.Fact.DueDate = strings.TrimSpace(due)
		return nil
	})
}

// SetPriority sets a fact's priority.
func (w *Workspace) SetPriority(id RecordID, priority string) error {
	return w.editFact(id, func(r *FactRecord) error {
		if r.Fact.Kind == extraction.KindMentionedEntity {
			return fmt.Errorf("%w: mentioned entities have no priority", ErrNotApplicable)
		}
		r.Fact.Priority = strings.TrimSpace(priority)
		return nil
	})
}

// SetEntityKind reclassifies a mentioned entity. Reclassifying to an
// external person returns [ErrExternalContactRequired] and changes nothing.
func (w *Workspace) SetEntityKind(id RecordID, k extraction.EntityKind) error {
	if !k.Valid() {
		return fmt.Errorf("%w: entity kind %q", ErrInvalidValue, k)
	}
	if k == extraction.EntityExternalPerson {
		return ErrExternalContactRequired
	}
	return w.editEntity(id, func(r *FactRecord) error {
		r.Fact.EntityKind = k
		r.Contact = nil
		return nil
	})
}

// ConvertToExternalContact turns a mentioned entity into an external
// contact. An empty c.Name keeps the fact's value. Links to nodes that are
// not external contacts are dropped.
func (w *Workspace) ConvertToExternalContact(id RecordID, c Contact) error {
	return w.editEntity(id, func(r *FactRecord) error {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			c.Name = r.Fact.Value
		}
		r.Fact.EntityKind = extraction.EntityExternalPerson
		r.Contact = &c
		if r.Link != nil && r.Link.Kind != graph.KindExternalContact {
			r.unlink()
		}
		if r.Suggestion != nil && r.Suggestion.Kind != graph.KindExternalContact {
			r.Suggestion = nil
		}
		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Links and identities
// ─────────────────────────────────────────────────────────────────────────────

// AcceptSuggestion promotes a pending suggestion to a link, for an entity,
// or to the speaker's identity.
func (w *Workspace) AcceptSuggestion(id RecordID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, err := w.fact(id); err == nil {
		if r.Suggestion == nil {
			return ErrNoSuggestion
		}
		r.link(*r.Suggestion)
		return nil
	}
	r, err := w.speaker(id)
	if err != nil {
		return err
	}
	if r.Suggestion == nil {
		return ErrNoSuggestion
	}
	r.Identity, r.Suggestion = r.Suggestion, nil
	return nil
}

// RejectSuggestion clears a pending suggestion. The entity proceeds as a new
// node and the speaker as a new person.
func (w *Workspace) RejectSuggestion(id RecordID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r, err := w.fact(id); err == nil {
		if r.Suggestion == nil {
			return ErrNoSuggestion
		}
		r.Suggestion = nil
		return nil
	}
	r, err := w.speaker(id)
	if err != nil {
		return err
	}
	if r.Suggestion == nil {
		return ErrNoSuggestion
	}
	r.Suggestion = nil
	return nil
}

// LinkTo links a mentioned entity to a node the curator picked. Any pending
// suggestion is cleared.
func (w *Workspace) LinkTo(id RecordID, l matcher.Link) error {
	if l.NodeID == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidValue)
	}
	return w.editEntity(id, func(r *FactRecord) error {
		r.link(l)
		return nil
	})
}

// Unlink removes an entity's link and restores its extracted value.
func (w *Workspace) Unlink(id RecordID) error {
	return w.editEntity(id, func(r *FactRecord) error {
		r.unlink()
		return nil
	})
}

// SelectCandidate sets a speaker's identity to one of its resolution
// candidates. An empty candidateID makes the speaker a new person.
func (w *Workspace) SelectCandidate(id RecordID, candidateID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, err := w.speaker(id)
	if err != nil {
		return err
	}
	if candidateID == "" {
		r.Identity, r.Suggestion = nil, nil
		return nil
	}
	i := slices.IndexFunc(r.Resolution.Candidates, func(c identity.Candidate) bool { return c.ID == candidateID })
	if i < 0 {
		return fmt.Errorf("%w: %q is not a candidate for %q", ErrInvalidValue, candidateID, r.Label)
	}
	c := r.Resolution.Candidates[i]
	r.Identity, r.Suggestion = &c, nil
	return nil
}

// Relate adds an edge between two facts of the workspace.
func (w *Workspace) Relate(from, to extraction.FactID, t graph.EdgeType) error {
	if !graph.ValidEdgeType(t) {
		return fmt.Errorf("%w: edge type %q", ErrInvalidValue, t)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range []extraction.FactID{from, to} {
		if _, err := w.fact(RecordID(id)); err != nil {
			return err
		}
	}
	w.relationships = append(w.relationships, persist.Relationship{From: from, To: to, Type: t})
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Batch
// ─────────────────────────────────────────────────────────────────────────────

// Batch returns the commit input: accepted speakers, accepted durable facts,
// accepted transient facts for reporting, and the relationships whose both
// ends are written.
func (w *Workspace) Batch() persist.Batch {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := persist.Batch{Meeting: w.meeting}
	b.Meeting.Topics = slices.Clone(w.meeting.Topics)

	for _, s := range w.speakers {
		if s.Validation != Accepted {
			continue
		}
		p := persist.Participant{
			Label:           s.Label,
			Name:            s.Name(),
			SourceReference: s.Label,
			Utterances:      s.Utterances,
		}
		if s.Identity != nil {
			p.RosterID = s.Identity.ID
			p.NodeID = s.Identity.NodeID
			p.External = s.Identity.Source == identity.SourceExternal
			p.Confidence = s.Identity.Confidence
		}
		b.Participants = append(b.Participants, p)
	}

	written := make(map[extraction.FactID]bool)
	for _, r := range w.facts {
		if r.Validation != Accepted {
			continue
		}
		if r.Classification == Transient {
			b.Transient = append(b.Transient, r.Fact)
			continue
		}
		f := persist.Fact{Fact: r.Fact, Visibility: string(r.Visibility), Tier: string(r.Tier)}
		if r.Link != nil {
			f.LinkedNodeID = r.Link.NodeID
		}
		if r.Contact != nil {
			f.Contact = &persist.Contact{Name: r.Contact.Name, Organization: r.Contact.Organization, PartnershipTier: r.Contact.PartnershipTier}
		}
		b.Facts = append(b.Facts, f)
		written[r.Fact.ID] = true
	}
	for _, rel := range w.relationships {
		if written[rel.From] && written[rel.To] {
			b.Relationships = append(b.Relationships, rel)
		}
	}
	return b
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (w *Workspace) fact(id RecordID) (*FactRecord, error) {
	for _, r := range w.facts {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

func (w *Workspace) speaker(id RecordID) (*SpeakerRecord, error) {
	for _, r := range w.speakers {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
}

func (w *Workspace) editFact(id RecordID, fn func(*FactRecord) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, err := w.fact(id)
	if err != nil {
		return err
	}
	return fn(r)
}

func (w *Workspace) editEntity(id RecordID, fn func(*FactRecord) error) error {
	return w.editFact(id, func(r *FactRecord) error {
		if r.Fact.Kind != extraction.KindMentionedEntity {
			return fmt.Errorf("%w: %s is a %s", ErrNotApplicable, id, r.Fact.Kind)
		}
		return fn(r)
	})
}

// link attaches l and rewrites the value to the node name.
func (r *FactRecord) link(l matcher.Link) {
	if r.OriginalValue == "" {
		r.OriginalValue = r.Fact.Value
	}
	if l.Name != "" {
		r.Fact.Value = l.Name
	}
	r.Link = &l
	r.Suggestion = nil
}

func (r *FactRecord) unlink() {
	if r.OriginalValue != "" {
		r.Fact.Value = r.OriginalValue
		r.OriginalValue = ""
	}
	r.Link = nil
}

func cloneLink(l *matcher.Link) *matcher.Link {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

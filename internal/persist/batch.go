// Package persist writes a curated batch to the knowledge graph in one
// transaction.
//
// A commit is an ordered list of named write steps executed inside a single
// [graph.Store.WithTx] call. The first failing step aborts the transaction,
// nothing of the earlier steps survives, and the caller receives a
// [*StepError] naming the step.
package persist

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// ErrNothingToCommit is returned for a batch with no participant and no
// durable fact.
var ErrNothingToCommit = errors.New("persist: nothing to commit")

// ValidationError names the batch field that failed validation.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Meeting is the metadata of the MeetingRecord node.
type Meeting struct {
	Title string
	Date  time.Time
	// Time is the local start time as given, e.g. "14:30".
	Time  string

	Organizer            string
	MeetingType          string
	ConfidentialityLevel string
	Recurrence           string

	// ProjectID links the meeting to an existing Project node. When empty and
	// ProjectName is set, the project is merged by name.
	ProjectID   graph.NodeID
	ProjectName string

	SourceFile      string
	Summary         string
	Topics          []string
	DurationSeconds float64
}

// Participant is one accepted speaker identity.
type Participant struct {
	// Label is the speaker label as it appeared in the transcript.
	Label string
	// Name is the display name written to a newly created node.
	Name string

	// NodeID reuses an existing node. Otherwise RosterID merges on the
	// roster entry, and with neither a person is merged by name.
	NodeID   graph.NodeID
	RosterID string
	// External selects the ExternalContact label instead of Person.
	External bool

	Confidence      float64
	SourceReference string
	Utterances      int
}

// Contact holds the fields of an external contact created from a mentioned
// person.
type Contact struct {
	Name            string
	Organization    string
	PartnershipTier string
}

// Fact is one accepted durable fact.
type Fact struct {
	extraction.Fact

	Visibility string
	Tier       string

	// LinkedNodeID is the existing node a mentioned entity resolves to.
	// Linked entities get a MENTIONS edge and no new node.
	LinkedNodeID graph.NodeID

	// Contact is set for mentioned entities converted to an external
	// contact.
	Contact *Contact
}

// Relationship is an edge between two facts of the batch, addressed by
// provisional id.
type Relationship struct {
	From extraction.FactID
	To   extraction.FactID
	Type graph.EdgeType
}

// Batch is everything one commit writes.
type Batch struct {
	Meeting       Meeting
	Participants  []Participant
	Facts         []Fact
	Relationships []Relationship

	// Transient facts are reported in the receipt and logged, never written.
	Transient []extraction.Fact
}

// Validate returns every field-level problem joined together, or
// [ErrNothingToCommit] for an empty batch.
func (b Batch) Validate() error {
	var errs []error
	if strings.TrimSpace(b.Meeting.Title) == "" {
		errs = append(errs, &ValidationError{Field: "meeting.title", Msg: "is required"})
	}
	ids := make(map[extraction.FactID]bool, len(b.Facts))
	for i, f := range b.Facts {
		field := fmt.Sprintf("facts[%d]", i)
		switch {
		case f.ID == "":
			errs = append(errs, &ValidationError{Field: field + ".id", Msg: "is required"})
		case ids[f.ID]:
			errs = append(errs, &ValidationError{Field: field + ".id", Msg: fmt.Sprintf("duplicate id %q", f.ID)})
		}
		ids[f.ID] = true
		if !f.Kind.Valid() {
			errs = append(errs, &ValidationError{Field: field + ".type", Msg: fmt.Sprintf("unknown kind %q", f.Kind)})
		}
		if strings.TrimSpace(f.Value) == "" {
			errs = append(errs, &ValidationError{Field: field + ".value", Msg: "is required"})
		}
	}
	for i, p := range b.Participants {
		if strings.TrimSpace(p.Name) == "" && p.NodeID == "" {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("participants[%d].name", i), Msg: "is required"})
		}
	}
	for i, r := range b.Relationships {
		field := fmt.Sprintf("relationships[%d]", i)
		if !graph.ValidEdgeType(r.Type) {
			errs = append(errs, &ValidationError{Field: field + ".type", Msg: fmt.Sprintf("invalid edge type %q", r.Type)})
		}
		if r.From == "" || r.To == "" {
			errs = append(errs, &ValidationError{Field: field, Msg: "from and to are required"})
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if len(b.Participants) == 0 && len(b.Facts) == 0 {
		return ErrNothingToCommit
	}
	return nil
}

// Receipt summarises a successful commit.
type Receipt struct {
	MeetingID graph.NodeID

	ParticipantsLinked int
	FactsCreated       int
	EntitiesCreated    int
	EntitiesLinked     int
	EdgesCreated       int

	// Transient counts facts reported but not written.
	Transient int
}

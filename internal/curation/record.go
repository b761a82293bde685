// Package curation holds the in-memory review state of one ingestion
// session.
//
// A [Workspace] keeps one record per candidate fact and per speaker. Every
// record starts accepted; the curator rejects what is wrong, edits what is
// imprecise and settles link suggestions. Nothing here touches the graph:
// [Workspace.Batch] turns the accepted records into a [persist.Batch] for
// the writer, and discarding a workspace has no side effects.
package curation

import (
	"errors"

	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/matcher"
)

var (
	// ErrRecordNotFound is returned for an id no record carries.
	ErrRecordNotFound = errors.New("curation: record not found")

	// ErrNoSuggestion is returned when accepting or rejecting a suggestion on
	// a record that has none.
	ErrNoSuggestion = errors.New("curation: record has no pending suggestion")

	// ErrExternalContactRequired is returned when a mentioned entity is
	// reclassified as an external person without contact details. Use
	// [Workspace.ConvertToExternalContact] instead.
	ErrExternalContactRequired = errors.New("curation: external person requires the external contact flow")

	// ErrNotApplicable is returned for an edit the record kind does not
	// support.
	ErrNotApplicable = errors.New("curation: edit not applicable to record")

	// ErrInvalidValue is returned for an edit value outside its domain.
	ErrInvalidValue = errors.New("curation: invalid value")
)

// Validation is the review state of a record.
type Validation int

const (
	Pending Validation = iota
	Accepted
	Rejected
)

// String returns the lowercase state name.
func (v Validation) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// Classification decides whether a fact is written to the graph.
type Classification string

const (
	Durable   Classification = "durable"
	Transient Classification = "transient"
)

// Visibility controls who may read a persisted fact.
type Visibility string

const (
	Shared  Visibility = "shared"
	Private Visibility = "private"
)

// Tier is the memory tier of a persisted fact.
type Tier string

const (
	TierShort  Tier = "short"
	TierMedium Tier = "medium"
	TierLong   Tier = "long"
)

// Valid reports whether t is one of the defined tiers.
func (t Tier) Valid() bool {
	return t == TierShort || t == TierMedium || t == TierLong
}

// RecordID addresses a record. Fact records use the fact's provisional id;
// speaker records use "speaker-N" in tally order.
type RecordID string

// FactRecord is the review state of one extracted fact.
type FactRecord struct {
	ID         RecordID
	Fact       extraction.Fact
	Validation Validation

	Classification Classification
	Visibility     Visibility
	Tier           Tier

	// Link is the existing node a mentioned entity resolves to.
	Link *matcher.Link
	// Suggestion is a proposed link awaiting the curator.
	Suggestion *matcher.Link
	// OriginalValue is the extracted value before a link rewrote it.
	OriginalValue string

	// Contact is set once the entity went through the external contact flow.
	Contact *Contact
}

// Contact holds the details entered for an external contact.
type Contact struct {
	Name            string
	Organization    string
	PartnershipTier string
}

// SpeakerRecord is the review state of one transcript speaker.
type SpeakerRecord struct {
	ID         RecordID
	Label      string
	Utterances int
	Validation Validation

	// Resolution is the identity resolver's view of the label.
	Resolution identity.Resolution
	// Identity is the candidate the speaker is linked to; nil creates a new
	// person named after the label.
	Identity *identity.Candidate
	// Suggestion is the top candidate of a resolution needing review.
	Suggestion *identity.Candidate
}

// Name returns the display name the speaker will be written with.
func (s *SpeakerRecord) Name() string {
	if s.Identity != nil {
		return s.Identity.Name
	}
	return s.Label
}

package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/meetgraph/internal/curation"
	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/matcher"
	"github.com/MrWong99/meetgraph/internal/persist"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// ─────────────────────────────────────────────────────────────────────────────
// Requests
// ─────────────────────────────────────────────────────────────────────────────

type meetingDTO struct {
	Title                string   `json:"title"`
	Date                 string   `json:"date,omitempty"`
	Time                 string   `json:"time,omitempty"`
	Organizer            string   `json:"organizer,omitempty"`
	MeetingType          string   `json:"meetingType,omitempty"`
	ConfidentialityLevel string   `json:"confidentialityLevel,omitempty"`
	Recurrence           string   `json:"recurrence,omitempty"`
	ProjectID            string   `json:"projectId,omitempty"`
	ProjectName          string   `json:"projectName,omitempty"`
	SourceFile           string   `json:"sourceFile,omitempty"`
	Summary              string   `json:"summary,omitempty"`
	Topics               []string `json:"topics,omitempty"`
	DurationSeconds      float64  `json:"durationSeconds,omitempty"`
}

type createSessionRequest struct {
	Transcript string     `json:"transcript"`
	Meeting    meetingDTO `json:"meeting"`
}

type contactDTO struct {
	Name            string `json:"name"`
	Organization    string `json:"organization,omitempty"`
	PartnershipTier string `json:"partnershipTier,omitempty"`
}

type factDTO struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Value           string  `json:"value"`
	Description     string  `json:"description,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	SourceReference string  `json:"sourceReference,omitempty"`
	Assignee        string  `json:"assignee,omitempty"`
	DueDate         string  `json:"dueDate,omitempty"`
	Priority        string  `json:"priority,omitempty"`
	RelatedPerson   string  `json:"relatedPerson,omitempty"`
	Impact          string  `json:"impact,omitempty"`
	EntityKind      string  `json:"entityKind,omitempty"`

	// Commit-only fields.
	Visibility   string      `json:"visibility,omitempty"`
	Tier         string      `json:"tier,omitempty"`
	LinkedNodeID string      `json:"linkedNodeId,omitempty"`
	Contact      *contactDTO `json:"contact,omitempty"`
}

type participantDTO struct {
	Label           string  `json:"label,omitempty"`
	Name            string  `json:"name"`
	NodeID          string  `json:"nodeId,omitempty"`
	RosterID        string  `json:"rosterId,omitempty"`
	External        bool    `json:"external,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	SourceReference string  `json:"sourceReference,omitempty"`
	Utterances      int     `json:"utterances,omitempty"`
}

type relationshipDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// commitRequest is the stateless ingestion commit. MeetingMetadata is accepted
// as an alias of Meeting.
type commitRequest struct {
	Meeting         *meetingDTO       `json:"meeting,omitempty"`
	MeetingMetadata *meetingDTO       `json:"meetingMetadata,omitempty"`
	Facts           []factDTO         `json:"facts"`
	Participants    []participantDTO  `json:"participants,omitempty"`
	Relationships   []relationshipDTO `json:"relationships,omitempty"`
	TransientFacts  []factDTO         `json:"transientFacts,omitempty"`
}

// actionRequest is one curator action. Which fields are read depends on
// Action.
type actionRequest struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`

	Value       string `json:"value,omitempty"`
	NodeID      string `json:"nodeId,omitempty"`
	CandidateID string `json:"candidateId,omitempty"`

	Contact *contactDTO `json:"contact,omitempty"`
	Meeting *meetingDTO `json:"meeting,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Type string `json:"type,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Responses
// ─────────────────────────────────────────────────────────────────────────────

type linkDTO struct {
	NodeID string  `json:"nodeId"`
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	Score  float64 `json:"score"`
}

type factView struct {
	ID             string      `json:"id"`
	Fact           factDTO     `json:"fact"`
	Validation     string      `json:"validation"`
	Classification string      `json:"classification"`
	Visibility     string      `json:"visibility"`
	Tier           string      `json:"tier"`
	Link           *linkDTO    `json:"link,omitempty"`
	Suggestion     *linkDTO    `json:"suggestion,omitempty"`
	OriginalValue  string      `json:"originalValue,omitempty"`
	Contact        *contactDTO `json:"contact,omitempty"`
}

type candidateDTO struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Rationale  string  `json:"rationale,omitempty"`
	NodeID     string  `json:"nodeId,omitempty"`
}

type speakerView struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Name       string         `json:"name"`
	Utterances int            `json:"utterances"`
	Validation string         `json:"validation"`
	Outcome    string         `json:"outcome"`
	Candidates []candidateDTO `json:"candidates,omitempty"`
	Identity   *candidateDTO  `json:"identity,omitempty"`
	Suggestion *candidateDTO  `json:"suggestion,omitempty"`
}

type sessionView struct {
	ID               string            `json:"id"`
	Meeting          meetingDTO        `json:"meeting"`
	Speakers         []speakerView     `json:"speakers"`
	Facts            []factView        `json:"facts"`
	Relationships    []relationshipDTO `json:"relationships,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	CanCommit        bool              `json:"canCommit"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
}

type receiptDTO struct {
	MeetingID          string `json:"meetingId"`
	ParticipantsLinked int    `json:"participantsLinked"`
	FactsCreated       int    `json:"factsCreated"`
	EntitiesCreated    int    `json:"entitiesCreated"`
	EntitiesLinked     int    `json:"entitiesLinked"`
	EdgesCreated       int    `json:"edgesCreated"`
	TransientFacts     int    `json:"transientFacts"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Step   string       `json:"step,omitempty"`
	Fields []fieldError `json:"fields,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversions
// ─────────────────────────────────────────────────────────────────────────────

var dateLayouts = []string{time.RFC3339, time.DateOnly}

func (m meetingDTO) toMeeting() (persist.Meeting, error) {
	out := persist.Meeting{
		Title:                strings.TrimSpace(m.Title),
		Time:                 strings.TrimSpace(m.Time),
		Organizer:            strings.TrimSpace(m.Organizer),
		MeetingType:          strings.TrimSpace(m.MeetingType),
		ConfidentialityLevel: strings.TrimSpace(m.ConfidentialityLevel),
		Recurrence:           strings.TrimSpace(m.Recurrence),
		ProjectID:            graph.NodeID(m.ProjectID),
		ProjectName:          strings.TrimSpace(m.ProjectName),
		SourceFile:           m.SourceFile,
		Summary:              m.Summary,
		Topics:               m.Topics,
		DurationSeconds:      m.DurationSeconds,
	}
	if m.Date == "" {
		return out, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, m.Date); err == nil {
			out.Date = t
			return out, nil
		}
	}
	return out, &persist.ValidationError{Field: "meeting.date", Msg: fmt.Sprintf("%q is not a date", m.Date)}
}

func meetingFrom(m persist.Meeting) meetingDTO {
	out := meetingDTO{
		Title:                m.Title,
		Time:                 m.Time,
		Organizer:            m.Organizer,
		MeetingType:          m.MeetingType,
		ConfidentialityLevel: m.ConfidentialityLevel,
		Recurrence:           m.Recurrence,
		ProjectID:            string(m.ProjectID),
		ProjectName:          m.ProjectName,
		SourceFile:           m.SourceFile,
		Summary:              m.Summary,
		Topics:               m.Topics,
		DurationSeconds:      m.DurationSeconds,
	}
	if !m.Date.IsZero() {
		out.Date = m.Date.Format(time.RFC3339)
	}
	return out
}

func (f factDTO) toFact() extraction.Fact {
	out := extraction.Fact{
		ID:              extraction.FactID(f.ID),
		Kind:            extraction.Kind(f.Type),
		Value:           strings.TrimSpace(f.Value),
		Desc:            f.Description,
		Confidence:      f.Confidence,
		SourceReference: f.SourceReference,
		Assignee:        f.Assignee,
		DueDate:         f.DueDate,
		Priority:        f.Priority,
		RelatedPerson:   f.RelatedPerson,
		Impact:          f.Impact,
	}
	if out.Kind == extraction.KindMentionedEntity {
		out.EntityKind = extraction.ParseEntityKind(f.EntityKind)
	}
	return out
}

func factFrom(f extraction.Fact) factDTO {
	return factDTO{
		ID:              string(f.ID),
		Type:            string(f.Kind),
		Value:           f.Value,
		Description:     f.Desc,
		Confidence:      f.Confidence,
		SourceReference: f.SourceReference,
		Assignee:        f.Assignee,
		DueDate:         f.DueDate,
		Priority:        f.Priority,
		RelatedPerson:   f.RelatedPerson,
		Impact:          f.Impact,
		EntityKind:      string(f.EntityKind),
	}
}

// toBatch converts a stateless commit request.
func (r commitRequest) toBatch() (persist.Batch, error) {
	var errs []error
	md := r.Meeting
	if md == nil {
		md = r.MeetingMetadata
	}
	if md == nil {
		md = &meetingDTO{}
	}
	meeting, err := md.toMeeting()
	if err != nil {
		errs = append(errs, err)
	}
	b := persist.Batch{Meeting: meeting}

	for i, f := range r.Facts {
		if f.Tier != "" && !curation.Tier(f.Tier).Valid() {
			errs = append(errs, &persist.ValidationError{
				Field: fmt.Sprintf("facts[%d].tier", i),
				Msg:   fmt.Sprintf("unknown memory tier %q", f.Tier),
			})
		}
		pf := persist.Fact{
			Fact:         f.toFact(),
			Visibility:   f.Visibility,
			Tier:         f.Tier,
			LinkedNodeID: graph.NodeID(f.LinkedNodeID),
		}
		if c := f.Contact; c != nil {
			pf.Contact = &persist.Contact{Name: c.Name, Organization: c.Organization, PartnershipTier: c.PartnershipTier}
			pf.EntityKind = extraction.EntityExternalPerson
		}
		b.Facts = append(b.Facts, pf)
	}
	for _, p := range r.Participants {
		b.Participants = append(b.Participants, persist.Participant{
			Label:           p.Label,
			Name:            strings.TrimSpace(p.Name),
			NodeID:          graph.NodeID(p.NodeID),
			RosterID:        p.RosterID,
			External:        p.External,
			Confidence:      p.Confidence,
			SourceReference: p.SourceReference,
			Utterances:      p.Utterances,
		})
	}
	for _, rel := range r.Relationships {
		b.Relationships = append(b.Relationships, persist.Relationship{
			From: extraction.FactID(rel.From),
			To:   extraction.FactID(rel.To),
			Type: graph.EdgeType(rel.Type),
		})
	}
	for _, f := range r.TransientFacts {
		b.Transient = append(b.Transient, f.toFact())
	}
	return b, errors.Join(errs...)
}

func receiptFrom(r *persist.Receipt) receiptDTO {
	return receiptDTO{
		MeetingID:          string(r.MeetingID),
		ParticipantsLinked: r.ParticipantsLinked,
		FactsCreated:       r.FactsCreated,
		EntitiesCreated:    r.EntitiesCreated,
		EntitiesLinked:     r.EntitiesLinked,
		EdgesCreated:       r.EdgesCreated,
		TransientFacts:     r.Transient,
	}
}

func linkFrom(l *matcher.Link) *linkDTO {
	if l == nil {
		return nil
	}
	return &linkDTO{NodeID: string(l.NodeID), Name: l.Name, Kind: string(l.Kind), Score: l.Score}
}

func candidateFrom(c identity.Candidate) candidateDTO {
	return candidateDTO{
		ID:         c.ID,
		Name:       c.Name,
		Confidence: c.Confidence,
		Source:     string(c.Source),
		Rationale:  c.Rationale,
		NodeID:     string(c.NodeID),
	}
}

func optionalCandidate(c *identity.Candidate) *candidateDTO {
	if c == nil {
		return nil
	}
	d := candidateFrom(*c)
	return &d
}

func viewOf(s *Session) sessionView {
	a := s.Analysis
	ws := a.Workspace
	v := sessionView{
		ID:               ws.ID(),
		Meeting:          meetingFrom(ws.Meeting()),
		Speakers:         []speakerView{},
		Facts:            []factView{},
		Warnings:         a.Warnings,
		CanCommit:        ws.CanCommit(),
		ProcessingTimeMs: a.Extraction.ProcessingTimeMs,
	}
	for _, sp := range ws.Speakers() {
		v.Speakers = append(v.Speakers, speakerViewOf(sp))
	}
	for _, r := range ws.Facts() {
		v.Facts = append(v.Facts, factViewOf(r))
	}
	for _, rel := range ws.Relationships() {
		v.Relationships = append(v.Relationships, relationshipDTO{From: string(rel.From), To: string(rel.To), Type: string(rel.Type)})
	}
	return v
}

func speakerViewOf(sp curation.SpeakerRecord) speakerView {
	sv := speakerView{
		ID:         string(sp.ID),
		Label:      sp.Label,
		Name:       sp.Name(),
		Utterances: sp.Utterances,
		Validation: sp.Validation.String(),
		Outcome:    sp.Resolution.Outcome.String(),
		Identity:   optionalCandidate(sp.Identity),
		Suggestion: optionalCandidate(sp.Suggestion),
	}
	for _, c := range sp.Resolution.Candidates {
		sv.Candidates = append(sv.Candidates, candidateFrom(c))
	}
	return sv
}

func factViewOf(r curation.FactRecord) factView {
	fv := factView{
		ID:             string(r.ID),
		Fact:           factFrom(r.Fact),
		Validation:     r.Validation.String(),
		Classification: string(r.Classification),
		Visibility:     string(r.Visibility),
		Tier:           string(r.Tier),
		Link:           linkFrom(r.Link),
		Suggestion:     linkFrom(r.Suggestion),
		OriginalValue:  r.OriginalValue,
	}
	if c := r.Contact; c != nil {
		fv.Contact = &contactDTO{Name: c.Name, Organization: c.Organization, PartnershipTier: c.PartnershipTier}
	}
	return fv
}

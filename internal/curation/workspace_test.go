package curation_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/meetgraph/internal/curation"
	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/internal/matcher"
	"github.com/MrWong99/meetgraph/internal/persist"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

func sampleInput() curation.Input {
	carlos := identity.Candidate{ID: "carlos", Name: "Carlos Silva", Confidence: 1, Source: identity.SourceInternal}
	maria := identity.Candidate{ID: "maria", Name: "Maria Santos", Confidence: 0.7, Source: identity.SourceInternal}
	mario := identity.Candidate{ID: "mario", Name: "Mario Santos", Confidence: 0.6, Source: identity.SourceInternal}
	return curation.Input{
		Meeting: persist.Meeting{Title: "Kickoff", Topics: []string{"cronograma"}},
		Speakers: []curation.Speaker{
			{Label: "Carlos Silva", Utterances: 3, Resolution: identity.Resolution{Query: "Carlos Silva", Candidates: []identity.Candidate{carlos}, Outcome: identity.OutcomeAutomatic}},
			{Label: "Santos", Utterances: 2, Resolution: identity.Resolution{Query: "Santos", Candidates: []identity.Candidate{maria, mario}, Outcome: identity.OutcomeSuggest}},
			{Label: "Visitante", Utterances: 1},
		},
		Matches: []matcher.Match{
			{Fact: extraction.Fact{ID: "fact-1", Kind: extraction.KindTask, Value: "Revisar cronograma"}},
			{Fact: extraction.Fact{ID: "fact-2", Kind: extraction.KindDecision, Value: "Adiar lançamento"}},
			{
				Fact:          extraction.Fact{ID: "fact-3", Kind: extraction.KindMentionedEntity, Value: "Acme Corp", EntityKind: extraction.EntityClient},
				Disposition:   matcher.DispositionAutoLink,
				Link:          &matcher.Link{NodeID: "n-acme", Name: "Acme Corp", Kind: graph.KindClient, Score: 0.97},
				OriginalValue: "ACME",
			},
			{
				Fact:        extraction.Fact{ID: "fact-4", Kind: extraction.KindMentionedEntity, Value: "Jira", EntityKind: extraction.EntityTool},
				Disposition: matcher.DispositionSuggest,
				Link:        &matcher.Link{NodeID: "n-jira", Name: "Jira Software", Kind: graph.KindTool, Score: 0.86},
			},
		},
	}
}

func TestNewWorkspace_Defaults(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	if w.ID() == "" {
		t.Error("workspace id empty")
	}
	for _, r := range w.Facts() {
		if r.Validation != curation.Accepted {
			t.Errorf("%s validation = %s, want accepted", r.ID, r.Validation)
		}
		if r.Classification != curation.Durable || r.Visibility != curation.Shared || r.Tier != curation.TierMedium {
			t.Errorf("%s defaults = %s/%s/%s", r.ID, r.Classification, r.Visibility, r.Tier)
		}
	}

	acme, _ := w.Fact("fact-3")
	if acme.Link == nil || acme.Link.NodeID != "n-acme" || acme.Suggestion != nil || acme.OriginalValue != "ACME" {
		t.Errorf("auto-linked record = %+v", acme)
	}
	jira, _ := w.Fact("fact-4")
	if jira.Link != nil || jira.Suggestion == nil || jira.Fact.Value != "Jira" {
		t.Errorf("suggested record = %+v", jira)
	}

	speakers := w.Speakers()
	if len(speakers) != 3 || speakers[0].ID != "speaker-1" {
		t.Fatalf("speakers = %+v", speakers)
	}
	if speakers[0].Identity == nil || speakers[0].Name() != "Carlos Silva" {
		t.Errorf("automatic resolution not applied: %+v", speakers[0])
	}
	if speakers[1].Identity != nil || speakers[1].Suggestion == nil || speakers[1].Suggestion.ID != "maria" {
		t.Errorf("suggested resolution = %+v", speakers[1])
	}
	if speakers[2].Name() != "Visitante" || speakers[2].Validation != curation.Accepted {
		t.Errorf("unresolved speaker = %+v", speakers[2])
	}
	if !w.CanCommit() {
		t.Error("fresh workspace cannot commit")
	}
}

func TestWorkspace_ValidationTransitions(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	steps := []struct {
		op   func(curation.RecordID) error
		want curation.Validation
	}{
		{w.Reject, curation.Rejected},
		{w.Toggle, curation.Accepted},
		{w.Toggle, curation.Rejected},
		{w.Accept, curation.Accepted},
	}
	for i, s := range steps {
		if err := s.op("fact-1"); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if r, _ := w.Fact("fact-1"); r.Validation != s.want {
			t.Fatalf("step %d: validation = %s, want %s", i, r.Validation, s.want)
		}
	}

	if err := w.Reject("speaker-2"); err != nil {
		t.Fatal(err)
	}
	if s, _ := w.Speaker("speaker-2"); s.Validation != curation.Rejected {
		t.Errorf("speaker validation = %s", s.Validation)
	}

	if err := w.Accept("nope"); !errors.Is(err, curation.ErrRecordNotFound) {
		t.Errorf("unknown record err = %v", err)
	}
}

func TestWorkspace_CanCommit(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	for _, id := range []curation.RecordID{"fact-1", "fact-2", "fact-3", "fact-4", "speaker-1", "speaker-2"} {
		if err := w.Reject(id); err != nil {
			t.Fatal(err)
		}
	}
	if !w.CanCommit() {
		t.Fatal("one accepted speaker remains, commit should be enabled")
	}
	if err := w.Reject("speaker-3"); err != nil {
		t.Fatal(err)
	}
	if w.CanCommit() {
		t.Error("commit enabled with every record rejected")
	}
	if err := w.Toggle("fact-2"); err != nil {
		t.Fatal(err)
	}
	if !w.CanCommit() {
		t.Error("commit disabled after re-accepting a fact")
	}
}

func TestWorkspace_EditsKeepValidation(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	if err := w.Reject("fact-1"); err != nil {
		t.Fatal(err)
	}
	edits := []func() error{
		func() error { return w.SetValue("fact-1", "Revisar cronograma final") },
		func() error { return w.SetDescription("fact-1", "até sexta") },
		func() error { return w.SetClassification("fact-1", curation.Transient) },
		func() error { return w.SetVisibility("fact-1", curation.Private) },
		func() error { return w.SetTier("fact-1", curation.TierLong) },
		func() error { return w.SetPerson("fact-1", "Carlos Silva") },
		func() error { return w.SetDeadline("fact-1", "2026-11-01") },
		func() error { return w.SetPriority("fact-1", "high") },
	}
	for i, e := range edits {
		if err := e(); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}
	r, _ := w.Fact("fact-1")
	if r.Validation != curation.Rejected {
		t.Errorf("edits changed validation to %s", r.Validation)
	}
	f := r.Fact
	if f.Value != "Revisar cronograma final" || f.Desc != "até sexta" || f.Assignee != "Carlos Silva" || f.DueDate != "2026-11-01" || f.Priority != "high" {
		t.Errorf("fact = %+v", f)
	}
	if r.Classification != curation.Transient || r.Visibility != curation.Private || r.Tier != curation.TierLong {
		t.Errorf("record = %+v", r)
	}

	if err := w.SetPerson("fact-2", "Maria Santos"); err != nil {
		t.Fatal(err)
	}
	if d, _ := w.Fact("fact-2"); d.Fact.RelatedPerson != "Maria Santos" {
		t.Errorf("decision related person = %q", d.Fact.RelatedPerson)
	}
}

func TestWorkspace_EditErrors(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"empty value", w.SetValue("fact-1", "  "), curation.ErrInvalidValue},
		{"bad classification", w.SetClassification("fact-1", "forever"), curation.ErrInvalidValue},
		{"bad visibility", w.SetVisibility("fact-1", "public"), curation.ErrInvalidValue},
		{"bad tier", w.SetTier("fact-1", "urgent"), curation.ErrInvalidValue},
		{"deadline on decision", w.SetDeadline("fact-2", "amanhã"), curation.ErrNotApplicable},
		{"person on entity", w.SetPerson("fact-3", "x"), curation.ErrNotApplicable},
		{"entity kind on task", w.SetEntityKind("fact-1", extraction.EntityTool), curation.ErrNotApplicable},
		{"unknown entity kind", w.SetEntityKind("fact-3", "planet"), curation.ErrInvalidValue},
		{"edit speaker as fact", w.SetValue("speaker-1", "x"), curation.ErrRecordNotFound},
	}
	for _, tc := range tests {
		if !errors.Is(tc.err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, tc.err, tc.want)
		}
	}
}

func TestWorkspace_SetTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier    curation.Tier
		wantErr bool
	}{
		{tier: "short"},
		{tier: "medium"},
		{tier: "long"},
		{tier: "high", wantErr: true},
		{tier: "low", wantErr: true},
		{tier: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			t.Parallel()
			w := curation.NewWorkspace(sampleInput())
			err := w.SetTier("fact-1", tt.tier)
			if tt.wantErr {
				if !errors.Is(err, curation.ErrInvalidValue) {
					t.Fatalf("SetTier(%q) err = %v, want ErrInvalidValue", tt.tier, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetTier(%q): %v", tt.tier, err)
			}
			r, _ := w.Fact("fact-1")
			if r.Tier != tt.tier {
				t.Errorf("tier = %q, want %q", r.Tier, tt.tier)
			}
		})
	}
}

func TestWorkspace_ExternalPersonFlow(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	if err := w.SetEntityKind("fact-3", extraction.EntityExternalPerson); !errors.Is(err, curation.ErrExternalContactRequired) {
		t.Fatalf("err = %v, want ErrExternalContactRequired", err)
	}
	if r, _ := w.Fact("fact-3"); r.Fact.EntityKind != extraction.EntityClient {
		t.Fatalf("kind silently changed to %q", r.Fact.EntityKind)
	}

	if err := w.ConvertToExternalContact("fact-3", curation.Contact{Organization: "ACME", PartnershipTier: "gold"}); err != nil {
		t.Fatal(err)
	}
	r, _ := w.Fact("fact-3")
	if r.Fact.EntityKind != extraction.EntityExternalPerson || r.Contact == nil {
		t.Fatalf("record = %+v", r)
	}
	if r.Link != nil {
		t.Error("link to a client node kept on an external contact")
	}
	if r.Fact.Value != "ACME" || r.Contact.Name != "Acme Corp" {
		t.Errorf("value = %q, contact = %+v", r.Fact.Value, r.Contact)
	}

	if err := w.SetEntityKind("fact-3", extraction.EntityOrganization); err != nil {
		t.Fatal(err)
	}
	if r, _ := w.Fact("fact-3"); r.Contact != nil {
		t.Error("contact details kept after reclassification")
	}
}

func TestWorkspace_Suggestions(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())

	if err := w.AcceptSuggestion("fact-4"); err != nil {
		t.Fatal(err)
	}
	r, _ := w.Fact("fact-4")
	if r.Link == nil || r.Link.NodeID != "n-jira" || r.Suggestion != nil {
		t.Errorf("accepted suggestion = %+v", r)
	}
	if r.Fact.Value != "Jira Software" || r.OriginalValue != "Jira" {
		t.Errorf("value = %q, original = %q", r.Fact.Value, r.OriginalValue)
	}
	if err := w.AcceptSuggestion("fact-4"); !errors.Is(err, curation.ErrNoSuggestion) {
		t.Errorf("second accept err = %v", err)
	}

	if err := w.Unlink("fact-4"); err != nil {
		t.Fatal(err)
	}
	if r, _ := w.Fact("fact-4"); r.Link != nil || r.Fact.Value != "Jira" {
		t.Errorf("unlinked = %+v", r)
	}

	if err := w.RejectSuggestion("speaker-2"); err != nil {
		t.Fatal(err)
	}
	if s, _ := w.Speaker("speaker-2"); s.Suggestion != nil || s.Identity != nil || s.Name() != "Santos" {
		t.Errorf("rejected speaker suggestion = %+v", s)
	}
	if err := w.RejectSuggestion("speaker-2"); !errors.Is(err, curation.ErrNoSuggestion) {
		t.Errorf("second reject err = %v", err)
	}

	if err := w.SelectCandidate("speaker-2", "mario"); err != nil {
		t.Fatal(err)
	}
	if s, _ := w.Speaker("speaker-2"); s.Name() != "Mario Santos" {
		t.Errorf("selected = %q", s.Name())
	}
	if err := w.SelectCandidate("speaker-2", "carlos"); !errors.Is(err, curation.ErrInvalidValue) {
		t.Errorf("selecting a non-candidate err = %v", err)
	}

	if err := w.LinkTo("fact-4", matcher.Link{NodeID: "n-jira-cloud", Name: "Jira Cloud", Kind: graph.KindTool}); err != nil {
		t.Fatal(err)
	}
	if r, _ := w.Fact("fact-4"); r.Link.NodeID != "n-jira-cloud" || r.Fact.Value != "Jira Cloud" {
		t.Errorf("manual link = %+v", r)
	}
	if err := w.LinkTo("fact-1", matcher.Link{NodeID: "x"}); !errors.Is(err, curation.ErrNotApplicable) {
		t.Errorf("link on task err = %v", err)
	}
}

func TestWorkspace_UnsettledSuggestionCommitsAsNew(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	r, _ := w.Fact("fact-4")
	if r.Validation != curation.Accepted || r.Suggestion == nil || r.Link != nil {
		t.Fatalf("suggested record = %+v, want accepted with an open suggestion", r)
	}
	if !w.CanCommit() {
		t.Fatal("workspace with an open suggestion cannot commit")
	}

	var jira *persist.Fact
	b := w.Batch()
	for i := range b.Facts {
		if b.Facts[i].ID == "fact-4" {
			jira = &b.Facts[i]
		}
	}
	if jira == nil {
		t.Fatal("fact with an open suggestion left out of the batch")
	}
	if jira.LinkedNodeID != "" || jira.Value != "Jira" {
		t.Errorf("open suggestion committed as link: %+v", jira)
	}
}

func TestWorkspace_Batch(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(w.Reject("fact-2"))
	must(w.SetClassification("fact-4", curation.Transient))
	must(w.AcceptSuggestion("speaker-2"))
	must(w.Reject("speaker-3"))
	must(w.Relate("fact-1", "fact-3", graph.EdgeRelatedTo))
	must(w.Relate("fact-2", "fact-1", graph.EdgeRelatedTo))

	b := w.Batch()
	if b.Meeting.Title != "Kickoff" {
		t.Errorf("meeting = %+v", b.Meeting)
	}
	if len(b.Participants) != 2 {
		t.Fatalf("participants = %+v", b.Participants)
	}
	if p := b.Participants[1]; p.Label != "Santos" || p.Name != "Maria Santos" || p.RosterID != "maria" || p.Confidence != 0.7 {
		t.Errorf("participant = %+v", p)
	}
	if len(b.Facts) != 2 || b.Facts[0].ID != "fact-1" || b.Facts[1].LinkedNodeID != "n-acme" {
		t.Errorf("facts = %+v", b.Facts)
	}
	if len(b.Transient) != 1 || b.Transient[0].ID != "fact-4" {
		t.Errorf("transient = %+v", b.Transient)
	}
	if len(b.Relationships) != 1 || b.Relationships[0].From != "fact-1" {
		t.Errorf("relationships = %+v, want the one between written facts", b.Relationships)
	}
	if err := b.Validate(); err != nil {
		t.Errorf("batch does not validate: %v", err)
	}

	if err := w.Relate("fact-1", "fact-99", graph.EdgeRelatedTo); !errors.Is(err, curation.ErrRecordNotFound) {
		t.Errorf("relate unknown err = %v", err)
	}
}

func TestWorkspace_Reset(t *testing.T) {
	t.Parallel()

	w := curation.NewWorkspace(sampleInput())
	_ = w.Reject("fact-1")
	_ = w.SetValue("fact-2", "changed")
	_ = w.AcceptSuggestion("fact-4")
	w.SetMeeting(persist.Meeting{Title: "Outro"})

	w.Reset()
	if r, _ := w.Fact("fact-1"); r.Validation != curation.Accepted {
		t.Error("validation not reset")
	}
	if r, _ := w.Fact("fact-2"); r.Fact.Value != "Adiar lançamento" {
		t.Error("value not reset")
	}
	if r, _ := w.Fact("fact-4"); r.Suggestion == nil || r.Link != nil {
		t.Error("suggestion not restored")
	}
	if w.Meeting().Title != "Kickoff" {
		t.Error("meeting not reset")
	}
}

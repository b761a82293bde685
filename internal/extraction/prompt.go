package extraction

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// systemPrompt fixes the response contract. Group membership decides a
// fact's kind, so the model is told to keep items in their groups.
const systemPrompt = `You extract structured knowledge from business meeting transcripts.

Read the transcript and return ONLY one JSON object (no markdown, no prose) with these keys:
{
  "summary": "<two to four sentence summary>",
  "topic_tags": ["<short topic>", ...],
  "tasks": [{"value": "<title>", "description": "...", "assignee": "<person>", "due_date": "<date or empty>", "priority": "low|medium|high", "confidence_score": <0.0-1.0>, "source_reference": "<speaker and quote>"}],
  "decisions": [{"value": "...", "description": "...", "related_person": "...", "impact": "...", "priority": "...", "confidence_score": <0.0-1.0>, "source_reference": "..."}],
  "risks": [{"value": "...", "description": "...", "related_person": "...", "impact": "...", "priority": "...", "confidence_score": <0.0-1.0>, "source_reference": "..."}],
  "insights": [{"value": "...", "description": "...", "related_person": "...", "impact": "...", "confidence_score": <0.0-1.0>, "source_reference": "..."}],
  "mentioned_entities": [{"value": "<name>", "entity_kind": "organization|tool|product|client|externalPerson|concept", "description": "...", "confidence_score": <0.0-1.0>, "source_reference": "..."}]
}

Rules:
- Use empty arrays for groups with nothing to report.
- Only use names of people that appear in the transcript or in the organisation context.
- Do not list meeting participants or the organisation itself as mentioned entities.
- Write values in the language of the transcript.`

// MeetingContext describes the meeting being processed. All fields are
// optional.
type MeetingContext struct {
	Title        string
	Project      string
	Participants []string
}

// StaffContext is one known staff member offered to the model.
type StaffContext struct {
	Name       string
	Role       string
	Department string
}

// OrgContext is the organisational block prepended to every prompt.
type OrgContext struct {
	Name        string
	Staff       []StaffContext
	Departments []string
}

// Request is the input to [Client.Extract].
type Request struct {
	Transcript   string
	Meeting      MeetingContext
	Organization *OrgContext
}

// buildPrompt assembles organisational context, meeting context and the
// transcript in that order, then applies one hard cap to the whole text,
// cutting from the end. maxChars counts runes; zero disables the cap.
func buildPrompt(req Request, maxChars int) (prompt string, truncated bool) {
	var b strings.Builder

	if org := req.Organization; org != nil {
		b.WriteString("## Organisation context\n")
		if org.Name != "" {
			fmt.Fprintf(&b, "Organisation: %s\n", org.Name)
		}
		if len(org.Departments) > 0 {
			fmt.Fprintf(&b, "Departments: %s\n", strings.Join(org.Departments, ", "))
		}
		if len(org.Staff) > 0 {
			b.WriteString("Known staff:\n")
			for _, s := range org.Staff {
				b.WriteString("- ")
				b.WriteString(s.Name)
				if details := joinNonEmpty(" / ", s.Role, s.Department); details != "" {
					fmt.Fprintf(&b, " (%s)", details)
				}
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}

	m := req.Meeting
	if m.Title != "" || m.Project != "" || len(m.Participants) > 0 {
		b.WriteString("## Meeting context\n")
		if m.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", m.Title)
		}
		if m.Project != "" {
			fmt.Fprintf(&b, "Related project: %s\n", m.Project)
		}
		if len(m.Participants) > 0 {
			fmt.Fprintf(&b, "Participants: %s\n", strings.Join(m.Participants, ", "))
		}
		b.WriteByte('\n')
	}

	b.WriteString("## Transcript\n")
	b.WriteString(req.Transcript)

	return truncateRunes(b.String(), maxChars)
}

// truncateRunes cuts s to at most n runes without splitting a multi-byte
// sequence.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

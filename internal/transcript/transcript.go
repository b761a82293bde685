// Package transcript parses meeting transcripts into ordered, speaker-labelled
// segments.
//
// Two input shapes are recognised:
//
//   - Timestamped captions (a "WEBVTT" header, blank-line-delimited cues, an
//     optional "start --> end" timing line per cue and one or more
//     "<v Speaker>text</v>" or "<Speaker>text" lines). NOTE, STYLE and
//     REGION blocks are ignored.
//   - Anything else is treated as unstructured plain text and becomes a
//     single segment with an empty speaker label.
//
// Parsing never fails. Malformed lines are skipped, cues without a timing
// line inherit the last seen range, and unreadable input yields an empty
// [Transcript]. Downstream stages treat "no segments" as a valid outcome.
package transcript

import (
	"cmp"
	"io"
	"slices"
	"strings"
	"time"
)

// Format identifies which input shape a transcript was parsed from.
type Format int

const (
	// FormatEmpty marks input that produced no segments.
	FormatEmpty Format = iota
	// FormatCaptions marks WEBVTT-style timestamped captions.
	FormatCaptions
	// FormatPlain marks unstructured text kept as one block.
	FormatPlain
)

// String returns a short lowercase name for f.
func (f Format) String() string {
	switch f {
	case FormatCaptions:
		return "captions"
	case FormatPlain:
		return "plain"
	default:
		return "empty"
	}
}

// Segment is one utterance. Segments are immutable once parsed.
type Segment struct {
	// Speaker is the raw label from the caption line. Empty for plain text.
	Speaker string

	// Text is the utterance with inline markup removed.
	Text string

	// Start and End are offsets from the beginning of the recording. Both are
	// zero when Timed is false.
	Start time.Duration
	End   time.Duration

	// Timed reports whether a timing line preceded this segment, either in its
	// own cue or carried forward from an earlier one.
	Timed bool
}

// Tally counts the segments attributed to one speaker label.
type Tally struct {
	Label      string
	Utterances int
}

// Transcript is the parse result.
type Transcript struct {
	Format   Format
	Segments []Segment

	// Skipped counts lines that were dropped as malformed.
	Skipped int

	// lastEnd is the last valid end time seen on any timing line.
	lastEnd time.Duration
}

// Duration returns the last valid end time seen in the input. Cues whose
// timing line lacks an end time do not extend it.
func (t *Transcript) Duration() time.Duration { return t.lastEnd }

// Empty reports whether the transcript has no segments.
func (t *Transcript) Empty() bool { return len(t.Segments) == 0 }

// Tallies returns per-label segment counts ordered by count descending, ties
// broken by first appearance.
func (t *Transcript) Tallies() []Tally {
	counts := make(map[string]int)
	var order []string
	for _, s := range t.Segments {
		if _, seen := counts[s.Speaker]; !seen {
			order = append(order, s.Speaker)
		}
		counts[s.Speaker]++
	}
	out := make([]Tally, len(order))
	for i, label := range order {
		out[i] = Tally{Label: label, Utterances: counts[label]}
	}
	slices.SortStableFunc(out, func(a, b Tally) int {
		return cmp.Compare(b.Utterances, a.Utterances)
	})
	return out
}

// Speakers returns the non-empty speaker labels in [Transcript.Tallies] order.
func (t *Transcript) Speakers() []string {
	var out []string
	for _, tl := range t.Tallies() {
		if tl.Label != "" {
			out = append(out, tl.Label)
		}
	}
	return out
}

// Dialogue renders the segments as "Speaker: text" lines, the form sent to
// the extraction backend.
func (t *Transcript) Dialogue() string {
	var b strings.Builder
	for _, s := range t.Segments {
		if s.Speaker != "" {
			b.WriteString(s.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(s.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Parse reads r to the end and parses it. A read error yields an empty
// transcript.
func Parse(r io.Reader) *Transcript {
	data, err := io.ReadAll(r)
	if err != nil {
		return &Transcript{}
	}
	return ParseString(string(data))
}

// ParseString parses s. It is deterministic: the same input always yields the
// same segments in order of appearance.
func ParseString(s string) *Transcript {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return &Transcript{}
	}
	if isCaptionHeader(trimmed) {
		return parseCaptions(trimmed)
	}
	return &Transcript{
		Format:   FormatPlain,
		Segments: []Segment{{Text: trimmed}},
	}
}

func isCaptionHeader(s string) bool {
	first, _, _ := strings.Cut(s, "\n")
	first = strings.TrimSpace(first)
	return first == "WEBVTT" || strings.HasPrefix(first, "WEBVTT ") || strings.HasPrefix(first, "WEBVTT\t")
}

package transcript_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/MrWong99/meetgraph/internal/transcript"
)

const sampleVTT = `WEBVTT

NOTE exported by the meeting recorder
second note line

1
00:00:01.000 --> 00:00:04.500
<v Carlos Silva>Bom dia a todos.</v>

2
00:00:05.000 --> 00:00:09.000
<v M. Santos>Precisamos revisar o cronograma.</v>
<v Carlos Silva>Concordo, eu cuido disso.</v>

<v M. Santos>Sem timestamp neste bloco.</v>

00:00:12.000 -->
<v Carlos Silva>Fim sem horario final.</v>
`

func TestParse_Captions(t *testing.T) {
	t.Parallel()

	tr := transcript.ParseString(sampleVTT)
	if tr.Format != transcript.FormatCaptions {
		t.Fatalf("Format = %v, want captions", tr.Format)
	}

	want := []transcript.Segment{
		{Speaker: "Carlos Silva", Text: "Bom dia a todos.", Start: time.Second, End: 4500 * time.Millisecond, Timed: true},
		{Speaker: "M. Santos", Text: "Precisamos revisar o cronograma.", Start: 5 * time.Second, End: 9 * time.Second, Timed: true},
		{Speaker: "Carlos Silva", Text: "Concordo, eu cuido disso.", Start: 5 * time.Second, End: 9 * time.Second, Timed: true},
		// Carried forward from the previous cue.
		{Speaker: "M. Santos", Text: "Sem timestamp neste bloco.", Start: 5 * time.Second, End: 9 * time.Second, Timed: true},
		{Speaker: "Carlos Silva", Text: "Fim sem horario final.", Start: 12 * time.Second, End: 12 * time.Second, Timed: true},
	}
	if !reflect.DeepEqual(tr.Segments, want) {
		t.Errorf("segments mismatch\n got: %+v\nwant: %+v", tr.Segments, want)
	}

	// The last cue has no end time; duration comes from the last valid one.
	if got := tr.Duration(); got != 9*time.Second {
		t.Errorf("Duration = %v, want 9s", got)
	}
}

func TestParse_Tallies(t *testing.T) {
	t.Parallel()

	tr := transcript.ParseString(sampleVTT)
	want := []transcript.Tally{
		{Label: "Carlos Silva", Utterances: 3},
		{Label: "M. Santos", Utterances: 2},
	}
	if got := tr.Tallies(); !reflect.DeepEqual(got, want) {
		t.Errorf("Tallies = %+v, want %+v", got, want)
	}
	if got := tr.Speakers(); !reflect.DeepEqual(got, []string{"Carlos Silva", "M. Santos"}) {
		t.Errorf("Speakers = %v", got)
	}
}

func TestParse_TallyTiesByFirstAppearance(t *testing.T) {
	t.Parallel()

	tr := transcript.ParseString("WEBVTT\n\n00:01.000 --> 00:02.000\n<v Zed>one</v>\n<v Amy>two</v>\n")
	got := tr.Tallies()
	if len(got) != 2 || got[0].Label != "Zed" || got[1].Label != "Amy" {
		t.Errorf("Tallies = %+v, want Zed before Amy", got)
	}
}

func TestParse_Idempotent(t *testing.T) {
	t.Parallel()

	a := transcript.ParseString(sampleVTT)
	b := transcript.ParseString(sampleVTT)
	if !reflect.DeepEqual(a.Segments, b.Segments) {
		t.Error("segments differ between parses")
	}
	if !reflect.DeepEqual(a.Tallies(), b.Tallies()) {
		t.Error("tallies differ between parses")
	}
}

func TestParse_SkipsMalformed(t *testing.T) {
	t.Parallel()

	input := "WEBVTT\n\n" +
		"garbage --> 00:00:02.000\n<v A>kept without range</v>\n\n" +
		"00:00:03.000 --> 00:00:04.000\nstray text with no speaker\n<v B>hello</v>\ncontinued line\n"
	tr := transcript.ParseString(input)

	if len(tr.Segments) != 2 {
		t.Fatalf("segments = %+v, want 2", tr.Segments)
	}
	if tr.Segments[0].Timed {
		t.Error("segment after a malformed timing line must not be timed")
	}
	if got := tr.Segments[1].Text; got != "hello continued line" {
		t.Errorf("continuation = %q", got)
	}
	if tr.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", tr.Skipped)
	}
}

func TestParse_CuesWithoutBlankSeparator(t *testing.T) {
	t.Parallel()

	want := []transcript.Segment{
		{Speaker: "Carlos Silva", Text: "Bom dia", Start: 0, End: 5 * time.Second, Timed: true},
		{Speaker: "M. Santos", Text: "Oi", Start: 5 * time.Second, End: 8 * time.Second, Timed: true},
	}
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "voice line before timing",
			input: "WEBVTT\n\n00:00:00.000 --> 00:00:05.000\n<v Carlos Silva>Bom dia\n00:00:05.000 --> 00:00:08.000\n<v M. Santos>Oi\n",
		},
		{
			name:  "cue id before timing",
			input: "WEBVTT\n\n00:00:00.000 --> 00:00:05.000\n<v Carlos Silva>Bom dia\nc2\n00:00:05.000 --> 00:00:08.000\n<v M. Santos>Oi\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := transcript.ParseString(tt.input)
			if !reflect.DeepEqual(tr.Segments, want) {
				t.Errorf("segments mismatch\n got: %+v\nwant: %+v", tr.Segments, want)
			}
			if tr.Skipped != 0 {
				t.Errorf("Skipped = %d, want 0", tr.Skipped)
			}
		})
	}
}

func TestParse_LabelStyles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line    string
		speaker string
		text    string
	}{
		{"<v Ana Lima>Oi</v>", "Ana Lima", "Oi"},
		{"<v.loud Ana>Oi</v>", "Ana", "Oi"},
		{"<Ana Lima>Oi</Ana Lima>", "Ana Lima", "Oi"},
		{"<v Ana>Isso é <b>importante</b></v>", "Ana", "Isso é importante"},
		{"Ana Lima: Oi pessoal", "Ana Lima", "Oi pessoal"},
	}
	for _, tc := range tests {
		t.Run(tc.line, func(t *testing.T) {
			t.Parallel()
			tr := transcript.ParseString("WEBVTT\n\n00:01.000 --> 00:02.000\n" + tc.line + "\n")
			if len(tr.Segments) != 1 {
				t.Fatalf("segments = %+v", tr.Segments)
			}
			if s := tr.Segments[0]; s.Speaker != tc.speaker || s.Text != tc.text {
				t.Errorf("got (%q, %q), want (%q, %q)", s.Speaker, s.Text, tc.speaker, tc.text)
			}
		})
	}
}

func TestParse_PlainText(t *testing.T) {
	t.Parallel()

	tr := transcript.ParseString("  Notes from the call.\nWe agreed to ship Friday.\n")
	if tr.Format != transcript.FormatPlain {
		t.Fatalf("Format = %v, want plain", tr.Format)
	}
	if len(tr.Segments) != 1 || tr.Segments[0].Speaker != "" {
		t.Fatalf("segments = %+v", tr.Segments)
	}
	if !strings.HasPrefix(tr.Segments[0].Text, "Notes from the call.") {
		t.Errorf("text = %q", tr.Segments[0].Text)
	}
	if len(tr.Speakers()) != 0 {
		t.Errorf("plain text must not produce speakers: %v", tr.Speakers())
	}
}

func TestParse_EmptyAndUnreadable(t *testing.T) {
	t.Parallel()

	for name, tr := range map[string]*transcript.Transcript{
		"empty":       transcript.ParseString(""),
		"header only": transcript.ParseString("WEBVTT\n"),
		"read error":  transcript.Parse(iotest.ErrReader(errors.New("disk gone"))),
	} {
		if !tr.Empty() {
			t.Errorf("%s: segments = %+v, want none", name, tr.Segments)
		}
	}
}

func TestParse_CRLFAndBOM(t *testing.T) {
	t.Parallel()

	input := "\ufeffWEBVTT\r\n\r\n00:00:01,000 --> 00:00:02,000\r\n<v A>hi</v>\r\n"
	tr := transcript.ParseString(input)
	if len(tr.Segments) != 1 || tr.Segments[0].Start != time.Second {
		t.Errorf("segments = %+v", tr.Segments)
	}
}

func TestDialogue(t *testing.T) {
	t.Parallel()

	tr := transcript.ParseString("WEBVTT\n\n00:01.000 --> 00:02.000\n<v A>one</v>\n<v B>two</v>\n")
	if got, want := tr.Dialogue(), "A: one\nB: two\n"; got != want {
		t.Errorf("Dialogue = %q, want %q", got, want)
	}
}

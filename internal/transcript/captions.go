package transcript

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// timing is a cue time range. hasEnd is false for "start -->" lines.
type timing struct {
	start, end time.Duration
	hasEnd     bool
}

// parseCaptions walks the blank-line-delimited blocks that follow the header.
func parseCaptions(s string) *Transcript {
	t := &Transcript{Format: FormatCaptions}

	var (
		current *timing
		blocks  = strings.Split(s, "\n\n")
	)
	for bi, block := range blocks {
		lines := strings.Split(block, "\n")
		if bi == 0 {
			// Header metadata up to the first blank line carries no dialogue,
			// unless a cue follows the header without a separating blank line.
			lines = lines[1:]
			if !strings.Contains(block, "-->") {
				continue
			}
		}
		if isMetadataBlock(lines) {
			continue
		}

		// Index of the first segment appended for this block; continuation
		// lines only attach to segments of the same cue.
		blockStart := len(t.Segments)
		for li, raw := range lines {
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}

			if strings.Contains(line, "-->") {
				tm, ok := parseTiming(line)
				if !ok {
					t.Skipped++
					continue
				}
				current = &tm
				if tm.hasEnd {
					t.lastEnd = tm.end
				}
				continue
			}

			speaker, text, labelled := splitSpeaker(line)
			// An unlabelled line directly preceding a timing line is a cue
			// identifier. A labelled one is the last utterance of the
			// previous cue.
			if !labelled && li+1 < len(lines) && strings.Contains(lines[li+1], "-->") {
				continue
			}
			if text == "" {
				t.Skipped++
				continue
			}
			if !labelled {
				if len(t.Segments) > blockStart {
					last := &t.Segments[len(t.Segments)-1]
					last.Text += " " + text
					continue
				}
				t.Skipped++
				continue
			}

			seg := Segment{Speaker: speaker, Text: text}
			if current != nil {
				seg.Timed = true
				seg.Start = current.start
				seg.End = current.end
				if !current.hasEnd {
					seg.End = current.start
				}
			}
			t.Segments = append(t.Segments, seg)
		}
	}
	return t
}

func isMetadataBlock(lines []string) bool {
	var first string
	for _, l := range lines {
		if first = strings.TrimSpace(l); first != "" {
			break
		}
	}
	for _, kw := range []string{"NOTE", "STYLE", "REGION"} {
		if first == kw || strings.HasPrefix(first, kw+" ") || strings.HasPrefix(first, kw+"\t") {
			return true
		}
	}
	return false
}

// parseTiming parses "start --> end [cue settings]". A missing end time is
// tolerated; a missing or malformed start time is not.
func parseTiming(line string) (timing, bool) {
	left, right, _ := strings.Cut(line, "-->")
	start, ok := parseTimestamp(strings.TrimSpace(left))
	if !ok {
		return timing{}, false
	}
	tm := timing{start: start}
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return tm, true
	}
	if end, ok := parseTimestamp(fields[0]); ok && end >= start {
		tm.end = end
		tm.hasEnd = true
	}
	return tm, true
}

// parseTimestamp accepts HH:MM:SS.mmm and MM:SS.mmm. A comma is accepted as
// the fraction separator.
func parseTimestamp(s string) (time.Duration, bool) {
	s = strings.Replace(s, ",", ".", 1)
	whole, frac, hasFrac := strings.Cut(s, ".")
	parts := strings.Split(whole, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}

	var h, m, sec int
	var err error
	if len(parts) == 3 {
		if h, err = strconv.Atoi(parts[0]); err != nil || h < 0 {
			return 0, false
		}
		parts = parts[1:]
	}
	if m, err = strconv.Atoi(parts[0]); err != nil || m < 0 || m > 59 {
		return 0, false
	}
	if sec, err = strconv.Atoi(parts[1]); err != nil || sec < 0 || sec > 59 {
		return 0, false
	}

	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	if hasFrac {
		if frac == "" || len(frac) > 3 {
			return 0, false
		}
		ms, err := strconv.Atoi(frac + strings.Repeat("0", 3-len(frac)))
		if err != nil {
			return 0, false
		}
		d += time.Duration(ms) * time.Millisecond
	}
	return d, true
}

// splitSpeaker extracts the label from "<v Name>text</v>", "<v.loud Name>text",
// "<Name>text</Name>" or "Name: text". labelled is false for bare text, which
// is returned with markup stripped.
func splitSpeaker(line string) (speaker, text string, labelled bool) {
	if strings.HasPrefix(line, "<") {
		end := strings.IndexByte(line, '>')
		if end > 1 {
			tag := strings.TrimSpace(line[1:end])
			rest := stripTags(line[end+1:])
			if label, ok := voiceLabel(tag); ok {
				return label, rest, true
			}
		}
		return "", stripTags(line), false
	}

	if label, rest, ok := strings.Cut(line, ":"); ok && plausibleLabel(label) {
		text := strings.TrimSpace(stripTags(rest))
		if text != "" {
			return strings.TrimSpace(label), text, true
		}
	}
	return "", stripTags(line), false
}

// voiceLabel returns the speaker of an opening tag. "v Name" and "v.class
// Name" are voice spans; any other tag that is not a known inline formatting
// tag is taken verbatim as the label.
func voiceLabel(tag string) (string, bool) {
	if tag == "" || strings.HasPrefix(tag, "/") {
		return "", false
	}
	if tag[0] == 'v' && len(tag) > 1 && (tag[1] == ' ' || tag[1] == '.') {
		_, name, ok := strings.Cut(tag, " ")
		name = strings.TrimSpace(name)
		return name, ok && name != ""
	}
	head := tag
	if i := strings.IndexAny(head, ". "); i >= 0 {
		head = head[:i]
	}
	switch head {
	case "b", "i", "u", "c", "ruby", "rt", "lang":
		return "", false
	}
	if unicode.IsDigit(rune(tag[0])) {
		// Inline timestamp tag such as <00:01.500>.
		return "", false
	}
	return tag, true
}

// plausibleLabel accepts short prefixes that look like a name: at most four
// words, starting with a letter, no digits.
func plausibleLabel(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 40 {
		return false
	}
	if !unicode.IsLetter([]rune(s)[0]) {
		return false
	}
	if len(strings.Fields(s)) > 4 {
		return false
	}
	return !strings.ContainsFunc(s, unicode.IsDigit)
}

// stripTags removes <...> markup and collapses surrounding whitespace.
func stripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

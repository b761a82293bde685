package extraction

import (
	"errors"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnparseable is returned by [ParseResponse] when the payload is not a
// single JSON object.
var ErrUnparseable = errors.New("extraction: response is not a JSON object")

// groupKinds maps recognised top-level group keys to a fact kind. Keys are
// lowercased and "-" or spaces read as "_" before lookup. action_items and
// its variants are legacy spellings of tasks.
var groupKinds = map[string]Kind{
	"tasks":                 KindTask,
	"task":                  KindTask,
	"action_items":          KindTask,
	"actionitems":           KindTask,
	"action_item":           KindTask,
	"todos":                 KindTask,
	"tarefas":               KindTask,
	"acoes":                 KindTask,
	"decisions":             KindDecision,
	"decisoes":              KindDecision,
	"risks":                 KindRisk,
	"riscos":                KindRisk,
	"insights":              KindInsight,
	"observations":          KindInsight,
	"mentioned_entities":    KindMentionedEntity,
	"entities":              KindMentionedEntity,
	"entidades":             KindMentionedEntity,
	"entidades_mencionadas": KindMentionedEntity,
}

var (
	summaryKeys = []string{"summary", "resumo"}
	topicKeys   = []string{"topic_tags", "topics", "tags", "topicos"}
)

// Per-field aliases, tried in order.
var (
	valueKeys      = []string{"value", "title", "titulo", "name", "nome", "text", "texto"}
	descKeys       = []string{"description", "descricao", "details", "detalhes"}
	confidenceKeys = []string{"confidence_score", "confidence", "confianca"}
	sourceKeys     = []string{"source_reference", "source", "quote", "trecho", "referencia"}
	assigneeKeys   = []string{"assignee", "owner", "responsavel"}
	dueKeys        = []string{"due_date", "deadline", "prazo"}
	priorityKeys   = []string{"priority", "prioridade"}
	personKeys     = []string{"related_person", "person", "pessoa", "responsavel", "owner"}
	impactKeys     = []string{"impact", "impacto"}
	entityKindKeys = []string{"entity_kind", "entity_type", "kind", "type", "tipo", "categoria"}
)

// defaultConfidence is applied to facts whose confidence is absent or not a
// number.
const defaultConfidence = 0.5

// ParseResponse maps a backend reply to a [Result]. Markdown code fences are
// tolerated. Unrecognised top-level keys are ignored; a missing summary
// yields "". The type of every fact is taken from the group it appears in,
// never from the item itself. ids are assigned by newID.
func ParseResponse(content string, newID func() FactID) (Result, error) {
	if newID == nil {
		newID = NewFactID
	}
	cleaned := stripMarkdown(content)
	if !gjson.Valid(cleaned) {
		return Result{}, ErrUnparseable
	}
	root := gjson.Parse(cleaned)
	if !root.IsObject() {
		return Result{}, ErrUnparseable
	}

	var res Result
	root.ForEach(func(key, value gjson.Result) bool {
		name := groupKey(key.String())
		switch {
		case slices.Contains(summaryKeys, name):
			if res.Summary == "" {
				res.Summary = strings.TrimSpace(value.String())
			}
		case slices.Contains(topicKeys, name):
			if res.Topics == nil {
				res.Topics = parseTopics(value)
			}
		default:
			kind, ok := groupKinds[name]
			if !ok || !value.IsArray() {
				return true
			}
			for _, item := range value.Array() {
				if f, ok := parseFact(kind, item); ok {
					f.ID = newID()
					res.Facts = append(res.Facts, f)
				}
			}
		}
		return true
	})
	return res, nil
}

// groupKey normalises a top-level key for lookup.
func groupKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ReplaceAll(s, " ", "_")
}

// parseFact builds one fact. A bare string item is taken as the value. Items
// without a value are dropped.
func parseFact(kind Kind, item gjson.Result) (Fact, bool) {
	f := Fact{Kind: kind, Confidence: defaultConfidence}
	switch {
	case item.Type == gjson.String:
		f.Value = strings.TrimSpace(item.String())
	case item.IsObject():
		f.Value = firstString(item, valueKeys)
		f.Desc = firstString(item, descKeys)
		f.SourceReference = firstString(item, sourceKeys)
		f.Priority = firstString(item, priorityKeys)
		f.Confidence = confidence(item)
		switch kind {
		case KindTask:
			f.Assignee = firstString(item, assigneeKeys)
			f.DueDate = firstString(item, dueKeys)
		case KindDecision, KindRisk, KindInsight:
			f.RelatedPerson = firstString(item, personKeys)
			f.Impact = firstString(item, impactKeys)
		case KindMentionedEntity:
			f.EntityKind = ParseEntityKind(firstString(item, entityKindKeys))
		}
	default:
		return Fact{}, false
	}
	if f.Value == "" {
		return Fact{}, false
	}
	if kind == KindMentionedEntity && f.EntityKind == "" {
		f.EntityKind = EntityConcept
	}
	return f, true
}

// firstString returns the first non-empty scalar among keys. Numbers and
// booleans are rendered as text.
func firstString(obj gjson.Result, keys []string) string {
	for _, k := range keys {
		v := obj.Get(k)
		switch v.Type {
		case gjson.String, gjson.Number, gjson.True, gjson.False:
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// confidence reads the first numeric confidence field, accepting numeric
// strings and 0-100 percentages, clamped to [0,1].
func confidence(obj gjson.Result) float64 {
	for _, k := range confidenceKeys {
		v := obj.Get(k)
		var c float64
		switch v.Type {
		case gjson.Number:
			c = v.Float()
		case gjson.String:
			s := strings.TrimSuffix(strings.TrimSpace(v.String()), "%")
			if !gjson.Valid(s) {
				continue
			}
			n := gjson.Parse(s)
			if n.Type != gjson.Number {
				continue
			}
			c = n.Float()
		default:
			continue
		}
		if c > 1 && c <= 100 {
			c /= 100
		}
		return min(1, max(0, c))
	}
	return defaultConfidence
}

// parseTopics flattens tags to strings. Object tags contribute their first
// string-valued field in document order.
func parseTopics(v gjson.Result) []string {
	out := []string{}
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if v.Type == gjson.String {
		for _, part := range strings.Split(v.String(), ",") {
			add(part)
		}
		return out
	}
	if !v.IsArray() {
		return out
	}
	for _, tag := range v.Array() {
		switch {
		case tag.Type == gjson.String:
			add(tag.String())
		case tag.IsObject():
			tag.ForEach(func(_, field gjson.Result) bool {
				if field.Type == gjson.String && strings.TrimSpace(field.String()) != "" {
					add(field.String())
					return false
				}
				return true
			})
		}
	}
	return out
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```JSON", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

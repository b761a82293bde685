package extraction

import (
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/meetgraph/internal/identity"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// FactID is a client-generated provisional id. It names a fact between
// extraction and commit and is never written into a graph edge; persisted
// nodes are addressed by [graph.NodeID].
type FactID string

// NewFactID returns a fresh provisional id.
func NewFactID() FactID { return FactID("fact-" + uuid.NewString()) }

// Kind is the fact variant.
type Kind string

const (
	KindTask            Kind = "Task"
	KindDecision        Kind = "Decision"
	KindRisk            Kind = "Risk"
	KindInsight         Kind = "Insight"
	KindMentionedEntity Kind = "MentionedEntity"
)

// Kinds lists every fact variant in presentation order.
var Kinds = []Kind{KindTask, KindDecision, KindRisk, KindInsight, KindMentionedEntity}

// Valid reports whether k is one of [Kinds].
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindDecision, KindRisk, KindInsight, KindMentionedEntity:
		return true
	}
	return false
}

// GraphKind returns the node label facts of this kind are persisted as.
// Mentioned entities map through [EntityKind.GraphKind] instead.
func (k Kind) GraphKind() graph.Kind {
	switch k {
	case KindTask:
		return graph.KindTask
	case KindDecision:
		return graph.KindDecision
	case KindRisk:
		return graph.KindRisk
	case KindInsight:
		return graph.KindInsight
	default:
		return ""
	}
}

// PersonEdge returns the relationship from a fact of this kind to its
// assignee or related person.
func (k Kind) PersonEdge() graph.EdgeType {
	switch k {
	case KindTask:
		return graph.EdgeAssignedTo
	case KindDecision:
		return graph.EdgeDecidedBy
	case KindRisk:
		return graph.EdgeRaisedBy
	case KindInsight:
		return graph.EdgeContributedBy
	default:
		return ""
	}
}

// EntityKind classifies a mentioned entity.
type EntityKind string

const (
	EntityOrganization   EntityKind = "organization"
	EntityTool           EntityKind = "tool"
	EntityProduct        EntityKind = "product"
	EntityClient         EntityKind = "client"
	EntityExternalPerson EntityKind = "externalPerson"
	EntityConcept        EntityKind = "concept"
)

// EntityKinds lists every entity classification.
var EntityKinds = []EntityKind{
	EntityOrganization, EntityTool, EntityProduct, EntityClient, EntityExternalPerson, EntityConcept,
}

// Valid reports whether k is one of [EntityKinds].
func (k EntityKind) Valid() bool {
	for _, known := range EntityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// GraphKind returns the node label for entities of this kind.
func (k EntityKind) GraphKind() graph.Kind {
	switch k {
	case EntityOrganization:
		return graph.KindOrganization
	case EntityTool:
		return graph.KindTool
	case EntityProduct:
		return graph.KindProduct
	case EntityClient:
		return graph.KindClient
	case EntityExternalPerson:
		return graph.KindExternalContact
	default:
		return graph.KindConcept
	}
}

// entityKindAliases maps backend spellings to an [EntityKind]. Keys are
// normalised with [identity.Normalize] and have "_", "-" and spaces removed.
var entityKindAliases = map[string]EntityKind{
	"organization":   EntityOrganization,
	"organisation":   EntityOrganization,
	"organizacao":    EntityOrganization,
	"org":            EntityOrganization,
	"company":        EntityOrganization,
	"empresa":        EntityOrganization,
	"tool":           EntityTool,
	"ferramenta":     EntityTool,
	"software":       EntityTool,
	"product":        EntityProduct,
	"produto":        EntityProduct,
	"client":         EntityClient,
	"customer":       EntityClient,
	"cliente":        EntityClient,
	"externalperson": EntityExternalPerson,
	"person":         EntityExternalPerson,
	"pessoa":         EntityExternalPerson,
	"pessoaexterna":  EntityExternalPerson,
	"contact":        EntityExternalPerson,
	"concept":        EntityConcept,
	"conceito":       EntityConcept,
	"topic":          EntityConcept,
}

// ParseEntityKind maps a free-form backend label to an [EntityKind].
// Unknown labels become [EntityConcept].
func ParseEntityKind(s string) EntityKind {
	key := strings.NewReplacer("_", "", "-", "", " ", "").Replace(identity.Normalize(s))
	if k, ok := entityKindAliases[key]; ok {
		return k
	}
	return EntityConcept
}

// Fact is one machine-proposed candidate. Kind decides which of the
// kind-specific fields are meaningful.
type Fact struct {
	ID         FactID
	Kind       Kind
	Value      string
	Desc       string
	Confidence float64

	// SourceReference is a free-text locator into the transcript.
	SourceReference string

	// Task fields.
	Assignee string
	DueDate  string

	// Priority applies to tasks and optionally to decisions, risks and
	// insights.
	Priority string

	// Decision, risk and insight fields.
	RelatedPerson string
	Impact        string

	// Mentioned entity fields.
	EntityKind EntityKind
}

// Person returns the assignee of a task or the related person of any other
// kind.
func (f Fact) Person() string {
	if f.Kind == KindTask {
		return f.Assignee
	}
	return f.RelatedPerson
}

// Result is the outcome of one extraction call.
type Result struct {
	Facts   []Fact
	Summary string
	Topics  []string

	// ProcessingTimeMs is the wall time of the call including parsing.
	ProcessingTimeMs int64

	// Warning is set when extraction degraded to an empty result. It is meant
	// for the caller to surface; it is not an error.
	Warning string
}

// Count returns the number of facts of kind k.
func (r Result) Count(k Kind) int {
	n := 0
	for _, f := range r.Facts {
		if f.Kind == k {
			n++
		}
	}
	return n
}

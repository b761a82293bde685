// Package graph defines the query and transaction interface between the
// ingestion pipeline and an external knowledge-graph store.
//
// The pipeline reads through [Reader] (pattern-match-and-return lookups used
// for identity resolution and entity matching) and writes exclusively through
// [Store.WithTx], which runs a group of writes in one explicit
// begin/run-many/commit-or-rollback transaction. Nothing in this package
// assumes multi-statement autocommit.
//
// Backends live in sub-packages: postgres (pgx), neo4j (neo4j-go-driver) and
// memgraph (in-process, for tests and local development).
//
// Every implementation must be safe for concurrent use.
package graph

import (
	"context"
	"errors"
	"time"
)

// NodeID is a store-generated node identifier. It is never produced by the
// pipeline itself; provisional fact ids use a distinct type.
type NodeID string

// ─────────────────────────────────────────────────────────────────────────────
// Kinds and edge types
// ─────────────────────────────────────────────────────────────────────────────

// Kind is a node label.
type Kind string

const (
	KindMeeting         Kind = "Meeting"
	KindPerson          Kind = "Person"
	KindExternalContact Kind = "ExternalContact"
	KindProject         Kind = "Project"
	KindTask            Kind = "Task"
	KindDecision        Kind = "Decision"
	KindRisk            Kind = "Risk"
	KindInsight         Kind = "Insight"
	KindOrganization    Kind = "Organization"
	KindTool            Kind = "Tool"
	KindProduct         Kind = "Product"
	KindClient          Kind = "Client"
	KindConcept         Kind = "Concept"
)

// Kinds lists every label a backend accepts.
var Kinds = []Kind{
	KindMeeting, KindPerson, KindExternalContact, KindProject,
	KindTask, KindDecision, KindRisk, KindInsight,
	KindOrganization, KindTool, KindProduct, KindClient, KindConcept,
}

// Valid reports whether k is one of [Kinds]. Backends that interpolate labels
// into query text rely on this check.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// EdgeType is a relationship label.
type EdgeType string

const (
	EdgeParticipatedIn   EdgeType = "PARTICIPATED_IN"
	EdgeExtractedFrom    EdgeType = "EXTRACTED_FROM"
	EdgeAssignedTo       EdgeType = "ASSIGNED_TO"
	EdgeDecidedBy        EdgeType = "DECIDED_BY"
	EdgeRaisedBy         EdgeType = "RAISED_BY"
	EdgeContributedBy    EdgeType = "CONTRIBUTED_BY"
	EdgeRelatedToProject EdgeType = "RELATED_TO_PROJECT"
	EdgeMentions         EdgeType = "MENTIONS"
	EdgeRelatedTo        EdgeType = "RELATED_TO"
)

// ValidEdgeType reports whether t contains only upper-case letters and
// underscores. Backends interpolate edge types into query text.
func ValidEdgeType(t EdgeType) bool {
	if t == "" {
		return false
	}
	for _, r := range t {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

// Node is a labelled vertex with free-form properties.
type Node struct {
	ID   NodeID
	Kind Kind
	Name string

	// MergeKey is the identity used by [Tx.MergeNode]. Empty for nodes created
	// with [Tx.CreateNode].
	MergeKey string

	Props     map[string]any
	CreatedAt time.Time
}

// Edge is a directed, typed relationship.
type Edge struct {
	From  NodeID
	To    NodeID
	Type  EdgeType
	Props map[string]any
}

// NodeQuery selects nodes. All non-zero fields are applied as AND conditions.
type NodeQuery struct {
	// Kinds restricts results to the given labels. Empty matches all.
	Kinds []Kind

	// NameContains is a case-insensitive substring filter on Name.
	NameContains string

	// Limit caps the number of results. Zero lets the backend choose.
	Limit int
}

// EdgeQuery selects edges. All non-zero fields are applied as AND conditions.
type EdgeQuery struct {
	From NodeID
	To   NodeID
	Type EdgeType
}

// DefaultLimit is applied by backends when a query leaves Limit at zero.
const DefaultLimit = 100

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a referenced node does not exist.
	ErrNotFound = errors.New("graph: node not found")

	// ErrUnknownKind is returned for a label outside [Kinds].
	ErrUnknownKind = errors.New("graph: unknown node kind")

	// ErrInvalidEdgeType is returned for a malformed relationship label.
	ErrInvalidEdgeType = errors.New("graph: invalid edge type")
)

// ─────────────────────────────────────────────────────────────────────────────
// Interfaces
// ─────────────────────────────────────────────────────────────────────────────

// Reader is the read-only query surface.
type Reader interface {
	// GetNode returns the node with the given id or [ErrNotFound].
	GetNode(ctx context.Context, id NodeID) (*Node, error)

	// FindNodes returns nodes matching q ordered by name.
	FindNodes(ctx context.Context, q NodeQuery) ([]Node, error)

	// FindEdges returns edges matching q.
	FindEdges(ctx context.Context, q EdgeQuery) ([]Edge, error)
}

// Tx is one open write transaction. Reads through a Tx observe the
// transaction's own uncommitted writes.
type Tx interface {
	Reader

	// CreateNode inserts a new node and returns its store-generated id.
	CreateNode(ctx context.Context, kind Kind, name string, props map[string]any) (NodeID, error)

	// MergeNode returns the node of the given kind and mergeKey, creating it
	// with name and props when absent. created reports which happened.
	// Properties of an existing node are left untouched.
	MergeNode(ctx context.Context, kind Kind, mergeKey, name string, props map[string]any) (id NodeID, created bool, err error)

	// UpdateNode sets the given properties on an existing node, leaving other
	// properties unchanged.
	UpdateNode(ctx context.Context, id NodeID, props map[string]any) error

	// CreateEdge inserts a relationship. Both endpoints must exist.
	CreateEdge(ctx context.Context, e Edge) error
}

// Store is a graph backend.
type Store interface {
	Reader

	// WithTx runs fn inside a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise; fn's error is returned
	// unchanged. A commit failure is returned wrapped.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close(ctx context.Context) error
}

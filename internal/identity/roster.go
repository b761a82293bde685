package identity

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/meetgraph/pkg/graph"
)

// StaffMember is one entry of the internal-staff thesaurus.
type StaffMember struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Aliases    []string `yaml:"aliases"`
	Role       string   `yaml:"role"`
	Department string   `yaml:"department"`

	// NodeID is set when the entry was read from the graph.
	NodeID graph.NodeID `yaml:"-"`
}

// ExternalContact is one entry of the external-contacts directory.
type ExternalContact struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Aliases         []string `yaml:"aliases"`
	Organization    string   `yaml:"organization"`
	PartnershipTier string   `yaml:"partnership_tier"`

	NodeID graph.NodeID `yaml:"-"`
}

// Roster is a read-only snapshot of known identities. A Roster is passed
// explicitly to every resolution call and is never mutated by the resolver.
//
// Example file:
//
//	staff:
//	  - id: carlos
//	    name: Carlos Silva
//	    role: Engineering Manager
//	    department: Engineering
//	  - id: maria
//	    name: Maria Santos
//	    aliases: ["M. Santos"]
//	external:
//	  - id: ana-acme
//	    name: Ana Costa
//	    organization: ACME
//	    partnership_tier: gold
type Roster struct {
	Staff    []StaffMember     `yaml:"staff"`
	External []ExternalContact `yaml:"external"`
}

// LoadRosterFile reads a roster YAML file from disk.
func LoadRosterFile(path string) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity: open roster %q: %w", path, err)
	}
	defer f.Close()

	r, err := LoadRosterFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("identity: parse roster %q: %w", path, err)
	}
	return r, nil
}

// LoadRosterFromReader decodes roster YAML and validates it.
func LoadRosterFromReader(rd io.Reader) (*Roster, error) {
	var r Roster
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil && err != io.EOF {
		return nil, fmt.Errorf("identity: decode roster yaml: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks that every entry has an id and a name and that ids are
// unique within each directory.
func (r *Roster) Validate() error {
	seen := make(map[string]bool)
	for i, s := range r.Staff {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("identity: staff[%d]: id and name are required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("identity: staff[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
	}
	clear(seen)
	for i, e := range r.External {
		if strings.TrimSpace(e.ID) == "" || strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("identity: external[%d]: id and name are required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("identity: external[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// Merge returns a new roster holding the entries of r followed by those of
// other whose ids r does not already contain.
func (r *Roster) Merge(other *Roster) *Roster {
	out := &Roster{
		Staff:    slices.Clone(r.Staff),
		External: slices.Clone(r.External),
	}
	if other == nil {
		return out
	}
	for _, s := range other.Staff {
		if !slices.ContainsFunc(out.Staff, func(x StaffMember) bool { return x.ID == s.ID }) {
			out.Staff = append(out.Staff, s)
		}
	}
	for _, e := range other.External {
		if !slices.ContainsFunc(out.External, func(x ExternalContact) bool { return x.ID == e.ID }) {
			out.External = append(out.External, e)
		}
	}
	return out
}

// StaffByID returns the staff member with the given id.
func (r *Roster) StaffByID(id string) (StaffMember, bool) {
	for _, s := range r.Staff {
		if s.ID == id {
			return s, true
		}
	}
	return StaffMember{}, false
}

// ExternalByID returns the external contact with the given id.
func (r *Roster) ExternalByID(id string) (ExternalContact, bool) {
	for _, e := range r.External {
		if e.ID == id {
			return e, true
		}
	}
	return ExternalContact{}, false
}

// Departments returns the distinct non-empty staff departments in roster
// order.
func (r *Roster) Departments() []string {
	var out []string
	for _, s := range r.Staff {
		if s.Department != "" && !slices.Contains(out, s.Department) {
			out = append(out, s.Department)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Graph-backed roster
// ─────────────────────────────────────────────────────────────────────────────

// Property keys used on Person and ExternalContact nodes.
const (
	PropRosterID        = "roster_id"
	PropAliases         = "aliases"
	PropRole            = "role"
	PropDepartment      = "department"
	PropOrganization    = "organization"
	PropPartnershipTier = "partnership_tier"
)

// rosterQueryLimit bounds each directory read from the graph.
const rosterQueryLimit = 5000

// RosterFromGraph builds a snapshot from Person and ExternalContact nodes.
// A node without a roster_id property is keyed by its node id.
func RosterFromGraph(ctx context.Context, g graph.Reader) (*Roster, error) {
	people, err := g.FindNodes(ctx, graph.NodeQuery{Kinds: []graph.Kind{graph.KindPerson}, Limit: rosterQueryLimit})
	if err != nil {
		return nil, fmt.Errorf("identity: read staff from graph: %w", err)
	}
	contacts, err := g.FindNodes(ctx, graph.NodeQuery{Kinds: []graph.Kind{graph.KindExternalContact}, Limit: rosterQueryLimit})
	if err != nil {
		return nil, fmt.Errorf("identity: read external contacts from graph: %w", err)
	}

	r := &Roster{}
	for _, n := range people {
		r.Staff = append(r.Staff, StaffMember{
			ID:         rosterID(n),
			Name:       n.Name,
			Aliases:    stringList(n.Props[PropAliases]),
			Role:       stringProp(n.Props, PropRole),
			Department: stringProp(n.Props, PropDepartment),
			NodeID:     n.ID,
		})
	}
	for _, n := range contacts {
		r.External = append(r.External, ExternalContact{
			ID:              rosterID(n),
			Name:            n.Name,
			Aliases:         stringList(n.Props[PropAliases]),
			Organization:    stringProp(n.Props, PropOrganization),
			PartnershipTier: stringProp(n.Props, PropPartnershipTier),
			NodeID:          n.ID,
		})
	}
	return r, nil
}

// AliasesOf returns the aliases property of n.
func AliasesOf(n graph.Node) []string {
	return stringList(n.Props[PropAliases])
}

func rosterID(n graph.Node) string {
	if id := stringProp(n.Props, PropRosterID); id != "" {
		return id
	}
	return string(n.ID)
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

// stringList accepts both []string (in-process stores) and []any (values
// decoded from JSON).
func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return slices.Clone(vv)
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

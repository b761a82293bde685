package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/meetgraph/internal/curation"
	"github.com/MrWong99/meetgraph/internal/extraction"
	"github.com/MrWong99/meetgraph/internal/matcher"
	"github.com/MrWong99/meetgraph/pkg/graph"
)

// errUnknownAction is returned for an action name not in [actions].
var errUnknownAction = errors.New("api: unknown action")

// actionFunc applies one curator action to a workspace.
type actionFunc func(ctx context.Context, s *Server, ws *curation.Workspace, req actionRequest) error

// actions maps the action names accepted by POST /v1/sessions/{id}/actions.
var actions = map[string]actionFunc{
	"accept": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.Accept(curation.RecordID(req.ID))
	},
	"reject": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.Reject(curation.RecordID(req.ID))
	},
	"toggle": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.Toggle(curation.RecordID(req.ID))
	},
	"set_value": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetValue(curation.RecordID(req.ID), req.Value)
	},
	"set_description": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetDescription(curation.RecordID(req.ID), req.Value)
	},
	"set_classification": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetClassification(curation.RecordID(req.ID), curation.Classification(req.Value))
	},
	"set_visibility": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetVisibility(curation.RecordID(req.ID), curation.Visibility(req.Value))
	},
	"set_tier": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetTier(curation.RecordID(req.ID), curation.Tier(req.Value))
	},
	"set_person": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetPerson(curation.RecordID(req.ID), req.Value)
	},
	"set_deadline": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetDeadline(curation.RecordID(req.ID), req.Value)
	},
	"set_priority": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetPriority(curation.RecordID(req.ID), req.Value)
	},
	"set_entity_kind": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SetEntityKind(curation.RecordID(req.ID), extraction.EntityKind(req.Value))
	},
	"convert_to_external_contact": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		var c curation.Contact
		if req.Contact != nil {
			c = curation.Contact{Name: req.Contact.Name, Organization: req.Contact.Organization, PartnershipTier: req.Contact.PartnershipTier}
		}
		return ws.ConvertToExternalContact(curation.RecordID(req.ID), c)
	},
	"accept_suggestion": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.AcceptSuggestion(curation.RecordID(req.ID))
	},
	"reject_suggestion": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.RejectSuggestion(curation.RecordID(req.ID))
	},
	"link":   linkAction,
	"unlink": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.Unlink(curation.RecordID(req.ID))
	},
	"select_candidate": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		return ws.SelectCandidate(curation.RecordID(req.ID), req.CandidateID)
	},
	"relate": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		t := graph.EdgeType(req.Type)
		if t == "" {
			t = graph.EdgeRelatedTo
		}
		return ws.Relate(extraction.FactID(req.From), extraction.FactID(req.To), t)
	},
	"set_meeting": func(_ context.Context, _ *Server, ws *curation.Workspace, req actionRequest) error {
		if req.Meeting == nil {
			return fmt.Errorf("%w: meeting is required", curation.ErrInvalidValue)
		}
		m, err := req.Meeting.toMeeting()
		if err != nil {
			return err
		}
		// Extraction output is not editable through this action.
		cur := ws.Meeting()
		m.Summary, m.Topics, m.DurationSeconds = cur.Summary, cur.Topics, cur.DurationSeconds
		ws.SetMeeting(m)
		return nil
	},
	"reset": func(_ context.Context, _ *Server, ws *curation.Workspace, _ actionRequest) error {
		ws.Reset()
		return nil
	},
}

// linkAction links a mentioned entity to a node picked by the curator. The
// node is read from the graph for its canonical name and label.
func linkAction(ctx context.Context, s *Server, ws *curation.Workspace, req actionRequest) error {
	if req.NodeID == "" {
		return fmt.Errorf("%w: nodeId is required", curation.ErrInvalidValue)
	}
	n, err := s.graph.GetNode(ctx, graph.NodeID(req.NodeID))
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			return fmt.Errorf("%w: node %q does not exist", curation.ErrInvalidValue, req.NodeID)
		}
		return err
	}
	return ws.LinkTo(curation.RecordID(req.ID), matcher.Link{NodeID: n.ID, Name: n.Name, Kind: n.Kind, Score: 1})
}

func (s *Server) apply(ctx context.Context, ws *curation.Workspace, req actionRequest) error {
	fn, ok := actions[req.Action]
	if !ok {
		return fmt.Errorf("%w %q", errUnknownAction, req.Action)
	}
	return fn(ctx, s, ws, req)
}

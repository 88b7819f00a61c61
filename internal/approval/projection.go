package approval

import (
	"time"

	"github.com/demon-systems/demon/internal/eventlog"
)

// Resolution is the terminal outcome of a gate, if any.
type Resolution string

const (
	ResolutionNone     Resolution = ""
	ResolutionGranted  Resolution = "granted"
	ResolutionDenied   Resolution = "denied"
	ResolutionOverride Resolution = "override"
)

// GateView is a gate's pure-projected state, folded from the run's ordered
// event list filtered to one gateID. Never stored; callers refold on every
// read, same as ritual.RunView.
type GateView struct {
	GateID       string
	Requested    bool
	Requester    string
	Reason       string
	Resolution   Resolution
	Approver     string
	DenyReason   string
	Escalation   *State
	RequestedAt  time.Time
}

// requestedPayload is approval.requested:v1's wire shape.
type requestedPayload struct {
	GateID    string `json:"gateId"`
	Requester string `json:"requester"`
	Reason    string `json:"reason,omitempty"`
}

// grantedPayload is approval.granted:v1's wire shape.
type grantedPayload struct {
	GateID   string `json:"gateId"`
	Approver string `json:"approver"`
}

// deniedPayload is approval.denied:v1's wire shape.
type deniedPayload struct {
	GateID   string `json:"gateId"`
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

// escalatedPayload is approval.escalated:v1's wire shape.
type escalatedPayload struct {
	GateID         string `json:"gateId"`
	FromLevel      uint32 `json:"fromLevel"`
	ToLevel        uint32 `json:"toLevel"`
	Reason         string `json:"reason"`
	EscalationState State `json:"escalationState"`
}

// overridePayload is approval.override:v1's wire shape.
type overridePayload struct {
	GateID       string `json:"gateId"`
	OverrideLevel uint32 `json:"overrideLevel"`
	Approver     string `json:"approver"`
	Note         string `json:"note,omitempty"`
}

// ProjectGate folds records (already filtered to one run) down to the
// current view of gateID. Records for other gates are ignored, so callers
// may pass a whole run's event list.
func ProjectGate(gateID string, records []eventlog.Record) GateView {
	view := GateView{GateID: gateID}

	for _, rec := range records {
		switch rec.Event {
		case "approval.requested:v1":
			var p requestedPayload
			if rec.Decode(&p) != nil || p.GateID != gateID {
				continue
			}
			view.Requested = true
			view.Requester = p.Requester
			view.Reason = p.Reason
			view.RequestedAt = rec.Timestamp
		case "approval.granted:v1":
			var p grantedPayload
			if rec.Decode(&p) != nil || p.GateID != gateID {
				continue
			}
			if view.Resolution == ResolutionNone {
				view.Resolution = ResolutionGranted
				view.Approver = p.Approver
			}
		case "approval.denied:v1":
			var p deniedPayload
			if rec.Decode(&p) != nil || p.GateID != gateID {
				continue
			}
			if view.Resolution == ResolutionNone {
				view.Resolution = ResolutionDenied
				view.Approver = p.Approver
				view.DenyReason = p.Reason
			}
		case "approval.escalated:v1":
			var p escalatedPayload
			if rec.Decode(&p) != nil || p.GateID != gateID {
				continue
			}
			st := p.EscalationState
			view.Escalation = &st
		case "approval.override:v1":
			var p overridePayload
			if rec.Decode(&p) != nil || p.GateID != gateID {
				continue
			}
			if view.Resolution == ResolutionNone {
				view.Resolution = ResolutionOverride
				view.Approver = p.Approver
			}
			if view.Escalation != nil {
				view.Escalation.MarkEmergencyOverride()
			}
		}
	}
	return view
}

// Terminal reports whether the gate already has a binding resolution.
func (v GateView) Terminal() bool {
	return v.Resolution != ResolutionNone
}

package ritual

import (
	"encoding/json"

	"github.com/demon-systems/demon/internal/eventlog"
)

// RunView is the pure-projected current state of a run, folded from its
// ordered event list. It is never stored; callers refold on every read.
type RunView struct {
	RunID       string
	RitualID    string
	Status      Status
	CurrentStep string // step ID the run is Running or Gated at, if any
	GatedOn     string // gate ID, set iff Status == StatusGated
	Outputs     json.RawMessage
	Error       string
	Events      []eventlog.Record
}

// Project folds an ordered event list for one run into its current view
// (§4.2's reconstruction rule). The fold is pure: it never reads anything
// but records.
func Project(runID, ritualID string, records []eventlog.Record) RunView {
	view := RunView{RunID: runID, RitualID: ritualID, Status: StatusIdle, Events: records}

	for _, rec := range records {
		switch rec.Event {
		case "ritual.started:v1":
			view.Status = StatusRunning
		case "ritual.transitioned:v1":
			var payload ritualTransitioned
			if err := rec.Decode(&payload); err != nil {
				continue
			}
			view.CurrentStep = payload.StepID
			if payload.StateTo == string(StatusGated) {
				view.Status = StatusGated
			} else {
				view.Status = StatusRunning
			}
		case "approval.requested:v1":
			var payload struct {
				GateID string `json:"gateId"`
			}
			if err := rec.Decode(&payload); err == nil {
				view.Status = StatusGated
				view.GatedOn = payload.GateID
			}
		case "approval.granted:v1", "approval.denied:v1":
			// A resolved gate un-gates the run; advance() will pick the next
			// step. The run's status only becomes terminal via an explicit
			// terminal ritual event.
			if view.Status == StatusGated {
				view.Status = StatusRunning
				view.GatedOn = ""
			}
		case "ritual.completed:v1":
			var payload ritualTerminal
			_ = rec.Decode(&payload)
			view.Status = StatusCompleted
			view.Outputs = payload.Outputs
		case "ritual.failed:v1":
			var payload ritualTerminal
			_ = rec.Decode(&payload)
			view.Status = StatusFailed
			view.Error = payload.Error
		}
	}
	return view
}

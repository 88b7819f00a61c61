// Package projection builds read-only views over the event log for the
// operator HTTP surface (§6): a run's current and historical state, always
// refolded from records rather than cached as a system of record.
package projection

import (
	"context"
	"fmt"
	"sort"

	"github.com/demon-systems/demon/internal/envelope"
	"github.com/demon-systems/demon/internal/eventlog"
	"github.com/demon-systems/demon/internal/ritual"
)

// RunSummary is one row of a run list: cheaper than a full RunView because
// callers listing many runs don't need every event replayed into the
// response, only the derived status.
type RunSummary struct {
	RunID       string        `json:"runId"`
	RitualID    string        `json:"ritualId"`
	App         string        `json:"app,omitempty"`
	Status      ritual.Status `json:"status"`
	CurrentStep string        `json:"currentStep,omitempty"`
	GatedOn     string        `json:"gatedOn,omitempty"`
}

// ListFilter narrows ListRuns. Zero values mean "no filter".
type ListFilter struct {
	App    string
	Status ritual.Status
	Limit  int
}

// startedParameters is the subset of ritual.started:v1's free-form
// parameters this package reads directly, without ritual.Project's
// involvement: "app" is a caller-supplied label, not part of the run state
// machine, so it is extracted here rather than added to ritual.RunView.
type startedParameters struct {
	App string `json:"app"`
}

// runApp returns the "app" label a run was started with, if any.
func runApp(records []eventlog.Record) string {
	for _, rec := range records {
		if rec.Event != "ritual.started:v1" {
			continue
		}
		var started struct {
			Parameters startedParameters `json:"parameters"`
		}
		if rec.Decode(&started) == nil {
			return started.Parameters.App
		}
	}
	return ""
}

// ListRuns projects every run of (tenant, ritualID) known to the log,
// grouped by run ID from the wildcard subject filter, newest-appended-event
// first. There is no run index separate from the event log itself: a run
// "exists" the moment its first event lands on its subject.
func ListRuns(ctx context.Context, log eventlog.Log, tenant, ritualID string, filter ListFilter) ([]RunSummary, error) {
	subjectFilter := eventlog.RitualSubjectFilter(tenant, ritualID, "*")
	records, err := log.FetchBySubject(ctx, subjectFilter, eventlog.DeliverAll)
	if err != nil {
		return nil, fmt.Errorf("list runs for ritual %s: %w", ritualID, err)
	}

	byRun := make(map[string][]eventlog.Record)
	var order []string
	for _, rec := range records {
		parsed, ok := eventlog.ParseRitualSubject(rec.Subject)
		if !ok {
			continue
		}
		if _, seen := byRun[parsed.Run]; !seen {
			order = append(order, parsed.Run)
		}
		byRun[parsed.Run] = append(byRun[parsed.Run], rec)
	}

	// Newest-last-appended run first: find each run's latest sequence.
	sort.Slice(order, func(i, j int) bool {
		return latestSequence(byRun[order[i]]) > latestSequence(byRun[order[j]])
	})

	out := make([]RunSummary, 0, len(order))
	for _, runID := range order {
		view := ritual.Project(runID, ritualID, byRun[runID])
		if filter.Status != "" && view.Status != filter.Status {
			continue
		}
		app := runApp(byRun[runID])
		if filter.App != "" && app != filter.App {
			continue
		}
		out = append(out, RunSummary{
			RunID:       view.RunID,
			RitualID:    view.RitualID,
			App:         app,
			Status:      view.Status,
			CurrentStep: view.CurrentStep,
			GatedOn:     view.GatedOn,
		})
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// GetRun projects a single run's full view. ok is false if the run has no
// events on its subject at all.
func GetRun(ctx context.Context, log eventlog.Log, tenant, ritualID, runID string) (ritual.RunView, bool, error) {
	subject := eventlog.RitualSubject(tenant, ritualID, runID)
	records, err := log.FetchBySubject(ctx, subject, eventlog.DeliverAll)
	if err != nil {
		return ritual.RunView{}, false, fmt.Errorf("get run %s: %w", runID, err)
	}
	if len(records) == 0 {
		return ritual.RunView{}, false, nil
	}
	return ritual.Project(runID, ritualID, records), true, nil
}

// RunEnvelope derives the run's terminal envelope from its projected view.
// ok is false if the run is not yet terminal (§6: 404 on a non-terminal
// envelope request).
func RunEnvelope(view ritual.RunView) (envelope.Envelope, bool) {
	switch view.Status {
	case ritual.StatusCompleted:
		b := envelope.NewBuilder().Success(view.Outputs)
		env, err := b.Build()
		if err != nil {
			return envelope.Envelope{}, false
		}
		return env, true
	case ritual.StatusFailed:
		b := envelope.NewBuilder().ErrorWithCode(view.Error, "RUN_FAILED")
		env, err := b.Build()
		if err != nil {
			return envelope.Envelope{}, false
		}
		return env, true
	default:
		return envelope.Envelope{}, false
	}
}

func latestSequence(records []eventlog.Record) uint64 {
	var max uint64
	for _, rec := range records {
		if rec.Sequence > max {
			max = rec.Sequence
		}
	}
	return max
}

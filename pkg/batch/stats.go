package batch

import "sync/atomic"

// Statistics aggregates conflict and conversion outcomes across all workers.
// All counters are monotonically increasing and safe for concurrent use; a
// task's outcome is folded exactly once, when it reaches a terminal status.
type Statistics struct {
	totalChecked      atomic.Int64
	conflictsDetected atomic.Int64
	skipped           atomic.Int64
	overwritten       atomic.Int64
	renamed           atomic.Int64
	succeeded         atomic.Int64
	failed            atomic.Int64
	cancelled         atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters, safe to hand to
// hooks and reports.
type StatsSnapshot struct {
	TotalChecked      int64 `json:"totalChecked"`
	ConflictsDetected int64 `json:"conflictsDetected"`
	Skipped           int64 `json:"skipped"`
	Overwritten       int64 `json:"overwritten"`
	Renamed           int64 `json:"renamed"`
	Succeeded         int64 `json:"succeeded"`
	Failed            int64 `json:"failed"`
	Cancelled         int64 `json:"cancelled"`
}

// RecordDecision folds a conflict decision. Called at most once per task,
// alongside RecordOutcome, once the task has settled.
func (s *Statistics) RecordDecision(d ConflictDecision) {
	if !d.Conflicted {
		return
	}
	s.conflictsDetected.Add(1)
	switch d.Policy {
	case PolicySkip:
		s.skipped.Add(1)
	case PolicyOverwrite:
		s.overwritten.Add(1)
	case PolicyRename:
		s.renamed.Add(1)
	}
}

// RecordOutcome folds a task's terminal status. Cancelled tasks are tracked
// separately and excluded from the conservation equations, since they never
// completed a conflict check or a conversion.
func (s *Statistics) RecordOutcome(status Status) {
	switch status {
	case StatusSucceeded:
		s.succeeded.Add(1)
		s.totalChecked.Add(1)
	case StatusFailed:
		s.failed.Add(1)
		s.totalChecked.Add(1)
	case StatusSkipped:
		s.totalChecked.Add(1)
		// The skipped counter itself is maintained by RecordDecision; a task
		// only ends skipped through a skip decision.
	case StatusCancelled:
		s.cancelled.Add(1)
	}
}

// Snapshot returns a copy of the current counter values.
func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalChecked:      s.totalChecked.Load(),
		ConflictsDetected: s.conflictsDetected.Load(),
		Skipped:           s.skipped.Load(),
		Overwritten:       s.overwritten.Load(),
		Renamed:           s.renamed.Load(),
		Succeeded:         s.succeeded.Load(),
		Failed:            s.failed.Load(),
		Cancelled:         s.cancelled.Load(),
	}
}

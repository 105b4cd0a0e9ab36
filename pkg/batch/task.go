package batch

import "time"

// Task is one file's conversion unit. A task is created by the engine at
// enqueue time and from then on is owned exclusively by the single worker
// processing it; no two workers ever touch the same task concurrently, so
// its fields need no locking.
type Task struct {
	// ID is unique within a run and immutable after enqueue.
	ID int64
	// SourcePath is the absolute path of the input file.
	SourcePath string
	// OutputPath is mutable until conflict resolution completes, then frozen.
	OutputPath string
	// Phase tracks the task through the progress state machine.
	Phase Phase
	// Attempt counts conversion attempts, starting at 0.
	Attempt int
	// LastError holds the most recent failure; overwritten on each failed
	// attempt.
	LastError error
	// Status is terminal once set to a terminal value.
	Status Status

	startedAt time.Time
	duration  time.Duration
}

// ConflictDecision is the outcome of resolving one output path collision.
type ConflictDecision struct {
	// Policy is the policy that produced the decision. When the target did
	// not exist there is no real conflict and Policy reports overwrite.
	Policy ConflictPolicy
	// ResolvedPath is the path the caller must write to (or must not write
	// to at all, when Policy is skip).
	ResolvedPath string
	// RenameCounter is the counter that produced ResolvedPath under the
	// rename policy, 0 if no rename occurred.
	RenameCounter int
	// Conflicted reports whether the target path actually existed.
	Conflicted bool
}

// ShouldWrite reports whether the caller is allowed to write the output file.
func (d ConflictDecision) ShouldWrite() bool { return d.Policy != PolicySkip }

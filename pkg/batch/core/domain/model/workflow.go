package model

import (
	"fmt"
	"time"
)

// RepeatPolicy says how often a workflow step's action runs within one run.
type RepeatPolicy string

const (
	// RepeatOnce runs the action a single time.
	RepeatOnce RepeatPolicy = "once"
	// RepeatUntilZero reruns the action until it reports a remaining count of zero
	// or the iteration bound is reached.
	RepeatUntilZero RepeatPolicy = "repeat-until-zero"
)

// ParseRepeatPolicy converts a configuration value into a RepeatPolicy.
func ParseRepeatPolicy(s string) (RepeatPolicy, error) {
	switch RepeatPolicy(s) {
	case RepeatOnce, RepeatUntilZero:
		return RepeatPolicy(s), nil
	}
	return "", fmt.Errorf("unknown repeat policy %q", s)
}

// BatchWorkflowConfig describes one named workflow step.
// It is administered outside the executor, which only reads it.
type BatchWorkflowConfig struct {
	Code          string
	Name          string
	Description   string
	RepeatPolicy  RepeatPolicy
	MaxIterations int
	Enabled       bool
	SortOrder     int
	UpdatedAt     time.Time
}

// Validate checks that the config can drive a run.
func (c BatchWorkflowConfig) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("workflow config has empty code")
	}
	if _, err := ParseRepeatPolicy(string(c.RepeatPolicy)); err != nil {
		return fmt.Errorf("workflow %s: %w", c.Code, err)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("workflow %s: max iterations must be at least 1, got %d", c.Code, c.MaxIterations)
	}
	return nil
}

// EffectiveMaxIterations is the iteration bound actually applied: 1 for RepeatOnce.
func (c BatchWorkflowConfig) EffectiveMaxIterations() int {
	if c.RepeatPolicy == RepeatOnce {
		return 1
	}
	return c.MaxIterations
}

// RunStatus is the status recorded on a BatchRun row.
type RunStatus string

const (
	RunStatusRunning              RunStatus = "running"
	RunStatusSucceeded            RunStatus = "succeeded"
	RunStatusFailed               RunStatus = "failed"
	RunStatusAbortedMaxIterations RunStatus = "aborted-max-iterations"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string { return string(s) }

// IsFinished reports whether the status ends a run.
func (s RunStatus) IsFinished() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusAbortedMaxIterations
}

// RunState is a state of the per-run workflow state machine.
type RunState string

const (
	StateIdle                 RunState = "idle"
	StateRunning              RunState = "running"
	StateSucceeded            RunState = "succeeded"
	StateFailed               RunState = "failed"
	StateAbortedMaxIterations RunState = "aborted-max-iterations"
)

// IsTerminal reports whether no further transition leaves the state.
func (s RunState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAbortedMaxIterations
}

var transitions = map[RunState][]RunState{
	StateIdle:    {StateRunning},
	StateRunning: {StateSucceeded, StateFailed, StateAbortedMaxIterations},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to RunState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateOf maps the status of the last BatchRun row of a run to the run's state.
func StateOf(status RunStatus) RunState {
	switch status {
	case RunStatusSucceeded:
		return StateSucceeded
	case RunStatusFailed:
		return StateFailed
	case RunStatusAbortedMaxIterations:
		return StateAbortedMaxIterations
	case RunStatusRunning:
		return StateRunning
	}
	return StateIdle
}

// BatchRun is one iteration of a workflow run, as written to the batch log.
// Rows are appended, never updated.
type BatchRun struct {
	ID           int64
	WorkflowCode string
	RunID        string
	Iteration    int
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   time.Time
	Duration     time.Duration
	TriggeredBy  string
	// Remaining is the terminating-condition value reported by the step action, if any.
	Remaining    *int64
	ErrorMessage string
}

// RunResult is what a completed workflow run reports to its caller.
type RunResult struct {
	RunID         string
	WorkflowCode  string
	State         RunState
	Iterations    int
	LastRemaining *int64
	StartedAt     time.Time
	FinishedAt    time.Time
	TriggeredBy   string
	Err           error
}

// WorkflowStatus is the operator view of one workflow code.
type WorkflowStatus struct {
	Config     BatchWorkflowConfig
	State      RunState
	ActiveRun  string
	HeldSince  time.Time
	RecentRuns []BatchRun
}

package model

import "fmt"

// PhaseStatus is the execution status of one phase entry.
type PhaseStatus string

const (
	PhaseNotExecuted PhaseStatus = "NOT_EXECUTED"
	PhaseInProgress  PhaseStatus = "IN_PROGRESS"
	PhaseExecuted    PhaseStatus = "EXECUTED"
	PhaseSkipped     PhaseStatus = "SKIPPED"
)

// Outcome is the recorded result of an executed phase.
type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeFail Outcome = "FAIL"
)

// StepStatus is the top-level status of a step file.
type StepStatus string

const (
	StepInProgress StepStatus = "IN_PROGRESS"
	StepDone       StepStatus = "DONE"
	StepFailed     StepStatus = "FAILED"
	StepCompleted  StepStatus = "COMPLETED"
)

var terminalPhaseStatuses = map[PhaseStatus]bool{
	PhaseExecuted: true,
	PhaseSkipped:  true,
}

// Phase entry transitions: NOT_EXECUTED → IN_PROGRESS → EXECUTED|SKIPPED.
// A phase may also be skipped before it is started.
var validPhaseTransitions = map[PhaseStatus]map[PhaseStatus]bool{
	PhaseNotExecuted: {
		PhaseInProgress: true,
		PhaseSkipped:    true,
	},
	PhaseInProgress: {
		PhaseExecuted: true,
		PhaseSkipped:  true,
	},
}

func (s PhaseStatus) Valid() bool {
	switch s {
	case PhaseNotExecuted, PhaseInProgress, PhaseExecuted, PhaseSkipped:
		return true
	}
	return false
}

func (o Outcome) Valid() bool {
	return o == OutcomePass || o == OutcomeFail
}

func IsPhaseTerminal(s PhaseStatus) bool {
	return terminalPhaseStatuses[s]
}

// ValidatePhaseTransition reports whether an entry may move from one status to another.
// DES never performs transitions itself; the table documents the states it audits.
func ValidatePhaseTransition(from, to PhaseStatus) error {
	if IsPhaseTerminal(from) {
		return fmt.Errorf("cannot transition from terminal phase status %q", from)
	}
	allowed, ok := validPhaseTransitions[from]
	if !ok {
		return fmt.Errorf("unknown phase status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid phase transition: %q → %q", from, to)
	}
	return nil
}

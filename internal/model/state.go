package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// StepFile is the persisted state of one execution step.
type StepFile struct {
	document

	TaskID    string    `json:"task_id"`
	ProjectID string    `json:"project_id"`
	State     *State    `json:"state"`
	TDDCycle  *TDDCycle `json:"tdd_cycle"`
}

type State struct {
	document

	Status              StepStatus `json:"status"`
	StartedAt           *string    `json:"started_at"`
	CompletedAt         *string    `json:"completed_at"`
	FailureReason       *string    `json:"failure_reason"`
	RecoverySuggestions []string   `json:"recovery_suggestions"`
}

type TDDCycle struct {
	document

	PhaseExecutionLog      []PhaseExecutionEntry `json:"phase_execution_log"`
	MaxTurns               *int                  `json:"max_turns"`
	DurationMinutes        *int                  `json:"duration_minutes"`
	TotalExtensionsMinutes *int                  `json:"total_extensions_minutes"`
	SchemaVersion          SchemaVersion         `json:"schema_version"`
}

type PhaseExecutionEntry struct {
	document

	PhaseName         string            `json:"phase_name"`
	PhaseIndex        int               `json:"phase_index"`
	Status            PhaseStatus       `json:"status"`
	Outcome           *Outcome          `json:"outcome"`
	BlockedBy         *string           `json:"blocked_by"`
	TurnCount         *int              `json:"turn_count"`
	MaxTurns          *int              `json:"max_turns"`
	TimeoutMinutes    *int              `json:"timeout_minutes"`
	DurationSeconds   *int              `json:"duration_seconds"`
	ExtensionsGranted []ExtensionRecord `json:"extensions_granted"`
}

type ExtensionRecord struct {
	document

	Reason            string `json:"reason"`
	AdditionalTurns   *int   `json:"additional_turns"`
	AdditionalMinutes *int   `json:"additional_minutes"`
	GrantedAt         string `json:"granted_at"`
}

// SchemaVersion accepts both "2.0" and 2.0 in JSON and always writes a string.
type SchemaVersion string

func (v *SchemaVersion) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = ""
		return nil
	}
	if strings.HasPrefix(string(data), `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = SchemaVersion(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*v = SchemaVersion(strconv.FormatFloat(f, 'f', 1, 64))
	return nil
}

func (s StepFile) MarshalJSON() ([]byte, error) {
	type alias StepFile
	return s.encode(alias(s))
}

func (s *StepFile) UnmarshalJSON(data []byte) error {
	type alias StepFile
	a := (*alias)(s)
	return a.decode(data, a)
}

func (s State) MarshalJSON() ([]byte, error) {
	type alias State
	return s.encode(alias(s))
}

func (s *State) UnmarshalJSON(data []byte) error {
	type alias State
	a := (*alias)(s)
	return a.decode(data, a)
}

func (c TDDCycle) MarshalJSON() ([]byte, error) {
	type alias TDDCycle
	return c.encode(alias(c))
}

func (c *TDDCycle) UnmarshalJSON(data []byte) error {
	type alias TDDCycle
	a := (*alias)(c)
	return a.decode(data, a)
}

func (e PhaseExecutionEntry) MarshalJSON() ([]byte, error) {
	type alias PhaseExecutionEntry
	return e.encode(alias(e))
}

func (e *PhaseExecutionEntry) UnmarshalJSON(data []byte) error {
	type alias PhaseExecutionEntry
	a := (*alias)(e)
	return a.decode(data, a)
}

func (r ExtensionRecord) MarshalJSON() ([]byte, error) {
	type alias ExtensionRecord
	return r.encode(alias(r))
}

func (r *ExtensionRecord) UnmarshalJSON(data []byte) error {
	type alias ExtensionRecord
	a := (*alias)(r)
	return a.decode(data, a)
}

// Phases returns the phase log, or nil when the step has no tdd_cycle.
func (s *StepFile) Phases() []PhaseExecutionEntry {
	if s.TDDCycle == nil {
		return nil
	}
	return s.TDDCycle.PhaseExecutionLog
}

// EnsureState returns the state block, creating an empty one when absent.
func (s *StepFile) EnsureState() *State {
	if s.State == nil {
		s.State = &State{}
	}
	return s.State
}

// StepStatus returns the top-level status, or "" when no state block exists.
func (s *StepFile) StepStatus() StepStatus {
	if s.State == nil {
		return ""
	}
	return s.State.Status
}

// ActivePhase returns the first IN_PROGRESS entry.
func (s *StepFile) ActivePhase() (*PhaseExecutionEntry, bool) {
	if s.TDDCycle == nil {
		return nil, false
	}
	for i := range s.TDDCycle.PhaseExecutionLog {
		if s.TDDCycle.PhaseExecutionLog[i].Status == PhaseInProgress {
			return &s.TDDCycle.PhaseExecutionLog[i], true
		}
	}
	return nil, false
}

// MarkFailed sets the step to FAILED with a reason and suggestions.
func (s *StepFile) MarkFailed(reason string, suggestions []string) {
	st := s.EnsureState()
	st.Status = StepFailed
	st.FailureReason = &reason
	st.RecoverySuggestions = append([]string(nil), suggestions...)
}

// IntPtr is a convenience for the optional integer fields.
func IntPtr(v int) *int { return &v }

// StringPtr is a convenience for the optional string fields.
func StringPtr(v string) *string { return &v }

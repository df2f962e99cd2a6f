package model

// ValidationStatus is the verdict of a validator call.
type ValidationStatus string

const (
	ValidationPassed ValidationStatus = "PASSED"
	ValidationFailed ValidationStatus = "FAILED"
)

// ErrorType classifies post-execution findings.
type ErrorType string

const (
	ErrAbandonedPhase    ErrorType = "ABANDONED_PHASE"
	ErrSilentCompletion  ErrorType = "SILENT_COMPLETION"
	ErrMissingOutcome    ErrorType = "MISSING_OUTCOME"
	ErrInvalidSkip       ErrorType = "INVALID_SKIP"
	ErrTurnLimitExceeded ErrorType = "TURN_LIMIT_EXCEEDED"
	ErrTimeoutExceeded   ErrorType = "TIMEOUT_EXCEEDED"
	ErrMultipleErrors    ErrorType = "MULTIPLE_ERRORS"

	// Pre-invocation categories.
	ErrMissingSection  ErrorType = "MISSING_SECTION"
	ErrIncompletePhase ErrorType = "INCOMPLETE_PHASE"
)

// HookResult is the outcome of one post-execution validation.
type HookResult struct {
	ValidationStatus    ValidationStatus `json:"validation_status"`
	HookFired           bool             `json:"hook_fired"`
	AbandonedPhases     []string         `json:"abandoned_phases"`
	IncompletePhases    []string         `json:"incomplete_phases"`
	InvalidSkips        []string         `json:"invalid_skips"`
	NotExecutedPhases   int              `json:"not_executed_phases"`
	TurnLimitExceeded   bool             `json:"turn_limit_exceeded"`
	TimeoutExceeded     bool             `json:"timeout_exceeded"`
	ErrorCount          int              `json:"error_count"`
	ErrorType           ErrorType        `json:"error_type,omitempty"`
	ErrorMessage        string           `json:"error_message,omitempty"`
	RecoverySuggestions []string         `json:"recovery_suggestions"`
}

func (r *HookResult) Passed() bool {
	return r.ValidationStatus == ValidationPassed
}

// ValidationResult is the outcome of a pre-invocation prompt check.
// ErrorTypes holds the category of each entry in Errors, index for index.
type ValidationResult struct {
	Status                ValidationStatus `json:"status"`
	Errors                []string         `json:"errors"`
	ErrorTypes            []ErrorType      `json:"error_types"`
	TaskInvocationAllowed bool             `json:"task_invocation_allowed"`
	DurationMS            float64          `json:"duration_ms"`
	RecoveryGuidance      *string          `json:"recovery_guidance"`
}

// ApprovalResult is the decision on an extension request.
type ApprovalResult struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
	Phase    string `json:"phase,omitempty"`
	// Denial classifies a refusal; empty when approved.
	Denial string `json:"denial,omitempty"`
}

package recovery

// FailureMode is a failure category with a recovery template.
type FailureMode string

const (
	AbandonedPhase   FailureMode = "abandoned_phase"
	SilentCompletion FailureMode = "silent_completion"
	MissingSection   FailureMode = "missing_section"
	InvalidOutcome   FailureMode = "invalid_outcome"
	MissingPhase     FailureMode = "missing_phase"
	TimeoutFailure   FailureMode = "timeout_failure"
	AgentCrash       FailureMode = "agent_crash"
)

// Modes lists every known mode.
var Modes = []FailureMode{
	AbandonedPhase,
	SilentCompletion,
	MissingSection,
	InvalidOutcome,
	MissingPhase,
	TimeoutFailure,
	AgentCrash,
}

// DocsPointer is referenced by guidance for modes without a template.
const DocsPointer = "docs/des/recovery.md"

type template struct {
	why, how, action string
}

// templates returns the guidance for m; ok is false for modes outside Modes.
func templates(m FailureMode) (ts []template, ok bool) {
	switch m {
	case AbandonedPhase:
		return []template{
			{
				why:    "Phase {phase} was left in IN_PROGRESS when the agent stopped, so the step cannot be trusted as complete.",
				how:    "Reset the phase to NOT_EXECUTED in {step_file} and run it again from a clean state.",
				action: "des recover {step_file} --mode abandoned_phase --set phase={phase}",
			},
			{
				why:    "The agent transcript shows where work on {phase} stopped.",
				how:    "Read {transcript_path} around the last tool call for {phase} before retrying.",
				action: "less {transcript_path}",
			},
		}, true
	case SilentCompletion:
		return []template{
			{
				why:    "The agent returned without recording any phase in {step_file}.",
				how:    "Check that the prompt contains the OUTCOME_RECORDING section and re-run the step.",
				action: "des invoke {step_file} --prompt-file <prompt> -- <agent-cmd>",
			},
			{
				why:    "A silent return usually means the agent stopped before its first phase.",
				how:    "Inspect {transcript_path} for an early error or refusal.",
				action: "less {transcript_path}",
			},
		}, true
	case MissingSection:
		return []template{{
			why:    "The prompt is missing the mandatory section {section_name}, so invocation was blocked.",
			how:    "Add a '# {section_name}' header with its content to the prompt template.",
			action: "des validate-prompt --step {step_file} <prompt>",
		}}, true
	case InvalidOutcome:
		return []template{{
			why:    "Phase {phase} is marked EXECUTED without a PASS or FAIL outcome.",
			how:    "Record the real outcome of {phase} in {step_file} after checking the test results.",
			action: "des check {step_file}",
		}}, true
	case MissingPhase:
		return []template{{
			why:    "TDD phase {phase} is not mentioned in the prompt, so the agent would not execute it.",
			how:    "List {phase} in the TDD phase section of the prompt in canonical order.",
			action: "des validate-prompt --step {step_file} <prompt>",
		}}, true
	case TimeoutFailure:
		return []template{
			{
				why:    "The step used more time than its budget of {timeout_minutes} minutes.",
				how:    "Request an extension with a concrete justification before the budget runs out.",
				action: "des extend {step_file} --minutes <n> --reason \"<justification>\"",
			},
			{
				why:    "Long phases are a sign that the step covers too much work.",
				how:    "Split the remaining work of {phase} into smaller steps.",
				action: "des check {step_file}",
			},
		}, true
	case AgentCrash:
		return []template{{
			why:    "The agent process terminated unexpectedly: {error}.",
			how:    "Check {transcript_path} for the last action, repair {step_file} and re-run the step.",
			action: "des stop-hook {step_file}",
		}}, true
	}
	return nil, false
}

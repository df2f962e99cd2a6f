package hook

import (
	"fmt"
	"strings"

	"github.com/msageha/des/internal/model"
)

func singleMessage(f finding) string {
	switch f.typ {
	case model.ErrAbandonedPhase:
		return fmt.Sprintf("Phase %s left IN_PROGRESS (abandoned)", f.phase)
	case model.ErrSilentCompletion:
		return "Agent completed without updating step file (all phases NOT_EXECUTED)"
	case model.ErrMissingOutcome:
		return fmt.Sprintf("Phase %s marked EXECUTED without outcome", f.phase)
	case model.ErrInvalidSkip:
		return fmt.Sprintf("Phase %s marked SKIPPED without blocked_by reason", f.phase)
	case model.ErrTurnLimitExceeded:
		return fmt.Sprintf("Phase %s exceeded turn limit: %d turns used, max %d", f.phase, f.turnCount, f.maxTurns)
	case model.ErrTimeoutExceeded:
		return fmt.Sprintf("Timeout exceeded: %.1f minutes used, %.1f minutes allowed", f.usedMinutes, f.allowedMinutes)
	}
	return string(f.typ)
}

// categoryOrder fixes the order of details in the aggregated message.
var categoryOrder = []model.ErrorType{
	model.ErrAbandonedPhase,
	model.ErrSilentCompletion,
	model.ErrMissingOutcome,
	model.ErrInvalidSkip,
	model.ErrTurnLimitExceeded,
	model.ErrTimeoutExceeded,
}

func groupByType(findings []finding) map[model.ErrorType][]finding {
	groups := make(map[model.ErrorType][]finding)
	for _, f := range findings {
		groups[f.typ] = append(groups[f.typ], f)
	}
	return groups
}

func phaseNames(fs []finding) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.phase
	}
	return strings.Join(names, ", ")
}

func multiMessage(findings []finding) string {
	groups := groupByType(findings)
	var details []string
	for _, typ := range categoryOrder {
		fs := groups[typ]
		if len(fs) == 0 {
			continue
		}
		switch typ {
		case model.ErrAbandonedPhase:
			details = append(details, fmt.Sprintf("%d abandoned phase(s): %s", len(fs), phaseNames(fs)))
		case model.ErrSilentCompletion:
			details = append(details, "silent completion (no phases executed)")
		case model.ErrMissingOutcome:
			details = append(details, fmt.Sprintf("%d phase(s) missing outcome: %s", len(fs), phaseNames(fs)))
		case model.ErrInvalidSkip:
			details = append(details, fmt.Sprintf("%d invalid skip(s) without blocked_by: %s", len(fs), phaseNames(fs)))
		case model.ErrTurnLimitExceeded:
			parts := make([]string, len(fs))
			for i, f := range fs {
				parts[i] = fmt.Sprintf("%s (%d > %d turns)", f.phase, f.turnCount, f.maxTurns)
			}
			details = append(details, fmt.Sprintf("%d phase(s) exceeded turn limit: %s", len(fs), strings.Join(parts, ", ")))
		case model.ErrTimeoutExceeded:
			f := fs[0]
			details = append(details, fmt.Sprintf("timeout exceeded: %.1f min used > %.1f min allowed", f.usedMinutes, f.allowedMinutes))
		}
	}
	return fmt.Sprintf("%d validation error(s) found: %s", len(findings), strings.Join(details, "; "))
}

const minSuggestions = 3

// suggestions builds the recovery list: a transcript review first when more
// than one category fired, then category remedies, padded to minSuggestions.
func suggestions(findings []finding, stepPath string) []string {
	if stepPath == "" {
		stepPath = "<step-file>"
	}
	groups := groupByType(findings)
	categories := 0
	for _, typ := range categoryOrder {
		if len(groups[typ]) > 0 {
			categories++
		}
	}

	var out []string
	if categories > 1 {
		out = append(out, "Review the agent transcript to see why the step ended with several validation errors.")
	}
	for _, typ := range categoryOrder {
		fs := groups[typ]
		switch typ {
		case model.ErrAbandonedPhase:
			for _, f := range fs {
				out = append(out, fmt.Sprintf(
					"Reset phase %s to NOT_EXECUTED in the step file because it was left in IN_PROGRESS when the agent returned.", f.phase))
			}
			if len(fs) > 0 {
				out = append(out, fmt.Sprintf("Re-run the step after the reset with `des invoke %s --prompt-file <prompt> -- <agent-cmd>`.", stepPath))
			}
		case model.ErrSilentCompletion:
			if len(fs) > 0 {
				out = append(out,
					"Check the agent transcript because the agent returned without recording any phase in the step file.",
					fmt.Sprintf("Re-run the step with `des invoke %s --prompt-file <prompt> -- <agent-cmd>` and confirm the prompt contains the OUTCOME_RECORDING section.", stepPath))
			}
		case model.ErrMissingOutcome:
			for _, f := range fs {
				out = append(out, fmt.Sprintf(
					"Add an outcome of PASS or FAIL to phase %s because it is marked EXECUTED without one.", f.phase))
			}
		case model.ErrInvalidSkip:
			for _, f := range fs {
				out = append(out, fmt.Sprintf(
					"Add a blocked_by reason to phase %s because it is marked SKIPPED without one.", f.phase))
			}
		case model.ErrTurnLimitExceeded:
			for _, f := range fs {
				out = append(out, fmt.Sprintf(
					"Raise max_turns for phase %s because it used %d turns against a limit of %d, for example with `des extend %s --turns %d --reason \"<justification>\"`.",
					f.phase, f.turnCount, f.maxTurns, stepPath, f.turnCount-f.maxTurns))
			}
			if len(fs) > 0 {
				out = append(out, "Break the task into smaller steps so each phase fits within its turn budget.")
			}
		case model.ErrTimeoutExceeded:
			if len(fs) > 0 {
				f := fs[0]
				out = append(out,
					fmt.Sprintf("Request more time with `des extend %s --minutes <n> --reason \"<justification>\"` because the recorded phases took %.1f minutes against %.1f allowed.",
						stepPath, f.usedMinutes, f.allowedMinutes),
					"Break the task into smaller steps so the whole TDD cycle fits within the time budget.",
					"Move slow work such as long-running test suites out of the phase that exceeded the budget.")
			}
		}
	}

	padding := []string{
		"Review the agent transcript to find where execution diverged from the TDD cycle.",
		fmt.Sprintf("Run `des check %s` after fixing the step file to confirm it passes validation.", stepPath),
		"Consult docs/des/recovery.md for the full recovery procedure.",
	}
	for _, p := range padding {
		if len(dedupe(out)) >= minSuggestions {
			break
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

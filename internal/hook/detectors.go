package hook

import (
	"strings"

	"github.com/msageha/des/internal/model"
)

// Limits are the configured fallbacks used when a step file carries no
// budget of its own. Zero leaves the matching detector inert.
type Limits struct {
	DefaultMaxTurns        int
	DefaultDurationMinutes int
}

// finding is one detected deviation.
type finding struct {
	typ   model.ErrorType
	phase string

	turnCount int
	maxTurns  int

	usedMinutes    float64
	allowedMinutes float64
}

// detector inspects a step file under a schema. Every detector runs on every call.
type detector func(sf *model.StepFile, schema *model.PhaseSchema, limits Limits) []finding

var detectors = []detector{
	detectAbandoned,
	detectSilentCompletion,
	detectMissingOutcome,
	detectInvalidSkip,
	detectTurnLimit,
	detectTimeout,
}

// phasesWhere returns canonical-ordered names of entries matching pred.
func phasesWhere(sf *model.StepFile, schema *model.PhaseSchema, pred func(*model.PhaseExecutionEntry) bool) []string {
	var names []string
	log := sf.Phases()
	for i := range log {
		if pred(&log[i]) {
			names = append(names, log[i].PhaseName)
		}
	}
	return schema.Order(names)
}

func detectAbandoned(sf *model.StepFile, schema *model.PhaseSchema, _ Limits) []finding {
	var out []finding
	for _, p := range phasesWhere(sf, schema, func(e *model.PhaseExecutionEntry) bool {
		return e.Status == model.PhaseInProgress
	}) {
		out = append(out, finding{typ: model.ErrAbandonedPhase, phase: p})
	}
	return out
}

func detectSilentCompletion(sf *model.StepFile, _ *model.PhaseSchema, _ Limits) []finding {
	if sf.StepStatus() != model.StepInProgress {
		return nil
	}
	for _, e := range sf.Phases() {
		if e.Status != model.PhaseNotExecuted {
			return nil
		}
	}
	return []finding{{typ: model.ErrSilentCompletion}}
}

func detectMissingOutcome(sf *model.StepFile, schema *model.PhaseSchema, _ Limits) []finding {
	var out []finding
	for _, p := range phasesWhere(sf, schema, func(e *model.PhaseExecutionEntry) bool {
		return e.Status == model.PhaseExecuted && (e.Outcome == nil || *e.Outcome == "")
	}) {
		out = append(out, finding{typ: model.ErrMissingOutcome, phase: p})
	}
	return out
}

func detectInvalidSkip(sf *model.StepFile, schema *model.PhaseSchema, _ Limits) []finding {
	var out []finding
	for _, p := range phasesWhere(sf, schema, func(e *model.PhaseExecutionEntry) bool {
		return e.Status == model.PhaseSkipped && (e.BlockedBy == nil || strings.TrimSpace(*e.BlockedBy) == "")
	}) {
		out = append(out, finding{typ: model.ErrInvalidSkip, phase: p})
	}
	return out
}

// effectiveMaxTurns resolves entry override, then tdd_cycle, then config.
func effectiveMaxTurns(sf *model.StepFile, e *model.PhaseExecutionEntry, limits Limits) (int, bool) {
	if e.MaxTurns != nil {
		return *e.MaxTurns, true
	}
	if sf.TDDCycle != nil && sf.TDDCycle.MaxTurns != nil {
		return *sf.TDDCycle.MaxTurns, true
	}
	if limits.DefaultMaxTurns > 0 {
		return limits.DefaultMaxTurns, true
	}
	return 0, false
}

func detectTurnLimit(sf *model.StepFile, schema *model.PhaseSchema, limits Limits) []finding {
	over := make(map[string]finding)
	var names []string
	log := sf.Phases()
	for i := range log {
		e := &log[i]
		if e.TurnCount == nil {
			continue
		}
		limit, ok := effectiveMaxTurns(sf, e, limits)
		if !ok || *e.TurnCount <= limit {
			continue
		}
		if _, dup := over[e.PhaseName]; !dup {
			names = append(names, e.PhaseName)
		}
		over[e.PhaseName] = finding{
			typ:       model.ErrTurnLimitExceeded,
			phase:     e.PhaseName,
			turnCount: *e.TurnCount,
			maxTurns:  limit,
		}
	}
	var out []finding
	for _, p := range schema.Order(names) {
		out = append(out, over[p])
	}
	return out
}

func detectTimeout(sf *model.StepFile, _ *model.PhaseSchema, limits Limits) []finding {
	budget, configured := limits.DefaultDurationMinutes, limits.DefaultDurationMinutes > 0
	var extra int
	if c := sf.TDDCycle; c != nil {
		if c.DurationMinutes != nil {
			budget, configured = *c.DurationMinutes, true
		}
		if c.TotalExtensionsMinutes != nil {
			extra = *c.TotalExtensionsMinutes
		}
	}
	if !configured {
		return nil
	}

	var seconds int
	for _, e := range sf.Phases() {
		if e.DurationSeconds != nil {
			seconds += *e.DurationSeconds
		}
	}
	allowance := (budget + extra) * 60
	if seconds <= allowance {
		return nil
	}
	return []finding{{
		typ:            model.ErrTimeoutExceeded,
		usedMinutes:    float64(seconds) / 60,
		allowedMinutes: float64(allowance) / 60,
	}}
}

// Evaluate runs every detector and assembles the result. stepPath is used
// only inside suggested commands.
func Evaluate(sf *model.StepFile, schema *model.PhaseSchema, limits Limits, stepPath string) *model.HookResult {
	var findings []finding
	for _, d := range detectors {
		findings = append(findings, d(sf, schema, limits)...)
	}

	result := &model.HookResult{
		ValidationStatus:    model.ValidationPassed,
		HookFired:           true,
		AbandonedPhases:     []string{},
		IncompletePhases:    []string{},
		InvalidSkips:        []string{},
		RecoverySuggestions: []string{},
	}
	for _, e := range sf.Phases() {
		if e.Status == model.PhaseNotExecuted {
			result.NotExecutedPhases++
		}
	}
	for _, f := range findings {
		switch f.typ {
		case model.ErrAbandonedPhase:
			result.AbandonedPhases = append(result.AbandonedPhases, f.phase)
		case model.ErrMissingOutcome:
			result.IncompletePhases = append(result.IncompletePhases, f.phase)
		case model.ErrInvalidSkip:
			result.InvalidSkips = append(result.InvalidSkips, f.phase)
		case model.ErrTurnLimitExceeded:
			result.TurnLimitExceeded = true
		case model.ErrTimeoutExceeded:
			result.TimeoutExceeded = true
		}
	}

	if len(findings) == 0 {
		return result
	}
	result.ValidationStatus = model.ValidationFailed
	result.ErrorCount = len(findings)
	if len(findings) == 1 {
		result.ErrorType = findings[0].typ
		result.ErrorMessage = singleMessage(findings[0])
	} else {
		result.ErrorType = model.ErrMultipleErrors
		result.ErrorMessage = multiMessage(findings)
	}
	result.RecoverySuggestions = suggestions(findings, stepPath)
	return result
}

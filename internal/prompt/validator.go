// Package prompt implements the pre-invocation gate that rejects sub-agent
// prompts missing mandatory structure.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/des/internal/logging"
	"github.com/msageha/des/internal/model"
)

// DefaultBudget is the soft latency target for one validation.
const DefaultBudget = 500 * time.Millisecond

const missingMarker = "MISSING:"

// TemplateValidator checks prompts against one phase schema.
type TemplateValidator struct {
	schema *model.PhaseSchema
	budget time.Duration
	logger *zap.Logger
}

// NewTemplateValidator returns a validator for schema. A zero budget disables
// the slow-validation warning.
func NewTemplateValidator(schema *model.PhaseSchema, budget time.Duration, logger *zap.Logger) *TemplateValidator {
	if schema == nil {
		schema, _ = model.LookupSchema(model.SchemaV1)
	}
	return &TemplateValidator{schema: schema, budget: budget, logger: logging.OrNop(logger)}
}

func (v *TemplateValidator) Schema() *model.PhaseSchema { return v.schema }

// Validate checks every mandatory section and every canonical phase name and
// reports all problems at once.
func (v *TemplateValidator) Validate(prompt string) *model.ValidationResult {
	start := time.Now()

	lines := strings.Split(prompt, "\n")
	headers := make(map[string]bool)
	var mentionable []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(trimmed, "# "); ok {
			headers[strings.TrimSpace(name)] = true
		}
		if !strings.Contains(line, missingMarker) {
			mentionable = append(mentionable, line)
		}
	}

	errs := []string{}
	types := []model.ErrorType{}
	var guidance []string
	for _, s := range MandatorySections {
		name := s.Name(v.schema)
		if !headers[name] {
			errs = append(errs, fmt.Sprintf("MISSING: Mandatory section '%s' not found", name))
			types = append(types, model.ErrMissingSection)
			guidance = append(guidance, s.Guidance(v.schema))
		}
	}

	body := strings.Join(mentionable, "\n")
	var missingPhases []string
	for _, phase := range v.schema.Phases {
		if !strings.Contains(body, phase) {
			missingPhases = append(missingPhases, phase)
			errs = append(errs, fmt.Sprintf("INCOMPLETE: TDD phase '%s' not mentioned", phase))
			types = append(types, model.ErrIncompletePhase)
		}
	}
	if len(missingPhases) > 0 {
		guidance = append(guidance, fmt.Sprintf("Mention every TDD phase in the %s section, including %s",
			v.schema.Section, strings.Join(missingPhases, ", ")))
	}

	result := &model.ValidationResult{
		Status:                model.ValidationPassed,
		Errors:                errs,
		ErrorTypes:            types,
		TaskInvocationAllowed: true,
	}
	if len(errs) > 0 {
		result.Status = model.ValidationFailed
		result.TaskInvocationAllowed = false
		g := strings.Join(guidance, "\n")
		result.RecoveryGuidance = &g
	}

	elapsed := time.Since(start)
	result.DurationMS = float64(elapsed.Microseconds()) / 1000
	if v.budget > 0 && elapsed > v.budget {
		v.logger.Warn("prompt validation exceeded budget",
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", v.budget))
	}
	return result
}

package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/des/internal/model"
)

func schemaV(t *testing.T, v model.SchemaVersion) *model.PhaseSchema {
	t.Helper()
	s, ok := model.LookupSchema(v)
	require.True(t, ok)
	return s
}

// buildPrompt renders a prompt with every section except those in skip.
func buildPrompt(schema *model.PhaseSchema, skip ...string) string {
	skipped := make(map[string]bool)
	for _, s := range skip {
		skipped[s] = true
	}
	var b strings.Builder
	for _, s := range MandatorySections {
		name := s.Name(schema)
		if skipped[name] {
			continue
		}
		fmt.Fprintf(&b, "# %s\n", name)
		if s == SectionTDDPhases {
			for i, p := range schema.Phases {
				fmt.Fprintf(&b, "%d. %s\n", i+1, p)
			}
		} else {
			b.WriteString("Content for this section.\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func TestValidate_CompletePromptPasses(t *testing.T) {
	v := NewTemplateValidator(schemaV(t, model.SchemaV1), DefaultBudget, nil)
	res := v.Validate(buildPrompt(v.Schema()))

	assert.Equal(t, model.ValidationPassed, res.Status)
	assert.True(t, res.TaskInvocationAllowed)
	assert.Empty(t, res.Errors)
	assert.Nil(t, res.RecoveryGuidance)
	assert.Less(t, res.DurationMS, 500.0)
}

func TestValidate_MissingTimeoutInstruction(t *testing.T) {
	v := NewTemplateValidator(schemaV(t, model.SchemaV1), DefaultBudget, nil)
	res := v.Validate(buildPrompt(v.Schema(), "TIMEOUT_INSTRUCTION"))

	assert.Equal(t, model.ValidationFailed, res.Status)
	assert.False(t, res.TaskInvocationAllowed)
	assert.Equal(t, []string{"MISSING: Mandatory section 'TIMEOUT_INSTRUCTION' not found"}, res.Errors)
	require.NotNil(t, res.RecoveryGuidance)
	assert.Contains(t, *res.RecoveryGuidance, "Add TIMEOUT_INSTRUCTION section with turn budget guidance")
}

func TestValidate_AggregatesAllProblems(t *testing.T) {
	v := NewTemplateValidator(schemaV(t, model.SchemaV1), 0, nil)
	res := v.Validate("# DES_METADATA\nPREPARE and RED_UNIT only\n")

	assert.Equal(t, model.ValidationFailed, res.Status)
	// 7 missing sections + 12 missing phases
	assert.Len(t, res.Errors, 19)
	assert.Contains(t, res.Errors, "INCOMPLETE: TDD phase 'COMMIT' not mentioned")
	assert.NotContains(t, res.Errors, "INCOMPLETE: TDD phase 'PREPARE' not mentioned")

	require.NotNil(t, res.RecoveryGuidance)
	lines := strings.Split(*res.RecoveryGuidance, "\n")
	assert.Len(t, lines, 8, "one line per missing section plus one for phases")
}

func TestValidate_MissingAnnotationDoesNotCount(t *testing.T) {
	schema := schemaV(t, model.SchemaV1)
	p := strings.Replace(buildPrompt(schema), "10. REFACTOR_L3\n", "# MISSING: REFACTOR_L3\n", 1)
	require.NotEqual(t, buildPrompt(schema), p)

	res := NewTemplateValidator(schema, 0, nil).Validate(p)
	assert.Equal(t, []string{"INCOMPLETE: TDD phase 'REFACTOR_L3' not mentioned"}, res.Errors)
	require.NotNil(t, res.RecoveryGuidance)
	assert.Contains(t, *res.RecoveryGuidance, "REFACTOR_L3")
}

func TestValidate_SchemaV2UsesEightPhaseSection(t *testing.T) {
	schema := schemaV(t, model.SchemaV2)
	res := NewTemplateValidator(schema, 0, nil).Validate(buildPrompt(schema))
	assert.Equal(t, model.ValidationPassed, res.Status)

	// GREEN is matched inside GREEN_UNIT; the v2-only phase and header are not
	v1 := buildPrompt(schemaV(t, model.SchemaV1))
	res = NewTemplateValidator(schema, 0, nil).Validate(v1)
	assert.Contains(t, res.Errors, "MISSING: Mandatory section 'TDD_8_PHASES' not found")
	assert.Contains(t, res.Errors, "INCOMPLETE: TDD phase 'REFACTOR_CONTINUOUS' not mentioned")
}

func TestValidate_HeaderMustBeLiteralLine(t *testing.T) {
	schema := schemaV(t, model.SchemaV1)
	p := strings.Replace(buildPrompt(schema), "# QUALITY_GATES\n", "See QUALITY_GATES below\n", 1)
	res := NewTemplateValidator(schema, 0, nil).Validate(p)
	assert.Equal(t, []string{"MISSING: Mandatory section 'QUALITY_GATES' not found"}, res.Errors)

	indented := strings.Replace(buildPrompt(schema), "# QUALITY_GATES\n", "   # QUALITY_GATES   \n", 1)
	res = NewTemplateValidator(schema, 0, nil).Validate(indented)
	assert.Empty(t, res.Errors)
}

func TestValidate_LargePromptWithinBudget(t *testing.T) {
	schema := schemaV(t, model.SchemaV1)
	p := buildPrompt(schema) + strings.Repeat("filler line with ordinary words\n", 20000)
	start := time.Now()
	res := NewTemplateValidator(schema, DefaultBudget, nil).Validate(p)
	assert.Equal(t, model.ValidationPassed, res.Status)
	assert.Less(t, time.Since(start), DefaultBudget)
}

func TestSectionGuidanceCoversEverySection(t *testing.T) {
	schema := schemaV(t, model.SchemaV1)
	seen := make(map[string]bool)
	for _, s := range MandatorySections {
		g := s.Guidance(schema)
		assert.True(t, strings.HasPrefix(g, "Add "+s.Name(schema)+" section"), g)
		assert.False(t, seen[g])
		seen[g] = true
	}
}

func TestValidate_ErrorTypesParallelErrors(t *testing.T) {
	schema := schemaV(t, model.SchemaV1)
	p := strings.Replace(buildPrompt(schema, "QUALITY_GATES"), "10. REFACTOR_L3\n", "", 1)
	res := NewTemplateValidator(schema, 0, nil).Validate(p)

	assert.Equal(t, []string{
		"MISSING: Mandatory section 'QUALITY_GATES' not found",
		"INCOMPLETE: TDD phase 'REFACTOR_L3' not mentioned",
	}, res.Errors)
	assert.Equal(t, []model.ErrorType{model.ErrMissingSection, model.ErrIncompletePhase}, res.ErrorTypes)

	res = NewTemplateValidator(schema, 0, nil).Validate(buildPrompt(schema))
	assert.Empty(t, res.ErrorTypes)
}

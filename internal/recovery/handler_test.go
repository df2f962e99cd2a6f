package recovery

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/des/internal/clock"
	"github.com/msageha/des/internal/events"
	"github.com/msageha/des/internal/model"
	"github.com/msageha/des/internal/stepfile"
)

var suggestionShape = regexp.MustCompile(`(?s)^WHY: .*HOW: .*ACTION: .*`)

func TestFormatSuggestion(t *testing.T) {
	got := FormatSuggestion("because", "do this", "run that")
	assert.Equal(t, "WHY: because\n\nHOW: do this\n\nACTION: run that", got)
}

func TestGenerateRecoverySuggestions_EveryModeMatchesShape(t *testing.T) {
	inputs := []string{"", "bogus", "ABANDONED_PHASE"}
	for _, m := range Modes {
		inputs = append(inputs, string(m))
	}
	contexts := []map[string]string{
		nil,
		{"phase": "GREEN_UNIT", "step_file": "steps/01-01.json", "transcript_path": "/tmp/t.log"},
		{"unrelated": "x"},
	}
	for _, mode := range inputs {
		for _, ctx := range contexts {
			got := GenerateRecoverySuggestions(mode, ctx)
			require.NotEmpty(t, got, mode)
			for _, s := range got {
				assert.Regexp(t, suggestionShape, s)
				assert.GreaterOrEqual(t, len(s), 20)
				assert.NotContains(t, s, "{", "unfilled placeholder in %q", s)
			}
		}
	}
}

func TestGenerateRecoverySuggestions_Substitution(t *testing.T) {
	got := GenerateRecoverySuggestions(string(AbandonedPhase), map[string]string{
		"phase":     "GREEN_UNIT",
		"step_file": "steps/01-01.json",
	})
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "Phase GREEN_UNIT was left in IN_PROGRESS")
	assert.Contains(t, got[0], "steps/01-01.json")
	assert.Contains(t, got[1], "UNKNOWN_TRANSCRIPT_PATH")
}

func TestGenerateRecoverySuggestions_Defaults(t *testing.T) {
	got := GenerateRecoverySuggestions(string(InvalidOutcome), nil)
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "UNKNOWN_PHASE")
	assert.Contains(t, got[0], "UNKNOWN_STEP_FILE")

	assert.Equal(t, "x UNKNOWN_FOO_BAR y", fill("x {foo_bar} y", nil))
}

func TestGenerateRecoverySuggestions_UnknownMode(t *testing.T) {
	got := GenerateRecoverySuggestions("cosmic_rays", nil)
	require.Len(t, got, 1)
	assert.Contains(t, strings.ToLower(got[0]), "unknown")
	assert.Contains(t, got[0], DocsPointer)
}

func TestTemplatesCoverEveryMode(t *testing.T) {
	for _, m := range Modes {
		ts, ok := templates(m)
		assert.True(t, ok, m)
		assert.NotEmpty(t, ts, m)
	}
}

const stepPath = "/proj/steps/03-01.json"

func TestHandleFailure_PreservesFields(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, stepPath, []byte(`{
  "task_id": "03-01",
  "project_id": "billing",
  "extra_root": [1, 2, 3],
  "state": {"status": "FAILED", "started_at": "2026-01-01T00:00:00Z", "reviewer": "ops"}
}`), 0o644))
	audit := events.NewAuditLogger(fs, "/proj/.des/audit", clock.NewFixed(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)), nil)
	defer audit.Close()
	h := NewHandler(stepfile.NewStore(fs), audit, nil)

	ctx := map[string]string{"phase": "REVIEW", "failure_reason": "review skipped"}
	st, err := h.HandleFailure(stepPath, string(InvalidOutcome), ctx)
	require.NoError(t, err)
	assert.NotContains(t, ctx, "step_file", "caller context must not be mutated")

	require.Len(t, st.RecoverySuggestions, 1)
	assert.Contains(t, st.RecoverySuggestions[0], "REVIEW")
	assert.Contains(t, st.RecoverySuggestions[0], stepPath)
	require.NotNil(t, st.FailureReason)
	assert.Equal(t, "review skipped", *st.FailureReason)

	data, err := afero.ReadFile(fs, stepPath)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"extra_root": [`)
	assert.Contains(t, out, `"reviewer": "ops"`)
	assert.Contains(t, out, `"started_at": "2026-01-01T00:00:00Z"`)
	assert.Contains(t, out, `"status": "FAILED"`)

	ev, ok := audit.ReadLastEntry(events.RecoveryGuidanceRecorded)
	require.True(t, ok)
	assert.Equal(t, "03-01", ev.Field("step_id"))
	assert.Equal(t, "invalid_outcome", ev.Field("failure_type"))
}

func TestHandleFailure_CreatesState(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, stepPath, []byte(`{"task_id":"03-01"}`), 0o644))
	h := NewHandler(stepfile.NewStore(fs), nil, nil)

	st, err := h.HandleFailure(stepPath, string(SilentCompletion), nil)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Len(t, st.RecoverySuggestions, 2)
	assert.Nil(t, st.FailureReason)

	sf, err := stepfile.NewStore(fs).Load(stepPath)
	require.NoError(t, err)
	require.NotNil(t, sf.State)
	assert.Equal(t, st.RecoverySuggestions, sf.State.RecoverySuggestions)
	assert.Equal(t, model.StepStatus(""), sf.State.Status)
}

func TestHandleFailure_MissingFile(t *testing.T) {
	h := NewHandler(stepfile.NewStore(afero.NewMemMapFs()), nil, nil)
	_, err := h.HandleFailure(stepPath, string(AgentCrash), nil)
	assert.True(t, errors.Is(err, stepfile.ErrNotFound))
}

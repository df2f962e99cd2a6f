package extension

import (
	"errors"
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

const (
	stepPath   = "/proj/steps/04-01.json"
	goodReason = "Integration tests need more iterations to stabilise fixtures"
)

var now = time.Date(2026, 6, 7, 8, 9, 10, 123_000_000, time.UTC)

type fixture struct {
	fs     afero.Fs
	store  *stepfile.Store
	audit  *events.AuditLogger
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := stepfile.NewStore(fs)
	clk := clock.NewFixed(now)
	audit := events.NewAuditLogger(fs, "/proj/.des/audit", clk, nil)
	t.Cleanup(func() { _ = audit.Close() })
	return &fixture{
		fs:     fs,
		store:  store,
		audit:  audit,
		engine: NewEngine(store, audit, clk, DefaultPolicy(), nil),
	}
}

// seed writes a step whose RED_UNIT phase is active.
func (f *fixture) seed(t *testing.T, mutate func(*model.StepFile)) {
	t.Helper()
	schema, _ := model.LookupSchema(model.SchemaV1)
	log := schema.NewPhaseLog()
	log[0].Status = model.PhaseExecuted
	pass := model.OutcomePass
	log[0].Outcome = &pass
	log[2].Status = model.PhaseInProgress
	log[2].TurnCount = model.IntPtr(12)
	sf := &model.StepFile{
		TaskID:    "04-01",
		ProjectID: "search",
		State:     &model.State{Status: model.StepInProgress},
		TDDCycle:  &model.TDDCycle{MaxTurns: model.IntPtr(10), DurationMinutes: model.IntPtr(30), PhaseExecutionLog: log},
	}
	if mutate != nil {
		mutate(sf)
	}
	require.NoError(t, f.store.Save(stepPath, sf))
}

func (f *fixture) active(t *testing.T) *model.PhaseExecutionEntry {
	t.Helper()
	sf, err := f.store.Load(stepPath)
	require.NoError(t, err)
	e, ok := sf.ActivePhase()
	require.True(t, ok)
	return e
}

func TestRequestExtension_ApprovesAndPersists(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	res, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: model.IntPtr(5)})
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, "RED_UNIT", res.Phase)
	assert.Empty(t, res.Denial)

	e := f.active(t)
	require.NotNil(t, e.MaxTurns)
	assert.Equal(t, 15, *e.MaxTurns)
	assert.Equal(t, 12, *e.TurnCount, "turn_count is never touched")
	require.Len(t, e.ExtensionsGranted, 1)
	rec := e.ExtensionsGranted[0]
	assert.Equal(t, goodReason, rec.Reason)
	assert.Equal(t, 5, *rec.AdditionalTurns)
	assert.Nil(t, rec.AdditionalMinutes)
	assert.Equal(t, "2026-06-07T08:09:10.123Z", rec.GrantedAt)

	ev, ok := f.audit.ReadLastEntry(events.ExtensionApproved)
	require.True(t, ok)
	assert.Equal(t, "04-01", ev.Field("step_id"))
	assert.Equal(t, "RED_UNIT", ev.Field("phase"))
}

func TestRequestExtension_Cumulative(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	_, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: model.IntPtr(10), AdditionalMinutes: model.IntPtr(15)})
	require.NoError(t, err)
	res, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: model.IntPtr(20), AdditionalMinutes: model.IntPtr(5)})
	require.NoError(t, err)
	require.True(t, res.Approved, res.Reason)

	e := f.active(t)
	assert.Equal(t, 40, *e.MaxTurns)
	assert.Equal(t, 50, *e.TimeoutMinutes)
	assert.Len(t, e.ExtensionsGranted, 2)

	sf, err := f.store.Load(stepPath)
	require.NoError(t, err)
	require.NotNil(t, sf.TDDCycle.TotalExtensionsMinutes)
	assert.Equal(t, 20, *sf.TDDCycle.TotalExtensionsMinutes)
	assert.Equal(t, 10, *sf.TDDCycle.MaxTurns, "the cycle budget is not changed")
}

func TestRequestExtension_Justification(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)
	before, err := afero.ReadFile(f.fs, stepPath)
	require.NoError(t, err)

	for _, reason := range []string{"", "need more", "   short reason      "} {
		res, err := f.engine.RequestExtension(stepPath, Request{Reason: reason, AdditionalTurns: model.IntPtr(1)})
		require.NoError(t, err)
		assert.False(t, res.Approved)
		assert.Equal(t, DenialJustification, res.Denial)
		assert.Contains(t, res.Reason, "justification")
	}

	after, err := afero.ReadFile(f.fs, stepPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "denials do not write the step file")

	_, ok := f.audit.ReadLastEntry(events.ExtensionDenied)
	assert.True(t, ok)
}

func TestRequestExtension_InvalidShape(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)

	res, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason})
	require.NoError(t, err)
	assert.Equal(t, DenialInvalid, res.Denial)

	res, err = f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: model.IntPtr(-3), AdditionalMinutes: model.IntPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, DenialInvalid, res.Denial)
}

func TestRequestExtension_Magnitude(t *testing.T) {
	tests := []struct {
		name     string
		turns    *int
		minutes  *int
		mutate   func(*model.StepFile)
		approved bool
	}{
		{"double the cycle turns", model.IntPtr(20), nil, nil, true},
		{"beyond double the cycle turns", model.IntPtr(21), nil, nil, false},
		{"entry override is the base", model.IntPtr(7), nil, func(sf *model.StepFile) {
			sf.TDDCycle.PhaseExecutionLog[2].MaxTurns = model.IntPtr(3)
		}, false},
		{"default turns without any budget", model.IntPtr(100), nil, func(sf *model.StepFile) {
			sf.TDDCycle.MaxTurns = nil
		}, true},
		{"minutes against duration", nil, model.IntPtr(61), nil, false},
		{"minutes within duration", nil, model.IntPtr(60), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, tt.mutate)
			res, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: tt.turns, AdditionalMinutes: tt.minutes})
			require.NoError(t, err)
			assert.Equal(t, tt.approved, res.Approved, res.Reason)
			if !tt.approved {
				assert.Equal(t, DenialMagnitude, res.Denial)
				assert.Contains(t, res.Reason, "too large")
				assert.Contains(t, res.Reason, "limit")
			}
		})
	}
}

func TestRequestExtension_FrequencyCap(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(sf *model.StepFile) {
		sf.TDDCycle.PhaseExecutionLog[2].ExtensionsGranted = []model.ExtensionRecord{
			{Reason: "First extension for fixture setup work", AdditionalTurns: model.IntPtr(2), GrantedAt: "2026-06-07T07:00:00.000Z"},
			{Reason: "Second extension for flaky dependency", AdditionalTurns: model.IntPtr(2), GrantedAt: "2026-06-07T07:30:00.000Z"},
		}
	})

	res, err := f.engine.RequestExtension(stepPath, Request{
		Reason:          "Third extension requested for final complexity adjustment needed",
		AdditionalTurns: model.IntPtr(3),
	})
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, DenialFrequency, res.Denial)
	lower := strings.ToLower(res.Reason)
	assert.True(t, strings.Contains(lower, "maximum") || strings.Contains(lower, "exceeded"), res.Reason)
	assert.Len(t, f.active(t).ExtensionsGranted, 2)
}

func TestRequestExtension_ThirdAfterTwoApprovals(t *testing.T) {
	f := newFixture(t)
	f.seed(t, nil)
	for i := 0; i < 2; i++ {
		res, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: model.IntPtr(1)})
		require.NoError(t, err)
		require.True(t, res.Approved)
	}
	res, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: model.IntPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, DenialFrequency, res.Denial)
	assert.Contains(t, res.Reason, "maximum")
}

func TestRequestExtension_NoActivePhase(t *testing.T) {
	f := newFixture(t)
	f.seed(t, func(sf *model.StepFile) {
		sf.TDDCycle.PhaseExecutionLog[2].Status = model.PhaseNotExecuted
	})
	res, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: model.IntPtr(1)})
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, DenialNoActivePhase, res.Denial)
}

func TestRequestExtension_MissingFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RequestExtension(stepPath, Request{Reason: goodReason, AdditionalTurns: model.IntPtr(1)})
	assert.True(t, errors.Is(err, stepfile.ErrNotFound))
}

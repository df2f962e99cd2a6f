package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/des/internal/clock"
	"github.com/msageha/des/internal/config"
	"github.com/msageha/des/internal/events"
	"github.com/msageha/des/internal/model"
	"github.com/msageha/des/internal/prompt"
	"github.com/msageha/des/internal/stepfile"
)

const stepPath = "/proj/steps/02-01.json"

type fixture struct {
	store *stepfile.Store
	audit *events.AuditLogger
	calls []TaskRequest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	f := &fixture{
		store: stepfile.NewStore(fs),
		audit: events.NewAuditLogger(fs, "/proj/.des/audit", clock.NewFixed(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)), nil),
	}
	t.Cleanup(func() { _ = f.audit.Close() })

	schema, _ := model.LookupSchema(model.SchemaV1)
	require.NoError(t, f.store.Save(stepPath, &model.StepFile{
		TaskID:    "02-01",
		ProjectID: "checkout",
		State:     &model.State{Status: model.StepInProgress},
		TDDCycle:  &model.TDDCycle{SchemaVersion: model.SchemaV1, PhaseExecutionLog: schema.NewPhaseLog()},
	}))
	return f
}

// agent returns an Invoker that records the call and then applies mutate to the step file.
func (f *fixture) agent(mutate func(*model.StepFile)) Invoker {
	return InvokerFunc(func(_ context.Context, req TaskRequest) error {
		f.calls = append(f.calls, req)
		if mutate == nil {
			return nil
		}
		_, err := f.store.Update(req.StepFile, func(sf *model.StepFile) error {
			mutate(sf)
			return nil
		})
		return err
	})
}

func completeAll(sf *model.StepFile) {
	pass := model.OutcomePass
	for i := range sf.TDDCycle.PhaseExecutionLog {
		sf.TDDCycle.PhaseExecutionLog[i].Status = model.PhaseExecuted
		sf.TDDCycle.PhaseExecutionLog[i].Outcome = &pass
	}
	sf.State.Status = model.StepDone
}

func validPrompt(schema *model.PhaseSchema) string {
	var b strings.Builder
	for _, s := range prompt.MandatorySections {
		fmt.Fprintf(&b, "# %s\n", s.Name(schema))
		if s == prompt.SectionTDDPhases {
			b.WriteString(strings.Join(schema.Phases, "\n"))
		} else {
			b.WriteString("Details.")
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func v1(t *testing.T) *model.PhaseSchema {
	t.Helper()
	s, ok := model.LookupSchema(model.SchemaV1)
	require.True(t, ok)
	return s
}

func TestInvoke_CompletedTaskPasses(t *testing.T) {
	f := newFixture(t)
	o := New(f.store, f.audit, f.agent(completeAll), nil, nil, nil)

	out, err := o.Invoke(context.Background(), Invocation{StepFile: stepPath, Prompt: validPrompt(v1(t)), Agent: "software-crafter"})
	require.NoError(t, err)
	assert.True(t, out.Validation.TaskInvocationAllowed)
	assert.True(t, out.Invoked)
	require.NotNil(t, out.Hook)
	assert.True(t, out.Hook.Passed())
	assert.False(t, out.Blocked())

	require.Len(t, f.calls, 1)
	assert.Equal(t, "02-01", f.calls[0].StepID)
	assert.Equal(t, "software-crafter", f.calls[0].Agent)

	started, ok := f.audit.ReadLastEntry(events.TaskInvocationStarted)
	require.True(t, ok)
	assert.Equal(t, "software-crafter", started.Field("agent"))
	_, ok = f.audit.ReadLastEntry(events.SubagentStopPassed)
	assert.True(t, ok)

	_, notice := o.PostToolUseNotice("02-01")
	assert.False(t, notice)
}

func TestInvoke_RejectedPromptNeverStartsTask(t *testing.T) {
	f := newFixture(t)
	o := New(f.store, f.audit, f.agent(completeAll), nil, nil, nil)

	out, err := o.Invoke(context.Background(), Invocation{StepFile: stepPath, Prompt: "# DES_METADATA\nonly this\n"})
	require.NoError(t, err)
	assert.False(t, out.Validation.TaskInvocationAllowed)
	assert.False(t, out.Invoked)
	assert.Nil(t, out.Hook)
	assert.True(t, out.Blocked())
	assert.Empty(t, f.calls)

	ev, ok := f.audit.ReadLastEntry(events.TaskInvocationRejected)
	require.True(t, ok)
	assert.Equal(t, "02-01", ev.Field("step_id"))
	types, ok := ev.Data["error_types"].([]any)
	require.True(t, ok, "error_types recorded as a list")
	assert.Contains(t, types, string(model.ErrMissingSection))
	assert.Contains(t, types, string(model.ErrIncompletePhase))
	_, ok = f.audit.ReadLastEntry(events.TaskInvocationStarted)
	assert.False(t, ok)
}

func TestInvoke_AbandonedPhaseFailsStep(t *testing.T) {
	f := newFixture(t)
	o := New(f.store, f.audit, f.agent(func(sf *model.StepFile) {
		pass := model.OutcomePass
		sf.TDDCycle.PhaseExecutionLog[0].Status = model.PhaseExecuted
		sf.TDDCycle.PhaseExecutionLog[0].Outcome = &pass
		sf.TDDCycle.PhaseExecutionLog[1].Status = model.PhaseInProgress
	}), nil, nil, nil)

	out, err := o.Invoke(context.Background(), Invocation{StepFile: stepPath, Prompt: validPrompt(v1(t))})
	require.NoError(t, err)
	require.NotNil(t, out.Hook)
	assert.False(t, out.Hook.Passed())
	assert.True(t, out.Blocked())
	assert.Equal(t, model.ErrAbandonedPhase, out.Hook.ErrorType)

	sf, err := f.store.Load(stepPath)
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, sf.State.Status)

	notice, ok := o.PostToolUseNotice("02-01")
	require.True(t, ok)
	assert.Contains(t, notice, "ABANDONED_PHASE")
	assert.Contains(t, notice, "des check "+stepPath)

	_, ok = o.PostToolUseNotice("99-99")
	assert.False(t, ok)
}

func TestInvoke_AgentErrorStillAudited(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("agent crashed")
	o := New(f.store, f.audit, InvokerFunc(func(context.Context, TaskRequest) error { return boom }), nil, nil, nil)

	out, err := o.Invoke(context.Background(), Invocation{StepFile: stepPath, Prompt: validPrompt(v1(t))})
	require.NoError(t, err)
	assert.ErrorIs(t, out.InvokeErr, boom)
	require.NotNil(t, out.Hook)
	assert.Equal(t, model.ErrSilentCompletion, out.Hook.ErrorType)
}

func TestInvoke_MissingStepFile(t *testing.T) {
	f := newFixture(t)
	o := New(f.store, f.audit, f.agent(nil), nil, nil, nil)
	_, err := o.Invoke(context.Background(), Invocation{StepFile: "/proj/steps/none.json", Prompt: "x"})
	assert.True(t, IsNotFound(err))
}

func TestInvoke_UsesConfiguredLimits(t *testing.T) {
	f := newFixture(t)
	cfg := config.Default()
	cfg.Validation.DefaultMaxTurns = 5
	o := New(f.store, f.audit, f.agent(func(sf *model.StepFile) {
		completeAll(sf)
		sf.TDDCycle.PhaseExecutionLog[3].TurnCount = model.IntPtr(9)
	}), cfg, nil, nil)

	out, err := o.Invoke(context.Background(), Invocation{StepFile: stepPath, Prompt: validPrompt(v1(t))})
	require.NoError(t, err)
	assert.True(t, out.Hook.TurnLimitExceeded)
}

func TestRequestExtension_Passthrough(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Update(stepPath, func(sf *model.StepFile) error {
		sf.TDDCycle.PhaseExecutionLog[0].Status = model.PhaseInProgress
		return nil
	})
	require.NoError(t, err)
	o := New(f.store, f.audit, nil, nil, nil, nil)

	res, err := o.RequestExtension(stepPath, "Fixture generation takes longer than planned", model.IntPtr(10), nil)
	require.NoError(t, err)
	assert.True(t, res.Approved, res.Reason)
	assert.Equal(t, "PREPARE", res.Phase)
}

func TestCommandInvoker(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "prompt.txt")
	inv := &CommandInvoker{Path: sh, Args: []string{"-c", `cat > "$1"; echo "$DES_STEP_ID"`, "sh", out}}
	var stdout bytes.Buffer
	inv.Stdout = &stdout

	require.NoError(t, inv.Invoke(context.Background(), TaskRequest{StepID: "07-02", Prompt: "hello prompt"}))
	assert.Equal(t, "07-02\n", stdout.String())

	failing := &CommandInvoker{Path: sh, Args: []string{"-c", "echo nope >&2; exit 3"}}
	err = failing.Invoke(context.Background(), TaskRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	assert.Error(t, (&CommandInvoker{}).Invoke(context.Background(), TaskRequest{}))
}

func TestFilterEnv(t *testing.T) {
	got := filterEnv([]string{"A=1", "DES_AGENT=x", "B=2=3"}, "DES_AGENT")
	assert.Equal(t, []string{"A=1", "B=2=3"}, got)
}

// Package orchestrator wires the DES gates around one sub-agent task: the
// prompt is checked before the task starts and the step file is audited
// after it returns.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/des/internal/clock"
	"github.com/msageha/des/internal/config"
	"github.com/msageha/des/internal/events"
	"github.com/msageha/des/internal/extension"
	"github.com/msageha/des/internal/hook"
	"github.com/msageha/des/internal/logging"
	"github.com/msageha/des/internal/model"
	"github.com/msageha/des/internal/prompt"
	"github.com/msageha/des/internal/stepfile"
)

// AuditTrail records events and finds earlier ones.
type AuditTrail interface {
	events.Recorder
	FindLast(match func(*events.Event) bool) (*events.Event, bool)
}

// Invocation describes one task to run under DES.
type Invocation struct {
	StepFile string
	Prompt   string
	Agent    string
}

// Outcome is the combined verdict of one invocation.
type Outcome struct {
	Validation *model.ValidationResult
	Invoked    bool
	// InvokeErr is the sub-agent's own failure, if any.
	InvokeErr error
	// Hook is nil when the task was rejected before it started.
	Hook *model.HookResult
}

// Blocked reports whether either gate refused the task.
func (o *Outcome) Blocked() bool {
	if !o.Validation.TaskInvocationAllowed {
		return true
	}
	return o.Hook != nil && !o.Hook.Passed()
}

type Orchestrator struct {
	store         *stepfile.Store
	audit         AuditTrail
	invoker       Invoker
	hook          *hook.SubagentStopHook
	engine        *extension.Engine
	defaultSchema model.SchemaVersion
	budget        time.Duration
	logger        *zap.Logger
}

func New(store *stepfile.Store, audit AuditTrail, invoker Invoker, cfg *config.Config, clk clock.Clock, logger *zap.Logger) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logging.OrNop(logger)
	return &Orchestrator{
		store:         store,
		audit:         audit,
		invoker:       invoker,
		hook:          hook.NewSubagentStopHook(store, audit, cfg.HookLimits(), cfg.DefaultSchema(), logger),
		engine:        extension.NewEngine(store, audit, clk, cfg.ExtensionPolicy(), logger),
		defaultSchema: cfg.DefaultSchema(),
		budget:        cfg.PromptBudget(),
		logger:        logger,
	}
}

func (o *Orchestrator) Hook() *hook.SubagentStopHook { return o.hook }

// Gate validates prompt against the phase schema of the step at path and
// records the decision as TASK_INVOCATION_STARTED or TASK_INVOCATION_REJECTED.
func (o *Orchestrator) Gate(path, agent, text string) (*model.ValidationResult, error) {
	sf, err := o.store.Load(path)
	if err != nil {
		return nil, err
	}
	schema, _ := model.SchemaFor(sf, o.defaultSchema)
	validation := prompt.NewTemplateValidator(schema, o.budget, o.logger).Validate(text)

	data := map[string]any{
		"step_id":      hook.StepID(sf, path),
		"feature_name": sf.ProjectID,
		"step_file":    path,
		"agent":        agent,
		"duration_ms":  validation.DurationMS,
	}
	eventType := events.TaskInvocationStarted
	if !validation.TaskInvocationAllowed {
		eventType = events.TaskInvocationRejected
		data["errors"] = validation.Errors
		data["error_types"] = validation.ErrorTypes
		o.logger.Info("task invocation rejected",
			zap.String("step_file", path),
			zap.Int("error_count", len(validation.Errors)))
	}
	o.audit.LogEvent(events.Event{Type: eventType, Data: data})
	return validation, nil
}

// Invoke gates inv.Prompt, runs the task only when allowed, then runs the
// stop hook. Errors are returned for step file problems only; a failing
// sub-agent is reported in Outcome.InvokeErr.
func (o *Orchestrator) Invoke(ctx context.Context, inv Invocation) (*Outcome, error) {
	validation, err := o.Gate(inv.StepFile, inv.Agent, inv.Prompt)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Validation: validation}
	if !validation.TaskInvocationAllowed {
		return out, nil
	}

	if o.invoker != nil {
		out.Invoked = true
		out.InvokeErr = o.invoker.Invoke(ctx, TaskRequest{
			StepFile: inv.StepFile,
			StepID:   stepIDOf(o.store, inv.StepFile),
			Agent:    inv.Agent,
			Prompt:   inv.Prompt,
		})
		if out.InvokeErr != nil {
			o.logger.Warn("sub-agent returned an error",
				zap.String("step_file", inv.StepFile),
				zap.Error(out.InvokeErr))
		}
	}

	result, err := o.hook.OnAgentComplete(inv.StepFile)
	if err != nil {
		return out, fmt.Errorf("stop hook: %w", err)
	}
	out.Hook = result
	return out, nil
}

// RequestExtension forwards to the extension engine.
func (o *Orchestrator) RequestExtension(path, reason string, turns, minutes *int) (*model.ApprovalResult, error) {
	return o.engine.RequestExtension(path, extension.Request{
		Reason:            reason,
		AdditionalTurns:   turns,
		AdditionalMinutes: minutes,
	})
}

// PostToolUseNotice returns a reminder for the caller when the last stop-hook
// verdict recorded for stepID was a failure.
func (o *Orchestrator) PostToolUseNotice(stepID string) (string, bool) {
	ev, ok := o.audit.FindLast(func(e *events.Event) bool {
		return e.Field("step_id") == stepID &&
			(e.Type == events.SubagentStopFailed || e.Type == events.SubagentStopPassed)
	})
	if !ok || ev.Type != events.SubagentStopFailed {
		return "", false
	}
	msg := fmt.Sprintf("DES: step %s failed post-execution validation (%s): %s",
		stepID, ev.Field("error_type"), ev.Field("error_message"))
	if path := ev.Field("step_file"); path != "" {
		msg += fmt.Sprintf("\nReview the step file and run: des check %s", path)
	}
	return msg, true
}

func stepIDOf(store *stepfile.Store, path string) string {
	sf, err := store.Load(path)
	if err != nil {
		return hook.StepID(nil, path)
	}
	return hook.StepID(sf, path)
}

// IsNotFound reports whether err means the step file does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, stepfile.ErrNotFound)
}

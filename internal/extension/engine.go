// Package extension decides mid-run requests for more turn or time budget.
package extension

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/msageha/des/internal/clock"
	"github.com/msageha/des/internal/events"
	"github.com/msageha/des/internal/hook"
	"github.com/msageha/des/internal/logging"
	"github.com/msageha/des/internal/model"
	"github.com/msageha/des/internal/stepfile"
)

// Denial classifications.
const (
	DenialJustification = "insufficient justification"
	DenialInvalid       = "invalid request"
	DenialMagnitude     = "magnitude exceeded"
	DenialFrequency     = "frequency exceeded"
	DenialNoActivePhase = "no active phase"
)

// Policy holds the approval thresholds.
type Policy struct {
	MinReasonLength int
	MaxPerPhase     int
	// MaxIncreaseRatio bounds one request relative to the current budget.
	MaxIncreaseRatio      float64
	DefaultMaxTurns       int
	DefaultTimeoutMinutes int
}

func DefaultPolicy() Policy {
	return Policy{
		MinReasonLength:       20,
		MaxPerPhase:           2,
		MaxIncreaseRatio:      2.0,
		DefaultMaxTurns:       50,
		DefaultTimeoutMinutes: 60,
	}
}

// Request asks for more budget on the active phase. Nil amounts are not requested.
type Request struct {
	Reason            string
	AdditionalTurns   *int
	AdditionalMinutes *int
}

var errDenied = errors.New("extension denied")

type Engine struct {
	store  *stepfile.Store
	audit  events.Recorder
	clock  clock.Clock
	policy Policy
	logger *zap.Logger
}

func NewEngine(store *stepfile.Store, audit events.Recorder, clk clock.Clock, policy Policy, logger *zap.Logger) *Engine {
	if audit == nil {
		audit = events.Discard{}
	}
	return &Engine{
		store:  store,
		audit:  audit,
		clock:  clock.OrSystem(clk),
		policy: policy,
		logger: logging.OrNop(logger),
	}
}

// RequestExtension evaluates req against the step's first IN_PROGRESS phase.
// Approval raises the phase ceilings, appends an ExtensionRecord and saves
// the file; a denial leaves the file untouched. Only file errors are returned.
func (e *Engine) RequestExtension(path string, req Request) (*model.ApprovalResult, error) {
	var (
		result *model.ApprovalResult
		sf     *model.StepFile
	)
	_, err := e.store.Update(path, func(loaded *model.StepFile) error {
		sf = loaded
		result = e.decide(loaded, req)
		if !result.Approved {
			return errDenied
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDenied) {
		return nil, err
	}

	data := map[string]any{
		"step_id":      hook.StepID(sf, path),
		"feature_name": sf.ProjectID,
		"phase":        result.Phase,
		"reason":       req.Reason,
	}
	if req.AdditionalTurns != nil {
		data["additional_turns"] = *req.AdditionalTurns
	}
	if req.AdditionalMinutes != nil {
		data["additional_minutes"] = *req.AdditionalMinutes
	}
	eventType := events.ExtensionApproved
	if !result.Approved {
		eventType = events.ExtensionDenied
		data["denial"] = result.Denial
	}
	e.logger.Info("extension decided",
		zap.String("step_file", path),
		zap.String("phase", result.Phase),
		zap.Bool("approved", result.Approved),
		zap.String("denial", result.Denial))
	e.audit.LogEvent(events.Event{Type: eventType, Data: data})
	return result, nil
}

func deny(phase, class, msg string) *model.ApprovalResult {
	return &model.ApprovalResult{Approved: false, Reason: msg, Phase: phase, Denial: class}
}

// decide applies the rules in order and, on approval, mutates sf.
func (e *Engine) decide(sf *model.StepFile, req Request) *model.ApprovalResult {
	entry, ok := sf.ActivePhase()
	if !ok {
		return deny("", DenialNoActivePhase, "Extension denied: no phase is IN_PROGRESS")
	}
	phase := entry.PhaseName

	// 1. justification
	reasonLen := len([]rune(strings.TrimSpace(req.Reason)))
	if reasonLen < e.policy.MinReasonLength {
		return deny(phase, DenialJustification, fmt.Sprintf(
			"Extension denied: insufficient justification, reason must be at least %d characters (got %d)",
			e.policy.MinReasonLength, reasonLen))
	}

	// 2. shape
	turns, minutes := deref(req.AdditionalTurns), deref(req.AdditionalMinutes)
	if turns < 0 || minutes < 0 {
		return deny(phase, DenialInvalid, "Extension denied: invalid request, additional turns and minutes must not be negative")
	}
	if turns == 0 && minutes == 0 {
		return deny(phase, DenialInvalid, "Extension denied: invalid request, ask for additional turns or minutes")
	}

	// 3. magnitude
	currentTurns := e.currentMaxTurns(sf, entry)
	if limit := e.bound(currentTurns); turns > limit {
		return deny(phase, DenialMagnitude, fmt.Sprintf(
			"Extension denied: %d additional turns is too large, limit is %d (%.0f%% of current max_turns %d)",
			turns, limit, e.policy.MaxIncreaseRatio*100, currentTurns))
	}
	currentMinutes := e.currentTimeout(sf, entry)
	if limit := e.bound(currentMinutes); minutes > limit {
		return deny(phase, DenialMagnitude, fmt.Sprintf(
			"Extension denied: %d additional minutes is too large, limit is %d (%.0f%% of current timeout %d minutes)",
			minutes, limit, e.policy.MaxIncreaseRatio*100, currentMinutes))
	}

	// 4. frequency
	if granted := len(entry.ExtensionsGranted); granted >= e.policy.MaxPerPhase {
		return deny(phase, DenialFrequency, fmt.Sprintf(
			"Extension denied: maximum of %d extensions per phase exceeded for %s (%d already granted)",
			e.policy.MaxPerPhase, phase, granted))
	}

	record := model.ExtensionRecord{
		Reason:    req.Reason,
		GrantedAt: e.clock.Now().UTC().Format(events.TimestampLayout),
	}
	var parts []string
	if turns > 0 {
		entry.MaxTurns = model.IntPtr(currentTurns + turns)
		record.AdditionalTurns = model.IntPtr(turns)
		parts = append(parts, fmt.Sprintf("+%d turns (max_turns now %d)", turns, *entry.MaxTurns))
	}
	if minutes > 0 {
		entry.TimeoutMinutes = model.IntPtr(currentMinutes + minutes)
		record.AdditionalMinutes = model.IntPtr(minutes)
		if sf.TDDCycle.TotalExtensionsMinutes == nil {
			sf.TDDCycle.TotalExtensionsMinutes = model.IntPtr(0)
		}
		*sf.TDDCycle.TotalExtensionsMinutes += minutes
		parts = append(parts, fmt.Sprintf("+%d minutes (timeout_minutes now %d)", minutes, *entry.TimeoutMinutes))
	}
	entry.ExtensionsGranted = append(entry.ExtensionsGranted, record)

	return &model.ApprovalResult{
		Approved: true,
		Reason:   fmt.Sprintf("Extension approved for %s: %s", phase, strings.Join(parts, ", ")),
		Phase:    phase,
	}
}

func (e *Engine) currentMaxTurns(sf *model.StepFile, entry *model.PhaseExecutionEntry) int {
	if entry.MaxTurns != nil {
		return *entry.MaxTurns
	}
	if sf.TDDCycle != nil && sf.TDDCycle.MaxTurns != nil {
		return *sf.TDDCycle.MaxTurns
	}
	return e.policy.DefaultMaxTurns
}

func (e *Engine) currentTimeout(sf *model.StepFile, entry *model.PhaseExecutionEntry) int {
	if entry.TimeoutMinutes != nil {
		return *entry.TimeoutMinutes
	}
	if sf.TDDCycle != nil && sf.TDDCycle.DurationMinutes != nil {
		return *sf.TDDCycle.DurationMinutes
	}
	return e.policy.DefaultTimeoutMinutes
}

func (e *Engine) bound(current int) int {
	return int(math.Floor(float64(current) * e.policy.MaxIncreaseRatio))
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

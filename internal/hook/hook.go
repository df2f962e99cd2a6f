// Package hook implements the post-execution validator that audits a step
// file after a sub-agent returns.
package hook

import (
	"errors"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/msageha/des/internal/events"
	"github.com/msageha/des/internal/logging"
	"github.com/msageha/des/internal/model"
	"github.com/msageha/des/internal/stepfile"
)

var errPassed = errors.New("validation passed")

// SubagentStopHook validates step files and records the verdict.
type SubagentStopHook struct {
	store         *stepfile.Store
	audit         events.Recorder
	limits        Limits
	defaultSchema model.SchemaVersion
	logger        *zap.Logger
}

func NewSubagentStopHook(store *stepfile.Store, audit events.Recorder, limits Limits, defaultSchema model.SchemaVersion, logger *zap.Logger) *SubagentStopHook {
	if audit == nil {
		audit = events.Discard{}
	}
	if defaultSchema == "" {
		defaultSchema = model.SchemaV1
	}
	return &SubagentStopHook{
		store:         store,
		audit:         audit,
		limits:        limits,
		defaultSchema: defaultSchema,
		logger:        logging.OrNop(logger),
	}
}

// OnAgentComplete validates path. On failure the step's state becomes FAILED
// with the message and suggestions; a passing file is not rewritten. Read and
// decode failures are returned as errors.
func (h *SubagentStopHook) OnAgentComplete(path string) (*model.HookResult, error) {
	var (
		result *model.HookResult
		sf     *model.StepFile
	)
	_, err := h.store.Update(path, func(loaded *model.StepFile) error {
		sf = loaded
		result = h.evaluate(loaded, path)
		if result.Passed() {
			return errPassed
		}
		loaded.MarkFailed(result.ErrorMessage, result.RecoverySuggestions)
		return nil
	})
	if err != nil && !errors.Is(err, errPassed) {
		return nil, err
	}

	h.record(sf, path, result)
	return result, nil
}

// Inspect runs the same detection without writing the file or the audit log.
func (h *SubagentStopHook) Inspect(path string) (*model.HookResult, error) {
	sf, err := h.store.Load(path)
	if err != nil {
		return nil, err
	}
	return h.evaluate(sf, path), nil
}

func (h *SubagentStopHook) evaluate(sf *model.StepFile, path string) *model.HookResult {
	schema, known := model.SchemaFor(sf, h.defaultSchema)
	if !known {
		h.logger.Warn("unknown schema version, using default",
			zap.String("step_file", path),
			zap.String("schema_version", string(sf.TDDCycle.SchemaVersion)),
			zap.String("default", string(schema.Version)))
	}
	return Evaluate(sf, schema, h.limits, path)
}

func (h *SubagentStopHook) record(sf *model.StepFile, path string, result *model.HookResult) {
	data := map[string]any{
		"step_id":      StepID(sf, path),
		"feature_name": sf.ProjectID,
		"step_file":    path,
	}
	eventType := events.SubagentStopPassed
	if !result.Passed() {
		eventType = events.SubagentStopFailed
		data["error_type"] = string(result.ErrorType)
		data["error_count"] = result.ErrorCount
		data["error_message"] = result.ErrorMessage
		h.logger.Info("step failed validation",
			zap.String("step_file", path),
			zap.String("error_type", string(result.ErrorType)),
			zap.Int("error_count", result.ErrorCount))
	}
	h.audit.LogEvent(events.Event{Type: eventType, Data: data})
}

// StepID is the task_id, or the file name without extension when absent.
func StepID(sf *model.StepFile, path string) string {
	if sf != nil && sf.TaskID != "" {
		return sf.TaskID
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

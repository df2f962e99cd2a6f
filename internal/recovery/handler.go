// Package recovery turns failure categories into WHY/HOW/ACTION guidance and
// persists it into step files.
package recovery

import (
	"fmt"
	"maps"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/msageha/des/internal/events"
	"github.com/msageha/des/internal/hook"
	"github.com/msageha/des/internal/logging"
	"github.com/msageha/des/internal/model"
	"github.com/msageha/des/internal/stepfile"
)

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

var placeholderDefaults = map[string]string{
	"phase":           "UNKNOWN_PHASE",
	"step_file":       "UNKNOWN_STEP_FILE",
	"transcript_path": "UNKNOWN_TRANSCRIPT_PATH",
	"section_name":    "UNKNOWN_SECTION",
	"timeout_minutes": "UNKNOWN_TIMEOUT",
	"error":           "UNKNOWN_ERROR",
}

// FormatSuggestion renders one suggestion in the WHY/HOW/ACTION shape.
func FormatSuggestion(why, how, action string) string {
	return fmt.Sprintf("WHY: %s\n\nHOW: %s\n\nACTION: %s", why, how, action)
}

func fill(text string, ctx map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := ctx[key]; ok && v != "" {
			return v
		}
		if d, ok := placeholderDefaults[key]; ok {
			return d
		}
		return "UNKNOWN_" + strings.ToUpper(key)
	})
}

// GenerateRecoverySuggestions returns the filled templates for failureType.
// Unknown types yield one generic suggestion instead of an error.
func GenerateRecoverySuggestions(failureType string, ctx map[string]string) []string {
	ts, ok := templates(FailureMode(failureType))
	if !ok {
		return []string{FormatSuggestion(
			fmt.Sprintf("Failure type '%s' is unknown, so no specific recovery template applies.", failureType),
			"Inspect the step file and the agent transcript to classify the failure manually.",
			"See "+DocsPointer+" for the list of recognised failure types.",
		)}
	}
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = FormatSuggestion(fill(t.why, ctx), fill(t.how, ctx), fill(t.action, ctx))
	}
	return out
}

// Handler persists guidance into step files.
type Handler struct {
	store  *stepfile.Store
	audit  events.Recorder
	logger *zap.Logger
}

func NewHandler(store *stepfile.Store, audit events.Recorder, logger *zap.Logger) *Handler {
	if audit == nil {
		audit = events.Discard{}
	}
	return &Handler{store: store, audit: audit, logger: logging.OrNop(logger)}
}

// HandleFailure writes generated suggestions into the step file's state and
// returns the updated state. failure_reason in ctx, when set, is stored too.
// All other fields are preserved.
func (h *Handler) HandleFailure(path, failureType string, ctx map[string]string) (*model.State, error) {
	ctx = maps.Clone(ctx)
	if ctx == nil {
		ctx = map[string]string{}
	}
	if _, ok := ctx["step_file"]; !ok {
		ctx["step_file"] = path
	}
	suggestions := GenerateRecoverySuggestions(failureType, ctx)

	sf, err := h.store.Update(path, func(sf *model.StepFile) error {
		st := sf.EnsureState()
		st.RecoverySuggestions = suggestions
		if reason := ctx["failure_reason"]; reason != "" {
			st.FailureReason = &reason
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.Debug("recovery guidance recorded",
		zap.String("step_file", path),
		zap.String("failure_type", failureType),
		zap.Int("suggestions", len(suggestions)))
	h.audit.LogEvent(events.Event{Type: events.RecoveryGuidanceRecorded, Data: map[string]any{
		"step_id":      hook.StepID(sf, path),
		"feature_name": sf.ProjectID,
		"failure_type": failureType,
		"suggestions":  len(suggestions),
	}})
	return sf.State, nil
}

// Package execlog reads and writes the YAML execution log, an alternative
// phase-history format of pipe-delimited event records:
//
//	project_id: auth-upgrade
//	events:
//	  - "01-01|PREPARE|EXECUTED|PASS|2026-01-01T10:00:00Z"
package execlog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/des/internal/atomicfile"
	"github.com/msageha/des/internal/model"
)

const fieldCount = 5

// PhaseEvent is one record: step_id|phase_name|status|outcome|timestamp.
type PhaseEvent struct {
	StepID    string
	PhaseName string
	Status    model.PhaseStatus
	Outcome   *model.Outcome
	Timestamp time.Time
}

// ParseEvent parses one record. An empty, "-" or "null" outcome means none.
func ParseEvent(record string) (PhaseEvent, error) {
	parts := strings.Split(record, "|")
	if len(parts) != fieldCount {
		return PhaseEvent{}, fmt.Errorf("expected %d fields, got %d", fieldCount, len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	ev := PhaseEvent{StepID: parts[0], PhaseName: parts[1], Status: model.PhaseStatus(parts[2])}
	if ev.StepID == "" {
		return PhaseEvent{}, errors.New("empty step_id")
	}
	if ev.PhaseName == "" {
		return PhaseEvent{}, errors.New("empty phase_name")
	}
	if !ev.Status.Valid() {
		return PhaseEvent{}, fmt.Errorf("invalid status %q", parts[2])
	}
	switch parts[3] {
	case "", "-", "null", "None":
	default:
		o := model.Outcome(parts[3])
		if !o.Valid() {
			return PhaseEvent{}, fmt.Errorf("invalid outcome %q", parts[3])
		}
		ev.Outcome = &o
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[4])
	if err != nil {
		return PhaseEvent{}, fmt.Errorf("invalid timestamp %q", parts[4])
	}
	ev.Timestamp = ts.UTC()
	return ev, nil
}

func (e PhaseEvent) String() string {
	outcome := ""
	if e.Outcome != nil {
		outcome = string(*e.Outcome)
	}
	return strings.Join([]string{
		e.StepID, e.PhaseName, string(e.Status), outcome, e.Timestamp.UTC().Format(time.RFC3339),
	}, "|")
}

type document struct {
	ProjectID string   `yaml:"project_id"`
	Events    []string `yaml:"events"`
}

// Log is a decoded execution log.
type Log struct {
	ProjectID string
	Events    []PhaseEvent
	// Skipped holds records the lenient reader dropped.
	Skipped RecordErrors
	// OutOfOrder holds events whose status change breaks the phase
	// lifecycle. They are kept in Events and still fold normally.
	OutOfOrder RecordErrors
}

// Parse decodes data leniently: malformed records are skipped and reported
// in Skipped. Invalid YAML is an error.
func Parse(data []byte) (*Log, error) {
	var doc document
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse execution log: %w", err)
	}
	l := &Log{ProjectID: doc.ProjectID}
	last := make(map[[2]string]model.PhaseStatus)
	for i, rec := range doc.Events {
		ev, err := ParseEvent(rec)
		if err != nil {
			l.Skipped.add(i, rec, err.Error())
			continue
		}
		key := [2]string{ev.StepID, ev.PhaseName}
		if prev, seen := last[key]; seen && prev != ev.Status {
			if err := model.ValidatePhaseTransition(prev, ev.Status); err != nil {
				l.OutOfOrder.add(i, rec, fmt.Sprintf("phase %s: %v", ev.PhaseName, err))
			}
		}
		last[key] = ev.Status
		l.Events = append(l.Events, ev)
	}
	return l, nil
}

// ParseStrict is Parse that fails when any record is malformed.
func ParseStrict(data []byte) (*Log, error) {
	l, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if l.Skipped.HasErrors() {
		return nil, &l.Skipped
	}
	return l, nil
}

// Load reads path; a missing file yields an empty log.
func Load(fs afero.Fs, path string) (*Log, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Log{}, nil
		}
		return nil, fmt.Errorf("read execution log: %w", err)
	}
	return Parse(data)
}

// Append adds ev after validating it round-trips through the record format.
func (l *Log) Append(ev PhaseEvent) error {
	if _, err := ParseEvent(ev.String()); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	l.Events = append(l.Events, ev)
	return nil
}

// Marshal renders the log as YAML.
func (l *Log) Marshal() ([]byte, error) {
	doc := document{ProjectID: l.ProjectID, Events: make([]string, len(l.Events))}
	for i, ev := range l.Events {
		doc.Events[i] = ev.String()
	}
	content, err := yamlv3.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("yaml marshal: %w", err)
	}
	return content, nil
}

// Save writes the log atomically.
func (l *Log) Save(fs afero.Fs, path string) error {
	content, err := l.Marshal()
	if err != nil {
		return err
	}
	return atomicfile.Write(fs, path, content, validateYAML)
}

func validateYAML(content []byte) error {
	var v any
	return yamlv3.Unmarshal(content, &v)
}

// StepIDs lists step ids in order of first appearance.
func (l *Log) StepIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, ev := range l.Events {
		if !seen[ev.StepID] {
			seen[ev.StepID] = true
			ids = append(ids, ev.StepID)
		}
	}
	return ids
}

// latest returns the last event per phase of one step, and the phases
// outside schema in order of first appearance.
func (l *Log) latest(stepID string, schema *model.PhaseSchema) (map[string]PhaseEvent, []string) {
	last := make(map[string]PhaseEvent)
	var extra []string
	for _, ev := range l.Events {
		if ev.StepID != stepID {
			continue
		}
		if _, seen := last[ev.PhaseName]; !seen && schema.Index(ev.PhaseName) < 0 {
			extra = append(extra, ev.PhaseName)
		}
		last[ev.PhaseName] = ev
	}
	return last, extra
}

// PhaseLog folds the events of one step into a canonical phase log. The
// last event per phase wins; phases without events are NOT_EXECUTED. Phases
// outside the schema are appended after the canonical ones.
func (l *Log) PhaseLog(stepID string, schema *model.PhaseSchema) []model.PhaseExecutionEntry {
	last, extra := l.latest(stepID, schema)
	entries := schema.NewPhaseLog()
	for i := range entries {
		if ev, ok := last[entries[i].PhaseName]; ok {
			entries[i].Status = ev.Status
			entries[i].Outcome = ev.Outcome
		}
	}
	for _, name := range extra {
		ev := last[name]
		entries = append(entries, model.PhaseExecutionEntry{
			PhaseName:  name,
			PhaseIndex: len(entries),
			Status:     ev.Status,
			Outcome:    ev.Outcome,
		})
	}
	return entries
}

// ApplyTo merges the folded events of stepID into sf's phase log. Entries
// are matched by phase_name: a phase with events gets its status and outcome
// from the last one and keeps every other field; a phase without events is
// left alone. Phases missing from sf are appended from the folded log.
// task_id and project_id are filled only when empty.
func (l *Log) ApplyTo(sf *model.StepFile, stepID string, schema *model.PhaseSchema) {
	if sf.TaskID == "" {
		sf.TaskID = stepID
	}
	if sf.ProjectID == "" {
		sf.ProjectID = l.ProjectID
	}
	if sf.TDDCycle == nil {
		sf.TDDCycle = &model.TDDCycle{SchemaVersion: schema.Version}
	}
	if sf.State == nil {
		sf.State = &model.State{Status: model.StepInProgress}
	}

	last, _ := l.latest(stepID, schema)
	entries := sf.TDDCycle.PhaseExecutionLog
	have := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		have[e.PhaseName] = true
		if ev, ok := last[e.PhaseName]; ok {
			e.Status = ev.Status
			e.Outcome = ev.Outcome
		}
	}
	for _, folded := range l.PhaseLog(stepID, schema) {
		if !have[folded.PhaseName] {
			entries = append(entries, folded)
		}
	}
	sf.TDDCycle.PhaseExecutionLog = entries
}

package prompt

import (
	"fmt"

	"github.com/msageha/des/internal/model"
)

// Section is one mandatory prompt section.
type Section int

const (
	SectionDESMetadata Section = iota
	SectionAgentIdentity
	SectionTaskContext
	SectionTDDPhases
	SectionQualityGates
	SectionOutcomeRecording
	SectionBoundaryRules
	SectionTimeoutInstruction
)

// MandatorySections in the order they are checked and reported.
var MandatorySections = []Section{
	SectionDESMetadata,
	SectionAgentIdentity,
	SectionTaskContext,
	SectionTDDPhases,
	SectionQualityGates,
	SectionOutcomeRecording,
	SectionBoundaryRules,
	SectionTimeoutInstruction,
}

// Name is the literal header text; the phase section depends on the schema.
func (s Section) Name(schema *model.PhaseSchema) string {
	switch s {
	case SectionDESMetadata:
		return "DES_METADATA"
	case SectionAgentIdentity:
		return "AGENT_IDENTITY"
	case SectionTaskContext:
		return "TASK_CONTEXT"
	case SectionTDDPhases:
		return schema.Section
	case SectionQualityGates:
		return "QUALITY_GATES"
	case SectionOutcomeRecording:
		return "OUTCOME_RECORDING"
	case SectionBoundaryRules:
		return "BOUNDARY_RULES"
	case SectionTimeoutInstruction:
		return "TIMEOUT_INSTRUCTION"
	}
	return fmt.Sprintf("SECTION_%d", int(s))
}

// Guidance is the one-line remedy for a missing section.
func (s Section) Guidance(schema *model.PhaseSchema) string {
	name := s.Name(schema)
	switch s {
	case SectionDESMetadata:
		return fmt.Sprintf("Add %s section with the step file path and orchestrator command", name)
	case SectionAgentIdentity:
		return fmt.Sprintf("Add %s section naming the agent that executes this step", name)
	case SectionTaskContext:
		return fmt.Sprintf("Add %s section describing the task and its acceptance criteria", name)
	case SectionTDDPhases:
		return fmt.Sprintf("Add %s section listing all %d TDD phases in order", name, len(schema.Phases))
	case SectionQualityGates:
		return fmt.Sprintf("Add %s section with the checks every phase must pass", name)
	case SectionOutcomeRecording:
		return fmt.Sprintf("Add %s section explaining how to record phase outcomes in the step file", name)
	case SectionBoundaryRules:
		return fmt.Sprintf("Add %s section listing the files the agent may modify", name)
	case SectionTimeoutInstruction:
		return fmt.Sprintf("Add %s section with turn budget guidance", name)
	}
	return fmt.Sprintf("Add %s section", name)
}

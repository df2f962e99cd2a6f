package model

// PhaseSchema is the canonical, ordered phase vocabulary in force for a step.
type PhaseSchema struct {
	Version SchemaVersion
	Phases  []string
	// Section is the prompt section that must carry the phase list.
	Section string

	index map[string]int
}

const (
	SchemaV1 SchemaVersion = "1.0"
	SchemaV2 SchemaVersion = "2.0"
)

var (
	schemaV1 = newPhaseSchema(SchemaV1, "TDD_14_PHASES", []string{
		"PREPARE",
		"RED_ACCEPTANCE",
		"RED_UNIT",
		"GREEN_UNIT",
		"CHECK_ACCEPTANCE",
		"GREEN_ACCEPTANCE",
		"REVIEW",
		"REFACTOR_L1",
		"REFACTOR_L2",
		"REFACTOR_L3",
		"REFACTOR_L4",
		"POST_REFACTOR_REVIEW",
		"FINAL_VALIDATE",
		"COMMIT",
	})
	schemaV2 = newPhaseSchema(SchemaV2, "TDD_8_PHASES", []string{
		"PREPARE",
		"RED_ACCEPTANCE",
		"RED_UNIT",
		"GREEN",
		"REVIEW",
		"REFACTOR_CONTINUOUS",
		"FINAL_VALIDATE",
		"COMMIT",
	})
)

var schemas = map[SchemaVersion]*PhaseSchema{
	SchemaV1: schemaV1,
	SchemaV2: schemaV2,
}

func newPhaseSchema(v SchemaVersion, section string, phases []string) *PhaseSchema {
	idx := make(map[string]int, len(phases))
	for i, p := range phases {
		idx[p] = i
	}
	return &PhaseSchema{Version: v, Phases: phases, Section: section, index: idx}
}

// LookupSchema returns the schema registered for v.
func LookupSchema(v SchemaVersion) (*PhaseSchema, bool) {
	s, ok := schemas[v]
	return s, ok
}

// SchemaFor selects the schema declared by a step file. A missing version
// selects def; known reports whether the declared version was recognised.
func SchemaFor(sf *StepFile, def SchemaVersion) (schema *PhaseSchema, known bool) {
	fallback, ok := schemas[def]
	if !ok {
		fallback = schemaV1
	}
	if sf == nil || sf.TDDCycle == nil || sf.TDDCycle.SchemaVersion == "" {
		return fallback, true
	}
	if s, ok := schemas[sf.TDDCycle.SchemaVersion]; ok {
		return s, true
	}
	return fallback, false
}

// Index returns the canonical position of phase, or -1 for names outside the schema.
func (s *PhaseSchema) Index(phase string) int {
	if i, ok := s.index[phase]; ok {
		return i
	}
	return -1
}

// Order sorts names into canonical order; unknown names keep their relative
// order after the known ones.
func (s *PhaseSchema) Order(names []string) []string {
	out := make([]string, 0, len(names))
	var unknown []string
	seen := make(map[string]bool, len(names))
	for _, p := range s.Phases {
		for _, n := range names {
			if n == p && !seen[n] {
				out = append(out, n)
				seen[n] = true
			}
		}
	}
	for _, n := range names {
		if s.Index(n) < 0 {
			unknown = append(unknown, n)
		}
	}
	return append(out, unknown...)
}

// NewPhaseLog returns one NOT_EXECUTED entry per canonical phase.
func (s *PhaseSchema) NewPhaseLog() []PhaseExecutionEntry {
	log := make([]PhaseExecutionEntry, len(s.Phases))
	for i, p := range s.Phases {
		log[i] = PhaseExecutionEntry{PhaseName: p, PhaseIndex: i, Status: PhaseNotExecuted}
	}
	return log
}

// Package workflow tracks the five-stage claim pipeline and governs
// per-session agent spend.
package workflow

// Stage is a pipeline position, 1 through 5.
type Stage int

const (
	StageExtracting Stage = iota + 1
	StageCoding
	StageBuilding
	StageValidating
	StageComplete
)

var stageLabels = map[Stage]string{
	StageExtracting: "Extracting diagnoses...",
	StageCoding:     "Assigning codes...",
	StageBuilding:   "Building claim...",
	StageValidating: "Validating rules...",
	StageComplete:   "Complete",
}

// Label returns the display label of s.
func (s Stage) Label() string {
	return stageLabels[s]
}

// toolStages maps a tool name to the stage its invocation implies.
var toolStages = map[string]Stage{
	"search_icd10":  StageCoding,
	"lookup_icd10":  StageCoding,
	"check_age_sex": StageValidating,
}

// mutationStages maps a successfully applied claim action to the stage it
// implies.
var mutationStages = map[string]Stage{
	"set":            StageBuilding,
	"add_finding":    StageValidating,
	"set_risk_score": StageValidating,
}

// Tracker holds the current stage of one analysis turn. A nil *Tracker
// ignores every call, which is how chat turns run without stages.
type Tracker struct {
	current Stage
	emit    func(Stage, string)
}

// NewTracker returns a tracker at stage 0 that reports every advance to emit.
func NewTracker(emit func(stage Stage, label string)) *Tracker {
	return &Tracker{emit: emit}
}

// Advance moves to s when s is ahead of the current stage and within range.
func (t *Tracker) Advance(s Stage) bool {
	if t == nil || s <= t.current || s > StageComplete {
		return false
	}
	t.current = s
	if t.emit != nil {
		t.emit(s, s.Label())
	}
	return true
}

// Start reports stage 1.
func (t *Tracker) Start() bool {
	return t.Advance(StageExtracting)
}

// ToolStarted advances on a tool invocation named in toolStages.
func (t *Tracker) ToolStarted(tool string) bool {
	if s, ok := toolStages[tool]; ok {
		return t.Advance(s)
	}
	return false
}

// Mutated advances on an applied claim action named in mutationStages.
func (t *Tracker) Mutated(action string) bool {
	if s, ok := mutationStages[action]; ok {
		return t.Advance(s)
	}
	return false
}

// Complete reports the final stage.
func (t *Tracker) Complete() bool {
	return t.Advance(StageComplete)
}

// Current returns the last reported stage, or 0 before Start.
func (t *Tracker) Current() Stage {
	if t == nil {
		return 0
	}
	return t.current
}

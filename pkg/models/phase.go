package models

// Phase is the coarse stage a workflow is in.
type Phase string

const (
	PhaseScout          Phase = "scout"
	PhaseDecomposeRoot  Phase = "decompose_root"
	PhaseDecomposeChild Phase = "decompose_child"
	PhaseValidate       Phase = "validate"
	PhaseExplain        Phase = "explain"
	PhaseCritique       Phase = "critique"
	PhaseSynthesize     Phase = "synthesize"
	PhaseComplete       Phase = "complete"
	PhaseFailed         Phase = "failed"
	PhaseInterrupted    Phase = "interrupted"
)

// Terminal reports whether no further work follows this phase.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseFailed, PhaseInterrupted:
		return true
	}
	return false
}

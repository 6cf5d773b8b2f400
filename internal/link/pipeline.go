// pipeline.go - Explicit link phases with validation
package link

import "fmt"

// Phase is a stage of one link. Each phase only starts once the one before it finished.
type Phase int

const (
	PhaseAssemble Phase = iota
	PhaseLayout
	PhaseGOT
	PhaseRelocate
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseAssemble:
		return "Assemble"
	case PhaseLayout:
		return "Layout"
	case PhaseGOT:
		return "GOT Allocation"
	case PhaseRelocate:
		return "Relocation"
	case PhaseComplete:
		return "Link Complete"
	default:
		return fmt.Sprintf("Unknown Phase %d", int(p))
	}
}

// Pipeline tracks the current phase and validates transitions
type Pipeline struct {
	current Phase
	history []Phase
	cfg     Config
}

func NewPipeline(cfg Config) *Pipeline {
	return &Pipeline{
		current: PhaseAssemble,
		history: []Phase{PhaseAssemble},
		cfg:     cfg,
	}
}

// AdvanceTo moves to the next phase. Skipping or going back is an invariant violation.
func (p *Pipeline) AdvanceTo(phase Phase) error {
	if phase != p.current+1 || p.current == PhaseComplete {
		e := invariantViolation("invalid phase transition: %s -> %s", p.current, phase)
		e.Expected = (p.current + 1).String()
		e.Actual = phase.String()
		return e
	}
	p.current = phase
	p.history = append(p.history, phase)
	p.cfg.logf("link: phase %s\n", phase)
	return nil
}

func (p *Pipeline) Current() Phase {
	return p.current
}

// History returns the phases passed through so far
func (p *Pipeline) History() []Phase {
	return append([]Phase(nil), p.history...)
}

// Require checks that operation runs in the expected phase
func (p *Pipeline) Require(expected Phase, operation string) error {
	if p.current != expected {
		e := invariantViolation("%s attempted in the wrong phase", operation)
		e.Expected = expected.String()
		e.Actual = p.current.String()
		return e
	}
	return nil
}

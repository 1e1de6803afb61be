package graph

import (
	"fmt"

	"github.com/corbin-ks/lattice/internal/diag"
)

// State is a module's position in the processing pipeline. States are
// strictly ordered and a module only ever advances.
type State int

const (
	Unprocessed State = iota
	Parsed
	PartiallyAnalyzed
	SemanticallyAnalyzed
	TypeChecked
)

func (s State) String() string {
	switch s {
	case Unprocessed:
		return "unprocessed"
	case Parsed:
		return "parsed"
	case PartiallyAnalyzed:
		return "partially-analyzed"
	case SemanticallyAnalyzed:
		return "semantically-analyzed"
	case TypeChecked:
		return "type-checked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Advance moves the module to a later state. A non-forward transition is an
// engine bug, not a user error.
func (m *Module) Advance(to State) error {
	if to <= m.State {
		return fmt.Errorf("%w: illegal state transition for %s: %s -> %s",
			diag.ErrInternal, m.ID, m.State, to)
	}
	m.State = to
	return nil
}

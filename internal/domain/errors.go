package domain

import "fmt"

// ShapeError reports a snapshot record that is missing a required field. The
// orchestrator converts it into a per-symbol skip, never a run abort.
type ShapeError struct {
	Kind   string // "position" or "order"
	Symbol string
	Field  string
}

func (e *ShapeError) Error() string {
	sym := e.Symbol
	if sym == "" {
		sym = "<unknown>"
	}
	return fmt.Sprintf("malformed %s record for %s: missing %s", e.Kind, sym, e.Field)
}

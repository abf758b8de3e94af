package model

import (
	"errors"
	"fmt"
	"strings"
)

// Model errors fall into distinct kinds. Structural and catalogue errors are
// raised at the mutating call that caused them; a failed construction leaves
// no partial links behind. Stale results are signaled, not raised: accessors
// return the last-known value together with ErrResultsStale.
var (
	// ErrStructural indicates an invalid network shape: conflicting network
	// membership, bad phase sets, potential-reference violations.
	ErrStructural = errors.New("gridflow: structural error")

	// ErrCatalogue indicates a missing or ambiguous parameters-catalogue match.
	ErrCatalogue = errors.New("gridflow: catalogue error")

	// ErrResultsStale indicates the element's network was mutated after the
	// solve that produced the returned values.
	ErrResultsStale = errors.New("gridflow: results are stale")

	// ErrNoResults indicates no solve has produced values for this element.
	ErrNoResults = errors.New("gridflow: no results available")
)

// structuralf builds a structural error naming the offending element(s).
func structuralf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStructural, fmt.Sprintf(format, args...))
}

// cataloguef builds a catalogue error; candidates enumerates the valid or
// ambiguous matches and is always included in the message.
func cataloguef(candidates []string, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if len(candidates) > 0 {
		msg += " (candidates: " + strings.Join(candidates, ", ") + ")"
	}
	return fmt.Errorf("%w: %s", ErrCatalogue, msg)
}

// Structuralf is the exported form of structuralf for element packages.
func Structuralf(format string, args ...interface{}) error {
	return structuralf(format, args...)
}

// Cataloguef is the exported form of cataloguef for element packages.
func Cataloguef(candidates []string, format string, args ...interface{}) error {
	return cataloguef(candidates, format, args...)
}

package engine

import (
	"strings"

	"espcfg/internal/island"
)

// directiveKind enumerates the row-level actions of the control-name column.
type directiveKind int

const (
	// dirSet assigns a value to an ordinary named control.
	dirSet directiveKind = iota
	// dirSubmit submits the current form unconditionally.
	dirSubmit
	// dirSubmitIfChanged submits only when a prior row changed the page.
	dirSubmitIfChanged
	// dirClick presses a named button and refetches the form.
	dirClick
)

// directive is one parsed row action. Rows are parsed once here instead of
// re-testing string prefixes throughout the apply loop.
type directive struct {
	kind  directiveKind
	name  string
	value string
	// tolerant marks a click whose missing button is skipped, not fatal.
	tolerant bool
}

// parseDirective interprets a decoded row. Control names starting with "!"
// encode actions; everything else is a plain control assignment. Comment
// rows never reach here, the decoder drops them.
func parseDirective(r island.Row) directive {
	switch {
	case r.Control == "!submit":
		return directive{kind: dirSubmit}
	case r.Control == "!submit?":
		return directive{kind: dirSubmitIfChanged}
	case strings.HasPrefix(r.Control, "!"):
		name := strings.TrimPrefix(r.Control, "!")
		tolerant := strings.HasSuffix(name, "?")
		name = strings.TrimSuffix(name, "?")
		return directive{kind: dirClick, name: name, tolerant: tolerant}
	}
	return directive{kind: dirSet, name: r.Control, value: r.Value}
}

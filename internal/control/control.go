// Package control wraps remote form controls with per-kind read, write and
// drift-detection semantics. The adapter set is closed: every control kind a
// device can report maps to exactly one adapter, and unknown kinds are
// rejected at construction time.
package control

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"espcfg/internal/browser"
)

// Adapter is the uniform capability surface over a remote form control.
type Adapter interface {
	// Read returns the control's current value in text form.
	Read() string
	// Write applies the desired value to the live control.
	Write(value string) error
	// Changed reports whether the desired value differs from the control's
	// current value, using kind-specific comparison.
	Changed(value string) (bool, error)
	// NeedsResubmit reports whether changing this control requires an
	// immediate form submission rather than one deferred to end-of-page.
	NeedsResubmit() bool
}

// Page exposes the markup of the page owning a control. Only the combo
// adapter inspects it.
type Page interface {
	Contents() string
}

// New builds the adapter matching the control's remote-reported kind.
func New(ctrl browser.Control, page Page) (Adapter, error) {
	switch ctrl.Kind() {
	case "text", "search", "number", "textarea":
		return textBox{ctrl}, nil
	case "password":
		return password{ctrl}, nil
	case "checkbox":
		return checkBox{ctrl}, nil
	case "select":
		return combo{ctrl: ctrl, page: page}, nil
	case "hidden":
		return hidden{}, nil
	}
	return nil, fmt.Errorf("control %s: unknown kind %q", ctrl.Name(), ctrl.Kind())
}

type textBox struct {
	ctrl browser.Control
}

func (t textBox) Read() string { return t.ctrl.Value() }

func (t textBox) Write(value string) error {
	t.ctrl.SetValue(value)
	return nil
}

func (t textBox) Changed(value string) (bool, error) {
	return t.ctrl.Value() != value, nil
}

func (t textBox) NeedsResubmit() bool { return false }

type checkBox struct {
	ctrl browser.Control
}

func (c checkBox) Read() string { return strconv.FormatBool(c.ctrl.Checked()) }

func (c checkBox) Write(value string) error {
	c.ctrl.SetChecked(truthy(value))
	return nil
}

func (c checkBox) Changed(value string) (bool, error) {
	return c.ctrl.Checked() != truthy(value), nil
}

func (c checkBox) NeedsResubmit() bool { return false }

// truthy interprets a sheet cell as a boolean.
func truthy(value string) bool {
	switch strings.ToLower(value) {
	case "1", "t", "y":
		return true
	}
	return false
}

// combo is a single-select combo box. Desired values may name either an
// option's underlying value or its display label.
type combo struct {
	ctrl browser.Control
	page Page
}

func (c combo) Read() string { return c.ctrl.Value() }

func (c combo) Write(value string) error {
	switch {
	case slices.Contains(c.ctrl.Options(), value):
		c.ctrl.SetValue(value)
	case slices.Contains(c.ctrl.DisplayOptions(), value):
		c.ctrl.SetDisplayValue(value)
	default:
		return fmt.Errorf("%q not found in %s", value, c.ctrl.Name())
	}
	return nil
}

func (c combo) Changed(value string) (bool, error) {
	switch {
	case slices.Contains(c.ctrl.DisplayOptions(), value):
		return c.ctrl.DisplayValue() != value, nil
	case slices.Contains(c.ctrl.Options(), value):
		return c.ctrl.Value() != value, nil
	}
	return false, fmt.Errorf("%q not found in %s", value, c.ctrl.Name())
}

// NeedsResubmit reports whether the select carries an onchange handler. The
// device page uses it to repopulate dependent fields, so a change here must
// be posted before any further rows are applied.
func (c combo) NeedsResubmit() bool {
	if c.page == nil {
		return false
	}
	doc, err := html.Parse(strings.NewReader(c.page.Contents()))
	if err != nil {
		return false
	}
	sel := findSelect(doc, c.ctrl.Name())
	if sel == nil {
		return false
	}
	for _, a := range sel.Attr {
		if a.Key == "onchange" {
			return true
		}
	}
	return false
}

func findSelect(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == "select" {
		for _, a := range n.Attr {
			if a.Key == "name" && a.Val == name {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findSelect(c, name); found != nil {
			return found
		}
	}
	return nil
}

// password controls never echo their current value back, so any desired
// value is a pending change.
type password struct {
	ctrl browser.Control
}

func (p password) Read() string { return p.ctrl.Value() }

func (p password) Write(value string) error {
	p.ctrl.SetValue(value)
	return nil
}

func (p password) Changed(string) (bool, error) { return true, nil }

func (p password) NeedsResubmit() bool { return false }

// hidden controls are pre-set by the page and must never be perturbed.
type hidden struct{}

func (hidden) Read() string                 { return "" }
func (hidden) Write(string) error           { return nil }
func (hidden) Changed(string) (bool, error) { return false, nil }
func (hidden) NeedsResubmit() bool          { return false }

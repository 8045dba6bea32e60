package browser

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// httpForm is the parsed first form of a page.
type httpForm struct {
	browser  *Browser
	action   string
	method   string
	controls []*formControl
}

func (f *httpForm) Control(name string) (Control, error) {
	for _, c := range f.controls {
		if c.name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrControlNotFound)
}

func (f *httpForm) Submit() error {
	return f.browser.submit(f, nil)
}

func (f *httpForm) Click(name string) error {
	for _, c := range f.controls {
		if c.name != name {
			continue
		}
		switch c.kind {
		case "submit", "button", "image":
			return f.browser.submit(f, c)
		}
	}
	return fmt.Errorf("button %q: %w", name, ErrControlNotFound)
}

// selectOption is one <option> of a select control.
type selectOption struct {
	value    string
	label    string
	selected bool
}

// formControl is a single control of the parsed form.
type formControl struct {
	name    string
	kind    string // input type attribute, "select" or "textarea"
	value   string
	checked bool
	options []selectOption
}

func (c *formControl) Name() string { return c.name }
func (c *formControl) Kind() string { return c.kind }

func (c *formControl) Value() string {
	if c.kind == "select" {
		if opt := c.selected(); opt != nil {
			return opt.value
		}
		return ""
	}
	return c.value
}

func (c *formControl) SetValue(v string) {
	if c.kind == "select" {
		c.selectBy(func(o selectOption) bool { return o.value == v })
		return
	}
	c.value = v
}

func (c *formControl) Checked() bool      { return c.checked }
func (c *formControl) SetChecked(on bool) { c.checked = on }

func (c *formControl) Options() []string {
	vals := make([]string, len(c.options))
	for i, o := range c.options {
		vals[i] = o.value
	}
	return vals
}

func (c *formControl) DisplayOptions() []string {
	labels := make([]string, len(c.options))
	for i, o := range c.options {
		labels[i] = o.label
	}
	return labels
}

func (c *formControl) DisplayValue() string {
	if opt := c.selected(); opt != nil {
		return opt.label
	}
	return ""
}

func (c *formControl) SetDisplayValue(label string) {
	c.selectBy(func(o selectOption) bool { return o.label == label })
}

func (c *formControl) selected() *selectOption {
	for i := range c.options {
		if c.options[i].selected {
			return &c.options[i]
		}
	}
	return nil
}

func (c *formControl) selectBy(match func(selectOption) bool) {
	for i := range c.options {
		c.options[i].selected = match(c.options[i])
	}
}

// submitValue is the value contributed on submission.
func (c *formControl) submitValue() string {
	switch c.kind {
	case "select":
		return c.Value()
	case "checkbox", "radio":
		if c.value == "" {
			return "on"
		}
		return c.value
	default:
		return c.value
	}
}

// parseForm extracts the first <form> and its controls from a page.
func parseForm(r io.Reader) (*httpForm, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	node := findForm(doc)
	if node == nil {
		return nil, errors.New("page has no form")
	}

	f := &httpForm{
		action: attr(node, "action"),
		method: attr(node, "method"),
	}
	collectControls(node, f)
	return f, nil
}

func findForm(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "form" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findForm(c); found != nil {
			return found
		}
	}
	return nil
}

func collectControls(n *html.Node, f *httpForm) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			switch c.Data {
			case "input":
				f.controls = append(f.controls, inputControl(c))
				continue
			case "select":
				f.controls = append(f.controls, selectControl(c))
				continue
			case "textarea":
				f.controls = append(f.controls, &formControl{
					name:  attr(c, "name"),
					kind:  "textarea",
					value: nodeText(c),
				})
				continue
			case "button":
				kind := attr(c, "type")
				if kind == "" {
					kind = "submit"
				}
				f.controls = append(f.controls, &formControl{
					name:  attr(c, "name"),
					kind:  kind,
					value: attr(c, "value"),
				})
				continue
			}
		}
		collectControls(c, f)
	}
}

func inputControl(n *html.Node) *formControl {
	kind := strings.ToLower(attr(n, "type"))
	if kind == "" {
		kind = "text"
	}
	c := &formControl{
		name:  attr(n, "name"),
		kind:  kind,
		value: attr(n, "value"),
	}
	if kind == "checkbox" || kind == "radio" {
		c.checked = hasAttr(n, "checked")
	}
	return c
}

func selectControl(n *html.Node) *formControl {
	c := &formControl{
		name: attr(n, "name"),
		kind: "select",
	}
	for o := n.FirstChild; o != nil; o = o.NextSibling {
		if o.Type != html.ElementNode || o.Data != "option" {
			continue
		}
		label := strings.TrimSpace(nodeText(o))
		value := label
		if v, ok := lookupAttr(o, "value"); ok {
			value = v
		}
		c.options = append(c.options, selectOption{
			value:    value,
			label:    label,
			selected: hasAttr(o, "selected"),
		})
	}
	// Browsers treat the first option as selected when none is marked.
	if len(c.options) > 0 && c.selected() == nil {
		c.options[0].selected = true
	}
	return c
}

func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := lookupAttr(n, name)
	return ok
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

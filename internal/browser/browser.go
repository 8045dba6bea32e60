// Package browser provides a minimal stateful HTTP session over a device's
// configuration web UI: open a page, inspect its first form, read and write
// named controls, and submit.
//
// The embedded devices targeted here serve plain HTML forms with no
// client-side state beyond an occasional onchange submit, so a full headless
// browser is not needed.
package browser

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// ErrControlNotFound is returned by Form.Control for a name that is absent
// from the form.
var ErrControlNotFound = errors.New("control not found")

// Session drives one device's web UI. Forms returned by Form become stale
// once the session navigates (Open, Submit, Click).
type Session interface {
	// Open navigates to the given URL.
	Open(url string) error
	// Form returns the first form on the current page.
	Form() (Form, error)
	// Contents returns the raw markup of the current page.
	Contents() string
}

// Form is a live HTML form on the current page.
type Form interface {
	// Control looks up a named control. Returns ErrControlNotFound when the
	// form has no control with that name.
	Control(name string) (Control, error)
	// Submit sends the form and navigates to the response.
	Submit() error
	// Click submits the form via the named button and navigates to the
	// response.
	Click(name string) error
}

// Control is a single named form control.
type Control interface {
	Name() string
	// Kind is the remote-reported control kind: the input type attribute,
	// "select" or "textarea".
	Kind() string
	Value() string
	SetValue(v string)
	Checked() bool
	SetChecked(on bool)
	// Options returns the underlying option values of a select control.
	Options() []string
	// DisplayOptions returns the option labels of a select control.
	DisplayOptions() []string
	// DisplayValue returns the label of the selected option.
	DisplayValue() string
	// SetDisplayValue selects the option with the given label.
	SetDisplayValue(label string)
}

// Browser is the http-backed Session implementation.
type Browser struct {
	client  *http.Client
	pageURL *url.URL
	content string
}

// New creates a Browser. If client is nil a cookie-keeping client with a
// conservative timeout is used.
func New(client *http.Client) *Browser {
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	return &Browser{client: client}
}

// Open fetches the given URL and makes it the current page.
func (b *Browser) Open(rawURL string) error {
	resp, err := b.client.Get(rawURL)
	if err != nil {
		return err
	}
	return b.consume(resp)
}

// Contents returns the markup of the current page.
func (b *Browser) Contents() string {
	return b.content
}

// Form parses and returns the first form on the current page.
func (b *Browser) Form() (Form, error) {
	if b.pageURL == nil {
		return nil, errors.New("no page open")
	}
	f, err := parseForm(strings.NewReader(b.content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.pageURL, err)
	}
	f.browser = b
	return f, nil
}

func (b *Browser) consume(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", resp.Request.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", resp.Request.URL, err)
	}
	b.pageURL = resp.Request.URL
	b.content = string(body)
	return nil
}

// submit encodes the form's successful controls and navigates to the
// response. button, when non-nil, is included as the pressed submit button.
func (b *Browser) submit(f *httpForm, button *formControl) error {
	values := url.Values{}
	for _, c := range f.controls {
		switch c.kind {
		case "submit", "button", "image", "reset":
			// Buttons only contribute when pressed.
			continue
		case "checkbox", "radio":
			if !c.checked {
				continue
			}
			values.Add(c.name, c.submitValue())
		default:
			if c.name == "" {
				continue
			}
			values.Add(c.name, c.submitValue())
		}
	}
	if button != nil && button.name != "" {
		values.Add(button.name, button.submitValue())
	}

	action, err := b.resolve(f.action)
	if err != nil {
		return err
	}

	var resp *http.Response
	if strings.EqualFold(f.method, "get") || f.method == "" {
		u := *action
		u.RawQuery = values.Encode()
		resp, err = b.client.Get(u.String())
	} else {
		resp, err = b.client.PostForm(action.String(), values)
	}
	if err != nil {
		return err
	}
	return b.consume(resp)
}

// resolve makes a form action absolute against the current page.
func (b *Browser) resolve(action string) (*url.URL, error) {
	if action == "" {
		return b.pageURL, nil
	}
	ref, err := url.Parse(action)
	if err != nil {
		return nil, fmt.Errorf("form action %q: %w", action, err)
	}
	return b.pageURL.ResolveReference(ref), nil
}

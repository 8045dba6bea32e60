package browser

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

const devicePage = `<html><body>
<form action="/save" method="post">
  <input type="text" name="name" value="esp-1">
  <input type="checkbox" name="enabled" checked>
  <input type="checkbox" name="debug">
  <input type="hidden" name="page" value="7">
  <select name="plugin">
    <option value="a">Alpha</option>
    <option value="b" selected>Beta</option>
  </select>
  <textarea name="notes">hello</textarea>
  <input type="submit" name="save" value="Save">
  <input type="submit" name="reboot" value="Reboot">
</form>
</body></html>`

// formServer serves devicePage on / and records form submissions on /save.
func formServer(t *testing.T) (*Browser, *url.Values) {
	t.Helper()
	var got url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, devicePage)
	})
	mux.HandleFunc("/save", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got = r.PostForm
		fmt.Fprint(w, `<html><form action="/save"></form>saved</html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	b := New(nil)
	if err := b.Open(srv.URL + "/"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b, &got
}

func TestOpenAndContents(t *testing.T) {
	b, _ := formServer(t)
	if !strings.Contains(b.Contents(), `name="plugin"`) {
		t.Fatal("Contents does not hold the fetched page")
	}
}

func TestControlLookup(t *testing.T) {
	b, _ := formServer(t)
	form, err := b.Form()
	if err != nil {
		t.Fatalf("Form: %v", err)
	}

	name, err := form.Control("name")
	if err != nil {
		t.Fatalf("Control: %v", err)
	}
	if name.Kind() != "text" || name.Value() != "esp-1" {
		t.Fatalf("name control = (%s, %q)", name.Kind(), name.Value())
	}

	_, err = form.Control("missing")
	if !errors.Is(err, ErrControlNotFound) {
		t.Fatalf("missing control error = %v, want ErrControlNotFound", err)
	}
}

func TestSelectSemantics(t *testing.T) {
	b, _ := formServer(t)
	form, err := b.Form()
	if err != nil {
		t.Fatalf("Form: %v", err)
	}
	plugin, err := form.Control("plugin")
	if err != nil {
		t.Fatalf("Control: %v", err)
	}

	if plugin.Value() != "b" || plugin.DisplayValue() != "Beta" {
		t.Fatalf("select = (%q, %q), want (b, Beta)", plugin.Value(), plugin.DisplayValue())
	}
	plugin.SetDisplayValue("Alpha")
	if plugin.Value() != "a" {
		t.Fatalf("after SetDisplayValue: value %q, want a", plugin.Value())
	}
	plugin.SetValue("b")
	if plugin.DisplayValue() != "Beta" {
		t.Fatalf("after SetValue: label %q, want Beta", plugin.DisplayValue())
	}
}

func TestSubmitEncodesSuccessfulControls(t *testing.T) {
	b, got := formServer(t)
	form, err := b.Form()
	if err != nil {
		t.Fatalf("Form: %v", err)
	}
	if err := form.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got.Get("name") != "esp-1" {
		t.Fatalf("name = %q", got.Get("name"))
	}
	// Checked box contributes "on" (it has no value attribute), unchecked
	// box contributes nothing.
	if got.Get("enabled") != "on" {
		t.Fatalf("enabled = %q", got.Get("enabled"))
	}
	if _, ok := (*got)["debug"]; ok {
		t.Fatal("unchecked checkbox was submitted")
	}
	if got.Get("plugin") != "b" {
		t.Fatalf("plugin = %q, want selected option value", got.Get("plugin"))
	}
	if got.Get("notes") != "hello" {
		t.Fatalf("notes = %q", got.Get("notes"))
	}
	if got.Get("page") != "7" {
		t.Fatalf("hidden page = %q", got.Get("page"))
	}
	// Unpressed buttons never contribute.
	if _, ok := (*got)["save"]; ok {
		t.Fatal("unpressed submit button was encoded")
	}

	if !strings.Contains(b.Contents(), "saved") {
		t.Fatal("submission did not navigate to the response")
	}
}

func TestSubmitCarriesWrites(t *testing.T) {
	b, got := formServer(t)
	form, err := b.Form()
	if err != nil {
		t.Fatalf("Form: %v", err)
	}
	name, _ := form.Control("name")
	name.SetValue("esp-2")
	debug, _ := form.Control("debug")
	debug.SetChecked(true)

	if err := form.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Get("name") != "esp-2" {
		t.Fatalf("name = %q, want the written value", got.Get("name"))
	}
	if got.Get("debug") != "on" {
		t.Fatalf("debug = %q, want on after SetChecked", got.Get("debug"))
	}
}

func TestClickIncludesPressedButton(t *testing.T) {
	b, got := formServer(t)
	form, err := b.Form()
	if err != nil {
		t.Fatalf("Form: %v", err)
	}
	if err := form.Click("reboot"); err != nil {
		t.Fatalf("Click: %v", err)
	}
	if got.Get("reboot") != "Reboot" {
		t.Fatalf("reboot = %q, want the pressed button's value", got.Get("reboot"))
	}
	if _, ok := (*got)["save"]; ok {
		t.Fatal("the other submit button leaked into the submission")
	}
}

func TestClickUnknownButton(t *testing.T) {
	b, _ := formServer(t)
	form, err := b.Form()
	if err != nil {
		t.Fatalf("Form: %v", err)
	}
	err = form.Click("name")
	if !errors.Is(err, ErrControlNotFound) {
		t.Fatalf("clicking a non-button = %v, want ErrControlNotFound", err)
	}
}

func TestGetFormSubmitsViaQuery(t *testing.T) {
	var gotQuery url.Values
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><form action="/search">
			<input type="text" name="q" value="esp"></form></html>`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `<html><form></form></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := New(nil)
	if err := b.Open(srv.URL + "/"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	form, err := b.Form()
	if err != nil {
		t.Fatalf("Form: %v", err)
	}
	if err := form.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotQuery.Get("q") != "esp" {
		t.Fatalf("q = %q, want query-encoded submission", gotQuery.Get("q"))
	}
}

func TestOpenNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	b := New(nil)
	if err := b.Open(srv.URL + "/nope"); err == nil {
		t.Fatal("expected error for a 404 page")
	}
}

func TestFormWithoutPage(t *testing.T) {
	b := New(nil)
	if _, err := b.Form(); err == nil {
		t.Fatal("expected error before any page is open")
	}
}

func TestParseFormFirstFormOnly(t *testing.T) {
	page := `<html>
		<form action="/one"><input name="a" value="1"></form>
		<form action="/two"><input name="b" value="2"></form>
	</html>`
	f, err := parseForm(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parseForm: %v", err)
	}
	if f.action != "/one" {
		t.Fatalf("action = %q, want the first form's", f.action)
	}
	if _, err := f.Control("b"); !errors.Is(err, ErrControlNotFound) {
		t.Fatal("second form's control leaked into the first")
	}
}

func TestParseFormNoForm(t *testing.T) {
	if _, err := parseForm(strings.NewReader(`<html><p>no forms</p></html>`)); err == nil {
		t.Fatal("expected error for a page without a form")
	}
}

func TestSelectDefaultsToFirstOption(t *testing.T) {
	page := `<html><form><select name="s">
		<option value="x">X</option><option value="y">Y</option>
	</select></form></html>`
	f, err := parseForm(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parseForm: %v", err)
	}
	s, err := f.Control("s")
	if err != nil {
		t.Fatalf("Control: %v", err)
	}
	if s.Value() != "x" {
		t.Fatalf("default selection = %q, want the first option", s.Value())
	}
}

func TestOptionWithoutValueUsesLabel(t *testing.T) {
	page := `<html><form><select name="s">
		<option>Plain</option>
	</select></form></html>`
	f, err := parseForm(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parseForm: %v", err)
	}
	s, _ := f.Control("s")
	if s.Value() != "Plain" || s.DisplayValue() != "Plain" {
		t.Fatalf("option = (%q, %q), want label used as value", s.Value(), s.DisplayValue())
	}
}

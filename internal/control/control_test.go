package control

import (
	"strings"
	"testing"
)

// fakeControl implements browser.Control for adapter tests.
type fakeControl struct {
	name     string
	kind     string
	value    string
	checked  bool
	options  []string
	displays []string
	selected int
}

func (f *fakeControl) Name() string { return f.name }
func (f *fakeControl) Kind() string { return f.kind }

func (f *fakeControl) Value() string {
	if f.kind == "select" {
		if f.selected >= 0 && f.selected < len(f.options) {
			return f.options[f.selected]
		}
		return ""
	}
	return f.value
}

func (f *fakeControl) SetValue(v string) {
	if f.kind == "select" {
		for i, opt := range f.options {
			if opt == v {
				f.selected = i
			}
		}
		return
	}
	f.value = v
}

func (f *fakeControl) Checked() bool            { return f.checked }
func (f *fakeControl) SetChecked(on bool)       { f.checked = on }
func (f *fakeControl) Options() []string        { return f.options }
func (f *fakeControl) DisplayOptions() []string { return f.displays }

func (f *fakeControl) DisplayValue() string {
	if f.selected >= 0 && f.selected < len(f.displays) {
		return f.displays[f.selected]
	}
	return ""
}

func (f *fakeControl) SetDisplayValue(label string) {
	for i, d := range f.displays {
		if d == label {
			f.selected = i
		}
	}
}

// page is a trivial Page implementation.
type page string

func (p page) Contents() string { return string(p) }

func newAdapter(t *testing.T, ctrl *fakeControl, p Page) Adapter {
	t.Helper()
	a, err := New(ctrl, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestUnknownKindRejected(t *testing.T) {
	_, err := New(&fakeControl{name: "x", kind: "color"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown control kind")
	}
	if !strings.Contains(err.Error(), "color") {
		t.Fatalf("error should name the kind: %v", err)
	}
}

func TestTextBoxKinds(t *testing.T) {
	for _, kind := range []string{"text", "search", "number", "textarea"} {
		if _, err := New(&fakeControl{kind: kind}, nil); err != nil {
			t.Fatalf("kind %s: %v", kind, err)
		}
	}
}

func TestTextBoxChanged(t *testing.T) {
	ctrl := &fakeControl{kind: "text", value: "esp-1"}
	a := newAdapter(t, ctrl, nil)

	if ch, _ := a.Changed("esp-1"); ch {
		t.Fatal("identical value reported as changed")
	}
	if ch, _ := a.Changed("esp-2"); !ch {
		t.Fatal("different value not reported as changed")
	}
	if err := a.Write("esp-2"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ctrl.value != "esp-2" {
		t.Fatalf("value %q after write", ctrl.value)
	}
	if a.NeedsResubmit() {
		t.Fatal("text box never needs a resubmit")
	}
}

func TestCheckBoxChanged(t *testing.T) {
	tests := []struct {
		current bool
		desired string
		changed bool
	}{
		{true, "1", false},
		{true, "t", false},
		{true, "y", false},
		{true, "T", false},
		{true, "Y", false},
		{false, "1", true},
		{false, "y", true},
		{true, "0", true},
		{true, "n", true},
		{true, "", true},
		{false, "no", false},
	}
	for _, tt := range tests {
		ctrl := &fakeControl{kind: "checkbox", checked: tt.current}
		a := newAdapter(t, ctrl, nil)
		ch, err := a.Changed(tt.desired)
		if err != nil {
			t.Fatalf("Changed(%q): %v", tt.desired, err)
		}
		if ch != tt.changed {
			t.Errorf("current=%v desired=%q: changed=%v, want %v",
				tt.current, tt.desired, ch, tt.changed)
		}
	}
}

func TestCheckBoxWrite(t *testing.T) {
	ctrl := &fakeControl{kind: "checkbox"}
	a := newAdapter(t, ctrl, nil)
	if err := a.Write("Y"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !ctrl.checked {
		t.Fatal("truthy write left checkbox unchecked")
	}
	if err := a.Write("off"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ctrl.checked {
		t.Fatal("falsy write left checkbox checked")
	}
}

func newCombo() *fakeControl {
	return &fakeControl{
		name:     "plugin",
		kind:     "select",
		options:  []string{"a", "b"},
		displays: []string{"Alpha", "Beta"},
		selected: 0,
	}
}

func TestComboChanged(t *testing.T) {
	a := newAdapter(t, newCombo(), nil)

	if ch, _ := a.Changed("Beta"); !ch {
		t.Fatal("display label of another option not reported as changed")
	}
	if ch, _ := a.Changed("Alpha"); ch {
		t.Fatal("current display label reported as changed")
	}
	if ch, _ := a.Changed("a"); ch {
		t.Fatal("current underlying value reported as changed")
	}
	if ch, _ := a.Changed("b"); !ch {
		t.Fatal("other underlying value not reported as changed")
	}
	if _, err := a.Changed("gamma"); err == nil {
		t.Fatal("expected error for value matching neither options nor labels")
	}
}

func TestComboWrite(t *testing.T) {
	ctrl := newCombo()
	a := newAdapter(t, ctrl, nil)

	if err := a.Write("b"); err != nil {
		t.Fatalf("Write by value: %v", err)
	}
	if ctrl.selected != 1 {
		t.Fatal("write by underlying value did not select option")
	}

	if err := a.Write("Alpha"); err != nil {
		t.Fatalf("Write by label: %v", err)
	}
	if ctrl.selected != 0 {
		t.Fatal("write by display label did not select option")
	}

	if err := a.Write("gamma"); err == nil {
		t.Fatal("expected error for unresolvable value")
	}
}

func TestComboNeedsResubmit(t *testing.T) {
	withHandler := page(`<html><body><form>
		<select name="plugin" onchange="return dept_onchange(frmselect)">
			<option value="a">Alpha</option>
		</select></form></body></html>`)
	without := page(`<html><body><form>
		<select name="plugin"><option value="a">Alpha</option></select>
		</form></body></html>`)

	if !newAdapter(t, newCombo(), withHandler).NeedsResubmit() {
		t.Fatal("onchange select should need a resubmit")
	}
	if newAdapter(t, newCombo(), without).NeedsResubmit() {
		t.Fatal("plain select should not need a resubmit")
	}
	if newAdapter(t, newCombo(), nil).NeedsResubmit() {
		t.Fatal("nil page should not need a resubmit")
	}
}

func TestPasswordAlwaysChanged(t *testing.T) {
	a := newAdapter(t, &fakeControl{kind: "password", value: "old"}, nil)
	for _, desired := range []string{"", "old", "new"} {
		ch, err := a.Changed(desired)
		if err != nil {
			t.Fatalf("Changed(%q): %v", desired, err)
		}
		if !ch {
			t.Fatalf("Changed(%q) = false, passwords are always pending", desired)
		}
	}
}

func TestHiddenInert(t *testing.T) {
	ctrl := &fakeControl{kind: "hidden", value: "preset"}
	a := newAdapter(t, ctrl, nil)

	ch, err := a.Changed("anything")
	if err != nil || ch {
		t.Fatalf("hidden Changed = (%v, %v), want (false, nil)", ch, err)
	}
	if err := a.Write("clobber"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ctrl.value != "preset" {
		t.Fatal("write perturbed a hidden control")
	}
}

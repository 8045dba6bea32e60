// Package engine walks decoded islands against live devices: it opens each
// unit's configuration pages, diffs desired control values against the
// remote state, writes the changed ones and submits forms in row order.
//
// The engine is strictly sequential. Device web UIs are stateful, so
// concurrent or out-of-order writes against one unit would corrupt the
// server-side session.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"espcfg/internal/browser"
	"espcfg/internal/control"
	"espcfg/internal/island"
)

// quotaMarker appears in a response body when the device refused the write
// because its daily flash write budget is exhausted. Advisory only.
const quotaMarker = "resetFlashWriteCounter"

// Options configure a Processor.
type Options struct {
	// DryRun logs intended submissions without performing them.
	DryRun bool
	// FailFast aborts the whole run on the first connectivity failure
	// instead of skipping to the next page or unit.
	FailFast bool
	// Aliases maps logical unit names to network addresses. Names without
	// an entry pass through unresolved.
	Aliases map[string]string
	// Host, when set, restricts processing to that single unit.
	Host string
}

// Processor applies islands to their units.
type Processor struct {
	opts Options
	log  *slog.Logger

	// newSession builds a fresh session per unit. Swapped out in tests.
	newSession func() browser.Session
}

// New creates a Processor. A nil logger falls back to slog.Default.
func New(opts Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		opts:       opts,
		log:        logger,
		newSession: func() browser.Session { return browser.New(nil) },
	}
}

// SetSessionFactory overrides how per-unit sessions are created.
func (p *Processor) SetSessionFactory(f func() browser.Session) {
	p.newSession = f
}

// Apply processes every island in order, unit by unit, page by page.
func (p *Processor) Apply(islands []*island.Island) error {
	for _, isl := range islands {
		for _, unit := range isl.Units {
			if p.opts.Host != "" && unit != p.opts.Host {
				continue
			}
			if err := p.applyUnit(unit, isl); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolve maps a logical unit name through the alias table.
func (p *Processor) resolve(unit string) string {
	if addr, ok := p.opts.Aliases[unit]; ok {
		return addr
	}
	return unit
}

func (p *Processor) applyUnit(unit string, isl *island.Island) error {
	p.log.Info("processing unit", "unit", unit)
	sess := p.newSession()

	rootURL := "http://" + p.resolve(unit)
	if err := sess.Open(rootURL); err != nil {
		p.log.Error("unit unreachable", "unit", unit, "url", rootURL, "error", err)
		if p.opts.FailFast {
			return fmt.Errorf("open %s: %w", rootURL, err)
		}
		return nil
	}

	for _, pageURL := range isl.PageURLs() {
		full := rootURL + pageURL
		if err := sess.Open(full); err != nil {
			// A dead page only abandons that page, the unit's remaining
			// pages are still attempted.
			p.log.Error("page unreachable", "unit", unit, "url", full, "error", err)
			if p.opts.FailFast {
				return fmt.Errorf("open %s: %w", full, err)
			}
			continue
		}
		p.log.Info("loaded page", "url", full)
		if err := p.applyPage(sess, unit, full, isl.RowsFor(pageURL)); err != nil {
			return err
		}
	}
	return nil
}

// applyPage walks one page's rows in order. Any error returned here is a
// fatal fault (missing control, unknown kind, unresolvable value), never a
// mere connectivity issue.
func (p *Processor) applyPage(sess browser.Session, unit, pageURL string, rows []island.Row) error {
	form, err := sess.Form()
	if err != nil {
		return fmt.Errorf("%s: %w", pageURL, err)
	}

	changed := false
	for _, row := range rows {
		d := parseDirective(row)
		switch d.kind {
		case dirSubmit:
			form, err = p.submit(sess, form, pageURL)
			if err != nil {
				return err
			}

		case dirSubmitIfChanged:
			if !changed {
				continue
			}
			form, err = p.submit(sess, form, pageURL)
			if err != nil {
				return err
			}
			changed = false

		case dirClick:
			form, err = p.click(sess, form, unit, pageURL, d)
			if err != nil {
				return err
			}

		case dirSet:
			changed, err = p.set(sess, &form, unit, pageURL, d, changed)
			if err != nil {
				return err
			}
		}
	}

	if changed {
		if _, err := p.submit(sess, form, pageURL); err != nil {
			return err
		}
	} else {
		p.log.Info("no changes", "url", pageURL)
	}
	return nil
}

// set applies one ordinary control row and returns the updated page-changed
// flag.
func (p *Processor) set(sess browser.Session, form *browser.Form, unit, pageURL string, d directive, changed bool) (bool, error) {
	ctrl, err := (*form).Control(d.name)
	if err != nil {
		return changed, fmt.Errorf("%s page %s: %w", unit, pageURL, err)
	}
	adapter, err := control.New(ctrl, sess)
	if err != nil {
		return changed, fmt.Errorf("%s page %s: %w", unit, pageURL, err)
	}

	diff, err := adapter.Changed(d.value)
	if err != nil {
		return changed, fmt.Errorf("%s page %s control %s: %w", unit, pageURL, d.name, err)
	}
	if !diff {
		return changed, nil
	}

	prev := adapter.Read()
	if p.opts.DryRun {
		p.log.Info("would change control", "control", d.name, "from", prev, "to", d.value)
	} else {
		p.log.Info("control changed", "control", d.name, "from", prev, "to", d.value)
	}
	if err := adapter.Write(d.value); err != nil {
		return changed, fmt.Errorf("%s page %s control %s: %w", unit, pageURL, d.name, err)
	}
	changed = true

	if adapter.NeedsResubmit() {
		p.log.Info("control needs immediate form submission", "control", d.name)
		next, err := p.submit(sess, *form, pageURL)
		if err != nil {
			return changed, err
		}
		*form = next
	}
	return changed, nil
}

// click presses a directive's button and refetches the form from the
// resulting page.
func (p *Processor) click(sess browser.Session, form browser.Form, unit, pageURL string, d directive) (browser.Form, error) {
	if p.opts.DryRun {
		p.log.Info("would click button", "button", d.name, "url", pageURL)
		return form, nil
	}
	p.log.Info("clicking button", "button", d.name, "url", pageURL)
	if err := form.Click(d.name); err != nil {
		if d.tolerant && errors.Is(err, browser.ErrControlNotFound) {
			p.log.Debug("button not present, skipped", "button", d.name, "url", pageURL)
			return form, nil
		}
		return nil, fmt.Errorf("%s page %s: %w", unit, pageURL, err)
	}
	next, err := sess.Form()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pageURL, err)
	}
	return next, nil
}

// submit posts the form, honoring dry-run, and returns the resulting page's
// form. In dry-run the stale form is returned unchanged, so later rows on
// the page observe pre-submission state.
func (p *Processor) submit(sess browser.Session, form browser.Form, pageURL string) (browser.Form, error) {
	if p.opts.DryRun {
		p.log.Info("form NOT submitted (dryrun)", "url", pageURL)
		return form, nil
	}
	if err := form.Submit(); err != nil {
		return nil, fmt.Errorf("submit %s: %w", pageURL, err)
	}
	p.log.Info("form submitted", "url", pageURL)
	if strings.Contains(sess.Contents(), quotaMarker) {
		p.log.Error("daily flash write count exceeded", "url", pageURL)
	}
	next, err := sess.Form()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pageURL, err)
	}
	return next, nil
}

// Precheck opens every referenced unit's root page before any changes are
// made. With FailFast set it aborts when at least one unit is unreachable.
func (p *Processor) Precheck(islands []*island.Island) error {
	seen := make(map[string]bool)
	for _, isl := range islands {
		for _, unit := range isl.Units {
			if p.opts.Host != "" && unit != p.opts.Host {
				continue
			}
			seen[unit] = true
		}
	}
	units := make([]string, 0, len(seen))
	for unit := range seen {
		units = append(units, unit)
	}
	sort.Strings(units)

	var failed []string
	sess := p.newSession()
	for _, unit := range units {
		rootURL := "http://" + p.resolve(unit)
		p.log.Info("checking unit", "unit", unit, "url", rootURL)
		if err := sess.Open(rootURL); err != nil {
			p.log.Error("unit unreachable", "unit", unit, "url", rootURL, "error", err)
			failed = append(failed, unit)
		}
	}

	if p.opts.FailFast && len(failed) > 0 {
		return fmt.Errorf("precheck failed for %d units: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

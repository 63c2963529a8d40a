package domain

import (
	"fmt"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/heapprofiler"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/performance"
	"github.com/chromedp/cdproto/profiler"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/cdproto/serviceworker"
)

// Spec is the static, per-process configuration of one domain.
type Spec struct {
	Risk           RiskLevel     `json:"risk"`
	RequiresEnable bool          `json:"requiresEnable"`
	EnableMethod   string        `json:"enableMethod,omitempty"`
	DisableMethod  string        `json:"disableMethod,omitempty"`
	Dependencies   []Domain      `json:"dependencies,omitempty"`
	AutoUnload     time.Duration `json:"autoUnload,omitempty"` // 0: sweep default
}

// Table maps every managed domain to its Spec.
type Table map[Domain]Spec

// DefaultTable returns a fresh copy of the built-in domain configuration.
func DefaultTable() Table {
	return Table{
		Page:    {Risk: RiskSafe, RequiresEnable: true, EnableMethod: page.CommandEnable, DisableMethod: page.CommandDisable},
		DOM:     {Risk: RiskSafe, RequiresEnable: true, EnableMethod: dom.CommandEnable, DisableMethod: dom.CommandDisable},
		Input:   {Risk: RiskSafe},
		Network: {Risk: RiskLow, RequiresEnable: true, EnableMethod: network.CommandEnable, DisableMethod: network.CommandDisable},
		Runtime: {Risk: RiskLow, RequiresEnable: true, EnableMethod: cdpruntime.CommandEnable, DisableMethod: cdpruntime.CommandDisable},
		// Console is deprecated upstream and has no generated bindings.
		Console: {Risk: RiskLow, RequiresEnable: true, EnableMethod: "Console.enable", DisableMethod: "Console.disable",
			Dependencies: []Domain{Runtime}},
		Performance: {Risk: RiskMedium, RequiresEnable: true, EnableMethod: performance.CommandEnable, DisableMethod: performance.CommandDisable,
			AutoUnload: 10 * time.Minute},
		Security: {Risk: RiskMedium, RequiresEnable: true, EnableMethod: security.CommandEnable, DisableMethod: security.CommandDisable,
			AutoUnload: 15 * time.Minute},
		Accessibility: {Risk: RiskMedium, RequiresEnable: true, EnableMethod: accessibility.CommandEnable, DisableMethod: accessibility.CommandDisable,
			Dependencies: []Domain{Page, DOM}, AutoUnload: 10 * time.Minute},
		DOMDebugger: {Risk: RiskMedium, Dependencies: []Domain{DOM}, AutoUnload: 10 * time.Minute},
		Fetch: {Risk: RiskHigh, RequiresEnable: true, EnableMethod: fetch.CommandEnable, DisableMethod: fetch.CommandDisable,
			Dependencies: []Domain{Network}, AutoUnload: 5 * time.Minute},
		ServiceWorker: {Risk: RiskHigh, RequiresEnable: true, EnableMethod: serviceworker.CommandEnable, DisableMethod: serviceworker.CommandDisable,
			AutoUnload: 5 * time.Minute},
		Profiler: {Risk: RiskHigh, RequiresEnable: true, EnableMethod: profiler.CommandEnable, DisableMethod: profiler.CommandDisable,
			Dependencies: []Domain{Runtime}, AutoUnload: 5 * time.Minute},
		Memory: {Risk: RiskHigh, AutoUnload: 5 * time.Minute},
		HeapProfiler: {Risk: RiskVeryHigh, RequiresEnable: true, EnableMethod: heapprofiler.CommandEnable, DisableMethod: heapprofiler.CommandDisable,
			Dependencies: []Domain{Runtime}, AutoUnload: 2 * time.Minute},
	}
}

// Override replaces selected fields of a Spec. Nil fields are left alone.
type Override struct {
	Risk           *RiskLevel
	RequiresEnable *bool
	Dependencies   []Domain // nil keeps the default, empty clears it
	AutoUnload     *time.Duration
}

// Apply returns a copy of t with the overrides applied. The result is not validated.
func (t Table) Apply(overrides map[Domain]Override) (Table, error) {
	out := make(Table, len(t))
	for d, s := range t {
		s.Dependencies = append([]Domain(nil), s.Dependencies...)
		out[d] = s
	}
	for d, o := range overrides {
		s, ok := out[d]
		if !ok {
			return nil, fmt.Errorf("override for unknown domain %q", d)
		}
		if o.Risk != nil {
			s.Risk = *o.Risk
		}
		if o.RequiresEnable != nil {
			s.RequiresEnable = *o.RequiresEnable
			if s.RequiresEnable && s.EnableMethod == "" {
				s.EnableMethod = string(d) + ".enable"
				s.DisableMethod = string(d) + ".disable"
			}
		}
		if o.Dependencies != nil {
			s.Dependencies = append([]Domain(nil), o.Dependencies...)
		}
		if o.AutoUnload != nil {
			s.AutoUnload = *o.AutoUnload
		}
		out[d] = s
	}
	return out, nil
}

// Validate checks that every managed domain is present, that dependencies
// name managed domains and that the dependency graph is acyclic.
func (t Table) Validate() error {
	for _, d := range All {
		if _, ok := t[d]; !ok {
			return fmt.Errorf("domain table: missing %s", d)
		}
	}
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[Domain]int, len(t))
	var visit func(d Domain, path []Domain) error
	visit = func(d Domain, path []Domain) error {
		switch marks[d] {
		case visiting:
			return fmt.Errorf("domain table: dependency cycle %v", append(path, d))
		case done:
			return nil
		}
		marks[d] = visiting
		for _, dep := range t[d].Dependencies {
			if _, ok := t[dep]; !ok {
				return fmt.Errorf("domain table: %s depends on unknown domain %q", d, dep)
			}
			if err := visit(dep, append(path, d)); err != nil {
				return err
			}
		}
		marks[d] = done
		return nil
	}
	for _, d := range All {
		if err := visit(d, nil); err != nil {
			return err
		}
	}
	return nil
}

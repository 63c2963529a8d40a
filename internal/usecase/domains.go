package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/rs/zerolog"

	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/cdp"
	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
	obs "github.com/travofoz/cdp-ninja-sub000/internal/infrastructure/observability"
)

// ErrDomainUnavailable is returned when a domain cannot be enabled: it is
// unknown, above the risk threshold, one of its dependencies failed, or the
// browser rejected the enable command.
var ErrDomainUnavailable = errors.New("domain unavailable")

const DefaultIdleTimeout = 30 * time.Minute

// AnonymousCaller holds a domain enabled without a caller id, so an enabled
// domain always has at least one holder.
const AnonymousCaller = "anonymous"

type domainState struct {
	spec        domain.Spec
	phase       domain.LifecycleState
	enabled     bool
	lastUsed    time.Time
	enableCount int
	lastError   string
	// callers holding the domain, in first-enable order
	enabledBy *linkedhashset.Set
}

func (s *domainState) holders() []string {
	vals := s.enabledBy.Values()
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.(string))
	}
	return out
}

// DomainManager tracks which protocol domains are enabled on the browser,
// who relies on them and whether their risk level allows enabling at all.
//
// One mutex serializes every mutation, including the recursive dependency walk
// and the enable/disable round trip. IsEnabled reads a separate snapshot so
// event ingestion never waits on a round trip.
type DomainManager struct {
	logger  zerolog.Logger
	metrics *obs.Metrics
	now     func() time.Time

	mu      sync.Mutex
	maxRisk domain.RiskLevel
	states  map[domain.Domain]*domainState

	emu     sync.RWMutex
	enabled map[domain.Domain]bool
}

// NewDomainManager validates table and starts with every domain disabled.
// A nil table means domain.DefaultTable().
func NewDomainManager(table domain.Table, maxRisk domain.RiskLevel, logger zerolog.Logger, metrics *obs.Metrics) (*DomainManager, error) {
	if table == nil {
		table = domain.DefaultTable()
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("domain table: %w", err)
	}
	m := &DomainManager{
		logger:  logger.With().Str("component", "domain-manager").Logger(),
		metrics: metrics,
		now:     time.Now,
		maxRisk: maxRisk,
		states:  make(map[domain.Domain]*domainState, len(table)),
		enabled: make(map[domain.Domain]bool, len(table)),
	}
	for d, spec := range table {
		m.states[d] = &domainState{spec: spec, phase: domain.StateDisabled, enabledBy: linkedhashset.New()}
	}
	return m, nil
}

// EnsureDomain makes sure d is enabled on conn's browser and records caller as
// relying on it. Dependencies are enabled first. A failed dependency aborts the
// call; dependencies enabled before the failure stay enabled.
func (m *DomainManager) EnsureDomain(ctx context.Context, d domain.Domain, caller string, conn Commander) error {
	if caller == "" {
		caller = AnonymousCaller
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx, d, caller, conn)
}

func (m *DomainManager) ensureLocked(ctx context.Context, d domain.Domain, caller string, conn Commander) error {
	st, ok := m.states[d]
	if !ok {
		return fmt.Errorf("%w: unknown domain %q", ErrDomainUnavailable, d)
	}
	if st.enabled {
		m.hold(st, caller)
		return nil
	}
	if !st.spec.Risk.AtMost(m.maxRisk) {
		return fmt.Errorf("%w: %s has risk %s above the %s limit", ErrDomainUnavailable, d, st.spec.Risk, m.maxRisk)
	}
	for _, dep := range st.spec.Dependencies {
		if err := m.ensureLocked(ctx, dep, caller, conn); err != nil {
			return fmt.Errorf("%w: %s needs %s: %w", ErrDomainUnavailable, d, dep, err)
		}
	}

	if st.spec.RequiresEnable {
		st.phase = domain.StateEnabling
		err := m.roundTrip(ctx, conn, st.spec.EnableMethod, cdp.DefaultTimeout)
		if err != nil {
			st.phase = domain.StateDisabled
			st.lastError = err.Error()
			m.metrics.DomainTransition(string(d), "enable_failed", m.countEnabledLocked())
			m.logger.Warn().Err(err).Str("domain", string(d)).Str("caller", caller).Msg("enable failed")
			return fmt.Errorf("%w: enable %s: %w", ErrDomainUnavailable, d, err)
		}
	}

	st.enabled = true
	st.phase = domain.StateEnabled
	st.enableCount++
	st.lastError = ""
	m.hold(st, caller)
	m.setEnabled(d, true)
	m.metrics.DomainTransition(string(d), "enable", m.countEnabledLocked())
	m.logger.Info().Str("domain", string(d)).Str("caller", caller).Str("risk", st.spec.Risk.String()).Msg("domain enabled")
	return nil
}

func (m *DomainManager) hold(st *domainState, caller string) {
	st.enabledBy.Add(caller)
	st.lastUsed = m.now()
}

func (m *DomainManager) roundTrip(ctx context.Context, conn Commander, method string, timeout time.Duration) error {
	if conn == nil {
		return errors.New("no browser connection")
	}
	r, err := conn.SendCommand(ctx, method, nil, timeout)
	if err != nil {
		return err
	}
	return r.Err()
}

// DisableDomain releases caller's hold on d and disables it once nobody else
// holds it. A named caller is removed first; the call is then refused (false)
// unless force is set or no other caller remains. The anonymous caller "" is
// refused while more than one caller holds the domain.
//
// Bookkeeping is cleared even if the disable command fails; the failure is
// kept in LastError.
func (m *DomainManager) DisableDomain(ctx context.Context, d domain.Domain, caller string, force bool, conn Commander) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disableLocked(ctx, d, caller, force, conn)
}

func (m *DomainManager) disableLocked(ctx context.Context, d domain.Domain, caller string, force bool, conn Commander) bool {
	st, ok := m.states[d]
	if !ok {
		return false
	}
	if !st.enabled {
		return true
	}
	if caller != "" {
		st.enabledBy.Remove(caller)
	}
	if !force {
		remaining := st.enabledBy.Size()
		if (caller != "" && remaining > 0) || (caller == "" && remaining > 1) {
			m.logger.Debug().Str("domain", string(d)).Str("caller", caller).Strs("heldBy", st.holders()).Msg("disable refused, domain still held")
			return false
		}
	}

	if st.spec.RequiresEnable {
		st.phase = domain.StateDisabling
		if err := m.roundTrip(ctx, conn, st.spec.DisableMethod, cdp.DisableTimeout); err != nil {
			st.lastError = err.Error()
			m.logger.Warn().Err(err).Str("domain", string(d)).Msg("disable command failed, marking disabled anyway")
		}
	}
	st.enabled = false
	st.phase = domain.StateDisabled
	st.enabledBy.Clear()
	m.setEnabled(d, false)
	m.metrics.DomainTransition(string(d), "disable", m.countEnabledLocked())
	m.logger.Info().Str("domain", string(d)).Str("caller", caller).Bool("force", force).Msg("domain disabled")
	return true
}

// CanEnable reports whether d's risk level is within the configured limit.
func (m *DomainManager) CanEnable(d domain.Domain) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[d]
	return ok && st.spec.Risk.AtMost(m.maxRisk)
}

// CleanupUnused disables enabled non-SAFE domains idle longer than their
// AutoUnload, or maxAge when the domain has none. Domains still held by more
// than one caller are left alone. It returns the domains it disabled.
func (m *DomainManager) CleanupUnused(ctx context.Context, maxAge time.Duration, conn Commander) []domain.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []domain.Domain
	for _, d := range sweepOrder() {
		st, ok := m.states[d]
		if !ok || !st.enabled || st.spec.Risk == domain.RiskSafe {
			continue
		}
		age := st.spec.AutoUnload
		if age <= 0 {
			age = maxAge
		}
		if age <= 0 || now.Sub(st.lastUsed) <= age {
			continue
		}
		if m.disableLocked(ctx, d, "", false, conn) {
			out = append(out, d)
		}
	}
	if len(out) > 0 {
		m.logger.Info().Interface("domains", out).Msg("idle domains unloaded")
	}
	return out
}

// SetRiskLevel changes the risk limit and force-disables every enabled domain
// above it. It returns the domains it disabled.
func (m *DomainManager) SetRiskLevel(ctx context.Context, level domain.RiskLevel, conn Commander) []domain.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.maxRisk
	m.maxRisk = level
	var out []domain.Domain
	for _, d := range sweepOrder() {
		st, ok := m.states[d]
		if !ok || !st.enabled || st.spec.Risk.AtMost(level) {
			continue
		}
		if m.disableLocked(ctx, d, "", true, conn) {
			out = append(out, d)
		}
	}
	m.logger.Info().Str("from", prev.String()).Str("to", level.String()).Interface("disabled", out).Msg("risk level changed")
	return out
}

// MaxRiskLevel returns the current risk limit.
func (m *DomainManager) MaxRiskLevel() domain.RiskLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxRisk
}

// Touch refreshes LastUsed of an enabled domain so the idle sweep keeps it.
func (m *DomainManager) Touch(d domain.Domain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[d]; ok && st.enabled {
		st.lastUsed = m.now()
	}
}

// IsEnabled reports whether d is currently enabled. It does not wait for an
// in-flight enable or disable.
func (m *DomainManager) IsEnabled(d domain.Domain) bool {
	m.emu.RLock()
	defer m.emu.RUnlock()
	return m.enabled[d]
}

func (m *DomainManager) setEnabled(d domain.Domain, v bool) {
	m.emu.Lock()
	if v {
		m.enabled[d] = true
	} else {
		delete(m.enabled, d)
	}
	m.emu.Unlock()
}

func (m *DomainManager) countEnabledLocked() int {
	n := 0
	for _, st := range m.states {
		if st.enabled {
			n++
		}
	}
	return n
}

// Status returns a copy of every domain's bookkeeping in canonical order.
func (m *DomainManager) Status() domain.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := domain.Status{MaxRiskLevel: m.maxRisk, Domains: make([]domain.DomainStatus, 0, len(m.states))}
	for _, d := range domain.All {
		st, ok := m.states[d]
		if !ok {
			continue
		}
		ds := domain.DomainStatus{
			Domain:      d,
			Risk:        st.spec.Risk,
			State:       st.phase,
			Enabled:     st.enabled,
			EnableCount: st.enableCount,
			EnabledBy:   st.holders(),
		}
		if !st.lastUsed.IsZero() {
			t := st.lastUsed
			ds.LastUsed = &t
		}
		if st.lastError != "" {
			e := st.lastError
			ds.LastError = &e
		}
		out.Domains = append(out.Domains, ds)
	}
	return out
}

// sweepOrder visits riskier domains first, so dependents go before the
// domains they need.
func sweepOrder() []domain.Domain {
	out := make([]domain.Domain, len(domain.All))
	for i, d := range domain.All {
		out[len(out)-1-i] = d
	}
	return out
}

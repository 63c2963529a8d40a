package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/travofoz/cdp-ninja-sub000/internal/adapters/cdp"
	"github.com/travofoz/cdp-ninja-sub000/internal/domain"
)

// fakeCommander records every method and answers from fail.
type fakeCommander struct {
	mu    sync.Mutex
	sent  []string
	fail  map[string]error
	proto map[string]bool
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{fail: map[string]error{}, proto: map[string]bool{}}
}

func (f *fakeCommander) SendCommand(ctx context.Context, method string, params any, timeout time.Duration) (*cdp.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, method)
	if err := f.fail[method]; err != nil {
		return nil, err
	}
	if f.proto[method] {
		return &cdp.Reply{Error: &cdp.ProtocolError{Method: method, Code: -32000, Message: "not allowed"}}, nil
	}
	return &cdp.Reply{Result: json.RawMessage(`{}`)}, nil
}

func (f *fakeCommander) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeCommander) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func newManager(t *testing.T, max domain.RiskLevel) *DomainManager {
	t.Helper()
	m, err := NewDomainManager(nil, max, zerolog.Nop(), nil)
	require.NoError(t, err)
	return m
}

func statusOf(m *DomainManager, d domain.Domain) domain.DomainStatus {
	for _, s := range m.Status().Domains {
		if s.Domain == d {
			return s
		}
	}
	return domain.DomainStatus{}
}

func TestEnsureDomainEnablesDependenciesFirst(t *testing.T) {
	m := newManager(t, domain.RiskHigh)
	conn := newFakeCommander()
	ctx := context.Background()

	require.NoError(t, m.EnsureDomain(ctx, domain.Accessibility, "audit", conn))
	require.Equal(t, []string{"Page.enable", "DOM.enable", "Accessibility.enable"}, conn.methods())
	for _, d := range []domain.Domain{domain.Page, domain.DOM, domain.Accessibility} {
		require.True(t, m.IsEnabled(d), d)
	}

	st := statusOf(m, domain.Accessibility)
	require.Equal(t, domain.StateEnabled, st.State)
	require.Equal(t, 1, st.EnableCount)
	require.Equal(t, []string{"audit"}, st.EnabledBy)
	require.NotNil(t, st.LastUsed)
	require.Nil(t, st.LastError)
}

func TestEnsureDomainSkipsAlreadyEnabledDependency(t *testing.T) {
	m := newManager(t, domain.RiskHigh)
	conn := newFakeCommander()
	ctx := context.Background()

	require.NoError(t, m.EnsureDomain(ctx, domain.Page, "nav", conn))
	conn.reset()

	require.NoError(t, m.EnsureDomain(ctx, domain.Accessibility, "audit", conn))
	require.Equal(t, []string{"DOM.enable", "Accessibility.enable"}, conn.methods())
	require.Equal(t, []string{"nav", "audit"}, statusOf(m, domain.Page).EnabledBy)
}

func TestAnonymousEnableRecordsHolder(t *testing.T) {
	m := newManager(t, domain.RiskHigh)
	conn := newFakeCommander()
	ctx := context.Background()

	require.NoError(t, m.EnsureDomain(ctx, domain.Network, "", conn))
	for _, st := range m.Status().Domains {
		require.Equal(t, st.Enabled, len(st.EnabledBy) > 0, st.Domain)
	}
	require.Equal(t, []string{AnonymousCaller}, statusOf(m, domain.Network).EnabledBy)

	// a single anonymous holder does not block an anonymous disable
	require.True(t, m.DisableDomain(ctx, domain.Network, "", false, conn))
	require.False(t, m.IsEnabled(domain.Network))
	require.Empty(t, statusOf(m, domain.Network).EnabledBy)
}

func TestEnsureDomainWithoutEnableCommand(t *testing.T) {
	m := newManager(t, domain.RiskMedium)
	conn := newFakeCommander()

	require.NoError(t, m.EnsureDomain(context.Background(), domain.DOMDebugger, "c", conn))
	require.Equal(t, []string{"DOM.enable"}, conn.methods(), "DOMDebugger itself has no enable command")
	require.True(t, m.IsEnabled(domain.DOMDebugger))
}

func TestRiskGateBlocksWithoutSideEffects(t *testing.T) {
	m := newManager(t, domain.RiskMedium)
	conn := newFakeCommander()

	require.False(t, m.CanEnable(domain.HeapProfiler))
	require.True(t, m.CanEnable(domain.Performance))

	err := m.EnsureDomain(context.Background(), domain.HeapProfiler, "c", conn)
	require.ErrorIs(t, err, ErrDomainUnavailable)
	require.Empty(t, conn.methods(), "dependencies must not be touched when the gate refuses")
	require.False(t, m.IsEnabled(domain.Runtime))

	st := statusOf(m, domain.HeapProfiler)
	require.Equal(t, domain.StateDisabled, st.State)
	require.Nil(t, st.LastError)
}

func TestEnsureDomainUnknown(t *testing.T) {
	m := newManager(t, domain.RiskVeryHigh)
	err := m.EnsureDomain(context.Background(), domain.Domain("Tracing"), "c", newFakeCommander())
	require.ErrorIs(t, err, ErrDomainUnavailable)
	require.False(t, m.CanEnable(domain.Domain("Tracing")))
}

func TestEnableFailureLeavesDomainDisabled(t *testing.T) {
	m := newManager(t, domain.RiskHigh)
	conn := newFakeCommander()
	conn.fail["Network.enable"] = cdp.ErrTimeout

	err := m.EnsureDomain(context.Background(), domain.Network, "c", conn)
	require.ErrorIs(t, err, ErrDomainUnavailable)
	require.ErrorIs(t, err, cdp.ErrTimeout)
	require.False(t, m.IsEnabled(domain.Network))
	st := statusOf(m, domain.Network)
	require.Equal(t, domain.StateDisabled, st.State)
	require.NotNil(t, st.LastError)
	require.Equal(t, 0, st.EnableCount)

	// a protocol error is a failure too
	conn.proto["Page.enable"] = true
	err = m.EnsureDomain(context.Background(), domain.Page, "c", conn)
	var pe *cdp.ProtocolError
	require.ErrorAs(t, err, &pe)
	require.False(t, m.IsEnabled(domain.Page))

	// recovery clears the recorded error
	delete(conn.fail, "Network.enable")
	require.NoError(t, m.EnsureDomain(context.Background(), domain.Network, "c", conn))
	require.Nil(t, statusOf(m, domain.Network).LastError)
}

func TestDependencyFailureKeepsEarlierDependencies(t *testing.T) {
	m := newManager(t, domain.RiskHigh)
	conn := newFakeCommander()
	conn.fail["DOM.enable"] = cdp.ErrConnectionLost

	err := m.EnsureDomain(context.Background(), domain.Accessibility, "c", conn)
	require.ErrorIs(t, err, ErrDomainUnavailable)
	require.ErrorIs(t, err, cdp.ErrConnectionLost)
	require.True(t, m.IsEnabled(domain.Page))
	require.False(t, m.IsEnabled(domain.DOM))
	require.False(t, m.IsEnabled(domain.Accessibility))
	require.NotContains(t, conn.methods(), "Accessibility.enable")
}

func TestSameCallerTwiceSendsOneEnable(t *testing.T) {
	m := newManager(t, domain.RiskMedium)
	conn := newFakeCommander()
	ctx := context.Background()

	require.NoError(t, m.EnsureDomain(ctx, domain.Network, "a", conn))
	require.NoError(t, m.EnsureDomain(ctx, domain.Network, "a", conn))
	require.Equal(t, []string{"Network.enable"}, conn.methods())

	st := statusOf(m, domain.Network)
	require.Equal(t, 1, st.EnableCount)
	require.Equal(t, []string{"a"}, st.EnabledBy)
}

func TestReferenceCountedDisable(t *testing.T) {
	m := newManager(t, domain.RiskMedium)
	conn := newFakeCommander()
	ctx := context.Background()

	callers := []string{"a", "b", "c"}
	for _, c := range callers {
		require.NoError(t, m.EnsureDomain(ctx, domain.Network, c, conn))
	}
	require.Equal(t, callers, statusOf(m, domain.Network).EnabledBy)

	// anonymous disable is refused while several callers hold it
	require.False(t, m.DisableDomain(ctx, domain.Network, "", false, conn))
	require.False(t, m.DisableDomain(ctx, domain.Network, "a", false, conn))
	require.False(t, m.DisableDomain(ctx, domain.Network, "b", false, conn))
	require.True(t, m.IsEnabled(domain.Network))
	require.Equal(t, []string{"c"}, statusOf(m, domain.Network).EnabledBy)

	conn.reset()
	require.True(t, m.DisableDomain(ctx, domain.Network, "c", false, conn))
	require.Equal(t, []string{"Network.disable"}, conn.methods())
	require.False(t, m.IsEnabled(domain.Network))

	// already disabled
	require.True(t, m.DisableDomain(ctx, domain.Network, "c", false, conn))
	require.Len(t, conn.methods(), 1)
}

func TestForceDisableIgnoresHolders(t *testing.T) {
	m := newManager(t, domain.RiskMedium)
	conn := newFakeCommander()
	ctx := context.Background()
	require.NoError(t, m.EnsureDomain(ctx, domain.Runtime, "a", conn))
	require.NoError(t, m.EnsureDomain(ctx, domain.Runtime, "b", conn))

	require.True(t, m.DisableDomain(ctx, domain.Runtime, "", true, conn))
	st := statusOf(m, domain.Runtime)
	require.False(t, st.Enabled)
	require.Empty(t, st.EnabledBy)
}

func TestDisableIsBestEffort(t *testing.T) {
	m := newManager(t, domain.RiskMedium)
	conn := newFakeCommander()
	ctx := context.Background()
	require.NoError(t, m.EnsureDomain(ctx, domain.Network, "a", conn))

	conn.fail["Network.disable"] = errors.New("socket gone")
	require.True(t, m.DisableDomain(ctx, domain.Network, "a", false, conn))
	require.False(t, m.IsEnabled(domain.Network))
	st := statusOf(m, domain.Network)
	require.NotNil(t, st.LastError)
	require.Contains(t, *st.LastError, "socket gone")

	// without a connection the bookkeeping is still cleared
	require.NoError(t, m.EnsureDomain(ctx, domain.Page, "a", conn))
	require.True(t, m.DisableDomain(ctx, domain.Page, "a", false, nil))
	require.False(t, m.IsEnabled(domain.Page))
}

func TestSetRiskLevelDisablesDomainsAbove(t *testing.T) {
	m := newManager(t, domain.RiskMedium)
	conn := newFakeCommander()
	ctx := context.Background()
	require.NoError(t, m.EnsureDomain(ctx, domain.Performance, "a", conn))
	require.NoError(t, m.EnsureDomain(ctx, domain.Network, "a", conn))
	require.NoError(t, m.EnsureDomain(ctx, domain.Performance, "b", conn))

	disabled := m.SetRiskLevel(ctx, domain.RiskLow, conn)
	require.Equal(t, []domain.Domain{domain.Performance}, disabled)
	require.False(t, m.IsEnabled(domain.Performance))
	require.True(t, m.IsEnabled(domain.Network))
	require.Equal(t, domain.RiskLow, m.MaxRiskLevel())
	require.Equal(t, domain.RiskLow, m.Status().MaxRiskLevel)

	err := m.EnsureDomain(ctx, domain.Performance, "a", conn)
	require.ErrorIs(t, err, ErrDomainUnavailable)
}

func TestCleanupUnusedRespectsAutoUnloadAndSafeDomains(t *testing.T) {
	m := newManager(t, domain.RiskHigh)
	conn := newFakeCommander()
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	require.NoError(t, m.EnsureDomain(ctx, domain.Page, "a", conn))        // SAFE, never unloaded
	require.NoError(t, m.EnsureDomain(ctx, domain.Fetch, "a", conn))       // 5m, also enables Network
	require.NoError(t, m.EnsureDomain(ctx, domain.Performance, "a", conn)) // 10m
	require.NoError(t, m.EnsureDomain(ctx, domain.Runtime, "a", conn))
	require.NoError(t, m.EnsureDomain(ctx, domain.Runtime, "b", conn)) // held twice

	clock = clock.Add(6 * time.Minute)
	require.Equal(t, []domain.Domain{domain.Fetch}, m.CleanupUnused(ctx, 30*time.Minute, conn))

	clock = clock.Add(5 * time.Minute)
	m.Touch(domain.Network)
	require.Equal(t, []domain.Domain{domain.Performance}, m.CleanupUnused(ctx, 30*time.Minute, conn))

	clock = clock.Add(time.Hour)
	got := m.CleanupUnused(ctx, 30*time.Minute, conn)
	require.Equal(t, []domain.Domain{domain.Network}, got, "Runtime is held by two callers")
	require.True(t, m.IsEnabled(domain.Page))
	require.True(t, m.IsEnabled(domain.Runtime))

	require.Empty(t, m.CleanupUnused(ctx, 0, conn))
}

func TestInvalidTableIsRejected(t *testing.T) {
	table := domain.DefaultTable()
	spec := table[domain.Network]
	spec.Dependencies = []domain.Domain{domain.Fetch}
	table[domain.Network] = spec

	_, err := NewDomainManager(table, domain.RiskHigh, zerolog.Nop(), nil)
	require.ErrorContains(t, err, "cycle")
}

func TestConcurrentEnsureAndDisable(t *testing.T) {
	m := newManager(t, domain.RiskHigh)
	conn := newFakeCommander()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := string(rune('a' + i))
			for j := 0; j < 50; j++ {
				_ = m.EnsureDomain(ctx, domain.Console, caller, conn)
				_ = m.IsEnabled(domain.Runtime)
				_ = m.Status()
				m.DisableDomain(ctx, domain.Console, caller, false, conn)
			}
		}(i)
	}
	wg.Wait()

	// every caller released its hold; the last one out disabled the domain
	st := statusOf(m, domain.Console)
	require.False(t, st.Enabled)
	require.Empty(t, st.EnabledBy)
}

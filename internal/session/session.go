package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/instazora/creatorcoins/internal/provider"
)

// Status is the connection state of the session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
)

var (
	ErrNotInitialized = errors.New("provider not initialized")
	ErrNotConnected   = errors.New("not connected")
	ErrNoAccounts     = errors.New("wallet returned no accounts")
)

// Dialer constructs the provider capability. Split out so tests can inject
// a fake without a live endpoint.
type Dialer func() (provider.Provider, error)

// Manager owns the authenticated connection to the user's primary account.
// The primary address is set once per session on successful connect and only
// cleared by Disconnect.
type Manager struct {
	dial Dialer
	log  *slog.Logger

	mu       sync.RWMutex
	prov     provider.Provider
	primary  common.Address
	status   Status
	lastErr  string
	onConn   []func(ctx context.Context, primary common.Address)
	onDisc   []func()
}

// NewManager creates a session manager. Initialize must be called before
// Connect.
func NewManager(dial Dialer, log *slog.Logger) *Manager {
	return &Manager{dial: dial, log: log, status: StatusInitializing}
}

// OnConnect registers a hook fired after a successful connect. Hooks run
// synchronously; their failures never fail the connect itself.
func (m *Manager) OnConnect(fn func(ctx context.Context, primary common.Address)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConn = append(m.onConn, fn)
}

// OnDisconnect registers a hook fired when the session resets.
func (m *Manager) OnDisconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisc = append(m.onDisc, fn)
}

// Initialize constructs the provider. A construction failure marks the
// session failed and is not retried automatically.
func (m *Manager) Initialize() {
	prov, err := m.dial()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.status = StatusFailed
		m.lastErr = err.Error()
		m.log.Error("initialize provider", "error", err)
		return
	}
	m.prov = prov
	m.status = StatusReady
	m.log.Info("provider initialized")
}

// Connect requests account authorization from the provider and records the
// primary address. Rejection or transport failure leaves the session
// disconnected and is surfaced to the caller.
func (m *Manager) Connect(ctx context.Context) (common.Address, error) {
	m.mu.Lock()
	if m.prov == nil {
		m.mu.Unlock()
		return common.Address{}, ErrNotInitialized
	}
	prov := m.prov
	m.status = StatusConnecting
	m.mu.Unlock()

	raw, err := prov.Request(ctx, provider.MethodRequestAccounts)
	if err != nil {
		m.setStatus(StatusDisconnected, err.Error())
		return common.Address{}, fmt.Errorf("request accounts: %w", err)
	}

	var accounts []common.Address
	if err := json.Unmarshal(raw, &accounts); err != nil {
		m.setStatus(StatusDisconnected, err.Error())
		return common.Address{}, fmt.Errorf("decode accounts: %w", err)
	}
	if len(accounts) == 0 {
		m.setStatus(StatusDisconnected, ErrNoAccounts.Error())
		return common.Address{}, ErrNoAccounts
	}

	primary := accounts[0]

	m.mu.Lock()
	m.primary = primary
	m.status = StatusConnected
	m.lastErr = ""
	hooks := append([]func(ctx context.Context, primary common.Address){}, m.onConn...)
	m.mu.Unlock()

	m.log.Info("connected", "primary", provider.ShortAddr(primary.Hex(), 6))

	// Side effects of connecting (sub-account discovery). Hook failures only
	// leave downstream state unset.
	for _, fn := range hooks {
		fn(ctx, primary)
	}

	return primary, nil
}

// Disconnect resets all session state to initial. Safe from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.primary = common.Address{}
	if m.prov != nil {
		m.status = StatusReady
	} else {
		m.status = StatusDisconnected
	}
	m.lastErr = ""
	hooks := append([]func(){}, m.onDisc...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	m.log.Info("disconnected")
}

// Provider returns the provider handle, or nil before Initialize succeeds.
func (m *Manager) Provider() provider.Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prov
}

// Primary returns the connected primary address.
func (m *Manager) Primary() (common.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primary, m.status == StatusConnected
}

// Status reports the session state and the last recorded error, if any.
func (m *Manager) Status() (Status, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.lastErr
}

func (m *Manager) setStatus(s Status, errText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	m.lastErr = errText
}

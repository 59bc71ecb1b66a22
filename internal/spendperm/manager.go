package spendperm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/instazora/creatorcoins/internal/provider"
)

var (
	// ErrDeclined means the user rejected the confirmation prompt.
	ErrDeclined = errors.New("permission request declined")
	// ErrNoPermission means no permission is tracked for this session.
	ErrNoPermission = errors.New("no spend permission")
)

// Manager is the trust boundary between primary-account funds and
// app-initiated spends. It tracks at most one permission per session and a
// cached allowance that is an optimistic projection of chain truth:
// decremented immediately on locally-perceived success, overwritten by every
// authoritative status check.
type Manager struct {
	sdk SDK
	log *slog.Logger

	mu        sync.Mutex
	state     State
	perm      *Permission
	allowance *big.Int // cached remaining, wei
}

// NewManager creates a permission manager over the given SDK.
func NewManager(sdk SDK, log *slog.Logger) *Manager {
	return &Manager{sdk: sdk, log: log, state: StateNone}
}

// Request issues exactly one user-facing confirmation asking owner to let
// spender move up to allowanceWei per rolling periodDays window, starting
// now. On decline, ErrDeclined; on transport failure, a wrapped error.
func (m *Manager) Request(ctx context.Context, owner, spender common.Address, allowanceWei *big.Int, periodDays int, chainID int64) (*Permission, error) {
	if allowanceWei == nil || allowanceWei.Sign() <= 0 {
		return nil, errors.New("allowance must be positive")
	}
	if periodDays <= 0 {
		return nil, errors.New("period must be positive")
	}

	m.mu.Lock()
	m.state = StateRequesting
	m.mu.Unlock()

	perm, err := m.sdk.RequestPermission(ctx, Request{
		Owner:        owner,
		Spender:      spender,
		AllowanceWei: allowanceWei,
		PeriodDays:   periodDays,
		ChainID:      chainID,
	})
	if err != nil {
		m.mu.Lock()
		m.state = StateNone
		m.mu.Unlock()
		if provider.IsDeclined(err) {
			return nil, ErrDeclined
		}
		return nil, fmt.Errorf("request permission: %w", err)
	}
	if perm == nil {
		m.mu.Lock()
		m.state = StateNone
		m.mu.Unlock()
		return nil, ErrDeclined
	}
	if perm.Allowance == nil {
		perm.Allowance = (*hexutil.Big)(new(big.Int).Set(allowanceWei))
	}

	m.mu.Lock()
	m.state = StateGranted
	m.perm = perm
	m.allowance = new(big.Int).Set(allowanceWei)
	m.mu.Unlock()

	m.log.Info("spend permission granted",
		"spender", provider.ShortAddr(spender.Hex(), 6),
		"allowance", provider.WeiToEther(allowanceWei),
		"period_days", periodDays,
	)
	return perm, nil
}

// CheckStatus queries authoritative permission state and reconciles the
// cached allowance against it. A query made before the permission's
// activation timestamp comes back as a *NotActiveError (retryable); any
// other failure is fatal for the attempt.
func (m *Manager) CheckStatus(ctx context.Context, requiredWei *big.Int) (*Status, error) {
	m.mu.Lock()
	perm := m.perm
	m.mu.Unlock()
	if perm == nil {
		return nil, ErrNoPermission
	}

	st, err := m.sdk.GetStatus(ctx, perm)
	if err != nil {
		return nil, classifyStatusError(err)
	}

	m.mu.Lock()
	if st.RemainingSpend != nil {
		m.allowance = new(big.Int).Set(st.RemainingSpend)
	}
	switch {
	case !st.IsActive && perm.End > 0 && time.Now().Unix() >= perm.End:
		m.state = StateExpired
	case st.IsActive && st.RemainingSpend != nil && st.RemainingSpend.Sign() == 0:
		m.state = StateDepleted
	case st.IsActive:
		m.state = StateActive
	}
	m.mu.Unlock()

	if requiredWei != nil && st.IsActive && st.RemainingSpend != nil && st.RemainingSpend.Cmp(requiredWei) < 0 {
		m.log.Warn("permission active but allowance short",
			"remaining", provider.WeiToEther(st.RemainingSpend),
			"required", provider.WeiToEther(requiredWei),
		)
	}
	return st, nil
}

// CanAfford is a pure predicate over the cached allowance. It never touches
// the chain and may be stale; authoritative callers use CheckStatus.
func (m *Manager) CanAfford(amountWei *big.Int) bool {
	if amountWei == nil || amountWei.Sign() < 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.perm == nil || m.allowance == nil {
		return false
	}
	return m.allowance.Cmp(amountWei) >= 0
}

// PrepareSpend builds the unexecuted call list that moves amountWei from the
// owner under the permission's authority. With spender-mediated routing the
// SDK calls land the funds on the spender; the orchestrator appends the
// forward transfer to recipient in the same atomic batch.
func (m *Manager) PrepareSpend(ctx context.Context, amountWei *big.Int, recipient common.Address) ([]provider.Call, error) {
	m.mu.Lock()
	perm := m.perm
	m.mu.Unlock()
	if perm == nil {
		return nil, ErrNoPermission
	}
	_ = recipient // spender-mediated routing; recipient handled by the caller's follow-up call
	return m.sdk.PrepareSpendCalls(ctx, perm, amountWei)
}

// RecordSpend decrements the cached allowance after a locally-perceived
// successful execution, saturating at zero. Runs ahead of chain confirmation
// on purpose so a second spend in the same session cannot double-count.
func (m *Manager) RecordSpend(amountWei *big.Int) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowance == nil {
		return
	}
	m.allowance.Sub(m.allowance, amountWei)
	if m.allowance.Sign() < 0 {
		m.allowance.SetInt64(0)
	}
	if m.allowance.Sign() == 0 {
		m.state = StateDepleted
	}
}

// Revoke issues the revoke request and clears local permission state on
// success, before any chain confirmation: zero-confirmation spends stop
// being offered immediately.
func (m *Manager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	perm := m.perm
	m.mu.Unlock()
	if perm == nil {
		return ErrNoPermission
	}

	if err := m.sdk.Revoke(ctx, perm); err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}

	m.mu.Lock()
	m.perm = nil
	m.allowance = nil
	m.state = StateNone
	m.mu.Unlock()

	m.log.Info("spend permission revoked")
	return nil
}

// Reset clears all permission state (session disconnect).
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateNone
	m.perm = nil
	m.allowance = nil
}

// HasPermission reports whether a permission is tracked.
func (m *Manager) HasPermission() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perm != nil
}

// Allowance returns a copy of the cached remaining allowance, or nil.
func (m *Manager) Allowance() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowance == nil {
		return nil
	}
	return new(big.Int).Set(m.allowance)
}

// Current returns a snapshot of the tracked permission and its state.
func (m *Manager) Current() (*Permission, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.perm == nil {
		return nil, m.state
	}
	cp := *m.perm
	return &cp, m.state
}

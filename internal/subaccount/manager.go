package subaccount

import (
	"context"
	"encoding/json"
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
	// ErrNotFound means discovery completed but no valid sub-account exists.
	ErrNotFound = errors.New("no sub-account found")
	// ErrCreationFailed means the wallet returned an unusable sub-account.
	ErrCreationFailed = errors.New("sub-account creation failed: returned address matches the primary account; the wallet must support native delegated accounts")
	// ErrNoSubAccount means an operation ran before setup completed.
	ErrNoSubAccount = errors.New("sub-account not set")
)

// Spending-limit window and grant lifetime used when creating a sub-account.
const (
	limitPeriodSeconds = 86400
	grantLifetime      = 365 * 24 * time.Hour
)

// SubAccount is the delegated account bound to (primary account, app origin).
type SubAccount struct {
	Address     common.Address `json:"address"`
	Factory     common.Address `json:"factory,omitempty"`
	FactoryData hexutil.Bytes  `json:"factoryData,omitempty"`
}

type subAccountsResponse struct {
	SubAccounts []SubAccount `json:"subAccounts"`
}

// Manager idempotently obtains and operates the delegated account. Only the
// manager mutates sub-account state; everyone else reads snapshots.
type Manager struct {
	prov   func() provider.Provider
	origin string
	log    *slog.Logger

	mu      sync.RWMutex
	current *SubAccount
	primary common.Address
	funded  bool
}

// NewManager creates a sub-account manager. prov is resolved lazily because
// the provider only exists after session initialization.
func NewManager(prov func() provider.Provider, origin string, log *slog.Logger) *Manager {
	return &Manager{prov: prov, origin: origin, log: log}
}

// Current returns the active sub-account, if any.
func (m *Manager) Current() (*SubAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, false
	}
	cp := *m.current
	return &cp, true
}

// Reset clears all sub-account state (session disconnect).
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.primary = common.Address{}
	m.funded = false
}

// Discover queries the provider for sub-accounts already associated with the
// primary account and this origin. The primary query method may be
// unsupported; one alternate method is tried before concluding "none found".
// Candidates whose address equals the primary account are invalid, never a
// match. Returns ErrNotFound for "none"; other errors are transport-level.
func (m *Manager) Discover(ctx context.Context, primary common.Address) (*SubAccount, error) {
	prov := m.prov()
	if prov == nil {
		return nil, errors.New("provider unavailable")
	}

	raw, primaryErr := prov.Request(ctx, provider.MethodGetSubAccounts, map[string]interface{}{
		"account": primary,
		"domain":  m.origin,
	})
	if primaryErr != nil {
		m.log.Warn("primary sub-account lookup failed, trying alternate", "error", primaryErr)
		var err error
		raw, err = prov.Request(ctx, provider.MethodListSubAccounts, primary)
		if err != nil {
			if !provider.IsMethodUnsupported(err) {
				return nil, fmt.Errorf("list sub-accounts: %w", err)
			}
			// Both lookups exhausted. A wallet that simply lacks both
			// methods has no sub-account to report; a primary transport
			// fault must not be mistaken for that.
			if provider.IsMethodUnsupported(primaryErr) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("get sub-accounts: %w", primaryErr)
		}
	}

	var resp subAccountsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode sub-accounts: %w", err)
	}

	for _, cand := range resp.SubAccounts {
		if cand.Address == (common.Address{}) || cand.Address == primary {
			continue
		}
		m.mu.Lock()
		cp := cand
		m.current = &cp
		m.primary = primary
		m.mu.Unlock()
		m.log.Info("existing sub-account found", "address", provider.ShortAddr(cand.Address.Hex(), 6))
		return &cand, nil
	}

	return nil, ErrNotFound
}

// Create requests a new delegated account by granting it a bounded native
// spending capability: a rolling 24-hour ceiling of fundingWei with a
// one-year expiry, signed to this app's origin. On success the account is
// funded best-effort; a funding failure downgrades the outcome to
// created-but-unfunded rather than failing the operation.
func (m *Manager) Create(ctx context.Context, primary common.Address, fundingWei *big.Int) (*SubAccount, error) {
	prov := m.prov()
	if prov == nil {
		return nil, errors.New("provider unavailable")
	}
	if fundingWei == nil || fundingWei.Sign() <= 0 {
		return nil, errors.New("funding amount must be positive")
	}

	grant := map[string]interface{}{
		"permissions": []interface{}{
			map[string]interface{}{
				"type": "native-token-transfer",
				"data": map[string]interface{}{"ticker": "ETH"},
				"policies": []interface{}{
					map[string]interface{}{
						"type": "spending-limits",
						"data": map[string]interface{}{
							"limits": []interface{}{
								map[string]interface{}{
									"limit":  hexutil.EncodeBig(fundingWei),
									"period": limitPeriodSeconds,
								},
							},
						},
					},
				},
			},
		},
		"expiry": time.Now().Add(grantLifetime).Unix(),
		"signer": map[string]interface{}{
			"type": "account",
			"data": map[string]interface{}{"id": m.origin},
		},
	}

	raw, err := prov.Request(ctx, provider.MethodGrantPermissions, grant)
	if err != nil {
		return nil, fmt.Errorf("grant permissions: %w", err)
	}

	sub, err := parseGrantResponse(raw)
	if err != nil {
		return nil, err
	}
	if sub.Address == (common.Address{}) || sub.Address == primary {
		return nil, ErrCreationFailed
	}

	m.mu.Lock()
	cp := *sub
	m.current = &cp
	m.primary = primary
	m.mu.Unlock()

	m.log.Info("sub-account created", "address", provider.ShortAddr(sub.Address.Hex(), 6))

	if _, err := m.Fund(ctx, sub.Address, fundingWei); err != nil {
		m.log.Warn("auto-fund failed, sub-account created but unfunded", "error", err)
		return sub, nil
	}

	m.mu.Lock()
	m.funded = true
	m.mu.Unlock()
	return sub, nil
}

// grantResponse covers the two response shapes wallets return for
// wallet_grantPermissions.
type grantResponse struct {
	Address            common.Address `json:"address"`
	Factory            common.Address `json:"factory"`
	FactoryData        hexutil.Bytes  `json:"factoryData"`
	GrantedPermissions []struct {
		Signer struct {
			Data struct {
				Address common.Address `json:"address"`
			} `json:"data"`
		} `json:"signer"`
	} `json:"grantedPermissions"`
}

func parseGrantResponse(raw json.RawMessage) (*SubAccount, error) {
	var resp grantResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode grant response: %w", err)
	}

	sub := &SubAccount{Factory: resp.Factory, FactoryData: resp.FactoryData}
	if len(resp.GrantedPermissions) > 0 && resp.GrantedPermissions[0].Signer.Data.Address != (common.Address{}) {
		sub.Address = resp.GrantedPermissions[0].Signer.Data.Address
	} else if resp.Address != (common.Address{}) {
		sub.Address = resp.Address
	} else {
		return nil, errors.New("no sub-account address in grant response")
	}
	return sub, nil
}

// Fund transfers amountWei from the primary account to the sub-account and
// returns the transaction hash. Failures propagate; there is no retry here.
func (m *Manager) Fund(ctx context.Context, sub common.Address, amountWei *big.Int) (string, error) {
	prov := m.prov()
	if prov == nil {
		return "", errors.New("provider unavailable")
	}

	m.mu.RLock()
	primary := m.primary
	m.mu.RUnlock()
	if primary == (common.Address{}) {
		return "", errors.New("primary account not set")
	}

	raw, err := prov.Request(ctx, provider.MethodSendTransaction, map[string]interface{}{
		"from":  primary,
		"to":    sub,
		"value": hexutil.EncodeBig(amountWei),
	})
	if err != nil {
		return "", fmt.Errorf("fund sub-account: %w", err)
	}

	var txHash string
	if err := json.Unmarshal(raw, &txHash); err != nil {
		return "", fmt.Errorf("decode tx hash: %w", err)
	}
	return txHash, nil
}

// Balance reads the sub-account's live native balance.
func (m *Manager) Balance(ctx context.Context) (*big.Int, error) {
	prov := m.prov()
	if prov == nil {
		return nil, errors.New("provider unavailable")
	}
	sub, ok := m.Current()
	if !ok {
		return nil, ErrNoSubAccount
	}

	raw, err := prov.Request(ctx, provider.MethodGetBalance, sub.Address, "latest")
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	var bal hexutil.Big
	if err := json.Unmarshal(raw, &bal); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	return (*big.Int)(&bal), nil
}

// ExecuteBatch submits an ordered call list for atomic execution as the
// sub-account and returns the opaque batch identifier. All calls apply or
// none do.
func (m *Manager) ExecuteBatch(ctx context.Context, calls []provider.Call) (string, error) {
	prov := m.prov()
	if prov == nil {
		return "", errors.New("provider unavailable")
	}
	sub, ok := m.Current()
	if !ok {
		return "", ErrNoSubAccount
	}
	if len(calls) == 0 {
		return "", errors.New("empty call batch")
	}

	raw, err := prov.Request(ctx, provider.MethodSendCalls, provider.SendCallsRequest{
		Version:        "2.0",
		AtomicRequired: true,
		From:           sub.Address,
		Calls:          calls,
	})
	if err != nil {
		return "", fmt.Errorf("send calls: %w", err)
	}

	var callsID string
	if err := json.Unmarshal(raw, &callsID); err != nil {
		return "", fmt.Errorf("decode calls id: %w", err)
	}
	return callsID, nil
}

// Ensure returns the current sub-account, discovering and finally creating
// one as needed. Re-running never creates duplicates: discovery always runs
// before creation is attempted.
func (m *Manager) Ensure(ctx context.Context, primary common.Address, fundingWei *big.Int) (*SubAccount, error) {
	if sub, ok := m.Current(); ok {
		return sub, nil
	}
	sub, err := m.Discover(ctx, primary)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return m.Create(ctx, primary, fundingWei)
}

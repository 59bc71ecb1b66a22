package subaccount

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instazora/creatorcoins/internal/provider"
)

// fakeProvider routes capability calls to per-method handlers and records
// every call it sees.
type fakeProvider struct {
	handlers map[string]func(params ...interface{}) (json.RawMessage, error)
	calls    []string
	params   map[string][]interface{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		handlers: make(map[string]func(params ...interface{}) (json.RawMessage, error)),
		params:   make(map[string][]interface{}),
	}
}

func (f *fakeProvider) on(method string, fn func(params ...interface{}) (json.RawMessage, error)) {
	f.handlers[method] = fn
}

func (f *fakeProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	f.params[method] = params
	h, ok := f.handlers[method]
	if !ok {
		return nil, errors.New("method not found")
	}
	return h(params...)
}

func (f *fakeProvider) callCount(method string) int {
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	primaryAddr = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	subAddr     = common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
)

func newTestManager(prov provider.Provider) *Manager {
	return NewManager(func() provider.Provider { return prov }, "https://instazora.app", testLogger())
}

func subAccountsJSON(addrs ...common.Address) json.RawMessage {
	type entry struct {
		Address common.Address `json:"address"`
	}
	entries := make([]entry, len(addrs))
	for i, a := range addrs {
		entries[i] = entry{Address: a}
	}
	raw, _ := json.Marshal(map[string]interface{}{"subAccounts": entries})
	return raw
}

func TestDiscoverFindsExisting(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGetSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return subAccountsJSON(subAddr), nil
	})
	m := newTestManager(prov)

	sub, err := m.Discover(context.Background(), primaryAddr)
	require.NoError(t, err)
	assert.Equal(t, subAddr, sub.Address)

	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, subAddr, cur.Address)
}

func TestDiscoverFallsBackToAlternateMethod(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodListSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return subAccountsJSON(subAddr), nil
	})
	m := newTestManager(prov)

	sub, err := m.Discover(context.Background(), primaryAddr)
	require.NoError(t, err)
	assert.Equal(t, subAddr, sub.Address)
	assert.Equal(t, 1, prov.callCount(provider.MethodGetSubAccounts))
	assert.Equal(t, 1, prov.callCount(provider.MethodListSubAccounts))
}

func TestDiscoverBothMethodsUnsupported(t *testing.T) {
	prov := newFakeProvider()
	m := newTestManager(prov)

	_, err := m.Discover(context.Background(), primaryAddr)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiscoverTransportError(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGetSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return nil, errors.New("connection reset")
	})
	prov.on(provider.MethodListSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return nil, errors.New("connection reset")
	})
	m := newTestManager(prov)

	_, err := m.Discover(context.Background(), primaryAddr)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestDiscoverTransportErrorWithUnsupportedFallback(t *testing.T) {
	// The alternate lookup being unimplemented must not hide a real
	// transport fault on the primary one.
	prov := newFakeProvider()
	prov.on(provider.MethodGetSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return nil, errors.New("connection reset")
	})
	m := newTestManager(prov)

	_, err := m.Discover(context.Background(), primaryAddr)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestDiscoverSkipsPrimaryMatch(t *testing.T) {
	// A candidate equal to the primary account is never a valid sub-account.
	prov := newFakeProvider()
	prov.on(provider.MethodGetSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return subAccountsJSON(primaryAddr), nil
	})
	m := newTestManager(prov)

	_, err := m.Discover(context.Background(), primaryAddr)
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := m.Current()
	assert.False(t, ok)
}

func grantResponseJSON(addr common.Address) json.RawMessage {
	raw, _ := json.Marshal(map[string]interface{}{
		"grantedPermissions": []interface{}{
			map[string]interface{}{
				"signer": map[string]interface{}{
					"data": map[string]interface{}{"address": addr},
				},
			},
		},
	})
	return raw
}

func TestCreateAndFund(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGrantPermissions, func(...interface{}) (json.RawMessage, error) {
		return grantResponseJSON(subAddr), nil
	})
	prov.on(provider.MethodSendTransaction, func(...interface{}) (json.RawMessage, error) {
		return json.RawMessage(`"0xtxhash"`), nil
	})
	m := newTestManager(prov)

	sub, err := m.Create(context.Background(), primaryAddr, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, subAddr, sub.Address)
	assert.Equal(t, 1, prov.callCount(provider.MethodSendTransaction))

	m.mu.RLock()
	funded := m.funded
	m.mu.RUnlock()
	assert.True(t, funded)
}

func TestCreateTopLevelAddressShape(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGrantPermissions, func(...interface{}) (json.RawMessage, error) {
		raw, _ := json.Marshal(map[string]interface{}{"address": subAddr})
		return raw, nil
	})
	prov.on(provider.MethodSendTransaction, func(...interface{}) (json.RawMessage, error) {
		return json.RawMessage(`"0xtxhash"`), nil
	})
	m := newTestManager(prov)

	sub, err := m.Create(context.Background(), primaryAddr, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, subAddr, sub.Address)
}

func TestCreateRejectsPrimaryEcho(t *testing.T) {
	// A wallet without delegated-account support echoes the primary address
	// back. That is a failed creation and must not trigger funding.
	prov := newFakeProvider()
	prov.on(provider.MethodGrantPermissions, func(...interface{}) (json.RawMessage, error) {
		return grantResponseJSON(primaryAddr), nil
	})
	m := newTestManager(prov)

	_, err := m.Create(context.Background(), primaryAddr, big.NewInt(1))
	assert.ErrorIs(t, err, ErrCreationFailed)
	assert.Equal(t, 0, prov.callCount(provider.MethodSendTransaction))
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestCreateSurvivesFundingFailure(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGrantPermissions, func(...interface{}) (json.RawMessage, error) {
		return grantResponseJSON(subAddr), nil
	})
	prov.on(provider.MethodSendTransaction, func(...interface{}) (json.RawMessage, error) {
		return nil, errors.New("user rejected the request")
	})
	m := newTestManager(prov)

	sub, err := m.Create(context.Background(), primaryAddr, big.NewInt(1))
	require.NoError(t, err, "a funding failure downgrades, never fails creation")
	assert.Equal(t, subAddr, sub.Address)

	m.mu.RLock()
	funded := m.funded
	m.mu.RUnlock()
	assert.False(t, funded)
}

func TestExecuteBatchShape(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGetSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return subAccountsJSON(subAddr), nil
	})
	prov.on(provider.MethodSendCalls, func(params ...interface{}) (json.RawMessage, error) {
		return json.RawMessage(`"0xbatch"`), nil
	})
	m := newTestManager(prov)

	_, err := m.Discover(context.Background(), primaryAddr)
	require.NoError(t, err)

	call := provider.ValueCall(primaryAddr, big.NewInt(100))
	id, err := m.ExecuteBatch(context.Background(), []provider.Call{call})
	require.NoError(t, err)
	assert.Equal(t, "0xbatch", id)

	params := prov.params[provider.MethodSendCalls]
	require.Len(t, params, 1)
	req, ok := params[0].(provider.SendCallsRequest)
	require.True(t, ok)
	assert.Equal(t, "2.0", req.Version)
	assert.True(t, req.AtomicRequired)
	assert.Equal(t, subAddr, req.From)
	require.Len(t, req.Calls, 1)
}

func TestExecuteBatchRequiresSubAccount(t *testing.T) {
	m := newTestManager(newFakeProvider())
	_, err := m.ExecuteBatch(context.Background(), []provider.Call{provider.ValueCall(primaryAddr, big.NewInt(1))})
	assert.ErrorIs(t, err, ErrNoSubAccount)
}

func TestEnsureIsIdempotent(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGetSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return subAccountsJSON(subAddr), nil
	})
	m := newTestManager(prov)

	_, err := m.Ensure(context.Background(), primaryAddr, big.NewInt(1))
	require.NoError(t, err)
	_, err = m.Ensure(context.Background(), primaryAddr, big.NewInt(1))
	require.NoError(t, err)

	assert.Equal(t, 1, prov.callCount(provider.MethodGetSubAccounts))
	assert.Equal(t, 0, prov.callCount(provider.MethodGrantPermissions))
}

func TestEnsureCreatesWhenNoneFound(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGetSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return subAccountsJSON(), nil
	})
	prov.on(provider.MethodGrantPermissions, func(...interface{}) (json.RawMessage, error) {
		return grantResponseJSON(subAddr), nil
	})
	prov.on(provider.MethodSendTransaction, func(...interface{}) (json.RawMessage, error) {
		return json.RawMessage(`"0xtxhash"`), nil
	})
	m := newTestManager(prov)

	sub, err := m.Ensure(context.Background(), primaryAddr, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, subAddr, sub.Address)
}

func TestBalance(t *testing.T) {
	prov := newFakeProvider()
	prov.on(provider.MethodGetSubAccounts, func(...interface{}) (json.RawMessage, error) {
		return subAccountsJSON(subAddr), nil
	})
	prov.on(provider.MethodGetBalance, func(...interface{}) (json.RawMessage, error) {
		return json.RawMessage(`"0x2386f26fc10000"`), nil // 0.01 ETH
	})
	m := newTestManager(prov)

	_, err := m.Discover(context.Background(), primaryAddr)
	require.NoError(t, err)

	bal, err := m.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", bal.String())
}

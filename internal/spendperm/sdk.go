package spendperm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/instazora/creatorcoins/internal/provider"
)

// Capability calls backing the default SDK. Their exact shapes belong to the
// wallet protocol.
const (
	methodRequestPermission = "wallet_requestSpendPermission"
	methodPermissionStatus  = "wallet_getPermissionStatus"
	methodPrepareSpendCalls = "wallet_prepareSpendCalls"
	methodRevokePermission  = "wallet_revokePermission"
)

// SDK is the external spend-permission capability: request a grant, query
// authoritative status, build unexecuted spend calls, revoke.
type SDK interface {
	RequestPermission(ctx context.Context, req Request) (*Permission, error)
	GetStatus(ctx context.Context, perm *Permission) (*Status, error)
	PrepareSpendCalls(ctx context.Context, perm *Permission, amountWei *big.Int) ([]provider.Call, error)
	Revoke(ctx context.Context, perm *Permission) error
}

// ProviderSDK implements SDK over raw provider capability calls.
type ProviderSDK struct {
	prov func() provider.Provider
}

// NewProviderSDK wires the default SDK implementation to a lazily resolved
// provider handle.
func NewProviderSDK(prov func() provider.Provider) *ProviderSDK {
	return &ProviderSDK{prov: prov}
}

func (s *ProviderSDK) provider() (provider.Provider, error) {
	p := s.prov()
	if p == nil {
		return nil, errors.New("provider unavailable")
	}
	return p, nil
}

func (s *ProviderSDK) RequestPermission(ctx context.Context, req Request) (*Permission, error) {
	p, err := s.provider()
	if err != nil {
		return nil, err
	}

	// Zero token address marks the native asset.
	raw, err := p.Request(ctx, methodRequestPermission, map[string]interface{}{
		"account":      req.Owner,
		"spender":      req.Spender,
		"token":        common.Address{},
		"allowance":    hexutil.EncodeBig(req.AllowanceWei),
		"periodInDays": req.PeriodDays,
		"chainId":      req.ChainID,
	})
	if err != nil {
		return nil, err
	}

	var perm Permission
	if err := json.Unmarshal(raw, &perm); err != nil {
		return nil, fmt.Errorf("decode permission: %w", err)
	}
	return &perm, nil
}

func (s *ProviderSDK) GetStatus(ctx context.Context, perm *Permission) (*Status, error) {
	p, err := s.provider()
	if err != nil {
		return nil, err
	}

	raw, err := p.Request(ctx, methodPermissionStatus, perm)
	if err != nil {
		return nil, err
	}

	var resp struct {
		IsActive       bool         `json:"isActive"`
		RemainingSpend *hexutil.Big `json:"remainingSpend"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode permission status: %w", err)
	}

	st := &Status{IsActive: resp.IsActive, RemainingSpend: new(big.Int)}
	if resp.RemainingSpend != nil {
		st.RemainingSpend = (*big.Int)(resp.RemainingSpend)
	}
	return st, nil
}

func (s *ProviderSDK) PrepareSpendCalls(ctx context.Context, perm *Permission, amountWei *big.Int) ([]provider.Call, error) {
	p, err := s.provider()
	if err != nil {
		return nil, err
	}

	raw, err := p.Request(ctx, methodPrepareSpendCalls, map[string]interface{}{
		"permission": perm,
		"amount":     hexutil.EncodeBig(amountWei),
	})
	if err != nil {
		return nil, err
	}

	var calls []provider.Call
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil, fmt.Errorf("decode spend calls: %w", err)
	}
	if len(calls) == 0 {
		return nil, errors.New("empty spend call list")
	}
	return calls, nil
}

func (s *ProviderSDK) Revoke(ctx context.Context, perm *Permission) error {
	p, err := s.provider()
	if err != nil {
		return err
	}
	_, err = p.Request(ctx, methodRevokePermission, perm)
	return err
}

package spendperm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// State is the lifecycle of the tracked permission.
type State string

const (
	StateNone       State = "none"
	StateRequesting State = "requesting"
	StateGranted    State = "granted" // granted, possibly not chain-active yet
	StateActive     State = "active"
	StateDepleted   State = "depleted"
	StateExpired    State = "expired"
	StateRevoked    State = "revoked"
)

// Permission is a time-boxed, amount-bounded capability letting Spender move
// up to Allowance of the native asset from Owner within each period. It is a
// capability, not a balance; local copies are cached projections of chain
// truth.
type Permission struct {
	Owner      common.Address `json:"account"`
	Spender    common.Address `json:"spender"`
	Token      common.Address `json:"token"` // zero address = native asset
	Allowance  *hexutil.Big   `json:"allowance"`
	PeriodDays int            `json:"periodInDays"`
	Start      int64          `json:"start"` // unix seconds; may be in the future
	End        int64          `json:"end"`
	Salt       string         `json:"salt"`
	ChainID    int64          `json:"chainId"`
	Signature  hexutil.Bytes  `json:"signature,omitempty"`
}

// Request describes a permission to ask the owner for.
type Request struct {
	Owner        common.Address
	Spender      common.Address
	AllowanceWei *big.Int
	PeriodDays   int
	ChainID      int64
}

// Status is the authoritative answer from the permission query.
type Status struct {
	IsActive       bool
	RemainingSpend *big.Int
}

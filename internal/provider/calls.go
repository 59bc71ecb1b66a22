package provider

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Call is one entry of a wallet_sendCalls batch.
type Call struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value"`
}

// ValueCall builds a plain value-transfer call with empty calldata.
func ValueCall(to common.Address, wei *big.Int) Call {
	if wei == nil {
		wei = new(big.Int)
	}
	return Call{To: to, Data: hexutil.Bytes{}, Value: (*hexutil.Big)(wei)}
}

// SendCallsRequest is the wallet_sendCalls param object. Atomic execution is
// always required: a partially applied batch is never acceptable.
type SendCallsRequest struct {
	Version        string                 `json:"version"`
	AtomicRequired bool                   `json:"atomicRequired"`
	From           common.Address         `json:"from"`
	Calls          []Call                 `json:"calls"`
	Capabilities   map[string]interface{} `json:"capabilities,omitempty"`
}

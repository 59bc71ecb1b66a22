package nft

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/instazora/creatorcoins/internal/notify"
	"github.com/instazora/creatorcoins/internal/provider"
	"github.com/instazora/creatorcoins/internal/subaccount"
)

// Mint entrypoints of the two drop contract families.
const mintABIJSON = `[
	{"name":"mintWithRewards","type":"function","stateMutability":"payable","inputs":[{"name":"minter","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"quantity","type":"uint256"},{"name":"minterArguments","type":"bytes"},{"name":"mintReferral","type":"address"}],"outputs":[]},
	{"name":"purchase","type":"function","stateMutability":"payable","inputs":[{"name":"quantity","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var mintABI = mustParseABI(mintABIJSON)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// fixedPriceMinter is the deterministic fixed-price sale strategy address
// shared across the drop protocol's deployments.
var fixedPriceMinter = common.HexToAddress("0x04E2516A2c207E84a1839755675dfd8eF6302F0a")

// mintFeeWei is the protocol fee charged per minted token on top of the
// creator's price.
var mintFeeWei = big.NewInt(777_000_000_000_000) // 0.000777 ETH

const mintComment = "Minted via InstaZora"

// Kind classifies a terminal mint failure.
type Kind string

const (
	KindNone         Kind = ""
	KindTransport    Kind = "transport_error"
	KindDeclined     Kind = "declined"
	KindInvalidState Kind = "invalid_state"
)

// Result is the discriminated outcome of a mint. No error value escapes to
// callers.
type Result struct {
	Success bool   `json:"success"`
	TxID    string `json:"txId,omitempty"`
	CostWei string `json:"costWei,omitempty"` // total attached value
	Kind    Kind   `json:"errorKind,omitempty"`
	Detail  string `json:"errorDetail,omitempty"`
}

// Minter executes mints from the sub-account as single-call atomic batches.
type Minter struct {
	subs *subaccount.Manager
	hub  *notify.Hub
	log  *slog.Logger
}

// NewMinter creates a minter over the sub-account manager.
func NewMinter(subs *subaccount.Manager, hub *notify.Hub, log *slog.Logger) *Minter {
	return &Minter{subs: subs, hub: hub, log: log}
}

// Mint mints quantity copies of item to the sub-account. The attached value
// covers the creator price plus the protocol fee per token.
func (m *Minter) Mint(ctx context.Context, item NFT, quantity int64) Result {
	sub, ok := m.subs.Current()
	if !ok {
		return m.fail(ctx, KindInvalidState, "sub-account not set up")
	}
	if quantity <= 0 {
		return m.fail(ctx, KindInvalidState, "quantity must be positive")
	}
	if !common.IsHexAddress(item.Contract) {
		return m.fail(ctx, KindInvalidState, "contract must be a hex address")
	}
	contract := common.HexToAddress(item.Contract)

	call, cost, err := m.buildMintCall(contract, item, sub.Address, quantity)
	if err != nil {
		return m.fail(ctx, KindInvalidState, err.Error())
	}

	txID, err := m.subs.ExecuteBatch(ctx, []provider.Call{call})
	if err != nil {
		if provider.IsDeclined(err) {
			return m.fail(ctx, KindDeclined, err.Error())
		}
		return m.fail(ctx, KindTransport, err.Error())
	}

	m.hub.Success(ctx, fmt.Sprintf("Minted %dx %s for %s ETH",
		quantity, item.Name, provider.WeiToEther(cost)))
	return Result{Success: true, TxID: txID, CostWei: cost.String()}
}

// buildMintCall packs the standard-specific mint calldata and prices the
// attached value.
func (m *Minter) buildMintCall(contract common.Address, item NFT, recipient common.Address, quantity int64) (provider.Call, *big.Int, error) {
	qty := big.NewInt(quantity)

	price := item.MintPriceWei
	if price == nil {
		price = new(big.Int)
	}
	cost := new(big.Int).Add(price, mintFeeWei)
	cost.Mul(cost, qty)

	var data []byte
	switch item.Standard {
	case Standard1155:
		tokenID, ok := new(big.Int).SetString(item.TokenID, 10)
		if !ok {
			return provider.Call{}, nil, fmt.Errorf("invalid token id %q", item.TokenID)
		}
		args, err := packMinterArguments(recipient)
		if err != nil {
			return provider.Call{}, nil, err
		}
		data, err = mintABI.Pack("mintWithRewards", fixedPriceMinter, tokenID, qty, args, common.Address{})
		if err != nil {
			return provider.Call{}, nil, fmt.Errorf("pack mint: %w", err)
		}
	case Standard721:
		var err error
		data, err = mintABI.Pack("purchase", qty)
		if err != nil {
			return provider.Call{}, nil, fmt.Errorf("pack purchase: %w", err)
		}
	default:
		return provider.Call{}, nil, fmt.Errorf("unknown token standard %q", item.Standard)
	}

	return provider.Call{
		To:    contract,
		Data:  data,
		Value: (*hexutil.Big)(cost),
	}, cost, nil
}

// packMinterArguments encodes the sale-strategy arguments: the mint recipient
// and a comment.
func packMinterArguments(recipient common.Address) ([]byte, error) {
	addrType, err := abi.NewType("address", "", nil)
	if err != nil {
		return nil, err
	}
	strType, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}
	args := abi.Arguments{{Type: addrType}, {Type: strType}}
	packed, err := args.Pack(recipient, mintComment)
	if err != nil {
		return nil, fmt.Errorf("pack minter arguments: %w", err)
	}
	return packed, nil
}

func (m *Minter) fail(ctx context.Context, kind Kind, detail string) Result {
	m.hub.Error(ctx, "Mint failed: "+detail)
	return Result{Kind: kind, Detail: detail}
}

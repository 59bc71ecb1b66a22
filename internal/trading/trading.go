package trading

import (
	"context"
	"encoding/json"
	"errors"
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

// Creator-coin contract surface: purchase/sell plus the price views.
const coinABIJSON = `[
	{"name":"purchase","type":"function","stateMutability":"payable","inputs":[{"name":"recipient","type":"address"},{"name":"quantity","type":"uint256"},{"name":"comment","type":"string"},{"name":"mintReferral","type":"address"}],"outputs":[]},
	{"name":"sell","type":"function","stateMutability":"nonpayable","inputs":[{"name":"quantity","type":"uint256"},{"name":"recipient","type":"address"}],"outputs":[]},
	{"name":"getEthPrice","type":"function","stateMutability":"view","inputs":[{"name":"numTokens","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getSaleProceeds","type":"function","stateMutability":"view","inputs":[{"name":"numTokens","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var coinABI = mustParseABI(coinABIJSON)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

const defaultSlippageBps = 100 // 1%

// Kind classifies a terminal trade failure.
type Kind string

const (
	KindNone                Kind = ""
	KindTransport           Kind = "transport_error"
	KindDeclined            Kind = "declined"
	KindInvalidState        Kind = "invalid_state"
	KindInsufficientBalance Kind = "insufficient_balance"
)

// Result is the discriminated outcome of a trade.
type Result struct {
	Success   bool   `json:"success"`
	TxID      string `json:"txId,omitempty"`
	AmountOut string `json:"amountOut,omitempty"` // tokens bought or wei received
	Kind      Kind   `json:"errorKind,omitempty"`
	Detail    string `json:"errorDetail,omitempty"`
}

// Trader buys and sells creator coins through the sub-account with slippage
// protection. Quotes go through eth_call; execution through atomic batches.
type Trader struct {
	prov func() provider.Provider
	subs *subaccount.Manager
	hub  *notify.Hub
	log  *slog.Logger
}

// NewTrader creates a coin trader.
func NewTrader(prov func() provider.Provider, subs *subaccount.Manager, hub *notify.Hub, log *slog.Logger) *Trader {
	return &Trader{prov: prov, subs: subs, hub: hub, log: log}
}

func (t *Trader) call(ctx context.Context, coin common.Address, method string, args ...interface{}) (*big.Int, error) {
	p := t.prov()
	if p == nil {
		return nil, errors.New("provider unavailable")
	}
	data, err := coinABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := p.Request(ctx, provider.MethodCall, map[string]interface{}{
		"to":   coin,
		"data": hexutil.Bytes(data),
	}, "latest")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	var out hexutil.Bytes
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	vals, err := coinABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	price, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s return type", method)
	}
	return price, nil
}

// BuyPrice quotes the ETH cost of quantity tokens.
func (t *Trader) BuyPrice(ctx context.Context, coin common.Address, quantity *big.Int) (*big.Int, error) {
	return t.call(ctx, coin, "getEthPrice", quantity)
}

// SellPrice quotes the ETH proceeds of selling quantity tokens.
func (t *Trader) SellPrice(ctx context.Context, coin common.Address, quantity *big.Int) (*big.Int, error) {
	return t.call(ctx, coin, "getSaleProceeds", quantity)
}

// CoinBalance reads the sub-account's token balance for a coin.
func (t *Trader) CoinBalance(ctx context.Context, coin common.Address) (*big.Int, error) {
	sub, ok := t.subs.Current()
	if !ok {
		return nil, subaccount.ErrNoSubAccount
	}
	return t.call(ctx, coin, "balanceOf", sub.Address)
}

// Buy purchases quantity tokens of coin for the sub-account, paying at most
// the quoted price plus slippageBps.
func (t *Trader) Buy(ctx context.Context, coin common.Address, quantity *big.Int, slippageBps int64) Result {
	sub, ok := t.subs.Current()
	if !ok {
		return t.fail(ctx, KindInvalidState, "sub-account not set up")
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return t.fail(ctx, KindInvalidState, "quantity must be positive")
	}
	if slippageBps <= 0 {
		slippageBps = defaultSlippageBps
	}

	price, err := t.BuyPrice(ctx, coin, quantity)
	if err != nil {
		return t.fail(ctx, KindTransport, err.Error())
	}
	maxPayment := new(big.Int).Mul(price, big.NewInt(10000+slippageBps))
	maxPayment.Div(maxPayment, big.NewInt(10000))

	data, err := coinABI.Pack("purchase", sub.Address, quantity, "", common.Address{})
	if err != nil {
		return t.fail(ctx, KindInvalidState, fmt.Sprintf("pack purchase: %v", err))
	}

	txID, err := t.subs.ExecuteBatch(ctx, []provider.Call{{
		To:    coin,
		Data:  data,
		Value: (*hexutil.Big)(maxPayment),
	}})
	if err != nil {
		if provider.IsDeclined(err) {
			return t.fail(ctx, KindDeclined, err.Error())
		}
		return t.fail(ctx, KindTransport, err.Error())
	}

	t.hub.Success(ctx, fmt.Sprintf("Bought %s coins for up to %s ETH",
		quantity, provider.WeiToEther(maxPayment)))
	return Result{Success: true, TxID: txID, AmountOut: quantity.String()}
}

// Sell disposes quantity tokens of coin, requiring at least the quoted
// proceeds minus slippageBps. The sub-account's token balance is verified
// first.
func (t *Trader) Sell(ctx context.Context, coin common.Address, quantity *big.Int, slippageBps int64) Result {
	sub, ok := t.subs.Current()
	if !ok {
		return t.fail(ctx, KindInvalidState, "sub-account not set up")
	}
	if quantity == nil || quantity.Sign() <= 0 {
		return t.fail(ctx, KindInvalidState, "quantity must be positive")
	}
	if slippageBps <= 0 {
		slippageBps = defaultSlippageBps
	}

	balance, err := t.call(ctx, coin, "balanceOf", sub.Address)
	if err != nil {
		return t.fail(ctx, KindTransport, err.Error())
	}
	if balance.Cmp(quantity) < 0 {
		return t.fail(ctx, KindInsufficientBalance, fmt.Sprintf("insufficient coin balance: have %s, need %s", balance, quantity))
	}

	proceeds, err := t.SellPrice(ctx, coin, quantity)
	if err != nil {
		return t.fail(ctx, KindTransport, err.Error())
	}
	minReceived := new(big.Int).Mul(proceeds, big.NewInt(10000-slippageBps))
	minReceived.Div(minReceived, big.NewInt(10000))

	data, err := coinABI.Pack("sell", quantity, sub.Address)
	if err != nil {
		return t.fail(ctx, KindInvalidState, fmt.Sprintf("pack sell: %v", err))
	}

	txID, err := t.subs.ExecuteBatch(ctx, []provider.Call{{
		To:    coin,
		Data:  data,
		Value: (*hexutil.Big)(new(big.Int)),
	}})
	if err != nil {
		if provider.IsDeclined(err) {
			return t.fail(ctx, KindDeclined, err.Error())
		}
		return t.fail(ctx, KindTransport, err.Error())
	}

	t.hub.Success(ctx, fmt.Sprintf("Sold %s coins for at least %s ETH",
		quantity, provider.WeiToEther(minReceived)))
	return Result{Success: true, TxID: txID, AmountOut: proceeds.String()}
}

func (t *Trader) fail(ctx context.Context, kind Kind, detail string) Result {
	t.hub.Error(ctx, "Trade failed: "+detail)
	return Result{Kind: kind, Detail: detail}
}

package tipping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/instazora/creatorcoins/internal/notify"
	"github.com/instazora/creatorcoins/internal/provider"
	"github.com/instazora/creatorcoins/internal/spendperm"
	"github.com/instazora/creatorcoins/internal/storage"
	"github.com/instazora/creatorcoins/internal/subaccount"
)

const (
	// maxAttempts bounds the activation-timing retry loop.
	maxAttempts = 3
	// retryBuffer pads every computed wait before the next attempt.
	retryBuffer = 2 * time.Second
)

// Orchestrator turns "tip creator X amount Y" into either a zero-confirmation
// spend against an existing permission or a manually confirmed sub-account
// transfer, with bounded retry for activation-timing races.
type Orchestrator struct {
	perms *spendperm.Manager
	subs  *subaccount.Manager
	hub   *notify.Hub
	store *storage.Storage // optional; receipts are best-effort
	log   *slog.Logger

	busy  atomic.Bool
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a tip orchestrator. store may be nil.
func New(perms *spendperm.Manager, subs *subaccount.Manager, hub *notify.Hub, store *storage.Storage, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		perms: perms,
		subs:  subs,
		hub:   hub,
		store: store,
		log:   log,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Tip sends amountWei to creator. At most one tip runs at a time; a second
// call while one is in flight returns a busy result instead of queueing.
// Every terminal outcome produces exactly one notification event.
func (o *Orchestrator) Tip(ctx context.Context, creator common.Address, amountWei *big.Int) Result {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return o.finish(ctx, creator, amountWei, storage.PathDirect,
			failure(KindInvalidState, "tip amount must be positive"))
	}
	if creator == (common.Address{}) {
		return o.finish(ctx, creator, amountWei, storage.PathDirect,
			failure(KindInvalidState, "creator address required"))
	}
	if !o.busy.CompareAndSwap(false, true) {
		// No notification: the action never started.
		return failure(KindBusy, "another tip is in flight")
	}
	defer o.busy.Store(false)

	// Zero-confirmation path first whenever the cached allowance covers the
	// amount. Amounts above the cache (or no permission at all) never reach
	// prepareSpend.
	if o.perms.HasPermission() && o.perms.CanAfford(amountWei) {
		res, fellThrough := o.tipWithPermission(ctx, creator, amountWei)
		if !fellThrough {
			return o.finish(ctx, creator, amountWei, storage.PathPermission, res)
		}
		o.log.Info("permission path unavailable, falling back to direct transfer")
	}

	return o.finish(ctx, creator, amountWei, storage.PathDirect, o.tipDirect(ctx, creator, amountWei))
}

// tipWithPermission attempts the zero-confirmation spend. The second return
// is true when the attempt should fall through to the direct path (permission
// inactive or short for non-timing reasons).
func (o *Orchestrator) tipWithPermission(ctx context.Context, creator common.Address, amountWei *big.Int) (Result, bool) {
	var lastTiming error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// The status check must complete and be evaluated before any
		// prepare/execute: stale-allowance spends are not permitted.
		st, err := o.perms.CheckStatus(ctx, amountWei)
		if err != nil {
			var nae *spendperm.NotActiveError
			if errors.As(err, &nae) {
				lastTiming = err
				if attempt == maxAttempts {
					break
				}
				wait := nae.Wait + retryBuffer
				o.log.Info("permission not chain-active yet, retrying",
					"attempt", attempt, "wait", wait)
				o.sleep(ctx, wait)
				continue
			}
			// Non-timing failure aborts immediately.
			return failure(KindTransport, err.Error()), false
		}

		if !st.IsActive || st.RemainingSpend == nil || st.RemainingSpend.Cmp(amountWei) < 0 {
			return Result{}, true
		}

		calls, err := o.perms.PrepareSpend(ctx, amountWei, creator)
		if err != nil {
			return failure(KindTransport, err.Error()), false
		}
		// The permission moves funds from owner to spender; forward them to
		// the creator inside the same atomic batch.
		calls = append(calls, provider.ValueCall(creator, amountWei))

		txID, err := o.subs.ExecuteBatch(ctx, calls)
		if err != nil {
			return failure(KindTransport, err.Error()), false
		}

		o.perms.RecordSpend(amountWei)
		return Result{
			Success: true,
			TxID:    txID,
			Amount:  provider.WeiToEther(amountWei) + " ETH",
		}, false
	}

	detail := "permission never became active"
	if lastTiming != nil {
		detail = lastTiming.Error()
	}
	return failure(KindRetryExhausted, detail), false
}

// tipDirect is the fallback: a single-call transfer from the sub-account,
// gated on its live balance. The wallet may prompt for confirmation here;
// that is expected for a first-time or fallback spend.
func (o *Orchestrator) tipDirect(ctx context.Context, creator common.Address, amountWei *big.Int) Result {
	if _, ok := o.subs.Current(); !ok {
		return failure(KindInvalidState, "sub-account not set up")
	}

	bal, err := o.subs.Balance(ctx)
	if err != nil {
		return failure(KindTransport, fmt.Sprintf("balance check failed: %v", err))
	}
	if bal.Cmp(amountWei) < 0 {
		return failure(KindInsufficientBalance, fmt.Sprintf(
			"need %s ETH, sub-account holds %s ETH",
			provider.WeiToEther(amountWei), provider.WeiToEther(bal)))
	}

	txID, err := o.subs.ExecuteBatch(ctx, []provider.Call{provider.ValueCall(creator, amountWei)})
	if err != nil {
		if provider.IsDeclined(err) {
			return failure(KindDeclined, err.Error())
		}
		return failure(KindTransport, err.Error())
	}

	return Result{
		Success: true,
		TxID:    txID,
		Amount:  provider.WeiToEther(amountWei) + " ETH",
	}
}

// finish emits the single notification for a terminal outcome and persists
// the receipt best-effort.
func (o *Orchestrator) finish(ctx context.Context, creator common.Address, amountWei *big.Int, path string, res Result) Result {
	if res.Success {
		o.hub.Success(ctx, fmt.Sprintf("Tipped %s to %s",
			res.Amount, provider.ShortAddr(creator.Hex(), 6)))
	} else {
		o.hub.Error(ctx, fmt.Sprintf("Tip failed: %s", res.Detail))
	}

	if o.store != nil {
		amount := "0"
		if amountWei != nil {
			amount = amountWei.String()
		}
		r := &storage.TipReceipt{
			Creator:   creator.Hex(),
			AmountWei: amount,
			Path:      path,
			TxID:      res.TxID,
			Success:   res.Success,
			ErrorKind: string(res.Kind),
		}
		if err := o.store.RecordTip(r); err != nil {
			o.log.Warn("record tip receipt", "error", err)
		}
	}

	return res
}

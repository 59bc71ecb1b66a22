package tipping

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/instazora/creatorcoins/internal/provider"
	"github.com/instazora/creatorcoins/internal/storage"
)

// Preset names a quick-tip size.
type Preset string

const (
	PresetCoffee Preset = "coffee"
	PresetBeer   Preset = "beer"
	PresetPizza  Preset = "pizza"
	PresetCustom Preset = "custom"
)

// Quick-tip amounts in native units.
var presetAmounts = map[Preset]string{
	PresetCoffee: "0.001",
	PresetBeer:   "0.002",
	PresetPizza:  "0.005",
}

// PresetAmount resolves a preset to wei. Custom presets use customWei as-is.
func PresetAmount(p Preset, customWei *big.Int) *big.Int {
	if p == PresetCustom {
		return customWei
	}
	if eth, ok := presetAmounts[p]; ok {
		return provider.EtherToWei(eth)
	}
	return nil
}

// QuickTip tips a creator one of the preset amounts.
func (o *Orchestrator) QuickTip(ctx context.Context, creator common.Address, p Preset, customWei *big.Int) Result {
	amount := PresetAmount(p, customWei)
	if amount == nil {
		return o.finish(ctx, creator, nil, storage.PathDirect, failure(KindInvalidState, "unknown tip preset"))
	}
	return o.Tip(ctx, creator, amount)
}

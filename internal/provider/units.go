package provider

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// EtherToWei converts a decimal ETH string ("0.05") to wei. Returns nil for
// unparseable or negative input.
func EtherToWei(ether string) *big.Int {
	r, ok := new(big.Rat).SetString(ether)
	if !ok || r.Sign() < 0 {
		return nil
	}
	r.Mul(r, new(big.Rat).SetInt64(params.Ether))
	if !r.IsInt() {
		// Truncate sub-wei precision.
		return new(big.Int).Quo(r.Num(), r.Denom())
	}
	return r.Num()
}

// WeiToEther renders wei as a decimal ETH string for display.
func WeiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(params.Ether))
	s := r.FloatString(6)
	// Trim trailing zeros but keep at least one fractional digit trimmed off.
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

// ShortAddr returns a shortened address for display.
func ShortAddr(addr string, n int) string {
	if addr == "" {
		return "unknown"
	}
	if len(addr) < n*2+3 {
		return addr
	}
	return fmt.Sprintf("%s...%s", addr[:n], addr[len(addr)-n:])
}

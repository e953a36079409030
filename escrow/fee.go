package escrow

import (
	"fmt"
	"math"
	"math/big"
)

// FeePolicy is the admin-adjustable global fee configuration. The
// orchestrator reads it exactly once per offer, at creation; later edits
// never touch open offers.
type FeePolicy struct {
	DefaultPercentage float64
	MinPercentage     float64
	MaxPercentage     float64
}

// DefaultFeePolicy mirrors the platform defaults.
var DefaultFeePolicy = FeePolicy{
	DefaultPercentage: 2.0,
	MinPercentage:     0.0,
	MaxPercentage:     10.0,
}

// Clamp bounds a requested percentage to the policy limits.
func (p *FeePolicy) Clamp(pct float64) float64 {
	if pct < p.MinPercentage {
		return p.MinPercentage
	}
	if pct > p.MaxPercentage {
		return p.MaxPercentage
	}
	return pct
}

// ComputeAdminFee derives the fee amount from the fee base (the seller
// amount) and a percentage. Integer math over basis points keeps the
// result deterministic: amount*1000 at 2% yields exactly 20.
func ComputeAdminFee(base *big.Int, percentage float64) (*big.Int, error) {
	if base == nil || base.Sign() <= 0 {
		return nil, fmt.Errorf("fee base must be positive, got %v", base)
	}
	if percentage < 0 || percentage > 100 {
		return nil, fmt.Errorf("fee percentage out of range: %v", percentage)
	}

	// round, don't truncate: 0.29% is 29 bps even when 0.29*100 lands
	// just under 29 in float
	bps := big.NewInt(int64(math.Round(percentage * 100)))
	fee := new(big.Int).Mul(base, bps)
	return fee.Div(fee, big.NewInt(10000)), nil
}

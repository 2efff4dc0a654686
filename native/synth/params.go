package synth

import (
	"fmt"
	"math/big"
	"strings"
)

// Fixed scaling constants shared by every computation that mixes price and
// supply. Prices and token amounts are fixed-point integers scaled by
// PrecisionWei; the collateral ratio is an integer percent.
const (
	// DefaultCollateralRatio requires 200% brokerage backing per unit of
	// token value.
	DefaultCollateralRatio uint64 = 200
	// CollateralRatioPrecision is the divisor applied to the ratio.
	CollateralRatioPrecision uint64 = 100
	// DefaultFulfillGasLimit is the compute ceiling carried by each
	// dispatched request for its eventual fulfillment execution.
	DefaultFulfillGasLimit uint64 = 300_000
)

var (
	// PrecisionWei is the fixed-point scale for prices and token amounts.
	PrecisionWei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// DefaultMinWithdrawalWei is the minimum USDC-equivalent settlement a
	// redemption or claim must reach (100 whole units).
	DefaultMinWithdrawalWei = new(big.Int).Mul(big.NewInt(100), PrecisionWei)
)

// Params carries the issuance engine configuration. The ordering policy and
// the oracle error treatment are explicit switches rather than implicit
// behaviour.
type Params struct {
	// CollateralRatio is the required backing multiple as integer percent.
	CollateralRatio uint64
	// MinWithdrawalWei floors both redemption issuance and claims.
	MinWithdrawalWei *big.Int
	// FulfillGasLimit is forwarded to the oracle transport on dispatch.
	FulfillGasLimit uint64
	// Sequential restricts fulfillment to the most recently issued request.
	// When false any outstanding request may be fulfilled in any order.
	Sequential bool
	// FailOnOracleError rejects callbacks carrying a non-empty error
	// payload before any response decoding. When false the error payload is
	// ignored and the response decoded normally.
	FailOnOracleError bool
	// MintSource and RedeemSource are the remote-execution programs shipped
	// with each dispatched request. Opaque to this engine.
	MintSource   string
	RedeemSource string
}

// DefaultParams returns the reference configuration.
func DefaultParams() Params {
	return Params{
		CollateralRatio:  DefaultCollateralRatio,
		MinWithdrawalWei: new(big.Int).Set(DefaultMinWithdrawalWei),
		FulfillGasLimit:  DefaultFulfillGasLimit,
	}
}

// Validate normalises and checks the parameter domain.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("synth: params required")
	}
	if p.CollateralRatio == 0 {
		return fmt.Errorf("synth: collateral ratio must be positive")
	}
	if p.CollateralRatio < CollateralRatioPrecision {
		return fmt.Errorf("synth: collateral ratio below 100%% would undercollateralise supply")
	}
	if p.MinWithdrawalWei == nil || p.MinWithdrawalWei.Sign() < 0 {
		return fmt.Errorf("synth: minimum withdrawal must be zero or positive")
	}
	if p.FulfillGasLimit == 0 {
		return fmt.Errorf("synth: fulfillment gas limit must be positive")
	}
	p.MintSource = strings.TrimSpace(p.MintSource)
	p.RedeemSource = strings.TrimSpace(p.RedeemSource)
	return nil
}

// Copy returns a deep copy of the parameters.
func (p Params) Copy() Params {
	clone := p
	if p.MinWithdrawalWei != nil {
		clone.MinWithdrawalWei = new(big.Int).Set(p.MinWithdrawalWei)
	}
	return clone
}

package synth

import (
	"context"
	"fmt"
	"math/big"
)

// PriceOracle returns the current tracked-asset price scaled by
// PrecisionWei. The engine recomputes collateral coverage per mint attempt;
// no ratio is ever persisted.
type PriceOracle interface {
	Price(ctx context.Context) (*big.Int, error)
}

// RequiredCollateral computes the brokerage backing demanded by the
// projected supply at the supplied price. All arithmetic runs on big.Int so
// the multiply step cannot overflow before the precision divide.
func RequiredCollateral(ratio uint64, projectedSupply, price *big.Int) *big.Int {
	if projectedSupply == nil || price == nil {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(projectedSupply, price)
	value.Quo(value, PrecisionWei)
	value.Mul(value, new(big.Int).SetUint64(ratio))
	value.Quo(value, new(big.Int).SetUint64(CollateralRatioPrecision))
	return value
}

// CheckMintAllowed evaluates whether minting amountToMint on top of
// currentSupply keeps the supply covered by observedCollateral at the given
// price. It returns the required collateral for auditability and
// ErrInsufficientCollateral when coverage falls short.
func CheckMintAllowed(ratio uint64, amountToMint, currentSupply, price, observedCollateral *big.Int) (*big.Int, error) {
	projected := big.NewInt(0)
	if currentSupply != nil {
		projected.Set(currentSupply)
	}
	if amountToMint != nil {
		projected.Add(projected, amountToMint)
	}
	required := RequiredCollateral(ratio, projected, price)
	observed := big.NewInt(0)
	if observedCollateral != nil {
		observed.Set(observedCollateral)
	}
	if required.Cmp(observed) > 0 {
		return required, fmt.Errorf("%w: required %s observed %s", ErrInsufficientCollateral, required, observed)
	}
	return required, nil
}

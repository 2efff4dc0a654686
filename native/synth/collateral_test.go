package synth

import (
	"errors"
	"math/big"
	"testing"
)

func TestRequiredCollateral(t *testing.T) {
	price := scaled(250)
	cases := []struct {
		name      string
		ratio     uint64
		projected *big.Int
		want      *big.Int
	}{
		{"zero supply", DefaultCollateralRatio, big.NewInt(0), big.NewInt(0)},
		{"four tokens at 200%", DefaultCollateralRatio, scaled(4), scaled(2000)},
		{"one token at 100%", 100, scaled(1), scaled(250)},
		{"one token at 150%", 150, scaled(1), scaled(375)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RequiredCollateral(tc.ratio, tc.projected, price)
			if got.Cmp(tc.want) != 0 {
				t.Fatalf("required = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRequiredCollateralNilInputs(t *testing.T) {
	if got := RequiredCollateral(DefaultCollateralRatio, nil, scaled(1)); got.Sign() != 0 {
		t.Fatalf("nil supply must cost nothing, got %s", got)
	}
	if got := RequiredCollateral(DefaultCollateralRatio, scaled(1), nil); got.Sign() != 0 {
		t.Fatalf("nil price must cost nothing, got %s", got)
	}
}

func TestCheckMintAllowedBoundary(t *testing.T) {
	price := scaled(250)
	required, err := CheckMintAllowed(DefaultCollateralRatio, scaled(4), big.NewInt(0), price, scaled(2000))
	if err != nil {
		t.Fatalf("exact coverage must pass: %v", err)
	}
	if required.Cmp(scaled(2000)) != 0 {
		t.Fatalf("required = %s, want %s", required, scaled(2000))
	}

	shy := new(big.Int).Sub(scaled(2000), big.NewInt(1))
	if _, err := CheckMintAllowed(DefaultCollateralRatio, scaled(4), big.NewInt(0), price, shy); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("one wei short must fail, got %v", err)
	}
}

func TestCheckMintAllowedCountsExistingSupply(t *testing.T) {
	price := scaled(250)
	// 6 existing + 4 new tokens at $250 and 200% demands $5000 backing.
	required, err := CheckMintAllowed(DefaultCollateralRatio, scaled(4), scaled(6), price, scaled(5000))
	if err != nil {
		t.Fatalf("full coverage must pass: %v", err)
	}
	if required.Cmp(scaled(5000)) != 0 {
		t.Fatalf("required = %s, want %s", required, scaled(5000))
	}
	// Backing only the new tranche is not enough.
	if _, err := CheckMintAllowed(DefaultCollateralRatio, scaled(4), scaled(6), price, scaled(2000)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("partial coverage must fail, got %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	params := DefaultParams()
	if err := params.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	params.CollateralRatio = 99
	if err := params.Validate(); err == nil {
		t.Fatalf("under-collateralised ratio must be rejected")
	}
}

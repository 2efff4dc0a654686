package events

import (
	"encoding/hex"
	"math/big"
	"strings"

	"dshares/core/types"
)

const (
	// TypeSynthMintApplied is emitted when a mint fulfillment passes the
	// collateral check and new supply is created.
	TypeSynthMintApplied = "synth.mint.applied"
	// TypeSynthMintRejected is emitted when a mint fulfillment fails the
	// collateral check.
	TypeSynthMintRejected = "synth.mint.rejected"
	// TypeSynthRedeemSettled is emitted when a redeem fulfillment credits
	// the requester's withdrawal balance.
	TypeSynthRedeemSettled = "synth.redeem.settled"
	// TypeSynthRedeemReverted is emitted when settlement failed and the
	// optimistically burned tokens are restored.
	TypeSynthRedeemReverted = "synth.redeem.reverted"
	// TypeSynthWithdrawalClaimed is emitted when a requester claims their
	// accumulated withdrawal balance.
	TypeSynthWithdrawalClaimed = "synth.withdrawal.claimed"
)

func addressHex(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

// SynthMintApplied carries the applied mint details.
type SynthMintApplied struct {
	RequestID  string
	Requester  [20]byte
	Amount     *big.Int
	Collateral *big.Int
}

func (SynthMintApplied) EventType() string { return TypeSynthMintApplied }

func (e SynthMintApplied) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthMintApplied,
		Attributes: map[string]string{
			"requestId":  strings.TrimSpace(e.RequestID),
			"requester":  addressHex(e.Requester),
			"amount":     amountString(e.Amount),
			"collateral": amountString(e.Collateral),
		},
	}
}

// SynthMintRejected records a mint refused for insufficient collateral.
type SynthMintRejected struct {
	RequestID  string
	Requester  [20]byte
	Amount     *big.Int
	Required   *big.Int
	Collateral *big.Int
}

func (SynthMintRejected) EventType() string { return TypeSynthMintRejected }

func (e SynthMintRejected) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthMintRejected,
		Attributes: map[string]string{
			"requestId":  strings.TrimSpace(e.RequestID),
			"requester":  addressHex(e.Requester),
			"amount":     amountString(e.Amount),
			"required":   amountString(e.Required),
			"collateral": amountString(e.Collateral),
		},
	}
}

// SynthRedeemSettled records a settled redemption.
type SynthRedeemSettled struct {
	RequestID string
	Requester [20]byte
	Burned    *big.Int
	Settled   *big.Int
}

func (SynthRedeemSettled) EventType() string { return TypeSynthRedeemSettled }

func (e SynthRedeemSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthRedeemSettled,
		Attributes: map[string]string{
			"requestId": strings.TrimSpace(e.RequestID),
			"requester": addressHex(e.Requester),
			"burned":    amountString(e.Burned),
			"settled":   amountString(e.Settled),
		},
	}
}

// SynthRedeemReverted records a failed settlement whose burn was re-minted.
type SynthRedeemReverted struct {
	RequestID string
	Requester [20]byte
	Restored  *big.Int
}

func (SynthRedeemReverted) EventType() string { return TypeSynthRedeemReverted }

func (e SynthRedeemReverted) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthRedeemReverted,
		Attributes: map[string]string{
			"requestId": strings.TrimSpace(e.RequestID),
			"requester": addressHex(e.Requester),
			"restored":  amountString(e.Restored),
		},
	}
}

// SynthWithdrawalClaimed records a claimed withdrawal balance.
type SynthWithdrawalClaimed struct {
	Requester [20]byte
	Amount    *big.Int
}

func (SynthWithdrawalClaimed) EventType() string { return TypeSynthWithdrawalClaimed }

func (e SynthWithdrawalClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeSynthWithdrawalClaimed,
		Attributes: map[string]string{
			"requester": addressHex(e.Requester),
			"amount":    amountString(e.Amount),
		},
	}
}

package synth

import "math/big"

// RequestAction enumerates the asynchronous operations tracked by the
// request ledger.
type RequestAction string

const (
	// ActionMint asks the brokerage oracle to verify collateral before new
	// supply is created.
	ActionMint RequestAction = "mint"
	// ActionRedeem asks the brokerage oracle to sell the tracked asset and
	// report the settled amount.
	ActionRedeem RequestAction = "redeem"
)

// Valid reports whether the action falls inside the supported domain.
func (a RequestAction) Valid() bool {
	return a == ActionMint || a == ActionRedeem
}

// RequestStatus captures the lifecycle state of a tracked request. Requests
// are never deleted; a terminal status is the audit trail of the outcome.
type RequestStatus string

const (
	// StatusPending identifies requests issued but not yet fulfilled.
	StatusPending RequestStatus = "pending"
	// StatusMintApplied marks mints that passed the collateral check.
	StatusMintApplied RequestStatus = "mint_applied"
	// StatusMintRejected marks mints refused for insufficient collateral.
	StatusMintRejected RequestStatus = "mint_rejected"
	// StatusRedeemSettled marks redemptions whose settlement was credited.
	StatusRedeemSettled RequestStatus = "redeem_settled"
	// StatusRedeemReverted marks redemptions whose settlement failed and
	// whose optimistic burn was re-minted.
	StatusRedeemReverted RequestStatus = "redeem_reverted"
)

// Terminal reports whether the status permits no further transition.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusMintApplied, StatusMintRejected, StatusRedeemSettled, StatusRedeemReverted:
		return true
	}
	return false
}

// Request records one outstanding or historical asynchronous call. The ID is
// the sole correlation key between issuance and the later fulfillment.
type Request struct {
	ID            string
	Action        RequestAction
	Amount        *big.Int
	Requester     [20]byte
	Status        RequestStatus
	CreatedAt     int64
	SettledAmount *big.Int
}

// Copy returns a deep copy so callers cannot mutate ledger-owned state.
func (r *Request) Copy() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	if r.SettledAmount != nil {
		clone.SettledAmount = new(big.Int).Set(r.SettledAmount)
	}
	return &clone
}

package synth

import "errors"

var (
	// ErrInsufficientCollateral indicates the proposed mint would breach the
	// collateral ratio against the observed brokerage balance.
	ErrInsufficientCollateral = errors.New("synth: insufficient collateral")
	// ErrBelowMinimumWithdrawal indicates a redeem or claim amount under the
	// configured settlement floor.
	ErrBelowMinimumWithdrawal = errors.New("synth: below minimum withdrawal")
	// ErrSettlementTransferFailed indicates the external settlement transfer
	// failed after the withdrawal balance was already zeroed.
	ErrSettlementTransferFailed = errors.New("synth: settlement transfer failed")
	// ErrRequestNotFound indicates a fulfillment arrived for an id this
	// ledger never issued. Treated as fatal for that callback.
	ErrRequestNotFound = errors.New("synth: request not found")
	// ErrUnknownAction indicates a stored action outside the enum domain.
	ErrUnknownAction = errors.New("synth: unknown request action")
	// ErrDuplicateFulfillment indicates a request already in a terminal
	// state received a second callback.
	ErrDuplicateFulfillment = errors.New("synth: request already fulfilled")
	// ErrOutOfOrderFulfillment indicates a callback for a request other than
	// the most recently issued one while sequential ordering is enforced.
	ErrOutOfOrderFulfillment = errors.New("synth: fulfillment out of order")
	// ErrNotAuthority indicates the caller lacks the mint authority role.
	ErrNotAuthority = errors.New("synth: caller is not the mint authority")
	// ErrOracleReportedFailure indicates the callback carried a non-empty
	// error payload while strict oracle error handling is enabled.
	ErrOracleReportedFailure = errors.New("synth: oracle reported failure")
)

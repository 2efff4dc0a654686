package synth

import (
	"fmt"
	"math/big"
)

type storedWithdrawal struct {
	Amount string
}

// WithdrawalLedger accumulates per-requester settlement credits. Balances
// only ever grow through Credit and reach zero through Clear; no partial
// decrement exists.
type WithdrawalLedger struct {
	store Storage
}

// NewWithdrawalLedger constructs a ledger bound to the provided storage
// backend.
func NewWithdrawalLedger(store Storage) *WithdrawalLedger {
	return &WithdrawalLedger{store: store}
}

// Balance returns the accumulated withdrawal balance for the requester.
func (l *WithdrawalLedger) Balance(requester [20]byte) (*big.Int, error) {
	if l == nil {
		return nil, fmt.Errorf("withdrawal ledger not initialised")
	}
	var stored storedWithdrawal
	ok, err := l.store.KVGet(withdrawalKey(requester), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseStoredAmount(stored.Amount)
}

// Credit adds the settled amount to the requester's balance. The credit
// represents funds external settlement has already produced off-platform,
// so no upper bound is enforced.
func (l *WithdrawalLedger) Credit(requester [20]byte, amount *big.Int) error {
	if l == nil {
		return fmt.Errorf("withdrawal ledger not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("withdrawal ledger: credit must be positive")
	}
	balance, err := l.Balance(requester)
	if err != nil {
		return err
	}
	updated := new(big.Int).Add(balance, amount)
	return l.store.KVPut(withdrawalKey(requester), storedWithdrawal{Amount: updated.String()})
}

// Clear zeroes the stored balance and returns the prior amount. The zeroing
// persists before any external transfer is attempted so a failed transfer
// can never be re-claimed.
func (l *WithdrawalLedger) Clear(requester [20]byte) (*big.Int, error) {
	if l == nil {
		return nil, fmt.Errorf("withdrawal ledger not initialised")
	}
	balance, err := l.Balance(requester)
	if err != nil {
		return nil, err
	}
	if err := l.store.KVPut(withdrawalKey(requester), storedWithdrawal{Amount: "0"}); err != nil {
		return nil, err
	}
	return balance, nil
}

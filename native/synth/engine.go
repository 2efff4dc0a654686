package synth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"dshares/core/events"
	"dshares/core/types"
	"dshares/observability"
)

// Dispatcher submits a request to the oracle transport and returns the
// opaque correlation id. The transport guarantees id uniqueness and invokes
// Engine.Fulfill exactly once per request, at some later point.
type Dispatcher interface {
	Dispatch(ctx context.Context, action RequestAction, source string, args []string, gasLimit uint64) (string, error)
}

// TokenLedger exposes the external token supply primitives the engine
// mutates. Ownership, pause controls, and transfer mechanics live behind
// this boundary.
type TokenLedger interface {
	Mint(requester [20]byte, amount *big.Int) error
	Burn(requester [20]byte, amount *big.Int) error
	TotalSupply() (*big.Int, error)
}

// SettlementTransfer pays out claimed withdrawal balances in the settlement
// currency.
type SettlementTransfer interface {
	Transfer(to [20]byte, amount *big.Int) error
}

// EventSink receives the typed events emitted by state transitions.
type EventSink func(evt *types.Event)

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Params     Params
	Store      Storage
	Dispatcher Dispatcher
	Token      TokenLedger
	Oracle     PriceOracle
	Settlement SettlementTransfer
	// Authority is the only identity allowed to issue mint requests.
	Authority [20]byte
	Events    EventSink
	Metrics   *observability.SynthMetrics
}

// Engine is the request-tracking and collateral-enforcement core. Every
// externally visible operation runs under a single mutex, mirroring the
// global serial execution order the hosting environment guarantees: no two
// operations interleave partway.
type Engine struct {
	mu          sync.Mutex
	params      Params
	requests    *RequestLedger
	withdrawals *WithdrawalLedger
	dispatcher  Dispatcher
	token       TokenLedger
	oracle      PriceOracle
	settlement  SettlementTransfer
	authority   [20]byte
	emit        EventSink
	metrics     *observability.SynthMetrics
}

// NewEngine constructs the issuance engine, validating configuration.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("synth: storage required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("synth: dispatcher required")
	}
	if cfg.Token == nil {
		return nil, fmt.Errorf("synth: token ledger required")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("synth: price oracle required")
	}
	if cfg.Settlement == nil {
		return nil, fmt.Errorf("synth: settlement transfer required")
	}
	return &Engine{
		params:      cfg.Params.Copy(),
		requests:    NewRequestLedger(cfg.Store),
		withdrawals: NewWithdrawalLedger(cfg.Store),
		dispatcher:  cfg.Dispatcher,
		token:       cfg.Token,
		oracle:      cfg.Oracle,
		settlement:  cfg.Settlement,
		authority:   cfg.Authority,
		emit:        cfg.Events,
		metrics:     cfg.Metrics,
	}, nil
}

// Requests exposes the underlying ledger for read-only audit listings.
func (e *Engine) Requests() *RequestLedger {
	if e == nil {
		return nil
	}
	return e.requests
}

// Params returns a copy of the active configuration.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params.Copy()
}

// MintSource returns the remote-execution program sent with mint requests.
func (e *Engine) MintSource() string { return e.params.MintSource }

// RedeemSource returns the remote-execution program sent with redeem
// requests.
func (e *Engine) RedeemSource() string { return e.params.RedeemSource }

// LastRequestID returns the id of the most recently issued request.
func (e *Engine) LastRequestID() (string, error) {
	if e == nil {
		return "", fmt.Errorf("synth: engine not initialised")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests.LastID()
}

// Request returns the audit record for the supplied id.
func (e *Engine) Request(id string) (*Request, error) {
	if e == nil {
		return nil, fmt.Errorf("synth: engine not initialised")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests.Get(id)
}

// WithdrawalBalance returns the accumulated settlement credit for the
// requester.
func (e *Engine) WithdrawalBalance(requester [20]byte) (*big.Int, error) {
	if e == nil {
		return nil, fmt.Errorf("synth: engine not initialised")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdrawals.Balance(requester)
}

// RequestMint issues an asynchronous mint request for the supplied amount.
// Only the configured authority may create new supply; the collateral check
// itself runs later, against the balance the oracle observes at fulfillment
// time. Returns the correlation id immediately without blocking on the
// oracle round trip.
func (e *Engine) RequestMint(ctx context.Context, caller [20]byte, amount *big.Int) (string, error) {
	if e == nil {
		return "", fmt.Errorf("synth: engine not initialised")
	}
	if caller != e.authority {
		return "", ErrNotAuthority
	}
	if amount == nil || amount.Sign() < 0 {
		return "", fmt.Errorf("synth: mint amount must be zero or positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id, err := e.dispatcher.Dispatch(ctx, ActionMint, e.params.MintSource, nil, e.params.FulfillGasLimit)
	if err != nil {
		return "", fmt.Errorf("synth: dispatch mint request: %w", err)
	}
	record := &Request{
		ID:        id,
		Action:    ActionMint,
		Amount:    new(big.Int).Set(amount),
		Requester: caller,
		Status:    StatusPending,
	}
	if err := e.requests.Put(record); err != nil {
		return "", err
	}
	e.metrics.ObserveRequestIssued(string(ActionMint))
	return id, nil
}

// RequestRedeem burns the caller's tokens optimistically and issues an
// asynchronous redeem request. The burn happens before settlement is known;
// the window is reconciled by the revert path in Fulfill when the oracle
// reports a failed sale.
func (e *Engine) RequestRedeem(ctx context.Context, caller [20]byte, amountTokens *big.Int) (string, error) {
	if e == nil {
		return "", fmt.Errorf("synth: engine not initialised")
	}
	if amountTokens == nil || amountTokens.Sign() <= 0 {
		return "", fmt.Errorf("synth: redeem amount must be positive")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	price, err := e.oracle.Price(ctx)
	if err != nil {
		return "", fmt.Errorf("synth: price lookup: %w", err)
	}
	expected := new(big.Int).Mul(amountTokens, price)
	expected.Quo(expected, PrecisionWei)
	if expected.Cmp(e.params.MinWithdrawalWei) < 0 {
		return "", fmt.Errorf("%w: expected settlement %s below floor %s", ErrBelowMinimumWithdrawal, expected, e.params.MinWithdrawalWei)
	}
	// Burn before dispatch so a transport failure aborts the whole
	// operation with the burn restored, keeping issuance atomic.
	if err := e.token.Burn(caller, amountTokens); err != nil {
		return "", fmt.Errorf("synth: optimistic burn: %w", err)
	}
	args := []string{amountTokens.String(), expected.String()}
	id, err := e.dispatcher.Dispatch(ctx, ActionRedeem, e.params.RedeemSource, args, e.params.FulfillGasLimit)
	if err != nil {
		if restoreErr := e.token.Mint(caller, amountTokens); restoreErr != nil {
			return "", fmt.Errorf("synth: dispatch redeem request: %v; restore burn: %w", err, restoreErr)
		}
		return "", fmt.Errorf("synth: dispatch redeem request: %w", err)
	}
	record := &Request{
		ID:        id,
		Action:    ActionRedeem,
		Amount:    new(big.Int).Set(amountTokens),
		Requester: caller,
		Status:    StatusPending,
	}
	if err := e.requests.Put(record); err != nil {
		return "", err
	}
	e.metrics.ObserveRequestIssued(string(ActionRedeem))
	return id, nil
}

// Fulfill is the single entry point for the oracle transport's callback. It
// correlates the response to the stored request, enforces the duplicate and
// ordering guards, and applies the mint or redeem transition. Precondition
// failures abort before any mutation; recorded rejections and reverts are
// themselves terminal transitions, not partial state.
func (e *Engine) Fulfill(ctx context.Context, id string, response, errPayload []byte) error {
	if e == nil {
		return fmt.Errorf("synth: engine not initialised")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	record, err := e.requests.Get(id)
	if err != nil {
		e.metrics.ObserveFulfillment("unknown", "not_found")
		return err
	}
	if e.params.Sequential {
		last, err := e.requests.LastID()
		if err != nil {
			return err
		}
		if last != strings.TrimSpace(id) {
			e.metrics.ObserveFulfillment(string(record.Action), "out_of_order")
			return fmt.Errorf("%w: %s is not the latest request %s", ErrOutOfOrderFulfillment, id, last)
		}
	}
	if record.Status.Terminal() {
		e.metrics.ObserveFulfillment(string(record.Action), "duplicate")
		return fmt.Errorf("%w: %s is %s", ErrDuplicateFulfillment, record.ID, record.Status)
	}
	if e.params.FailOnOracleError && len(errPayload) > 0 {
		return e.rejectOnOracleError(record)
	}
	// Oracle-reported errors are otherwise ignored and the response decoded
	// normally, matching the reference behaviour.
	value := new(big.Int).SetBytes(response)
	switch record.Action {
	case ActionMint:
		return e.fulfillMint(ctx, record, value)
	case ActionRedeem:
		return e.fulfillRedeem(record, value)
	default:
		e.metrics.ObserveFulfillment(string(record.Action), "unknown_action")
		return fmt.Errorf("%w: %q", ErrUnknownAction, record.Action)
	}
}

func (e *Engine) fulfillMint(ctx context.Context, record *Request, observedCollateral *big.Int) error {
	price, err := e.oracle.Price(ctx)
	if err != nil {
		return fmt.Errorf("synth: price lookup: %w", err)
	}
	supply, err := e.token.TotalSupply()
	if err != nil {
		return fmt.Errorf("synth: total supply: %w", err)
	}
	required, checkErr := CheckMintAllowed(e.params.CollateralRatio, record.Amount, supply, price, observedCollateral)
	if checkErr != nil {
		if err := e.requests.SetTerminal(record.ID, StatusMintRejected, nil); err != nil {
			return err
		}
		e.emitEvent(events.SynthMintRejected{
			RequestID:  record.ID,
			Requester:  record.Requester,
			Amount:     record.Amount,
			Required:   required,
			Collateral: observedCollateral,
		}.Event())
		e.metrics.ObserveFulfillment(string(ActionMint), "rejected")
		return checkErr
	}
	if record.Amount.Sign() != 0 {
		if err := e.token.Mint(record.Requester, record.Amount); err != nil {
			return fmt.Errorf("synth: mint: %w", err)
		}
	}
	if err := e.requests.SetTerminal(record.ID, StatusMintApplied, nil); err != nil {
		return err
	}
	e.emitEvent(events.SynthMintApplied{
		RequestID:  record.ID,
		Requester:  record.Requester,
		Amount:     record.Amount,
		Collateral: observedCollateral,
	}.Event())
	e.metrics.ObserveFulfillment(string(ActionMint), "applied")
	return nil
}

func (e *Engine) fulfillRedeem(record *Request, settled *big.Int) error {
	if settled.Sign() == 0 {
		// Settlement failed off-platform: restore the optimistic burn.
		if err := e.token.Mint(record.Requester, record.Amount); err != nil {
			return fmt.Errorf("synth: restore burn: %w", err)
		}
		if err := e.requests.SetTerminal(record.ID, StatusRedeemReverted, nil); err != nil {
			return err
		}
		e.emitEvent(events.SynthRedeemReverted{
			RequestID: record.ID,
			Requester: record.Requester,
			Restored:  record.Amount,
		}.Event())
		e.metrics.ObserveFulfillment(string(ActionRedeem), "reverted")
		return nil
	}
	if err := e.withdrawals.Credit(record.Requester, settled); err != nil {
		return err
	}
	if err := e.requests.SetTerminal(record.ID, StatusRedeemSettled, settled); err != nil {
		return err
	}
	e.emitEvent(events.SynthRedeemSettled{
		RequestID: record.ID,
		Requester: record.Requester,
		Burned:    record.Amount,
		Settled:   settled,
	}.Event())
	e.metrics.ObserveFulfillment(string(ActionRedeem), "settled")
	return nil
}

func (e *Engine) rejectOnOracleError(record *Request) error {
	switch record.Action {
	case ActionMint:
		if err := e.requests.SetTerminal(record.ID, StatusMintRejected, nil); err != nil {
			return err
		}
		e.emitEvent(events.SynthMintRejected{
			RequestID: record.ID,
			Requester: record.Requester,
			Amount:    record.Amount,
		}.Event())
	case ActionRedeem:
		if err := e.token.Mint(record.Requester, record.Amount); err != nil {
			return fmt.Errorf("synth: restore burn: %w", err)
		}
		if err := e.requests.SetTerminal(record.ID, StatusRedeemReverted, nil); err != nil {
			return err
		}
		e.emitEvent(events.SynthRedeemReverted{
			RequestID: record.ID,
			Requester: record.Requester,
			Restored:  record.Amount,
		}.Event())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, record.Action)
	}
	e.metrics.ObserveFulfillment(string(record.Action), "oracle_error")
	return fmt.Errorf("%w: %s", ErrOracleReportedFailure, record.ID)
}

// Claim pays out the caller's accumulated withdrawal balance. The stored
// balance is zeroed before the external transfer is attempted; a failed
// transfer surfaces ErrSettlementTransferFailed with the balance already
// zero, pending manual resolution.
func (e *Engine) Claim(ctx context.Context, caller [20]byte) (*big.Int, error) {
	if e == nil {
		return nil, fmt.Errorf("synth: engine not initialised")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	balance, err := e.withdrawals.Balance(caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(e.params.MinWithdrawalWei) < 0 {
		return nil, fmt.Errorf("%w: balance %s below floor %s", ErrBelowMinimumWithdrawal, balance, e.params.MinWithdrawalWei)
	}
	amount, err := e.withdrawals.Clear(caller)
	if err != nil {
		return nil, err
	}
	if err := e.settlement.Transfer(caller, amount); err != nil {
		e.metrics.ObserveClaim("transfer_failed")
		return nil, fmt.Errorf("%w: %v", ErrSettlementTransferFailed, err)
	}
	e.emitEvent(events.SynthWithdrawalClaimed{Requester: caller, Amount: amount}.Event())
	e.metrics.ObserveClaim("paid")
	return amount, nil
}

func (e *Engine) emitEvent(evt *types.Event) {
	if e.emit == nil || evt == nil {
		return
	}
	e.emit(evt)
}

// IsTerminalError reports whether the fulfillment error represents a
// recorded terminal outcome rather than a transient processing failure.
func IsTerminalError(err error) bool {
	return errors.Is(err, ErrInsufficientCollateral) ||
		errors.Is(err, ErrDuplicateFulfillment) ||
		errors.Is(err, ErrOracleReportedFailure)
}

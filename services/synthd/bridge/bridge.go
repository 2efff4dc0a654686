package bridge

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"dshares/native/synth"
	"dshares/services/synthd/storage"
)

// Relay is the local oracle transport: it assigns opaque correlation ids to
// outbound requests and hands the job to the off-platform executor, which
// later posts the result back through the fulfillment endpoint.
type Relay struct {
	logger *log.Logger
}

// NewRelay constructs a relay with the supplied logger.
func NewRelay(logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{logger: logger}
}

// Dispatch implements synth.Dispatcher. Ids are UUIDs so uniqueness holds
// across restarts without coordination.
func (r *Relay) Dispatch(ctx context.Context, action synth.RequestAction, source string, args []string, gasLimit uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	r.logger.Printf("synthd: dispatched %s request %s (args=%d gas=%d source=%dB)", action, id, len(args), gasLimit, len(source))
	return id, nil
}

var (
	tokenSupplyKey     = []byte("synth/token/supply")
	tokenBalancePrefix = []byte("synth/token/balance/")
)

type storedBalance struct {
	Amount string
}

// TokenBook is a KV-backed dSHARE ledger. Production deployments point the
// engine at the on-chain token instead; the book keeps single-node installs
// self-contained while preserving mint/burn semantics.
type TokenBook struct {
	store synth.Storage
}

// NewTokenBook binds the book to the shared state manager.
func NewTokenBook(store synth.Storage) *TokenBook {
	return &TokenBook{store: store}
}

func balanceKey(holder [20]byte) []byte {
	return append(append([]byte{}, tokenBalancePrefix...), []byte(fmt.Sprintf("%x", holder))...)
}

func (b *TokenBook) balance(holder [20]byte) (*big.Int, error) {
	var stored storedBalance
	ok, err := b.store.KVGet(balanceKey(holder), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	value, okParse := new(big.Int).SetString(stored.Amount, 10)
	if !okParse {
		return nil, fmt.Errorf("token book: corrupt balance %q", stored.Amount)
	}
	return value, nil
}

// Mint credits the holder and grows total supply.
func (b *TokenBook) Mint(holder [20]byte, amount *big.Int) error {
	if b == nil || b.store == nil {
		return fmt.Errorf("token book not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token book: mint amount must be zero or positive")
	}
	balance, err := b.balance(holder)
	if err != nil {
		return err
	}
	supply, err := b.TotalSupply()
	if err != nil {
		return err
	}
	balance.Add(balance, amount)
	supply.Add(supply, amount)
	if err := b.store.KVPut(balanceKey(holder), storedBalance{Amount: balance.String()}); err != nil {
		return err
	}
	return b.store.KVPut(tokenSupplyKey, storedBalance{Amount: supply.String()})
}

// Burn debits the holder and shrinks total supply.
func (b *TokenBook) Burn(holder [20]byte, amount *big.Int) error {
	if b == nil || b.store == nil {
		return fmt.Errorf("token book not initialised")
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token book: burn amount must be zero or positive")
	}
	balance, err := b.balance(holder)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("token book: balance %s below burn %s", balance, amount)
	}
	supply, err := b.TotalSupply()
	if err != nil {
		return err
	}
	balance.Sub(balance, amount)
	supply.Sub(supply, amount)
	if err := b.store.KVPut(balanceKey(holder), storedBalance{Amount: balance.String()}); err != nil {
		return err
	}
	return b.store.KVPut(tokenSupplyKey, storedBalance{Amount: supply.String()})
}

// TotalSupply returns the circulating dSHARE supply.
func (b *TokenBook) TotalSupply() (*big.Int, error) {
	if b == nil || b.store == nil {
		return nil, fmt.Errorf("token book not initialised")
	}
	var stored storedBalance
	ok, err := b.store.KVGet(tokenSupplyKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	value, okParse := new(big.Int).SetString(stored.Amount, 10)
	if !okParse {
		return nil, fmt.Errorf("token book: corrupt supply %q", stored.Amount)
	}
	return value, nil
}

// BalanceOf returns the holder's dSHARE balance.
func (b *TokenBook) BalanceOf(holder [20]byte) (*big.Int, error) {
	if b == nil || b.store == nil {
		return nil, fmt.Errorf("token book not initialised")
	}
	return b.balance(holder)
}

// Treasury records claimed payouts for reconciliation against the settlement
// provider. The actual transfer is executed out of band from the recorded
// instruction.
type Treasury struct {
	store  *storage.Storage
	logger *log.Logger
}

// NewTreasury binds the treasury to the relational store.
func NewTreasury(store *storage.Storage, logger *log.Logger) *Treasury {
	if logger == nil {
		logger = log.Default()
	}
	return &Treasury{store: store, logger: logger}
}

// Transfer implements synth.SettlementTransfer.
func (t *Treasury) Transfer(to [20]byte, amount *big.Int) error {
	if t == nil || t.store == nil {
		return fmt.Errorf("treasury not initialised")
	}
	requester := fmt.Sprintf("0x%x", to)
	if err := t.store.RecordPayout(context.Background(), requester, amount, time.Now()); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}
	t.logger.Printf("synthd: payout of %s recorded for %s", amount, requester)
	return nil
}

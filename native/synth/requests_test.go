package synth

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// mockStorage round-trips values through RLP the same way the state manager
// does, so encoding regressions show up here rather than in integration.
type mockStorage struct {
	kv    map[string][]byte
	lists map[string][][]byte
}

func newMockStorage() *mockStorage {
	return &mockStorage{kv: make(map[string][]byte), lists: make(map[string][][]byte)}
}

func (m *mockStorage) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockStorage) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockStorage) KVAppend(key []byte, value []byte) error {
	m.lists[string(key)] = append(m.lists[string(key)], append([]byte{}, value...))
	return nil
}

func (m *mockStorage) KVGetList(key []byte, out interface{}) error {
	target, ok := out.(*[][]byte)
	if !ok {
		return errors.New("unexpected list target")
	}
	*target = append([][]byte{}, m.lists[string(key)]...)
	return nil
}

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func TestRequestLedgerPutGetRoundTrip(t *testing.T) {
	ledger := NewRequestLedger(newMockStorage())
	ledger.SetClock(fixedClock(1700000000))
	record := &Request{
		ID:        "req-abc",
		Action:    ActionMint,
		Amount:    big.NewInt(42),
		Requester: [20]byte{0x01, 0x02},
	}
	if err := ledger.Put(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := ledger.Get("req-abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != record.ID || got.Action != ActionMint || got.Status != StatusPending {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Amount.Cmp(record.Amount) != 0 {
		t.Fatalf("amount mismatch: %s", got.Amount)
	}
	if got.Requester != record.Requester {
		t.Fatalf("requester mismatch")
	}
	if got.CreatedAt != 1700000000 {
		t.Fatalf("expected clock timestamp, got %d", got.CreatedAt)
	}
	last, err := ledger.LastID()
	if err != nil || last != "req-abc" {
		t.Fatalf("expected last id req-abc, got %q err=%v", last, err)
	}
}

func TestRequestLedgerRejectsDuplicateID(t *testing.T) {
	ledger := NewRequestLedger(newMockStorage())
	record := &Request{ID: "dup", Action: ActionMint, Amount: big.NewInt(1)}
	if err := ledger.Put(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ledger.Put(record); err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
}

func TestRequestLedgerGetMissing(t *testing.T) {
	ledger := NewRequestLedger(newMockStorage())
	if _, err := ledger.Get("missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestRequestLedgerSetTerminal(t *testing.T) {
	ledger := NewRequestLedger(newMockStorage())
	record := &Request{ID: "req-1", Action: ActionRedeem, Amount: big.NewInt(5)}
	if err := ledger.Put(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	settled := big.NewInt(990)
	if err := ledger.SetTerminal("req-1", StatusRedeemSettled, settled); err != nil {
		t.Fatalf("set terminal: %v", err)
	}
	got, err := ledger.Get("req-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusRedeemSettled {
		t.Fatalf("expected redeem_settled, got %s", got.Status)
	}
	if got.SettledAmount == nil || got.SettledAmount.Cmp(settled) != 0 {
		t.Fatalf("settled amount not recorded: %v", got.SettledAmount)
	}
	err = ledger.SetTerminal("req-1", StatusRedeemReverted, nil)
	if !errors.Is(err, ErrDuplicateFulfillment) {
		t.Fatalf("expected ErrDuplicateFulfillment, got %v", err)
	}
	got, _ = ledger.Get("req-1")
	if got.Status != StatusRedeemSettled {
		t.Fatalf("second transition must not overwrite, got %s", got.Status)
	}
}

func TestRequestLedgerSetTerminalRejectsNonTerminal(t *testing.T) {
	ledger := NewRequestLedger(newMockStorage())
	if err := ledger.Put(&Request{ID: "req-1", Action: ActionMint, Amount: big.NewInt(1)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ledger.SetTerminal("req-1", StatusPending, nil); err == nil {
		t.Fatalf("pending is not a terminal status")
	}
}

func TestRequestLedgerListPagination(t *testing.T) {
	ledger := NewRequestLedger(newMockStorage())
	base := int64(1700000000)
	ids := []string{"req-a", "req-b", "req-c", "req-d", "req-e"}
	for i, id := range ids {
		ledger.SetClock(fixedClock(base + int64(i)))
		if err := ledger.Put(&Request{ID: id, Action: ActionMint, Amount: big.NewInt(int64(i))}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	page, cursor, err := ledger.List("", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != "req-a" || page[1].ID != "req-b" {
		t.Fatalf("unexpected first page %v", page)
	}
	if cursor != "req-b" {
		t.Fatalf("unexpected cursor %q", cursor)
	}

	page, cursor, err = ledger.List(cursor, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != "req-c" || page[1].ID != "req-d" {
		t.Fatalf("unexpected second page %v", page)
	}

	page, cursor, err = ledger.List(cursor, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].ID != "req-e" {
		t.Fatalf("unexpected final page %v", page)
	}
	if cursor != "" {
		t.Fatalf("expected exhausted cursor, got %q", cursor)
	}
}

func TestRequestLedgerRejectsUnknownAction(t *testing.T) {
	ledger := NewRequestLedger(newMockStorage())
	err := ledger.Put(&Request{ID: "req-x", Action: RequestAction("transfer"), Amount: big.NewInt(1)})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

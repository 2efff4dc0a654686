package bridge

import (
	"context"
	"math/big"
	"testing"

	"dshares/native/synth"
	"dshares/state"
	"dshares/storage"
)

func newBook(t *testing.T) *TokenBook {
	t.Helper()
	return NewTokenBook(state.NewManager(storage.NewMemDB()))
}

func TestTokenBookMintBurnSupply(t *testing.T) {
	book := newBook(t)
	holder := [20]byte{0x01}

	supply, err := book.TotalSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Sign() != 0 {
		t.Fatalf("expected zero initial supply")
	}

	if err := book.Mint(holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, err := book.BalanceOf(holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance = %s, want 100", balance)
	}

	if err := book.Burn(holder, big.NewInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	supply, _ = book.TotalSupply()
	if supply.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("supply = %s, want 60", supply)
	}
}

func TestTokenBookBurnOverdraft(t *testing.T) {
	book := newBook(t)
	holder := [20]byte{0x01}
	if err := book.Mint(holder, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := book.Burn(holder, big.NewInt(11)); err == nil {
		t.Fatalf("expected overdraft rejection")
	}
	balance, _ := book.BalanceOf(holder)
	if balance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("failed burn must not mutate balance")
	}
}

func TestRelayIssuesUniqueIDs(t *testing.T) {
	relay := NewRelay(nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id, err := relay.Dispatch(context.Background(), synth.ActionMint, "src", nil, 300000)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if id == "" || seen[id] {
			t.Fatalf("expected unique non-empty id, got %q", id)
		}
		seen[id] = true
	}
}

func TestRelayHonoursCancelledContext(t *testing.T) {
	relay := NewRelay(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := relay.Dispatch(ctx, synth.ActionRedeem, "src", nil, 300000); err == nil {
		t.Fatalf("expected context error")
	}
}

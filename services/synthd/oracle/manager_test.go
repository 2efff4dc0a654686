package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"dshares/services/synthd/storage"
)

type stubSource struct {
	name  string
	quote Quote
	err   error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(context.Context) (Quote, error) {
	if s.err != nil {
		return Quote{}, s.err
	}
	return s.quote, nil
}

func openTestDB(t *testing.T) *storage.Storage {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	store, err := storage.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ratQuote(num, den int64) Quote {
	return Quote{Rate: big.NewRat(num, den), Timestamp: time.Now()}
}

func TestTickComputesMedian(t *testing.T) {
	store := openTestDB(t)
	sources := []Source{
		&stubSource{name: "a", quote: ratQuote(240, 1)},
		&stubSource{name: "b", quote: ratQuote(250, 1)},
		&stubSource{name: "c", quote: ratQuote(260, 1)},
	}
	mgr, err := New(store, sources, time.Second, time.Minute, 2)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	price, err := mgr.Price(context.Background())
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(250), big.NewInt(1e18))
	if price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
	snap, err := store.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if len(snap.Feeders) != 3 {
		t.Fatalf("unexpected feeders %v", snap.Feeders)
	}
}

func TestTickEvenFeedCountAveragesMiddle(t *testing.T) {
	store := openTestDB(t)
	sources := []Source{
		&stubSource{name: "a", quote: ratQuote(240, 1)},
		&stubSource{name: "b", quote: ratQuote(260, 1)},
	}
	mgr, err := New(store, sources, time.Second, time.Minute, 2)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	price, err := mgr.Price(context.Background())
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(250), big.NewInt(1e18))
	if price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
}

func TestTickSkipsBadSources(t *testing.T) {
	store := openTestDB(t)
	sources := []Source{
		&stubSource{name: "down", err: fmt.Errorf("connection refused")},
		&stubSource{name: "zero", quote: Quote{Rate: big.NewRat(0, 1), Timestamp: time.Now()}},
		&stubSource{name: "stale", quote: Quote{Rate: big.NewRat(250, 1), Timestamp: time.Now().Add(-time.Hour)}},
		&stubSource{name: "good", quote: ratQuote(250, 1)},
	}
	mgr, err := New(store, sources, time.Second, time.Minute, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	snap, err := store.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if len(snap.Feeders) != 1 || snap.Feeders[0] != "good" {
		t.Fatalf("unexpected feeders %v", snap.Feeders)
	}
}

func TestTickInsufficientFeeds(t *testing.T) {
	store := openTestDB(t)
	sources := []Source{
		&stubSource{name: "down", err: fmt.Errorf("connection refused")},
		&stubSource{name: "good", quote: ratQuote(250, 1)},
	}
	mgr, err := New(store, sources, time.Second, time.Minute, 2)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err == nil {
		t.Fatalf("expected insufficient feeds error")
	}
	if _, err := mgr.Price(context.Background()); err == nil {
		t.Fatalf("expected price error with no aggregate")
	}
}

func TestPriceFractionalMedian(t *testing.T) {
	store := openTestDB(t)
	// 250.5 dollars per token.
	sources := []Source{&stubSource{name: "a", quote: ratQuote(501, 2)}}
	mgr, err := New(store, sources, time.Second, time.Minute, 1)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	price, err := mgr.Price(context.Background())
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want, _ := new(big.Int).SetString("250500000000000000000", 10)
	if price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
}

package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"dshares/native/synth"
	"dshares/services/synthd/storage"
)

// Quote is a single price observation from an upstream feed, expressed in
// settlement currency per token.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
}

// Source resolves a quote for the tracked asset.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Quote, error)
}

// Manager orchestrates periodic aggregation across configured sources and
// serves the latest median to the issuance engine as its PriceOracle.
type Manager struct {
	logger   *log.Logger
	storage  *storage.Storage
	sources  []Source
	minFeeds int
	maxAge   time.Duration
	interval time.Duration
	once     sync.Once

	mu       sync.RWMutex
	latest   *big.Rat
	latestAt time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New constructs a manager instance.
func New(store *storage.Storage, sources []Source, interval, maxAge time.Duration, minFeeds int, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	if minFeeds <= 0 {
		minFeeds = 1
	}
	mgr := &Manager{
		logger:   log.Default(),
		storage:  store,
		sources:  append([]Source{}, sources...),
		interval: interval,
		maxAge:   maxAge,
		minFeeds: minFeeds,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, periodically polling upstream feeds until the context is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Printf("synthd: oracle manager started with %d sources", len(m.sources))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Printf("synthd: tick error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single aggregation cycle.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	now := time.Now()
	rates := make([]*big.Rat, 0, len(m.sources))
	feeders := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		if src == nil {
			continue
		}
		quote, err := src.Fetch(ctx)
		if err != nil {
			m.logger.Printf("synthd: source %s failed: %v", src.Name(), err)
			continue
		}
		if quote.Rate == nil || quote.Rate.Sign() <= 0 {
			m.logger.Printf("synthd: source %s returned invalid rate", src.Name())
			continue
		}
		if quote.Timestamp.After(now.Add(5 * time.Second)) {
			m.logger.Printf("synthd: source %s produced future timestamp", src.Name())
			continue
		}
		if m.maxAge > 0 && quote.Timestamp.Before(now.Add(-m.maxAge)) {
			m.logger.Printf("synthd: source %s quote expired", src.Name())
			continue
		}
		feeders = append(feeders, src.Name())
		rates = append(rates, new(big.Rat).Set(quote.Rate))
		if err := m.storage.RecordSample(ctx, src.Name(), quote.Rate, quote.Timestamp, now); err != nil {
			m.logger.Printf("synthd: record sample: %v", err)
		}
	}
	if len(rates) < m.minFeeds {
		return fmt.Errorf("insufficient oracle feeds: %d of %d", len(rates), m.minFeeds)
	}
	median := computeMedian(rates)
	if median == nil || median.Sign() <= 0 {
		return fmt.Errorf("median computation failed")
	}
	proof := proofID(feeders, now)
	if err := m.storage.RecordSnapshot(ctx, median.FloatString(18), feeders, proof, now); err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	m.mu.Lock()
	m.latest = median
	m.latestAt = now
	m.mu.Unlock()
	return nil
}

// Price implements the issuance engine's PriceOracle: the latest median
// scaled to fixed-point wei. A missing or stale aggregate is an error so the
// engine never prices against dead feeds.
func (m *Manager) Price(ctx context.Context) (*big.Int, error) {
	if m == nil {
		return nil, fmt.Errorf("manager not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	latest := m.latest
	latestAt := m.latestAt
	m.mu.RUnlock()
	if latest == nil {
		return nil, fmt.Errorf("no price aggregate available")
	}
	if m.maxAge > 0 && time.Since(latestAt) > m.maxAge {
		return nil, fmt.Errorf("price aggregate stale: observed %s ago", time.Since(latestAt).Truncate(time.Second))
	}
	scaled := new(big.Int).Mul(latest.Num(), synth.PrecisionWei)
	return scaled.Quo(scaled, latest.Denom()), nil
}

func computeMedian(rates []*big.Rat) *big.Rat {
	if len(rates) == 0 {
		return nil
	}
	sorted := make([]*big.Rat, 0, len(rates))
	for _, r := range rates {
		if r == nil {
			continue
		}
		sorted = append(sorted, new(big.Rat).Set(r))
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}

func proofID(feeders []string, ts time.Time) string {
	digest := sha256.New()
	digest.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	sorted := append([]string{}, feeders...)
	sort.Strings(sorted)
	for _, f := range sorted {
		digest.Write([]byte(strings.ToLower(strings.TrimSpace(f))))
	}
	return hex.EncodeToString(digest.Sum(nil))
}

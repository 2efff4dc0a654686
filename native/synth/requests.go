package synth

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// Storage abstracts the subset of state manager functionality required by
// the request and withdrawal ledgers.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

type storedRequest struct {
	ID            string
	Action        string
	Amount        string
	Requester     [20]byte
	Status        string
	CreatedAt     uint64
	SettledAmount string
}

type requestIndexEntry struct {
	ID        string
	CreatedAt uint64
}

// RequestLedger persists request records in the underlying key-value store.
// Records are append-only: a stored id is never reused and never deleted.
type RequestLedger struct {
	store Storage
	clock func() time.Time
}

// NewRequestLedger constructs a ledger bound to the provided storage backend.
func NewRequestLedger(store Storage) *RequestLedger {
	return &RequestLedger{store: store, clock: time.Now}
}

// SetClock overrides the time source (primarily for deterministic testing).
func (l *RequestLedger) SetClock(clock func() time.Time) {
	if l == nil || clock == nil {
		return
	}
	l.clock = clock
}

// Put stores the request record, enforcing unique identifiers. The external
// dispatcher owns id uniqueness; this guard catches transport misbehaviour.
func (l *RequestLedger) Put(record *Request) error {
	if l == nil {
		return fmt.Errorf("request ledger not initialised")
	}
	if record == nil {
		return fmt.Errorf("request ledger: record must not be nil")
	}
	key := requestKey(record.ID)
	if len(key) == len(requestRecordPrefix) {
		return fmt.Errorf("request ledger: id required")
	}
	if !record.Action.Valid() {
		return fmt.Errorf("request ledger: %w: %q", ErrUnknownAction, record.Action)
	}
	var existing storedRequest
	ok, err := l.store.KVGet(key, &existing)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("request ledger: request %s already exists", strings.TrimSpace(record.ID))
	}
	stored := toStoredRequest(record)
	if stored.CreatedAt == 0 {
		now := l.clock().UTC().Unix()
		if now > 0 {
			stored.CreatedAt = uint64(now)
		}
	}
	if stored.Status == "" {
		stored.Status = string(StatusPending)
	}
	if err := l.store.KVPut(key, stored); err != nil {
		return err
	}
	if err := l.store.KVPut(lastRequestKey, stored.ID); err != nil {
		return err
	}
	entry := requestIndexEntry{ID: stored.ID, CreatedAt: stored.CreatedAt}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return l.store.KVAppend(requestIndexKey, encoded)
}

// Get retrieves a request by identifier. A missing id yields
// ErrRequestNotFound; callers must treat that as fatal for the callback, not
// as an implicit default.
func (l *RequestLedger) Get(id string) (*Request, error) {
	if l == nil {
		return nil, fmt.Errorf("request ledger not initialised")
	}
	var stored storedRequest
	ok, err := l.store.KVGet(requestKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, strings.TrimSpace(id))
	}
	return fromStoredRequest(&stored)
}

// LastID returns the identifier of the most recently issued request.
func (l *RequestLedger) LastID() (string, error) {
	if l == nil {
		return "", fmt.Errorf("request ledger not initialised")
	}
	var id string
	ok, err := l.store.KVGet(lastRequestKey, &id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return id, nil
}

// SetTerminal transitions the request into the supplied terminal status,
// optionally recording the settled amount. A request already terminal fails
// with ErrDuplicateFulfillment and remains unchanged.
func (l *RequestLedger) SetTerminal(id string, status RequestStatus, settled *big.Int) error {
	if l == nil {
		return fmt.Errorf("request ledger not initialised")
	}
	if !status.Terminal() {
		return fmt.Errorf("request ledger: %q is not a terminal status", status)
	}
	key := requestKey(id)
	var stored storedRequest
	ok, err := l.store.KVGet(key, &stored)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, strings.TrimSpace(id))
	}
	if RequestStatus(stored.Status).Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrDuplicateFulfillment, strings.TrimSpace(id), stored.Status)
	}
	stored.Status = string(status)
	if settled != nil {
		stored.SettledAmount = settled.String()
	}
	return l.store.KVPut(key, stored)
}

// List returns a paginated view of the audit trail ordered by creation
// time. The cursor is the id of the last item from the previous page.
func (l *RequestLedger) List(cursor string, limit int) ([]*Request, string, error) {
	if l == nil {
		return nil, "", fmt.Errorf("request ledger not initialised")
	}
	if limit <= 0 {
		limit = 50
	}
	entries, err := l.loadIndex()
	if err != nil {
		return nil, "", err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt == entries[j].CreatedAt {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt < entries[j].CreatedAt
	})
	startIdx := 0
	trimmedCursor := strings.TrimSpace(cursor)
	if trimmedCursor != "" {
		for i, entry := range entries {
			if entry.ID == trimmedCursor {
				startIdx = i + 1
				break
			}
		}
	}
	records := make([]*Request, 0, minInt(limit, len(entries)-startIdx))
	nextCursor := ""
	for i := startIdx; i < len(entries) && len(records) < limit; i++ {
		record, err := l.Get(entries[i].ID)
		if err != nil {
			return nil, "", err
		}
		records = append(records, record)
		nextCursor = entries[i].ID
	}
	if startIdx+len(records) >= len(entries) {
		nextCursor = ""
	}
	return records, nextCursor, nil
}

func (l *RequestLedger) loadIndex() ([]requestIndexEntry, error) {
	var raw [][]byte
	if err := l.store.KVGetList(requestIndexKey, &raw); err != nil {
		return nil, err
	}
	entries := make([]requestIndexEntry, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 0 {
			continue
		}
		var entry requestIndexEntry
		if err := rlp.DecodeBytes(encoded, &entry); err != nil {
			return nil, err
		}
		if strings.TrimSpace(entry.ID) == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func toStoredRequest(record *Request) storedRequest {
	stored := storedRequest{}
	if record == nil {
		return stored
	}
	stored.ID = strings.TrimSpace(record.ID)
	stored.Action = string(record.Action)
	if record.Amount != nil {
		stored.Amount = record.Amount.String()
	}
	stored.Requester = record.Requester
	stored.Status = string(record.Status)
	if record.CreatedAt > 0 {
		stored.CreatedAt = uint64(record.CreatedAt)
	}
	if record.SettledAmount != nil {
		stored.SettledAmount = record.SettledAmount.String()
	}
	return stored
}

func fromStoredRequest(stored *storedRequest) (*Request, error) {
	if stored == nil {
		return nil, fmt.Errorf("request ledger: nil stored record")
	}
	createdAt, err := uint64ToInt64(stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("request ledger: created at overflow: %w", err)
	}
	record := &Request{
		ID:        stored.ID,
		Action:    RequestAction(stored.Action),
		Requester: stored.Requester,
		Status:    RequestStatus(stored.Status),
		CreatedAt: createdAt,
	}
	record.Amount, err = parseStoredAmount(stored.Amount)
	if err != nil {
		return nil, fmt.Errorf("request ledger: invalid amount %q", stored.Amount)
	}
	if strings.TrimSpace(stored.SettledAmount) != "" {
		record.SettledAmount, err = parseStoredAmount(stored.SettledAmount)
		if err != nil {
			return nil, fmt.Errorf("request ledger: invalid settled amount %q", stored.SettledAmount)
		}
	}
	return record, nil
}

func parseStoredAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64 range", value)
	}
	return int64(value), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

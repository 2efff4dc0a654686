package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"dshares/storage"
)

// Manager provides typed key-value access over a raw storage backend. Values
// are RLP encoded so records remain byte-stable across releases, and list
// keys accumulate append-only entries for audit indexes.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVPut encodes the value with RLP and stores it under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode value: %w", err)
	}
	return m.db.Put(key, encoded)
}

// KVGet decodes the stored value into out, reporting whether the key exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: manager not initialised")
	}
	encoded, err := m.db.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, fmt.Errorf("state: decode value: %w", err)
	}
	return true, nil
}

// KVAppend appends the raw entry to the list stored at key.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	var entries [][]byte
	encoded, err := m.db.Get(key)
	if err != nil {
		if !storage.IsNotFound(err) {
			return err
		}
	} else if len(encoded) > 0 {
		if err := rlp.DecodeBytes(encoded, &entries); err != nil {
			return fmt.Errorf("state: decode list: %w", err)
		}
	}
	entries = append(entries, append([]byte(nil), value...))
	updated, err := rlp.EncodeToBytes(entries)
	if err != nil {
		return fmt.Errorf("state: encode list: %w", err)
	}
	return m.db.Put(key, updated)
}

// KVGetList decodes the list stored at key into out. Missing keys decode to
// an empty list.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	encoded, err := m.db.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			empty, encErr := rlp.EncodeToBytes([][]byte{})
			if encErr != nil {
				return encErr
			}
			return rlp.DecodeBytes(empty, out)
		}
		return err
	}
	return rlp.DecodeBytes(encoded, out)
}

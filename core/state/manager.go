package state

import (
	"errors"

	"paygrid/storage"
)

// Manager mediates every read and write of durable payment records. Records
// are addressed by keccak-derived keys and serialized with RLP; the manager
// is oblivious to business rules, which live in native/payments.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager on top of the supplied key-value store.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte) ([]byte, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	value, err := m.db.Get(key)
	if err != nil {
		return nil, false
	}
	return value, true
}

func (m *Manager) put(key, value []byte) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	return m.db.Put(key, value)
}

func (m *Manager) delete(key []byte) error {
	if m == nil || m.db == nil {
		return errors.New("state: database not configured")
	}
	return m.db.Delete(key)
}

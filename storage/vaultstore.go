package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"sudovault/native/vault"
)

var vaultStateKey = []byte("vault/state")

// ErrVaultNotInitialized is returned by VaultGet before any state was stored.
var ErrVaultNotInitialized = errors.New("storage: vault state not initialized")

// VaultStore persists the vault state as a single JSON document. Writes are
// serialized; the engine is the only writer but read-only RPC handlers load
// concurrently.
type VaultStore struct {
	mu sync.RWMutex
	db Database
}

func NewVaultStore(db Database) *VaultStore {
	return &VaultStore{db: db}
}

// Init stores the genesis state if none exists yet. Returns true when the
// store was freshly initialized.
func (s *VaultStore) Init(st *vault.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Get(vaultStateKey)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("storage: read vault state: %w", err)
	}
	if err := s.write(st); err != nil {
		return false, err
	}
	return true, nil
}

func (s *VaultStore) VaultGet() (*vault.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(vaultStateKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrVaultNotInitialized
		}
		return nil, fmt.Errorf("storage: read vault state: %w", err)
	}
	st := new(vault.State)
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("storage: decode vault state: %w", err)
	}
	return st, nil
}

func (s *VaultStore) VaultPut(st *vault.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(st)
}

func (s *VaultStore) write(st *vault.State) error {
	if st == nil {
		return errors.New("storage: nil vault state")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("storage: encode vault state: %w", err)
	}
	if err := s.db.Put(vaultStateKey, raw); err != nil {
		return fmt.Errorf("storage: write vault state: %w", err)
	}
	return nil
}

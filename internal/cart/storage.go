package cart

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Snapshot is the durable cart state, one JSON document per visitor. It is
// the only thing that survives between the visitor's page loads and a remote
// reconciliation.
type Snapshot struct {
	Items       []Item `json:"items"`
	CartID      string `json:"cartId"`
	CheckoutURL string `json:"checkoutUrl"`
}

// Storage persists cart snapshots. Load returns nil when nothing usable is
// stored, a corrupt snapshot is treated the same as a missing one.
type Storage interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
	Clear() error
}

// FileStorage keeps the snapshot in a JSON file, written atomically.
type FileStorage struct {
	path string
}

// NewFileStorage creates the parent directory with owner-only permissions.
func NewFileStorage(path string) (*FileStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cart storage directory: %w", err)
	}
	return &FileStorage{path: path}, nil
}

func (s *FileStorage) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cart snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Warn().Str("path", s.path).Err(err).Msg("discarding corrupt cart snapshot")
		return nil, nil
	}

	return &snap, nil
}

func (s *FileStorage) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}

	// Write to temp file first, then rename for atomicity.
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write cart snapshot: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save cart snapshot: %w", err)
	}

	return nil
}

func (s *FileStorage) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cart snapshot: %w", err)
	}
	return nil
}

// MemoryStorage is an in-memory Storage for tests.
type MemoryStorage struct {
	mu   sync.Mutex
	snap *Snapshot
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	copied := *s.snap
	copied.Items = append([]Item(nil), s.snap.Items...)
	return &copied, nil
}

func (s *MemoryStorage) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *snap
	copied.Items = append([]Item(nil), snap.Items...)
	s.snap = &copied
	return nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}

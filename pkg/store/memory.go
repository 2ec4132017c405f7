package store

import (
	"sync"

	"github.com/psantana5/shotread/pkg/models"
)

// MemoryStore is an in-memory implementation of the store
type MemoryStore struct {
	items []models.PracticeItem // insertion order
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// ListItems returns every item in insertion order
func (s *MemoryStore) ListItems() (models.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(models.Catalog{}, s.items...), nil
}

// GetItem retrieves an item by ID
func (s *MemoryStore) GetItem(id string) (*models.PracticeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			item := item
			return &item, nil
		}
	}
	return nil, ErrItemNotFound
}

// PutItem adds or replaces an item
func (s *MemoryStore) PutItem(item models.PracticeItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i] = item
			return nil
		}
	}
	s.items = append(s.items, item)
	return nil
}

// DeleteItem removes an item
func (s *MemoryStore) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// ReplaceCatalog swaps the whole catalog atomically
func (s *MemoryStore) ReplaceCatalog(catalog models.Catalog) error {
	if err := catalog.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]models.PracticeItem(nil), catalog...)
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

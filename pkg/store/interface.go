package store

import (
	"errors"

	"github.com/psantana5/shotread/pkg/models"
)

// ErrItemNotFound is returned for unknown item ids
var ErrItemNotFound = errors.New("item not found")

// Store persists the practice catalog. MemoryStore and SQLiteStore
// implement it.
type Store interface {
	ListItems() (models.Catalog, error)
	GetItem(id string) (*models.PracticeItem, error)
	PutItem(item models.PracticeItem) error
	DeleteItem(id string) error
	ReplaceCatalog(catalog models.Catalog) error

	Close() error
}

// Seed fills an empty store with catalog and returns what the store holds
// afterwards.
func Seed(s Store, catalog models.Catalog) (models.Catalog, error) {
	items, err := s.ListItems()
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		return items, nil
	}
	if err := s.ReplaceCatalog(catalog); err != nil {
		return nil, err
	}
	return s.ListItems()
}

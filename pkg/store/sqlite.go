package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/shotread/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the store
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens or creates the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL with a busy timeout lets catalog commands run while a server is up
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		answer TEXT NOT NULL,
		start_offset REAL NOT NULL,
		stop_offset REAL NOT NULL,
		description TEXT,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_position ON items(position);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ListItems returns every item in insertion order
func (s *SQLiteStore) ListItems() (models.Catalog, error) {
	rows, err := s.db.Query(`SELECT id, answer, start_offset, stop_offset, description FROM items ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	catalog := models.Catalog{}
	for rows.Next() {
		var item models.PracticeItem
		var desc sql.NullString
		if err := rows.Scan(&item.ID, &item.Answer, &item.Start, &item.Stop, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Description = desc.String
		catalog = append(catalog, item)
	}
	return catalog, rows.Err()
}

// GetItem retrieves an item by ID
func (s *SQLiteStore) GetItem(id string) (*models.PracticeItem, error) {
	var item models.PracticeItem
	var desc sql.NullString
	err := s.db.QueryRow(`SELECT id, answer, start_offset, stop_offset, description FROM items WHERE id = ?`, id).
		Scan(&item.ID, &item.Answer, &item.Start, &item.Stop, &desc)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Description = desc.String
	return &item, nil
}

// PutItem adds or replaces an item. A replaced item keeps its position.
func (s *SQLiteStore) PutItem(item models.PracticeItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO items (id, answer, start_offset, stop_offset, description, position)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM items))
		ON CONFLICT(id) DO UPDATE SET
			answer = excluded.answer,
			start_offset = excluded.start_offset,
			stop_offset = excluded.stop_offset,
			description = excluded.description
	`, item.ID, item.Answer, item.Start, item.Stop, item.Description)
	return err
}

// DeleteItem removes an item
func (s *SQLiteStore) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ReplaceCatalog swaps the whole catalog in one transaction
func (s *SQLiteStore) ReplaceCatalog(catalog models.Catalog) error {
	if err := catalog.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM items`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO items (id, answer, start_offset, stop_offset, description, position) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, item := range catalog {
		if _, err := stmt.Exec(item.ID, item.Answer, item.Start, item.Stop, item.Description, i); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

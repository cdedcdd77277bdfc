package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"pb-watcher/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the hierarchical watchlist store. Rows are keyed by
// (app_id, owner_id, item_id) with per-owner channel handles held in a
// settings table. It serves both as the task source read fresh every cycle
// and as the state writer that commits transitions atomically per item.
type Store struct {
	conn  *sql.DB
	appID string
}

// New opens (or creates) the SQLite database at dbPath, scoped to appID.
func New(dbPath, appID string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{conn: conn, appID: appID}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS watchlist (
		app_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		target_url TEXT NOT NULL,
		title TEXT,
		last_known_available BOOLEAN NOT NULL DEFAULT 0,
		last_known_status TEXT,
		last_checked DATETIME,
		last_notified_available BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (app_id, owner_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		app_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		channel_handle TEXT,
		PRIMARY KEY (app_id, owner_id)
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// AddItem registers a new watched item for an owner and returns its
// generated item ID. The initial availability seeds the transition baseline
// so the first sweep does not fire a notification for an item that was
// already in stock when subscribed.
func (s *Store) AddItem(ownerID, targetURL, title string, available bool) (string, error) {
	itemID, err := newItemID()
	if err != nil {
		return "", err
	}
	_, err = s.conn.Exec(
		`INSERT INTO watchlist (app_id, owner_id, item_id, target_url, title, last_known_available, last_notified_available)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.appID, ownerID, itemID, targetURL, title, available, available,
	)
	if err != nil {
		return "", fmt.Errorf("adding item for owner %s: %w", ownerID, err)
	}
	return itemID, nil
}

// SetChannel stores an owner's notification channel handle.
func (s *Store) SetChannel(ownerID, channelHandle string) error {
	_, err := s.conn.Exec(
		`INSERT OR REPLACE INTO settings (app_id, owner_id, channel_handle) VALUES (?, ?, ?)`,
		s.appID, ownerID, channelHandle,
	)
	if err != nil {
		return fmt.Errorf("setting channel for owner %s: %w", ownerID, err)
	}
	return nil
}

// ListOwners returns every owner that currently has at least one watched
// item. Order is unspecified.
func (s *Store) ListOwners() ([]string, error) {
	rows, err := s.conn.Query(
		`SELECT DISTINCT owner_id FROM watchlist WHERE app_id = ?`, s.appID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scanning owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// ListItems returns all watched items for one owner.
func (s *Store) ListItems(ownerID string) ([]models.WatchedItem, error) {
	rows, err := s.conn.Query(
		`SELECT owner_id, item_id, target_url, title, last_known_available, last_known_status, last_checked, last_notified_available, created_at
		 FROM watchlist WHERE app_id = ? AND owner_id = ?`,
		s.appID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var items []models.WatchedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem returns a single watched item.
func (s *Store) GetItem(ownerID, itemID string) (*models.WatchedItem, error) {
	row := s.conn.QueryRow(
		`SELECT owner_id, item_id, target_url, title, last_known_available, last_known_status, last_checked, last_notified_available, created_at
		 FROM watchlist WHERE app_id = ? AND owner_id = ? AND item_id = ?`,
		s.appID, ownerID, itemID,
	)
	item, err := scanItem(row)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ResolveChannel looks up an owner's channel handle. An owner without a
// configured handle is reported as absent, not as an error.
func (s *Store) ResolveChannel(ownerID string) (string, bool, error) {
	var handle sql.NullString
	err := s.conn.QueryRow(
		`SELECT channel_handle FROM settings WHERE app_id = ? AND owner_id = ?`,
		s.appID, ownerID,
	).Scan(&handle)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolving channel for owner %s: %w", ownerID, err)
	}
	if !handle.Valid || handle.String == "" {
		return "", false, nil
	}
	return handle.String, true, nil
}

// CommitTransition persists a snapshot after an availability flip. The
// availability, status text, timestamp and notified flag all move in a single
// statement, so a concurrent reader never sees partial fields.
func (s *Store) CommitTransition(item models.WatchedItem, snap models.ProductSnapshot) error {
	_, err := s.conn.Exec(
		`UPDATE watchlist
		 SET last_known_available = ?, last_known_status = ?, title = ?, last_checked = CURRENT_TIMESTAMP, last_notified_available = ?
		 WHERE app_id = ? AND owner_id = ? AND item_id = ?`,
		snap.Available, snap.StatusText, snap.Title, snap.Available,
		s.appID, item.OwnerID, item.ItemID,
	)
	if err != nil {
		return fmt.Errorf("committing transition for item %s/%s: %w", item.OwnerID, item.ItemID, err)
	}
	return nil
}

// TouchChecked refreshes only the last-checked timestamp, used for cycles
// where availability did not move.
func (s *Store) TouchChecked(item models.WatchedItem) error {
	_, err := s.conn.Exec(
		`UPDATE watchlist SET last_checked = CURRENT_TIMESTAMP WHERE app_id = ? AND owner_id = ? AND item_id = ?`,
		s.appID, item.OwnerID, item.ItemID,
	)
	if err != nil {
		return fmt.Errorf("touching item %s/%s: %w", item.OwnerID, item.ItemID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (models.WatchedItem, error) {
	var (
		item        models.WatchedItem
		title       sql.NullString
		status      sql.NullString
		lastChecked sql.NullTime
		createdAt   sql.NullTime
	)
	err := row.Scan(
		&item.OwnerID, &item.ItemID, &item.TargetURL, &title,
		&item.LastKnownAvailable, &status, &lastChecked,
		&item.LastNotifiedAvailable, &createdAt,
	)
	if err != nil {
		return models.WatchedItem{}, fmt.Errorf("scanning item: %w", err)
	}
	if title.Valid {
		item.DisplayTitle = title.String
	}
	if status.Valid {
		item.LastKnownStatusText = status.String
	}
	if lastChecked.Valid {
		item.LastCheckedAt = lastChecked.Time
	}
	if createdAt.Valid {
		item.CreatedAt = createdAt.Time
	}
	return item, nil
}

func newItemID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating item id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

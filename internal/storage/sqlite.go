// Package storage implements the ledger-facing capabilities (purchase source,
// category source, watermark store) on SQLite, plus a Redis watermark variant.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage keeps purchases, categories and pipeline properties in a
// single SQLite database. It implements service.PurchaseSource,
// service.CategorySource and service.WatermarkStore.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS purchases (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			date_ms INTEGER NOT NULL,
			amount REAL NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			quantity REAL NOT NULL DEFAULT 1,
			receipt_id TEXT,
			category_id TEXT,
			updated_on_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS purchases_updated_on_idx ON purchases (updated_on_ms)`,
		`CREATE TABLE IF NOT EXISTS categories (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS properties (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// SavePurchases inserts or replaces purchases.
func (s *SQLiteStorage) SavePurchases(ctx context.Context, purchases []model.Purchase) error {
	query := `
		INSERT INTO purchases (id, owner, name, date_ms, amount, currency, quantity, receipt_id, category_id, updated_on_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			name = excluded.name,
			date_ms = excluded.date_ms,
			amount = excluded.amount,
			currency = excluded.currency,
			quantity = excluded.quantity,
			receipt_id = excluded.receipt_id,
			category_id = excluded.category_id,
			updated_on_ms = excluded.updated_on_ms`

	for _, p := range purchases {
		_, err := s.db.ExecContext(ctx, query,
			p.ID, p.Owner, p.Name, p.Date.UnixMilli(), p.Amount, p.Currency, p.Quantity,
			nullable(p.ReceiptID), nullable(p.CategoryID), p.UpdatedOn.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to save purchase %s: %w", p.ID, err)
		}
	}
	return nil
}

// UpdatePurchaseCategory persists a category assignment.
func (s *SQLiteStorage) UpdatePurchaseCategory(ctx context.Context, purchaseID, categoryID string) error {
	now := time.Now().UnixMilli()
	result, err := s.db.ExecContext(ctx,
		`UPDATE purchases SET category_id = ?, updated_on_ms = ? WHERE id = ?`,
		nullable(categoryID), now, purchaseID)
	if err != nil {
		return fmt.Errorf("failed to update purchase category: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("purchase %s: %w", purchaseID, common.ErrNotFound)
	}
	return nil
}

// FindUpdatedAfter returns categorized purchases updated strictly after t.
func (s *SQLiteStorage) FindUpdatedAfter(ctx context.Context, t time.Time) ([]model.Purchase, error) {
	query := `
		SELECT id, owner, name, date_ms, amount, currency, quantity, receipt_id, category_id, updated_on_ms
		FROM purchases
		WHERE updated_on_ms > ? AND category_id IS NOT NULL
		ORDER BY updated_on_ms`

	rows, err := s.db.QueryContext(ctx, query, t.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

// FindByIDs returns the purchases matching ids; unknown ids are skipped.
func (s *SQLiteStorage) FindByIDs(ctx context.Context, ids []string) ([]model.Purchase, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf(`
		SELECT id, owner, name, date_ms, amount, currency, quantity, receipt_id, category_id, updated_on_ms
		FROM purchases
		WHERE id IN (%s)
		ORDER BY date_ms`, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	return scanPurchases(rows)
}

// SaveCategory inserts or replaces a category.
func (s *SQLiteStorage) SaveCategory(ctx context.Context, c model.PurchaseCategory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, owner, name) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, name = excluded.name`,
		c.ID, c.Owner, c.Name)
	if err != nil {
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

// Categories returns all categories visible to the owner.
func (s *SQLiteStorage) Categories(ctx context.Context, owner string) ([]model.PurchaseCategory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name FROM categories WHERE owner = ? ORDER BY name`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []model.PurchaseCategory
	for rows.Next() {
		var c model.PurchaseCategory
		if err := rows.Scan(&c.ID, &c.Owner, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	slog.Debug("retrieved categories", "owner", owner, "count", len(categories))
	return categories, nil
}

// Read returns the persisted watermark for key, if any.
func (s *SQLiteStorage) Read(ctx context.Context, key string) (time.Time, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM properties WHERE name = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse watermark %q: %w", value, err)
	}
	return t, true, nil
}

// Write persists the watermark for key.
func (s *SQLiteStorage) Write(ctx context.Context, key string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		key, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}

func scanPurchases(rows *sql.Rows) ([]model.Purchase, error) {
	var purchases []model.Purchase
	for rows.Next() {
		var (
			p          model.Purchase
			dateMS     int64
			updatedMS  int64
			receiptID  sql.NullString
			categoryID sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Owner, &p.Name, &dateMS, &p.Amount, &p.Currency,
			&p.Quantity, &receiptID, &categoryID, &updatedMS); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		p.Date = time.UnixMilli(dateMS).UTC()
		p.UpdatedOn = time.UnixMilli(updatedMS).UTC()
		p.ReceiptID = receiptID.String
		p.CategoryID = categoryID.String
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}
	return purchases, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

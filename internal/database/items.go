package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gearshare/internal/models"
)

const itemColumns = `id, category, owner_id, name, description, currency, day_rate, week_rate,
	month_rate, pickup_location, attributes, is_active, created_at, updated_at`

// UpsertItem writes the catalog row and refreshes the snapshot cache.
func (db *DB) UpsertItem(ctx context.Context, item *models.ItemSnapshot) error {
	attrs, err := json.Marshal(item.Attributes)
	if err != nil {
		return fmt.Errorf("encode item attributes: %w", err)
	}
	if item.Attributes == nil {
		attrs = []byte("{}")
	}

	query := `INSERT INTO items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                category = excluded.category,
                owner_id = excluded.owner_id,
                name = excluded.name,
                description = excluded.description,
                currency = excluded.currency,
                day_rate = excluded.day_rate,
                week_rate = excluded.week_rate,
                month_rate = excluded.month_rate,
                pickup_location = excluded.pickup_location,
                attributes = excluded.attributes,
                is_active = excluded.is_active,
                updated_at = excluded.updated_at`
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.Currency = strings.ToUpper(item.Currency)

	_, err = db.ExecContext(ctx, query,
		item.ID,
		item.Category,
		item.OwnerID,
		item.Name,
		item.Description,
		item.Currency,
		item.DayRate,
		item.WeekRate,
		item.MonthRate,
		item.PickupLocation,
		string(attrs),
		item.IsActive,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	db.mu.Lock()
	db.itemsCache[item.ID] = *item
	db.mu.Unlock()
	return nil
}

// GetItemSnapshot reads through the cache. Inactive items are reported as not found.
func (db *DB) GetItemSnapshot(ctx context.Context, itemID int64) (*models.ItemSnapshot, error) {
	db.mu.RLock()
	cached, ok := db.itemsCache[itemID]
	db.mu.RUnlock()
	if ok {
		if !cached.IsActive {
			return nil, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
		}
		return &cached, nil
	}

	row := db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, itemID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	db.mu.Lock()
	db.itemsCache[item.ID] = *item
	db.mu.Unlock()

	if !item.IsActive {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	return item, nil
}

// ListItems returns active items, optionally narrowed to one category.
func (db *DB) ListItems(ctx context.Context, category string) ([]models.ItemSnapshot, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE is_active = 1`
	var args []interface{}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []models.ItemSnapshot
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*models.ItemSnapshot, error) {
	var (
		item  models.ItemSnapshot
		attrs string
	)
	err := row.Scan(
		&item.ID, &item.Category, &item.OwnerID, &item.Name, &item.Description, &item.Currency,
		&item.DayRate, &item.WeekRate, &item.MonthRate, &item.PickupLocation, &attrs,
		&item.IsActive, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &item.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes of item %d: %w", item.ID, err)
		}
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}

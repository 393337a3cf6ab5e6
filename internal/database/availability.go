package database

import (
	"context"
	"database/sql"
	"fmt"

	"gearshare/internal/models"
)

func (db *DB) GetAvailability(ctx context.Context, itemID int64) ([]models.Interval, error) {
	return queryAvailability(ctx, db.DB, itemID)
}

// ReplaceAvailability deletes and reinserts the item's intervals in one transaction.
func (db *DB) ReplaceAvailability(ctx context.Context, itemID int64, intervals []models.Interval) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := writeAvailability(ctx, tx, itemID, intervals); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateAvailability loads the item's intervals, applies fn and writes the
// result back inside a single transaction. An error from fn aborts the write.
func (db *DB) UpdateAvailability(ctx context.Context, itemID int64, fn func([]models.Interval) ([]models.Interval, error)) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := queryAvailability(ctx, tx, itemID)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if err := writeAvailability(ctx, tx, itemID, next); err != nil {
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryAvailability(ctx context.Context, q queryer, itemID int64) ([]models.Interval, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT start_at, end_at FROM availability WHERE item_id = ? ORDER BY start_at`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability: %w", err)
	}
	defer rows.Close()

	intervals := []models.Interval{}
	for rows.Next() {
		var iv models.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("failed to scan interval: %w", err)
		}
		intervals = append(intervals, models.NewInterval(iv.Start, iv.End))
	}
	return intervals, rows.Err()
}

func writeAvailability(ctx context.Context, tx *sql.Tx, itemID int64, intervals []models.Interval) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM availability WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("failed to clear availability: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO availability (item_id, start_at, end_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare availability insert: %w", err)
	}
	defer stmt.Close()

	for _, iv := range intervals {
		if _, err := stmt.ExecContext(ctx, itemID, iv.Start.UTC(), iv.End.UTC()); err != nil {
			return fmt.Errorf("failed to insert interval %s: %w", iv, err)
		}
	}
	return nil
}

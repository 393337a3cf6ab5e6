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

const bookingColumns = `id, item_id, category, item_name, pickup_location, renter_id, owner_id,
	renter_snapshot, owner_snapshot, start_at, end_at, owner_price, owner_fee, owner_currency,
	renter_price, renter_fee, renter_currency, preauth_id, captured_at, status, requested_at,
	responded_at, renter_ended_at, owner_ended_at, payout_at, released_at, updated_at, version`

// CreateBooking inserts the immutable booking snapshot and assigns its id.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	renter, err := json.Marshal(booking.Renter)
	if err != nil {
		return fmt.Errorf("encode renter snapshot: %w", err)
	}
	owner, err := json.Marshal(booking.Owner)
	if err != nil {
		return fmt.Errorf("encode owner snapshot: %w", err)
	}

	query := `INSERT INTO bookings (
				item_id, category, item_name, pickup_location, renter_id, owner_id,
				renter_snapshot, owner_snapshot, start_at, end_at,
				owner_price, owner_fee, owner_currency, renter_price, renter_fee, renter_currency,
				preauth_id, status, requested_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if booking.RequestedAt.IsZero() {
		booking.RequestedAt = now
	}
	result, err := db.ExecContext(ctx, query,
		booking.ItemID,
		booking.Category,
		booking.ItemName,
		booking.PickupLocation,
		booking.RenterID,
		booking.OwnerID,
		string(renter),
		string(owner),
		booking.Start.UTC(),
		booking.End.UTC(),
		booking.OwnerPrice,
		booking.OwnerFee,
		booking.OwnerCurrency,
		booking.RenterPrice,
		booking.RenterFee,
		booking.RenterCurrency,
		nullString(booking.PreauthID),
		booking.Status,
		booking.RequestedAt.UTC(),
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// UpdateBookingWithVersion writes the lifecycle columns guarded by the version
// the caller loaded. Prices and snapshots are never rewritten.
func (db *DB) UpdateBookingWithVersion(ctx context.Context, booking *models.Booking) error {
	query := `UPDATE bookings SET
				status = ?, preauth_id = ?, captured_at = ?, responded_at = ?,
				renter_ended_at = ?, owner_ended_at = ?, payout_at = ?, released_at = ?,
				updated_at = ?, version = version + 1
			  WHERE id = ? AND version = ?`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		booking.Status,
		nullString(booking.PreauthID),
		nullTime(booking.CapturedAt),
		nullTime(booking.RespondedAt),
		nullTime(booking.RenterEndedAt),
		nullTime(booking.OwnerEndedAt),
		nullTime(booking.PayoutAt),
		nullTime(booking.ReleasedAt),
		now,
		booking.ID,
		booking.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	booking.Version++
	booking.UpdatedAt = now
	return nil
}

// ListBookings returns bookings matching the filter ordered by start.
func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ItemID != 0 {
		where = append(where, "item_id = ?")
		args = append(args, filter.ItemID)
	}
	if filter.PartyID != 0 {
		where = append(where, "(renter_id = ? OR owner_id = ?)")
		args = append(args, filter.PartyID, filter.PartyID)
	}
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			ph[i] = "?"
			args = append(args, s)
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if !filter.From.IsZero() {
		where = append(where, "end_at > ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, filter.To.UTC())
	}
	if filter.ByID && filter.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, filter.AfterID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if filter.ByID {
		query += ` ORDER BY id ASC LIMIT ?`
		args = append(args, limit)
	} else {
		query += ` ORDER BY start_at ASC, id ASC LIMIT ? OFFSET ?`
		args = append(args, limit, max(filter.Offset, 0))
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b             models.Booking
		renter, owner string
		preauth       sql.NullString
		captured      sql.NullTime
		responded     sql.NullTime
		renterEnd     sql.NullTime
		ownerEnd      sql.NullTime
		payout        sql.NullTime
		released      sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.ItemID, &b.Category, &b.ItemName, &b.PickupLocation, &b.RenterID, &b.OwnerID,
		&renter, &owner, &b.Start, &b.End, &b.OwnerPrice, &b.OwnerFee, &b.OwnerCurrency,
		&b.RenterPrice, &b.RenterFee, &b.RenterCurrency, &preauth, &captured, &b.Status, &b.RequestedAt,
		&responded, &renterEnd, &ownerEnd, &payout, &released, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(renter), &b.Renter); err != nil {
		return nil, fmt.Errorf("decode renter snapshot of booking %d: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(owner), &b.Owner); err != nil {
		return nil, fmt.Errorf("decode owner snapshot of booking %d: %w", b.ID, err)
	}

	b.PreauthID = preauth.String
	b.Start = b.Start.UTC()
	b.End = b.End.UTC()
	b.RequestedAt = b.RequestedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	b.CapturedAt = timePtr(captured)
	b.RespondedAt = timePtr(responded)
	b.RenterEndedAt = timePtr(renterEnd)
	b.OwnerEndedAt = timePtr(ownerEnd)
	b.PayoutAt = timePtr(payout)
	b.ReleasedAt = timePtr(released)
	return &b, nil
}

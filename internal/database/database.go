package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"gearshare/internal/models"
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger

	mu         sync.RWMutex
	itemsCache map[int64]models.ItemSnapshot
}

// Options tune the sqlite connection.
type Options struct {
	BusyTimeout time.Duration
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	return NewDBWithOptions(path, logger, Options{})
}

func NewDBWithOptions(path string, logger *zerolog.Logger, opts Options) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	// Создаем директорию для БД, если её нет
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on", path, opts.BusyTimeout.Milliseconds())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite допускает одного писателя; одно соединение сериализует транзакции
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:         sqlDB,
		logger:     logger,
		itemsCache: make(map[int64]models.ItemSnapshot),
	}

	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.ensureBookingColumns(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            currency TEXT NOT NULL,
            payment_account_id TEXT NOT NULL DEFAULT '',
            bank_account_id TEXT NOT NULL DEFAULT '',
            buyer_fee_rate REAL NOT NULL DEFAULT 0,
            seller_fee_rate REAL NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS wallets (
            user_id INTEGER NOT NULL,
            currency TEXT NOT NULL,
            wallet_id TEXT NOT NULL,
            PRIMARY KEY (user_id, currency)
        )`,
		`CREATE TABLE IF NOT EXISTS items (
            id INTEGER PRIMARY KEY,
            category TEXT NOT NULL,
            owner_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            currency TEXT NOT NULL,
            day_rate REAL NOT NULL DEFAULT 0,
            week_rate REAL NOT NULL DEFAULT 0,
            month_rate REAL NOT NULL DEFAULT 0,
            pickup_location TEXT NOT NULL DEFAULT '',
            attributes TEXT NOT NULL DEFAULT '{}',
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		// Свободные интервалы: строка = доступный период [start_at, end_at)
		`CREATE TABLE IF NOT EXISTS availability (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            item_id INTEGER NOT NULL,
            start_at DATETIME NOT NULL,
            end_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            item_id INTEGER NOT NULL,
            category TEXT NOT NULL,
            item_name TEXT NOT NULL,
            pickup_location TEXT NOT NULL DEFAULT '',
            renter_id INTEGER NOT NULL,
            owner_id INTEGER NOT NULL,
            renter_snapshot TEXT NOT NULL,
            owner_snapshot TEXT NOT NULL,
            start_at DATETIME NOT NULL,
            end_at DATETIME NOT NULL,
            owner_price REAL NOT NULL,
            owner_fee REAL NOT NULL,
            owner_currency TEXT NOT NULL,
            renter_price REAL NOT NULL,
            renter_fee REAL NOT NULL,
            renter_currency TEXT NOT NULL,
            preauth_id TEXT,
            captured_at DATETIME,
            status TEXT NOT NULL,
            requested_at DATETIME NOT NULL,
            responded_at DATETIME,
            renter_ended_at DATETIME,
            owner_ended_at DATETIME,
            payout_at DATETIME,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_key TEXT NOT NULL UNIQUE,
            event_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            recipient_email TEXT NOT NULL,
            recipient_role TEXT NOT NULL,
            template_data TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_availability_item ON availability(item_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_items_category ON items(category)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_item_id ON bookings(item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_renter_id ON bookings(renter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_owner_id ON bookings(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// ensureBookingColumns adds columns introduced after the bookings table
// was first created: the optimistic-lock version and the release marker.
func (db *DB) ensureBookingColumns() error {
	columns := []struct{ name, ddl string }{
		{"version", "version INTEGER NOT NULL DEFAULT 1"},
		{"released_at", "released_at DATETIME"},
	}
	for _, c := range columns {
		_, err := db.Exec(`ALTER TABLE bookings ADD COLUMN ` + c.ddl)
		if err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("failed to add bookings.%s: %w", c.name, err)
		}
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

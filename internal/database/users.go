package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gearshare/internal/models"
)

const userColumns = `id, name, email, phone, address, currency, payment_account_id,
	bank_account_id, buyer_fee_rate, seller_fee_rate, created_at, updated_at`

func (db *DB) UpsertUser(ctx context.Context, user *models.UserProfile) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = excluded.name,
                email = excluded.email,
                phone = excluded.phone,
                address = excluded.address,
                currency = excluded.currency,
                payment_account_id = excluded.payment_account_id,
                bank_account_id = excluded.bank_account_id,
                buyer_fee_rate = excluded.buyer_fee_rate,
                seller_fee_rate = excluded.seller_fee_rate,
                updated_at = excluded.updated_at`
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Phone,
		user.Address,
		strings.ToUpper(user.Currency),
		user.PaymentAccountID,
		user.BankAccountID,
		user.BuyerFeeRate,
		user.SellerFeeRate,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return nil
}

func (db *DB) GetUserPaymentProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	row := db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUsers returns the profiles for ids in the order given. Missing ids yield ErrNotFound.
func (db *DB) GetUsers(ctx context.Context, ids []int64) ([]*models.UserProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*models.UserProfile, len(ids))
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		byID[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	users := make([]*models.UserProfile, 0, len(ids))
	for _, id := range ids {
		user, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		users = append(users, user)
	}
	return users, nil
}

func (db *DB) UpsertWallet(ctx context.Context, wallet *models.Wallet) error {
	query := `INSERT INTO wallets (user_id, currency, wallet_id) VALUES (?, ?, ?)
              ON CONFLICT(user_id, currency) DO UPDATE SET wallet_id = excluded.wallet_id`
	if _, err := db.ExecContext(ctx, query, wallet.UserID, strings.ToUpper(wallet.Currency), wallet.WalletID); err != nil {
		return fmt.Errorf("failed to upsert wallet: %w", err)
	}
	return nil
}

func (db *DB) GetWallet(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	w := models.Wallet{UserID: userID, Currency: strings.ToUpper(currency)}
	err := db.QueryRowContext(ctx,
		`SELECT wallet_id FROM wallets WHERE user_id = ? AND currency = ?`,
		userID, w.Currency,
	).Scan(&w.WalletID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s for user %d: %w", w.Currency, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.UserProfile, error) {
	var u models.UserProfile
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.Address, &u.Currency, &u.PaymentAccountID,
		&u.BankAccountID, &u.BuyerFeeRate, &u.SellerFeeRate, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

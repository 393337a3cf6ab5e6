package models

import "time"

// UserProfile holds the contact and payment data of a marketplace user.
type UserProfile struct {
	ID               int64     `json:"id" yaml:"id"`
	Name             string    `json:"name" yaml:"name"`
	Email            string    `json:"email" yaml:"email"`
	Phone            string    `json:"phone" yaml:"phone"`
	Address          string    `json:"address" yaml:"address"`
	Currency         string    `json:"currency" yaml:"currency"`
	PaymentAccountID string    `json:"payment_account_id" yaml:"payment_account_id"`
	BankAccountID    string    `json:"bank_account_id" yaml:"bank_account_id"`
	BuyerFeeRate     float64   `json:"buyer_fee_rate" yaml:"buyer_fee_rate"`
	SellerFeeRate    float64   `json:"seller_fee_rate" yaml:"seller_fee_rate"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"-"`
}

// Wallet is a per-user, per-currency balance held by the payment gateway.
type Wallet struct {
	UserID   int64  `json:"user_id" yaml:"user_id"`
	Currency string `json:"currency" yaml:"currency"`
	WalletID string `json:"wallet_id" yaml:"wallet_id"`
}

// Party is the frozen copy of a user stored on a booking.
type Party struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Address          string `json:"address"`
	Currency         string `json:"currency"`
	PaymentAccountID string `json:"payment_account_id"`
	BankAccountID    string `json:"bank_account_id"`
	WalletID         string `json:"wallet_id"`
}

// PartyFromProfile freezes the profile fields a booking needs.
func PartyFromProfile(p *UserProfile, walletID string) Party {
	return Party{
		ID:               p.ID,
		Name:             p.Name,
		Email:            p.Email,
		Phone:            p.Phone,
		Address:          p.Address,
		Currency:         p.Currency,
		PaymentAccountID: p.PaymentAccountID,
		BankAccountID:    p.BankAccountID,
		WalletID:         walletID,
	}
}

package models

// Gateway request payloads. Amounts are minor currency units.

type PreAuthRequest struct {
	IdempotencyKey  string
	BuyerAccountID  string
	CardID          string
	Amount          int64
	Currency        string
	SecureReturnURL string
}

type PreAuthResult struct {
	PreauthID       string `json:"preauth_id"`
	VerificationURL string `json:"verification_url"`
}

type CaptureRequest struct {
	IdempotencyKey string
	BuyerAccountID string
	PreauthID      string
	Amount         int64
	Fee            int64
	Currency       string
	CreditWalletID string
}

type TransferRequest struct {
	IdempotencyKey string
	AuthorID       string
	FromWalletID   string
	ToWalletID     string
	ToAccountID    string
	Amount         int64
	Fee            int64
	Currency       string
}

type PayoutRequest struct {
	IdempotencyKey string
	AccountID      string
	WalletID       string
	BankAccountID  string
	Amount         int64
	Fee            int64
	Currency       string
}

package domain

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gearshare/internal/models"
)

// Directory is the read side of the user and item catalog.
type Directory interface {
	GetItemSnapshot(ctx context.Context, itemID int64) (*models.ItemSnapshot, error)
	GetUserPaymentProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
	GetUsers(ctx context.Context, ids []int64) ([]*models.UserProfile, error)
	GetWallet(ctx context.Context, userID int64, currency string) (*models.Wallet, error)
}

type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	// UpdateBookingWithVersion writes the mutable columns when the stored
	// version still equals booking.Version and bumps it on success.
	UpdateBookingWithVersion(ctx context.Context, booking *models.Booking) error
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

// AvailabilityCalendar reserves and releases booked spans.
type AvailabilityCalendar interface {
	RemoveInterval(ctx context.Context, itemID int64, start, end time.Time) error
	RestoreInterval(ctx context.Context, itemID int64, start, end time.Time) error
}

// PaymentGateway is the raw gateway binding. Amounts are minor units.
type PaymentGateway interface {
	PreAuthorize(ctx context.Context, req models.PreAuthRequest) (*models.PreAuthResult, error)
	GetPreauthorizationStatus(ctx context.Context, preauthID string) (string, error)
	Capture(ctx context.Context, req models.CaptureRequest) error
	Transfer(ctx context.Context, req models.TransferRequest) error
	Payout(ctx context.Context, req models.PayoutRequest) error
}

type LedgerState string

const (
	// LedgerAcquired means the caller owns the key and must call the gateway.
	LedgerAcquired LedgerState = "acquired"
	// LedgerInFlight means an earlier attempt has an unknown outcome.
	LedgerInFlight LedgerState = "in_flight"
	// LedgerDone means the operation already succeeded.
	LedgerDone LedgerState = "done"
	// LedgerAbsent is what Peek reports for a key nobody has acquired.
	LedgerAbsent LedgerState = "absent"
)

// OperationLedger records gateway mutations by idempotency key.
type OperationLedger interface {
	Acquire(ctx context.Context, key string) (LedgerState, error)
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
	// Peek reports the state of key without acquiring it.
	Peek(ctx context.Context, key string) (LedgerState, error)
}

type ExchangeRates interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

// ItemCategory is the per-category capability the booking core is parameterized by.
type ItemCategory interface {
	Name() string
	ReadSnapshot(ctx context.Context, itemID int64) (*models.ItemSnapshot, error)
	DescribeForNotification(item *models.ItemSnapshot) map[string]any
	PickupLocation(item *models.ItemSnapshot) string
}

type CategoryRegistry interface {
	Category(name string) (ItemCategory, bool)
}

// Notifier accepts notifications for idempotent, best-effort delivery.
type Notifier interface {
	Emit(ctx context.Context, n *models.Notification) error
}

type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, n *models.Notification) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) (bool, error)
	GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	ClaimNotification(ctx context.Context, id int64, lease time.Duration) (bool, error)
	UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SheetsAppender appends audit rows to a spreadsheet tab.
type SheetsAppender interface {
	AppendRows(ctx context.Context, sheet string, rows [][]interface{}) error
}

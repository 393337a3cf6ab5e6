package models

// Booking statuses.
const (
	StatusPreCreate      = "pre-create"
	StatusPending        = "pending"
	StatusAccepted       = "accepted"
	StatusDenied         = "denied"
	StatusEndedDenied    = "ended-denied"
	StatusRenterReturned = "renter-returned"
	StatusOwnerReturned  = "owner-returned"
	StatusEnded          = "ended"
	// StatusFailed is only reached when creation fails after the booking row exists.
	StatusFailed = "failed"
)

// Party roles on a booking.
const (
	RoleRenter = "renter"
	RoleOwner  = "owner"
)

// Notification event types emitted by status transitions.
const (
	EventRequest     = "request"
	EventReservation = "reservation"
	EventDenied      = "denied"
	EventAccepted    = "accepted"
	EventReceipt     = "receipt"
	EventReturned    = "returned"
	EventEnded       = "ended"
	EventPayout      = "payout"
)

// Notification event types emitted by the status sweeper.
const (
	EventResponseReminder      = "response_reminder"
	EventPickupReminder        = "pickup_reminder"
	EventRentalPeriodEnded     = "rental_period_ended"
	EventReturnOverdue         = "return_overdue"
	EventConfirmReturnReminder = "confirm_return_reminder"
)

// Notification delivery statuses.
const (
	NotificationPending    = "pending"
	NotificationProcessing = "processing"
	NotificationRetry      = "retry"
	NotificationCompleted  = "completed"
	NotificationFailed     = "failed"
)

// Pre-authorization statuses reported by the payment gateway.
const (
	PreauthWaiting   = "WAITING"
	PreauthSucceeded = "SUCCEEDED"
	PreauthFailed    = "FAILED"
)

const (
	// DefaultLedgerTTL время жизни записи об операции платежа в Redis
	DefaultLedgerTTL = 30 * 24 * 60 * 60 // 30 дней в секундах

	// NotificationQueueSize размер локальной очереди уведомлений
	NotificationQueueSize = 128

	// DefaultListLimit размер выборки бронирований по умолчанию
	DefaultListLimit = 100
)

// settableFrom maps every externally settable status to the statuses it may follow.
var settableFrom = map[string][]string{
	StatusPending:        {StatusPreCreate},
	StatusDenied:         {StatusPending},
	StatusAccepted:       {StatusPending},
	StatusEndedDenied:    {StatusDenied},
	StatusRenterReturned: {StatusAccepted, StatusOwnerReturned},
	StatusOwnerReturned:  {StatusAccepted, StatusRenterReturned},
}

// IsSettableStatus reports whether a caller may request the status directly.
func IsSettableStatus(status string) bool {
	_, ok := settableFrom[status]
	return ok
}

// CanTransition reports whether target may follow from.
func CanTransition(from, target string) bool {
	for _, s := range settableFrom[target] {
		if s == from {
			return true
		}
	}
	return false
}

// RequiredRole returns the party role allowed to request the target status.
func RequiredRole(target string) string {
	switch target {
	case StatusPending, StatusRenterReturned, StatusEndedDenied:
		return RoleRenter
	case StatusAccepted, StatusDenied, StatusOwnerReturned:
		return RoleOwner
	default:
		return ""
	}
}

// LiveStatuses are the statuses the sweeper inspects.
func LiveStatuses() []string {
	return []string{StatusPending, StatusAccepted, StatusRenterReturned, StatusOwnerReturned}
}

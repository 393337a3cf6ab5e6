package models

import "time"

// Notification is a queued, idempotent outbound event addressed to one recipient.
type Notification struct {
	ID             int64          `json:"id"`
	EventKey       string         `json:"event_key"`
	EventType      string         `json:"event_type"`
	BookingID      int64          `json:"booking_id"`
	RecipientEmail string         `json:"recipient_email"`
	RecipientRole  string         `json:"recipient_role"`
	TemplateData   map[string]any `json:"template_data"`
	Status         string         `json:"status"`
	RetryCount     int            `json:"retry_count"`
	LastError      *string        `json:"last_error"`
	CreatedAt      time.Time      `json:"created_at"`
	ProcessedAt    *time.Time     `json:"processed_at"`
	NextRetryAt    *time.Time     `json:"next_retry_at"`
}

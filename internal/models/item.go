package models

import "time"

// ItemSnapshot is the read-only view of a listed item the booking core consumes.
type ItemSnapshot struct {
	ID             int64             `json:"id" yaml:"id"`
	Category       string            `json:"category" yaml:"category"`
	OwnerID        int64             `json:"owner_id" yaml:"owner_id"`
	Name           string            `json:"name" yaml:"name"`
	Description    string            `json:"description" yaml:"description"`
	Currency       string            `json:"currency" yaml:"currency"`
	DayRate        float64           `json:"day_rate" yaml:"day_rate"`
	WeekRate       float64           `json:"week_rate" yaml:"week_rate"`
	MonthRate      float64           `json:"month_rate" yaml:"month_rate"`
	PickupLocation string            `json:"pickup_location" yaml:"pickup_location"`
	Attributes     map[string]string `json:"attributes,omitempty" yaml:"attributes"`
	IsActive       bool              `json:"is_active" yaml:"is_active"`
	CreatedAt      time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time         `json:"updated_at" yaml:"-"`
}

package models

import "time"

// Booking is the central rental record. Prices are fixed at creation.
type Booking struct {
	ID             int64  `json:"id"`
	ItemID         int64  `json:"item_id"`
	Category       string `json:"category"`
	ItemName       string `json:"item_name"`
	PickupLocation string `json:"pickup_location"`

	RenterID int64 `json:"renter_id"`
	OwnerID  int64 `json:"owner_id"`
	Renter   Party `json:"renter"`
	Owner    Party `json:"owner"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	OwnerPrice     float64 `json:"owner_price"`
	OwnerFee       float64 `json:"owner_fee"`
	OwnerCurrency  string  `json:"owner_currency"`
	RenterPrice    float64 `json:"renter_price"`
	RenterFee      float64 `json:"renter_fee"`
	RenterCurrency string  `json:"renter_currency"`

	PreauthID  string     `json:"preauth_id,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`

	Status        string     `json:"status"`
	RequestedAt   time.Time  `json:"requested_at"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
	RenterEndedAt *time.Time `json:"renter_ended_at,omitempty"`
	OwnerEndedAt  *time.Time `json:"owner_ended_at,omitempty"`
	PayoutAt      *time.Time `json:"payout_at,omitempty"`
	// ReleasedAt is set once the booked span has been handed back to the
	// item's free set after a deny.
	ReleasedAt    *time.Time `json:"released_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Interval returns the booked span.
func (b *Booking) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// RoleOf returns the role actorID plays on the booking, or "" for a third party.
func (b *Booking) RoleOf(actorID int64) string {
	switch actorID {
	case b.RenterID:
		return RoleRenter
	case b.OwnerID:
		return RoleOwner
	default:
		return ""
	}
}

func (b *Booking) IsParty(actorID int64) bool {
	return b.RoleOf(actorID) != ""
}

// RenterCharge is the amount pre-authorized and captured from the renter.
func (b *Booking) RenterCharge() float64 {
	return b.RenterPrice + b.RenterFee
}

// OwnerNet is what reaches the owner's bank account.
func (b *Booking) OwnerNet() float64 {
	return b.OwnerPrice - b.OwnerFee
}

// PartyFor returns the frozen party data for a role.
func (b *Booking) PartyFor(role string) Party {
	if role == RoleOwner {
		return b.Owner
	}
	return b.Renter
}

// BookingFilter narrows booking listings. Zero values are ignored.
type BookingFilter struct {
	ItemID   int64
	PartyID  int64
	Statuses []string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
	// ByID orders by id and pages by AfterID instead of Offset, so rows
	// leaving the filter between pages do not shift the next page.
	ByID     bool
	AfterID  int64
}

// Package notify builds booking notifications and delivers them to sinks.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gearshare/internal/models"
)

const dateLayout = "2006-01-02 15:04 MST"

// EventKey identifies one notification of one booking event for one party.
func EventKey(bookingID int64, event, role string) string {
	return fmt.Sprintf("booking:%d:%s:%s", bookingID, event, role)
}

// ForBooking builds the notification for a party of b. Extra fields such as
// the category's item description are merged into the template data.
func ForBooking(b *models.Booking, event, role string, extra map[string]any) *models.Notification {
	recipient := b.PartyFor(role)
	counterpart := b.Owner
	if role == models.RoleOwner {
		counterpart = b.Renter
	}

	data := map[string]any{
		"booking_id":          b.ID,
		"status":              b.Status,
		"item_id":             b.ItemID,
		"item_name":           b.ItemName,
		"pickup_location":     b.PickupLocation,
		"start":               b.Start.UTC().Format(dateLayout),
		"end":                 b.End.UTC().Format(dateLayout),
		"recipient_name":      recipient.Name,
		"counterpart_name":    counterpart.Name,
		"counterpart_email":   counterpart.Email,
		"counterpart_phone":   counterpart.Phone,
		"counterpart_address": counterpart.Address,
	}
	if role == models.RoleOwner {
		data["price"] = b.OwnerPrice
		data["fee"] = b.OwnerFee
		data["net"] = b.OwnerNet()
		data["currency"] = b.OwnerCurrency
	} else {
		data["price"] = b.RenterPrice
		data["fee"] = b.RenterFee
		data["total"] = b.RenterCharge()
		data["currency"] = b.RenterCurrency
	}
	// VAT is not charged on either side.
	data["vat"] = 0.0
	for k, v := range extra {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}

	return &models.Notification{
		EventKey:       EventKey(b.ID, event, role),
		EventType:      event,
		BookingID:      b.ID,
		RecipientEmail: recipient.Email,
		RecipientRole:  role,
		TemplateData:   data,
		Status:         models.NotificationPending,
		CreatedAt:      time.Now(),
	}
}

var subjects = map[string]string{
	models.EventRequest:               "New rental request",
	models.EventReservation:           "Your reservation was sent",
	models.EventDenied:                "Rental request denied",
	models.EventAccepted:              "Rental request accepted",
	models.EventReceipt:               "Payment receipt",
	models.EventReturned:              "Return recorded",
	models.EventEnded:                 "Rental completed",
	models.EventPayout:                "Payout sent",
	models.EventResponseReminder:      "Reminder: a request awaits your answer",
	models.EventPickupReminder:        "Reminder: pickup is coming up",
	models.EventRentalPeriodEnded:     "Rental period has ended",
	models.EventReturnOverdue:         "Return is overdue",
	models.EventConfirmReturnReminder: "Reminder: please confirm the return",
}

// Subject returns the human title of an event type.
func Subject(event string) string {
	if s, ok := subjects[event]; ok {
		return s
	}
	return strings.ReplaceAll(event, "_", " ")
}

// Render formats a notification as plain text.
func Render(n *models.Notification) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", Subject(n.EventType))
	fmt.Fprintf(&sb, "Booking #%d (%s)\n", n.BookingID, n.RecipientRole)
	if item, ok := n.TemplateData["item_name"]; ok {
		fmt.Fprintf(&sb, "Item: %v\n", item)
	}
	if start, ok := n.TemplateData["start"]; ok {
		fmt.Fprintf(&sb, "Period: %v - %v\n", start, n.TemplateData["end"])
	}
	if total, ok := n.TemplateData["total"]; ok {
		fmt.Fprintf(&sb, "Total: %.2f %v\n", total, n.TemplateData["currency"])
	} else if net, ok := n.TemplateData["net"]; ok {
		fmt.Fprintf(&sb, "Net: %.2f %v\n", net, n.TemplateData["currency"])
	}

	// Остальные поля выводим в стабильном порядке.
	skip := map[string]bool{"item_name": true, "start": true, "end": true, "total": true, "net": true, "currency": true}
	keys := make([]string, 0, len(n.TemplateData))
	for k := range n.TemplateData {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", k, n.TemplateData[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}

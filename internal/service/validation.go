package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"gearshare/internal/apperr"
)

// CreateRequest is a renter's request to book an item for a period.
type CreateRequest struct {
	RenterID  int64     `json:"renter_id" validate:"required,gt=0"`
	Category  string    `json:"category" validate:"required"`
	ItemID    int64     `json:"item_id" validate:"required,gt=0"`
	Start     time.Time `json:"start" validate:"required"`
	End       time.Time `json:"end" validate:"required,gtfield=Start"`
	CardID    string    `json:"card_id" validate:"required"`
	ReturnURL string    `json:"return_url" validate:"omitempty,url"`
}

// CreateResult is returned to the renter, who must follow VerificationURL to
// confirm the card hold.
type CreateResult struct {
	BookingID       int64   `json:"booking_id"`
	Status          string  `json:"status"`
	RenterPrice     float64 `json:"renter_price"`
	RenterFee       float64 `json:"renter_fee"`
	RenterCurrency  string  `json:"renter_currency"`
	OwnerPrice      float64 `json:"owner_price"`
	OwnerFee        float64 `json:"owner_fee"`
	OwnerCurrency   string  `json:"owner_currency"`
	VerificationURL string  `json:"verification_url"`
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// validateStruct runs struct tags and folds failures into one ValidationError.
func validateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid request", nil)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "gt":
			msg = fmt.Sprintf("must be greater than %s", fe.Param())
		case "gtfield":
			msg = fmt.Sprintf("must be after %s", fe.Param())
		case "url":
			msg = "must be a valid URL"
		default:
			msg = fmt.Sprintf("failed %s check", fe.Tag())
		}
		details[fe.Field()] = msg
	}
	return apperr.Validation("invalid request", details)
}

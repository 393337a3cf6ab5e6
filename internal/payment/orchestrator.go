package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"gearshare/internal/apperr"
	"gearshare/internal/domain"
	"gearshare/internal/metrics"
	"gearshare/internal/models"
)

// ErrDeclined is returned by gateways for definitive refusals. The operation
// did not happen, so its idempotency key may be reused.
var ErrDeclined = errors.New("payment declined")

// Operation names, also used as the suffix of idempotency keys.
const (
	OpPreauth  = "preauth"
	OpCapture  = "capture"
	OpTransfer = "transfer"
	OpPayout   = "payout"
)

// MinorUnits converts a major-unit amount to gateway minor units.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// IdempotencyKey is the key every gateway mutation for a booking carries.
func IdempotencyKey(bookingID int64, op string) string {
	return fmt.Sprintf("booking:%d:%s", bookingID, op)
}

// Orchestrator drives money movement for bookings on top of a raw gateway.
type Orchestrator struct {
	gateway  domain.PaymentGateway
	ledger   domain.OperationLedger
	platform *Platform
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewOrchestrator(gateway domain.PaymentGateway, ledger domain.OperationLedger, platform *Platform, timeout time.Duration, logger *zerolog.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Orchestrator{
		gateway:  gateway,
		ledger:   ledger,
		platform: platform,
		timeout:  timeout,
		logger:   logger.With().Str("component", "payment").Logger(),
	}
}

// PreAuthorize places a hold of RenterPrice+RenterFee on the renter's card.
// A hold that is never confirmed expires at the gateway, so the call is not
// ledger-guarded; the idempotency key still lets the gateway deduplicate.
func (o *Orchestrator) PreAuthorize(ctx context.Context, b *models.Booking, cardID, returnURL string) (*models.PreAuthResult, error) {
	req := models.PreAuthRequest{
		IdempotencyKey:  IdempotencyKey(b.ID, OpPreauth),
		BuyerAccountID:  b.Renter.PaymentAccountID,
		CardID:          cardID,
		Amount:          MinorUnits(b.RenterCharge()),
		Currency:        b.RenterCurrency,
		SecureReturnURL: returnURL,
	}

	var res *models.PreAuthResult
	err := o.call(ctx, OpPreauth, func(ctx context.Context) error {
		var err error
		res, err = o.gateway.PreAuthorize(ctx, req)
		return err
	})
	if err != nil {
		return nil, apperr.Payment("pre-authorization failed", err)
	}
	if res == nil || res.PreauthID == "" {
		return nil, apperr.Payment("gateway returned no pre-authorization id", nil)
	}
	return res, nil
}

// PreauthStatus reports the gateway status of a pre-authorization.
func (o *Orchestrator) PreauthStatus(ctx context.Context, preauthID string) (string, error) {
	var status string
	err := o.call(ctx, "preauth_status", func(ctx context.Context) error {
		var err error
		status, err = o.gateway.GetPreauthorizationStatus(ctx, preauthID)
		return err
	})
	if err != nil {
		return "", apperr.Payment("failed to read pre-authorization status", err)
	}
	return status, nil
}

// Capture debits the renter and credits the platform wallet of the owner's currency.
func (o *Orchestrator) Capture(ctx context.Context, b *models.Booking) error {
	wallet, err := o.platform.Wallet(b.OwnerCurrency)
	if err != nil {
		return apperr.Payment("capture impossible", err)
	}
	req := models.CaptureRequest{
		IdempotencyKey: IdempotencyKey(b.ID, OpCapture),
		BuyerAccountID: b.Renter.PaymentAccountID,
		PreauthID:      b.PreauthID,
		Amount:         MinorUnits(b.RenterCharge()),
		Fee:            MinorUnits(b.RenterFee),
		Currency:       b.RenterCurrency,
		CreditWalletID: wallet,
	}
	return o.guarded(ctx, b.ID, OpCapture, func(ctx context.Context) error {
		return o.gateway.Capture(ctx, req)
	})
}

// CaptureState reports whether a capture for the booking was started. Any
// state other than LedgerAbsent means money may already have moved.
func (o *Orchestrator) CaptureState(ctx context.Context, bookingID int64) (domain.LedgerState, error) {
	state, err := o.ledger.Peek(ctx, IdempotencyKey(bookingID, OpCapture))
	if err != nil {
		return "", apperr.Payment("operation ledger unavailable", err)
	}
	return state, nil
}

// Payout moves the owner's share out of escrow: a transfer from the platform
// wallet to the owner wallet keeping the seller fee, then a bank wire of the
// net amount. Each step has its own key, so a retry resumes where it stopped.
func (o *Orchestrator) Payout(ctx context.Context, b *models.Booking) error {
	wallet, err := o.platform.Wallet(b.OwnerCurrency)
	if err != nil {
		return apperr.Payment("payout impossible", err)
	}

	transfer := models.TransferRequest{
		IdempotencyKey: IdempotencyKey(b.ID, OpTransfer),
		AuthorID:       o.platform.UserID(),
		FromWalletID:   wallet,
		ToWalletID:     b.Owner.WalletID,
		ToAccountID:    b.Owner.PaymentAccountID,
		Amount:         MinorUnits(b.OwnerPrice),
		Fee:            MinorUnits(b.OwnerFee),
		Currency:       b.OwnerCurrency,
	}
	if err := o.guarded(ctx, b.ID, OpTransfer, func(ctx context.Context) error {
		return o.gateway.Transfer(ctx, transfer)
	}); err != nil {
		return err
	}

	payout := models.PayoutRequest{
		IdempotencyKey: IdempotencyKey(b.ID, OpPayout),
		AccountID:      b.Owner.PaymentAccountID,
		WalletID:       b.Owner.WalletID,
		BankAccountID:  b.Owner.BankAccountID,
		Amount:         MinorUnits(b.OwnerNet()),
		Currency:       b.OwnerCurrency,
	}
	return o.guarded(ctx, b.ID, OpPayout, func(ctx context.Context) error {
		return o.gateway.Payout(ctx, payout)
	})
}

// guarded runs an irreversible gateway mutation at most once per key.
func (o *Orchestrator) guarded(ctx context.Context, bookingID int64, op string, fn func(context.Context) error) error {
	key := IdempotencyKey(bookingID, op)
	log := o.logger.With().Int64("booking_id", bookingID).Str("operation", op).Str("key", key).Logger()

	state, err := o.ledger.Acquire(ctx, key)
	if err != nil {
		return apperr.Payment("operation ledger unavailable", err)
	}
	switch state {
	case domain.LedgerDone:
		log.Info().Msg("Gateway operation already completed, skipping")
		return nil
	case domain.LedgerInFlight:
		log.Error().Msg("Gateway operation outcome unknown, reconcile required")
		return apperr.Payment(fmt.Sprintf("%s outcome unknown, reconcile required", op), nil)
	}

	callErr := o.call(ctx, op, fn)
	if callErr == nil {
		if err := o.ledger.Complete(ctx, key); err != nil {
			// Деньги уже списаны, ключ остается in_flight и повтора не будет.
			log.Error().Err(err).Msg("Failed to mark gateway operation done, reconcile required")
		}
		return nil
	}

	if errors.Is(callErr, ErrDeclined) {
		if err := o.ledger.Release(ctx, key); err != nil {
			log.Warn().Err(err).Msg("Failed to release ledger key")
		}
		log.Warn().Err(callErr).Msg("Gateway operation declined")
		return apperr.Payment(fmt.Sprintf("%s declined", op), callErr)
	}

	log.Error().Err(callErr).Msg("Gateway operation failed with unknown outcome, reconcile required")
	return apperr.Payment(fmt.Sprintf("%s failed", op), callErr)
}

func (o *Orchestrator) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	err := fn(ctx)

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrDeclined):
		result = "declined"
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	default:
		result = "error"
	}
	metrics.ObserveGateway(op, result, time.Since(started))
	return err
}

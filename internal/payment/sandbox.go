package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"gearshare/internal/models"
)

// SandboxVerificationPath is where sandbox verification links point.
const SandboxVerificationPath = "/sandbox/3ds/"

// SandboxGateway is an in-memory gateway for local runs and tests. Every
// pre-authorization is created WAITING; SetPreauthStatus simulates the
// renter's 3-D Secure confirmation.
type SandboxGateway struct {
	mu         sync.Mutex
	publicURL  string
	preauths   map[string]*sandboxPreauth
	byKey      map[string]string
	applied    map[string]bool
	balances   map[string]int64
	operations []SandboxOperation
}

type sandboxPreauth struct {
	status   string
	amount   int64
	currency string
}

// SandboxOperation is one recorded gateway mutation.
type SandboxOperation struct {
	Kind           string
	IdempotencyKey string
	Amount         int64
	Fee            int64
	Currency       string
}

func NewSandboxGateway(publicURL string) *SandboxGateway {
	return &SandboxGateway{
		publicURL: publicURL,
		preauths:  make(map[string]*sandboxPreauth),
		byKey:     make(map[string]string),
		applied:   make(map[string]bool),
		balances:  make(map[string]int64),
	}
}

func (g *SandboxGateway) PreAuthorize(ctx context.Context, req models.PreAuthRequest) (*models.PreAuthResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 || req.CardID == "" {
		return nil, fmt.Errorf("%w: invalid card or amount", ErrDeclined)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id, ok := g.byKey[req.IdempotencyKey]
	if !ok {
		id = uuid.NewString()
		g.preauths[id] = &sandboxPreauth{status: models.PreauthWaiting, amount: req.Amount, currency: req.Currency}
		if req.IdempotencyKey != "" {
			g.byKey[req.IdempotencyKey] = id
		}
	}
	return &models.PreAuthResult{
		PreauthID:       id,
		VerificationURL: fmt.Sprintf("%s%s%s?return=%s", g.publicURL, SandboxVerificationPath, id, req.SecureReturnURL),
	}, nil
}

func (g *SandboxGateway) GetPreauthorizationStatus(ctx context.Context, preauthID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.preauths[preauthID]
	if !ok {
		return "", fmt.Errorf("%w: unknown pre-authorization %s", ErrDeclined, preauthID)
	}
	return p.status, nil
}

// SetPreauthStatus overrides the status of a pre-authorization.
func (g *SandboxGateway) SetPreauthStatus(preauthID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.preauths[preauthID]; ok {
		p.status = status
	}
}

// ServeHTTP plays the 3-D Secure page. result=fail declines the hold,
// anything else leaves it WAITING as a passed challenge does. The renter is
// sent back to the return URL when one was given.
func (g *SandboxGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, SandboxVerificationPath), "/")
	g.mu.Lock()
	_, ok := g.preauths[id]
	g.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	outcome := "confirmed"
	if r.URL.Query().Get("result") == "fail" {
		g.SetPreauthStatus(id, models.PreauthFailed)
		outcome = "declined"
	}
	if ret := r.URL.Query().Get("return"); ret != "" {
		http.Redirect(w, r, ret, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "pre-authorization %s %s\n", id, outcome)
}

func (g *SandboxGateway) Capture(ctx context.Context, req models.CaptureRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.applied[req.IdempotencyKey] {
		return nil
	}
	p, ok := g.preauths[req.PreauthID]
	if !ok || p.status == models.PreauthFailed {
		return fmt.Errorf("%w: pre-authorization %s not capturable", ErrDeclined, req.PreauthID)
	}
	if req.Amount > p.amount {
		return fmt.Errorf("%w: capture exceeds hold", ErrDeclined)
	}
	p.status = models.PreauthSucceeded
	g.balances[req.CreditWalletID] += req.Amount - req.Fee
	g.record("capture", req.IdempotencyKey, req.Amount, req.Fee, req.Currency)
	return nil
}

func (g *SandboxGateway) Transfer(ctx context.Context, req models.TransferRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.applied[req.IdempotencyKey] {
		return nil
	}
	g.balances[req.FromWalletID] -= req.Amount - req.Fee
	g.balances[req.ToWalletID] += req.Amount - req.Fee
	g.record("transfer", req.IdempotencyKey, req.Amount, req.Fee, req.Currency)
	return nil
}

func (g *SandboxGateway) Payout(ctx context.Context, req models.PayoutRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.applied[req.IdempotencyKey] {
		return nil
	}
	if req.BankAccountID == "" {
		return fmt.Errorf("%w: no bank account", ErrDeclined)
	}
	g.balances[req.WalletID] -= req.Amount
	g.record("payout", req.IdempotencyKey, req.Amount, req.Fee, req.Currency)
	return nil
}

func (g *SandboxGateway) record(kind, key string, amount, fee int64, currency string) {
	if key != "" {
		g.applied[key] = true
	}
	g.operations = append(g.operations, SandboxOperation{Kind: kind, IdempotencyKey: key, Amount: amount, Fee: fee, Currency: currency})
}

// Operations returns a copy of the recorded mutations.
func (g *SandboxGateway) Operations() []SandboxOperation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SandboxOperation(nil), g.operations...)
}

// Balance returns the sandbox balance of a wallet in minor units.
func (g *SandboxGateway) Balance(walletID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[walletID]
}

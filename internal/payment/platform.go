package payment

import (
	"fmt"
	"strings"
	"sync"
)

// Platform holds the marketplace's own gateway identity: the user id that
// authors transfers and one escrow wallet per currency.
type Platform struct {
	mu      sync.RWMutex
	userID  string
	wallets map[string]string
}

func NewPlatform(userID string, wallets map[string]string) *Platform {
	p := &Platform{}
	p.Reload(userID, wallets)
	return p
}

// Reload swaps the platform identity, e.g. after a config reload.
func (p *Platform) Reload(userID string, wallets map[string]string) {
	next := make(map[string]string, len(wallets))
	for cur, id := range wallets {
		next[strings.ToUpper(cur)] = id
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID = userID
	p.wallets = next
}

func (p *Platform) UserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userID
}

// Wallet returns the platform wallet for currency.
func (p *Platform) Wallet(currency string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.wallets[strings.ToUpper(currency)]
	if !ok || id == "" {
		return "", fmt.Errorf("no platform wallet for currency %s", currency)
	}
	return id, nil
}

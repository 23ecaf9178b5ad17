package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/internal/store"
	"github.com/finik/vpn-subscription-service/pkg/yookassa"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(repo store.Repository) *Ledger {
	ledger := NewLedger(repo, "finik_vpn_bot", discardLogger())
	ledger.now = func() time.Time { return testNow }
	return ledger
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

// panelStub is an in-memory VPN panel.
type panelStub struct {
	mu        sync.Mutex
	accounts  map[string]*domain.VPNAccount
	enabled   map[string]bool
	deleted   []string
	creates   int
	capacity  domain.Capacity
	fetchErr  map[string]error
	createErr error
	enableErr error
	listErr   error
	onFetch   func(username string)
}

func newPanelStub() *panelStub {
	return &panelStub{
		accounts: make(map[string]*domain.VPNAccount),
		enabled:  make(map[string]bool),
		fetchErr: make(map[string]error),
		capacity: domain.Capacity{"vless": {{Tag: "VLESS TCP REALITY", Protocol: "vless"}}},
	}
}

func (p *panelStub) put(account domain.VPNAccount) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[account.Username] = &account
	p.enabled[account.Username] = account.Status == domain.VPNStatusActive
}

func (p *panelStub) has(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.accounts[username]
	return ok
}

func (p *panelStub) isEnabled(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled[username]
}

func (p *panelStub) FetchAccount(_ context.Context, username string) (*domain.VPNAccount, error) {
	if p.onFetch != nil {
		p.onFetch(username)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fetchErr[username]; err != nil {
		return nil, err
	}
	account, ok := p.accounts[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (p *panelStub) CreateAccount(_ context.Context, username string, capacity domain.Capacity) (*domain.VPNAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	if _, ok := capacity.Select("vless"); !ok {
		return nil, domain.ErrCapacityUnavailable
	}
	p.creates++
	account := &domain.VPNAccount{
		Username:        username,
		Status:          domain.VPNStatusActive,
		SubscriptionURL: "https://panel.example/sub/" + username,
		CreatedAt:       timePtr(testNow),
	}
	p.accounts[username] = account
	p.enabled[username] = true
	copied := *account
	return &copied, nil
}

func (p *panelStub) DeleteAccount(_ context.Context, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.accounts, username)
	delete(p.enabled, username)
	p.deleted = append(p.deleted, username)
	return nil
}

func (p *panelStub) SetEnabled(_ context.Context, username string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enableErr != nil {
		return p.enableErr
	}
	if _, ok := p.accounts[username]; !ok {
		return domain.ErrNotFound
	}
	p.enabled[username] = enabled
	return nil
}

func (p *panelStub) ListCapacity(_ context.Context) (domain.Capacity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.capacity, nil
}

type sentMessage struct {
	chatID int64
	text   string
}

type notifierStub struct {
	mu      sync.Mutex
	sent    []sentMessage
	deleted []int
	err     error
}

func (n *notifierStub) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (n *notifierStub) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, messageID)
	return nil
}

func (n *notifierStub) to(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var texts []string
	for _, m := range n.sent {
		if m.chatID == chatID {
			texts = append(texts, m.text)
		}
	}
	return texts
}

type publishedEvent struct {
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *publisherStub) Publish(_ context.Context, _ string, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) byKey(routingKey string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []interface{}
	for _, e := range p.events {
		if e.routingKey == routingKey {
			out = append(out, e.body)
		}
	}
	return out
}

type gatewayStub struct {
	requests []yookassa.CreatePaymentRequest
	err      error
}

func (g *gatewayStub) CreatePayment(_ context.Context, in yookassa.CreatePaymentRequest) (*yookassa.Payment, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, in)
	payment := &yookassa.Payment{ID: "pay-" + in.OrderID, Status: "pending"}
	payment.Confirmation.ConfirmationURL = "https://yoomoney.ru/checkout/" + in.OrderID
	return payment, nil
}

var errPanelDown = errors.New("panel down")

/**
 * @description
 * Narrow interfaces for the external collaborators the subscription engine drives:
 * the VPN panel, the chat transport, the transient message store, the event bus
 * and the payment gateway. Concrete adapters live under pkg/ and internal/store.
 */
package app

import (
	"context"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/pkg/yookassa"
)

// Provisioner manages VPN accounts on the proxy panel.
type Provisioner interface {
	FetchAccount(ctx context.Context, username string) (*domain.VPNAccount, error)
	CreateAccount(ctx context.Context, username string, capacity domain.Capacity) (*domain.VPNAccount, error)
	DeleteAccount(ctx context.Context, username string) error
	SetEnabled(ctx context.Context, username string, enabled bool) error
	ListCapacity(ctx context.Context) (domain.Capacity, error)
}

// Notifier delivers user-facing chat messages.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// MessageStore remembers purchase-menu messages so they can be removed after payment.
type MessageStore interface {
	Remember(ctx context.Context, chatID int64, messageID int, kind string) error
	Drain(ctx context.Context, chatID int64) ([]int, error)
}

// EventPublisher emits domain events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// PaymentGateway opens checkout sessions.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, in yookassa.CreatePaymentRequest) (*yookassa.Payment, error)
}

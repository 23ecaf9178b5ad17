package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/pkg/yookassa"
)

// CheckoutSession is an opened payment the user is redirected to.
type CheckoutSession struct {
	Plan            domain.Plan
	OrderID         string
	PaymentID       string
	ConfirmationURL string
}

// Checkout opens payment sessions for subscription plans.
type Checkout struct {
	gateway      PaymentGateway
	returnURL    string
	receiptEmail string
	logger       *slog.Logger
	newOrderID   func() string
}

// NewCheckout creates a checkout bound to the payment gateway.
func NewCheckout(gateway PaymentGateway, returnURL, receiptEmail string, logger *slog.Logger) *Checkout {
	return &Checkout{
		gateway:      gateway,
		returnURL:    returnURL,
		receiptEmail: receiptEmail,
		logger:       logger,
		newOrderID:   uuid.NewString,
	}
}

// Start opens a payment for the plan granting days. The order id doubles as the
// gateway idempotence key and is echoed back in the webhook metadata.
func (c *Checkout) Start(ctx context.Context, userID int64, days int) (*CheckoutSession, error) {
	plan, err := domain.PlanByDays(days)
	if err != nil {
		return nil, err
	}
	orderID := c.newOrderID()

	payment, err := c.gateway.CreatePayment(ctx, yookassa.CreatePaymentRequest{
		AmountMinor:    plan.PriceMinor(),
		Currency:       "RUB",
		Description:    plan.Description(),
		IdempotenceKey: orderID,
		UserID:         userID,
		Days:           plan.Days,
		OrderID:        orderID,
		ReturnURL:      c.returnURL,
		ReceiptEmail:   c.receiptEmail,
	})
	if err != nil {
		c.logger.Error("failed to create payment", "user_id", userID, "days", days, "order_id", orderID, "error", err)
		return nil, fmt.Errorf("create payment for user %d: %w", userID, err)
	}
	c.logger.Info("payment created", "user_id", userID, "days", days, "order_id", orderID, "payment_id", payment.ID)

	return &CheckoutSession{
		Plan:            plan,
		OrderID:         orderID,
		PaymentID:       payment.ID,
		ConfirmationURL: payment.Confirmation.ConfirmationURL,
	}, nil
}

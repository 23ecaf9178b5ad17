package app

import (
	"context"
	"errors"
	"testing"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

func TestCheckout_StartBuildsPaymentRequest(t *testing.T) {
	gateway := &gatewayStub{}
	checkout := NewCheckout(gateway, "https://t.me/finik_vpn_bot", "receipts@finik.example", discardLogger())
	checkout.newOrderID = func() string { return "order-1" }

	session, err := checkout.Start(context.Background(), 1001, 90)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if session.ConfirmationURL != "https://yoomoney.ru/checkout/order-1" || session.PaymentID != "pay-order-1" {
		t.Fatalf("unexpected session %+v", session)
	}

	req := gateway.requests[0]
	if req.AmountMinor != 37000 || req.Currency != "RUB" || req.Days != 90 || req.UserID != 1001 {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.IdempotenceKey != "order-1" || req.OrderID != "order-1" {
		t.Fatalf("expected order id as idempotence key, got %+v", req)
	}
	if req.Description != "Подписка на 90 дней" || req.ReceiptEmail != "receipts@finik.example" {
		t.Fatalf("unexpected description or receipt %+v", req)
	}
}

func TestCheckout_UnknownPlan(t *testing.T) {
	gateway := &gatewayStub{}
	checkout := NewCheckout(gateway, "", "", discardLogger())

	if _, err := checkout.Start(context.Background(), 1, 45); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if len(gateway.requests) != 0 {
		t.Fatal("expected no gateway call")
	}
}

func TestCheckout_GatewayError(t *testing.T) {
	gateway := &gatewayStub{err: errors.New("503")}
	checkout := NewCheckout(gateway, "", "", discardLogger())

	if _, err := checkout.Start(context.Background(), 1, 30); err == nil {
		t.Fatal("expected error")
	}
}

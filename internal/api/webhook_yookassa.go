/**
 * @description
 * HTTP handler for YooKassa payment notifications. The payload is decoded and
 * validated synchronously; applying the payment happens in the background so the
 * provider gets its 200 quickly and retries only on malformed deliveries.
 *
 * @notes
 * - When a verifier is configured the payment is re-read from the YooKassa API. Its
 *   status and metadata (user_id, days, order_id) must match the notification before
 *   anything is applied.
 */
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/finik/vpn-subscription-service/internal/domain"
	"github.com/finik/vpn-subscription-service/internal/metrics"
	"github.com/finik/vpn-subscription-service/pkg/yookassa"
)

const maxWebhookBody = 1 << 20

// PaymentHandler applies payment notifications.
type PaymentHandler interface {
	Handle(ctx context.Context, event domain.PaymentEvent) error
	HandleCanceled(ctx context.Context, userID int64, paymentID string) error
}

// PaymentVerifier reads a payment back from the gateway.
type PaymentVerifier interface {
	GetPayment(ctx context.Context, paymentID string) (*yookassa.Payment, error)
}

// YooKassaWebhookHandler processes incoming YooKassa notifications.
type YooKassaWebhookHandler struct {
	payments PaymentHandler
	verifier PaymentVerifier
	logger   *slog.Logger
	*dispatcher
}

// NewYooKassaWebhookHandler creates the webhook handler. verifier may be nil.
func NewYooKassaWebhookHandler(payments PaymentHandler, verifier PaymentVerifier, logger *slog.Logger, timeout time.Duration) *YooKassaWebhookHandler {
	return &YooKassaWebhookHandler{
		payments:   payments,
		verifier:   verifier,
		logger:     logger,
		dispatcher: newDispatcher(timeout, logger),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *YooKassaWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read yookassa webhook body", "error", err)
		h.respond(w, http.StatusInternalServerError, "cannot read request body")
		return
	}

	var notification domain.YooKassaNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		h.logger.Error("failed to decode yookassa webhook", "error", err)
		h.respond(w, http.StatusInternalServerError, "invalid payload")
		return
	}

	object := notification.Object
	logger := h.logger.With("event", notification.Event, "payment_id", object.ID, "status", object.Status)

	switch {
	case notification.Event == domain.PaymentEventSucceeded && object.Status == domain.PaymentStatusSucceeded:
		event, err := notification.PaymentEvent()
		if err != nil {
			logger.Error("invalid payment metadata", "error", err)
			h.respond(w, http.StatusInternalServerError, "invalid payment metadata")
			return
		}
		if _, err := domain.PlanByDays(event.Days); err != nil {
			logger.Error("payment for unknown plan", "user_id", event.UserID, "days", event.Days, "error", err)
			h.respond(w, http.StatusInternalServerError, "invalid payment metadata")
			return
		}
		logger.Info("payment succeeded notification received", "user_id", event.UserID, "days", event.Days)
		h.dispatch(r.Context(), "payment.succeeded", func(ctx context.Context) error {
			payment, err := h.verify(ctx, object.ID, domain.PaymentStatusSucceeded)
			if err != nil {
				return err
			}
			if err := matchMetadata(payment, event.UserID, event.Days, event.OrderID); err != nil {
				return err
			}
			return h.payments.Handle(ctx, event)
		})

	case notification.Event == domain.PaymentEventCanceled && object.Status == domain.PaymentStatusCanceled:
		userID := int64(object.Metadata.UserID)
		if userID <= 0 {
			logger.Error("canceled payment without user id")
			h.respond(w, http.StatusInternalServerError, "invalid payment metadata")
			return
		}
		logger.Info("payment canceled notification received", "user_id", userID)
		h.dispatch(r.Context(), "payment.canceled", func(ctx context.Context) error {
			payment, err := h.verify(ctx, object.ID, domain.PaymentStatusCanceled)
			if err != nil {
				return err
			}
			if err := matchMetadata(payment, userID, 0, ""); err != nil {
				return err
			}
			return h.payments.HandleCanceled(ctx, userID, object.ID)
		})

	default:
		logger.Info("ignoring yookassa notification")
	}

	h.respond(w, http.StatusOK, "ok")
}

// verify re-reads the payment from the gateway. It returns nil without a verifier.
func (h *YooKassaWebhookHandler) verify(ctx context.Context, paymentID, wantStatus string) (*yookassa.Payment, error) {
	if h.verifier == nil {
		return nil, nil
	}
	payment, err := h.verifier.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("verify payment %s: %w", paymentID, err)
	}
	if payment.Status != wantStatus {
		return nil, fmt.Errorf("payment %s has status %q, notification said %q", paymentID, payment.Status, wantStatus)
	}
	return payment, nil
}

// matchMetadata compares the notification against the verified payment. Zero days
// skips the days and order id checks.
func matchMetadata(payment *yookassa.Payment, userID int64, days int, orderID string) error {
	if payment == nil {
		return nil
	}
	gotUser, err := strconv.ParseInt(payment.Metadata["user_id"], 10, 64)
	if err != nil || gotUser != userID {
		return fmt.Errorf("payment %s: user_id %q does not match notification %d", payment.ID, payment.Metadata["user_id"], userID)
	}
	if days == 0 {
		return nil
	}
	gotDays, err := strconv.Atoi(payment.Metadata["days"])
	if err != nil || gotDays != days {
		return fmt.Errorf("payment %s: days %q does not match notification %d", payment.ID, payment.Metadata["days"], days)
	}
	if payment.Metadata["order_id"] != orderID {
		return fmt.Errorf("payment %s: order_id %q does not match notification %q", payment.ID, payment.Metadata["order_id"], orderID)
	}
	return nil
}

func (h *YooKassaWebhookHandler) respond(w http.ResponseWriter, status int, message string) {
	metrics.WebhookRequestsTotal.WithLabelValues("yookassa", strconv.Itoa(status)).Inc()
	w.WriteHeader(status)
	w.Write([]byte(message))
}

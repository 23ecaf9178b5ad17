/**
 * @description
 * Payment models: the internal payment event consumed by the payment processor and
 * the YooKassa webhook payload it is decoded from.
 *
 * @notes
 * - YooKassa echoes metadata back as strings; integers are accepted as well so
 *   that hand-crafted test notifications decode the same way.
 */
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// YooKassa event and status names the webhook reacts to.
const (
	PaymentEventSucceeded = "payment.succeeded"
	PaymentEventCanceled  = "payment.canceled"

	PaymentStatusSucceeded = "succeeded"
	PaymentStatusCanceled  = "canceled"
)

// PaymentEvent is one successful payment to be applied to the ledger.
type PaymentEvent struct {
	PaymentID string `json:"payment_id"`
	UserID    int64  `json:"user_id"`
	Days      int    `json:"days"`
	OrderID   string `json:"order_id"`
}

// Validate checks the fields required to apply a payment.
func (e PaymentEvent) Validate() error {
	if strings.TrimSpace(e.PaymentID) == "" {
		return fmt.Errorf("%w: payment id is empty", ErrInvalidArgument)
	}
	if e.UserID == 0 {
		return fmt.Errorf("%w: user id is empty", ErrInvalidArgument)
	}
	if !ValidExtensionDays(e.Days) {
		return fmt.Errorf("%w: days must be in 1..%d, got %d", ErrInvalidArgument, MaxExtensionDays, e.Days)
	}
	return nil
}

// AppliedPayment is the durable record of a payment that extended the ledger.
type AppliedPayment struct {
	PaymentEvent
	NewSubscriptionEnd time.Time `json:"new_subscription_end"`
	ProcessedAt        time.Time `json:"processed_at"`
}

// YooKassaNotification is the top-level structure of a YooKassa webhook body.
type YooKassaNotification struct {
	Type   string                `json:"type"`
	Event  string                `json:"event"`
	Object YooKassaPaymentObject `json:"object"`
}

// YooKassaPaymentObject is the payment resource embedded in a notification.
type YooKassaPaymentObject struct {
	ID       string           `json:"id"`
	Status   string           `json:"status"`
	Metadata YooKassaMetadata `json:"metadata"`
}

// YooKassaMetadata is the correlation data attached at checkout.
type YooKassaMetadata struct {
	UserID  FlexibleInt `json:"user_id"`
	Days    FlexibleInt `json:"days"`
	OrderID string      `json:"order_id"`
}

// FlexibleInt decodes a JSON number or a numeric string.
type FlexibleInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", s, err)
		}
		*f = FlexibleInt(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexibleInt(v)
	return nil
}

// PaymentEvent converts the notification into the processor's input.
func (n YooKassaNotification) PaymentEvent() (PaymentEvent, error) {
	event := PaymentEvent{
		PaymentID: n.Object.ID,
		UserID:    int64(n.Object.Metadata.UserID),
		Days:      int(n.Object.Metadata.Days),
		OrderID:   n.Object.Metadata.OrderID,
	}
	if err := event.Validate(); err != nil {
		return PaymentEvent{}, err
	}
	return event, nil
}

package domain

import "time"

// Exchange and routing keys for the domain events published to RabbitMQ.
const (
	EventsExchange = "vpn_events"

	RoutingSubscriptionExtended = "subscription.extended"
	RoutingReferralBonus        = "referral.bonus.activated"
	RoutingVPNAccountReclaimed  = "vpn.account.reclaimed"
)

// SubscriptionExtendedEvent is published after a payment extended a subscription.
type SubscriptionExtendedEvent struct {
	UserID             int64     `json:"user_id"`
	PaymentID          string    `json:"payment_id"`
	OrderID            string    `json:"order_id"`
	Days               int       `json:"days"`
	NewSubscriptionEnd time.Time `json:"new_subscription_end"`
	Provisioned        bool      `json:"provisioned"`
}

// ReferralBonusEvent is published when a referrer received the referral bonus.
type ReferralBonusEvent struct {
	ReferrerID    int64 `json:"referrer_id"`
	InvitedUserID int64 `json:"invited_user_id"`
	Days          int   `json:"days"`
}

// VPNAccountReclaimedEvent is published when the sweeper deletes an abandoned account.
type VPNAccountReclaimedEvent struct {
	UserID     int64     `json:"user_id"`
	Username   string    `json:"username"`
	LastActive time.Time `json:"last_active"`
}

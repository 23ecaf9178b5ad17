/**
 * @description
 * Core ledger models: the user account as persisted in the `users` table and the
 * derived subscription status handed to the bot and the reconciliation jobs.
 */
package domain

import (
	"fmt"
	"time"
)

// User represents a row of the users table.
type User struct {
	ID              int64      `json:"user_id"`
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`
	InvitedCount    int        `json:"invited"`
	ReferralLink    string     `json:"referral_link"`
	VPNKey          *string    `json:"vpn_key,omitempty"`
	// ExpiryWarnedFor holds the subscription_end the expiry warning was last sent for.
	ExpiryWarnedFor *time.Time `json:"expiry_warned_for,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Status is the computed view of a user's subscription. It is never stored.
type Status struct {
	UserID          int64      `json:"user_id"`
	Active          bool       `json:"active"`
	DaysLeft        int        `json:"days_left"`
	SubscriptionEnd *time.Time `json:"subscription_end,omitempty"`
	InvitedCount    int        `json:"invited"`
	ReferralLink    string     `json:"referral_link"`
	VPNKey          *string    `json:"vpn_key,omitempty"`
}

// HasVPNKey reports whether a credential has been provisioned and stored.
func (s Status) HasVPNKey() bool {
	return s.VPNKey != nil && *s.VPNKey != ""
}

// StatusAt derives the subscription status of the user at the given instant.
// Active means subscription_end is strictly after now; days_left is the number of
// whole days remaining and is zero when inactive.
func (u User) StatusAt(now time.Time) Status {
	status := Status{
		UserID:          u.ID,
		SubscriptionEnd: u.SubscriptionEnd,
		InvitedCount:    u.InvitedCount,
		ReferralLink:    u.ReferralLink,
		VPNKey:          u.VPNKey,
	}
	if u.SubscriptionEnd != nil && u.SubscriptionEnd.After(now) {
		status.Active = true
		status.DaysLeft = int(u.SubscriptionEnd.Sub(now) / (24 * time.Hour))
	}
	return status
}

// MaxExtensionDays caps a single extension. Larger values would overflow
// time.Duration and move the end date backward.
const MaxExtensionDays = 3650

// ValidExtensionDays reports whether days can be added in one extension.
func ValidExtensionDays(days int) bool {
	return days > 0 && days <= MaxExtensionDays
}

// ExtendedEnd returns max(current, now) + days.
func ExtendedEnd(current *time.Time, now time.Time, days int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}

// VPNUsername is the deterministic account name used on the VPN panel.
func VPNUsername(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}

// ReferralLink builds the stable deep link that carries the referrer id.
func ReferralLink(botUsername string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=ref_%d", botUsername, userID)
}

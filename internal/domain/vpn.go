/**
 * @description
 * Mirror of the VPN account resource owned by the proxy-management panel.
 * The service never owns these records; it derives the desired state from the
 * ledger and applies the delta.
 */
package domain

import "time"

// VPN account states as reported by the panel.
const (
	VPNStatusActive   = "active"
	VPNStatusDisabled = "disabled"
)

// VPNAccount is a user account on the VPN panel.
type VPNAccount struct {
	Username        string     `json:"username"`
	Status          string     `json:"status"`
	SubscriptionURL string     `json:"subscription_url"`
	OnlineAt        *time.Time `json:"online_at,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// LastActive returns the last time the account was seen online, falling back to
// its creation time. ok is false when neither is known.
func (a VPNAccount) LastActive() (t time.Time, ok bool) {
	if a.OnlineAt != nil {
		return *a.OnlineAt, true
	}
	if a.CreatedAt != nil {
		return *a.CreatedAt, true
	}
	return time.Time{}, false
}

// Inbound is one capacity unit: an inbound proxy configuration able to host accounts.
type Inbound struct {
	Tag      string `json:"tag"`
	Protocol string `json:"protocol"`
	Network  string `json:"network"`
	TLS      string `json:"tls"`
	Port     int    `json:"port"`
}

// Capacity lists the panel's inbounds grouped by protocol.
type Capacity map[string][]Inbound

// Select picks the first eligible inbound for the protocol. The choice is
// deterministic and not load balanced.
func (c Capacity) Select(protocol string) (Inbound, bool) {
	inbounds := c[protocol]
	for _, inbound := range inbounds {
		if inbound.Tag != "" {
			return inbound, true
		}
	}
	return Inbound{}, false
}

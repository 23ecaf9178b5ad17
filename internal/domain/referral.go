package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReferralBonusDays is the entitlement granted to a referrer when an invited user first pays.
const ReferralBonusDays = 3

// ReferralEdge represents a row of the invited_users table.
type ReferralEdge struct {
	ReferrerID     int64     `json:"referrer_id"`
	InvitedUserID  int64     `json:"invited_user_id"`
	BonusActivated bool      `json:"bonus_activated"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReferralResult reports what RegisterReferral changed.
type ReferralResult struct {
	CreatedUser bool `json:"created_user"`
	EdgeCreated bool `json:"edge_created"`
}

const referralPrefix = "ref_"

// ParseReferralCode extracts the referrer id from a /start payload such as
// "ref_123". An empty payload yields nil without error.
func ParseReferralCode(payload string) (*int64, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}
	if !strings.HasPrefix(payload, referralPrefix) {
		return nil, fmt.Errorf("%w: unknown start payload %q", ErrInvalidArgument, payload)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, referralPrefix), 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: malformed referral code %q", ErrInvalidArgument, payload)
	}
	return &id, nil
}

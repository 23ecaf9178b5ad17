/**
 * @description
 * Error taxonomy shared by the ledger, the provisioning client and the
 * payment/sweep pipelines. Callers wrap these with fmt.Errorf("...: %w")
 * and inspect them with errors.Is.
 */
package domain

import "errors"

var (
	// ErrNotFound is returned when a user, referral edge or remote VPN account is absent.
	ErrNotFound = errors.New("not found")
	// ErrTransient covers failed remote calls (network errors, 5xx, throttling).
	ErrTransient = errors.New("transient network error")
	// ErrCapacityUnavailable is returned when the VPN panel has no eligible inbound.
	ErrCapacityUnavailable = errors.New("vpn capacity unavailable")
	// ErrAuthFailure is returned when the VPN panel rejects our credentials.
	ErrAuthFailure = errors.New("vpn panel authentication failed")
	// ErrDuplicateEvent marks a payment notification that was already applied.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrInvariantViolation signals a programming error, such as extending an unknown user.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrInvalidArgument is returned for malformed input (non-positive days, bad plan id).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSubscriptionInactive is returned when an operation requires an active subscription.
	ErrSubscriptionInactive = errors.New("subscription inactive")
	// ErrProvisioningUnavailable hides provisioning details from end users.
	ErrProvisioningUnavailable = errors.New("provisioning unavailable")
)

package links

import "errors"

// Redemption failures. All three are shown to the public as the same
// "link no longer valid" page; they stay distinct for logs and staff views.
var (
	ErrInvalidToken    = errors.New("upload link not found")
	ErrExpiredToken    = errors.New("upload link expired")
	ErrAlreadyConsumed = errors.New("upload link already used")
)

// Issuance failures.
var (
	ErrClientNotFound = errors.New("client not found")
	ErrNoConsent      = errors.New("client has not consented to SMS contact")
	ErrUnknownPurpose = errors.New("unknown link purpose")
	ErrLinkNotPending = errors.New("upload link is no longer pending")
)

// IsUnusable reports whether err means the link cannot accept uploads.
func IsUnusable(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrAlreadyConsumed)
}

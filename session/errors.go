package session

import "fmt"

const (
	// ErrMsgQuotaAnonymous is shown when an anonymous caller exhausts the
	// daily quota.
	ErrMsgQuotaAnonymous = "You have reached the daily limit of requests. Please sign in to enjoy more requests."
	// ErrMsgQuotaAuthenticated is shown when a signed-in caller exhausts the
	// daily quota.
	ErrMsgQuotaAuthenticated = "You have reached the daily limit of requests. Please try again tomorrow or Use your own API key."
	// ErrMsgGeneric is shown for any other request or stream failure.
	ErrMsgGeneric = "Something went wrong. Please try again."
	// ErrMsgAborted is recorded when the caller cancels a running generation.
	ErrMsgAborted = "Generation aborted"
)

// QuotaError reports an exhausted daily request quota (HTTP 429). The
// user-facing message depends on whether the caller was recognized as
// authenticated.
type QuotaError struct {
	Authenticated bool
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily request quota exhausted (authenticated=%t)", e.Authenticated)
}

// Message returns the user-facing text for this quota failure.
func (e *QuotaError) Message() string {
	if e.Authenticated {
		return ErrMsgQuotaAuthenticated
	}
	return ErrMsgQuotaAnonymous
}

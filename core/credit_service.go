package core

import "context"

// CreditService exposes the remaining-credit query of the external quota
// collaborator. Refresh re-fetches the balance from the backing service;
// sessions schedule a refresh shortly after every terminal transition so the
// caller observes an up-to-date balance without blocking stream teardown.
type CreditService interface {
	Remaining(ctx context.Context) (int, error)
	Refresh(ctx context.Context) error
}

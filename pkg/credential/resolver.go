// Package credential resolves a per-user provider key and reacts to
// provider-reported authentication and billing failures. There is no
// shared fallback key anywhere in this package: a missing or invalid
// credential aborts the run with a user-actionable error.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/scoutwatch/scoutd/pkg/models"
	"github.com/scoutwatch/scoutd/pkg/store"
)

// ErrCreditsExhausted is returned when the provider reports 402 for a
// user's key. The current run must abort immediately on this error.
var ErrCreditsExhausted = errors.New("credits exhausted, add your own key")

// ErrCredentialInvalid is returned when the provider reports 401 for a
// user's key.
var ErrCredentialInvalid = errors.New("credential invalid")

// ErrNoCredential is returned when the user has no active credential on
// file at all.
var ErrNoCredential = errors.New("no active credential for user")

// Resolver resolves a user's provider key and applies the side effects of
// provider-reported authentication failures.
type Resolver struct {
	store store.Store
}

// New builds a Resolver backed by store.
func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the active key for userID, or ErrNoCredential if none
// exists or the credential is already marked invalid.
func (r *Resolver) Resolve(ctx context.Context, userID string) (string, error) {
	rec, err := r.store.ResolveCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("resolve credential for %s: %w", userID, err)
	}
	if rec.Status != models.CredentialStatusActive {
		return "", ErrNoCredential
	}
	return rec.Key, nil
}

// HandleUnauthorized marks the user's credential invalid following a
// provider 401. It does not disable the user's scouts or abort other runs.
func (r *Resolver) HandleUnauthorized(ctx context.Context, userID string, reason string) error {
	if err := r.store.MarkCredentialInvalid(ctx, userID, reason); err != nil {
		return fmt.Errorf("mark credential invalid for %s: %w", userID, err)
	}
	return ErrCredentialInvalid
}

// HandlePaymentRequired marks the user's credential invalid and disables
// every scout the user owns, following a provider 402. The current run
// must treat the returned error as immediately terminal.
func (r *Resolver) HandlePaymentRequired(ctx context.Context, userID string, reason string) error {
	if err := r.store.MarkCredentialInvalid(ctx, userID, reason); err != nil {
		return fmt.Errorf("mark credential invalid for %s: %w", userID, err)
	}
	if err := r.store.DisableAllUserScouts(ctx, userID); err != nil {
		return fmt.Errorf("disable scouts for %s: %w", userID, err)
	}
	return ErrCreditsExhausted
}

// Package ledger defines the entitlement store: who paid for which product and
// where the generated document for it lives.
package ledger

import (
	"context"
	"errors"

	"astro-bot/internal/models"
)

var (
	// ErrUserNotFound is returned when no record exists for a Telegram id.
	ErrUserNotFound = errors.New("user not found")
	// ErrUnknownProduct is returned for a product kind outside the catalogue.
	ErrUnknownProduct = errors.New("unknown product kind")
)

// Ledger is the durable per-user record of entitlements and cached documents.
//
// CreateUser is insert-if-absent and safe to repeat. SetPaid and
// SetCachedDocument are single-field writes, so each call is independently
// safe to retry.
type Ledger interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateUser(ctx context.Context, id int64, name string) (*models.User, error)
	UpdateProfile(ctx context.Context, id int64, profile models.Profile) error
	UpdatePartner(ctx context.Context, id int64, partner models.Partner) error
	SetPaid(ctx context.Context, id int64, kind models.ProductKind) error
	SetCachedDocument(ctx context.Context, id int64, kind models.ProductKind, url string) error
}

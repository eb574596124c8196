package models

import (
	"time"
)

// Profile holds the birth data collected by the conversation.
type Profile struct {
	BirthDate    time.Time `json:"birth_date"`
	BirthTime    string    `json:"birth_time,omitempty"` // HH:MM, empty when unknown
	BirthCountry string    `json:"birth_country,omitempty"`
	BirthCity    string    `json:"birth_city,omitempty"`
}

// Complete reports whether the profile has enough data to build a report.
func (p Profile) Complete() bool {
	return !p.BirthDate.IsZero()
}

// Partner is the second person of a compatibility report.
type Partner struct {
	Name string `json:"name"`
	Profile
}

type User struct {
	TelegramID int64  `json:"tg_id"`
	Name       string `json:"name"`
	Profile
	Partner   Partner                `json:"partner"`
	Paid      map[ProductKind]bool   `json:"paid"`
	Documents map[ProductKind]string `json:"documents"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewUser returns a user with no entitlements.
func NewUser(id int64, name string) *User {
	now := time.Now().UTC()
	return &User{
		TelegramID: id,
		Name:       name,
		Paid:       make(map[ProductKind]bool),
		Documents:  make(map[ProductKind]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsPaid reports whether payment for kind has been confirmed.
func (u *User) IsPaid(kind ProductKind) bool {
	return u.Paid[kind]
}

// CachedDocument returns the stored document URL for kind. The reference is
// only honoured while the matching entitlement is set.
func (u *User) CachedDocument(kind ProductKind) string {
	if !u.IsPaid(kind) {
		return ""
	}
	return u.Documents[kind]
}

// Clone returns a deep copy, so callers can't mutate shared maps.
func (u *User) Clone() *User {
	c := *u
	c.Paid = make(map[ProductKind]bool, len(u.Paid))
	for k, v := range u.Paid {
		c.Paid[k] = v
	}
	c.Documents = make(map[ProductKind]string, len(u.Documents))
	for k, v := range u.Documents {
		c.Documents[k] = v
	}
	return &c
}

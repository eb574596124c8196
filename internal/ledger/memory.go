package ledger

import (
	"context"
	"sync"
	"time"

	"astro-bot/internal/models"
)

// Memory is an in-process Ledger. Records are lost on restart.
type Memory struct {
	mu    sync.RWMutex
	users map[int64]*models.User
}

func NewMemory() *Memory {
	return &Memory{users: make(map[int64]*models.User)}
}

func (m *Memory) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (m *Memory) CreateUser(ctx context.Context, id int64, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.users[id]; ok {
		return u.Clone(), nil
	}
	u := models.NewUser(id, name)
	m.users[id] = u
	return u.Clone(), nil
}

func (m *Memory) UpdateProfile(ctx context.Context, id int64, profile models.Profile) error {
	return m.update(id, func(u *models.User) {
		u.Profile = profile
	})
}

func (m *Memory) UpdatePartner(ctx context.Context, id int64, partner models.Partner) error {
	return m.update(id, func(u *models.User) {
		u.Partner = partner
	})
}

func (m *Memory) SetPaid(ctx context.Context, id int64, kind models.ProductKind) error {
	if !kind.Valid() {
		return ErrUnknownProduct
	}
	return m.update(id, func(u *models.User) {
		u.Paid[kind] = true
	})
}

func (m *Memory) SetCachedDocument(ctx context.Context, id int64, kind models.ProductKind, url string) error {
	if !kind.Valid() {
		return ErrUnknownProduct
	}
	return m.update(id, func(u *models.User) {
		u.Documents[kind] = url
	})
}

func (m *Memory) update(id int64, fn func(u *models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

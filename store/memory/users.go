package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/store"
)

// Users implements account.Store.
type Users struct {
	mu         sync.RWMutex
	byID       map[string]account.User
	byEmail    map[string]string
	byUsername map[string]string
}

var _ account.Store = (*Users)(nil)

func NewUsers() *Users {
	return &Users{
		byID:       make(map[string]account.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}
}

func (s *Users) FindByEmail(_ context.Context, email string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byEmail[email])
}

func (s *Users) FindByUsername(_ context.Context, username string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byUsername[username])
}

func (s *Users) FindByID(_ context.Context, id string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

func (s *Users) lookup(id string) (*account.User, error) {
	u, ok := s.byID[id]
	if !ok || id == "" {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *Users) Create(_ context.Context, u *account.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[u.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.byEmail[u.Email]; ok {
		return store.ErrConflict
	}
	if u.Username != "" {
		if _, ok := s.byUsername[u.Username]; ok {
			return store.ErrConflict
		}
		s.byUsername[u.Username] = u.ID
	}
	s.byEmail[u.Email] = u.ID
	s.byID[u.ID] = *u
	return nil
}

func (s *Users) update(id string, fn func(*account.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	s.byID[id] = u
	return nil
}

func (s *Users) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return s.update(id, func(u *account.User) {
		u.PasswordHash = passwordHash
		u.UpdatedAt = time.Now()
	})
}

func (s *Users) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *account.User) { u.LastLoginAt = &at })
}

func (s *Users) MarkVerified(_ context.Context, id string) error {
	return s.update(id, func(u *account.User) {
		u.Verified = true
		u.UpdatedAt = time.Now()
	})
}

func (s *Users) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(u *account.User) {
		u.Active = active
		u.UpdatedAt = time.Now()
	})
}

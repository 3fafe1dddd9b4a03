// Package memory provides an in-process Store used by tests and the
// example wiring. A single mutex serializes mutations; WithinTx runs
// against a deep copy of the state and commits by swapping it in, which
// gives the same all-or-nothing semantics as a database transaction.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/naballard/authflow/store"
)

// Memory is an in-process implementation of [store.Store].
type Memory struct {
	mu sync.Mutex
	st *memState
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{st: newMemState()}
}

type memState struct {
	users        map[string]store.User // by id
	usersByEmail map[string]string
	creds        map[string]store.PasswordCredential // by user id
	otps         map[string]store.PendingOTP         // by email
	tokens       map[string]store.RefreshToken       // by id
	tokenOrder   []string                            // insertion order
	identities   map[string]store.LinkedIdentity     // by provider|providerUserID
}

func newMemState() *memState {
	return &memState{
		users:        map[string]store.User{},
		usersByEmail: map[string]string{},
		creds:        map[string]store.PasswordCredential{},
		otps:         map[string]store.PendingOTP{},
		tokens:       map[string]store.RefreshToken{},
		identities:   map[string]store.LinkedIdentity{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.usersByEmail {
		c.usersByEmail[k] = v
	}
	for k, v := range s.creds {
		c.creds[k] = v
	}
	for k, v := range s.otps {
		c.otps[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	c.tokenOrder = append([]string(nil), s.tokenOrder...)
	for k, v := range s.identities {
		c.identities[k] = v
	}
	return c
}

func identityKey(provider store.Provider, providerUserID string) string {
	return string(provider) + "|" + providerUserID
}

// ---- state operations (no locking; callers hold the lock or own the clone) ----

func (s *memState) createUser(u *store.User) error {
	if _, exists := s.usersByEmail[u.Email]; exists {
		return store.ErrDuplicate
	}
	if _, exists := s.users[u.ID]; exists {
		return store.ErrDuplicate
	}
	s.users[u.ID] = *u
	s.usersByEmail[u.Email] = u.ID
	return nil
}

func (s *memState) updateUser(u *store.User) error {
	existing, ok := s.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	updated := *u
	updated.Email = existing.Email
	s.users[u.ID] = updated
	return nil
}

func (s *memState) userByID(id string) (*store.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *memState) userByEmail(email string) (*store.User, error) {
	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.userByID(id)
}

func (s *memState) createCredential(c *store.PasswordCredential) error {
	if _, exists := s.creds[c.UserID]; exists {
		return store.ErrDuplicate
	}
	s.creds[c.UserID] = *c
	return nil
}

func (s *memState) updateCredential(c *store.PasswordCredential) error {
	if _, ok := s.creds[c.UserID]; !ok {
		return store.ErrNotFound
	}
	s.creds[c.UserID] = *c
	return nil
}

func (s *memState) credentialByUserID(userID string) (*store.PasswordCredential, error) {
	c, ok := s.creds[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *memState) otpByEmail(email string) (*store.PendingOTP, error) {
	o, ok := s.otps[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (s *memState) saveOTP(o *store.PendingOTP) error {
	s.otps[o.Email] = *o
	return nil
}

func (s *memState) deleteOTP(email string) error {
	delete(s.otps, email)
	return nil
}

func (s *memState) createRefreshToken(t *store.RefreshToken) error {
	if _, exists := s.tokens[t.ID]; exists {
		return store.ErrDuplicate
	}
	s.tokens[t.ID] = *t
	s.tokenOrder = append(s.tokenOrder, t.ID)
	return nil
}

func (s *memState) refreshTokenByID(id string) (*store.RefreshToken, error) {
	t, ok := s.tokens[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *memState) recentRefreshTokens(limit int) ([]*store.RefreshToken, error) {
	if limit <= 0 {
		return nil, nil
	}
	out := make([]*store.RefreshToken, 0, limit)
	for i := len(s.tokenOrder) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.tokens[s.tokenOrder[i]]
		out = append(out, &t)
	}
	return out, nil
}

func (s *memState) revokeRefreshToken(id string, at time.Time) error {
	t, ok := s.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		s.tokens[id] = t
	}
	return nil
}

func (s *memState) rotateRefreshToken(oldID string, at time.Time, next *store.RefreshToken) error {
	old, ok := s.tokens[oldID]
	if !ok {
		return store.ErrNotFound
	}
	if old.RevokedAt != nil {
		return store.ErrAlreadyRevoked
	}
	if err := s.createRefreshToken(next); err != nil {
		return err
	}
	old.RevokedAt = &at
	replacedBy := next.ID
	old.ReplacedByTokenID = &replacedBy
	s.tokens[oldID] = old
	return nil
}

func (s *memState) createIdentity(li *store.LinkedIdentity) error {
	key := identityKey(li.Provider, li.ProviderUserID)
	if _, exists := s.identities[key]; exists {
		return store.ErrDuplicate
	}
	s.identities[key] = *li
	return nil
}

func (s *memState) identityByProviderUser(provider store.Provider, providerUserID string) (*store.LinkedIdentity, error) {
	li, ok := s.identities[identityKey(provider, providerUserID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &li, nil
}

// ---- Store implementation ----

func (m *Memory) CreateUser(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createUser(u)
}

func (m *Memory) UpdateUser(_ context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateUser(u)
}

func (m *Memory) UserByID(_ context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.userByID(id)
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.userByEmail(email)
}

func (m *Memory) CreateCredential(_ context.Context, c *store.PasswordCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createCredential(c)
}

func (m *Memory) UpdateCredential(_ context.Context, c *store.PasswordCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateCredential(c)
}

func (m *Memory) CredentialByUserID(_ context.Context, userID string) (*store.PasswordCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.credentialByUserID(userID)
}

func (m *Memory) OTPByEmail(_ context.Context, email string) (*store.PendingOTP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.otpByEmail(email)
}

func (m *Memory) SaveOTP(_ context.Context, o *store.PendingOTP) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.saveOTP(o)
}

func (m *Memory) DeleteOTP(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteOTP(email)
}

func (m *Memory) CreateRefreshToken(_ context.Context, t *store.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createRefreshToken(t)
}

func (m *Memory) RefreshTokenByID(_ context.Context, id string) (*store.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.refreshTokenByID(id)
}

func (m *Memory) RecentRefreshTokens(_ context.Context, limit int) ([]*store.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.recentRefreshTokens(limit)
}

func (m *Memory) RevokeRefreshToken(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.revokeRefreshToken(id, at)
}

func (m *Memory) RotateRefreshToken(_ context.Context, oldID string, at time.Time, next *store.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.rotateRefreshToken(oldID, at, next)
}

func (m *Memory) CreateIdentity(_ context.Context, li *store.LinkedIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createIdentity(li)
}

func (m *Memory) IdentityByProviderUser(_ context.Context, provider store.Provider, providerUserID string) (*store.LinkedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.identityByProviderUser(provider, providerUserID)
}

// WithinTx applies fn to a deep copy of the state and swaps the copy in
// only when fn succeeds, so concurrent observers never see a partially
// applied unit of work.
func (m *Memory) WithinTx(_ context.Context, fn func(tx store.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.st.clone()
	if err := fn(&txView{st: clone}); err != nil {
		return err
	}
	m.st = clone
	return nil
}

// txView exposes a cloned state as a Store. It performs no locking: the
// owning Memory holds its mutex for the duration of the transaction.
type txView struct {
	st *memState
}

func (v *txView) CreateUser(_ context.Context, u *store.User) error { return v.st.createUser(u) }
func (v *txView) UpdateUser(_ context.Context, u *store.User) error { return v.st.updateUser(u) }
func (v *txView) UserByID(_ context.Context, id string) (*store.User, error) {
	return v.st.userByID(id)
}
func (v *txView) UserByEmail(_ context.Context, email string) (*store.User, error) {
	return v.st.userByEmail(email)
}
func (v *txView) CreateCredential(_ context.Context, c *store.PasswordCredential) error {
	return v.st.createCredential(c)
}
func (v *txView) UpdateCredential(_ context.Context, c *store.PasswordCredential) error {
	return v.st.updateCredential(c)
}
func (v *txView) CredentialByUserID(_ context.Context, userID string) (*store.PasswordCredential, error) {
	return v.st.credentialByUserID(userID)
}
func (v *txView) OTPByEmail(_ context.Context, email string) (*store.PendingOTP, error) {
	return v.st.otpByEmail(email)
}
func (v *txView) SaveOTP(_ context.Context, o *store.PendingOTP) error { return v.st.saveOTP(o) }
func (v *txView) DeleteOTP(_ context.Context, email string) error      { return v.st.deleteOTP(email) }
func (v *txView) CreateRefreshToken(_ context.Context, t *store.RefreshToken) error {
	return v.st.createRefreshToken(t)
}
func (v *txView) RefreshTokenByID(_ context.Context, id string) (*store.RefreshToken, error) {
	return v.st.refreshTokenByID(id)
}
func (v *txView) RecentRefreshTokens(_ context.Context, limit int) ([]*store.RefreshToken, error) {
	return v.st.recentRefreshTokens(limit)
}
func (v *txView) RevokeRefreshToken(_ context.Context, id string, at time.Time) error {
	return v.st.revokeRefreshToken(id, at)
}
func (v *txView) RotateRefreshToken(_ context.Context, oldID string, at time.Time, next *store.RefreshToken) error {
	return v.st.rotateRefreshToken(oldID, at, next)
}
func (v *txView) CreateIdentity(_ context.Context, li *store.LinkedIdentity) error {
	return v.st.createIdentity(li)
}
func (v *txView) IdentityByProviderUser(_ context.Context, provider store.Provider, providerUserID string) (*store.LinkedIdentity, error) {
	return v.st.identityByProviderUser(provider, providerUserID)
}

// Nested units of work run in the already-open transaction.
func (v *txView) WithinTx(_ context.Context, fn func(tx store.Store) error) error {
	return fn(v)
}

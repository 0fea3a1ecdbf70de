// Package memstore is an in-memory [pjutsauth.Repository] for tests and the
// development server. A single mutex serializes every operation, which gives
// the same atomicity the postgres store gets from transactions.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pjuts-monitor/pjutsauth"
)

// Store keeps credentials, reset tokens and share codes in maps.
type Store struct {
	mu sync.Mutex

	credentials map[string]*pjutsauth.Credential // by id
	byEmail     map[string]string                // email -> id
	resetTokens map[string]*pjutsauth.ResetToken // by token hash
	shareCodes  map[string]*pjutsauth.ShareCode  // by id
	byCode      map[string]string                // code -> id

	now func() time.Time
}

var _ pjutsauth.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		credentials: make(map[string]*pjutsauth.Credential),
		byEmail:     make(map[string]string),
		resetTokens: make(map[string]*pjutsauth.ResetToken),
		shareCodes:  make(map[string]*pjutsauth.ShareCode),
		byCode:      make(map[string]string),
		now:         time.Now,
	}
}

// WithClock sets the clock used for CreatedAt stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// AddCredential seeds an account and returns its ID.
func (s *Store) AddCredential(email, passwordHash string, active bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	id := uuid.NewString()
	s.credentials[id] = &pjutsauth.Credential{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     active,
	}
	s.byEmail[email] = id
	return id
}

// SetCredentialActive flips the active flag. It reports false for unknown IDs.
func (s *Store) SetCredentialActive(id string, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if ok {
		c.IsActive = active
	}
	return ok
}

// PasswordHash returns the stored hash for id.
func (s *Store) PasswordHash(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return "", false
	}
	return c.PasswordHash, true
}

// ResetTokenCount returns the number of stored tokens for email.
func (s *Store) ResetTokenCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.resetTokens {
		if t.Email == email {
			n++
		}
	}
	return n
}

/*
====================================
CREDENTIALS
====================================
*/

func (s *Store) FindCredentialByEmail(_ context.Context, email string) (*pjutsauth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, pjutsauth.ErrRecordNotFound
	}
	c := *s.credentials[id]
	return &c, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, credentialID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[credentialID]
	if !ok {
		return pjutsauth.ErrRecordNotFound
	}
	c.PasswordHash = passwordHash
	return nil
}

/*
====================================
RESET TOKENS
====================================
*/

func (s *Store) ReplaceResetToken(_ context.Context, email, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, t := range s.resetTokens {
		if t.Email == email {
			delete(s.resetTokens, h)
		}
	}
	s.resetTokens[tokenHash] = &pjutsauth.ResetToken{
		Email:     email,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}
	return nil
}

func (s *Store) FindResetToken(_ context.Context, tokenHash string) (*pjutsauth.ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.resetTokens[tokenHash]
	if !ok {
		return nil, pjutsauth.ErrRecordNotFound
	}
	out := *t
	return &out, nil
}

func (s *Store) DeleteResetToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resetTokens[tokenHash]; !ok {
		return pjutsauth.ErrRecordNotFound
	}
	delete(s.resetTokens, tokenHash)
	return nil
}

func (s *Store) ConsumeResetToken(_ context.Context, tokenHash, credentialID, newPasswordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resetTokens[tokenHash]; !ok {
		return pjutsauth.ErrRecordNotFound
	}
	c, ok := s.credentials[credentialID]
	if !ok {
		return fmt.Errorf("credential %s: %w", credentialID, pjutsauth.ErrRecordNotFound)
	}
	delete(s.resetTokens, tokenHash)
	c.PasswordHash = newPasswordHash
	return nil
}

/*
====================================
SHARE CODES
====================================
*/

func (s *Store) FindShareCode(_ context.Context, code string) (*pjutsauth.ShareCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, pjutsauth.ErrRecordNotFound
	}
	return copyShareCode(s.shareCodes[id]), nil
}

func (s *Store) RecordShareCodeUse(_ context.Context, code string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return pjutsauth.ErrRecordNotFound
	}
	sc := s.shareCodes[id]
	sc.UsageCount++
	t := at
	sc.LastUsedAt = &t
	return nil
}

func (s *Store) ListShareCodes(_ context.Context) ([]pjutsauth.ShareCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]pjutsauth.ShareCode, 0, len(s.shareCodes))
	for _, sc := range s.shareCodes {
		out = append(out, *copyShareCode(sc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateShareCode(_ context.Context, code pjutsauth.ShareCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCode[code.Code]; exists {
		return pjutsauth.ErrRecordExists
	}
	if _, exists := s.shareCodes[code.ID]; exists {
		return pjutsauth.ErrRecordExists
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.now()
	}
	s.shareCodes[code.ID] = copyShareCode(&code)
	s.byCode[code.Code] = code.ID
	return nil
}

func (s *Store) SetShareCodeActive(_ context.Context, id string, active bool) (*pjutsauth.ShareCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.shareCodes[id]
	if !ok {
		return nil, pjutsauth.ErrRecordNotFound
	}
	sc.IsActive = active
	return copyShareCode(sc), nil
}

func (s *Store) DeleteShareCode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.shareCodes[id]
	if !ok {
		return pjutsauth.ErrRecordNotFound
	}
	delete(s.byCode, sc.Code)
	delete(s.shareCodes, id)
	return nil
}

func copyShareCode(sc *pjutsauth.ShareCode) *pjutsauth.ShareCode {
	out := *sc
	if sc.ExpiresAt != nil {
		t := *sc.ExpiresAt
		out.ExpiresAt = &t
	}
	if sc.LastUsedAt != nil {
		t := *sc.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}

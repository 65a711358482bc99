// Package storetest provides an in-memory store.Store for tests of the
// layers above the persistence boundary.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/paddleraise/authcore/pkg/store"
)

// MemStore is a thread-safe in-memory store.Store
type MemStore struct {
	mu         sync.Mutex
	principals map[string]*store.Principal
	sessions   map[string]*store.Session
	audits     []*store.AuditRecord
}

// New creates an empty MemStore
func New() *MemStore {
	return &MemStore{
		principals: make(map[string]*store.Principal),
		sessions:   make(map[string]*store.Session),
	}
}

// CreatePrincipal implements store.Store
func (m *MemStore) CreatePrincipal(ctx context.Context, p *store.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.principals {
		if existing.Email == p.Email {
			return store.ErrDuplicateEmail
		}
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

// GetPrincipalByID implements store.Store
func (m *MemStore) GetPrincipalByID(ctx context.Context, id string) (*store.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetPrincipalByEmail implements store.Store
func (m *MemStore) GetPrincipalByEmail(ctx context.Context, email string) (*store.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// UpdatePrincipal implements store.Store
func (m *MemStore) UpdatePrincipal(ctx context.Context, id string, patch store.PrincipalPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return store.ErrNotFound
	}
	if patch.PasswordHash != nil {
		p.PasswordHash = *patch.PasswordHash
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.TenantID != nil {
		p.TenantID = patch.TenantID
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	if patch.EmailVerified != nil {
		p.EmailVerified = *patch.EmailVerified
	}
	if patch.LastLoginAt != nil {
		p.LastLoginAt = patch.LastLoginAt
	}
	return nil
}

// CreateSession implements store.Store
func (m *MemStore) CreateSession(ctx context.Context, s *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

// GetSession implements store.Store
func (m *MemStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// ListSessions implements store.Store
func (m *MemStore) ListSessions(ctx context.Context, userID string) ([]*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	// ID breaks ties so ordering stays deterministic under equal timestamps
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RevokeSession implements store.Store
func (m *MemStore) RevokeSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	if s.RevokedAt != nil {
		return store.ErrAlreadyRevoked
	}
	s.RevokedAt = &at
	return nil
}

// RevokeUserSessions implements store.Store
func (m *MemStore) RevokeUserSessions(ctx context.Context, userID, exceptID string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, s := range m.sessions {
		if s.UserID == userID && s.ID != exceptID && s.RevokedAt == nil {
			s.RevokedAt = &at
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// ExpireSessions implements store.Store
func (m *MemStore) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.RevokedAt == nil && s.ExpiresAt.Before(now) {
			at := now
			s.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

// AppendAudit implements store.Store
func (m *MemStore) AppendAudit(ctx context.Context, rec *store.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.audits = append(m.audits, &cp)
	return nil
}

// ListAudit implements store.Store
func (m *MemStore) ListAudit(ctx context.Context, userID string, limit int) ([]*store.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.AuditRecord
	for i := len(m.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if m.audits[i].UserID == userID {
			cp := *m.audits[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AuditRecords returns a copy of everything appended so far
func (m *MemStore) AuditRecords() []*store.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.AuditRecord, len(m.audits))
	copy(out, m.audits)
	return out
}

// Close implements store.Store
func (m *MemStore) Close() error { return nil }

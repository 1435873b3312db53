package memory

import (
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/offlinepay/settlement/internal/models"
)

// Seeding and inspection helpers for tests.

var errNoUser = errors.New("memory: wallet account needs a user id")

func (s *Store) AddAccount(a models.Account) error {
	if a.Kind == models.AccountUserWallet && a.UserID == nil {
		return errNoUser
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.accounts[a.ID] = a
	s.mu.Unlock()
	return nil
}

func (s *Store) AddDevice(d models.Device) {
	s.mu.Lock()
	s.devices[d.ID] = d
	s.mu.Unlock()
}

func (s *Store) AddToken(t models.Token) {
	s.mu.Lock()
	s.tokens[t.ID] = t
	s.mu.Unlock()
}

func (s *Store) Token(id uuid.UUID) (models.Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	return t, ok
}

func (s *Store) Redemptions() []models.Redemption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Redemption, 0, len(s.redemptions))
	for _, r := range s.redemptions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Items() []models.RedemptionItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RedemptionItem(nil), s.items...)
}

func (s *Store) Entries() []models.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LedgerEntry(nil), s.entries...)
}

func (s *Store) Devices() []models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

func (s *Store) Audit() []models.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditLog(nil), s.audit...)
}

// HeldLocks reports how many lock keys are held or waited on.
func (s *Store) HeldLocks() int { return s.locks.size() }

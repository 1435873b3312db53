// Package memory is a non-relational Store. It models the two primitives the
// redemption protocol depends on explicitly: a key-partitioned mutex standing
// in for row locks, and a set-once map standing in for the unique
// idempotency index. Writes are staged per transaction and applied at commit.
package memory

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offlinepay/settlement/internal/ledger"
	"github.com/offlinepay/settlement/internal/models"
	"github.com/offlinepay/settlement/internal/repository"
)

type Option func(*Store)

// WithLockTimeout bounds every lock wait; expiry surfaces as
// repository.ErrConflict.
func WithLockTimeout(d time.Duration) Option { return func(s *Store) { s.lockTimeout = d } }

// WithCommitHook runs just before staged writes are applied. A non-nil error
// aborts the commit.
func WithCommitHook(fn func(ctx context.Context) error) Option {
	return func(s *Store) { s.beforeCommit = fn }
}

type Store struct {
	mu          sync.RWMutex
	tokens      map[uuid.UUID]models.Token
	redemptions map[string]models.Redemption // hex(idempotency key)
	items       []models.RedemptionItem
	devices     map[string]models.Device
	accounts    map[string]models.Account
	entries     []models.LedgerEntry
	audit       []models.AuditLog
	seq         int64

	locks        *keyedMutex
	lockTimeout  time.Duration
	beforeCommit func(ctx context.Context) error
}

var _ repository.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		tokens:      map[uuid.UUID]models.Token{},
		redemptions: map[string]models.Redemption{},
		devices:     map[string]models.Device{},
		accounts:    map[string]models.Account{},
		locks:       newKeyedMutex(),
		lockTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		s:           s,
		ctx:         ctx,
		held:        map[string]bool{},
		tokens:      map[uuid.UUID]models.Token{},
		created:     map[uuid.UUID]bool{},
		redemptions: map[string]models.Redemption{},
		devices:     map[string]models.Device{},
	}
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

type tx struct {
	s    *Store
	ctx  context.Context
	held map[string]bool

	tokens      map[uuid.UUID]models.Token
	created     map[uuid.UUID]bool
	redemptions map[string]models.Redemption
	items       []models.RedemptionItem
	devices     map[string]models.Device
	entries     []models.LedgerEntry
}

func (t *tx) Tokens() repository.Tokens           { return tokens{t} }
func (t *tx) Redemptions() repository.Redemptions { return redemptions{t} }
func (t *tx) Devices() repository.Devices         { return devices{t} }
func (t *tx) Accounts() repository.Accounts       { return accounts{t} }
func (t *tx) Ledger() repository.Ledger           { return ledgerRepo{t} }

func (t *tx) lock(key string) error {
	if t.held[key] {
		return nil
	}
	ctx, cancel := context.WithTimeout(t.ctx, t.s.lockTimeout)
	defer cancel()
	if err := t.s.locks.Lock(ctx, key); err != nil {
		if t.ctx.Err() != nil {
			return t.ctx.Err()
		}
		return fmt.Errorf("lock %s: %w", key, repository.ErrConflict)
	}
	t.held[key] = true
	return nil
}

func (t *tx) release() {
	for k := range t.held {
		t.s.locks.Unlock(k)
	}
	t.held = nil
}

func (t *tx) commit() error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	if t.s.beforeCommit != nil {
		if err := t.s.beforeCommit(t.ctx); err != nil {
			return err
		}
	}
	if len(t.entries) > 0 {
		if err := ledger.CheckBalanced(t.entries); err != nil {
			return err
		}
	}

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.created {
		if _, exists := s.tokens[id]; exists {
			return fmt.Errorf("token %s: duplicate primary key", id)
		}
	}
	for k := range t.redemptions {
		if cur, exists := s.redemptions[k]; exists && cur.ID != t.redemptions[k].ID {
			return fmt.Errorf("redemption %s: duplicate idempotency key", k)
		}
	}

	for id, tok := range t.tokens {
		s.tokens[id] = tok
	}
	for k, r := range t.redemptions {
		s.redemptions[k] = r
	}
	s.items = append(s.items, t.items...)
	for id, d := range t.devices {
		s.devices[id] = d
	}
	for _, e := range t.entries {
		s.seq++
		e.ID = s.seq
		e.CreatedAt = time.Now().UTC()
		s.entries = append(s.entries, e)
	}
	return nil
}

func tokenKey(id uuid.UUID) string { return "token:" + id.String() }
func idemKey(k []byte) string      { return hex.EncodeToString(k) }

// ----------------- tokens -----------------

type tokens struct{ t *tx }

func (r tokens) Create(_ context.Context, tok models.Token) error {
	if _, err := r.lookup(tok.ID); err == nil {
		return fmt.Errorf("token %s: duplicate primary key", tok.ID)
	}
	r.t.tokens[tok.ID] = tok
	r.t.created[tok.ID] = true
	return nil
}

func (r tokens) lookup(id uuid.UUID) (models.Token, error) {
	if tok, ok := r.t.tokens[id]; ok {
		return tok, nil
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	if tok, ok := r.t.s.tokens[id]; ok {
		return tok, nil
	}
	return models.Token{}, repository.ErrNotFound
}

func (r tokens) Get(_ context.Context, id uuid.UUID) (models.Token, error) { return r.lookup(id) }

func (r tokens) LockForUpdate(_ context.Context, id uuid.UUID) (models.Token, error) {
	if err := r.t.lock(tokenKey(id)); err != nil {
		return models.Token{}, err
	}
	return r.lookup(id)
}

func (r tokens) MarkRedeemed(_ context.Context, id uuid.UUID, owner string) error {
	if err := r.t.lock(tokenKey(id)); err != nil {
		return err
	}
	tok, err := r.lookup(id)
	if err != nil {
		return err
	}
	tok.State = models.TokenRedeemed
	tok.OwnerHint = &owner
	r.t.tokens[id] = tok
	return nil
}

func (r tokens) ListVisibleTo(_ context.Context, userID string, limit, offset int) ([]models.Token, error) {
	r.t.s.mu.RLock()
	var out []models.Token
	for _, tok := range r.t.s.tokens {
		if tok.OwnerHint == nil || *tok.OwnerHint == userID {
			out = append(out, tok)
		}
	}
	r.t.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ----------------- redemptions -----------------

type redemptions struct{ t *tx }

// InsertIgnore holds the key's lock until the transaction ends, the way a
// pending unique-index entry blocks concurrent inserters of the same key.
func (r redemptions) InsertIgnore(_ context.Context, red models.Redemption) (bool, error) {
	k := idemKey(red.IdempotencyKey)
	if err := r.t.lock("idem:" + k); err != nil {
		return false, err
	}
	if _, ok := r.t.redemptions[k]; ok {
		return false, nil
	}
	r.t.s.mu.RLock()
	_, exists := r.t.s.redemptions[k]
	r.t.s.mu.RUnlock()
	if exists {
		return false, nil
	}
	if red.Status == "" {
		red.Status = models.RedemptionPending
	}
	red.CreatedAt = time.Now().UTC()
	r.t.redemptions[k] = red
	return true, nil
}

func (r redemptions) GetByIdempotencyKey(_ context.Context, key []byte) (models.Redemption, error) {
	k := idemKey(key)
	if red, ok := r.t.redemptions[k]; ok {
		return red, nil
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	if red, ok := r.t.s.redemptions[k]; ok {
		return red, nil
	}
	return models.Redemption{}, repository.ErrNotFound
}

func (r redemptions) AddItem(_ context.Context, it models.RedemptionItem) error {
	for _, cur := range r.t.items {
		if cur == it {
			return nil
		}
	}
	r.t.items = append(r.t.items, it)
	return nil
}

func (r redemptions) MarkApplied(_ context.Context, id string) error {
	for k, red := range r.t.redemptions {
		if red.ID == id {
			red.Status = models.RedemptionApplied
			r.t.redemptions[k] = red
			return nil
		}
	}
	return fmt.Errorf("redemption %s: %w", id, repository.ErrNotFound)
}

// ----------------- devices -----------------

type devices struct{ t *tx }

func (r devices) Get(_ context.Context, id string) (models.Device, error) {
	if d, ok := r.t.devices[id]; ok {
		return d, nil
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	if d, ok := r.t.s.devices[id]; ok {
		return d, nil
	}
	return models.Device{}, repository.ErrNotFound
}

func (r devices) FirstByUser(_ context.Context, userID string) (models.Device, error) {
	var found []models.Device
	for _, d := range r.t.devices {
		if d.UserID == userID {
			found = append(found, d)
		}
	}
	r.t.s.mu.RLock()
	for _, d := range r.t.s.devices {
		if d.UserID == userID {
			found = append(found, d)
		}
	}
	r.t.s.mu.RUnlock()
	if len(found) == 0 {
		return models.Device{}, repository.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found[0], nil
}

func (r devices) Create(ctx context.Context, d models.Device) error {
	if _, err := r.Get(ctx, d.ID); err == nil {
		return fmt.Errorf("device %s: duplicate primary key", d.ID)
	}
	r.t.devices[d.ID] = d
	return nil
}

// ----------------- accounts -----------------

type accounts struct{ t *tx }

func (r accounts) find(match func(models.Account) bool) (models.Account, error) {
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	var found []models.Account
	for _, a := range r.t.s.accounts {
		if match(a) {
			found = append(found, a)
		}
	}
	if len(found) == 0 {
		return models.Account{}, repository.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found[0], nil
}

func (r accounts) Get(_ context.Context, id string) (models.Account, error) {
	return r.find(func(a models.Account) bool { return a.ID == id })
}

func (r accounts) Reserve(_ context.Context, currency string) (models.Account, error) {
	return r.find(func(a models.Account) bool {
		return a.Kind == models.AccountIssuanceReserve && a.Currency == currency
	})
}

func (r accounts) WalletOf(_ context.Context, userID, currency string) (models.Account, error) {
	return r.find(func(a models.Account) bool {
		return a.Kind == models.AccountUserWallet && a.Currency == currency && a.UserID != nil && *a.UserID == userID
	})
}

// ----------------- ledger -----------------

type ledgerRepo struct{ t *tx }

func (r ledgerRepo) Append(_ context.Context, entries []models.LedgerEntry) error {
	if err := ledger.CheckBalanced(entries); err != nil {
		return err
	}
	r.t.entries = append(r.t.entries, entries...)
	return nil
}

func (r ledgerRepo) ByTx(_ context.Context, txID string) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	r.t.s.mu.RLock()
	for _, e := range r.t.s.entries {
		if e.TxID == txID {
			out = append(out, e)
		}
	}
	r.t.s.mu.RUnlock()
	for _, e := range r.t.entries {
		if e.TxID == txID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r ledgerRepo) Balance(_ context.Context, accountID string) (int64, error) {
	r.t.s.mu.RLock()
	all := append([]models.LedgerEntry(nil), r.t.s.entries...)
	r.t.s.mu.RUnlock()
	return ledger.Balance(accountID, append(all, r.t.entries...)), nil
}

// ----------------- audit -----------------

// AuditLogs returns an in-memory audit sink sharing the store's lock.
func (s *Store) AuditLogs() repository.AuditLogs { return auditLogs{s} }

type auditLogs struct{ s *Store }

func (a auditLogs) Create(_ context.Context, l models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	a.s.mu.Lock()
	a.s.audit = append(a.s.audit, l)
	a.s.mu.Unlock()
	return nil
}

package billing

import (
	"context"
	"sort"
	"sync"

	"payhook/internal/types"
)

// MemoryStore is an in-process Store. InTx serializes transactions and
// applies fn to a copy of the state, committing only when fn succeeds.
type MemoryStore struct {
	mu     sync.Mutex
	state  memoryState
	faults map[string]error
}

type memoryState struct {
	subs        map[string]types.Subscription
	byProvider  map[string]string
	addons      map[string]types.SubscriptionAddon
	payments    []types.Payment
	paymentKeys map[string]bool
	audit       []types.AuditEntry
	auditKeys   map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: memoryState{
			subs:        make(map[string]types.Subscription),
			byProvider:  make(map[string]string),
			addons:      make(map[string]types.SubscriptionAddon),
			paymentKeys: make(map[string]bool),
			auditKeys:   make(map[string]bool),
		},
		faults: make(map[string]error),
	}
}

func (s *MemoryStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memoryTx{state: &work, faults: s.faults}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Seed adds a subscription as if created by the subscription subsystem.
func (s *MemoryStore) Seed(sub types.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.subs[sub.ID] = sub
	s.state.byProvider[sub.ProviderSubscriptionID] = sub.ID
}

// SeedAddon adds an addon row.
func (s *MemoryStore) SeedAddon(a types.SubscriptionAddon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.addons[addonKey(a.SubscriptionID, a.AddonCode)] = a
}

// InjectFault makes the named Tx method return err until cleared with nil.
func (s *MemoryStore) InjectFault(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

func (s *MemoryStore) Subscription(id string) (types.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.state.subs[id]
	return sub, ok
}

// Addons returns the addons of a subscription sorted by code.
func (s *MemoryStore) Addons(subscriptionID string) []types.SubscriptionAddon {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SubscriptionAddon
	for _, a := range s.state.addons {
		if a.SubscriptionID == subscriptionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddonCode < out[j].AddonCode })
	return out
}

func (s *MemoryStore) Payments() []types.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Payment(nil), s.state.payments...)
}

func (s *MemoryStore) AuditEntries() []types.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AuditEntry(nil), s.state.audit...)
}

func (st memoryState) clone() memoryState {
	out := memoryState{
		subs:        make(map[string]types.Subscription, len(st.subs)),
		byProvider:  make(map[string]string, len(st.byProvider)),
		addons:      make(map[string]types.SubscriptionAddon, len(st.addons)),
		payments:    append([]types.Payment(nil), st.payments...),
		paymentKeys: make(map[string]bool, len(st.paymentKeys)),
		audit:       append([]types.AuditEntry(nil), st.audit...),
		auditKeys:   make(map[string]bool, len(st.auditKeys)),
	}
	for k, v := range st.subs {
		out.subs[k] = v
	}
	for k, v := range st.byProvider {
		out.byProvider[k] = v
	}
	for k, v := range st.addons {
		out.addons[k] = v
	}
	for k, v := range st.paymentKeys {
		out.paymentKeys[k] = v
	}
	for k, v := range st.auditKeys {
		out.auditKeys[k] = v
	}
	return out
}

type memoryTx struct {
	state  *memoryState
	faults map[string]error
}

func (tx *memoryTx) SubscriptionByProviderID(_ context.Context, providerSubscriptionID string) (*types.Subscription, error) {
	if err := tx.faults["SubscriptionByProviderID"]; err != nil {
		return nil, err
	}
	id, ok := tx.state.byProvider[providerSubscriptionID]
	if !ok {
		return nil, nil
	}
	sub := tx.state.subs[id]
	return &sub, nil
}

func (tx *memoryTx) UpdateSubscription(_ context.Context, sub *types.Subscription) error {
	if err := tx.faults["UpdateSubscription"]; err != nil {
		return err
	}
	tx.state.subs[sub.ID] = *sub
	return nil
}

func (tx *memoryTx) SetSubscriptionStatus(_ context.Context, subscriptionID string, status types.SubscriptionStatus) error {
	if err := tx.faults["SetSubscriptionStatus"]; err != nil {
		return err
	}
	sub := tx.state.subs[subscriptionID]
	sub.Status = status
	tx.state.subs[subscriptionID] = sub
	return nil
}

func (tx *memoryTx) UpsertAddon(_ context.Context, addon types.SubscriptionAddon) error {
	if err := tx.faults["UpsertAddon"]; err != nil {
		return err
	}
	tx.state.addons[addonKey(addon.SubscriptionID, addon.AddonCode)] = addon
	return nil
}

func (tx *memoryTx) CancelAddons(_ context.Context, subscriptionID string) (int64, error) {
	if err := tx.faults["CancelAddons"]; err != nil {
		return 0, err
	}
	var n int64
	for k, a := range tx.state.addons {
		if a.SubscriptionID == subscriptionID && a.Status != types.AddonCanceled {
			a.Status = types.AddonCanceled
			tx.state.addons[k] = a
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, p types.Payment) error {
	if err := tx.faults["InsertPayment"]; err != nil {
		return err
	}
	key := p.ProviderInvoiceID + "/" + p.EventID
	if tx.state.paymentKeys[key] {
		return nil
	}
	tx.state.paymentKeys[key] = true
	tx.state.payments = append(tx.state.payments, p)
	return nil
}

func (tx *memoryTx) InsertAudit(_ context.Context, e types.AuditEntry) error {
	if err := tx.faults["InsertAudit"]; err != nil {
		return err
	}
	key := e.EventID + "/" + e.Action
	if tx.state.auditKeys[key] {
		return nil
	}
	tx.state.auditKeys[key] = true
	tx.state.audit = append(tx.state.audit, e)
	return nil
}

func addonKey(subscriptionID, code string) string {
	return subscriptionID + "/" + code
}

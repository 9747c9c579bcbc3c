// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/troopkit/redemption-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[generic.EntityID][]generic.Transaction
	idempotency  map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[generic.EntityID][]generic.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	m.appendLocked(tx)
	return nil
}

func (m *Memory) appendLocked(tx generic.Transaction) {
	txs := m.transactions[tx.EntityID]

	// Binary search for insertion point; equal timestamps keep arrival order
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})

	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.EntityID] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
}

func (m *Memory) Load(_ context.Context, entityID generic.EntityID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(entityID), nil
}

func (m *Memory) loadLocked(entityID generic.EntityID) []generic.Transaction {
	result := make([]generic.Transaction, len(m.transactions[entityID]))
	copy(result, m.transactions[entityID])
	return result
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// Entities returns every entity with at least one transaction.
func (m *Memory) Entities() []generic.EntityID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]generic.EntityID, 0, len(m.transactions))
	for id := range m.transactions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot captures the full ledger state so a caller running its own
// transaction can roll back.
func (m *Memory) Snapshot() MemorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Restore replaces the ledger state with a snapshot.
func (m *Memory) Restore(s MemorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = s.transactions
	m.idempotency = s.idempotency
}

func (m *Memory) snapshotLocked() MemorySnapshot {
	txsCopy := make(map[generic.EntityID][]generic.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txsCopy[k] = append([]generic.Transaction{}, v...)
	}
	idempCopy := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idempCopy[k] = v
	}
	return MemorySnapshot{transactions: txsCopy, idempotency: idempCopy}
}

type MemorySnapshot struct {
	transactions map[generic.EntityID][]generic.Transaction
	idempotency  map[string]bool
}

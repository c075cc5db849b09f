package store

import (
	"context"
	"sort"
	"sync"

	"github.com/atmx/payments-engine/internal/model"
)

// DefaultShards is the shard count used when NewMemoryStore gets n <= 0.
const DefaultShards = 32

type accountShard struct {
	mu       sync.Mutex
	accounts map[uint16]*model.Account
}

type historyShard struct {
	mu      sync.RWMutex
	entries map[uint32]*model.HistoryEntry
}

// MemoryStore implements AccountStore and History with sharded in-memory
// maps. Each shard has its own mutex, so operations on keys in different
// shards never contend. Nothing survives the process.
type MemoryStore struct {
	accounts []accountShard
	history  []historyShard
}

var (
	_ AccountStore = (*MemoryStore)(nil)
	_ History      = (*MemoryStore)(nil)
)

// NewMemoryStore creates an in-memory store with n shards per map.
func NewMemoryStore(n int) *MemoryStore {
	if n <= 0 {
		n = DefaultShards
	}
	s := &MemoryStore{
		accounts: make([]accountShard, n),
		history:  make([]historyShard, n),
	}
	for i := range s.accounts {
		s.accounts[i].accounts = make(map[uint16]*model.Account)
		s.history[i].entries = make(map[uint32]*model.HistoryEntry)
	}
	return s
}

func (s *MemoryStore) accountShard(clientID uint16) *accountShard {
	return &s.accounts[int(clientID)%len(s.accounts)]
}

func (s *MemoryStore) historyShard(txID uint32) *historyShard {
	return &s.history[int(txID%uint32(len(s.history)))]
}

// getLocked returns the account, creating it if needed. Caller holds sh.mu.
func (sh *accountShard) getLocked(clientID uint16) *model.Account {
	a, ok := sh.accounts[clientID]
	if !ok {
		a = &model.Account{ClientID: clientID}
		sh.accounts[clientID] = a
	}
	return a
}

func (s *MemoryStore) GetOrCreate(_ context.Context, clientID uint16) (model.Account, error) {
	sh := s.accountShard(clientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return *sh.getLocked(clientID), nil
}

func (s *MemoryStore) Account(_ context.Context, clientID uint16) (model.Account, error) {
	sh := s.accountShard(clientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.accounts[clientID]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return *a, nil
}

func (s *MemoryStore) Apply(_ context.Context, clientID uint16, delta model.Delta) (model.Account, error) {
	sh := s.accountShard(clientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a := sh.getLocked(clientID)
	*a = a.Apply(delta)
	return *a, nil
}

func (s *MemoryStore) Lock(_ context.Context, clientID uint16) (model.Account, error) {
	sh := s.accountShard(clientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a := sh.getLocked(clientID)
	a.Locked = true
	return *a, nil
}

// Snapshot copies all accounts out, one shard at a time.
func (s *MemoryStore) Snapshot(_ context.Context) ([]model.Account, error) {
	var out []model.Account
	for i := range s.accounts {
		sh := &s.accounts[i]
		sh.mu.Lock()
		for _, a := range sh.accounts {
			out = append(out, *a)
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (s *MemoryStore) InsertIfAbsent(_ context.Context, entry model.HistoryEntry) (bool, error) {
	sh := s.historyShard(entry.TxID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.entries[entry.TxID]; ok {
		return false, nil
	}
	// Store a copy to avoid external mutation.
	e := entry
	sh.entries[entry.TxID] = &e
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, txID uint32) (model.HistoryEntry, bool, error) {
	sh := s.historyShard(txID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[txID]
	if !ok {
		return model.HistoryEntry{}, false, nil
	}
	return *e, true, nil
}

func (s *MemoryStore) Transition(_ context.Context, txID uint32, expected, next model.DisputeState) (bool, error) {
	sh := s.historyShard(txID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[txID]
	if !ok || e.State != expected {
		return false, nil
	}
	e.State = next
	return true, nil
}

func (s *MemoryStore) Remove(_ context.Context, txID uint32) error {
	sh := s.historyShard(txID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.entries, txID)
	return nil
}

package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/payments-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMemoryStore_GetOrCreateIsIdempotent(t *testing.T) {
	s := NewMemoryStore(4)
	ctx := context.Background()

	a, err := s.GetOrCreate(ctx, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ClientID != 7 || !a.Total.IsZero() || a.Locked {
		t.Fatalf("expected zeroed unlocked account, got %+v", a)
	}

	if _, err := s.Apply(ctx, 7, model.Delta{Available: d("1.5"), Total: d("1.5")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	a, _ = s.GetOrCreate(ctx, 7)
	if !a.Available.Equal(d("1.5")) {
		t.Errorf("second GetOrCreate should not reset balances, got %s", a.Available)
	}
}

func TestMemoryStore_AccountDoesNotCreate(t *testing.T) {
	ms := NewMemoryStore(4)
	ctx := context.Background()

	if _, err := ms.Account(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if accounts, _ := ms.Snapshot(ctx); len(accounts) != 0 {
		t.Fatalf("lookup must not create an account, got %d", len(accounts))
	}

	ms.Apply(ctx, 9, model.Delta{Available: d("3"), Total: d("3")})
	a, err := ms.Account(ctx, 9)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !a.Total.Equal(d("3")) {
		t.Errorf("expected total 3, got %s", a.Total)
	}
}

func TestMemoryStore_ApplyKeepsBalance(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	deltas := []model.Delta{
		{Available: d("10.1234"), Total: d("10.1234")},
		{Available: d("-4.0001"), Held: d("4.0001")},
		{Held: d("-4.0001"), Total: d("-4.0001")},
	}
	for _, delta := range deltas {
		a, err := s.Apply(ctx, 1, delta)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !a.Balanced() {
			t.Fatalf("total != available + held after %+v: %+v", delta, a)
		}
	}

	a, _ := s.GetOrCreate(ctx, 1)
	if !a.Total.Equal(d("6.1233")) {
		t.Errorf("expected total 6.1233, got %s", a.Total)
	}
}

func TestMemoryStore_LockIsMonotonic(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	if _, err := s.Lock(ctx, 3); err != nil {
		t.Fatalf("lock: %v", err)
	}
	a, _ := s.Apply(ctx, 3, model.Delta{Available: d("1"), Total: d("1")})
	if !a.Locked {
		t.Error("Apply must not clear the locked flag")
	}
}

func TestMemoryStore_ApplyCanLock(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	s.Apply(ctx, 4, model.Delta{Available: d("5"), Total: d("5")})

	a, err := s.Apply(ctx, 4, model.Delta{Available: d("-2"), Total: d("-2"), Lock: true})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !a.Locked || !a.Total.Equal(d("3")) {
		t.Errorf("expected locked account with total 3, got %+v", a)
	}
	if got, _ := s.Account(ctx, 4); !got.Locked {
		t.Error("lock must be stored with the balance change")
	}
}

func TestMemoryStore_RemoveFreesTxID(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	s.InsertIfAbsent(ctx, model.HistoryEntry{TxID: 5, ClientID: 1, Kind: model.Deposit, Amount: d("1")})

	if err := s.Remove(ctx, 5); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, found, _ := s.Get(ctx, 5); found {
		t.Error("entry should be gone")
	}
	if ok, _ := s.InsertIfAbsent(ctx, model.HistoryEntry{TxID: 5, ClientID: 2, Kind: model.Deposit, Amount: d("1")}); !ok {
		t.Error("tx id should be free after remove")
	}
	if err := s.Remove(ctx, 6); err != nil {
		t.Errorf("removing a missing entry: %v", err)
	}
}

func TestMemoryStore_SnapshotSortedByClient(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for _, id := range []uint16{9, 2, 5, 1} {
		s.GetOrCreate(ctx, id)
	}

	accounts, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := []uint16{1, 2, 5, 9}
	if len(accounts) != len(want) {
		t.Fatalf("expected %d accounts, got %d", len(want), len(accounts))
	}
	for i, id := range want {
		if accounts[i].ClientID != id {
			t.Errorf("accounts[%d] = %d, want %d", i, accounts[i].ClientID, id)
		}
	}
}

func TestMemoryStore_HistoryInsertIfAbsent(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	e := model.HistoryEntry{TxID: 10, ClientID: 1, Kind: model.Deposit, Amount: d("2")}

	ok, _ := s.InsertIfAbsent(ctx, e)
	if !ok {
		t.Fatal("first insert should succeed")
	}
	dup := e
	dup.Amount = d("99")
	ok, _ = s.InsertIfAbsent(ctx, dup)
	if ok {
		t.Fatal("duplicate insert should be rejected")
	}

	got, found, _ := s.Get(ctx, 10)
	if !found || !got.Amount.Equal(d("2")) {
		t.Errorf("duplicate must not overwrite entry, got %+v", got)
	}
}

func TestMemoryStore_Transition(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	s.InsertIfAbsent(ctx, model.HistoryEntry{TxID: 1, ClientID: 1, Kind: model.Deposit, Amount: d("1")})

	if ok, _ := s.Transition(ctx, 1, model.Disputed, model.Resolved); ok {
		t.Error("transition from wrong state should fail")
	}
	if ok, _ := s.Transition(ctx, 1, model.Settled, model.Disputed); !ok {
		t.Error("settled -> disputed should succeed")
	}
	if ok, _ := s.Transition(ctx, 2, model.Settled, model.Disputed); ok {
		t.Error("transition of unknown tx should fail")
	}

	e, _, _ := s.Get(ctx, 1)
	if e.State != model.Disputed {
		t.Errorf("expected disputed, got %s", e.State)
	}
}

func TestMemoryStore_ConcurrentClients(t *testing.T) {
	s := NewMemoryStore(8)
	ctx := context.Background()

	const clients = 64
	const perClient = 200

	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			for i := 0; i < perClient; i++ {
				s.Apply(ctx, id, model.Delta{Available: d("0.0001"), Total: d("0.0001")})
				tx := uint32(id)*perClient + uint32(i)
				s.InsertIfAbsent(ctx, model.HistoryEntry{TxID: tx, ClientID: id, Kind: model.Deposit, Amount: d("0.0001")})
			}
		}(uint16(c))
	}
	wg.Wait()

	accounts, _ := s.Snapshot(ctx)
	if len(accounts) != clients {
		t.Fatalf("expected %d accounts, got %d", clients, len(accounts))
	}
	for _, a := range accounts {
		if !a.Total.Equal(d("0.02")) {
			t.Errorf("client %d: expected total 0.02, got %s", a.ClientID, a.Total)
		}
	}
}

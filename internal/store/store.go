// Package store defines the persistence interfaces for the payments engine.
// Implementations include sharded in-memory maps (default), PostgreSQL
// and, for the transaction history only, Redis.
//
// Per-client workers never touch the same key concurrently, so every
// implementation only needs per-key atomicity. No implementation takes a
// lock spanning all keys on the hot path.
package store

import (
	"context"
	"errors"

	"github.com/atmx/payments-engine/internal/model"
)

// ErrNotFound is returned by AccountStore.Account for an unseen client.
var ErrNotFound = errors.New("store: not found")

// AccountStore owns per-client balance state.
type AccountStore interface {
	// GetOrCreate returns the client's account, initializing a zeroed,
	// unlocked account on first access.
	GetOrCreate(ctx context.Context, clientID uint16) (model.Account, error)

	// Account returns the client's account without creating it, or
	// ErrNotFound.
	Account(ctx context.Context, clientID uint16) (model.Account, error)

	// Apply adds delta to the client's balances as one atomic unit and
	// returns the resulting account. The account is created if missing.
	// Delta.Lock locks it in the same update. Locked state is not
	// enforced here.
	Apply(ctx context.Context, clientID uint16, delta model.Delta) (model.Account, error)

	// Lock marks the client's account locked. Locking is monotonic.
	Lock(ctx context.Context, clientID uint16) (model.Account, error)

	// Snapshot returns every account, ordered by client id.
	Snapshot(ctx context.Context) ([]model.Account, error)
}

// History owns accepted deposit and withdrawal entries keyed by tx id.
type History interface {
	// InsertIfAbsent stores entry unless its tx id is already taken.
	// It returns false on a duplicate.
	InsertIfAbsent(ctx context.Context, entry model.HistoryEntry) (bool, error)

	// Get returns the entry for txID, if any.
	Get(ctx context.Context, txID uint32) (model.HistoryEntry, bool, error)

	// Transition moves txID from expected to next. It returns false when
	// the entry is missing or not in the expected state.
	Transition(ctx context.Context, txID uint32, expected, next model.DisputeState) (bool, error)

	// Remove deletes txID. It only undoes an insert whose account update
	// failed; removing a missing entry is not an error.
	Remove(ctx context.Context, txID uint32) error
}

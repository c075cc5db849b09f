// Package engine applies transaction records to client accounts.
//
// The Processor is the per-record state machine; the Dispatcher fans an
// ordered record stream out to one sequential worker per client.
//
// All monetary values use shopspring/decimal, never float64.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/payments-engine/internal/metrics"
	"github.com/atmx/payments-engine/internal/model"
	"github.com/atmx/payments-engine/internal/store"
)

// Observer is notified after a record's effect has been applied.
type Observer interface {
	AccountUpdated(rec model.Record, account model.Account)
}

// Processor computes and applies the effect of a single record.
//
// It holds no per-client state of its own: callers must not hand it two
// records of the same client concurrently. The Dispatcher guarantees that.
type Processor struct {
	accounts store.AccountStore
	history  store.History
	policy   Policy
	observer Observer
	logger   *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(pr *Processor) { pr.policy = p }
}

// WithObserver registers an observer for applied effects.
func WithObserver(o Observer) Option {
	return func(pr *Processor) { pr.observer = o }
}

// WithLogger sets the diagnostic sink. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(pr *Processor) { pr.logger = l }
}

// NewProcessor creates a processor over the given stores.
func NewProcessor(accounts store.AccountStore, history store.History, opts ...Option) *Processor {
	p := &Processor{
		accounts: accounts,
		history:  history,
		policy:   DefaultPolicy(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes rec and turns any failure into a diagnostic. It never
// fails: a discarded record only produces a log line and a metric.
func (p *Processor) Handle(ctx context.Context, rec model.Record) {
	start := time.Now()
	err := p.Process(ctx, rec)
	metrics.RecordLatency.WithLabelValues(rec.Type.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		p.Discard(ctx, rec, err)
		return
	}
	metrics.RecordsApplied.WithLabelValues(rec.Type.String()).Inc()
}

// Discard reports a record that will not be applied.
func (p *Processor) Discard(ctx context.Context, rec model.Record, err error) {
	reason := model.Reason(err)
	metrics.RecordsDiscarded.WithLabelValues(reason).Inc()

	level := slog.LevelWarn
	if reason == model.ReasonInternal {
		level = slog.LevelError
	}
	p.logger.Log(ctx, level, "record discarded",
		"reason", reason,
		"type", rec.Type.String(),
		"client", rec.ClientID,
		"tx", rec.TxID,
		"err", err,
	)
}

// Process applies rec to the stores. The client's account is created on
// first sight. A non-nil error means the record was discarded and no
// balance or history entry changed; errors.Is against the model.Err*
// values classifies it. Each record writes the history once and the
// account once; when the account write fails the history write is
// undone. Only if that undo fails too can a discarded record leave its
// history change behind, and the returned error then says so.
func (p *Processor) Process(ctx context.Context, rec model.Record) error {
	account, err := p.accounts.GetOrCreate(ctx, rec.ClientID)
	if err != nil {
		return err
	}
	if err := p.checkLocked(account, rec); err != nil {
		return err
	}

	switch rec.Type {
	case model.Deposit:
		return p.deposit(ctx, rec)
	case model.Withdrawal:
		return p.withdraw(ctx, rec, account)
	case model.Dispute:
		return p.dispute(ctx, rec)
	case model.Resolve:
		return p.resolve(ctx, rec)
	case model.Chargeback:
		return p.chargeback(ctx, rec, account.Locked)
	default:
		return fmt.Errorf("%w: %s", model.ErrUnparsableType, rec.Type)
	}
}

func (p *Processor) checkLocked(account model.Account, rec model.Record) error {
	if !account.Locked {
		return nil
	}
	switch p.policy.Locked {
	case LockedAllow:
		return nil
	case LockedBlockAll:
		return fmt.Errorf("%w: client %d", model.ErrAccountLocked, rec.ClientID)
	default:
		if rec.Type.MovesFunds() {
			return fmt.Errorf("%w: client %d", model.ErrAccountLocked, rec.ClientID)
		}
		return nil
	}
}

// requireAmount validates the amount of a deposit or withdrawal.
func requireAmount(rec model.Record) (decimal.Decimal, error) {
	if rec.Amount == nil {
		return decimal.Zero, fmt.Errorf("%w: %s tx %d", model.ErrMissingAmount, rec.Type, rec.TxID)
	}
	if !rec.Amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s tx %d amount %s", model.ErrInvalidAmount, rec.Type, rec.TxID, rec.Amount)
	}
	return *rec.Amount, nil
}

func (p *Processor) deposit(ctx context.Context, rec model.Record) error {
	amount, err := requireAmount(rec)
	if err != nil {
		return err
	}

	if err := p.record(ctx, rec, amount); err != nil {
		return err
	}
	return p.apply(ctx, rec, model.Delta{Available: amount, Total: amount}, p.unrecord(rec.TxID))
}

func (p *Processor) withdraw(ctx context.Context, rec model.Record, account model.Account) error {
	amount, err := requireAmount(rec)
	if err != nil {
		return err
	}

	// Funds are checked before the tx id is claimed, so a rejected
	// withdrawal leaves its id free.
	if account.Available.LessThan(amount) {
		return fmt.Errorf("%w: client %d tx %d wants %s, has %s",
			model.ErrInsufficientFunds, rec.ClientID, rec.TxID, amount, account.Available)
	}

	if err := p.record(ctx, rec, amount); err != nil {
		return err
	}
	neg := amount.Neg()
	return p.apply(ctx, rec, model.Delta{Available: neg, Total: neg}, p.unrecord(rec.TxID))
}

// record claims rec.TxID in the history.
func (p *Processor) record(ctx context.Context, rec model.Record, amount decimal.Decimal) error {
	inserted, err := p.history.InsertIfAbsent(ctx, model.HistoryEntry{
		TxID:     rec.TxID,
		ClientID: rec.ClientID,
		Kind:     rec.Type,
		Amount:   amount,
		State:    model.Settled,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: tx %d", model.ErrDuplicateTransaction, rec.TxID)
	}
	return nil
}

// unrecord undoes record.
func (p *Processor) unrecord(txID uint32) undoFunc {
	return func(ctx context.Context) error {
		return p.history.Remove(ctx, txID)
	}
}

// referenced looks up the entry a dispute, resolve or chargeback points at.
func (p *Processor) referenced(ctx context.Context, rec model.Record) (model.HistoryEntry, error) {
	entry, found, err := p.history.Get(ctx, rec.TxID)
	if err != nil {
		return model.HistoryEntry{}, err
	}
	if !found {
		return model.HistoryEntry{}, fmt.Errorf("%w: tx %d", model.ErrUnknownTransaction, rec.TxID)
	}
	if entry.ClientID != rec.ClientID {
		return model.HistoryEntry{}, fmt.Errorf("%w: tx %d belongs to client %d, not %d",
			model.ErrClientMismatch, rec.TxID, entry.ClientID, rec.ClientID)
	}
	if entry.Kind == model.Withdrawal && p.policy.Dispute != DisputeSymmetric {
		return model.HistoryEntry{}, fmt.Errorf("%w: tx %d is a withdrawal", model.ErrInvalidDisputeGuard, rec.TxID)
	}
	return entry, nil
}

// transition moves the entry from one dispute state to the next or
// reports the guard failure. The returned undo moves it back.
func (p *Processor) transition(ctx context.Context, rec model.Record, entry model.HistoryEntry, next model.DisputeState) (undoFunc, error) {
	ok, err := p.history.Transition(ctx, entry.TxID, entry.State, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s on tx %d in state %s",
			model.ErrInvalidDisputeGuard, rec.Type, rec.TxID, entry.State)
	}
	undo := func(ctx context.Context) error {
		ok, err := p.history.Transition(ctx, entry.TxID, next, entry.State)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tx %d left state %s", entry.TxID, next)
		}
		return nil
	}
	return undo, nil
}

func (p *Processor) dispute(ctx context.Context, rec model.Record) error {
	entry, err := p.referenced(ctx, rec)
	if err != nil {
		return err
	}
	if !entry.State.Disputable() {
		return fmt.Errorf("%w: dispute on tx %d in state %s", model.ErrInvalidDisputeGuard, rec.TxID, entry.State)
	}
	undo, err := p.transition(ctx, rec, entry, model.Disputed)
	if err != nil {
		return err
	}

	a := entry.Amount
	delta := model.Delta{Available: a.Neg(), Held: a}
	if entry.Kind == model.Withdrawal {
		delta = model.Delta{Held: a, Total: a}
	}
	return p.apply(ctx, rec, delta, undo)
}

func (p *Processor) resolve(ctx context.Context, rec model.Record) error {
	entry, err := p.referenced(ctx, rec)
	if err != nil {
		return err
	}
	if entry.State != model.Disputed {
		return fmt.Errorf("%w: resolve on tx %d in state %s", model.ErrInvalidDisputeGuard, rec.TxID, entry.State)
	}
	undo, err := p.transition(ctx, rec, entry, model.Resolved)
	if err != nil {
		return err
	}

	a := entry.Amount
	delta := model.Delta{Available: a, Held: a.Neg()}
	if entry.Kind == model.Withdrawal {
		delta = model.Delta{Held: a.Neg(), Total: a.Neg()}
	}
	return p.apply(ctx, rec, delta, undo)
}

func (p *Processor) chargeback(ctx context.Context, rec model.Record, wasLocked bool) error {
	entry, err := p.referenced(ctx, rec)
	if err != nil {
		return err
	}
	if entry.State != model.Disputed {
		return fmt.Errorf("%w: chargeback on tx %d in state %s", model.ErrInvalidDisputeGuard, rec.TxID, entry.State)
	}
	undo, err := p.transition(ctx, rec, entry, model.ChargedBack)
	if err != nil {
		return err
	}

	a := entry.Amount
	delta := model.Delta{Held: a.Neg(), Total: a.Neg(), Lock: true}
	if entry.Kind == model.Withdrawal {
		delta = model.Delta{Available: a, Held: a.Neg(), Lock: true}
	}
	if err := p.apply(ctx, rec, delta, undo); err != nil {
		return err
	}
	if !wasLocked {
		metrics.AccountsLocked.Inc()
	}
	return nil
}

// undoFunc reverts a history change whose account update failed.
type undoFunc func(ctx context.Context) error

// apply writes delta to the account. If that fails, undo reverts the
// history change made for the same record.
func (p *Processor) apply(ctx context.Context, rec model.Record, delta model.Delta, undo undoFunc) error {
	account, err := p.accounts.Apply(ctx, rec.ClientID, delta)
	if err != nil {
		if uerr := undo(context.WithoutCancel(ctx)); uerr != nil {
			return errors.Join(err, fmt.Errorf("undo history change for tx %d: %w", rec.TxID, uerr))
		}
		return err
	}
	p.notify(rec, account)
	return nil
}

func (p *Processor) notify(rec model.Record, account model.Account) {
	if p.observer != nil {
		p.observer.AccountUpdated(rec, account)
	}
}

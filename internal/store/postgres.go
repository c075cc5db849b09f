package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/payments-engine/internal/model"
)

// PostgresStore implements AccountStore and History on PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Every row carries the run id the store was created with, so two runs
// sharing a database never see each other's state.
type PostgresStore struct {
	pool  *pgxpool.Pool
	runID string
}

var (
	_ AccountStore = (*PostgresStore)(nil)
	_ History      = (*PostgresStore)(nil)
)

// NewPostgresStore creates a PostgreSQL-backed store scoped to runID.
func NewPostgresStore(pool *pgxpool.Pool, runID uuid.UUID) *PostgresStore {
	return &PostgresStore{pool: pool, runID: runID.String()}
}

// PostgresMigrations returns the schema statements, one per element.
func PostgresMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			run_id     TEXT     NOT NULL,
			client_id  INTEGER  NOT NULL,
			available  NUMERIC  NOT NULL DEFAULT 0,
			held       NUMERIC  NOT NULL DEFAULT 0,
			total      NUMERIC  NOT NULL DEFAULT 0,
			locked     BOOLEAN  NOT NULL DEFAULT FALSE,
			PRIMARY KEY (run_id, client_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tx_history (
			run_id     TEXT     NOT NULL,
			tx_id      BIGINT   NOT NULL,
			client_id  INTEGER  NOT NULL,
			kind       TEXT     NOT NULL,
			amount     NUMERIC  NOT NULL,
			state      TEXT     NOT NULL,
			PRIMARY KEY (run_id, tx_id)
		)`,
	}
}

// Migrate applies PostgresMigrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range PostgresMigrations() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- AccountStore ---

func (s *PostgresStore) GetOrCreate(ctx context.Context, clientID uint16) (model.Account, error) {
	// The no-op update makes RETURNING yield the row whether or not it existed.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (run_id, client_id) VALUES ($1, $2)
		 ON CONFLICT (run_id, client_id) DO UPDATE SET locked = accounts.locked
		 RETURNING available::TEXT, held::TEXT, total::TEXT, locked`,
		s.runID, int32(clientID))
	a, err := scanAccount(clientID, row)
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %d: %w", clientID, err)
	}
	return a, nil
}

func (s *PostgresStore) Account(ctx context.Context, clientID uint16) (model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT available::TEXT, held::TEXT, total::TEXT, locked
		 FROM accounts WHERE run_id = $1 AND client_id = $2`,
		s.runID, int32(clientID))
	a, err := scanAccount(clientID, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %d: %w", clientID, err)
	}
	return a, nil
}

func (s *PostgresStore) Apply(ctx context.Context, clientID uint16, delta model.Delta) (model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (run_id, client_id, available, held, total, locked)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (run_id, client_id) DO UPDATE
		 SET available = accounts.available + EXCLUDED.available,
		     held      = accounts.held + EXCLUDED.held,
		     total     = accounts.total + EXCLUDED.total,
		     locked    = accounts.locked OR EXCLUDED.locked
		 RETURNING available::TEXT, held::TEXT, total::TEXT, locked`,
		s.runID, int32(clientID),
		delta.Available.String(), delta.Held.String(), delta.Total.String(), delta.Lock,
	)
	a, err := scanAccount(clientID, row)
	if err != nil {
		return model.Account{}, fmt.Errorf("apply to account %d: %w", clientID, err)
	}
	return a, nil
}

func (s *PostgresStore) Lock(ctx context.Context, clientID uint16) (model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (run_id, client_id, locked) VALUES ($1, $2, TRUE)
		 ON CONFLICT (run_id, client_id) DO UPDATE SET locked = TRUE
		 RETURNING available::TEXT, held::TEXT, total::TEXT, locked`,
		s.runID, int32(clientID))
	a, err := scanAccount(clientID, row)
	if err != nil {
		return model.Account{}, fmt.Errorf("lock account %d: %w", clientID, err)
	}
	return a, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT client_id, available::TEXT, held::TEXT, total::TEXT, locked
		 FROM accounts WHERE run_id = $1 ORDER BY client_id`, s.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var clientID int32
		var availableS, heldS, totalS string
		var locked bool
		if err := rows.Scan(&clientID, &availableS, &heldS, &totalS, &locked); err != nil {
			return nil, err
		}
		a, err := buildAccount(uint16(clientID), availableS, heldS, totalS, locked)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- History ---

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, e model.HistoryEntry) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tx_history (run_id, tx_id, client_id, kind, amount, state)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)
		 ON CONFLICT (run_id, tx_id) DO NOTHING`,
		s.runID, int64(e.TxID), int32(e.ClientID), e.Kind.String(),
		e.Amount.String(), e.State.String(),
	)
	if err != nil {
		return false, fmt.Errorf("insert tx %d: %w", e.TxID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, txID uint32) (model.HistoryEntry, bool, error) {
	var clientID int32
	var kindS, amountS, stateS string

	err := s.pool.QueryRow(ctx,
		`SELECT client_id, kind, amount::TEXT, state
		 FROM tx_history WHERE run_id = $1 AND tx_id = $2`,
		s.runID, int64(txID)).
		Scan(&clientID, &kindS, &amountS, &stateS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.HistoryEntry{}, false, nil
	}
	if err != nil {
		return model.HistoryEntry{}, false, fmt.Errorf("get tx %d: %w", txID, err)
	}

	kind, ok := model.ParseTxType(kindS)
	if !ok {
		return model.HistoryEntry{}, false, fmt.Errorf("get tx %d: unknown kind %q", txID, kindS)
	}
	state, err := model.ParseDisputeState(stateS)
	if err != nil {
		return model.HistoryEntry{}, false, fmt.Errorf("get tx %d: %w", txID, err)
	}
	amount, err := decimal.NewFromString(amountS)
	if err != nil {
		return model.HistoryEntry{}, false, fmt.Errorf("get tx %d: %w", txID, err)
	}

	return model.HistoryEntry{
		TxID:     txID,
		ClientID: uint16(clientID),
		Kind:     kind,
		Amount:   amount,
		State:    state,
	}, true, nil
}

func (s *PostgresStore) Transition(ctx context.Context, txID uint32, expected, next model.DisputeState) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tx_history SET state = $4
		 WHERE run_id = $1 AND tx_id = $2 AND state = $3`,
		s.runID, int64(txID), expected.String(), next.String(),
	)
	if err != nil {
		return false, fmt.Errorf("transition tx %d: %w", txID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Remove(ctx context.Context, txID uint32) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM tx_history WHERE run_id = $1 AND tx_id = $2`,
		s.runID, int64(txID)); err != nil {
		return fmt.Errorf("remove tx %d: %w", txID, err)
	}
	return nil
}

// scanAccount reads a RETURNING row of (available, held, total, locked).
func scanAccount(clientID uint16, row pgx.Row) (model.Account, error) {
	var availableS, heldS, totalS string
	var locked bool
	if err := row.Scan(&availableS, &heldS, &totalS, &locked); err != nil {
		return model.Account{}, err
	}
	return buildAccount(clientID, availableS, heldS, totalS, locked)
}

func buildAccount(clientID uint16, availableS, heldS, totalS string, locked bool) (model.Account, error) {
	a := model.Account{ClientID: clientID, Locked: locked}
	var err error
	if a.Available, err = decimal.NewFromString(availableS); err != nil {
		return model.Account{}, err
	}
	if a.Held, err = decimal.NewFromString(heldS); err != nil {
		return model.Account{}, err
	}
	if a.Total, err = decimal.NewFromString(totalS); err != nil {
		return model.Account{}, err
	}
	return a, nil
}

package report

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/atmx/payments-engine/internal/model"
)

// SQLiteWriter exports the final snapshot to a SQLite database file.
// The accounts table is replaced on every export; it is a report, not
// state the engine reads back.
type SQLiteWriter struct {
	path string
}

// NewSQLiteWriter creates an exporter for the database at path.
func NewSQLiteWriter(path string) *SQLiteWriter {
	return &SQLiteWriter{path: path}
}

func (s *SQLiteWriter) Write(ctx context.Context, accounts []model.Account) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`DROP TABLE IF EXISTS accounts`,
		`CREATE TABLE accounts (
			client    INTEGER PRIMARY KEY,
			available TEXT    NOT NULL,
			held      TEXT    NOT NULL,
			total     TEXT    NOT NULL,
			locked    INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("prepare schema: %w", err)
		}
	}

	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO accounts (client, available, held, total, locked) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for _, a := range accounts {
		// Amounts stay TEXT: SQLite REAL would reintroduce float rounding.
		if _, err := ins.ExecContext(ctx, int(a.ClientID),
			model.FormatAmount(a.Available), model.FormatAmount(a.Held),
			model.FormatAmount(a.Total), a.Locked); err != nil {
			return fmt.Errorf("insert client %d: %w", a.ClientID, err)
		}
	}
	return tx.Commit()
}

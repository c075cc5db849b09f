// Package report renders final account snapshots.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/atmx/payments-engine/internal/model"
)

// Header is the column order of every tabular output.
var Header = []string{"client", "available", "held", "total", "locked"}

// Writer emits a set of accounts somewhere.
type Writer interface {
	Write(ctx context.Context, accounts []model.Account) error
}

// Row formats one account with amounts at four decimal places.
func Row(a model.Account) []string {
	return []string{
		strconv.Itoa(int(a.ClientID)),
		model.FormatAmount(a.Available),
		model.FormatAmount(a.Held),
		model.FormatAmount(a.Total),
		strconv.FormatBool(a.Locked),
	}
}

// CSVWriter writes accounts as CSV with a header row.
type CSVWriter struct {
	w io.Writer
}

// NewCSVWriter creates a CSV writer on w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: w}
}

func (c *CSVWriter) Write(_ context.Context, accounts []model.Account) error {
	cw := csv.NewWriter(c.w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, a := range accounts {
		if err := cw.Write(Row(a)); err != nil {
			return fmt.Errorf("write client %d: %w", a.ClientID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// TableWriter renders accounts as an ASCII table for humans.
type TableWriter struct {
	w io.Writer
}

// NewTableWriter creates a table writer on w.
func NewTableWriter(w io.Writer) *TableWriter {
	return &TableWriter{w: w}
}

func (t *TableWriter) Write(_ context.Context, accounts []model.Account) error {
	table := tablewriter.NewWriter(t.w)
	table.SetHeader(Header)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, a := range accounts {
		table.Append(Row(a))
	}
	table.Render()
	return nil
}

// Multi writes to every writer in order and stops at the first error.
type Multi []Writer

func (m Multi) Write(ctx context.Context, accounts []model.Account) error {
	for _, w := range m {
		if err := w.Write(ctx, accounts); err != nil {
			return err
		}
	}
	return nil
}

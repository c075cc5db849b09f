// Package ingest reads transaction records from CSV input.
//
// Expected columns: type, client, tx, amount. A header row is skipped,
// whitespace around fields is ignored and the amount column may be left
// out entirely for dispute, resolve and chargeback rows.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/payments-engine/internal/model"
)

// Reader turns CSV rows into model.Record values, one per Next call.
// It implements engine.RecordSource.
type Reader struct {
	csv       *csv.Reader
	checkHead bool
}

// NewReader wraps r. Rows may have three or four fields.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return &Reader{csv: cr, checkHead: true}
}

// Next returns the next record. At end of input it returns io.EOF. Row
// level problems are returned wrapped around model.ErrMalformedRecord or
// model.ErrUnparsableType; the reader stays usable after them. Any other
// error comes from the underlying stream.
func (r *Reader) Next() (model.Record, error) {
	for {
		fields, err := r.csv.Read()
		if err == io.EOF {
			return model.Record{}, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return model.Record{}, fmt.Errorf("line %d: %w: %v", perr.Line, model.ErrMalformedRecord, perr.Err)
		}
		if err != nil {
			return model.Record{}, err
		}

		line, _ := r.csv.FieldPos(0)
		if r.checkHead {
			r.checkHead = false
			if isHeader(fields) {
				continue
			}
		}
		return parseRow(line, fields)
	}
}

func isHeader(fields []string) bool {
	return len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "type")
}

func parseRow(line int, fields []string) (model.Record, error) {
	if len(fields) < 3 || len(fields) > 4 {
		return model.Record{}, fmt.Errorf("line %d: %w: want 3 or 4 fields, got %d",
			line, model.ErrMalformedRecord, len(fields))
	}

	typ, ok := model.ParseTxType(fields[0])
	if !ok {
		return model.Record{}, fmt.Errorf("line %d: %w: %q", line, model.ErrUnparsableType, strings.TrimSpace(fields[0]))
	}

	client, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 16)
	if err != nil {
		return model.Record{}, fmt.Errorf("line %d: %w: client %q", line, model.ErrMalformedRecord, fields[1])
	}
	tx, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 32)
	if err != nil {
		return model.Record{}, fmt.Errorf("line %d: %w: tx %q", line, model.ErrMalformedRecord, fields[2])
	}

	rec := model.Record{Type: typ, ClientID: uint16(client), TxID: uint32(tx)}

	// Only deposits and withdrawals carry an amount; it is ignored on the
	// other types. Whether a required amount is present is for the engine
	// to decide.
	if typ.MovesFunds() && len(fields) == 4 {
		raw := strings.TrimSpace(fields[3])
		if raw != "" {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return model.Record{}, fmt.Errorf("line %d: %w: amount %q", line, model.ErrMalformedRecord, raw)
			}
			v = model.TruncateAmount(v)
			rec.Amount = &v
		}
	}
	return rec, nil
}

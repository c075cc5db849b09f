package report

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/payments-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sample() []model.Account {
	return []model.Account{
		{ClientID: 1, Available: d("1.5"), Held: d("0"), Total: d("1.5")},
		{ClientID: 2, Available: d("2"), Held: d("0.1234"), Total: d("2.1234"), Locked: true},
	}
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewCSVWriter(&buf).Write(context.Background(), sample()))

	want := "client,available,held,total,locked\n" +
		"1,1.5000,0.0000,1.5000,false\n" +
		"2,2.0000,0.1234,2.1234,true\n"
	assert.Equal(t, want, buf.String())
}

func TestCSVWriter_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewCSVWriter(&buf).Write(context.Background(), nil))
	assert.Equal(t, "client,available,held,total,locked\n", buf.String())
}

func TestTableWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewTableWriter(&buf).Write(context.Background(), sample()))

	out := buf.String()
	assert.Contains(t, strings.ToLower(out), "available")
	assert.Contains(t, out, "2.1234")
	assert.Contains(t, out, "true")
}

type failingWriter struct{ calls *int }

func (f failingWriter) Write(context.Context, []model.Account) error {
	*f.calls++
	return errors.New("boom")
}

func TestMulti_StopsAtFirstError(t *testing.T) {
	var calls int
	var buf bytes.Buffer
	m := Multi{failingWriter{&calls}, NewCSVWriter(&buf)}

	require.Error(t, m.Write(context.Background(), sample()))
	assert.Equal(t, 1, calls)
	assert.Empty(t, buf.String())
}

func TestSQLiteWriter_ReplacesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.db")
	w := NewSQLiteWriter(path)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, sample()))
	require.NoError(t, w.Write(ctx, sample()[:1]))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&n))
	assert.Equal(t, 1, n)

	var available, total string
	var locked bool
	require.NoError(t, db.QueryRow(`SELECT available, total, locked FROM accounts WHERE client = 1`).
		Scan(&available, &total, &locked))
	assert.Equal(t, "1.5000", available)
	assert.Equal(t, "1.5000", total)
	assert.False(t, locked)
}

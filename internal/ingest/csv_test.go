package ingest

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/payments-engine/internal/model"
)

func readAll(t *testing.T, input string) ([]model.Record, []error) {
	t.Helper()
	r := NewReader(strings.NewReader(input))

	var recs []model.Record
	var errs []error
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return recs, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		recs = append(recs, rec)
	}
}

func TestReader_ParsesAllTypes(t *testing.T) {
	input := `type, client, tx, amount
deposit, 1, 1, 1.0
withdrawal, 1, 2, 0.5
dispute, 1, 1,
resolve, 1, 1
chargeback, 2, 7,
`
	recs, errs := readAll(t, input)
	require.Empty(t, errs)
	require.Len(t, recs, 5)

	assert.Equal(t, model.Deposit, recs[0].Type)
	assert.Equal(t, uint16(1), recs[0].ClientID)
	assert.Equal(t, uint32(1), recs[0].TxID)
	require.NotNil(t, recs[0].Amount)
	assert.Equal(t, "1.0000", model.FormatAmount(*recs[0].Amount))

	assert.Equal(t, model.Withdrawal, recs[1].Type)
	assert.Equal(t, model.Dispute, recs[2].Type)
	assert.Nil(t, recs[2].Amount)
	assert.Equal(t, model.Resolve, recs[3].Type)
	assert.Nil(t, recs[3].Amount)
	assert.Equal(t, model.Chargeback, recs[4].Type)
	assert.Equal(t, uint16(2), recs[4].ClientID)
}

func TestReader_TruncatesAmounts(t *testing.T) {
	recs, errs := readAll(t, "type,client,tx,amount\ndeposit,1,1,123.45678\nwithdrawal,1,2,0.99999\n")
	require.Empty(t, errs)
	require.Len(t, recs, 2)

	assert.Equal(t, "123.4567", model.FormatAmount(*recs[0].Amount))
	assert.Equal(t, "0.9999", model.FormatAmount(*recs[1].Amount))
}

func TestReader_NoHeader(t *testing.T) {
	recs, errs := readAll(t, "deposit,1,1,5\n")
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, model.Deposit, recs[0].Type)
}

func TestReader_MissingAmountLeftForEngine(t *testing.T) {
	recs, errs := readAll(t, "type,client,tx,amount\ndeposit,1,1,\nwithdrawal,1,2\n")
	require.Empty(t, errs)
	require.Len(t, recs, 2)
	assert.Nil(t, recs[0].Amount)
	assert.Nil(t, recs[1].Amount)
}

func TestReader_BadRowsAreSkippable(t *testing.T) {
	input := `type,client,tx,amount
transfer,1,1,1.0
deposit,abc,2,1.0
deposit,1,-3,1.0
deposit,1,4,lots
deposit,70000,5,1.0
deposit,1
deposit,1,6,2.5
`
	recs, errs := readAll(t, input)

	require.Len(t, recs, 1, "only the last row is valid")
	assert.Equal(t, uint32(6), recs[0].TxID)

	require.Len(t, errs, 6)
	assert.ErrorIs(t, errs[0], model.ErrUnparsableType)
	for _, err := range errs[1:] {
		assert.ErrorIs(t, err, model.ErrMalformedRecord)
	}
	assert.Contains(t, errs[0].Error(), "line 2")
}

func TestReader_TypeIsCaseInsensitive(t *testing.T) {
	recs, errs := readAll(t, "DEPOSIT,1,1,1\n Dispute ,1,1,\n")
	require.Empty(t, errs)
	require.Len(t, recs, 2)
	assert.Equal(t, model.Dispute, recs[1].Type)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestReader_StreamErrorIsNotARowError(t *testing.T) {
	_, err := NewReader(failingReader{}).Next()
	require.Error(t, err)
	assert.Equal(t, model.ReasonInternal, model.Reason(err))
}

// Package model defines the core domain types shared across the payments engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept for every amount.
// Input amounts are truncated (not rounded) to this scale.
const AmountScale int32 = 4

// TxType is the closed set of record kinds accepted by the engine.
type TxType uint8

const (
	Deposit TxType = iota + 1
	Withdrawal
	Dispute
	Resolve
	Chargeback
)

var txTypeNames = map[TxType]string{
	Deposit:    "deposit",
	Withdrawal: "withdrawal",
	Dispute:    "dispute",
	Resolve:    "resolve",
	Chargeback: "chargeback",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("txtype(%d)", uint8(t))
}

// ParseTxType maps the textual type column onto a TxType.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseTxType(s string) (TxType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range txTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// MovesFunds reports whether the record carries an amount of its own
// (deposits and withdrawals) rather than referencing an earlier record.
func (t TxType) MovesFunds() bool {
	return t == Deposit || t == Withdrawal
}

// Record is one parsed input row. Amount is nil for dispute, resolve
// and chargeback rows.
type Record struct {
	Type     TxType           `json:"type"`
	ClientID uint16           `json:"client"`
	TxID     uint32           `json:"tx"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

// DisputeState is the lifecycle tag of a history entry.
type DisputeState uint8

const (
	Settled DisputeState = iota
	Disputed
	Resolved
	ChargedBack
)

func (s DisputeState) String() string {
	switch s {
	case Settled:
		return "settled"
	case Disputed:
		return "disputed"
	case Resolved:
		return "resolved"
	case ChargedBack:
		return "charged_back"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseDisputeState is the inverse of DisputeState.String.
func ParseDisputeState(s string) (DisputeState, error) {
	switch s {
	case "settled":
		return Settled, nil
	case "disputed":
		return Disputed, nil
	case "resolved":
		return Resolved, nil
	case "charged_back":
		return ChargedBack, nil
	}
	return 0, fmt.Errorf("unknown dispute state %q", s)
}

// Disputable reports whether an entry in this state may be disputed.
// A resolved entry behaves like a settled one.
func (s DisputeState) Disputable() bool {
	return s == Settled || s == Resolved
}

// HistoryEntry is an accepted deposit or withdrawal. Created once, then
// only its State changes. Amount is always positive; Kind tells the sign.
type HistoryEntry struct {
	TxID     uint32          `json:"tx"`
	ClientID uint16          `json:"client"`
	Kind     TxType          `json:"kind"`
	Amount   decimal.Decimal `json:"amount"`
	State    DisputeState    `json:"state"`
}

// Account is a client's balance snapshot.
// Invariant: Total == Available + Held.
type Account struct {
	ClientID  uint16          `json:"client"`
	Available decimal.Decimal `json:"available"`
	Held      decimal.Decimal `json:"held"`
	Total     decimal.Decimal `json:"total"`
	Locked    bool            `json:"locked"`
}

// Delta is a signed change applied atomically to one account. Lock also
// locks the account in the same update.
type Delta struct {
	Available decimal.Decimal
	Held      decimal.Decimal
	Total     decimal.Decimal
	Lock      bool
}

// Apply returns a copy of a with d added to its balances.
func (a Account) Apply(d Delta) Account {
	a.Available = a.Available.Add(d.Available)
	a.Held = a.Held.Add(d.Held)
	a.Total = a.Total.Add(d.Total)
	if d.Lock {
		a.Locked = true
	}
	return a
}

// Balanced reports whether Total == Available + Held.
func (a Account) Balanced() bool {
	return a.Total.Equal(a.Available.Add(a.Held))
}

// TruncateAmount cuts an amount to AmountScale fractional digits,
// rounding toward zero.
func TruncateAmount(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(AmountScale)
}

// FormatAmount renders an amount with exactly AmountScale fractional digits.
func FormatAmount(v decimal.Decimal) string {
	return v.StringFixed(AmountScale)
}

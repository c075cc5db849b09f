package engine

import (
	"fmt"
	"strings"
)

// LockedPolicy decides which records a locked account still accepts.
type LockedPolicy string

const (
	// LockedBlockFunds discards deposits and withdrawals on a locked
	// account but still applies dispute, resolve and chargeback records.
	LockedBlockFunds LockedPolicy = "block-funds"
	// LockedBlockAll discards every record for a locked account.
	LockedBlockAll LockedPolicy = "block-all"
	// LockedAllow ignores the locked flag entirely.
	LockedAllow LockedPolicy = "allow"
)

// DisputePolicy decides whether withdrawals can be disputed.
type DisputePolicy string

const (
	// DisputeDepositsOnly discards disputes that reference a withdrawal.
	DisputeDepositsOnly DisputePolicy = "deposits-only"
	// DisputeSymmetric lets a withdrawal be disputed: the withdrawn amount
	// is held (total rises), a resolve releases the hold and a chargeback
	// returns the funds to available.
	DisputeSymmetric DisputePolicy = "symmetric"
)

// Policy groups the business rules left open by the dispute process.
type Policy struct {
	Locked  LockedPolicy
	Dispute DisputePolicy
}

// DefaultPolicy matches the reference behavior: frozen accounts reject
// new funds movement, and only deposits can be disputed.
func DefaultPolicy() Policy {
	return Policy{Locked: LockedBlockFunds, Dispute: DisputeDepositsOnly}
}

// ParseLockedPolicy validates a locked policy name.
func ParseLockedPolicy(s string) (LockedPolicy, error) {
	switch p := LockedPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case LockedBlockFunds, LockedBlockAll, LockedAllow:
		return p, nil
	}
	return "", fmt.Errorf("engine: unknown locked policy %q (want block-funds, block-all or allow)", s)
}

// ParseDisputePolicy validates a dispute policy name.
func ParseDisputePolicy(s string) (DisputePolicy, error) {
	switch p := DisputePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DisputeDepositsOnly, DisputeSymmetric:
		return p, nil
	}
	return "", fmt.Errorf("engine: unknown dispute policy %q (want deposits-only or symmetric)", s)
}

package domain

import (
	"strings"
	"time"
)

// DeriveState computes the validity of a record from its expiration date,
// its void flag and the current calendar date.
func DeriveState(expirationDate time.Time, voided bool, today time.Time) State {
	if voided {
		return StateVoided
	}
	if expirationDate.Before(today) {
		return StateExpired
	}
	return StateUpToDate
}

// EffectiveState is the state a reader should see for p on today. A stored
// UP_TO_DATE that has lapsed but was not reconciled yet reads as EXPIRED.
func EffectiveState(p Payment, today time.Time) State {
	if p.Voided {
		return StateVoided
	}
	switch p.State {
	case StateExpired, StatePending:
		return p.State
	default:
		return DeriveState(p.ExpirationDate, false, today)
	}
}

// ComputeExpiration returns paymentDate advanced by durationDays calendar days.
func ComputeExpiration(paymentDate time.Time, durationDays int) time.Time {
	return paymentDate.AddDate(0, 0, durationDays)
}

// ResolveDuration picks the period length from an explicit day count or a
// month count. Supplying both, or a non-positive value, is rejected.
func ResolveDuration(durationDays, months *int) (int, error) {
	switch {
	case durationDays != nil && months != nil:
		return 0, &ValidationError{Field: "duration", Reason: "give either days or months, not both"}
	case durationDays != nil:
		if *durationDays < 1 {
			return 0, &ValidationError{Field: "duration_days", Reason: "must be at least 1"}
		}
		return *durationDays, nil
	case months != nil:
		if *months < 1 {
			return 0, &ValidationError{Field: "months", Reason: "must be at least 1"}
		}
		return *months * DaysPerMonth, nil
	default:
		return DefaultDurationDays, nil
	}
}

// ParseState parses the canonical state name.
func ParseState(raw string) (State, bool) {
	switch State(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatePending:
		return StatePending, true
	case StateUpToDate:
		return StateUpToDate, true
	case StateExpired:
		return StateExpired, true
	case StateVoided:
		return StateVoided, true
	}
	return "", false
}

// ParseStateFilter maps query input onto the closed state enum. Case is
// ignored and spaces or dashes stand for underscores, so "up-to-date" and
// "Up To Date" both select UP_TO_DATE. Anything else yields nil, which
// means the listing is not filtered by state.
func ParseStateFilter(raw string) *State {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return nil
	}
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	state, ok := ParseState(normalized)
	if !ok {
		return nil
	}
	return &state
}

func ParseMethod(raw string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(raw))) {
	case MethodCash:
		return MethodCash, nil
	case MethodDebit:
		return MethodDebit, nil
	case MethodCredit:
		return MethodCredit, nil
	case MethodTransfer:
		return MethodTransfer, nil
	case MethodOther:
		return MethodOther, nil
	}
	return "", &ValidationError{Field: "method", Reason: "unsupported payment method"}
}

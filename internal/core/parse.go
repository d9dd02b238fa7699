package core

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNotMonetary marks input that does not read as an amount. Routine:
	// the caller drops the message without logging an error.
	ErrNotMonetary = errors.New("not a monetary message")

	// ErrZeroAmount marks a parsed magnitude of exactly zero. Treated the
	// same as ErrNotMonetary by callers.
	ErrZeroAmount = errors.New("zero amount")

	// ErrUnknownCategory marks a category with no rule in the table.
	ErrUnknownCategory = errors.New("unknown category")
)

// entryRe splits a ledger message into its leading numeral and trailing note.
// Digit groups may be separated by spaces ("12 500.30 groceries"). The whole
// fraction run is captured so ToCents can reject over-precise amounts instead
// of silently truncating them.
var entryRe = regexp.MustCompile(`^\s*([+-]?\d[\d ]*(?:[.,]\d+)?)\s*(.*)$`)

// ParsedEntry is one accepted ledger message: a non-negative magnitude, the
// sign the user typed, and whatever text followed the numeral.
type ParsedEntry struct {
	Amount Money  // always non-negative
	Sign   int    // +1 or -1, from the raw numeral
	Note   string // trimmed, may be empty
}

// ParseEntry normalizes a raw message into a ParsedEntry.
//
// Returns ErrNotMonetary when the text does not start with a numeral and
// ErrZeroAmount when the magnitude is zero; both mean "ignore this message".
// The sign is never folded into the magnitude.
func ParseEntry(raw string) (ParsedEntry, error) {
	m := entryRe.FindStringSubmatch(raw)
	if m == nil {
		return ParsedEntry{}, ErrNotMonetary
	}

	cents, err := ToCents(m[1])
	if err != nil {
		return ParsedEntry{}, err
	}

	sign := 1
	if cents < 0 {
		sign = -1
		cents = -cents
	}
	if cents == 0 {
		return ParsedEntry{}, ErrZeroAmount
	}

	return ParsedEntry{
		Amount: Money{Cents: cents},
		Sign:   sign,
		Note:   strings.TrimSpace(m[2]),
	}, nil
}

// Package core holds the ledger domain: money arithmetic, message parsing,
// the category rule table and the engine that applies entries to balances.
// Everything in here is pure; storage and delivery live elsewhere.
package core

import (
	"math"
	"strconv"
	"strings"
)

// Money is an amount in minor currency units (cents). All arithmetic in the
// ledger is integer cents; floats never enter the picture.
type Money struct {
	Cents int64
}

// ToCents converts a decimal string to signed cents.
//
// Accepted: optional leading +/-, digits, optional fraction of 1-2 digits
// introduced by '.' or ','. Internal spaces (thousands groups) are stripped.
// The fraction is right-padded to two digits, so "5.5" means 550 cents.
//
//	ToCents("2453.13") -> 245313
//	ToCents("2453,1")  -> 245310
//	ToCents("2453")    -> 245300
func ToCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, ErrNotMonetary
	}

	sign := int64(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" || fracPart == "" && strings.Contains(s, ".") {
		return 0, ErrNotMonetary
	}
	if len(fracPart) > 2 || strings.Contains(fracPart, ".") {
		return 0, ErrNotMonetary
	}
	for _, r := range intPart {
		if r < '0' || r > '9' {
			return 0, ErrNotMonetary
		}
	}
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return 0, ErrNotMonetary
		}
	}

	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrNotMonetary
	}
	// Prevent overflow in iv*100+fv; the fraction can add up to 99.
	const maxSafeInt64 = (math.MaxInt64 - 99) / 100
	if iv > maxSafeInt64 {
		return 0, ErrNotMonetary
	}

	// Right-pad the fraction to two digits: "5" -> "50"
	fracPart = (fracPart + "00")[:2]
	fv, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, ErrNotMonetary
	}

	return sign * (iv*100 + fv), nil
}

// FormatCents renders cents as "1 234.56" with space-separated thousands,
// matching the balance message style. Negative values keep a leading minus.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := cents / 100
	frac := cents % 100

	digits := strconv.FormatInt(whole, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}

	return sign + b.String() + "." + pad2(frac)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// String implements fmt.Stringer using FormatCents.
func (m Money) String() string {
	return FormatCents(m.Cents)
}

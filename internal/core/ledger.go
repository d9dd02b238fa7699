package core

import "time"

// ChatLedger is the per-chat counter pair. The two balances are independent
// accounts: no entry ever moves both. Balances are signed and may go
// negative; overdraft is allowed and never clamped.
type ChatLedger struct {
	GeneralCents int64
	FoodCents    int64
}

// Entry is one audit record. AmountCents is always the non-negative
// magnitude; the effect on the balance is carried by Direction.
type Entry struct {
	ThreadID    int64
	Category    Category
	AmountCents int64
	Direction   Direction
	Note        string
	At          time.Time
}

// Delta reports the exact arithmetic of one balance update, so that the
// rendered line can be verified against the stored balances.
type Delta struct {
	Target   Target
	OldCents int64
	Amount   int64  // non-negative
	Op       string // "+" or "-"
	NewCents int64
}

// String renders "old op amount = new" with formatted amounts.
func (d Delta) String() string {
	return FormatCents(d.OldCents) + " " + d.Op + " " + FormatCents(d.Amount) + " = " + FormatCents(d.NewCents)
}

// ApplyResult is everything one accepted entry produces.
type ApplyResult struct {
	Ledger ChatLedger
	Record Entry
	Delta  Delta
}

// Engine applies parsed entries to chat ledgers according to a rule table.
type Engine struct {
	rules RuleTable
}

func NewEngine(rules RuleTable) *Engine {
	return &Engine{rules: rules}
}

// Apply computes the next ledger state for one entry. Exactly one balance
// changes; the other is returned untouched. The entry's sign inverts the
// rule's default direction, so a negative expense reads as a refund.
//
// Apply is pure: persistence and delivery are the caller's job, which is
// what keeps the no-partial-write guarantee simple.
func (e *Engine) Apply(ledger ChatLedger, category Category, entry ParsedEntry, threadID int64, at time.Time) (ApplyResult, error) {
	rule, err := e.rules.Rule(category)
	if err != nil {
		return ApplyResult{}, err
	}

	dir := rule.PositiveMeans
	if entry.Sign < 0 {
		dir = dir.Opposite()
	}

	var old int64
	switch rule.Target {
	case TargetFood:
		old = ledger.FoodCents
	default:
		old = ledger.GeneralCents
	}

	delta := Delta{Target: rule.Target, OldCents: old, Amount: entry.Amount.Cents}
	if dir == Credit {
		delta.Op = "+"
		delta.NewCents = old + entry.Amount.Cents
	} else {
		delta.Op = "-"
		delta.NewCents = old - entry.Amount.Cents
	}

	next := ledger
	if rule.Target == TargetFood {
		next.FoodCents = delta.NewCents
	} else {
		next.GeneralCents = delta.NewCents
	}

	return ApplyResult{
		Ledger: next,
		Record: Entry{
			ThreadID:    threadID,
			Category:    category,
			AmountCents: entry.Amount.Cents,
			Direction:   dir,
			Note:        entry.Note,
			At:          at,
		},
		Delta: delta,
	}, nil
}

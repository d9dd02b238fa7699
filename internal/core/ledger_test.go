package core

import (
	"errors"
	"testing"
	"time"
)

func mustParse(t *testing.T, raw string) ParsedEntry {
	t.Helper()
	e, err := ParseEntry(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return e
}

func TestApplyScenarios(t *testing.T) {
	engine := NewEngine(NewRuleTable(true))
	at := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		ledger      ChatLedger
		category    Category
		raw         string
		wantGeneral int64
		wantFood    int64
		wantDir     Direction
		wantNote    string
		wantDelta   string
	}{
		{
			name:        "food spend",
			ledger:      ChatLedger{FoodCents: 2000000},
			category:    CategoryFood,
			raw:         "453.20 lunch",
			wantGeneral: 0,
			wantFood:    1954680,
			wantDir:     Debit,
			wantNote:    "lunch",
			wantDelta:   "20 000.00 - 453.20 = 19 546.80",
		},
		{
			name:        "topup income",
			ledger:      ChatLedger{},
			category:    CategoryTopup,
			raw:         "1000 salary",
			wantGeneral: 100000,
			wantFood:    0,
			wantDir:     Credit,
			wantNote:    "salary",
			wantDelta:   "0.00 + 1 000.00 = 1 000.00",
		},
		{
			name:        "apartment refund inverts",
			ledger:      ChatLedger{GeneralCents: 500000},
			category:    CategoryApartment,
			raw:         "-2000 refund",
			wantGeneral: 700000,
			wantFood:    0,
			wantDir:     Credit,
			wantNote:    "refund",
			wantDelta:   "5 000.00 + 2 000.00 = 7 000.00",
		},
		{
			name:        "food topup credits food only",
			ledger:      ChatLedger{GeneralCents: 123, FoodCents: 1000},
			category:    CategoryFoodTopup,
			raw:         "5 weekly budget",
			wantGeneral: 123,
			wantFood:    1500,
			wantDir:     Credit,
			wantNote:    "weekly budget",
			wantDelta:   "10.00 + 5.00 = 15.00",
		},
		{
			name:        "general expense overdraft allowed",
			ledger:      ChatLedger{GeneralCents: 100},
			category:    CategoryOther,
			raw:         "3 bus",
			wantGeneral: -200,
			wantFood:    0,
			wantDir:     Debit,
			wantNote:    "bus",
			wantDelta:   "1.00 - 3.00 = -2.00",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := engine.Apply(tc.ledger, tc.category, mustParse(t, tc.raw), 42, at)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if res.Ledger.GeneralCents != tc.wantGeneral || res.Ledger.FoodCents != tc.wantFood {
				t.Fatalf("ledger = %+v, want general=%d food=%d", res.Ledger, tc.wantGeneral, tc.wantFood)
			}
			if res.Record.Direction != tc.wantDir {
				t.Fatalf("direction = %q, want %q", res.Record.Direction, tc.wantDir)
			}
			if res.Record.Note != tc.wantNote {
				t.Fatalf("note = %q, want %q", res.Record.Note, tc.wantNote)
			}
			if res.Record.AmountCents < 0 {
				t.Fatalf("record amount must be non-negative, got %d", res.Record.AmountCents)
			}
			if res.Record.ThreadID != 42 || !res.Record.At.Equal(at) {
				t.Fatalf("record passthrough broken: %+v", res.Record)
			}
			if res.Delta.String() != tc.wantDelta {
				t.Fatalf("delta = %q, want %q", res.Delta.String(), tc.wantDelta)
			}
		})
	}
}

// The delta triple must report exactly the arithmetic that produced the new
// balance, for every category and both signs.
func TestDeltaMatchesArithmetic(t *testing.T) {
	engine := NewEngine(NewRuleTable(true))
	start := ChatLedger{GeneralCents: 777, FoodCents: -350}

	for cat := range NewRuleTable(true) {
		for _, raw := range []string{"12.34 x", "-12.34 x"} {
			res, err := engine.Apply(start, cat, mustParse(t, raw), 1, time.Now())
			if err != nil {
				t.Fatalf("%s %q: %v", cat, raw, err)
			}
			d := res.Delta
			var want int64
			switch d.Op {
			case "+":
				want = d.OldCents + d.Amount
			case "-":
				want = d.OldCents - d.Amount
			default:
				t.Fatalf("%s %q: bad op %q", cat, raw, d.Op)
			}
			if d.NewCents != want {
				t.Fatalf("%s %q: delta arithmetic %d %s %d != %d", cat, raw, d.OldCents, d.Op, d.Amount, d.NewCents)
			}
			var got int64
			if d.Target == TargetFood {
				got = res.Ledger.FoodCents
			} else {
				got = res.Ledger.GeneralCents
			}
			if got != d.NewCents {
				t.Fatalf("%s %q: delta new %d disagrees with ledger %d", cat, raw, d.NewCents, got)
			}
		}
	}
}

// Food and general are independent accounts: for every category exactly one
// balance changes and the other is untouched.
func TestApplyTouchesExactlyOneBalance(t *testing.T) {
	engine := NewEngine(NewRuleTable(true))
	start := ChatLedger{GeneralCents: 10000, FoodCents: 20000}

	for cat, rule := range NewRuleTable(true) {
		for _, raw := range []string{"5", "-5"} {
			res, err := engine.Apply(start, cat, mustParse(t, raw), 1, time.Now())
			if err != nil {
				t.Fatalf("%s %q: %v", cat, raw, err)
			}
			generalChanged := res.Ledger.GeneralCents != start.GeneralCents
			foodChanged := res.Ledger.FoodCents != start.FoodCents
			if generalChanged == foodChanged {
				t.Fatalf("%s %q: expected exactly one balance to change, got %+v", cat, raw, res.Ledger)
			}
			if rule.Target == TargetFood && generalChanged {
				t.Fatalf("%s: food category touched the general balance", cat)
			}
			if rule.Target == TargetGeneral && foodChanged {
				t.Fatalf("%s: general category touched the food balance", cat)
			}
		}
	}
}

// Applying +X then -X to the same category returns the balance to its
// starting value.
func TestSignInversionLaw(t *testing.T) {
	engine := NewEngine(NewRuleTable(true))
	start := ChatLedger{GeneralCents: 31337, FoodCents: 4242}

	for cat := range NewRuleTable(true) {
		mid, err := engine.Apply(start, cat, mustParse(t, "250.75 note"), 1, time.Now())
		if err != nil {
			t.Fatalf("%s forward: %v", cat, err)
		}
		back, err := engine.Apply(mid.Ledger, cat, mustParse(t, "-250.75 note"), 1, time.Now())
		if err != nil {
			t.Fatalf("%s backward: %v", cat, err)
		}
		if back.Ledger != start {
			t.Fatalf("%s: +X then -X did not restore %+v, got %+v", cat, start, back.Ledger)
		}
		if mid.Record.Direction == back.Record.Direction {
			t.Fatalf("%s: inverted entry kept direction %q", cat, mid.Record.Direction)
		}
	}
}

func TestApplyUnknownCategory(t *testing.T) {
	engine := NewEngine(NewRuleTable(true))
	_, err := engine.Apply(ChatLedger{}, Category("vacation"), mustParse(t, "10"), 1, time.Now())
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestFoodRuleConfigurable(t *testing.T) {
	// Some deployments treat a positive numeral in the food topic as a
	// top-up instead of a spend.
	engine := NewEngine(NewRuleTable(false))
	res, err := engine.Apply(ChatLedger{FoodCents: 100}, CategoryFood, mustParse(t, "5"), 1, time.Now())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Ledger.FoodCents != 600 || res.Record.Direction != Credit {
		t.Fatalf("inverted food rule broken: %+v", res)
	}
}

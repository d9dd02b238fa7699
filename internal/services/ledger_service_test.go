package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"kassa/internal/amqp"
	"kassa/internal/core"
	"kassa/internal/store/memory"
)

type fakePublisher struct {
	notifies []*amqp.NotifyMessage
	syncs    []*amqp.EntrySyncMessage
	fail     bool
}

func (f *fakePublisher) PublishNotify(_ context.Context, msg *amqp.NotifyMessage) error {
	if f.fail {
		return errors.New("broker down")
	}
	f.notifies = append(f.notifies, msg)
	return nil
}

func (f *fakePublisher) PublishEntrySync(_ context.Context, msg *amqp.EntrySyncMessage) error {
	if f.fail {
		return errors.New("broker down")
	}
	f.syncs = append(f.syncs, msg)
	return nil
}

func testBindings() map[int64]core.Category {
	return map[int64]core.Category{
		33:  core.CategoryFood,
		247: core.CategoryFoodTopup,
		80:  core.CategoryTopup,
		78:  core.CategoryApartment,
		34:  core.CategoryOther,
	}
}

func newTestService(pub Publisher) (*LedgerService, *memory.Store) {
	st := memory.New(core.ChatLedger{GeneralCents: 0, FoodCents: 2000000})
	svc := NewLedgerService(core.NewEngine(core.NewRuleTable(true)), testBindings(), st, pub)
	svc.now = func() time.Time { return time.Date(2025, 3, 14, 9, 5, 0, 0, time.UTC) }
	return svc, st
}

// brokenCommitStore refuses to persist entries, as a store with a failing
// disk or connection would.
type brokenCommitStore struct {
	*memory.Store
}

func (b brokenCommitStore) CommitEntry(context.Context, int64, core.ChatLedger, core.Entry) (int64, error) {
	return 0, errors.New("store unavailable")
}

func TestHandleMessageAppliesAndPublishes(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	svc, st := newTestService(pub)

	res, err := svc.HandleMessage(ctx, InboundEvent{ChatID: 1, ThreadID: 33, Text: "453.20 lunch"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Ledger.FoodCents != 1954680 || res.Ledger.GeneralCents != 0 {
		t.Fatalf("ledger = %+v", res.Ledger)
	}
	if got := res.Delta.String(); got != "20 000.00 - 453.20 = 19 546.80" {
		t.Fatalf("delta = %q", got)
	}

	stored, err := st.Ledger(ctx, 1)
	if err != nil || stored != res.Ledger {
		t.Fatalf("stored ledger = %+v, err = %v", stored, err)
	}
	entries, err := st.Recent(ctx, 1, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("audit entries = %d, err = %v", len(entries), err)
	}
	if entries[0].Note != "lunch" || entries[0].Direction != core.Debit {
		t.Fatalf("audit record = %+v", entries[0])
	}

	if len(pub.notifies) != 1 || len(pub.syncs) != 1 {
		t.Fatalf("published %d notifies, %d syncs", len(pub.notifies), len(pub.syncs))
	}
	if pub.notifies[0].DeltaLine != "20 000.00 - 453.20 = 19 546.80" {
		t.Fatalf("notify delta = %q", pub.notifies[0].DeltaLine)
	}
	if pub.syncs[0].ChatID != 1 || pub.syncs[0].ID == 0 {
		t.Fatalf("sync message = %+v", pub.syncs[0])
	}
}

func TestHandleMessageIgnorableErrors(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(&fakePublisher{})

	tests := []struct {
		name string
		ev   InboundEvent
		want error
	}{
		{"unbound topic", InboundEvent{ChatID: 1, ThreadID: 999, Text: "100"}, core.ErrUnknownCategory},
		{"plain chatter", InboundEvent{ChatID: 1, ThreadID: 33, Text: "see you at noon"}, core.ErrNotMonetary},
		{"zero amount", InboundEvent{ChatID: 1, ThreadID: 33, Text: "0.00 nothing"}, core.ErrZeroAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.HandleMessage(ctx, tt.ev)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsIgnorable(err) {
				t.Fatalf("error %v must be ignorable", err)
			}
		})
	}

	// None of the rejected messages may have touched the ledger.
	l, err := st.Ledger(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if l.GeneralCents != 0 || l.FoodCents != 2000000 {
		t.Fatalf("ledger changed by rejected input: %+v", l)
	}
}

func TestHandleMessageFailedCommitLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	st := memory.New(core.ChatLedger{FoodCents: 2000000})
	pub := &fakePublisher{}
	svc := NewLedgerService(core.NewEngine(core.NewRuleTable(true)), testBindings(), brokenCommitStore{st}, pub)

	_, err := svc.HandleMessage(ctx, InboundEvent{ChatID: 1, ThreadID: 33, Text: "453.20 lunch"})
	if err == nil {
		t.Fatal("commit failure must fail the write")
	}
	if IsIgnorable(err) {
		t.Fatalf("store failure is not an ignorable error: %v", err)
	}

	// Nothing may have been applied: no balance move, no audit row, no
	// outbound messages.
	l, _ := st.Ledger(ctx, 1)
	if l.FoodCents != 2000000 || l.GeneralCents != 0 {
		t.Fatalf("balance moved despite failed commit: %+v", l)
	}
	entries, _ := st.Recent(ctx, 1, 10)
	if len(entries) != 0 {
		t.Fatalf("audit entries written despite failed commit: %d", len(entries))
	}
	if len(pub.notifies) != 0 || len(pub.syncs) != 0 {
		t.Fatalf("published %d notifies, %d syncs for a failed write", len(pub.notifies), len(pub.syncs))
	}
}

func TestHandleMessageSurvivesBrokerOutage(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(&fakePublisher{fail: true})

	if _, err := svc.HandleMessage(ctx, InboundEvent{ChatID: 1, ThreadID: 80, Text: "+500"}); err != nil {
		t.Fatalf("publish failure must not fail the write: %v", err)
	}
	l, _ := st.Ledger(ctx, 1)
	if l.GeneralCents != 50000 {
		t.Fatalf("general = %d, want 50000", l.GeneralCents)
	}
}

func TestHandleMessageWithoutPublisher(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(nil)
	if _, err := svc.HandleMessage(ctx, InboundEvent{ChatID: 1, ThreadID: 78, Text: "300 rent"}); err != nil {
		t.Fatalf("nil publisher must be fine: %v", err)
	}
}

func TestSetBalances(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(&fakePublisher{})

	l, err := svc.SetGeneral(ctx, 1, 123456)
	if err != nil || l.GeneralCents != 123456 {
		t.Fatalf("SetGeneral = %+v, err = %v", l, err)
	}
	l, err = svc.SetFood(ctx, 1, 777)
	if err != nil || l.FoodCents != 777 {
		t.Fatalf("SetFood = %+v, err = %v", l, err)
	}

	stored, _ := st.Ledger(ctx, 1)
	if stored.GeneralCents != 123456 || stored.FoodCents != 777 {
		t.Fatalf("stored = %+v", stored)
	}
	// Overrides leave no audit trace.
	entries, _ := st.Recent(ctx, 1, 10)
	if len(entries) != 0 {
		t.Fatalf("override wrote %d audit entries", len(entries))
	}
}

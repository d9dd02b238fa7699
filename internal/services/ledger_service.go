// Package services orchestrates ledger writes across storage, the audit log
// and the outbound queue.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"kassa/internal/amqp"
	"kassa/internal/core"
	"kassa/internal/store"
)

// Publisher is the slice of the AMQP client the service needs. A nil
// publisher disables outbound delivery without touching the write path.
type Publisher interface {
	PublishNotify(ctx context.Context, msg *amqp.NotifyMessage) error
	PublishEntrySync(ctx context.Context, msg *amqp.EntrySyncMessage) error
}

// InboundEvent is one message lifted out of a webhook update.
type InboundEvent struct {
	ChatID   int64
	ThreadID int64
	Text     string
}

// LedgerService turns inbound chat messages into balance updates. The ledger
// write and the audit append are committed atomically before anything is
// published; a dead queue only costs the notification, never the money.
type LedgerService struct {
	engine    *core.Engine
	bindings  map[int64]core.Category
	repo      store.Repository
	publisher Publisher
	now       func() time.Time
}

func NewLedgerService(engine *core.Engine, bindings map[int64]core.Category, repo store.Repository, publisher Publisher) *LedgerService {
	return &LedgerService{
		engine:    engine,
		bindings:  bindings,
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
	}
}

// HandleMessage parses and applies one inbound message.
//
// Messages from unbound topics return core.ErrUnknownCategory; non-monetary
// and zero-amount text returns the parser's sentinel. Callers treat all three
// as "ignore", so a chatty topic never fails the webhook.
func (s *LedgerService) HandleMessage(ctx context.Context, ev InboundEvent) (core.ApplyResult, error) {
	category, ok := s.bindings[ev.ThreadID]
	if !ok {
		return core.ApplyResult{}, fmt.Errorf("thread %d: %w", ev.ThreadID, core.ErrUnknownCategory)
	}

	parsed, err := core.ParseEntry(ev.Text)
	if err != nil {
		return core.ApplyResult{}, err
	}

	ledger, err := s.repo.Ledger(ctx, ev.ChatID)
	if err != nil {
		return core.ApplyResult{}, fmt.Errorf("load ledger: %w", err)
	}

	res, err := s.engine.Apply(ledger, category, parsed, ev.ThreadID, s.now())
	if err != nil {
		return core.ApplyResult{}, err
	}

	// Balance and audit entry persist together or not at all; a store
	// failure here means nothing was applied and the caller may retry.
	entryID, err := s.repo.CommitEntry(ctx, ev.ChatID, res.Ledger, res.Record)
	if err != nil {
		return core.ApplyResult{}, fmt.Errorf("commit entry: %w", err)
	}

	s.publishOutbound(ctx, ev.ChatID, entryID, res)

	slog.InfoContext(ctx, "Entry applied",
		"chat_id", ev.ChatID,
		"category", category,
		"direction", res.Record.Direction,
		"amount_cents", res.Record.AmountCents)
	return res, nil
}

// SetGeneral overwrites the general balance and returns the new ledger.
// Used by the /settotal command; no audit entry is written for overrides.
func (s *LedgerService) SetGeneral(ctx context.Context, chatID, cents int64) (core.ChatLedger, error) {
	return s.setBalance(ctx, chatID, func(l *core.ChatLedger) { l.GeneralCents = cents })
}

// SetFood overwrites the food balance and returns the new ledger.
func (s *LedgerService) SetFood(ctx context.Context, chatID, cents int64) (core.ChatLedger, error) {
	return s.setBalance(ctx, chatID, func(l *core.ChatLedger) { l.FoodCents = cents })
}

func (s *LedgerService) setBalance(ctx context.Context, chatID int64, mutate func(*core.ChatLedger)) (core.ChatLedger, error) {
	ledger, err := s.repo.Ledger(ctx, chatID)
	if err != nil {
		return core.ChatLedger{}, fmt.Errorf("load ledger: %w", err)
	}
	mutate(&ledger)
	if err := s.repo.PutLedger(ctx, chatID, ledger); err != nil {
		return core.ChatLedger{}, fmt.Errorf("store ledger: %w", err)
	}
	return ledger, nil
}

// Ledger returns the current balances for a chat.
func (s *LedgerService) Ledger(ctx context.Context, chatID int64) (core.ChatLedger, error) {
	return s.repo.Ledger(ctx, chatID)
}

// Recent returns up to n audit entries, most recent first.
func (s *LedgerService) Recent(ctx context.Context, chatID int64, n int) ([]core.Entry, error) {
	return s.repo.Recent(ctx, chatID, n)
}

func (s *LedgerService) publishOutbound(ctx context.Context, chatID, entryID int64, res core.ApplyResult) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping outbound messages")
		return
	}

	notify := &amqp.NotifyMessage{
		ChatID:    chatID,
		ThreadID:  res.Record.ThreadID,
		Category:  string(res.Record.Category),
		Direction: string(res.Record.Direction),
		DeltaLine: res.Delta.String(),
		Note:      res.Record.Note,
		Timestamp: res.Record.At,
	}
	if err := s.publisher.PublishNotify(ctx, notify); err != nil {
		slog.ErrorContext(ctx, "Failed to publish notify message",
			"chat_id", chatID, "error", err)
	}

	if err := s.publisher.PublishEntrySync(ctx, amqp.NewEntrySyncMessage(entryID, chatID)); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"entry_id", entryID, "error", err)
	}
}

// IsIgnorable reports whether a HandleMessage error means the message simply
// was not a ledger entry.
func IsIgnorable(err error) bool {
	return errors.Is(err, core.ErrNotMonetary) ||
		errors.Is(err, core.ErrZeroAmount) ||
		errors.Is(err, core.ErrUnknownCategory)
}

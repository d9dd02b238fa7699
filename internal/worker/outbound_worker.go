// Package worker is the consuming side of the queues: it delivers balance
// updates to Telegram and exports audit entries to Google Sheets.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"kassa/internal/amqp"
	"kassa/internal/core"
	"kassa/internal/sheets"
	"kassa/internal/storage"
	"kassa/internal/store"
	"kassa/internal/telegram"
)

// EntryStore is the slice of storage the exporter needs: reading entries by
// id and tracking their sync status.
type EntryStore interface {
	Entry(ctx context.Context, id int64) (*storage.StoredEntry, error)
	PendingEntries(ctx context.Context, limit int) ([]storage.StoredEntry, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkSyncError(ctx context.Context, id int64) error
}

// OutboundWorker consumes both queues. Balance delivery and sheet export are
// independent; either can be disabled by leaving its collaborator nil.
type OutboundWorker struct {
	state     store.StateStore
	notifier  *telegram.Notifier
	entries   EntryStore
	writer    sheets.EntryWriter
	batchSize int
}

func NewOutboundWorker(state store.StateStore, notifier *telegram.Notifier, entries EntryStore, writer sheets.EntryWriter, batchSize int) *OutboundWorker {
	return &OutboundWorker{
		state:     state,
		notifier:  notifier,
		entries:   entries,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleNotify re-renders the chat's balance message and acknowledges the
// entry in its origin topic.
func (w *OutboundWorker) HandleNotify(ctx context.Context, msg *amqp.NotifyMessage) error {
	ledger, err := w.state.Ledger(ctx, msg.ChatID)
	if err != nil {
		return fmt.Errorf("load ledger for notify: %w", err)
	}

	line := telegram.OperationLine(
		core.Category(msg.Category),
		core.Direction(msg.Direction),
		msg.DeltaLine, msg.Note, msg.Timestamp)
	text := telegram.BalanceText(ledger, line, msg.Timestamp)

	if err := w.notifier.PublishBalance(ctx, msg.ChatID, text); err != nil {
		return fmt.Errorf("publish balance: %w", err)
	}

	// The balance is out; a lost ack is not worth a redelivery that would
	// post the confirmation twice.
	if err := w.notifier.Ack(ctx, msg.ChatID, msg.ThreadID); err != nil {
		slog.ErrorContext(ctx, "Failed to send ack reply",
			"chat_id", msg.ChatID, "thread_id", msg.ThreadID, "error", err)
	}
	return nil
}

// HandleEntrySync exports one audit entry to the spreadsheet.
func (w *OutboundWorker) HandleEntrySync(ctx context.Context, msg *amqp.EntrySyncMessage) error {
	slog.InfoContext(ctx, "Processing entry sync message", "id", msg.ID)

	entry, err := w.entries.Entry(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get entry from storage: %w", err)
	}
	return w.export(ctx, entry)
}

// StartupExportCheck exports entries still pending from before a restart.
// This is the recovery path for AMQP messages lost while the worker was down.
func (w *OutboundWorker) StartupExportCheck(ctx context.Context) error {
	pending, err := w.entries.PendingEntries(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending entries for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending entries found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending entries on startup", "count", len(pending))
	synced, failed := 0, 0
	for i := range pending {
		if err := w.export(ctx, &pending[i]); err != nil {
			slog.ErrorContext(ctx, "Failed to export entry during startup",
				"id", pending[i].ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"total", len(pending), "synced", synced, "errors", failed)
	return nil
}

func (w *OutboundWorker) export(ctx context.Context, e *storage.StoredEntry) error {
	row := sheets.Row{EntryID: e.ID, ChatID: e.ChatID, Entry: e.Entry}

	ref, err := w.writer.Append(ctx, row)
	if err != nil {
		if markErr := w.entries.MarkSyncError(ctx, e.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", e.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheets: %w", err)
	}

	if err := w.entries.MarkSynced(ctx, e.ID); err != nil {
		// The export itself worked; only the bookkeeping failed.
		slog.ErrorContext(ctx, "Failed to mark entry synced", "id", e.ID, "error", err)
	}

	slog.InfoContext(ctx, "Entry exported",
		"id", e.ID, "sheets_ref", ref, "amount_cents", e.Entry.AmountCents)
	return nil
}

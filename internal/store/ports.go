// Package store defines the ports the ledger service persists through.
package store

import (
	"context"

	"kassa/internal/core"
)

// RetainedEntries is how many audit entries each chat keeps; appends beyond
// that evict the oldest first.
const RetainedEntries = 100

type (
	// StateStore is the durable per-chat counter pair plus the id of the
	// last posted balance message. Ledger creates missing chats lazily
	// with the deployment's configured defaults.
	StateStore interface {
		Ledger(ctx context.Context, chatID int64) (core.ChatLedger, error)
		PutLedger(ctx context.Context, chatID int64, l core.ChatLedger) error

		BalanceMessageID(ctx context.Context, chatID int64) (int64, error)
		SetBalanceMessageID(ctx context.Context, chatID, messageID int64) error
	}

	// AuditLog is the bounded append-only record of recent entries.
	AuditLog interface {
		// Append stores the entry and returns its reference for export.
		Append(ctx context.Context, chatID int64, e core.Entry) (int64, error)
		// Recent returns up to n entries, most recent first.
		Recent(ctx context.Context, chatID int64, n int) ([]core.Entry, error)
	}

	// EntryCommitter persists one accepted entry: the ledger update and the
	// audit append land together or not at all.
	EntryCommitter interface {
		CommitEntry(ctx context.Context, chatID int64, l core.ChatLedger, e core.Entry) (int64, error)
	}

	// Repository is the full persistence surface a backend provides.
	Repository interface {
		StateStore
		AuditLog
		EntryCommitter
	}
)

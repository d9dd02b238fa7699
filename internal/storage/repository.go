package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"kassa/internal/core"
	"kassa/internal/store"

	_ "modernc.org/sqlite"
)

// Sync status values for exported audit entries.
const (
	SyncPending = "pending"
	SyncDone    = "synced"
	SyncError   = "error"
)

// SQLiteRepository implements store.StateStore and store.AuditLog on a local
// SQLite file. Missing chats are created lazily with the configured defaults.
type SQLiteRepository struct {
	db       *sql.DB
	defaults core.ChatLedger
}

var _ store.Repository = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string, defaults core.ChatLedger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, defaults: defaults}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) ensureChat(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_state (chat_id, general_cents, food_cents) VALUES (?, ?, ?)`,
		chatID, r.defaults.GeneralCents, r.defaults.FoodCents)
	if err != nil {
		return fmt.Errorf("ensure chat state: %w", err)
	}
	return nil
}

// Ledger implements store.StateStore.
func (r *SQLiteRepository) Ledger(ctx context.Context, chatID int64) (core.ChatLedger, error) {
	if err := r.ensureChat(ctx, chatID); err != nil {
		return core.ChatLedger{}, err
	}

	var l core.ChatLedger
	err := r.db.QueryRowContext(ctx,
		`SELECT general_cents, food_cents FROM chat_state WHERE chat_id = ?`, chatID).
		Scan(&l.GeneralCents, &l.FoodCents)
	if err != nil {
		return core.ChatLedger{}, fmt.Errorf("read chat state: %w", err)
	}
	return l, nil
}

// PutLedger implements store.StateStore. Last write wins; concurrent writers
// for the same chat are tolerated, not serialized.
func (r *SQLiteRepository) PutLedger(ctx context.Context, chatID int64, l core.ChatLedger) error {
	if err := r.ensureChat(ctx, chatID); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_state SET general_cents = ?, food_cents = ?, updated_at = CURRENT_TIMESTAMP WHERE chat_id = ?`,
		l.GeneralCents, l.FoodCents, chatID)
	if err != nil {
		return fmt.Errorf("write chat state: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) BalanceMessageID(ctx context.Context, chatID int64) (int64, error) {
	if err := r.ensureChat(ctx, chatID); err != nil {
		return 0, err
	}

	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT balance_message_id FROM chat_state WHERE chat_id = ?`, chatID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("read balance message id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) SetBalanceMessageID(ctx context.Context, chatID, messageID int64) error {
	if err := r.ensureChat(ctx, chatID); err != nil {
		return err
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_state SET balance_message_id = ? WHERE chat_id = ?`, messageID, chatID)
	if err != nil {
		return fmt.Errorf("write balance message id: %w", err)
	}
	return nil
}

// Append implements store.AuditLog. The insert and the retention prune run
// in one transaction so the log never exceeds its bound.
func (r *SQLiteRepository) Append(ctx context.Context, chatID int64, e core.Entry) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO entries (chat_id, thread_id, category, amount_cents, direction, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chatID, e.ThreadID, string(e.Category), e.AmountCents, string(e.Direction), e.Note, e.At.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("entry id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM entries WHERE chat_id = ? AND id NOT IN (
		     SELECT id FROM entries WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		 )`,
		chatID, chatID, store.RetainedEntries)
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}

	slog.InfoContext(ctx, "Entry appended",
		"id", id,
		"chat_id", chatID,
		"category", e.Category,
		"amount_cents", e.AmountCents,
		"direction", e.Direction)

	return id, nil
}

// CommitEntry implements store.EntryCommitter: the chat row, the balance
// update, the entry insert and the retention prune all ride one transaction,
// so the balance never moves without its audit entry.
func (r *SQLiteRepository) CommitEntry(ctx context.Context, chatID int64, l core.ChatLedger, e core.Entry) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_state (chat_id, general_cents, food_cents) VALUES (?, ?, ?)`,
		chatID, r.defaults.GeneralCents, r.defaults.FoodCents)
	if err != nil {
		return 0, fmt.Errorf("ensure chat state: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE chat_state SET general_cents = ?, food_cents = ?, updated_at = CURRENT_TIMESTAMP WHERE chat_id = ?`,
		l.GeneralCents, l.FoodCents, chatID)
	if err != nil {
		return 0, fmt.Errorf("write chat state: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO entries (chat_id, thread_id, category, amount_cents, direction, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chatID, e.ThreadID, string(e.Category), e.AmountCents, string(e.Direction), e.Note, e.At.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("entry id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM entries WHERE chat_id = ? AND id NOT IN (
		     SELECT id FROM entries WHERE chat_id = ? ORDER BY id DESC LIMIT ?
		 )`,
		chatID, chatID, store.RetainedEntries)
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit entry: %w", err)
	}

	slog.InfoContext(ctx, "Entry committed",
		"id", id,
		"chat_id", chatID,
		"category", e.Category,
		"amount_cents", e.AmountCents,
		"direction", e.Direction)

	return id, nil
}

// Recent implements store.AuditLog, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, chatID int64, n int) ([]core.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT thread_id, category, amount_cents, direction, note, created_at
		 FROM entries WHERE chat_id = ? ORDER BY id DESC LIMIT ?`, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("list recent entries: %w", err)
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		var e core.Entry
		var cat, dir string
		if err := rows.Scan(&e.ThreadID, &cat, &e.AmountCents, &dir, &e.Note, &e.At); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Category = core.Category(cat)
		e.Direction = core.Direction(dir)
		out = append(out, e)
	}
	return out, rows.Err()
}

// StoredEntry is an audit entry together with its row id and owning chat,
// as needed by the export worker.
type StoredEntry struct {
	ID     int64
	ChatID int64
	Entry  core.Entry
}

// Entry retrieves a single audit entry by row id.
func (r *SQLiteRepository) Entry(ctx context.Context, id int64) (*StoredEntry, error) {
	var se StoredEntry
	var cat, dir string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, chat_id, thread_id, category, amount_cents, direction, note, created_at
		 FROM entries WHERE id = ?`, id).
		Scan(&se.ID, &se.ChatID, &se.Entry.ThreadID, &cat, &se.Entry.AmountCents, &dir, &se.Entry.Note, &se.Entry.At)
	if err != nil {
		return nil, fmt.Errorf("get entry by id: %w", err)
	}
	se.Entry.Category = core.Category(cat)
	se.Entry.Direction = core.Direction(dir)
	return &se, nil
}

// PendingEntries returns entries not yet exported, oldest first. Backup path
// for the worker in case AMQP messages are lost.
func (r *SQLiteRepository) PendingEntries(ctx context.Context, limit int) ([]StoredEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_id, thread_id, category, amount_cents, direction, note, created_at
		 FROM entries WHERE sync_status = ? ORDER BY id ASC LIMIT ?`, SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()

	var out []StoredEntry
	for rows.Next() {
		var se StoredEntry
		var cat, dir string
		if err := rows.Scan(&se.ID, &se.ChatID, &se.Entry.ThreadID, &cat, &se.Entry.AmountCents, &dir, &se.Entry.Note, &se.Entry.At); err != nil {
			return nil, fmt.Errorf("scan pending entry: %w", err)
		}
		se.Entry.Category = core.Category(cat)
		se.Entry.Direction = core.Direction(dir)
		out = append(out, se)
	}
	return out, rows.Err()
}

// MarkSynced marks an entry as successfully exported.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE entries SET sync_status = ? WHERE id = ?`, SyncDone, id); err != nil {
		return fmt.Errorf("mark entry synced: %w", err)
	}
	return nil
}

// MarkSyncError marks an entry as having failed export.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE entries SET sync_status = ? WHERE id = ?`, SyncError, id); err != nil {
		return fmt.Errorf("mark entry sync error: %w", err)
	}
	slog.WarnContext(ctx, "Entry marked with sync error", "id", id)
	return nil
}

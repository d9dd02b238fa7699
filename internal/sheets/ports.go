package sheets

import (
	"context"

	"kassa/internal/core"
)

// Row is one audit entry flattened for export.
type Row struct {
	EntryID int64
	ChatID  int64
	Entry   core.Entry
}

// EntryWriter appends audit entries to an external spreadsheet.
type EntryWriter interface {
	Append(ctx context.Context, r Row) (rowRef string, err error)
}

// Package worker consumes change events and rewrites per-user mirror
// snapshots: a CSV file on disk and, when configured, a Google Sheets tab.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"billfold/internal/amqp"
	"billfold/internal/analytics"
	"billfold/internal/core"
	"billfold/internal/sheets"
	"billfold/internal/store"
)

// Source is the slice of the record store the worker reads from.
type Source interface {
	store.Loader
	store.UserLister
}

// MirrorWorker rebuilds mirror snapshots from the record store. Events only
// say "something changed for this user"; the store is the source of truth,
// so a lost or duplicated event never corrupts a mirror.
type MirrorWorker struct {
	store     Source
	mirror    sheets.ExpenseMirror // optional
	exportDir string
}

func NewMirrorWorker(st Source, mirror sheets.ExpenseMirror, exportDir string) *MirrorWorker {
	return &MirrorWorker{
		store:     st,
		mirror:    mirror,
		exportDir: exportDir,
	}
}

// HandleChangeEvent processes a single change event from AMQP.
func (w *MirrorWorker) HandleChangeEvent(ctx context.Context, event *amqp.ChangeEvent) error {
	slog.InfoContext(ctx, "Processing change event",
		"username", event.Username,
		"collection", event.Collection,
		"count", event.Count)

	return w.MirrorUser(ctx, event.Username)
}

// MirrorAll rewrites snapshots for every known user. Run periodically as a
// catch-up pass for events lost while the worker was down.
func (w *MirrorWorker) MirrorAll(ctx context.Context) error {
	usernames, err := w.store.Usernames(ctx)
	if err != nil {
		return fmt.Errorf("list usernames: %w", err)
	}

	var failed int
	for _, username := range usernames {
		if err := w.MirrorUser(ctx, username); err != nil {
			slog.WarnContext(ctx, "Snapshot rebuild failed",
				"username", username,
				"error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("rebuild snapshots: %d of %d users failed", failed, len(usernames))
	}
	return nil
}

// MirrorUser reloads one user's state and rewrites both mirrors.
func (w *MirrorWorker) MirrorUser(ctx context.Context, username string) error {
	data, err := w.store.LoadUserData(ctx, username)
	if err != nil {
		return fmt.Errorf("load user data: %w", err)
	}

	if err := w.writeCSVSnapshot(username, data.Expenses); err != nil {
		return fmt.Errorf("write csv snapshot: %w", err)
	}

	if w.mirror != nil {
		if err := w.mirror.MirrorExpenses(ctx, username, data.Expenses); err != nil {
			return fmt.Errorf("mirror to sheets: %w", err)
		}
	}

	slog.InfoContext(ctx, "User snapshot mirrored",
		"username", username,
		"expenses", len(data.Expenses))
	return nil
}

// writeCSVSnapshot atomically replaces <exportDir>/<username>.csv.
func (w *MirrorWorker) writeCSVSnapshot(username string, expenses []core.Expense) error {
	if err := os.MkdirAll(w.exportDir, 0755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(w.exportDir, username+"-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := analytics.WriteCSV(tmp, expenses); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	final := filepath.Join(w.exportDir, username+".csv")
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

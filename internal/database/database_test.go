package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/database/models"
	"github.com/netdevpbx/netdevpbx/internal/events"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(dir, "netdevpbx.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	for _, table := range []string{"schema_migrations", "calls", "digit_collections", "recordings"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}

	var migrationCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&migrationCount); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if migrationCount != 3 {
		t.Errorf("migration count = %d, want 3", migrationCount)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	db1.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	db2.Close()
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	if got := pg.rebind("UPDATE t SET a = ? WHERE b = ? AND c = ?"); got != "UPDATE t SET a = $1 WHERE b = $2 AND c = $3" {
		t.Errorf("rebind = %q", got)
	}
	lite := &DB{dialect: DialectSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestCallRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewCallRepository(db)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	call := &models.Call{CallID: "a@host", ChannelID: "ch-1", Caller: "1000", Destination: "1234", StartedAt: start}
	if err := repo.Create(ctx, call); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if call.ID == 0 {
		t.Error("Create() did not set ID")
	}
	if err := repo.Create(ctx, &models.Call{CallID: "b@host", ChannelID: "ch-2", StartedAt: start.Add(time.Minute)}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := repo.MarkAnswered(ctx, "ch-1", start.Add(time.Second)); err != nil {
		t.Fatalf("MarkAnswered() error: %v", err)
	}
	if err := repo.MarkEnded(ctx, "ch-1", start.Add(10*time.Second), "REMOTE_BYE"); err != nil {
		t.Fatalf("MarkEnded() error: %v", err)
	}

	calls, total, err := repo.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 2 || len(calls) != 2 {
		t.Fatalf("List() = %d calls, total %d", len(calls), total)
	}
	if calls[0].ChannelID != "ch-2" {
		t.Errorf("List() not newest first: %q", calls[0].ChannelID)
	}
	got := calls[1]
	if got.AnsweredAt == nil || got.EndedAt == nil || got.HangupCause != "REMOTE_BYE" {
		t.Errorf("ended call = %+v", got)
	}
	if calls[0].AnsweredAt != nil {
		t.Error("unanswered call has answered_at")
	}

	page, _, err := repo.List(ctx, ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List() page error: %v", err)
	}
	if len(page) != 1 || page[0].ChannelID != "ch-1" {
		t.Errorf("second page = %+v", page)
	}
}

func TestCollectionRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewCollectionRepository(db)

	for _, c := range []models.DigitCollection{
		{ChannelID: "ch-1", Application: "read_digits", Requested: 4, TimeoutMS: 5000, Digits: "1234", Result: "success"},
		{ChannelID: "ch-2", Application: "read_digits", Requested: 4, TimeoutMS: 5000, Digits: "12", Result: "timeout"},
		{ChannelID: "ch-3", Application: "net_dev_record", Requested: 4, TimeoutMS: 5000, Digits: "9876", Result: "success"},
		{ChannelID: "ch-4", Application: "read_digits", Requested: 4, TimeoutMS: 5000, Result: "failure", Reason: "buffer too small"},
	} {
		if err := repo.Create(ctx, &c); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	if err := repo.Create(ctx, &models.DigitCollection{ChannelID: "x", Application: "read_digits", Result: "bogus"}); err == nil {
		t.Error("Create() accepted an unknown result")
	}

	all, total, err := repo.List(ctx, CollectionListFilter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Errorf("List() = %d rows, total %d", len(all), total)
	}

	successes, total, err := repo.List(ctx, CollectionListFilter{Result: "success"})
	if err != nil {
		t.Fatalf("List(success) error: %v", err)
	}
	if total != 2 || len(successes) != 2 {
		t.Errorf("List(success) = %d rows, total %d", len(successes), total)
	}
	for _, c := range successes {
		if c.Result != "success" {
			t.Errorf("filtered row has result %q", c.Result)
		}
	}

	counts, err := repo.CountByResult(ctx)
	if err != nil {
		t.Fatalf("CountByResult() error: %v", err)
	}
	if counts["success"] != 2 || counts["timeout"] != 1 || counts["failure"] != 1 {
		t.Errorf("CountByResult() = %v", counts)
	}
}

func TestRecordingRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db)

	missing, err := repo.GetByID(ctx, 42)
	if err != nil || missing != nil {
		t.Fatalf("GetByID(missing) = %v, %v", missing, err)
	}

	rec := &models.Recording{ChannelID: "ch-1", Digits: "1234", FilePath: "/tmp/recording1234.wav", SizeBytes: 8044, DurationMS: 1000}
	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got == nil || got.Digits != "1234" || got.SizeBytes != 8044 || got.FilePath != rec.FilePath {
		t.Errorf("GetByID() = %+v", got)
	}

	n, err := repo.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count() = %d, %v", n, err)
	}
	list, total, err := repo.List(ctx, ListFilter{})
	if err != nil || total != 1 || len(list) != 1 {
		t.Errorf("List() = %d rows, total %d, err %v", len(list), total, err)
	}
}

func TestRecordingRepository_DeleteBefore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewRecordingRepository(db)

	now := time.Now().UTC()
	old := &models.Recording{ChannelID: "ch-1", Digits: "11", FilePath: "/rec/recording11.wav", CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &models.Recording{ChannelID: "ch-2", Digits: "22", FilePath: "/rec/recording22.wav", CreatedAt: now}
	for _, rec := range []*models.Recording{old, fresh} {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	paths, err := repo.DeleteBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore() error: %v", err)
	}
	if len(paths) != 1 || paths[0] != old.FilePath {
		t.Errorf("DeleteBefore() = %v, want [%s]", paths, old.FilePath)
	}

	if got, _ := repo.GetByID(ctx, old.ID); got != nil {
		t.Errorf("expired recording still present: %+v", got)
	}
	if got, _ := repo.GetByID(ctx, fresh.ID); got == nil {
		t.Error("fresh recording was deleted")
	}

	paths, err = repo.DeleteBefore(ctx, now.Add(-24*time.Hour))
	if err != nil || paths != nil {
		t.Errorf("second DeleteBefore() = %v, %v; want nothing", paths, err)
	}
}

func TestTrackCalls(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)

	in := make(chan events.Event, 4)
	now := time.Now()
	in <- events.Event{Type: events.ChannelCreate, ChannelID: "ch-1", CallID: "a@host", Caller: "1000", Destination: "1234", Time: now}
	in <- events.Event{Type: events.ChannelAnswer, ChannelID: "ch-1", Time: now.Add(time.Second)}
	in <- events.Event{Type: events.DTMF, ChannelID: "ch-1", Digit: "5", Time: now}
	in <- events.Event{Type: events.ChannelDestroy, ChannelID: "ch-1", Cause: "NORMAL_CLEARING", Time: now.Add(2 * time.Second)}
	close(in)

	TrackCalls(context.Background(), repo, in, slog.New(slog.NewTextHandler(io.Discard, nil)))

	calls, _, err := repo.List(context.Background(), ListFilter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	c := calls[0]
	if c.Caller != "1000" || c.Destination != "1234" || c.AnsweredAt == nil || c.EndedAt == nil || c.HangupCause != "NORMAL_CLEARING" {
		t.Errorf("tracked call = %+v", c)
	}
}

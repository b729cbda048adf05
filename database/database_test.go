package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open("sqlite", filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	if _, err := db.LoadRegistered(ctx, KindNick, "glenda"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := &Record{Key: "glenda", Password: "hash", RegisteredAt: time.Now()}
	if err := db.StoreRegistered(ctx, KindNick, rec); err != nil {
		t.Fatalf("StoreRegistered: %v", err)
	}

	got, err := db.LoadRegistered(ctx, KindNick, "glenda")
	if err != nil {
		t.Fatalf("LoadRegistered: %v", err)
	}
	if got.Password != "hash" {
		t.Fatalf("expected password %q, got %q", "hash", got.Password)
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.RegisteredNicks != 1 {
		t.Fatalf("expected 1 registered nick, got %d", stats.RegisteredNicks)
	}

	if err := db.DeleteRegistered(ctx, KindNick, "glenda"); err != nil {
		t.Fatalf("DeleteRegistered: %v", err)
	}
	if _, err := db.LoadRegistered(ctx, KindNick, "glenda"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "whatever"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenSQLiteSynonym(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test2.db")
	db, err := Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Open with sqlite3 synonym: %v", err)
	}
	defer db.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file to exist: %v", err)
	}
}

package contentstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("error opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("Missing entry", func(t *testing.T) {
		if _, err := store.Get(ctx, "app-1", "title"); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("Put and Get round-trip", func(t *testing.T) {
		content := `{"type":"text","value":"Hello"}`
		if err := store.Put(ctx, "app-1", "title", content); err != nil {
			t.Fatalf("error storing: %v", err)
		}
		entry, err := store.Get(ctx, "app-1", "title")
		if err != nil {
			t.Fatalf("error reading: %v", err)
		}
		if entry.Content != content {
			t.Errorf("got %q, want round-tripped content", entry.Content)
		}
		if entry.UpdatedAt.IsZero() {
			t.Error("expected a timestamp")
		}
	})

	t.Run("Upsert replaces", func(t *testing.T) {
		if err := store.Put(ctx, "app-1", "title", `{"type":"text","value":"Updated"}`); err != nil {
			t.Fatalf("error storing: %v", err)
		}
		entry, err := store.Get(ctx, "app-1", "title")
		if err != nil {
			t.Fatalf("error reading: %v", err)
		}
		if entry.Content != `{"type":"text","value":"Updated"}` {
			t.Errorf("got %q, want updated content", entry.Content)
		}
	})

	t.Run("List scoped by app", func(t *testing.T) {
		if err := store.Put(ctx, "app-2", "other", `{"type":"text","value":"x"}`); err != nil {
			t.Fatalf("error storing: %v", err)
		}
		entries, err := store.List(ctx, "app-1")
		if err != nil {
			t.Fatalf("error listing: %v", err)
		}
		if len(entries) != 1 || entries[0].ElementID != "title" {
			t.Errorf("got %+v, want only app-1's entry", entries)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Delete(ctx, "app-1", "title"); err != nil {
			t.Fatalf("error deleting: %v", err)
		}
		if _, err := store.Get(ctx, "app-1", "title"); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound after delete", err)
		}

		if err := store.Delete(ctx, "app-1", "title"); err != nil {
			t.Errorf("deleting a missing entry should not fail: %v", err)
		}
	})
}

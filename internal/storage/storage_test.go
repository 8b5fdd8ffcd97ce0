package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := kv.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, []byte(`{"a":1}`)) {
		t.Errorf("Get() = %s", got)
	}

	// Overwrite wins.
	if err := kv.Set(ctx, "k", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, _ = kv.Get(ctx, "k")
	if !bytes.Equal(got, []byte(`{"a":2}`)) {
		t.Errorf("Get() after overwrite = %s", got)
	}

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error.
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	kv := NewMemoryStore()
	defer kv.Close()
	testKV(t, kv)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	defer kv.Close()

	value := []byte("original")
	kv.Set(ctx, "k", value)
	value[0] = 'X'

	got, _ := kv.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("stored value mutated through caller slice: %s", got)
	}
	got[0] = 'Y'
	again, _ := kv.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("stored value mutated through returned slice: %s", again)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	kv, err := NewSQLiteStore(context.Background(), path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer kv.Close()
	testKV(t, kv)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent.db")

	kv, err := NewSQLiteStore(ctx, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if err := kv.Set(ctx, "answers", []byte("sheet")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	kv.Close()

	kv, err = NewSQLiteStore(ctx, path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer kv.Close()

	got, err := kv.Get(ctx, "answers")
	if err != nil || string(got) != "sheet" {
		t.Errorf("Get() after reopen = %s, %v", got, err)
	}
}

package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/JakeFAU/numberwatch/internal/watch"
)

func TestContentStorePutCopiesData(t *testing.T) {
	t.Parallel()

	store := NewContentStore()
	payload := []byte("content")
	if err := store.Put(context.Background(), "a.pdf", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	payload[0] = 'C'
	if stored := string(store.Content("a.pdf")); stored != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
}

func TestContentStoreExistsAndOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewContentStore()

	ok, err := store.Exists(ctx, "a.pdf")
	if err != nil || ok {
		t.Fatalf("expected missing file, got ok=%v err=%v", ok, err)
	}
	if _, err := store.Open(ctx, "a.pdf"); !errors.Is(err, watch.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Put(ctx, "a.pdf", bytes.NewReader([]byte("%PDF-1.4"))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	ok, err = store.Exists(ctx, "a.pdf")
	if err != nil || !ok {
		t.Fatalf("expected file to exist, got ok=%v err=%v", ok, err)
	}

	f, err := store.Open(ctx, "a.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	if f.Size() != 8 {
		t.Fatalf("expected size 8, got %d", f.Size())
	}
	got, err := io.ReadAll(io.NewSectionReader(f, 0, f.Size()))
	if err != nil || string(got) != "%PDF-1.4" {
		t.Fatalf("unexpected content %q err=%v", got, err)
	}
}

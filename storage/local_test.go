package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/volview/volview"
)

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "CASE1"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "CASE1", "CTA_a.nii.gz"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*Local); !ok {
		t.Fatalf("plain path should open a local store, got %T", store)
	}
	ctx := context.Background()

	info, err := store.Stat(ctx, "CASE1/CTA_a.nii.gz")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 5 || info.IsDir {
		t.Errorf("bad info %+v", info)
	}

	r, err := store.Open(ctx, "CASE1/CTA_a.nii.gz")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(r)
	r.Close()
	if string(b) != "hello" {
		t.Errorf("bad contents %q", b)
	}

	infos, err := store.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Name != "CASE1" || !infos[0].IsDir {
		t.Errorf("bad listing %+v", infos)
	}

	if _, err := store.Stat(ctx, "CASE1/missing.nii.gz"); !errors.Is(err, volview.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if _, err := store.Open(ctx, "../etc/passwd"); !errors.Is(err, volview.ErrBadRequest) {
		t.Errorf("expected BadRequest for escaping name, got %v", err)
	}
}

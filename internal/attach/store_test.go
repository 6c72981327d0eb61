package attach_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"fieldline/internal/attach"
)

func TestPutAndOpen(t *testing.T) {
	store := attach.NewDir(t.TempDir())
	ref, err := store.Put(context.Background(), "photo.JPG", strings.NewReader("bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(ref, "attachments/") || !strings.HasSuffix(ref, ".jpg") {
		t.Fatalf("unexpected ref: %s", ref)
	}

	rc, err := store.Open(ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "bytes" {
		t.Fatalf("content: %q", got)
	}
}

func TestRefsAreUnique(t *testing.T) {
	store := attach.NewDir(t.TempDir())
	a, err := store.Put(context.Background(), "sig.png", strings.NewReader("one"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Put(context.Background(), "sig.png", strings.NewReader("two"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("same name produced the same ref")
	}
}

// Package attach stores report attachment bytes outside the database. Tasks
// record only the opaque references this package hands back.
package attach

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store saves attachment content and returns a reference to record on the
// task.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
}

// Dir is a Store backed by a directory under the workspace.
type Dir struct {
	Root string
}

// NewDir returns a Dir rooted in the workspace's .fieldline directory.
func NewDir(workspace string) Dir {
	if workspace == "" {
		workspace = "."
	}
	return Dir{Root: filepath.Join(workspace, ".fieldline", "attachments")}
}

// Put copies the content into the store. The reference keeps the original
// extension so viewers can pick a handler, nothing else from the name.
func (d Dir) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return "", err
	}
	ref := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	f, err := os.Create(filepath.Join(d.Root, ref))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("store attachment %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return "attachments/" + ref, nil
}

// Open resolves a reference produced by Put.
func (d Dir) Open(ref string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.Root, filepath.Base(ref)))
}

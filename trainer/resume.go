package trainer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/neurlang/plloggers/internal/ctxlog"
)

// Loader is implemented by modules that can restore a checkpoint written by Save.
type Loader interface {
	Load(r io.Reader) error
}

// Resume loads the checkpoint at path into m. An empty path is a no-op.
func Resume(ctx context.Context, m any, path string) error {
	if path == "" {
		return nil
	}
	l, ok := m.(Loader)
	if !ok {
		return fmt.Errorf("trainer: resume from %s: %T cannot load checkpoints", path, m)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("trainer: resume: %w", err)
	}
	defer f.Close()
	if err := l.Load(f); err != nil {
		return fmt.Errorf("trainer: resume from %s: %w", path, err)
	}
	ctxlog.FromContext(ctx).Info("trainer: resumed", "checkpoint", path)
	return nil
}

package mnist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurlang/plloggers/internal/ctxlog"
	"resty.dev/v3"
)

// DefaultBaseURL is a public mirror of the dataset files.
const DefaultBaseURL = "https://ossci-datasets.s3.amazonaws.com/mnist"

// Download fetches the files missing from dir, verifying each before it is written.
func Download(ctx context.Context, dir, baseURL string, opts ...Option) error {
	missing := Missing(dir)
	if len(missing) == 0 {
		return nil
	}
	o := newOptions(opts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	client := resty.New().SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	defer client.Close()

	log := ctxlog.FromContext(ctx)
	for _, name := range missing {
		log.Info("mnist: downloading", "file", name, "from", baseURL)
		resp, err := client.R().SetContext(ctx).Get("/" + name)
		if err != nil {
			return fmt.Errorf("mnist: download %s: %w", name, err)
		}
		if resp.IsError() {
			return fmt.Errorf("mnist: download %s: %s", name, resp.Status())
		}
		raw := resp.Bytes()
		if err := verify(name, raw, o.digests); err != nil {
			return err
		}
		if err := writeAtomic(filepath.Join(dir, name), raw); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

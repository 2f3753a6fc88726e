package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// discover expands a glob pattern into a stream of FileRecords of the
// given kind. The glob is expanded eagerly (a malformed pattern is the
// only error); file contents are read lazily as the stream is consumed.
// A matched file that cannot be read is skipped with a warning and
// never enters the stream.
func discover(ctx context.Context, glob string, kind Kind, warn func(format string, args ...any)) (<-chan FileRecord, error) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern %q: %w", glob, err)
	}

	out := make(chan FileRecord)
	go func() {
		defer close(out)
		for _, path := range matches {
			content, err := os.ReadFile(path)
			if err != nil {
				if warn != nil {
					warn("skipping unreadable file %s: %v", path, err)
				}
				continue
			}

			rec := FileRecord{
				Content:     string(content),
				Path:        path,
				LogicalName: logicalName(path),
				Kind:        kind,
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

package logging

import (
	"io"
	"log/slog"
	"os"
)

// Setup returns a logger writing to stderr and, when path is non-empty, an
// append-only log file. The returned closer owns the file handle.
func Setup(path string) (*slog.Logger, func() error, error) {
	out := io.Writer(os.Stderr)
	closer := func() error { return nil }
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f.Close
	}
	return slog.New(slog.NewTextHandler(out, nil)), closer, nil
}

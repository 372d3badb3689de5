package canlog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/pcapng"
)

// ReadFile loads every frame of a capture, picking the format by extension:
// .csv frame log, .db/.sqlite store, .pcapng SocketCAN capture, .bin raw
// 16-byte capture records stamped with the file modification time.
func ReadFile(ctx context.Context, path string, logger *slog.Logger) ([]can.RawFrame, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open csv")
		}
		defer f.Close()
		frames, skipped, err := ReadCSV(f, logger)
		if err != nil {
			return nil, err
		}
		if skipped > 0 {
			logger.Warn("skipped malformed csv rows", "path", path, "skipped", skipped)
		}
		return frames, nil

	case ".db", ".sqlite", ".sqlite3":
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "open store")
		}
		store, err := Open(path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Frames(ctx, Query{})

	case ".pcapng":
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "open pcapng")
		}
		defer f.Close()
		r, err := pcapng.NewReader(f, logger)
		if err != nil {
			return nil, err
		}
		frames, err := r.ReadAll()
		if err != nil {
			return nil, err
		}
		if r.SkippedCount() > 0 {
			logger.Info("skipped non-CAN packets", "path", path, "skipped", r.SkippedCount())
		}
		return frames, nil

	case ".bin":
		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrap(err, "stat capture")
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read capture")
		}
		return can.SplitCaptureBuffer(buf, info.ModTime().UTC(), logger), nil

	default:
		return nil, errors.Newf("unsupported capture format %q", ext)
	}
}

package can

import (
	"encoding/binary"
	"log/slog"
	"time"
)

const (
	// CaptureRecordSize is the size of one frame record in a capture buffer.
	CaptureRecordSize = 16

	captureHeaderSize = 8
	extendedFlag      = 0x4
)

// SplitCaptureBuffer segments a capture buffer into RawFrames stamped with ts.
//
// Each 16 byte record starts with a little-endian arbitration word and control word
// followed by up to 8 payload bytes. Records that declare more payload than they
// carry, and any trailing partial record, are dropped and logged.
func SplitCaptureBuffer(buf []byte, ts time.Time, logger *slog.Logger) []RawFrame {
	if logger == nil {
		logger = slog.Default()
	}
	frames := make([]RawFrame, 0, len(buf)/CaptureRecordSize)
	for off := 0; off < len(buf); off += CaptureRecordSize {
		if len(buf)-off < CaptureRecordSize {
			logger.Warn("dropping partial capture record",
				"offset", off,
				"bytes", len(buf)-off,
			)
			break
		}
		rec := buf[off : off+CaptureRecordSize]
		f, ok := parseCaptureRecord(rec)
		if !ok {
			logger.Warn("dropping capture record with oversized length",
				"offset", off,
				"can_id", f.ID,
				"length", f.Length,
			)
			continue
		}
		f.Timestamp = ts
		frames = append(frames, f)
	}
	return frames
}

func parseCaptureRecord(rec []byte) (RawFrame, bool) {
	arb := binary.LittleEndian.Uint32(rec[0:4])
	ctrl := binary.LittleEndian.Uint32(rec[4:8])

	var f RawFrame
	if arb&extendedFlag != 0 {
		f.ID = arb >> 3
		f.IsExtended = true
	} else {
		f.ID = arb >> 21
	}
	f.Length = uint8(ctrl & 0xF)
	f.Bus = uint8((ctrl >> 4) & 0xFF)
	if int(f.Length) > len(rec)-captureHeaderSize {
		return f, false
	}
	copy(f.Data[:], rec[captureHeaderSize:captureHeaderSize+int(f.Length)])
	return f, true
}

// Package canlog reads and writes persisted frame logs: CSV files with the columns
// Time,Bus,MessageID,Message,MessageLength and SQLite can_frames tables.
package canlog

import (
	"encoding/csv"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canseries/pkg/can"
)

// Column names of the CSV log.
const (
	ColTime          = "Time"
	ColBus           = "Bus"
	ColMessageID     = "MessageID"
	ColMessage       = "Message"
	ColMessageLength = "MessageLength"
)

var header = []string{ColTime, ColBus, ColMessageID, ColMessage, ColMessageLength}

// maxStandardID is the largest 11-bit identifier; larger ids are extended.
const maxStandardID = 0x7FF

// ReadCSV parses a frame log. Malformed rows are skipped and logged; the number
// skipped is returned alongside the frames.
func ReadCSV(r io.Reader, logger *slog.Logger) ([]can.RawFrame, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, 0, errors.Wrap(err, "read csv header")
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		cols[strings.TrimSpace(h)] = i
	}
	for _, h := range header {
		if _, ok := cols[h]; !ok {
			return nil, 0, errors.Newf("csv header missing column %q", h)
		}
	}

	var (
		frames  []can.RawFrame
		skipped int
		line    = 1
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, skipped, errors.Wrapf(err, "read csv line %d", line)
		}
		f, err := parseRow(rec, cols)
		if err != nil {
			skipped++
			logger.Warn("skipping csv row", "line", line, "error", err)
			continue
		}
		frames = append(frames, f)
	}
	return frames, skipped, nil
}

func parseRow(rec []string, cols map[string]int) (can.RawFrame, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(rec) {
			return "", errors.Newf("missing %s", name)
		}
		return strings.TrimSpace(rec[i]), nil
	}

	var f can.RawFrame
	ts, err := field(ColTime)
	if err != nil {
		return f, err
	}
	sec, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return f, errors.Wrap(err, "time")
	}
	f.Timestamp = can.FromSeconds(sec)

	bus, err := field(ColBus)
	if err != nil {
		return f, err
	}
	b, err := strconv.ParseUint(bus, 10, 8)
	if err != nil {
		return f, errors.Wrap(err, "bus")
	}
	f.Bus = uint8(b)

	idStr, err := field(ColMessageID)
	if err != nil {
		return f, err
	}
	id, err := strconv.ParseUint(idStr, 0, 29)
	if err != nil {
		return f, errors.Wrap(err, "message id")
	}
	f.ID = uint32(id)
	f.IsExtended = f.ID > maxStandardID

	msg, err := field(ColMessage)
	if err != nil {
		return f, err
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(msg), "0x"))
	if err != nil {
		return f, errors.Wrap(err, "payload")
	}

	lenStr, err := field(ColMessageLength)
	if err != nil {
		return f, err
	}
	n, err := strconv.ParseUint(lenStr, 10, 8)
	if err != nil {
		return f, errors.Wrap(err, "length")
	}
	if n > 8 || int(n) > len(payload) {
		return f, errors.Newf("length %d exceeds payload of %d bytes", n, len(payload))
	}
	f.Length = uint8(n)
	copy(f.Data[:], payload[:n])
	return f, nil
}

// WriteCSV writes frames in the log format read by ReadCSV.
func WriteCSV(w io.Writer, frames []can.RawFrame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, f := range frames {
		row := []string{
			strconv.FormatFloat(f.Seconds(), 'f', 6, 64),
			strconv.Itoa(int(f.Bus)),
			strconv.FormatUint(uint64(f.ID), 10),
			f.PayloadHex(),
			strconv.Itoa(int(f.Length)),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

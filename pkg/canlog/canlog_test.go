package canlog_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/canlog"
)

func frame(id uint32, bus uint8, sec float64, data ...byte) can.RawFrame {
	f := can.RawFrame{Timestamp: can.FromSeconds(sec), Bus: bus}
	f.ID = id
	f.IsExtended = id > 0x7FF
	f.Length = uint8(len(data))
	copy(f.Data[:], data)
	return f
}

func frames() []can.RawFrame {
	return []can.RawFrame{
		frame(0x180, 0, 1700000000.25, 0x13, 0x88),
		frame(0x18FEF100, 1, 1700000000.5, 1, 2, 3, 4, 5, 6, 7, 8),
		frame(0x200, 0, 1700000001.0),
	}
}

func assertSameFrames(t *testing.T, want, got []can.RawFrame) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Frame, got[i].Frame, "frame %d", i)
		assert.Equal(t, want[i].Bus, got[i].Bus, "frame %d", i)
		assert.InDelta(t, want[i].Seconds(), got[i].Seconds(), 1e-6, "frame %d", i)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, canlog.WriteCSV(&buf, frames()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Time,Bus,MessageID,Message,MessageLength", lines[0])
	assert.Equal(t, "1700000000.250000,0,384,1388,2", lines[1])

	got, skipped, err := canlog.ReadCSV(&buf, nil)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assertSameFrames(t, frames(), got)
}

func TestReadCSV(t *testing.T) {
	in := `MessageLength,Message,MessageID,Bus,Time
2,0x0102,291,1,10.5
2,zz,291,1,10.6
9,010203,291,1,10.7
4,0102,291,1,10.8
1,ff,not-a-number,1,10.9
`
	got, skipped, err := canlog.ReadCSV(strings.NewReader(in), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, skipped)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(291), got[0].ID)
	assert.False(t, got[0].IsExtended)
	assert.Equal(t, []byte{1, 2}, got[0].Payload())
	assert.InDelta(t, 10.5, got[0].Seconds(), 1e-9)
}

func TestReadCSVHeader(t *testing.T) {
	_, _, err := canlog.ReadCSV(strings.NewReader("Time,Bus,MessageID\n1,0,1\n"), nil)
	assert.ErrorContains(t, err, `"Message"`)

	_, _, err = canlog.ReadCSV(strings.NewReader(""), nil)
	assert.Error(t, err)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "frames.db")

	store, err := canlog.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, frames()))
	require.NoError(t, store.Close())

	// reopening applies the schema again without touching the data
	store, err = canlog.Open(path)
	require.NoError(t, err)
	defer store.Close()

	all, err := store.Frames(ctx, canlog.Query{})
	require.NoError(t, err)
	assertSameFrames(t, frames(), all)

	picked, err := store.Frames(ctx, canlog.Query{IDs: []uint32{0x180, 0x200}})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, uint32(0x200), picked[1].ID)

	window, err := store.Frames(ctx, canlog.Query{Start: 1700000000.4, End: 1700000000.6})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.True(t, window[0].IsExtended)

	counts, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[uint32]int{0x180: 1, 0x18FEF100: 1, 0x200: 1}, counts)
}

func TestStoreInMemory(t *testing.T) {
	store, err := canlog.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(context.Background(), frames()[:1]))
	got, err := store.Frames(context.Background(), canlog.Query{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReadFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, canlog.WriteCSV(&buf, frames()))
	csvPath := filepath.Join(dir, "log.csv")
	require.NoError(t, os.WriteFile(csvPath, buf.Bytes(), 0o644))
	got, err := canlog.ReadFile(ctx, csvPath, nil)
	require.NoError(t, err)
	assertSameFrames(t, frames(), got)

	dbPath := filepath.Join(dir, "log.db")
	store, err := canlog.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, frames()))
	require.NoError(t, store.Close())
	got, err = canlog.ReadFile(ctx, dbPath, nil)
	require.NoError(t, err)
	assertSameFrames(t, frames(), got)

	_, err = canlog.ReadFile(ctx, filepath.Join(dir, "missing.db"), nil)
	assert.Error(t, err)
	_, err = canlog.ReadFile(ctx, filepath.Join(dir, "log.txt"), nil)
	assert.Error(t, err)
}

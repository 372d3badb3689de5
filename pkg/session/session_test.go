package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/dbc"
	"github.com/BIwashi/canseries/pkg/session"
)

const speedDBC = `VERSION ""

BU_: ECU

BO_ 384 Speed: 2 ECU
 SG_ VehicleSpeed : 7|16@0+ (0.01,0) [0|655.35] "km/h" ECU

BO_ 512 Status: 1 ECU
 SG_ Mode : 0|4@1+ (1,0) [0|3] "" ECU
`

func catalog(t *testing.T) *dbc.Catalog {
	t.Helper()
	c, err := dbc.Load("speed.dbc", []byte(speedDBC))
	require.NoError(t, err)
	return c
}

func raw(id uint32, bus uint8, sec float64, data ...byte) can.RawFrame {
	f := can.RawFrame{Timestamp: can.FromSeconds(100 + sec), Bus: bus}
	f.ID = id
	f.Length = uint8(len(data))
	copy(f.Data[:], data)
	return f
}

func testFrames() []can.RawFrame {
	return []can.RawFrame{
		raw(0x180, 0, 0.2, 0x13, 0x88),
		raw(0x180, 0, 0.0, 0x03, 0xE8),
		raw(0x180, 1, 0.2, 0x00, 0x01),
		raw(0x7FF, 0, 0.1, 0x01, 0x02),
		raw(0x180, 0, 0.3, 0x13),
		raw(0x200, 1, 0.4, 0x0F),
	}
}

func TestSession_IngestAll(t *testing.T) {
	s := session.New(catalog(t), session.Options{KeepOpaque: true})
	require.NoError(t, s.IngestAll(context.Background(), testFrames()))

	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.Equal(t, session.Stats{Seen: 6, Decoded: 4, Unknown: 1, Dropped: 1}, s.Stats())
	assert.Equal(t, []uint32{0x180, 0x200, 0x7FF}, s.MessageIDs())
	assert.Equal(t, map[uint32]int{0x180: 4, 0x200: 1, 0x7FF: 1}, s.Counts())

	speed, err := s.Series(dbc.MessageByName("Speed"), dbc.SignalByName("VehicleSpeed"))
	require.NoError(t, err)
	assert.Equal(t, "VehicleSpeed", speed.Name())
	require.Equal(t, 2, speed.Len())
	assert.InDelta(t, 100.0, speed.First().Time, 1e-6)
	assert.InDelta(t, 10.0, speed.First().Value, 1e-9)
	// the bus 1 copy at the same instant is discarded
	assert.InDelta(t, 50.0, speed.Last().Value, 1e-9)

	byID, err := s.Series(dbc.MessageByID(0x180), dbc.SignalByIndex(0))
	require.NoError(t, err)
	assert.Equal(t, speed.Samples(), byID.Samples())

	opaque, err := s.OpaqueSeries(0x7FF)
	require.NoError(t, err)
	assert.Equal(t, "0x7FF", opaque.Name())
	assert.Equal(t, []float64{258}, opaque.Values())

	_, err = s.OpaqueSeries(0x123)
	assert.True(t, errors.Is(err, dbc.ErrUnknownMessage))

	_, err = s.Series(dbc.MessageByName("Speed"), dbc.SignalByName("Nope"))
	assert.True(t, errors.Is(err, dbc.ErrUnknownSignal))

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "VehicleSpeed", all[0].Signal.Name)
	assert.Equal(t, "Mode", all[1].Signal.Name)
	assert.Equal(t, []float64{15}, all[1].Series.Values())
}

func TestSession_Topics(t *testing.T) {
	s := session.New(catalog(t), session.Options{Topics: map[string]string{
		"speed":   "Speed.VehicleSpeed",
		"mode":    "0x200.#0",
		"missing": "Speed.Nope",
	}})
	require.NoError(t, s.IngestAll(context.Background(), testFrames()))

	assert.Equal(t, []string{"missing", "mode", "speed"}, s.Topics())

	speed, err := s.Topic("speed")
	require.NoError(t, err)
	assert.Equal(t, "speed", speed.Name())
	assert.Equal(t, []float64{10, 50}, speed.Values())

	spec, err := s.ResolveTopic("mode")
	require.NoError(t, err)
	assert.Equal(t, "Mode", spec.Name)

	_, err = s.Topic("yaw_rate")
	assert.True(t, errors.Is(err, session.ErrUnknownTopic))
	_, err = s.Topic("missing")
	assert.True(t, errors.Is(err, dbc.ErrUnknownSignal))

	spec, byTopic, err := s.Lookup("speed")
	require.NoError(t, err)
	assert.Equal(t, "VehicleSpeed", spec.Name)
	assert.Equal(t, "speed", byTopic.Name())

	spec, byPath, err := s.Lookup("Speed.VehicleSpeed")
	require.NoError(t, err)
	assert.Equal(t, "km/h", spec.Unit)
	assert.Equal(t, "VehicleSpeed", byPath.Name())
	assert.Equal(t, byTopic.Samples(), byPath.Samples())

	_, _, err = s.Lookup("accelx")
	assert.True(t, errors.Is(err, session.ErrUnknownTopic))
}

func TestSession_Opaque(t *testing.T) {
	s := session.New(catalog(t), session.Options{})
	require.NoError(t, s.IngestAll(context.Background(), testFrames()))
	assert.Empty(t, s.Opaque())

	s = session.New(catalog(t), session.Options{KeepOpaque: true})
	frames := append(testFrames(), raw(0x100, 0, 0.5, 0x07), raw(0x7FF, 0, 0.6, 0x00, 0x03))
	require.NoError(t, s.IngestAll(context.Background(), frames))

	opaque := s.Opaque()
	require.Len(t, opaque, 2)
	assert.Equal(t, uint32(0x100), opaque[0].ID)
	assert.Equal(t, []float64{7}, opaque[0].Series.Values())
	assert.Equal(t, uint32(0x7FF), opaque[1].ID)
	assert.Equal(t, "0x7FF", opaque[1].Series.Name())
	assert.Equal(t, []float64{258, 3}, opaque[1].Series.Values())
}

func TestSession_UnseenSignalIsEmpty(t *testing.T) {
	s := session.New(catalog(t), session.Options{})
	got, err := s.Series(dbc.MessageByName("Status"), dbc.SignalByName("Mode"))
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())

	_, err = s.OpaqueSeries(0x7FF)
	assert.Error(t, err)
}

func TestSession_Filter(t *testing.T) {
	s := session.New(catalog(t), session.Options{Filter: can.ByBus(1)})
	require.NoError(t, s.IngestAll(context.Background(), testFrames()))

	assert.Equal(t, session.Stats{Seen: 6, Filtered: 4, Decoded: 2}, s.Stats())
	assert.Equal(t, []uint32{0x180, 0x200}, s.MessageIDs())
}

func TestSession_IngestQueue(t *testing.T) {
	s := session.New(catalog(t), session.Options{QueueSize: 2})
	q := s.Queue()
	assert.Equal(t, 2, cap(q))

	go func() {
		defer close(q)
		for _, f := range testFrames() {
			q <- f
		}
	}()
	require.NoError(t, s.Ingest(context.Background(), q))
	assert.Equal(t, uint64(6), s.Stats().Seen)
}

func TestSession_IngestCancel(t *testing.T) {
	s := session.New(catalog(t), session.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Ingest(ctx, make(chan can.RawFrame))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	err = s.IngestAll(cancelled, testFrames())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, uint64(0), s.Stats().Seen)
}

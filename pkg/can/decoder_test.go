package can_test

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ecan "go.einride.tech/can"

	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/dbc"
)

func loadCatalog(t *testing.T) *dbc.Catalog {
	t.Helper()
	c, err := dbc.LoadFile(filepath.Join("testdata", "vehicle.dbc"))
	require.NoError(t, err)
	return c
}

func frame(id uint32, data ...byte) can.RawFrame {
	f := can.RawFrame{Timestamp: time.Unix(1700000000, 0).UTC()}
	f.ID = id
	f.Length = uint8(len(data))
	copy(f.Data[:], data)
	return f
}

func TestDecodeFrame_BigEndianScaled(t *testing.T) {
	d := can.NewDecoder(loadCatalog(t))

	got, err := d.DecodeFrame(frame(0x180, 0x13, 0x88, 0, 0, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 50.00, got["VehicleSpeed"], 1e-9)
	assert.InDelta(t, 0, got["Gear"], 1e-9)
}

func TestDecode_ValueDescription(t *testing.T) {
	d := can.NewDecoder(loadCatalog(t))

	msg, err := d.Decode(frame(0x180, 0x00, 0x64, 0x03, 0, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "Speed", msg.Name)
	assert.Equal(t, "Drive", msg.Signals["Gear"].Description)
	assert.Equal(t, "1.000 km/h", msg.Signals["VehicleSpeed"].String())
	assert.Equal(t, "3.000 (Drive)", msg.Signals["Gear"].String())

	samples := msg.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, "VehicleSpeed", samples[0].Signal)
	assert.Equal(t, "Gear", samples[1].Signal)
	assert.Equal(t, msg.Timestamp, samples[0].Timestamp)
}

func TestDecode_Multiplexed(t *testing.T) {
	d := can.NewDecoder(loadCatalog(t))

	tests := []struct {
		name string
		data []byte
		want map[string]float64
	}{
		{
			name: "selector 0",
			data: []byte{0x00, 0x9C, 0xFF, 0, 0, 0, 0, 0x05},
			want: map[string]float64{"Selector": 0, "CoolantTemp": -50, "Counter": 5},
		},
		{
			name: "selector 1",
			data: []byte{0x01, 0xE0, 0x2E, 0, 0, 0, 0, 0x06},
			want: map[string]float64{"Selector": 1, "BatteryVoltage": 12, "Counter": 6},
		},
		{
			name: "selector without branch",
			data: []byte{0x02, 0xFF, 0xFF, 0, 0, 0, 0, 0x07},
			want: map[string]float64{"Selector": 2, "Counter": 7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.DecodeFrame(frame(0x200, tt.data...))
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for k, v := range tt.want {
				assert.InDelta(t, v, got[k], 1e-9, k)
			}
		})
	}
}

func TestDecode_Float(t *testing.T) {
	d := can.NewDecoder(loadCatalog(t))

	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], math.Float32bits(-3.5))
	yaw := int16(-1234)
	binary.LittleEndian.PutUint16(data[4:6], uint16(yaw))

	got, err := d.DecodeFrame(frame(0x300, data...))
	require.NoError(t, err)
	assert.InDelta(t, -3.5, got["LongAccel"], 1e-9)
	assert.InDelta(t, -12.34, got["YawRate"], 1e-9)
}

func TestDecode_Extended(t *testing.T) {
	d := can.NewDecoder(loadCatalog(t))

	f := frame(0x0CF004FE, 0, 0, 0, 0x80, 0x3E, 0, 0, 0)
	f.IsExtended = true
	got, err := d.DecodeFrame(f)
	require.NoError(t, err)
	assert.InDelta(t, 2000, got["EngineSpeed"], 1e-9)
}

func TestDecode_Errors(t *testing.T) {
	d := can.NewDecoder(loadCatalog(t))

	_, err := d.DecodeFrame(frame(0x7FF, 1, 2, 3))
	assert.True(t, errors.Is(err, dbc.ErrUnknownMessage))

	_, err = d.DecodeFrame(frame(0x180, 0x13, 0x88))
	assert.True(t, errors.Is(err, can.ErrShortPayload))

	remote := frame(0x180, 0, 0, 0, 0, 0, 0, 0, 0)
	remote.IsRemote = true
	_, err = d.DecodeFrame(remote)
	assert.True(t, errors.Is(err, can.ErrShortPayload))
}

func TestOutOfRange(t *testing.T) {
	d := can.NewDecoder(loadCatalog(t))

	msg, err := d.Decode(frame(0x180, 0x13, 0x88, 0x0F, 0, 0, 0, 0, 0))
	require.NoError(t, err)
	out := d.OutOfRange(msg)
	require.Len(t, out, 1)
	assert.Equal(t, "Gear", out[0].Spec.Name)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := loadCatalog(t)
	enc := can.NewEncoder(c)
	dec := can.NewDecoder(c)

	tests := []struct {
		msg    dbc.MessageRef
		values map[string]float64
	}{
		{dbc.MessageByName("Speed"), map[string]float64{"VehicleSpeed": 123.45, "Gear": 2}},
		{dbc.MessageByName("Speed"), map[string]float64{"VehicleSpeed": 655.35, "Gear": 8}},
		{dbc.MessageByName("Powertrain"), map[string]float64{"Selector": 0, "CoolantTemp": -12.3, "Counter": 255}},
		{dbc.MessageByName("Powertrain"), map[string]float64{"Selector": 1, "BatteryVoltage": 13.807, "Counter": 0}},
		{dbc.MessageByName("Imu"), map[string]float64{"LongAccel": 9.8125, "YawRate": -179.99}},
		{dbc.MessageByID(0x0CF004FE), map[string]float64{"EngineSpeed": 812.375}},
	}
	for _, tt := range tests {
		t.Run(tt.msg.String(), func(t *testing.T) {
			f, err := enc.EncodeFrame(tt.msg, tt.values)
			require.NoError(t, err)

			got, err := dec.DecodeFrame(can.RawFrame{Frame: f})
			require.NoError(t, err)
			for k, v := range tt.values {
				assert.InDelta(t, v, got[k], 1e-6, k)
			}
		})
	}
}

func TestEncodePhysical_Overflow(t *testing.T) {
	c := loadCatalog(t)
	sig, err := c.Resolve(dbc.MessageByName("Speed"), dbc.SignalByName("Gear"))
	require.NoError(t, err)

	var data ecan.Data
	err = can.EncodePhysical(sig, 16, &data)
	assert.True(t, errors.Is(err, can.ErrValueOverflow))
	err = can.EncodePhysical(sig, -1, &data)
	assert.True(t, errors.Is(err, can.ErrValueOverflow))
}

func TestOpaqueValue(t *testing.T) {
	f := frame(0x7FF, 0x01, 0x02)
	assert.InDelta(t, 258, can.OpaqueValue(f), 0)
	assert.Equal(t, "0102", f.PayloadHex())
	assert.Equal(t, "0x7FF", can.OpaqueName(0x7FF))
	assert.InDelta(t, 0, can.OpaqueValue(frame(0x7FF)), 0)
}

func TestFromSeconds(t *testing.T) {
	ts := can.FromSeconds(1700000000.25)
	assert.Equal(t, int64(1700000000), ts.Unix())
	assert.Equal(t, 250*time.Millisecond, time.Duration(ts.Nanosecond()))

	f := can.RawFrame{Timestamp: ts}
	assert.InDelta(t, 1700000000.25, f.Seconds(), 1e-6)
}

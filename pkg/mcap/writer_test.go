package mcap_test

import (
	"bytes"
	"os"
	"sort"
	"testing"

	"github.com/foxglove/mcap/go/mcap"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/dbc"
	canmcap "github.com/BIwashi/canseries/pkg/mcap"
	"github.com/BIwashi/canseries/pkg/series"
)

func catalog(t *testing.T) *dbc.Catalog {
	t.Helper()
	data, err := os.ReadFile("../dbc/testdata/vehicle.dbc")
	require.NoError(t, err)
	c, err := dbc.Load("vehicle.dbc", data)
	require.NoError(t, err)
	return c
}

func TestWriter(t *testing.T) {
	c := catalog(t)
	dec := can.NewDecoder(c)

	f := can.RawFrame{Timestamp: can.FromSeconds(1700000000.5), Bus: 1}
	f.ID = 0x180
	f.Length = 8
	f.Data[0], f.Data[1], f.Data[2] = 0x13, 0x88, 0x03
	msg, err := dec.Decode(f)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := canmcap.NewWriter(&buf, canmcap.Options{SessionID: uuid.New(), Catalog: c.Source})
	require.NoError(t, err)
	require.NoError(t, w.WriteDecoded(msg))

	yaw, err := c.Resolve(dbc.MessageByName("Imu"), dbc.SignalByName("YawRate"))
	require.NoError(t, err)
	require.NoError(t, w.WriteSeries(yaw, series.New("YawRate", []series.Sample{
		{Time: 1700000000.5, Value: 1.5},
		{Time: 1700000000.6, Value: 2.5},
	})))
	require.NoError(t, w.Close())

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89MCAP0\r\n")))

	r, err := mcap.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	info, err := r.Info()
	require.NoError(t, err)

	assert.Equal(t, uint64(4), info.Statistics.MessageCount)
	var topics []string
	for _, ch := range info.Channels {
		topics = append(topics, ch.Topic)
	}
	sort.Strings(topics)
	assert.Equal(t, []string{"/can/Imu/YawRate", "/can/Speed/Gear", "/can/Speed/VehicleSpeed"}, topics)
	require.Len(t, info.Schemas, 1)
	for _, s := range info.Schemas {
		assert.Equal(t, canmcap.SchemaName, s.Name)
	}
}

func TestWriter_Opaque(t *testing.T) {
	var buf bytes.Buffer
	w, err := canmcap.NewWriter(&buf, canmcap.Options{Uncompressed: true})
	require.NoError(t, err)
	require.NoError(t, w.WriteOpaque(0x7FF, series.New(can.OpaqueName(0x7FF), []series.Sample{
		{Time: 10, Value: 258},
		{Time: 10.1, Value: 3},
		{Time: 10.2, Value: 0},
	})))
	require.NoError(t, w.Close())

	r, err := mcap.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	info, err := r.Info()
	require.NoError(t, err)

	assert.Equal(t, uint64(3), info.Statistics.MessageCount)
	require.Len(t, info.Channels, 1)
	for _, ch := range info.Channels {
		assert.Equal(t, "/can/0x7FF/payload", ch.Topic)
		assert.Equal(t, canmcap.OpaqueTopic(0x7FF), ch.Topic)
		assert.Equal(t, "true", ch.Metadata["opaque"])
		assert.Equal(t, "0x7FF", ch.Metadata["can_id"])
	}
}

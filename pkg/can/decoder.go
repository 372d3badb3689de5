package can

import (
	"fmt"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	ecan "go.einride.tech/can"

	"github.com/BIwashi/canseries/pkg/dbc"
)

var (
	// ErrShortPayload is returned when a frame carries fewer bytes than its message declares.
	ErrShortPayload = errors.New("payload shorter than message length")
	// ErrMultiplexResolution is returned when the selector of a multiplexed message cannot be decoded.
	ErrMultiplexResolution = errors.New("multiplexer selector undecodable")
)

// DecodedMessage represents a decoded CAN message with all signal values
type DecodedMessage struct {
	Name      string
	ID        uint32
	Bus       uint8
	Timestamp time.Time
	Signals   map[string]SignalValue

	spec  *dbc.MessageSpec
	order []string
}

// SignalValue contains both raw and physical values of a signal
type SignalValue struct {
	Spec        *dbc.SignalSpec
	Raw         float64
	Physical    float64
	Description string
}

// DecodedSample is one physical value of one signal at one instant.
type DecodedSample struct {
	Timestamp time.Time
	Message   string
	Signal    string
	Value     float64
}

// Samples flattens the message into samples in signal declaration order.
func (m *DecodedMessage) Samples() []DecodedSample {
	out := make([]DecodedSample, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, DecodedSample{
			Timestamp: m.Timestamp,
			Message:   m.Name,
			Signal:    name,
			Value:     m.Signals[name].Physical,
		})
	}
	return out
}

// Spec returns the message definition the frame was decoded with.
func (m *DecodedMessage) Spec() *dbc.MessageSpec {
	return m.spec
}

// Decoder decodes CAN frames using a signal catalog.
type Decoder struct {
	catalog *dbc.Catalog
}

// NewDecoder creates a new CAN decoder
func NewDecoder(catalog *dbc.Catalog) *Decoder {
	return &Decoder{
		catalog: catalog,
	}
}

// Catalog returns the catalog the decoder reads from.
func (d *Decoder) Catalog() *dbc.Catalog {
	return d.catalog
}

// DecodeFrame decodes a frame into physical values keyed by signal name.
func (d *Decoder) DecodeFrame(frame RawFrame) (map[string]float64, error) {
	msg, err := d.Decode(frame)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(msg.Signals))
	for name, v := range msg.Signals {
		out[name] = v.Physical
	}
	return out, nil
}

// Decode decodes a frame into a DecodedMessage. Unknown ids yield dbc.ErrUnknownMessage;
// the frame is either decoded completely or not at all.
func (d *Decoder) Decode(frame RawFrame) (*DecodedMessage, error) {
	spec, err := d.catalog.Lookup(frame.ID)
	if err != nil {
		return nil, err
	}
	if frame.IsRemote {
		return nil, errors.Wrapf(ErrShortPayload, "remote frame 0x%X carries no data", frame.ID)
	}
	if int(frame.Length) < spec.Length {
		return nil, errors.Wrapf(ErrShortPayload, "message %s: got %d bytes, want %d", spec.Name, frame.Length, spec.Length)
	}

	active := func(*dbc.SignalSpec) bool { return true }
	if mux := spec.Multiplexer; mux != nil {
		if mux.LastByte() >= int(frame.Length) {
			return nil, errors.Wrapf(ErrMultiplexResolution, "message %s: selector %s beyond %d byte payload", spec.Name, mux.Name, frame.Length)
		}
		selector := mux.Descriptor().UnmarshalUnsigned(frame.Data)
		active = func(s *dbc.SignalSpec) bool { return s.Active(selector) }
	}

	decoded := &DecodedMessage{
		Name:      spec.Name,
		ID:        frame.ID,
		Bus:       frame.Bus,
		Timestamp: frame.Timestamp,
		Signals:   make(map[string]SignalValue, len(spec.Signals)),
		spec:      spec,
		order:     make([]string, 0, len(spec.Signals)),
	}
	for _, sig := range spec.Signals {
		if !active(sig) {
			continue
		}
		if sig.LastByte() >= int(frame.Length) {
			return nil, errors.Wrapf(ErrShortPayload, "signal %s.%s beyond %d byte payload", spec.Name, sig.Name, frame.Length)
		}
		decoded.Signals[sig.Name] = decodeSignal(sig, frame.Data)
		decoded.order = append(decoded.order, sig.Name)
	}
	return decoded, nil
}

// OutOfRange lists the decoded signals whose physical value lies outside the declared range.
func (d *Decoder) OutOfRange(msg *DecodedMessage) []SignalValue {
	var out []SignalValue
	for _, name := range msg.order {
		v := msg.Signals[name]
		if !v.Spec.InRange(v.Physical) {
			out = append(out, v)
		}
	}
	return out
}

func decodeSignal(sig *dbc.SignalSpec, data ecan.Data) SignalValue {
	desc := sig.Descriptor()
	var raw float64
	switch {
	case sig.IsFloat && sig.BitLength == 32:
		raw = float64(math.Float32frombits(uint32(desc.UnmarshalUnsigned(data))))
	case sig.IsFloat:
		raw = math.Float64frombits(desc.UnmarshalUnsigned(data))
	case sig.IsSigned:
		raw = float64(desc.UnmarshalSigned(data))
	default:
		raw = float64(desc.UnmarshalUnsigned(data))
	}
	v := SignalValue{
		Spec:     sig,
		Raw:      raw,
		Physical: raw*sig.Scale + sig.Offset,
	}
	if !sig.IsFloat && sig.ValueDescriptions != nil {
		v.Description = sig.ValueDescriptions[int64(raw)]
	}
	return v
}

// String formats a signal value with its unit
func (v SignalValue) String() string {
	// Format based on value magnitude
	var formatted string
	abs := math.Abs(v.Physical)
	switch {
	case abs == 0:
		formatted = "0"
	case abs >= 1000 || abs < 0.01:
		formatted = fmt.Sprintf("%.3e", v.Physical)
	case abs >= 100:
		formatted = fmt.Sprintf("%.1f", v.Physical)
	case abs >= 10:
		formatted = fmt.Sprintf("%.2f", v.Physical)
	default:
		formatted = fmt.Sprintf("%.3f", v.Physical)
	}
	if v.Description != "" {
		formatted = fmt.Sprintf("%s (%s)", formatted, v.Description)
	}
	if v.Spec != nil && v.Spec.Unit != "" {
		return fmt.Sprintf("%s %s", formatted, v.Spec.Unit)
	}
	return formatted
}

package can

import (
	"math"

	"github.com/cockroachdb/errors"
	ecan "go.einride.tech/can"

	"github.com/BIwashi/canseries/pkg/dbc"
)

// ErrValueOverflow is returned when a physical value does not fit the signal's raw bits.
var ErrValueOverflow = errors.New("value does not fit signal")

// Encoder writes physical values into frame payloads. It is the inverse of Decoder.
type Encoder struct {
	catalog *dbc.Catalog
}

// NewEncoder creates an encoder over the catalog.
func NewEncoder(catalog *dbc.Catalog) *Encoder {
	return &Encoder{catalog: catalog}
}

// EncodeFrame builds a frame for the message with the given physical values.
// Signals absent from values are left zero.
func (e *Encoder) EncodeFrame(ref dbc.MessageRef, values map[string]float64) (ecan.Frame, error) {
	msg, err := e.catalog.ResolveMessage(ref)
	if err != nil {
		return ecan.Frame{}, err
	}
	f := ecan.Frame{
		ID:         msg.ID,
		Length:     uint8(msg.Length),
		IsExtended: msg.IsExtended,
	}
	for name, v := range values {
		sig, err := msg.Signal(name)
		if err != nil {
			return ecan.Frame{}, err
		}
		if err := EncodePhysical(sig, v, &f.Data); err != nil {
			return ecan.Frame{}, err
		}
	}
	return f, nil
}

// EncodePhysical converts a physical value to raw bits and stores them in data.
func EncodePhysical(sig *dbc.SignalSpec, value float64, data *ecan.Data) error {
	desc := sig.Descriptor()
	scale := sig.Scale
	if scale == 0 {
		return errors.Newf("signal %s: zero scale", sig.Name)
	}
	raw := (value - sig.Offset) / scale

	switch {
	case sig.IsFloat && sig.BitLength == 32:
		desc.MarshalUnsigned(data, uint64(math.Float32bits(float32(raw))))
		return nil
	case sig.IsFloat:
		desc.MarshalUnsigned(data, math.Float64bits(raw))
		return nil
	}

	raw = math.Round(raw)
	if sig.IsSigned {
		lo := -math.Ldexp(1, sig.BitLength-1)
		hi := math.Ldexp(1, sig.BitLength-1) - 1
		if raw < lo || raw > hi {
			return errors.Wrapf(ErrValueOverflow, "signal %s: raw %g outside [%g,%g]", sig.Name, raw, lo, hi)
		}
		desc.MarshalSigned(data, int64(raw))
		return nil
	}
	hi := math.Ldexp(1, sig.BitLength) - 1
	if raw < 0 || raw > hi {
		return errors.Wrapf(ErrValueOverflow, "signal %s: raw %g outside [0,%g]", sig.Name, raw, hi)
	}
	desc.MarshalUnsigned(data, uint64(raw))
	return nil
}

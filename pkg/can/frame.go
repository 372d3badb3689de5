package can

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	ecan "go.einride.tech/can"
)

// RawFrame wraps einride can.Frame with the capture timestamp and bus index.
// Embedding keeps field access (ID, Length, Data, IsExtended, IsRemote, ...) identical.
type RawFrame struct {
	ecan.Frame
	// Timestamp is the capture time. On the wire it is seconds since epoch.
	Timestamp time.Time
	// Bus is the capture channel the frame was seen on.
	Bus uint8
}

// Payload returns the first Length bytes of the frame data.
func (f RawFrame) Payload() []byte {
	n := int(f.Length)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	out := make([]byte, n)
	copy(out, f.Data[:n])
	return out
}

// PayloadHex renders the payload as lowercase hex without separators.
func (f RawFrame) PayloadHex() string {
	return hex.EncodeToString(f.Payload())
}

// Seconds returns the timestamp as fractional seconds since epoch.
func (f RawFrame) Seconds() float64 {
	return float64(f.Timestamp.UnixNano()) / 1e9
}

// FromSeconds converts fractional epoch seconds into a time.Time.
func FromSeconds(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9)).UTC()
}

// OpaqueValue renders the payload as an unsigned big-endian integer.
// It is the documented fallback for frames whose id is not in the catalog.
// Payloads wider than 53 bits lose precision in the float conversion.
func OpaqueValue(f RawFrame) float64 {
	v := new(big.Int).SetBytes(f.Payload())
	out, _ := new(big.Float).SetInt(v).Float64()
	return out
}

// OpaqueName is the series name used for an undecoded frame id.
func OpaqueName(id uint32) string {
	return fmt.Sprintf("0x%X", id)
}

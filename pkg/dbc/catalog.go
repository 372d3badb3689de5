package dbc

import (
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"go.einride.tech/can/pkg/descriptor"
)

// ErrUnknownMessage is returned when a frame id or message name is absent from the catalog.
var ErrUnknownMessage = errors.New("unknown message")

// ErrUnknownSignal is returned when a signal name or index does not exist in a message.
var ErrUnknownSignal = errors.New("unknown signal")

// ByteOrder is the bit layout of a signal inside the payload.
type ByteOrder int

const (
	// LittleEndian is the Intel layout; the start bit is the LSB.
	LittleEndian ByteOrder = iota
	// BigEndian is the Motorola layout; the start bit is the MSB in DBC numbering.
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big_endian"
	}
	return "little_endian"
}

// Catalog is a compiled signal database. It is read-only once loaded and
// safe for concurrent use.
type Catalog struct {
	Source  string
	Version string
	Nodes   []string

	messages map[uint32]*MessageSpec
	byName   map[string]*MessageSpec
	ids      []uint32
}

// MessageSpec describes one CAN message.
type MessageSpec struct {
	ID          uint32
	IsExtended  bool
	Name        string
	Length      int
	Sender      string
	Description string
	CycleTime   time.Duration

	// Signals are kept in declaration order; SignalByIndex refers to this order.
	Signals []*SignalSpec
	// Multiplexer is the selector signal, nil when the message is not multiplexed.
	Multiplexer *SignalSpec

	byName map[string]*SignalSpec
}

// SignalSpec describes one signal inside a message.
type SignalSpec struct {
	Message     *MessageSpec
	Name        string
	StartBit    int
	BitLength   int
	ByteOrder   ByteOrder
	IsSigned    bool
	IsFloat     bool
	Scale       float64
	Offset      float64
	Min         float64
	Max         float64
	Unit        string
	Description string
	Receivers   []string

	// IsMultiplexer marks the selector signal of a multiplexed message.
	IsMultiplexer bool
	// Multiplexer is the selector value enabling this signal; nil means unconditioned.
	Multiplexer *uint

	ValueDescriptions map[int64]string

	desc *descriptor.Signal
}

// Lookup returns the message with the given frame id.
func (c *Catalog) Lookup(id uint32) (*MessageSpec, error) {
	msg, ok := c.messages[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessage, "can id 0x%X", id)
	}
	return msg, nil
}

// LookupName returns the message with the given name.
func (c *Catalog) LookupName(name string) (*MessageSpec, error) {
	msg, ok := c.byName[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessage, "message %q", name)
	}
	return msg, nil
}

// Messages returns all messages ordered by id.
func (c *Catalog) Messages() []*MessageSpec {
	out := make([]*MessageSpec, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.messages[id])
	}
	return out
}

// Len returns the number of messages in the catalog.
func (c *Catalog) Len() int {
	return len(c.ids)
}

// Signal returns the named signal of the message.
func (m *MessageSpec) Signal(name string) (*SignalSpec, error) {
	s, ok := m.byName[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSignal, "signal %q in message %s", name, m.Name)
	}
	return s, nil
}

// SignalAt returns the i-th declared signal of the message.
func (m *MessageSpec) SignalAt(i int) (*SignalSpec, error) {
	if i < 0 || i >= len(m.Signals) {
		return nil, errors.Wrapf(ErrUnknownSignal, "signal index %d in message %s (%d signals)", i, m.Name, len(m.Signals))
	}
	return m.Signals[i], nil
}

// IsMultiplexed reports whether the message layout depends on a selector signal.
func (m *MessageSpec) IsMultiplexed() bool {
	return m.Multiplexer != nil
}

// Active reports whether the signal is decoded when the selector has the given value.
func (s *SignalSpec) Active(selector uint64) bool {
	return s.Multiplexer == nil || uint64(*s.Multiplexer) == selector
}

// Descriptor exposes the einride descriptor used for bit extraction.
func (s *SignalSpec) Descriptor() *descriptor.Signal {
	return s.desc
}

// Bounded reports whether the signal declares a physical range. A 0|0 range means unbounded.
func (s *SignalSpec) Bounded() bool {
	return s.Min != 0 || s.Max != 0
}

// InRange reports whether a physical value lies within the declared range.
func (s *SignalSpec) InRange(v float64) bool {
	if !s.Bounded() {
		return true
	}
	const epsilon = 1e-9
	return v >= s.Min-epsilon && v <= s.Max+epsilon
}

// LastByte returns the index of the highest payload byte the signal touches.
func (s *SignalSpec) LastByte() int {
	if s.ByteOrder == LittleEndian {
		return (s.StartBit + s.BitLength - 1) / 8
	}
	// Motorola sawtooth: walk from MSB down to LSB.
	pos := s.StartBit
	for i := 1; i < s.BitLength; i++ {
		if pos%8 == 0 {
			pos += 15
		} else {
			pos--
		}
	}
	return pos / 8
}

// String renders the signal the way a DBC SG_ line describes it.
func (s *SignalSpec) String() string {
	order, sign := 1, "+"
	if s.ByteOrder == BigEndian {
		order = 0
	}
	if s.IsSigned {
		sign = "-"
	}
	return fmt.Sprintf("%s.%s %d|%d@%d%s (%g,%g) [%g|%g] %q",
		s.Message.Name, s.Name, s.StartBit, s.BitLength, order, sign, s.Scale, s.Offset, s.Min, s.Max, s.Unit)
}

func (c *Catalog) index() {
	c.ids = c.ids[:0]
	for id := range c.messages {
		c.ids = append(c.ids, id)
	}
	sort.Slice(c.ids, func(i, j int) bool { return c.ids[i] < c.ids[j] })
}

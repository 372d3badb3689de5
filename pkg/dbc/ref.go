package dbc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// MessageRef selects a message either by name or by frame id.
type MessageRef struct {
	name string
	id   uint32
	byID bool
}

// MessageByName refers to a message by its catalog name.
func MessageByName(name string) MessageRef {
	return MessageRef{name: name}
}

// MessageByID refers to a message by its frame id.
func MessageByID(id uint32) MessageRef {
	return MessageRef{id: id, byID: true}
}

func (r MessageRef) String() string {
	if r.byID {
		return fmt.Sprintf("0x%X", r.id)
	}
	return r.name
}

// SignalRef selects a signal either by name or by declaration index.
type SignalRef struct {
	name    string
	index   int
	byIndex bool
}

// SignalByName refers to a signal by name.
func SignalByName(name string) SignalRef {
	return SignalRef{name: name}
}

// SignalByIndex refers to the i-th declared signal of a message.
func SignalByIndex(i int) SignalRef {
	return SignalRef{index: i, byIndex: true}
}

func (r SignalRef) String() string {
	if r.byIndex {
		return fmt.Sprintf("#%d", r.index)
	}
	return r.name
}

// ResolveMessage turns a MessageRef into the concrete MessageSpec.
func (c *Catalog) ResolveMessage(ref MessageRef) (*MessageSpec, error) {
	if ref.byID {
		return c.Lookup(ref.id)
	}
	return c.LookupName(ref.name)
}

// Resolve turns a message and signal reference into the concrete SignalSpec.
func (c *Catalog) Resolve(msgRef MessageRef, sigRef SignalRef) (*SignalSpec, error) {
	msg, err := c.ResolveMessage(msgRef)
	if err != nil {
		return nil, err
	}
	if sigRef.byIndex {
		return msg.SignalAt(sigRef.index)
	}
	return msg.Signal(sigRef.name)
}

// ParsePath parses a signal path of the form <message>.<signal>. The message is a
// name or a 0x-prefixed frame id; the signal is a name or #<index>.
func ParsePath(path string) (MessageRef, SignalRef, error) {
	msgPart, sigPart, ok := strings.Cut(path, ".")
	if !ok || msgPart == "" || sigPart == "" {
		return MessageRef{}, SignalRef{}, errors.Newf("signal path %q is not <message>.<signal>", path)
	}

	msg := MessageByName(msgPart)
	if hex, found := strings.CutPrefix(strings.ToLower(msgPart), "0x"); found {
		id, err := strconv.ParseUint(hex, 16, 29)
		if err != nil {
			return MessageRef{}, SignalRef{}, errors.Wrapf(err, "signal path %q", path)
		}
		msg = MessageByID(uint32(id))
	}

	sig := SignalByName(sigPart)
	if idx, found := strings.CutPrefix(sigPart, "#"); found {
		i, err := strconv.Atoi(idx)
		if err != nil {
			return MessageRef{}, SignalRef{}, errors.Wrapf(err, "signal path %q", path)
		}
		sig = SignalByIndex(i)
	}
	return msg, sig, nil
}

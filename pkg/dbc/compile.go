package dbc

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	cdbc "go.einride.tech/can/pkg/dbc"
	"go.einride.tech/can/pkg/descriptor"
)

// CatalogParseError reports a malformed catalog description. It is fatal at session start.
type CatalogParseError struct {
	Source string
	Err    error
}

func (e *CatalogParseError) Error() string {
	return fmt.Sprintf("parse catalog %s: %v", e.Source, e.Err)
}

func (e *CatalogParseError) Unwrap() error {
	return e.Err
}

// LoadFile reads and compiles a DBC file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read dbc file")
	}
	return Load(filepath.Base(path), data)
}

// Load parses DBC text with the can-go parser and compiles it into a Catalog.
func Load(source string, data []byte) (*Catalog, error) {
	p := cdbc.NewParser(source, data)
	if err := p.Parse(); err != nil {
		return nil, &CatalogParseError{Source: source, Err: err}
	}

	c := &compiler{
		catalog: &Catalog{
			Source:   source,
			messages: make(map[uint32]*MessageSpec),
			byName:   make(map[string]*MessageSpec),
		},
		defs: p.Defs(),
	}
	c.collectDescriptors()
	c.addMetadata()
	if len(c.errors) > 0 {
		return nil, &CatalogParseError{
			Source: source,
			Err:    errors.Wrapf(c.errors[0], "%d definition error(s), first", len(c.errors)),
		}
	}
	c.catalog.index()
	return c.catalog, nil
}

type compiler struct {
	catalog *Catalog
	defs    []cdbc.Def
	errors  []error
}

func (c *compiler) errorf(format string, args ...any) {
	c.errors = append(c.errors, errors.Newf(format, args...))
}

/*
ref: https://github.com/einride/can-go/internal/generate/compile.go
*/
func (c *compiler) collectDescriptors() {
	for _, def := range c.defs {
		switch def := def.(type) {
		case *cdbc.VersionDef:
			c.catalog.Version = def.Version
		case *cdbc.MessageDef:
			if def.MessageID == cdbc.IndependentSignalsMessageID {
				continue // don't compile
			}
			c.compileMessage(def)
		case *cdbc.NodesDef:
			for _, node := range def.NodeNames {
				c.catalog.Nodes = append(c.catalog.Nodes, string(node))
			}
		}
	}
}

func (c *compiler) compileMessage(def *cdbc.MessageDef) {
	id := def.MessageID.ToCAN()
	if prev, ok := c.catalog.messages[id]; ok {
		c.errorf("duplicate message id 0x%X (%s and %s)", id, prev.Name, def.Name)
		return
	}
	msg := &MessageSpec{
		ID:         id,
		IsExtended: def.MessageID.IsExtended(),
		Name:       string(def.Name),
		Length:     int(def.Size),
		Sender:     string(def.Transmitter),
		byName:     make(map[string]*SignalSpec, len(def.Signals)),
	}
	if msg.Length > 8 {
		c.errorf("message %s: length %d exceeds 8 bytes", msg.Name, msg.Length)
		return
	}

	multiplexed := false
	for i := range def.Signals {
		sd := &def.Signals[i]
		if sd.Size == 0 || sd.Size > 64 {
			c.errorf("signal %s.%s: invalid length %d", msg.Name, sd.Name, sd.Size)
			continue
		}
		if sd.StartBit > 63 {
			c.errorf("signal %s.%s: start bit %d out of range", msg.Name, sd.Name, sd.StartBit)
			continue
		}
		sig := &SignalSpec{
			Message:       msg,
			Name:          string(sd.Name),
			StartBit:      int(sd.StartBit),
			BitLength:     int(sd.Size),
			IsSigned:      sd.IsSigned,
			Scale:         sd.Factor,
			Offset:        sd.Offset,
			Min:           sd.Minimum,
			Max:           sd.Maximum,
			Unit:          sd.Unit,
			IsMultiplexer: sd.IsMultiplexerSwitch,
			desc: &descriptor.Signal{
				Name:             string(sd.Name),
				IsBigEndian:      sd.IsBigEndian,
				IsSigned:         sd.IsSigned,
				IsMultiplexer:    sd.IsMultiplexerSwitch,
				IsMultiplexed:    sd.IsMultiplexed,
				MultiplexerValue: uint(sd.MultiplexerSwitch),
				Start:            uint8(sd.StartBit),
				Length:           uint8(sd.Size),
				Scale:            sd.Factor,
				Offset:           sd.Offset,
				Min:              sd.Minimum,
				Max:              sd.Maximum,
				Unit:             sd.Unit,
			},
		}
		if sd.IsBigEndian {
			sig.ByteOrder = BigEndian
		}
		if sd.IsMultiplexed {
			v := uint(sd.MultiplexerSwitch)
			sig.Multiplexer = &v
			multiplexed = true
		}
		for _, r := range sd.Receivers {
			sig.Receivers = append(sig.Receivers, string(r))
			sig.desc.ReceiverNodes = append(sig.desc.ReceiverNodes, string(r))
		}
		if sig.LastByte() >= msg.Length {
			c.errorf("signal %s.%s: overruns %d byte message", msg.Name, sig.Name, msg.Length)
			continue
		}
		if _, ok := msg.byName[sig.Name]; ok {
			c.errorf("message %s: duplicate signal %s", msg.Name, sig.Name)
			continue
		}
		if sig.IsMultiplexer {
			if msg.Multiplexer != nil {
				c.errorf("message %s: multiple multiplexer switches (%s, %s)", msg.Name, msg.Multiplexer.Name, sig.Name)
				continue
			}
			msg.Multiplexer = sig
		}
		msg.Signals = append(msg.Signals, sig)
		msg.byName[sig.Name] = sig
	}
	if multiplexed && msg.Multiplexer == nil {
		c.errorf("message %s: multiplexed signals without a multiplexer switch", msg.Name)
		return
	}

	if _, ok := c.catalog.byName[msg.Name]; ok {
		c.errorf("duplicate message name %s", msg.Name)
		return
	}
	c.catalog.messages[id] = msg
	c.catalog.byName[msg.Name] = msg
}

func (c *compiler) signal(id cdbc.MessageID, name cdbc.Identifier) (*SignalSpec, bool) {
	msg, ok := c.catalog.messages[id.ToCAN()]
	if !ok {
		return nil, false
	}
	sig, ok := msg.byName[string(name)]
	return sig, ok
}

func (c *compiler) addMetadata() {
	for _, def := range c.defs {
		switch def := def.(type) {
		case *cdbc.SignalValueTypeDef:
			sig, ok := c.signal(def.MessageID, def.SignalName)
			if !ok {
				c.errorf("no declared signal: %v", def)
				continue
			}
			switch def.SignalValueType {
			case cdbc.SignalValueTypeInt:
				sig.IsFloat = false
			case cdbc.SignalValueTypeFloat32:
				if sig.BitLength != 32 {
					c.errorf("incorrect float signal length: %s.%s %d", sig.Message.Name, sig.Name, sig.BitLength)
					continue
				}
				sig.IsFloat = true
			case cdbc.SignalValueTypeFloat64:
				if sig.BitLength != 64 {
					c.errorf("incorrect double signal length: %s.%s %d", sig.Message.Name, sig.Name, sig.BitLength)
					continue
				}
				sig.IsFloat = true
			default:
				c.errorf("unsupported signal value type: %v", def.SignalValueType)
			}
		case *cdbc.CommentDef:
			if def.MessageID == cdbc.IndependentSignalsMessageID {
				continue // don't compile
			}
			switch def.ObjectType {
			case cdbc.ObjectTypeMessage:
				msg, ok := c.catalog.messages[def.MessageID.ToCAN()]
				if !ok {
					c.errorf("no declared message: %v", def)
					continue
				}
				msg.Description = def.Comment
			case cdbc.ObjectTypeSignal:
				sig, ok := c.signal(def.MessageID, def.SignalName)
				if !ok {
					c.errorf("no declared signal: %v", def)
					continue
				}
				sig.Description = def.Comment
			}
		case *cdbc.ValueDescriptionsDef:
			if def.MessageID == cdbc.IndependentSignalsMessageID || def.ObjectType != cdbc.ObjectTypeSignal {
				continue // don't compile
			}
			sig, ok := c.signal(def.MessageID, def.SignalName)
			if !ok {
				c.errorf("no declared signal: %v", def)
				continue
			}
			if sig.ValueDescriptions == nil {
				sig.ValueDescriptions = make(map[int64]string, len(def.ValueDescriptions))
			}
			for _, vd := range def.ValueDescriptions {
				sig.ValueDescriptions[int64(vd.Value)] = vd.Description
			}
		case *cdbc.AttributeValueForObjectDef:
			if def.ObjectType != cdbc.ObjectTypeMessage {
				continue
			}
			msg, ok := c.catalog.messages[def.MessageID.ToCAN()]
			if !ok {
				c.errorf("no declared message: %v", def)
				continue
			}
			if def.AttributeName == "GenMsgCycleTime" {
				msg.CycleTime = time.Duration(def.IntValue) * time.Millisecond
			}
		}
	}
}

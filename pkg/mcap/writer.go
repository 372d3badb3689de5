// Package mcap exports decoded signal series to MCAP files with a protobuf schema.
package mcap

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/foxglove/mcap/go/mcap"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/dbc"
	"github.com/BIwashi/canseries/pkg/series"
)

// SchemaName is the fully qualified name of the sample message.
const SchemaName = "canseries.v1.SignalSample"

// Options configures a Writer.
type Options struct {
	// SessionID is stored in the "session" metadata record.
	SessionID uuid.UUID
	// Catalog is the source name of the catalog the samples were decoded with.
	Catalog string
	// Uncompressed disables zstd chunk compression.
	Uncompressed bool
}

// Writer writes SignalSample messages into an MCAP file.
//
// Channel granularity is one (message, signal) pair, created lazily with topic
// /can/<MessageName>/<SignalName> and metadata can_id, message, signal, unit, is_extended.
type Writer struct {
	mu         sync.Mutex
	writer     *mcap.Writer
	schemaID   uint16
	nextChanID uint16
	channels   map[string]*channel
	fields     sampleFields
}

type channel struct {
	id  uint16
	seq uint32
}

// NewWriter initializes an MCAP writer with the SignalSample schema and session
// metadata. out is not closed by the writer.
func NewWriter(out io.Writer, opts Options) (*Writer, error) {
	compression := mcap.CompressionZSTD
	if opts.Uncompressed {
		compression = mcap.CompressionNone
	}
	w, err := mcap.NewWriter(out, &mcap.WriterOptions{
		Chunked:     true,
		ChunkSize:   2 * 1024 * 1024,
		Compression: compression,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create MCAP writer")
	}
	if err := w.WriteHeader(&mcap.Header{Library: "canseries"}); err != nil {
		return nil, errors.Wrap(err, "write header")
	}

	desc, fields, err := sampleDescriptor()
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(&descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{protodesc.ToFileDescriptorProto(desc.ParentFile())},
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema descriptor")
	}

	schemaID := uint16(1)
	if err := w.WriteSchema(&mcap.Schema{
		ID:       schemaID,
		Name:     SchemaName,
		Encoding: "protobuf",
		Data:     data,
	}); err != nil {
		return nil, errors.Wrap(err, "write schema")
	}

	sessionID := opts.SessionID
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}
	if err := w.WriteMetadata(&mcap.Metadata{
		Name: "session",
		Metadata: map[string]string{
			"session_id": sessionID.String(),
			"catalog":    opts.Catalog,
			"created_at": time.Now().UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return nil, errors.Wrap(err, "write metadata")
	}

	return &Writer{
		writer:     w,
		schemaID:   schemaID,
		nextChanID: 0,
		channels:   make(map[string]*channel),
		fields:     fields,
	}, nil
}

type sampleFields struct {
	desc        protoreflect.MessageDescriptor
	timestampNs protoreflect.FieldDescriptor
	value       protoreflect.FieldDescriptor
	raw         protoreflect.FieldDescriptor
	description protoreflect.FieldDescriptor
	canID       protoreflect.FieldDescriptor
	bus         protoreflect.FieldDescriptor
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

// sampleDescriptor builds the SignalSample message descriptor at runtime.
func sampleDescriptor() (protoreflect.MessageDescriptor, sampleFields, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("canseries/v1/sample.proto"),
		Package: proto.String("canseries.v1"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{{
			Name: proto.String("SignalSample"),
			Field: []*descriptorpb.FieldDescriptorProto{
				field("timestamp_ns", 1, descriptorpb.FieldDescriptorProto_TYPE_UINT64),
				field("value", 2, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
				field("raw", 3, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
				field("description", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
				field("can_id", 5, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
				field("bus", 6, descriptorpb.FieldDescriptorProto_TYPE_UINT32),
			},
		}},
	}
	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		return nil, sampleFields{}, errors.Wrap(err, "build sample descriptor")
	}
	md := fd.Messages().ByName("SignalSample")
	fields := md.Fields()
	return md, sampleFields{
		desc:        md,
		timestampNs: fields.ByName("timestamp_ns"),
		value:       fields.ByName("value"),
		raw:         fields.ByName("raw"),
		description: fields.ByName("description"),
		canID:       fields.ByName("can_id"),
		bus:         fields.ByName("bus"),
	}, nil
}

// Sample is one exported data point.
type Sample struct {
	Time        float64
	Value       float64
	Raw         float64
	Description string
	Bus         uint8
}

// Topic returns the channel topic of a signal.
func Topic(msg, sig string) string {
	return fmt.Sprintf("/can/%s/%s", msg, sig)
}

// OpaqueTopic returns the channel topic of an id missing from the catalog.
func OpaqueTopic(id uint32) string {
	return fmt.Sprintf("/can/0x%X/payload", id)
}

func (w *Writer) ensureChannel(msg *dbc.MessageSpec, sig *dbc.SignalSpec) (*channel, error) {
	hexID := fmt.Sprintf("0x%X", msg.ID)
	metadata := map[string]string{
		"can_id":      hexID,
		"message":     msg.Name,
		"signal":      sig.Name,
		"is_extended": fmt.Sprintf("%t", msg.IsExtended),
	}
	if sig.Unit != "" {
		metadata["unit"] = sig.Unit
	}
	return w.channel(hexID+":"+sig.Name, Topic(msg.Name, sig.Name), metadata)
}

func (w *Writer) channel(key, topic string, metadata map[string]string) (*channel, error) {
	if ch, ok := w.channels[key]; ok {
		return ch, nil
	}

	w.nextChanID++
	ch := &channel{id: w.nextChanID}
	if err := w.writer.WriteChannel(&mcap.Channel{
		ID:              ch.id,
		SchemaID:        w.schemaID,
		Topic:           topic,
		MessageEncoding: "protobuf",
		Metadata:        metadata,
	}); err != nil {
		return nil, errors.Wrapf(err, "write channel (topic=%s)", topic)
	}
	w.channels[key] = ch
	return ch, nil
}

// WriteSample writes one sample of sig.
func (w *Writer) WriteSample(sig *dbc.SignalSpec, s Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, err := w.ensureChannel(sig.Message, sig)
	if err != nil {
		return err
	}
	return w.write(ch, sig.Message.ID, s)
}

func (w *Writer) write(ch *channel, canID uint32, s Sample) error {
	ts := can.FromSeconds(s.Time)
	ns := uint64(ts.UnixNano())

	m := dynamicpb.NewMessage(w.fields.desc)
	m.Set(w.fields.timestampNs, protoreflect.ValueOfUint64(ns))
	m.Set(w.fields.value, protoreflect.ValueOfFloat64(s.Value))
	m.Set(w.fields.raw, protoreflect.ValueOfFloat64(s.Raw))
	m.Set(w.fields.canID, protoreflect.ValueOfUint32(canID))
	m.Set(w.fields.bus, protoreflect.ValueOfUint32(uint32(s.Bus)))
	if s.Description != "" {
		m.Set(w.fields.description, protoreflect.ValueOfString(s.Description))
	}
	data, err := proto.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal SignalSample")
	}

	ch.seq++
	if err := w.writer.WriteMessage(&mcap.Message{
		ChannelID:   ch.id,
		Sequence:    ch.seq,
		LogTime:     ns,
		PublishTime: ns,
		Data:        data,
	}); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// WriteDecoded writes every signal of a decoded frame.
func (w *Writer) WriteDecoded(msg *can.DecodedMessage) error {
	t := float64(msg.Timestamp.UnixNano()) / 1e9
	for _, sig := range msg.Spec().Signals {
		v, ok := msg.Signals[sig.Name]
		if !ok {
			continue
		}
		if err := w.WriteSample(sig, Sample{
			Time:        t,
			Value:       v.Physical,
			Raw:         v.Raw,
			Description: v.Description,
			Bus:         msg.Bus,
		}); err != nil {
			return err
		}
	}
	return nil
}

// WriteSeries writes a whole series of sig. Raw values are recovered from the
// scale and offset of the signal.
func (w *Writer) WriteSeries(sig *dbc.SignalSpec, s series.Series) error {
	for _, sample := range s.Samples() {
		raw := sample.Value
		if sig.Scale != 0 && !sig.IsFloat {
			raw = (sample.Value - sig.Offset) / sig.Scale
		}
		if err := w.WriteSample(sig, Sample{
			Time:        sample.Time,
			Value:       sample.Value,
			Raw:         raw,
			Description: sig.ValueDescriptions[int64(math.Round(raw))],
		}); err != nil {
			return err
		}
	}
	return nil
}

// WriteOpaque writes the payload-as-integer series of an id the catalog does not
// describe, on topic /can/0x<ID>/payload.
func (w *Writer) WriteOpaque(id uint32, s series.Series) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hexID := fmt.Sprintf("0x%X", id)
	ch, err := w.channel(hexID+":payload", OpaqueTopic(id), map[string]string{
		"can_id": hexID,
		"opaque": "true",
	})
	if err != nil {
		return err
	}
	for _, sample := range s.Samples() {
		if err := w.write(ch, id, Sample{Time: sample.Time, Value: sample.Value, Raw: sample.Value}); err != nil {
			return err
		}
	}
	return nil
}

// Close finalizes the MCAP file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Wrap(w.writer.Close(), "close MCAP writer")
}

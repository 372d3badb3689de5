// Package session folds a stream of raw frames into per-signal series and answers
// lookups against them.
package session

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/dbc"
	"github.com/BIwashi/canseries/pkg/series"
)

// ErrUnknownTopic is returned for a topic name missing from Options.Topics.
var ErrUnknownTopic = errors.New("unknown topic")

// DefaultQueueSize is the capacity of the frame queue when Options.QueueSize is zero.
const DefaultQueueSize = 1024

// Options configures a Session.
type Options struct {
	// QueueSize bounds the channel returned by Queue.
	QueueSize int
	// KeepOpaque records frames with unknown ids as opaque series named 0x<ID>.
	KeepOpaque bool
	// Filter drops frames before decoding. Nil keeps everything.
	Filter can.Filter
	// Topics maps vehicle-independent names such as "speed" to <message>.<signal>
	// paths of the catalog in use.
	Topics map[string]string
	Logger *slog.Logger
}

// Stats is a snapshot of the ingestion counters.
type Stats struct {
	Seen     uint64
	Filtered uint64
	Decoded  uint64
	Unknown  uint64
	Dropped  uint64
}

// OpaqueEntry is the payload series of an id missing from the catalog.
type OpaqueEntry struct {
	ID     uint32
	Series series.Series
}

// Entry is one decoded series together with its definition.
type Entry struct {
	Message *dbc.MessageSpec
	Signal  *dbc.SignalSpec
	Series  series.Series
}

type signalKey struct {
	id   uint32
	name string
}

// Session decodes frames against one catalog. Queries may run concurrently with ingestion.
type Session struct {
	id      uuid.UUID
	catalog *dbc.Catalog
	decoder *can.Decoder
	opts    Options
	logger  *slog.Logger

	mu      sync.RWMutex
	signals map[signalKey][]series.Sample
	opaque  map[uint32][]series.Sample
	counts  map[uint32]int

	seen     atomic.Uint64
	filtered atomic.Uint64
	decoded  atomic.Uint64
	unknown  atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a session over catalog.
func New(catalog *dbc.Catalog, opts Options) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Session{
		id:      id,
		catalog: catalog,
		decoder: can.NewDecoder(catalog),
		opts:    opts,
		logger:  logger.With("session_id", id.String()),
		signals: make(map[signalKey][]series.Sample),
		opaque:  make(map[uint32][]series.Sample),
		counts:  make(map[uint32]int),
	}
}

// ID returns the unique id of the session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Catalog returns the catalog frames are decoded with.
func (s *Session) Catalog() *dbc.Catalog {
	return s.catalog
}

// Queue returns a channel bounded by Options.QueueSize for a capture goroutine to
// feed Ingest. When decoding falls behind, sends block on the capture side.
func (s *Session) Queue() chan can.RawFrame {
	return make(chan can.RawFrame, s.opts.QueueSize)
}

// Ingest decodes frames until the channel is closed or ctx is done.
// Decoding runs on the calling goroutine.
func (s *Session) Ingest(ctx context.Context, frames <-chan can.RawFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			s.Handle(f)
		}
	}
}

// IngestAll decodes a batch of frames, checking ctx between frames.
func (s *Session) IngestAll(ctx context.Context, frames []can.RawFrame) error {
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Handle(f)
	}
	return nil
}

// Handle decodes one frame and folds its samples into the session.
// Per-frame failures are counted and logged, never returned.
func (s *Session) Handle(f can.RawFrame) {
	s.seen.Add(1)
	if s.opts.Filter != nil && !s.opts.Filter(f) {
		s.filtered.Add(1)
		return
	}

	msg, err := s.decoder.Decode(f)
	switch {
	case errors.Is(err, dbc.ErrUnknownMessage):
		s.unknown.Add(1)
		s.mu.Lock()
		s.counts[f.ID]++
		if s.opts.KeepOpaque {
			s.opaque[f.ID] = append(s.opaque[f.ID], series.Sample{Time: f.Seconds(), Value: can.OpaqueValue(f)})
		}
		s.mu.Unlock()
		return
	case err != nil:
		s.dropped.Add(1)
		s.mu.Lock()
		s.counts[f.ID]++
		s.mu.Unlock()
		s.logger.Warn("dropping frame",
			"can_id", f.ID,
			"bus", f.Bus,
			"error", err,
		)
		return
	}

	for _, v := range s.decoder.OutOfRange(msg) {
		s.logger.Debug("signal out of range",
			"can_id", f.ID,
			"signal", v.Spec.Name,
			"value", v.Physical,
			"min", v.Spec.Min,
			"max", v.Spec.Max,
		)
	}

	t := f.Seconds()
	s.mu.Lock()
	s.counts[f.ID]++
	for _, sample := range msg.Samples() {
		k := signalKey{id: msg.ID, name: sample.Signal}
		s.signals[k] = append(s.signals[k], series.Sample{Time: t, Value: sample.Value})
	}
	s.mu.Unlock()
	s.decoded.Add(1)
}

// Series returns the normalized series of a signal. A signal that has not been
// seen yields an empty series.
func (s *Session) Series(msg dbc.MessageRef, sig dbc.SignalRef) (series.Series, error) {
	spec, err := s.catalog.Resolve(msg, sig)
	if err != nil {
		return series.Series{}, err
	}
	return s.seriesOf(spec), nil
}

func (s *Session) seriesOf(spec *dbc.SignalSpec) series.Series {
	s.mu.RLock()
	samples := s.signals[signalKey{id: spec.Message.ID, name: spec.Name}]
	out := series.New(spec.Name, samples)
	s.mu.RUnlock()
	return series.Normalize(out)
}

// ResolveTopic returns the signal a topic name is mapped to.
func (s *Session) ResolveTopic(name string) (*dbc.SignalSpec, error) {
	path, ok := s.opts.Topics[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTopic, "%q", name)
	}
	msg, sig, err := dbc.ParsePath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s", name)
	}
	spec, err := s.catalog.Resolve(msg, sig)
	if err != nil {
		return nil, errors.Wrapf(err, "topic %s", name)
	}
	return spec, nil
}

// Topic returns the series of the signal mapped to name, renamed after the topic.
func (s *Session) Topic(name string) (series.Series, error) {
	spec, err := s.ResolveTopic(name)
	if err != nil {
		return series.Series{}, err
	}
	return s.seriesOf(spec).WithName(name), nil
}

// Topics returns the configured topic names, sorted.
func (s *Session) Topics() []string {
	names := make([]string, 0, len(s.opts.Topics))
	for name := range s.opts.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves ref as a topic name first and as a <message>.<signal> path otherwise.
func (s *Session) Lookup(ref string) (*dbc.SignalSpec, series.Series, error) {
	if _, ok := s.opts.Topics[ref]; ok {
		spec, err := s.ResolveTopic(ref)
		if err != nil {
			return nil, series.Series{}, err
		}
		return spec, s.seriesOf(spec).WithName(ref), nil
	}
	if !strings.Contains(ref, ".") {
		return nil, series.Series{}, errors.Wrapf(ErrUnknownTopic, "%q", ref)
	}
	msg, sig, err := dbc.ParsePath(ref)
	if err != nil {
		return nil, series.Series{}, err
	}
	spec, err := s.catalog.Resolve(msg, sig)
	if err != nil {
		return nil, series.Series{}, err
	}
	return spec, s.seriesOf(spec), nil
}

// OpaqueSeries returns the payload-as-integer series recorded for an unknown id.
func (s *Session) OpaqueSeries(id uint32) (series.Series, error) {
	s.mu.RLock()
	samples, ok := s.opaque[id]
	out := series.New(can.OpaqueName(id), samples)
	s.mu.RUnlock()
	if !ok {
		return series.Series{}, errors.Wrapf(dbc.ErrUnknownMessage, "no opaque frames for 0x%X", id)
	}
	return series.Normalize(out), nil
}

// Opaque returns the recorded payload series of unknown ids, ordered by id.
// It is empty unless Options.KeepOpaque is set.
func (s *Session) Opaque() []OpaqueEntry {
	s.mu.RLock()
	out := make([]OpaqueEntry, 0, len(s.opaque))
	for id, samples := range s.opaque {
		out = append(out, OpaqueEntry{ID: id, Series: series.Normalize(series.New(can.OpaqueName(id), samples))})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every decoded series ordered by message id and signal declaration order.
func (s *Session) All() []Entry {
	var out []Entry
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.catalog.Messages() {
		for _, sig := range msg.Signals {
			samples, ok := s.signals[signalKey{id: msg.ID, name: sig.Name}]
			if !ok {
				continue
			}
			out = append(out, Entry{
				Message: msg,
				Signal:  sig,
				Series:  series.Normalize(series.New(sig.Name, samples)),
			})
		}
	}
	return out
}

// Stats returns a snapshot of the ingestion counters.
func (s *Session) Stats() Stats {
	return Stats{
		Seen:     s.seen.Load(),
		Filtered: s.filtered.Load(),
		Decoded:  s.decoded.Load(),
		Unknown:  s.unknown.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// MessageIDs returns the ids of all frames that passed the filter, sorted.
func (s *Session) MessageIDs() []uint32 {
	s.mu.RLock()
	ids := make([]uint32, 0, len(s.counts))
	for id := range s.counts {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counts returns the number of frames per id that passed the filter.
func (s *Session) Counts() map[uint32]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint32]int, len(s.counts))
	for id, n := range s.counts {
		out[id] = n
	}
	return out
}

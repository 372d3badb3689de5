// Package pcapng reads and writes SocketCAN captures in pcapng format.
package pcapng

import (
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	ecan "go.einride.tech/can"

	"github.com/BIwashi/canseries/pkg/can"
)

// LinkTypeCAN is the SocketCAN link type. ref: https://www.tcpdump.org/linktypes.html
const LinkTypeCAN layers.LinkType = 227

var errNotCAN = errors.New("not a CAN packet")

// Reader reads CAN frames from a pcapng capture.
type Reader struct {
	reader   *pcapgo.NgReader
	linkType layers.LinkType
	logger   *slog.Logger

	packetCount  uint64
	skippedCount uint64
}

// NewReader creates a reader over r. A nil logger uses slog.Default().
func NewReader(r io.Reader, logger *slog.Logger) (*Reader, error) {
	ngReader, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pcapng reader")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		reader:   ngReader,
		linkType: ngReader.LinkType(),
		logger:   logger,
	}, nil
}

// ReadNext returns the next CAN frame, skipping packets that are not data or
// remote frames. It returns io.EOF at the end of the capture.
// The bus of each frame is the pcapng interface index it was captured on.
func (r *Reader) ReadNext() (can.RawFrame, error) {
	for {
		data, ci, err := r.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return can.RawFrame{}, io.EOF
			}
			return can.RawFrame{}, errors.Wrap(err, "failed to read packet data")
		}
		r.packetCount++

		frame, err := r.extractCANFrame(data, ci)
		if err != nil {
			r.skippedCount++
			r.logger.Debug("skipping packet",
				"packet", r.packetCount,
				"error", err,
			)
			continue
		}
		return frame, nil
	}
}

// ReadAll drains the capture.
func (r *Reader) ReadAll() ([]can.RawFrame, error) {
	var out []can.RawFrame
	for {
		f, err := r.ReadNext()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}

func (r *Reader) extractCANFrame(data []byte, ci gopacket.CaptureInfo) (can.RawFrame, error) {
	var payload []byte
	switch r.linkType {
	case layers.LinkTypeLinuxSLL:
		packet := gopacket.NewPacket(data, r.linkType, gopacket.Default)
		if sllLayer := packet.Layer(layers.LayerTypeLinuxSLL); sllLayer != nil {
			payload = sllLayer.(*layers.LinuxSLL).Payload
		} else {
			payload = data
		}
	case LinkTypeCAN:
		payload = data
	default:
		return can.RawFrame{}, errors.Newf("unsupported link type: %v", r.linkType)
	}

	frame, err := decodeSocketCAN(payload)
	if err != nil {
		return can.RawFrame{}, err
	}
	return can.RawFrame{
		Frame:     frame,
		Timestamp: ci.Timestamp.UTC(),
		Bus:       uint8(ci.InterfaceIndex),
	}, nil
}

// PacketCount returns the number of packets read so far.
func (r *Reader) PacketCount() uint64 {
	return r.packetCount
}

// SkippedCount returns the number of packets that did not carry a usable frame.
func (r *Reader) SkippedCount() uint64 {
	return r.skippedCount
}

const (
	idFlagExtended = 0x80000000
	idFlagRemote   = 0x40000000
	idFlagError    = 0x20000000
	idMaskExtended = 0x1fffffff
	idMaskStandard = 0x7ff

	socketCANHeader = 8
)

// decodeSocketCAN parses a struct can_frame: id word with flags, length, 3 pad bytes, data.
func decodeSocketCAN(data []byte) (ecan.Frame, error) {
	if len(data) < socketCANHeader {
		return ecan.Frame{}, errors.Newf("data too short for CAN frame: %d", len(data))
	}
	var (
		raw        = binary.LittleEndian.Uint32(data[0:4])
		isExtended = raw&idFlagExtended != 0
		isRemote   = raw&idFlagRemote != 0
	)
	if raw&idFlagError != 0 {
		return ecan.Frame{}, errors.Wrap(errNotCAN, "error frame")
	}

	f := ecan.Frame{IsExtended: isExtended, IsRemote: isRemote}
	if isExtended {
		f.ID = raw & idMaskExtended
	} else {
		f.ID = raw & idMaskStandard
	}
	f.Length = data[4]
	if f.Length > 8 {
		return ecan.Frame{}, errors.Newf("frame length %d exceeds 8", f.Length)
	}
	if !isRemote {
		if len(data) < socketCANHeader+int(f.Length) {
			return ecan.Frame{}, errors.Newf("payload truncated: %d of %d bytes", len(data)-socketCANHeader, f.Length)
		}
		copy(f.Data[:], data[socketCANHeader:socketCANHeader+int(f.Length)])
	}
	return f, nil
}

// encodeSocketCAN is the inverse of decodeSocketCAN, always producing 16 bytes.
func encodeSocketCAN(f ecan.Frame) []byte {
	out := make([]byte, socketCANHeader+8)
	id := f.ID
	if f.IsExtended {
		id = id&idMaskExtended | idFlagExtended
	}
	if f.IsRemote {
		id |= idFlagRemote
	}
	binary.LittleEndian.PutUint32(out[0:4], id)
	out[4] = f.Length
	copy(out[socketCANHeader:], f.Data[:])
	return out
}

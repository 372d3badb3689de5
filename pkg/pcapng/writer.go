package pcapng

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/BIwashi/canseries/pkg/can"
)

// Writer writes frames as a SocketCAN pcapng capture with one interface per bus.
type Writer struct {
	writer     *pcapgo.NgWriter
	interfaces int
}

// NewWriter starts a capture on w. Interface 0 is bus 0.
func NewWriter(w io.Writer) (*Writer, error) {
	ngWriter, err := pcapgo.NewNgWriterInterface(w, busInterface(0), pcapgo.DefaultNgWriterOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pcapng writer")
	}
	return &Writer{writer: ngWriter, interfaces: 1}, nil
}

func busInterface(bus int) pcapgo.NgInterface {
	intf := pcapgo.DefaultNgInterface
	intf.Name = fmt.Sprintf("can%d", bus)
	intf.LinkType = LinkTypeCAN
	return intf
}

// WriteFrame appends one frame, adding interfaces up to its bus as needed.
func (w *Writer) WriteFrame(f can.RawFrame) error {
	for w.interfaces <= int(f.Bus) {
		if _, err := w.writer.AddInterface(busInterface(w.interfaces)); err != nil {
			return errors.Wrapf(err, "add interface for bus %d", w.interfaces)
		}
		w.interfaces++
	}
	data := encodeSocketCAN(f.Frame)
	ci := gopacket.CaptureInfo{
		Timestamp:      f.Timestamp,
		CaptureLength:  len(data),
		Length:         len(data),
		InterfaceIndex: int(f.Bus),
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return errors.Wrapf(err, "write frame 0x%X", f.ID)
	}
	return nil
}

// Flush writes buffered blocks to the underlying writer.
func (w *Writer) Flush() error {
	return errors.Wrap(w.writer.Flush(), "flush pcapng")
}

package export

import (
	"io"
	"math"
	"time"

	"github.com/OpenPSG/edf"
	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/series"
)

const (
	digitalMin = -32768
	digitalMax = 32767
	// maxRecordBytes is the data record size limit enforced by the EDF writer.
	maxRecordBytes = 61440
)

// Channel is one EDF signal.
type Channel struct {
	Series series.Series
	// Unit is the physical dimension, e.g. km/h.
	Unit string
}

// EDFOptions describes the recording.
type EDFOptions struct {
	RecordingID string
	// Source identifies the vehicle or capture; it lands in the patient field.
	Source string
}

// WriteEDF writes channels sharing a uniform grid as one-second EDF data records.
// The grid rate must be a whole number of hertz. A trailing partial record is
// padded with the last value of each channel.
func WriteEDF(w io.WriteSeeker, opts EDFOptions, channels ...Channel) error {
	ss := make([]series.Series, len(channels))
	for i, c := range channels {
		ss[i] = c.Series
	}
	if err := checkGrid(ss); err != nil {
		return err
	}
	if err := series.Require(ss[0], 2); err != nil {
		return err
	}
	first, last := ss[0].First().Time, ss[0].Last().Time
	rate := float64(ss[0].Len()-1) / (last - first)
	perRecord := int(math.Round(rate))
	if perRecord < 1 || math.Abs(rate-float64(perRecord)) > 1e-6*rate {
		return errors.Wrapf(ErrNonIntegralRate, "%g Hz", rate)
	}
	if perRecord*len(channels)*2 > maxRecordBytes {
		return errors.Newf("%d channels at %d Hz exceed the EDF record size", len(channels), perRecord)
	}

	hdr := edf.Header{
		Version:            edf.Version0,
		PatientID:          opts.Source,
		RecordingID:        opts.RecordingID,
		StartTime:          can.FromSeconds(first),
		DataRecordDuration: time.Second,
		SignalCount:        len(channels),
	}
	for _, c := range channels {
		values := c.Series.Values()
		pmin, pmax := floats.Min(values), floats.Max(values)
		if pmin == pmax {
			pmin, pmax = pmin-1, pmax+1
		}
		hdr.Signals = append(hdr.Signals, edf.SignalHeader{
			Label:             c.Series.Name(),
			TransducerType:    "CAN",
			PhysicalDimension: c.Unit,
			PhysicalMin:       pmin,
			PhysicalMax:       pmax,
			DigitalMin:        digitalMin,
			DigitalMax:        digitalMax,
			SamplesPerRecord:  perRecord,
		})
	}

	ew, err := edf.Create(w, hdr)
	if err != nil {
		return errors.Wrap(err, "create edf")
	}
	n := ss[0].Len()
	for start := 0; start < n; start += perRecord {
		record := make([][]float64, len(ss))
		for i, s := range ss {
			values := make([]float64, perRecord)
			for j := range values {
				k := start + j
				if k >= n {
					k = n - 1
				}
				values[j] = s.At(k).Value
			}
			record[i] = values
		}
		if err := ew.WriteRecord(record); err != nil {
			return errors.Wrapf(err, "write record at sample %d", start)
		}
	}
	return errors.Wrap(ew.Close(), "finalize edf")
}

// Package export writes synchronized series as column CSV or EDF recordings.
package export

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canseries/pkg/series"
)

var (
	// ErrUnaligned is returned when the series do not share one time grid.
	ErrUnaligned = errors.New("series are not on a common time grid")
	// ErrNonIntegralRate is returned when the grid rate is not a whole number of samples per second.
	ErrNonIntegralRate = errors.New("sample rate is not a whole number of hertz")
)

const gridTolerance = 1e-9

// checkGrid verifies that every series has the time stamps of the first.
func checkGrid(ss []series.Series) error {
	if len(ss) == 0 {
		return errors.Wrap(ErrUnaligned, "no series")
	}
	ref := ss[0]
	for _, s := range ss[1:] {
		if s.Len() != ref.Len() {
			return errors.Wrapf(ErrUnaligned, "%s has %d samples, %s has %d", s.Name(), s.Len(), ref.Name(), ref.Len())
		}
		for i := 0; i < s.Len(); i++ {
			if math.Abs(s.At(i).Time-ref.At(i).Time) > gridTolerance {
				return errors.Wrapf(ErrUnaligned, "%s differs from %s at sample %d", s.Name(), ref.Name(), i)
			}
		}
	}
	return nil
}

// WriteCSV writes series on a common grid as columns Time,<name>... .
func WriteCSV(w io.Writer, ss ...series.Series) error {
	if err := checkGrid(ss); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	head := []string{"Time"}
	for _, s := range ss {
		head = append(head, s.Name())
	}
	if err := cw.Write(head); err != nil {
		return errors.Wrap(err, "write header")
	}
	row := make([]string, len(ss)+1)
	for i := 0; i < ss[0].Len(); i++ {
		row[0] = strconv.FormatFloat(ss[0].At(i).Time, 'f', -1, 64)
		for j, s := range ss {
			row[j+1] = strconv.FormatFloat(s.At(i).Value, 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

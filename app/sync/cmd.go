package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/BIwashi/canseries/pkg/align"
	"github.com/BIwashi/canseries/pkg/calculus"
	"github.com/BIwashi/canseries/pkg/canlog"
	"github.com/BIwashi/canseries/pkg/cli"
	"github.com/BIwashi/canseries/pkg/config"
	"github.com/BIwashi/canseries/pkg/dbc"
	"github.com/BIwashi/canseries/pkg/export"
	"github.com/BIwashi/canseries/pkg/resample"
	"github.com/BIwashi/canseries/pkg/series"
	"github.com/BIwashi/canseries/pkg/session"
)

type syncer struct {
	dbcFile    string
	inputFile  string
	outputFile string
	configFile string
	signalA    string
	signalB    string
	extra      []string
	grid       string
	rateHz     float64
	kind       string
	derivative bool
}

func NewCommand() *cobra.Command {
	s := &syncer{
		grid: "fixed",
	}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize two decoded signals and write them as CSV or EDF.",
		Long: `Decode a capture, pick two signals and put them on a common time grid.

Signals are given as <message>.<signal>, where the message is a name or a
0x-prefixed frame id and the signal is a name or #<index>, or as a topic name
from the topics map of --config. The grid is taken from the first signal (a),
the second signal (b) or a fixed rate over the common span. Further signals
given with --signal build a state space: every signal is put on one fixed-rate
grid over the interval all of them cover. The output format follows the
extension of --output: .csv writes Time plus one column per signal, .edf writes
one-second records and needs a whole-number rate.`,
		Example: `  # Speed against yaw rate at 20 Hz
  canseries sync --dbc-file vehicle.dbc --input drive.csv \
    --a Speed.VehicleSpeed --b Imu.YawRate --rate 20 --output synced.csv

  # State space of four topics at 10 Hz
  canseries sync --dbc-file vehicle.dbc --config rav4.json --input drive.csv \
    --a speed --b yaw_rate --signal accelx --signal steer_angle --output state.edf`,
		RunE: cli.WithContext(s.run),
	}

	cmd.Flags().StringVar(&s.dbcFile, "dbc-file", s.dbcFile, "DBC file")
	cmd.Flags().StringVar(&s.inputFile, "input", s.inputFile, "Capture file (.pcapng, .csv, .db, .bin)")
	cmd.Flags().StringVar(&s.outputFile, "output", s.outputFile, "Output file (.csv or .edf)")
	cmd.Flags().StringVar(&s.configFile, "config", s.configFile, "Optional JSON analysis config")
	cmd.Flags().StringVar(&s.signalA, "a", s.signalA, "First signal, <message>.<signal>")
	cmd.Flags().StringVar(&s.signalB, "b", s.signalB, "Second signal, <message>.<signal>")
	cmd.Flags().StringArrayVar(&s.extra, "signal", s.extra, "Further signal for a fixed-rate state space (repeatable)")
	cmd.Flags().StringVar(&s.grid, "grid", s.grid, "Grid policy: a, b or fixed")
	cmd.Flags().Float64Var(&s.rateHz, "rate", s.rateHz, "Rate of the fixed grid in Hz (default from config)")
	cmd.Flags().StringVar(&s.kind, "kind", s.kind, "Interpolation: cubic, linear or nearest (default from config)")
	cmd.Flags().BoolVar(&s.derivative, "derivative", s.derivative, "Also write the time derivative of both signals")

	cmd.MarkFlagRequired("dbc-file")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	cmd.MarkFlagRequired("a")
	cmd.MarkFlagRequired("b")

	return cmd
}

func (s *syncer) policy(cfg *config.Config) (align.GridPolicy, error) {
	kind := cfg.GetInterpolation()
	if s.kind != "" {
		k, err := resample.ParseKind(s.kind)
		if err != nil {
			return align.GridPolicy{}, err
		}
		kind = k
	}
	rate := cfg.GetRateHz()
	if s.rateHz != 0 {
		rate = s.rateHz
	}
	switch strings.ToLower(s.grid) {
	case "a":
		return align.InheritFromA(kind), nil
	case "b":
		return align.InheritFromB(kind), nil
	case "fixed", "":
		return align.FixedRate(rate, kind), nil
	}
	return align.GridPolicy{}, errors.Newf("unknown grid policy %q", s.grid)
}

func (s *syncer) run(ctx context.Context, input cli.Input) error {
	cfg := &config.Config{}
	if s.configFile != "" {
		var err error
		if cfg, err = config.Load(s.configFile); err != nil {
			return err
		}
	}
	policy, err := s.policy(cfg)
	if err != nil {
		return err
	}

	catalog, err := dbc.LoadFile(s.dbcFile)
	if err != nil {
		return errors.Wrap(err, "failed to load DBC file")
	}
	frames, err := canlog.ReadFile(ctx, s.inputFile, input.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to read capture")
	}
	opts := cfg.SessionOptions()
	opts.Logger = input.Logger
	sess := session.New(catalog, opts)
	if err := sess.IngestAll(ctx, frames); err != nil {
		return err
	}

	refs := append([]string{s.signalA, s.signalB}, s.extra...)
	channels := make([]export.Channel, len(refs))
	for i, ref := range refs {
		spec, ser, err := sess.Lookup(ref)
		if err != nil {
			return err
		}
		channels[i] = export.Channel{Series: ser, Unit: spec.Unit}
		input.Logger.Info("Decoded signal", "signal", ref, "samples", ser.Len())
	}

	aligner := align.Options{Logger: input.Logger}
	if len(s.extra) == 0 {
		aOut, bOut, err := aligner.Sync(channels[0].Series, channels[1].Series, policy)
		if err != nil {
			return errors.Wrapf(err, "sync %s with %s", s.signalA, s.signalB)
		}
		channels[0].Series, channels[1].Series = aOut, bOut
	} else {
		if !policy.Fixed() {
			return errors.Newf("--signal needs the fixed grid, got %s", policy)
		}
		ss := make([]series.Series, len(channels))
		for i, c := range channels {
			ss[i] = c.Series
		}
		out, err := aligner.StateSpace(policy.RateHz, policy.Kind, ss...)
		if err != nil {
			return errors.Wrap(err, "state space")
		}
		for i := range channels {
			channels[i].Series = out[i]
		}
	}

	if s.derivative {
		copts := calculus.Options{Logger: input.Logger}
		for _, c := range channels[:len(refs)] {
			d, err := calculus.Differentiate(c.Series, cfg.GetDerivativeStrategy(), copts)
			if err != nil {
				return errors.Wrapf(err, "differentiate %s", c.Series.Name())
			}
			channels = append(channels, export.Channel{Series: d.WithName("d_" + c.Series.Name()), Unit: perSecond(c.Unit)})
		}
	}

	if err := write(s.outputFile, channels); err != nil {
		return err
	}
	input.Logger.Info("Synchronized signals written",
		"policy", policy.String(),
		"signals", len(refs),
		"samples", channels[0].Series.Len(),
		"output_file", s.outputFile,
	)
	return nil
}

func perSecond(unit string) string {
	if unit == "" {
		return "1/s"
	}
	return unit + "/s"
}

func write(path string, channels []export.Channel) (err error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".edf" {
		return errors.Newf("unsupported output format %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close output file")
		}
	}()

	if ext == ".edf" {
		return export.WriteEDF(f, export.EDFOptions{RecordingID: filepath.Base(path)}, channels...)
	}
	ss := make([]series.Series, len(channels))
	for i, c := range channels {
		ss[i] = c.Series
	}
	return export.WriteCSV(f, ss...)
}

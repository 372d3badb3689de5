package stats

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/BIwashi/canseries/pkg/analysis"
	"github.com/BIwashi/canseries/pkg/can"
	"github.com/BIwashi/canseries/pkg/canlog"
	"github.com/BIwashi/canseries/pkg/cli"
	"github.com/BIwashi/canseries/pkg/config"
	"github.com/BIwashi/canseries/pkg/dbc"
	"github.com/BIwashi/canseries/pkg/series"
	"github.com/BIwashi/canseries/pkg/session"
)

type reporter struct {
	dbcFile    string
	inputFile  string
	configFile string
	buses      []uint
	speed      string
	yawRate    string
	rateHz     float64
	gap        float64
}

func NewCommand() *cobra.Command {
	s := &reporter{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report per-message frame counts and transmit rates of a capture.",
		Long: `Report per-message frame counts and transmit rates of a capture.

With --dbc-file the messages are named and decoding statistics are shown.
With --speed the trip distance is integrated from a speed signal in km/h,
and with --yaw-rate as well the end point of the dead-reckoned path is shown.
Signals are <message>.<signal> paths or topic names from the topics map of
--config, so one config per vehicle lets the same command line serve all.`,
		Example: `  canseries stats --input drive.pcapng
  canseries stats --input drive.csv --dbc-file vehicle.dbc --speed Speed.VehicleSpeed --yaw-rate Imu.YawRate
  canseries stats --input drive.csv --dbc-file vehicle.dbc --config rav4.json --speed speed --yaw-rate yaw_rate`,
		RunE: cli.WithContext(s.run),
	}

	cmd.Flags().StringVar(&s.inputFile, "input", s.inputFile, "Capture file (.pcapng, .csv, .db, .bin)")
	cmd.Flags().StringVar(&s.dbcFile, "dbc-file", s.dbcFile, "Optional DBC file")
	cmd.Flags().StringVar(&s.configFile, "config", s.configFile, "Optional JSON analysis config")
	cmd.Flags().UintSliceVar(&s.buses, "bus", s.buses, "Only count frames from these buses")
	cmd.Flags().StringVar(&s.speed, "speed", s.speed, "Speed signal in km/h, topic or <message>.<signal>")
	cmd.Flags().StringVar(&s.yawRate, "yaw-rate", s.yawRate, "Yaw rate signal in deg/s, topic or <message>.<signal>")
	cmd.Flags().Float64Var(&s.rateHz, "rate", s.rateHz, "Grid rate for the trajectory in Hz (default from config)")
	cmd.Flags().Float64Var(&s.gap, "gap", s.gap, "Gap in seconds that splits the speed signal into segments (default chunk_threshold from config)")

	cmd.MarkFlagRequired("input")

	return cmd
}

func (s *reporter) run(ctx context.Context, input cli.Input) error {
	cfg := &config.Config{}
	if s.configFile != "" {
		var err error
		if cfg, err = config.Load(s.configFile); err != nil {
			return err
		}
	}
	gap := cfg.GetChunkThreshold()
	if s.gap != 0 {
		gap = s.gap
	}
	rate := cfg.GetRateHz()
	if s.rateHz != 0 {
		rate = s.rateHz
	}

	frames, err := canlog.ReadFile(ctx, s.inputFile, input.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to read capture")
	}
	if len(s.buses) > 0 {
		buses := make([]uint8, len(s.buses))
		for i, b := range s.buses {
			buses[i] = uint8(b)
		}
		frames = can.Apply(frames, can.ByBus(buses...))
	}

	var catalog *dbc.Catalog
	if s.dbcFile != "" {
		if catalog, err = dbc.LoadFile(s.dbcFile); err != nil {
			return errors.Wrap(err, "failed to load DBC file")
		}
	}

	out := tabwriter.NewWriter(input.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(out, "frames\t%d\n", len(frames))
	byBus := analysis.CountByBus(frames)
	buses := make([]int, 0, len(byBus))
	for b := range byBus {
		buses = append(buses, int(b))
	}
	sort.Ints(buses)
	for _, b := range buses {
		fmt.Fprintf(out, "bus %d\t%d\n", b, byBus[uint8(b)])
	}
	fmt.Fprintln(out)

	counts := analysis.CountByID(frames)
	fmt.Fprintln(out, "ID\tMESSAGE\tFRAMES\tMEAN HZ\tMEDIAN HZ\tSTD\tMIN\tMAX\tIQR")
	for _, r := range analysis.Rates(frames) {
		fmt.Fprintf(out, "0x%X\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			r.ID, messageName(catalog, r.ID), counts[r.ID], r.Mean, r.Median, r.Std, r.Min, r.Max, r.IQR)
	}
	if err := out.Flush(); err != nil {
		return err
	}

	if catalog == nil {
		return nil
	}
	opts := cfg.SessionOptions()
	opts.Logger = input.Logger
	sess := session.New(catalog, opts)
	if err := sess.IngestAll(ctx, frames); err != nil {
		return err
	}
	st := sess.Stats()
	input.Logger.Info("Decoded capture",
		"session_id", sess.ID().String(),
		"decoded_frames", st.Decoded,
		"unknown_frames", st.Unknown,
		"dropped_frames", st.Dropped,
	)

	if s.speed == "" {
		return nil
	}
	_, speed, err := sess.Lookup(s.speed)
	if err != nil {
		return err
	}
	// chunk on the timestamps so capture gaps do not get integrated across
	segments, err := series.Chunk(speed.Map(func(p series.Sample) float64 { return p.Time }), gap)
	if err != nil {
		return err
	}
	total, offset := 0.0, 0
	for _, chunk := range segments {
		seg := speed.Slice(offset, offset+chunk.Len())
		offset += chunk.Len()
		if seg.Len() < 2 {
			continue
		}
		d, err := analysis.Distance(seg, analysis.KphToMps)
		if err != nil {
			return errors.Wrap(err, "distance")
		}
		total += d
	}
	fmt.Fprintf(input.Stdout, "\ndistance_m\t%.1f\nsegments\t%d\n", total, len(segments))

	if s.yawRate == "" {
		return nil
	}
	_, yaw, err := sess.Lookup(s.yawRate)
	if err != nil {
		return err
	}
	poses, err := analysis.Trajectory(yaw, speed, rate, 0, 0)
	if err != nil {
		return errors.Wrap(err, "trajectory")
	}
	end := poses[len(poses)-1]
	fmt.Fprintf(input.Stdout, "end_x_m\t%.1f\nend_y_m\t%.1f\n", end.X, end.Y)
	return nil
}

func messageName(catalog *dbc.Catalog, id uint32) string {
	if catalog == nil {
		return "-"
	}
	msg, err := catalog.Lookup(id)
	if err != nil {
		return can.OpaqueName(id)
	}
	return msg.Name
}

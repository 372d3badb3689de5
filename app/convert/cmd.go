package convert

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/BIwashi/canseries/pkg/canlog"
	"github.com/BIwashi/canseries/pkg/cli"
	"github.com/BIwashi/canseries/pkg/config"
	"github.com/BIwashi/canseries/pkg/dbc"
	"github.com/BIwashi/canseries/pkg/mcap"
	"github.com/BIwashi/canseries/pkg/session"
)

type converter struct {
	dbcFile    string
	inputFile  string
	mcapFile   string
	storeFile  string
	configFile string
}

func NewCommand() *cobra.Command {
	s := &converter{}

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Decode a CAN capture with a DBC file and write the signals to MCAP.",
		Long: `Decode a CAN capture into per-signal series and write them to MCAP.

The capture may be a pcapng SocketCAN capture, a CSV frame log
(Time,Bus,MessageID,Message,MessageLength), a SQLite frame store or a raw
16-byte record buffer (.bin). Each signal becomes one MCAP channel with topic
/can/<Message>/<Signal>. With keep_opaque set in --config, frames the DBC does
not describe are written as /can/0x<ID>/payload. The raw frames can also be
copied into a SQLite store.`,
		Example: `  # Convert a pcapng capture to MCAP
  canseries convert --dbc-file vehicle.dbc --input capture.pcapng --mcap-file output.mcap

  # Convert a CSV log and keep the raw frames in SQLite
  canseries convert --dbc-file vehicle.dbc --input drive.csv --mcap-file drive.mcap --store drive.db`,
		RunE: cli.WithContext(s.run),
	}

	cmd.Flags().StringVar(&s.dbcFile, "dbc-file", s.dbcFile, "DBC file")
	cmd.Flags().StringVar(&s.inputFile, "input", s.inputFile, "Capture file (.pcapng, .csv, .db, .bin)")
	cmd.Flags().StringVar(&s.mcapFile, "mcap-file", s.mcapFile, "MCAP file")
	cmd.Flags().StringVar(&s.storeFile, "store", s.storeFile, "Optional SQLite file receiving the raw frames")
	cmd.Flags().StringVar(&s.configFile, "config", s.configFile, "Optional JSON analysis config")

	cmd.MarkFlagRequired("dbc-file")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("mcap-file")

	return cmd
}

func (s *converter) run(ctx context.Context, input cli.Input) error {
	input.Logger.Info("Starting capture to MCAP conversion",
		"dbc_file", s.dbcFile,
		"input", s.inputFile,
		"mcap_file", s.mcapFile,
	)

	cfg := &config.Config{}
	if s.configFile != "" {
		var err error
		if cfg, err = config.Load(s.configFile); err != nil {
			return err
		}
	}

	catalog, err := dbc.LoadFile(s.dbcFile)
	if err != nil {
		return errors.Wrap(err, "failed to load DBC file")
	}
	input.Logger.Info("Loaded DBC file", "messages", catalog.Len(), "version", catalog.Version)

	frames, err := canlog.ReadFile(ctx, s.inputFile, input.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to read capture")
	}
	input.Logger.Info("Read capture", "frames", len(frames))

	if s.storeFile != "" {
		store, err := canlog.Open(s.storeFile)
		if err != nil {
			return errors.Wrap(err, "failed to open frame store")
		}
		defer store.Close()
		if err := store.Insert(ctx, frames); err != nil {
			return errors.Wrap(err, "failed to store frames")
		}
	}

	opts := cfg.SessionOptions()
	opts.Logger = input.Logger
	sess := session.New(catalog, opts)

	startTime := time.Now()
	queue := sess.Queue()
	go func() {
		defer close(queue)
		for _, f := range frames {
			select {
			case queue <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := sess.Ingest(ctx, queue); err != nil {
		return errors.Wrap(err, "conversion cancelled")
	}

	out, err := os.Create(s.mcapFile)
	if err != nil {
		return errors.Wrap(err, "failed to create MCAP file")
	}
	defer out.Close()

	writer, err := mcap.NewWriter(out, mcap.Options{SessionID: sess.ID(), Catalog: catalog.Source})
	if err != nil {
		return errors.Wrap(err, "failed to create MCAP writer")
	}
	written := 0
	for _, entry := range sess.All() {
		if err := writer.WriteSeries(entry.Signal, entry.Series); err != nil {
			return errors.Wrapf(err, "failed to write %s", mcap.Topic(entry.Message.Name, entry.Signal.Name))
		}
		written += entry.Series.Len()
	}
	opaque := sess.Opaque()
	for _, entry := range opaque {
		if err := writer.WriteOpaque(entry.ID, entry.Series); err != nil {
			return errors.Wrapf(err, "failed to write %s", mcap.OpaqueTopic(entry.ID))
		}
		written += entry.Series.Len()
	}
	if err := writer.Close(); err != nil {
		return err
	}

	stats := sess.Stats()
	duration := time.Since(startTime)
	input.Logger.Info("Conversion completed",
		"session_id", sess.ID().String(),
		"total_frames", stats.Seen,
		"filtered_frames", stats.Filtered,
		"decoded_frames", stats.Decoded,
		"unknown_frames", stats.Unknown,
		"dropped_frames", stats.Dropped,
		"samples_written", written,
		"opaque_ids", len(opaque),
		"output_file", s.mcapFile,
		"duration", duration,
	)
	counts := sess.Counts()
	for _, id := range sess.MessageIDs() {
		if msg, err := catalog.Lookup(id); err == nil {
			input.Logger.Debug("message count", "can_id", id, "message", msg.Name, "frames", counts[id])
		} else {
			input.Logger.Debug("message count", "can_id", id, "frames", counts[id])
		}
	}
	return nil
}

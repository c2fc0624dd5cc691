package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/dbehnke/scoaudio/internal/config"
	"github.com/dbehnke/scoaudio/internal/protocol"
)

const version = "0.1.0"

func main() {
	configFile := pflag.StringP("config", "c", "", "Configuration file (YAML)")
	slots := pflag.Uint32P("slots", "n", 0, "Number of SCO intervals to simulate")
	ber := pflag.Float64("ber", -1, "Bit error rate applied to bad CRC captures")
	format := pflag.StringP("format", "f", "", "Audio format: narrowband or wideband")
	bypass := pflag.Bool("bypass", false, "Bypass the majority vote")
	bitsMax := pflag.Int("bits-max", -1, "Questionable bits max for bad CRC override")
	record := pflag.StringP("record", "r", "", "Record radio captures to a trace file")
	replay := pflag.String("replay", "", "Replay radio captures from a trace file")
	dbPath := pflag.String("db", "", "Store endpoint statistics in this SQLite file")
	history := pflag.Int("history", 0, "Show the last N stored sessions and exit")
	realtime := pflag.Bool("realtime", false, "Pace the simulation by the wall clock")
	logLevel := pflag.StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	showVersion := pflag.BoolP("version", "v", false, "Show version information")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Simulates an SCO audio link through a source and a sink endpoint.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *showVersion {
		fmt.Printf("scosim version %s\n", version)
		os.Exit(0)
	}

	cfg := config.NewConfig(*configFile)
	if *configFile != "" {
		if err := cfg.Load(); err != nil {
			log.Fatal("failed to load config", "err", err)
		}
	}

	// Command line overrides
	if pflag.CommandLine.Changed("slots") {
		cfg.SetSlots(*slots)
	}
	if *ber >= 0 {
		cfg.SetBitErrorRate(*ber)
	}
	if *format != "" {
		f, err := protocol.ParseAudioFormat(*format)
		if err != nil {
			log.Fatal("invalid format", "err", err)
		}
		cfg.SetFormat(f)
	}
	if *bypass {
		cfg.SetBypass(true)
	}
	if *bitsMax >= 0 {
		cfg.SetQuestionableBitsMax(uint32(*bitsMax))
	}
	if *record != "" {
		cfg.SetTracePath(*record)
	}
	if *dbPath != "" {
		cfg.SetDatabasePath(*dbPath)
	}
	if *logLevel != "" {
		cfg.SetLogLevel(*logLevel)
	}

	logger := newLogger(cfg.GetLogLevel())

	if *history > 0 {
		if err := printHistory(cfg, logger, *history); err != nil {
			logger.Fatal("failed to read history", "err", err)
		}
		return
	}

	sim, err := NewSimulator(cfg, logger, *replay)
	if err != nil {
		logger.Fatal("failed to create simulator", "err", err)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	summary, runErr := sim.Run(ctx, *realtime)
	if err := sim.Close(); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Fatal("simulation failed", "err", runErr)
	}

	printSummary(summary)
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "scosim",
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.Warn("unknown log level, using info", "level", level)
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func printSummary(s Summary) {
	fmt.Printf("run %s: %s slots in %s\n", s.RunID, humanize.Comma(int64(s.Slots)), s.Elapsed.Round(time.Millisecond))
	fmt.Printf("  source: %s frames, %s valid, %s corrected, %s bad, %s missing, %s voted, avg quality %.1f\n",
		humanize.Comma(int64(s.Source.Frames)),
		humanize.Comma(int64(s.Source.Valid)),
		humanize.Comma(int64(s.Source.Corrected)),
		humanize.Comma(int64(s.Source.BadCrc)),
		humanize.Comma(int64(s.Source.Missing)),
		humanize.Comma(int64(s.Source.Voted)),
		s.Source.AverageQuality())
	fmt.Printf("  decoder: %s clean, %s undetected errors, %s residual bit errors\n",
		humanize.Comma(int64(s.Decoder.Clean)),
		humanize.Comma(int64(s.Decoder.Undetected)),
		humanize.Comma(int64(s.Decoder.BitErrors)))
	fmt.Printf("  sink: %s packets, %s sent, %s backpressure\n",
		humanize.Comma(int64(s.Sink.TxPackets)),
		humanize.Bytes(s.TxBytes),
		humanize.Comma(int64(s.Sink.Backpressure)))
	if s.Recorded > 0 {
		fmt.Printf("  trace: %s slots recorded\n", humanize.Comma(int64(s.Recorded)))
	}
}

func printHistory(cfg *config.Config, logger *log.Logger, limit int) error {
	sessions, totals, err := History(cfg, logger, limit)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s  %s\n", s.CreatedAt.Format(time.DateTime), humanize.Time(s.CreatedAt), s)
	}
	fmt.Printf("%s sessions, %s frames, %s corrected, %s packets sent\n",
		humanize.Comma(totals.Sessions),
		humanize.Comma(int64(totals.Frames)),
		humanize.Comma(int64(totals.Corrected)),
		humanize.Comma(int64(totals.TxPackets)))
	return nil
}

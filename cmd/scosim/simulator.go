package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dbehnke/scoaudio/internal/codec"
	"github.com/dbehnke/scoaudio/internal/config"
	"github.com/dbehnke/scoaudio/internal/database"
	"github.com/dbehnke/scoaudio/internal/endpoint"
	"github.com/dbehnke/scoaudio/internal/protocol"
	"github.com/dbehnke/scoaudio/internal/radio"
	"github.com/dbehnke/scoaudio/internal/scheduler"
	"github.com/dbehnke/scoaudio/internal/trace"
)

const simConnKey endpoint.ConnectionKey = 1

// Summary is what a finished run reports
type Summary struct {
	RunID    uuid.UUID
	Slots    uint32
	Elapsed  time.Duration
	Source   endpoint.Stats
	Sink     endpoint.Stats
	Decoder  radio.Report
	TxBytes  uint64
	Recorded uint32
}

// Simulator wires a source and a sink endpoint of one connection to a
// simulated radio on a single cooperative loop
type Simulator struct {
	cfg    *config.Config
	logger *log.Logger
	runID  uuid.UUID

	loop     *scheduler.Loop
	registry *endpoint.Registry
	source   *endpoint.Endpoint
	sink     *endpoint.Endpoint
	srcH     endpoint.Handle
	sinkH    endpoint.Handle

	link     *radio.Link
	consumer *radio.Consumer
	producer *radio.Producer

	db       *database.DB
	repo     *database.LinkStatsRepository
	recorder *trace.Recorder
	replay   *trace.Reader

	interval int // Loop ticks per SCO interval
	slots    uint32
}

// NewSimulator builds every component from cfg. replayPath, when set, feeds
// the source endpoint from a recorded trace instead of the simulated radio.
func NewSimulator(cfg *config.Config, logger *log.Logger, replayPath string) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Simulator{
		cfg:    cfg,
		logger: logger,
		runID:  uuid.New(),
		loop:   scheduler.NewLoop(),
	}
	s.registry = endpoint.NewRegistry(s.loop, logger)

	link := endpoint.LinkParams{
		Tesco:         cfg.GetTesco(),
		RxBuffers:     cfg.GetRxBuffers(),
		PacketSize:    cfg.GetPacketSize(),
		TimestampInit: cfg.GetTimestampInit(),
		StallTimeout:  int(cfg.GetStallMs() / cfg.GetTickMs()),
		RetryTimeout:  int(cfg.GetRetryMs() / cfg.GetTickMs()),
	}

	if replayPath != "" {
		rd, err := trace.Open(replayPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		s.replay = rd
		h := rd.Header()
		format, err := h.AudioFormat()
		if err != nil {
			rd.Close()
			return nil, err
		}
		link.Tesco = h.Tesco
		link.RxBuffers = h.RxBuffers
		link.PacketSize = h.PacketSize
		cfg.SetFormat(format)
		logger.Info("replaying trace", "path", replayPath, "session", h.Session, "format", format)
	}

	s.interval = slotInterval(link.Tesco)

	if err := s.createEndpoints(link); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.GetDatabaseEnabled() {
		db, err := database.NewDB(database.Config{Path: cfg.GetDatabasePath()}, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open stats database: %w", err)
		}
		s.db = db
		s.repo = database.NewLinkStatsRepository(db.GetDB(), s.runID)
		s.registry.SetStatsSink(s.repo)
	}

	if path := cfg.GetTracePath(); path != "" && s.replay == nil {
		rec, err := trace.Create(path, trace.Header{
			Session:    s.runID.String(),
			Format:     cfg.GetFormat().String(),
			Tesco:      link.Tesco,
			RxBuffers:  s.source.Link().RxBuffers,
			PacketSize: s.source.PacketSize(),
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create trace: %w", err)
		}
		s.recorder = rec
	}

	return s, nil
}

func (s *Simulator) createEndpoints(link endpoint.LinkParams) error {
	var err error
	if s.srcH, err = s.registry.Create(simConnKey, protocol.DIRECTION_SOURCE, link); err != nil {
		return err
	}
	if s.sinkH, err = s.registry.Create(simConnKey, protocol.DIRECTION_SINK, link); err != nil {
		return err
	}
	if s.source, err = s.registry.Get(s.srcH); err != nil {
		return err
	}
	if s.sink, err = s.registry.Get(s.sinkH); err != nil {
		return err
	}

	for _, ep := range []*endpoint.Endpoint{s.source, s.sink} {
		if err := ep.SetDataFormat(s.cfg.GetFormat()); err != nil {
			return err
		}
	}
	if err := s.source.SetConfigValue(endpoint.ConfigMajorityVoteBypass, boolValue(s.cfg.GetBypass())); err != nil {
		return err
	}
	if err := s.source.SetConfigValue(endpoint.ConfigMajorityVoteQuestionableBitsMax, s.cfg.GetQuestionableBitsMax()); err != nil {
		return err
	}

	s.link = radio.NewLink(radio.Params{
		RxBuffers:    s.source.Link().RxBuffers,
		PacketSize:   s.source.PacketSize(),
		BitErrorRate: s.cfg.GetBitErrorRate(),
		BadCrcRate:   s.cfg.GetBadCrcRate(),
		NoneRate:     s.cfg.GetNoneRate(),
		Seed:         s.cfg.GetSeed(),
	})

	decoderBuf := codec.NewRingBuffer(s.source.BufferRequirements().Size, "decoder")
	s.consumer = radio.NewConsumer(s.link, decoderBuf, s.cfg.GetFormat())
	if err := s.source.Connect(decoderBuf, s.consumer); err != nil {
		return err
	}

	encoderBuf := codec.NewRingBuffer(s.sink.BufferRequirements().Size, "encoder")
	s.producer = radio.NewProducer(encoderBuf)
	if err := s.sink.Connect(encoderBuf, s.producer); err != nil {
		return err
	}

	if err := s.source.Start(); err != nil {
		return err
	}
	return s.sink.Start()
}

// slotInterval is the loop ticks between SCO instants: one every tesco
// slots of 625us, at least one tick apart
func slotInterval(tesco uint16) int {
	return max(int(tesco)*protocol.SCO_SLOT_TIME_US/1000, 1)
}

func boolValue(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// RunID identifies this run in the stats database and trace header
func (s *Simulator) RunID() uuid.UUID { return s.runID }

// Interval returns the loop ticks between SCO instants
func (s *Simulator) Interval() int { return s.interval }

// step runs one SCO instant. It returns io.EOF once a replayed trace is
// exhausted.
func (s *Simulator) step() error {
	if s.replay != nil {
		rec, err := s.replay.Next()
		if err != nil {
			return err
		}
		if !s.link.Deliver(s.source, rec.VoteCaptures()) {
			s.logger.Warn("rx rings full, slot dropped", "slot", rec.Slot)
		}
	} else {
		captures, ok := s.link.Receive(s.source)
		if !ok {
			s.logger.Warn("rx rings full, slot dropped", "slot", s.slots)
		} else if s.recorder != nil {
			if err := s.recorder.Record(s.slots, captures); err != nil {
				return err
			}
		}
	}
	s.loop.Kick(s.source)

	s.producer.Produce(s.sink.PacketSize())
	s.loop.Kick(s.sink)

	s.slots++
	return nil
}

func (s *Simulator) afterTick() {
	s.link.DrainTx(s.sink)
}

// Run drives the configured number of slots as fast as possible, or paced
// by the wall clock when realtime is set
func (s *Simulator) Run(ctx context.Context, realtime bool) (Summary, error) {
	start := time.Now()
	s.logger.Info("simulation starting", "run", s.runID, "slots", s.cfg.GetSlots(),
		"format", s.cfg.GetFormat(), "packet", s.source.PacketSize(), "captures", s.source.RxBufferCount())

	err := s.run(ctx, realtime)
	if errors.Is(err, io.EOF) || errors.Is(err, errDone) {
		err = nil
	}

	summary := Summary{
		RunID:   s.runID,
		Slots:   s.slots,
		Elapsed: time.Since(start),
		Source:  s.source.Stats(),
		Sink:    s.sink.Stats(),
		Decoder: s.consumer.Report(),
		TxBytes: uint64(len(s.link.TxLog())) * uint64(s.sink.PacketSize()),
	}
	if s.recorder != nil {
		summary.Recorded = s.recorder.Slots()
	}
	return summary, err
}

var errDone = errors.New("slot count reached")

func (s *Simulator) run(ctx context.Context, realtime bool) error {
	total := s.cfg.GetSlots()

	if realtime {
		period := time.Duration(s.interval) * time.Duration(s.cfg.GetTickMs()) * time.Millisecond
		drained := false
		return s.loop.Run(ctx, period, func() error {
			if drained {
				s.afterTick()
			}
			drained = true
			if s.slots >= total {
				return errDone
			}
			return s.step()
		})
	}

	for s.slots < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.step(); err != nil {
			return err
		}
		if err := s.loop.Tick(s.interval); err != nil {
			return err
		}
		s.afterTick()
	}
	return nil
}

// Close destroys the endpoints, which writes their stats, and releases
// the database and trace files
func (s *Simulator) Close() error {
	var errs []error
	for _, h := range []endpoint.Handle{s.srcH, s.sinkH} {
		if h.IsZero() {
			continue
		}
		if err := s.registry.Destroy(h); err != nil && !errors.Is(err, endpoint.ErrStaleHandle) {
			errs = append(errs, err)
		}
	}
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close())
		s.recorder = nil
	}
	if s.replay != nil {
		errs = append(errs, s.replay.Close())
		s.replay = nil
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	return errors.Join(errs...)
}

// History returns the latest stored sessions and the all-time totals
func History(cfg *config.Config, logger *log.Logger, limit int) ([]database.LinkSession, database.LinkTotals, error) {
	db, err := database.NewDB(database.Config{Path: cfg.GetDatabasePath()}, logger)
	if err != nil {
		return nil, database.LinkTotals{}, err
	}
	defer db.Close()

	repo := database.NewLinkStatsRepository(db.GetDB(), uuid.Nil)
	sessions, err := repo.Recent(limit)
	if err != nil {
		return nil, database.LinkTotals{}, err
	}
	totals, err := repo.Totals()
	return sessions, totals, err
}

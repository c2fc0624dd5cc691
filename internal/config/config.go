package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dbehnke/scoaudio/internal/protocol"
)

// Config represents the SCO simulator configuration
type Config struct {
	filename string

	// Link section
	tesco         uint16
	format        protocol.AudioFormat
	rxBuffers     int
	timestampInit uint16
	packetSize    int

	// Majority vote section
	bypass              bool
	questionableBitsMax uint32

	// Timers section
	tickMs  uint32
	stallMs uint32
	retryMs uint32

	// Simulation section
	slots        uint32
	bitErrorRate float64
	badCrcRate   float64
	noneRate     float64
	seed         int64

	// Database section
	databaseEnabled bool
	databasePath    string

	// Trace section
	tracePath string

	// Log section
	logLevel string
}

// file mirrors the YAML layout. Pointers tell an absent key from a zero.
type file struct {
	Link struct {
		Tesco         *uint16 `yaml:"tesco"`
		Format        *string `yaml:"format"`
		RxBuffers     *int    `yaml:"rx_buffers"`
		TimestampInit *uint16 `yaml:"timestamp_init"`
		PacketSize    *int    `yaml:"packet_size"`
	} `yaml:"link"`

	MajorityVote struct {
		Bypass              *bool   `yaml:"bypass"`
		QuestionableBitsMax *uint32 `yaml:"questionable_bits_max"`
	} `yaml:"majority_vote"`

	Timers struct {
		TickMs  *uint32 `yaml:"tick_ms"`
		StallMs *uint32 `yaml:"stall_ms"`
		RetryMs *uint32 `yaml:"retry_ms"`
	} `yaml:"timers"`

	Simulation struct {
		Slots        *uint32  `yaml:"slots"`
		BitErrorRate *float64 `yaml:"bit_error_rate"`
		BadCrcRate   *float64 `yaml:"bad_crc_rate"`
		NoneRate     *float64 `yaml:"none_rate"`
		Seed         *int64   `yaml:"seed"`
	} `yaml:"simulation"`

	Database struct {
		Enabled *bool   `yaml:"enabled"`
		Path    *string `yaml:"path"`
	} `yaml:"database"`

	Trace struct {
		Path *string `yaml:"path"`
	} `yaml:"trace"`

	Log struct {
		Level *string `yaml:"level"`
	} `yaml:"log"`
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,
		// Set reasonable defaults: a 7.5 ms narrowband eSCO link
		tesco:     12,
		format:    protocol.AUDIO_FORMAT_NARROWBAND,
		rxBuffers: protocol.SCO_MAX_RX_BUFFERS,

		tickMs:  1,
		stallMs: protocol.SCO_DEFAULT_STALL_TIMEOUT,
		retryMs: protocol.SCO_DEFAULT_RETRY_TIMEOUT,

		slots:        1000,
		bitErrorRate: 0.001,
		badCrcRate:   0.1,
		noneRate:     0.02,
		seed:         1,

		// Database defaults
		databaseEnabled: false,
		databasePath:    "data/sco_stats.db",

		logLevel: "info",
	}
}

// Load loads configuration from the specified file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", c.filename, err)
	}
	return c.parse(data)
}

// LoadFromString loads configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	return c.parse([]byte(data))
}

func (c *Config) parse(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if v := f.Link.Tesco; v != nil {
		c.tesco = *v
	}
	if v := f.Link.Format; v != nil {
		format, err := protocol.ParseAudioFormat(*v)
		if err != nil {
			return err
		}
		c.format = format
	}
	if v := f.Link.RxBuffers; v != nil {
		c.rxBuffers = *v
	}
	if v := f.Link.TimestampInit; v != nil {
		c.timestampInit = *v
	}
	if v := f.Link.PacketSize; v != nil {
		c.packetSize = *v
	}

	if v := f.MajorityVote.Bypass; v != nil {
		c.bypass = *v
	}
	if v := f.MajorityVote.QuestionableBitsMax; v != nil {
		c.questionableBitsMax = *v
	}

	if v := f.Timers.TickMs; v != nil {
		c.tickMs = *v
	}
	if v := f.Timers.StallMs; v != nil {
		c.stallMs = *v
	}
	if v := f.Timers.RetryMs; v != nil {
		c.retryMs = *v
	}

	if v := f.Simulation.Slots; v != nil {
		c.slots = *v
	}
	if v := f.Simulation.BitErrorRate; v != nil {
		c.bitErrorRate = *v
	}
	if v := f.Simulation.BadCrcRate; v != nil {
		c.badCrcRate = *v
	}
	if v := f.Simulation.NoneRate; v != nil {
		c.noneRate = *v
	}
	if v := f.Simulation.Seed; v != nil {
		c.seed = *v
	}

	if v := f.Database.Enabled; v != nil {
		c.databaseEnabled = *v
	}
	if v := f.Database.Path; v != nil {
		c.databasePath = *v
	}

	if v := f.Trace.Path; v != nil {
		c.tracePath = *v
	}
	if v := f.Log.Level; v != nil {
		c.logLevel = strings.ToLower(*v)
	}

	return nil
}

// Validate checks values that would make the link unusable
func (c *Config) Validate() error {
	var errs []error

	packet := c.GetPacketSize()
	if packet <= 0 || packet%2 != 0 {
		errs = append(errs, fmt.Errorf("link: packet size %d must be even and non-zero", packet))
	}
	if c.rxBuffers < protocol.SCO_MIN_RX_BUFFERS || c.rxBuffers > protocol.SCO_MAX_RX_BUFFERS {
		errs = append(errs, fmt.Errorf("link: rx_buffers %d must be %d-%d",
			c.rxBuffers, protocol.SCO_MIN_RX_BUFFERS, protocol.SCO_MAX_RX_BUFFERS))
	}
	if c.tickMs == 0 {
		errs = append(errs, errors.New("timers: tick_ms must be non-zero"))
	}
	for name, rate := range map[string]float64{
		"bit_error_rate": c.bitErrorRate,
		"bad_crc_rate":   c.badCrcRate,
		"none_rate":      c.noneRate,
	} {
		if rate < 0 || rate > 1 {
			errs = append(errs, fmt.Errorf("simulation: %s %g must be within 0-1", name, rate))
		}
	}
	if c.badCrcRate+c.noneRate > 1 {
		errs = append(errs, errors.New("simulation: bad_crc_rate + none_rate exceeds 1"))
	}
	if c.databaseEnabled && c.databasePath == "" {
		errs = append(errs, errors.New("database: path is required when enabled"))
	}

	return errors.Join(errs...)
}

// Getter methods

func (c *Config) GetFilename() string             { return c.filename }
func (c *Config) GetTesco() uint16                { return c.tesco }
func (c *Config) GetFormat() protocol.AudioFormat { return c.format }
func (c *Config) GetRxBuffers() int               { return c.rxBuffers }
func (c *Config) GetTimestampInit() uint16        { return c.timestampInit }
func (c *Config) GetBypass() bool                 { return c.bypass }
func (c *Config) GetQuestionableBitsMax() uint32  { return c.questionableBitsMax }
func (c *Config) GetTickMs() uint32               { return c.tickMs }
func (c *Config) GetStallMs() uint32              { return c.stallMs }
func (c *Config) GetRetryMs() uint32              { return c.retryMs }
func (c *Config) GetSlots() uint32                { return c.slots }
func (c *Config) GetBitErrorRate() float64        { return c.bitErrorRate }
func (c *Config) GetBadCrcRate() float64          { return c.badCrcRate }
func (c *Config) GetNoneRate() float64            { return c.noneRate }
func (c *Config) GetSeed() int64                  { return c.seed }
func (c *Config) GetDatabaseEnabled() bool        { return c.databaseEnabled }
func (c *Config) GetDatabasePath() string         { return c.databasePath }
func (c *Config) GetTracePath() string            { return c.tracePath }
func (c *Config) GetLogLevel() string             { return c.logLevel }

// GetPacketSize returns the configured packet size, or the size implied
// by Tesco when none is set
func (c *Config) GetPacketSize() int {
	if c.packetSize != 0 {
		return c.packetSize
	}
	return int(c.tesco) * protocol.SCO_BYTES_PER_SLOT
}

// Setters used by command line overrides

func (c *Config) SetSlots(n uint32)                { c.slots = n }
func (c *Config) SetBitErrorRate(r float64)        { c.bitErrorRate = r }
func (c *Config) SetFormat(f protocol.AudioFormat) { c.format = f }
func (c *Config) SetBypass(b bool)                 { c.bypass = b }
func (c *Config) SetQuestionableBitsMax(n uint32)  { c.questionableBitsMax = n }
func (c *Config) SetTracePath(path string)         { c.tracePath = path }
func (c *Config) SetLogLevel(level string)         { c.logLevel = strings.ToLower(level) }

// SetDatabasePath enables the stats database at path
func (c *Config) SetDatabasePath(path string) {
	c.databasePath = path
	c.databaseEnabled = path != ""
}

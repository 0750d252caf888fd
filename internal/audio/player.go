package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// PlayerState represents the current state of a player.
type PlayerState int32

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
	StateClosed
)

// String returns a human readable state name.
func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is returned when a closed player is asked to play.
var ErrClosed = errors.New("player is closed")

// PlayerConfig contains configuration for the audio output.
type PlayerConfig struct {
	SampleRate int // 44100 or 48000 Hz only
	Channels   int // 1 = mono, 2 = stereo
	BitDepth   int // 16 bits per sample
	BufferSize int // Buffer size in bytes

	// PollInterval is how often a playing stream is checked for completion
	PollInterval time.Duration
}

// DefaultPlayerConfig returns the default player configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate:   44100,
		Channels:     2,
		BitDepth:     16,
		BufferSize:   8192,
		PollInterval: 25 * time.Millisecond,
	}
}

// validateConfig validates the player configuration.
func validateConfig(config PlayerConfig) error {
	// OTO only supports specific sample rates reliably
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}

	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}

	if config.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 16, got %d", config.BitDepth)
	}

	if config.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}

	if config.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	return nil
}

// Context owns the process-wide oto context. oto allows exactly one.
type Context struct {
	context *oto.Context
	config  PlayerConfig
	log     *log.Logger
}

// NewContext creates the oto context and waits for the device to be ready.
func NewContext(config PlayerConfig, logger *log.Logger) (*Context, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(config.BufferSize) * time.Second / time.Duration(config.SampleRate*config.Channels*2),
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	return &Context{context: ctx, config: config, log: logger}, nil
}

// Config returns the output format.
func (c *Context) Config() PlayerConfig {
	return c.config
}

// Player streams one source at a time to the output device. The same Player
// is reused for every line; Play replaces the previous source.
type Player struct {
	ctx *Context

	player *oto.Player
	source io.Reader
	gen    uint64

	state  atomic.Int32
	volume atomic.Uint64 // math.Float64bits

	mu sync.Mutex
}

// NewPlayer creates a player bound to the context.
func (c *Context) NewPlayer() *Player {
	p := &Player{ctx: c}
	p.state.Store(int32(StateStopped))
	p.volume.Store(math.Float64bits(1.0))
	return p
}

// Play stops any current source and starts streaming src. done is invoked
// once when src is drained (nil error) or fails; it is never invoked for a
// source that was replaced or stopped.
func (p *Player) Play(src io.Reader, done func(error)) error {
	if src == nil {
		return errors.New("source is nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if PlayerState(p.state.Load()) == StateClosed {
		return ErrClosed
	}

	p.stopLocked()

	p.gen++
	gen := p.gen
	player := p.ctx.context.NewPlayer(src)
	player.SetVolume(p.getVolume())
	p.player = player
	p.source = src

	player.Play()
	p.state.Store(int32(StatePlaying))

	go p.watch(gen, player, done)
	return nil
}

// watch polls the oto player until its source is drained.
func (p *Player) watch(gen uint64, player *oto.Player, done func(error)) {
	ticker := time.NewTicker(p.ctx.config.PollInterval)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.gen != gen || p.player != player {
			p.mu.Unlock()
			return
		}
		if PlayerState(p.state.Load()) == StatePaused || player.IsPlaying() {
			p.mu.Unlock()
			continue
		}

		err := player.Err()
		p.player = nil
		p.source = nil
		p.state.Store(int32(StateStopped))
		p.mu.Unlock()

		if done != nil {
			done(err)
		}
		return
	}
}

// Pause suspends the current source.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := PlayerState(p.state.Load())
	if current != StatePlaying {
		return fmt.Errorf("cannot pause: player is %s", current)
	}

	p.player.Pause()
	p.state.Store(int32(StatePaused))
	return nil
}

// Resume continues a paused source.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := PlayerState(p.state.Load())
	if current != StatePaused {
		return fmt.Errorf("cannot resume: player is %s", current)
	}

	p.player.Play()
	p.state.Store(int32(StatePlaying))
	return nil
}

// Stop detaches the current source and drops buffered audio.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	current := PlayerState(p.state.Load())
	if current == StateStopped || current == StateClosed {
		return
	}

	if p.player != nil {
		p.player.Pause()
		p.player = nil
	}
	p.source = nil
	p.gen++
	p.state.Store(int32(StateStopped))
}

// IsPlaying returns whether a source is currently audible.
func (p *Player) IsPlaying() bool {
	return PlayerState(p.state.Load()) == StatePlaying
}

// State returns the current player state.
func (p *Player) State() PlayerState {
	return PlayerState(p.state.Load())
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *Player) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}

	p.volume.Store(math.Float64bits(volume))

	p.mu.Lock()
	if p.player != nil {
		p.player.SetVolume(volume)
	}
	p.mu.Unlock()

	return nil
}

func (p *Player) getVolume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// Close stops playback; the player cannot be used afterwards.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.state.Store(int32(StateClosed))
	return nil
}

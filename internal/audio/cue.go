package audio

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// DefaultCueVolume is quiet enough to be inaudible on most hardware while
// still counting as active output.
const DefaultCueVolume = 0.01

// Cue loops a faint tone so mobile and laptop audio stacks do not suspend
// the output device between lines.
type Cue struct {
	ctx    *Context
	volume float64

	player *oto.Player
	mu     sync.Mutex
}

// NewCue creates a keep-alive cue bound to the context.
func (c *Context) NewCue(volume float64) *Cue {
	if volume <= 0 || volume > 1 {
		volume = DefaultCueVolume
	}
	return &Cue{ctx: c, volume: volume}
}

// Start begins looping the cue. Calling Start while running is a no-op.
func (c *Cue) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.player != nil {
		return
	}

	cfg := c.ctx.config
	c.player = c.ctx.context.NewPlayer(&loopReader{data: cueTone(cfg.SampleRate, cfg.Channels)})
	c.player.SetVolume(c.volume)
	c.player.Play()
}

// Stop silences the cue. Calling Stop while stopped is a no-op.
func (c *Cue) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.player == nil {
		return
	}
	c.player.Pause()
	c.player = nil
}

// Running reports whether the cue is looping.
func (c *Cue) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player != nil
}

// cueTone renders one second of a low 60 Hz sine as signed 16-bit LE PCM.
func cueTone(sampleRate, channels int) []byte {
	const freq = 60.0
	const amplitude = 0.05

	frame := channels * 2
	data := make([]byte, sampleRate*frame)
	for i := 0; i < sampleRate; i++ {
		v := int16(amplitude * math.MaxInt16 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(data[i*frame+ch*2:], uint16(v))
		}
	}
	return data
}

// loopReader repeats data forever.
type loopReader struct {
	data []byte
	pos  int
}

func (r *loopReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) {
		c := copy(p[n:], r.data[r.pos:])
		n += c
		r.pos = (r.pos + c) % len(r.data)
	}
	return n, nil
}

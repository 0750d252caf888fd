package audio

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/faiface/beep"
)

// StreamerReader adapts a beep.Streamer to the signed 16-bit little-endian
// PCM stream oto consumes. Mono output averages both beep channels.
type StreamerReader struct {
	streamer beep.Streamer
	channels int
	buf      [][2]float64
	drained  bool
}

// NewStreamerReader wraps s for an output with the given channel count.
func NewStreamerReader(s beep.Streamer, channels int) *StreamerReader {
	if channels != 1 {
		channels = 2
	}
	return &StreamerReader{streamer: s, channels: channels}
}

// Read fills p with whole frames.
func (r *StreamerReader) Read(p []byte) (int, error) {
	if r.drained {
		return 0, io.EOF
	}

	frame := r.channels * 2
	want := len(p) / frame
	if want == 0 {
		return 0, io.ErrShortBuffer
	}
	if cap(r.buf) < want {
		r.buf = make([][2]float64, want)
	}
	samples := r.buf[:want]

	n, ok := r.streamer.Stream(samples)
	for i := 0; i < n; i++ {
		off := i * frame
		if r.channels == 1 {
			putSample(p[off:], (samples[i][0]+samples[i][1])/2)
			continue
		}
		putSample(p[off:], samples[i][0])
		putSample(p[off+2:], samples[i][1])
	}

	if !ok {
		r.drained = true
		if err := r.streamer.Err(); err != nil {
			return n * frame, err
		}
		return n * frame, io.EOF
	}
	return n * frame, nil
}

func putSample(b []byte, v float64) {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	binary.LittleEndian.PutUint16(b, uint16(int16(v*math.MaxInt16)))
}

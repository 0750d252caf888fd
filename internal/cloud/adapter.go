package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bookvoice/bookvoice/internal/audio"
	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/charmbracelet/log"
	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"golang.org/x/time/rate"
)

// ErrAborted is reported for a load that a newer PlayLine or Unload
// interrupted. It matches ttypes.ErrSuperseded.
var ErrAborted = fmt.Errorf("cloud audio load aborted: %w", ttypes.ErrSuperseded)

// resampleQuality is beep's interpolation quality (1-64).
const resampleQuality = 4

// Output is the persistent playback resource. audio.Player implements it.
type Output interface {
	Play(src io.Reader, done func(error)) error
	Pause() error
	Stop() error
}

// Decoder turns an HTTP body into a sample stream.
type Decoder func(r io.ReadCloser) (beep.StreamCloser, beep.Format, error)

// DecodeMP3 is the default Decoder.
func DecodeMP3(r io.ReadCloser) (beep.StreamCloser, beep.Format, error) {
	s, format, err := mp3.Decode(r)
	if err != nil {
		return nil, beep.Format{}, err
	}
	return s, format, nil
}

// Config configures an Adapter.
type Config struct {
	BaseURL  string
	Resource string

	// RequestsPerMinute caps line fetches; zero means unlimited
	RequestsPerMinute int

	// SampleRate and Channels describe the output
	SampleRate int
	Channels   int

	Client  *http.Client
	Decoder Decoder
}

// Adapter plays one line of cloud audio at a time through a single Output.
type Adapter struct {
	out     Output
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	decode  Decoder
	log     *log.Logger

	mu     sync.Mutex
	gen    uint64
	src    string
	cancel context.CancelFunc
	stream beep.StreamCloser
}

// NewAdapter creates an adapter that plays through out.
func NewAdapter(out Output, cfg Config, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.DefaultPlayerConfig().SampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = audio.DefaultPlayerConfig().Channels
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute)
	}

	decode := cfg.Decoder
	if decode == nil {
		decode = DecodeMP3
	}

	return &Adapter{
		out:     out,
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		decode:  decode,
		log:     logger.WithPrefix("cloud"),
	}
}

// PlayLine stops whatever is playing, points the output at the line's URL
// and starts it asynchronously. onEnd runs when the line drains; onError
// runs for any failure other than supersession.
func (a *Adapter) PlayLine(bookID string, index int, voiceID string, speed float64, onEnd func(), onError func(error)) {
	a.mu.Lock()
	a.detachLocked()
	a.gen++
	gen := a.gen
	a.src = URL(a.cfg.BaseURL, a.cfg.Resource, bookID, index, voiceID)
	src := a.src

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	if speed <= 0 {
		speed = ttypes.DefaultRate
	}

	go func() {
		if err := a.load(ctx, gen, src, speed, onEnd, onError); err != nil {
			a.fail(gen, err, onError)
		}
	}()
}

func (a *Adapter) load(ctx context.Context, gen uint64, src string, speed float64, onEnd func(), onError func(error)) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return a.abortOr(ctx, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := a.client.Do(req)
	if err != nil {
		return a.abortOr(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("fetch %s: %s", src, resp.Status)
	}

	stream, format, err := a.decode(resp.Body)
	if err != nil {
		resp.Body.Close()
		return a.abortOr(ctx, fmt.Errorf("decode %s: %w", src, err))
	}

	ratio := float64(format.SampleRate) / float64(a.cfg.SampleRate) * speed
	var s beep.Streamer = stream
	if ratio != 1 {
		s = beep.ResampleRatio(resampleQuality, ratio, stream)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.gen != gen {
		stream.Close()
		return ErrAborted
	}
	a.stream = stream

	err = a.out.Play(audio.NewStreamerReader(s, a.cfg.Channels), func(err error) {
		a.finished(gen, err, onEnd, onError)
	})
	if err != nil {
		a.closeStreamLocked()
		return err
	}

	a.log.Debug("playing", "src", src, "rate", speed)
	return nil
}

// abortOr maps errors caused by cancellation to ErrAborted.
func (a *Adapter) abortOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrAborted
	}
	return err
}

func (a *Adapter) fail(gen uint64, err error, onError func(error)) {
	if errors.Is(err, ttypes.ErrSuperseded) {
		a.log.Debug("load superseded", "err", err)
		return
	}

	a.mu.Lock()
	current := a.gen == gen
	a.mu.Unlock()
	if !current {
		return
	}

	a.log.Error("line failed", "err", err)
	if onError != nil {
		onError(err)
	}
}

// finished is the ended handler; it is inert once a newer line starts.
func (a *Adapter) finished(gen uint64, err error, onEnd func(), onError func(error)) {
	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return
	}
	a.closeStreamLocked()
	a.mu.Unlock()

	if err != nil && !errors.Is(err, io.EOF) {
		a.fail(gen, err, onError)
		return
	}
	if onEnd != nil {
		onEnd()
	}
}

// Unload stops playback, drops the ended handler and detaches the source.
func (a *Adapter) Unload() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.detachLocked()
	a.gen++
	a.src = ""
}

// Source returns the URL the output points at, or "" when unloaded.
func (a *Adapter) Source() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.src
}

func (a *Adapter) detachLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if err := a.out.Stop(); err != nil {
		a.log.Debug("stop failed", "err", err)
	}
	a.closeStreamLocked()
}

func (a *Adapter) closeStreamLocked() {
	if a.stream == nil {
		return
	}
	if err := a.stream.Close(); err != nil {
		a.log.Debug("close failed", "err", err)
	}
	a.stream = nil
}

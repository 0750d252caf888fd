package speech

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/bookvoice/bookvoice/internal/ttypes"
	"github.com/charmbracelet/log"
)

// ErrNotFound is returned when no espeak binary is available.
var ErrNotFound = errors.New("espeak-ng not found in PATH")

// DefaultWordsPerMinute is espeak's speed at rate 1.0.
const DefaultWordsPerMinute = 175

// ESpeak synthesizes speech by running espeak-ng (or espeak) as a subprocess.
type ESpeak struct {
	binary string
	log    *log.Logger
}

// NewESpeak locates the binary. An empty name tries espeak-ng then espeak.
func NewESpeak(binary string, logger *log.Logger) (*ESpeak, error) {
	if logger == nil {
		logger = log.Default()
	}

	candidates := []string{"espeak-ng", "espeak"}
	if binary != "" {
		candidates = []string{binary}
	}
	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return &ESpeak{binary: path, log: logger.WithPrefix("espeak")}, nil
		}
	}
	return nil, ErrNotFound
}

// Binary returns the resolved executable path.
func (e *ESpeak) Binary() string {
	return e.binary
}

// Args builds the espeak command line for an utterance.
func Args(u Utterance) []string {
	var args []string

	voice := u.Voice
	if voice == "" {
		voice = u.Lang
	}
	if voice != "" && voice != "default" {
		args = append(args, "-v", voice)
	}

	rate := u.Rate
	if rate <= 0 {
		rate = ttypes.DefaultRate
	}
	args = append(args, "-s", strconv.Itoa(int(DefaultWordsPerMinute*rate)))

	// espeak pitch is 0-99 (default 50), amplitude 0-200 (default 100)
	if u.Pitch > 0 {
		args = append(args, "-p", strconv.Itoa(clamp(int(50*u.Pitch), 0, 99)))
	}
	if u.Volume > 0 {
		args = append(args, "-a", strconv.Itoa(clamp(int(100*u.Volume), 0, 200)))
	}

	// "--" keeps lines starting with a dash from being read as flags
	return append(args, "--", u.Text)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Speak starts the subprocess. The returned handle is started as soon as
// the process is running.
func (e *ESpeak) Speak(ctx context.Context, u Utterance) (Handle, error) {
	if strings.TrimSpace(u.Text) == "" {
		return nil, errors.New("text cannot be empty")
	}

	cmd := exec.Command(e.binary, Args(u)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", e.binary, err)
	}

	h := &process{
		cmd:     cmd,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	close(h.started)

	go func() {
		err := cmd.Wait()

		h.mu.Lock()
		switch {
		case h.cancelled:
			h.err = fmt.Errorf("espeak: %w", ttypes.ErrSuperseded)
		case err != nil:
			h.err = fmt.Errorf("espeak: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		h.mu.Unlock()

		close(h.done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = h.Cancel()
		case <-h.done:
		}
	}()

	e.log.Debug("speaking", "voice", u.Voice, "rate", u.Rate, "chars", len(u.Text))
	return h, nil
}

// Voices lists the installed voices for a language ("" lists all).
func (e *ESpeak) Voices(ctx context.Context, lang string) ([]Voice, error) {
	flag := "--voices"
	if lang != "" {
		flag += "=" + lang
	}

	out, err := exec.CommandContext(ctx, e.binary, flag).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list voices: %w", err)
	}
	return ParseVoices(out), nil
}

// ParseVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
func ParseVoices(out []byte) []Voice {
	var voices []Voice

	scanner := bufio.NewScanner(bytes.NewReader(out))
	header := true
	for scanner.Scan() {
		line := scanner.Text()
		if header {
			header = false
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		gender := fields[2]
		if i := strings.IndexByte(gender, '/'); i >= 0 {
			gender = gender[i+1:]
		}

		voices = append(voices, Voice{
			Language: fields[1],
			Gender:   gender,
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			File:     fields[4],
		})
	}
	return voices
}

// process is a Handle over a running espeak subprocess.
type process struct {
	cmd     *exec.Cmd
	started chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	cancelled bool
	paused    bool
	err       error
}

func (p *process) Started() <-chan struct{} { return p.started }
func (p *process) Done() <-chan struct{}    { return p.done }

func (p *process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *process) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused || p.exited() {
		return nil
	}
	if err := stopProcess(p.cmd.Process); err != nil {
		return err
	}
	p.paused = true
	return nil
}

func (p *process) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.paused || p.exited() {
		return nil
	}
	if err := continueProcess(p.cmd.Process); err != nil {
		return err
	}
	p.paused = false
	return nil
}

func (p *process) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelled || p.exited() {
		return nil
	}
	p.cancelled = true

	// A stopped process ignores SIGKILL until it is continued on some
	// platforms, so wake it first.
	if p.paused {
		_ = continueProcess(p.cmd.Process)
		p.paused = false
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

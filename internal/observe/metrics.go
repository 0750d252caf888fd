// Package observe records playback metrics through the OpenTelemetry
// Metrics API. Metrics satisfies playback.Observer; tests should build it
// with NewMetrics over their own MeterProvider.
package observe

import (
	"context"

	"github.com/bookvoice/bookvoice/internal/ttypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every bookvoice metric.
const meterName = "github.com/bookvoice/bookvoice"

// Metrics holds the playback instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// LinesStarted counts lines handed to an adapter, by voice type.
	LinesStarted metric.Int64Counter

	// LinesCompleted counts lines that ended naturally, by voice type.
	LinesCompleted metric.Int64Counter

	// SupersededEvents counts completions and errors dropped because a
	// newer line replaced the one they belonged to.
	SupersededEvents metric.Int64Counter

	// BackendErrors counts adapter failures that stopped playback.
	BackendErrors metric.Int64Counter

	// Resumes counts scheduled resumes, including coalesced ones.
	Resumes metric.Int64Counter

	// ActivePlayback is 1 while the engine reports playing.
	ActivePlayback metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LinesStarted, err = m.Int64Counter("bookvoice.lines.started",
		metric.WithDescription("Lines handed to a voice backend."),
	); err != nil {
		return nil, err
	}
	if met.LinesCompleted, err = m.Int64Counter("bookvoice.lines.completed",
		metric.WithDescription("Lines that finished playing."),
	); err != nil {
		return nil, err
	}
	if met.SupersededEvents, err = m.Int64Counter("bookvoice.lines.superseded",
		metric.WithDescription("Stale completions ignored after a newer line started."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("bookvoice.backend.errors",
		metric.WithDescription("Voice backend failures."),
	); err != nil {
		return nil, err
	}
	if met.Resumes, err = m.Int64Counter("bookvoice.resumes",
		metric.WithDescription("Debounced resume requests."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlayback, err = m.Int64UpDownCounter("bookvoice.playback.active",
		metric.WithDescription("Whether playback is running."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NewDefaultMetrics builds Metrics on the global MeterProvider.
func NewDefaultMetrics() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}

func voiceAttr(v ttypes.VoiceType) metric.AddOption {
	return metric.WithAttributes(attribute.String("voice", v.String()))
}

func (m *Metrics) LineStarted(v ttypes.VoiceType) {
	m.LinesStarted.Add(context.Background(), 1, voiceAttr(v))
}

func (m *Metrics) LineCompleted(v ttypes.VoiceType) {
	m.LinesCompleted.Add(context.Background(), 1, voiceAttr(v))
}

func (m *Metrics) Superseded(v ttypes.VoiceType) {
	m.SupersededEvents.Add(context.Background(), 1, voiceAttr(v))
}

func (m *Metrics) BackendError(v ttypes.VoiceType) {
	m.BackendErrors.Add(context.Background(), 1, voiceAttr(v))
}

func (m *Metrics) ResumeScheduled() {
	m.Resumes.Add(context.Background(), 1)
}

// PlayingChanged tracks ActivePlayback; the engine only reports transitions.
func (m *Metrics) PlayingChanged(playing bool) {
	if playing {
		m.ActivePlayback.Add(context.Background(), 1)
		return
	}
	m.ActivePlayback.Add(context.Background(), -1)
}

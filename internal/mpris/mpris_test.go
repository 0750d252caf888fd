package mpris

import (
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/bookvoice/bookvoice/internal/mediasession"
	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProps struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func (f *fakeProps) SetMust(iface, name string, v interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[iface+"."+name] = v
}

func (f *fakeProps) get(name string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[playerIface+"."+name]
}

type signal struct {
	name   string
	values []interface{}
}

func newTestPlayer() (*Player, *fakeProps, *[]signal) {
	props := &fakeProps{values: map[string]interface{}{}}
	var signals []signal

	p := newPlayer(log.New(io.Discard))
	p.props = props
	p.emit = func(name string, values ...interface{}) error {
		signals = append(signals, signal{name, values})
		return nil
	}
	return p, props, &signals
}

var _ mediasession.Session = (*Player)(nil)

func TestPlaybackStatus(t *testing.T) {
	p, props, _ := newTestPlayer()

	require.NoError(t, p.SetPlaybackState(mediasession.StatePlaying))
	assert.Equal(t, "Playing", props.get("PlaybackStatus"))
	assert.True(t, p.playing())

	require.NoError(t, p.SetPlaybackState(mediasession.StatePaused))
	assert.Equal(t, "Paused", props.get("PlaybackStatus"))

	require.NoError(t, p.SetPlaybackState(mediasession.StateNone))
	assert.Equal(t, "Stopped", props.get("PlaybackStatus"))
}

func TestPositionMapsLinesToSeconds(t *testing.T) {
	p, props, signals := newTestPlayer()

	require.NoError(t, p.SetMetadata(mediasession.Metadata{Title: "Moby Dick", Artist: "Melville"}))
	require.NoError(t, p.SetPositionState(mediasession.PositionState{Duration: 120, PlaybackRate: 1.5, Position: 7}))

	assert.Equal(t, int64(7_000_000), props.get("Position"))
	assert.Equal(t, 1.5, props.get("Rate"))
	require.Len(t, *signals, 1)
	assert.Equal(t, signal{"Seeked", []interface{}{int64(7_000_000)}}, (*signals)[0])

	meta := props.get("Metadata").(map[string]dbus.Variant)
	assert.Equal(t, int64(120_000_000), meta["mpris:length"].Value())
	assert.Equal(t, "Moby Dick", meta["xesam:title"].Value())
	assert.Equal(t, []string{"Melville"}, meta["xesam:artist"].Value())
}

func TestMetadataMap(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	track := trackPath(id)
	assert.Equal(t, dbus.ObjectPath("/org/bookvoice/track/6ba7b8109dad11d180b400c04fd430c8"), track)
	assert.True(t, track.IsValid())

	meta := metadataMap(mediasession.Metadata{Title: "T"}, track, 3)
	assert.Equal(t, track, meta["mpris:trackid"].Value())
	assert.Equal(t, int64(3_000_000), meta["mpris:length"].Value())
	assert.NotContains(t, meta, "xesam:artist")
	assert.NotContains(t, meta, "xesam:album")
}

func TestActionsDispatch(t *testing.T) {
	p, props, _ := newTestPlayer()
	obj := &playerObject{p: p}

	var fired []string
	for _, a := range mediasession.Actions {
		a := a
		require.NoError(t, p.SetActionHandler(a, func() { fired = append(fired, string(a)) }))
	}
	assert.Equal(t, true, props.get("CanGoNext"))
	assert.Equal(t, true, props.get("CanPlay"))

	assert.Nil(t, obj.Next())
	assert.Nil(t, obj.Previous())
	assert.Nil(t, obj.Play())
	assert.Nil(t, obj.Stop())

	require.NoError(t, p.SetPlaybackState(mediasession.StatePlaying))
	assert.Nil(t, obj.PlayPause())
	require.NoError(t, p.SetPlaybackState(mediasession.StatePaused))
	assert.Nil(t, obj.PlayPause())

	assert.Equal(t, "nexttrack previoustrack play pause pause play", strings.Join(fired, " "))

	require.NoError(t, p.SetActionHandler(mediasession.ActionNextTrack, nil))
	assert.Equal(t, false, props.get("CanGoNext"))
	assert.Nil(t, obj.Next())
	assert.Len(t, fired, 6)
}

func TestUnsupportedAction(t *testing.T) {
	p, _, _ := newTestPlayer()
	assert.Error(t, p.SetActionHandler("seekto", func() {}))
}

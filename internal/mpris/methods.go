package mpris

import (
	"github.com/bookvoice/bookvoice/internal/mediasession"
	"github.com/godbus/dbus/v5"
)

// rootObject serves org.mpris.MediaPlayer2. The terminal cannot be raised
// and quitting is left to the reader.
type rootObject struct{}

func (rootObject) Raise() *dbus.Error { return nil }
func (rootObject) Quit() *dbus.Error  { return nil }

// playerObject serves org.mpris.MediaPlayer2.Player.
type playerObject struct {
	p *Player
}

func (o *playerObject) Next() *dbus.Error {
	o.p.fire(mediasession.ActionNextTrack)
	return nil
}

func (o *playerObject) Previous() *dbus.Error {
	o.p.fire(mediasession.ActionPreviousTrack)
	return nil
}

func (o *playerObject) Pause() *dbus.Error {
	o.p.fire(mediasession.ActionPause)
	return nil
}

func (o *playerObject) Play() *dbus.Error {
	o.p.fire(mediasession.ActionPlay)
	return nil
}

func (o *playerObject) PlayPause() *dbus.Error {
	if o.p.playing() {
		o.p.fire(mediasession.ActionPause)
	} else {
		o.p.fire(mediasession.ActionPlay)
	}
	return nil
}

// Stop maps to pause; the reader keeps its place.
func (o *playerObject) Stop() *dbus.Error {
	o.p.fire(mediasession.ActionPause)
	return nil
}

// Seek, SetPosition and OpenUri are accepted and ignored (CanSeek is false).
func (o *playerObject) Seek(int64) *dbus.Error                         { return nil }
func (o *playerObject) SetPosition(dbus.ObjectPath, int64) *dbus.Error { return nil }
func (o *playerObject) OpenUri(string) *dbus.Error                     { return nil }

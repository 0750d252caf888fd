// Package mpris publishes a mediasession.Session on the D-Bus session bus
// using the MPRIS 2 interfaces, so desktop media keys and widgets can drive
// playback.
//
// A book line is exposed as one second of track position.
package mpris

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bookvoice/bookvoice/internal/mediasession"
	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"
)

const (
	objectPath  = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	rootIface   = "org.mpris.MediaPlayer2"
	playerIface = "org.mpris.MediaPlayer2.Player"
	busPrefix   = "org.mpris.MediaPlayer2."
	trackPrefix = "/org/bookvoice/track/"
)

// LineDuration is the track time one book line occupies.
const LineDuration = time.Second

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("mpris bus name already taken")

type propSetter interface {
	SetMust(iface, property string, v interface{})
}

type emitter func(name string, values ...interface{}) error

// Player is an MPRIS media player backed by mediasession handlers.
type Player struct {
	conn  *dbus.Conn
	props propSetter
	emit  emitter
	log   *log.Logger

	mu       sync.Mutex
	handlers map[mediasession.Action]func()
	status   string
	meta     map[string]dbus.Variant
	lines    int
}

// Connect claims org.mpris.MediaPlayer2.<identity>.instance<pid> on the
// session bus and exports the player. It fails when no session bus is
// reachable.
func Connect(identity string, logger *log.Logger) (*Player, error) {
	if logger == nil {
		logger = log.Default()
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	p := newPlayer(logger)
	p.conn = conn
	p.emit = func(name string, values ...interface{}) error {
		return conn.Emit(objectPath, playerIface+"."+name, values...)
	}

	if err := p.export(identity); err != nil {
		conn.Close()
		return nil, err
	}

	name := fmt.Sprintf("%s%s.instance%d", busPrefix, identity, os.Getpid())
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, ErrNameTaken
	}

	p.log.Debug("registered", "name", name)
	return p, nil
}

func newPlayer(logger *log.Logger) *Player {
	return &Player{
		log:      logger.WithPrefix("mpris"),
		handlers: make(map[mediasession.Action]func()),
		status:   "Stopped",
		meta:     map[string]dbus.Variant{},
		emit:     func(string, ...interface{}) error { return nil },
	}
}

func (p *Player) export(identity string) error {
	root := &rootObject{}
	player := &playerObject{p: p}

	if err := p.conn.Export(root, objectPath, rootIface); err != nil {
		return fmt.Errorf("failed to export root: %w", err)
	}
	if err := p.conn.Export(player, objectPath, playerIface); err != nil {
		return fmt.Errorf("failed to export player: %w", err)
	}

	props, err := prop.Export(p.conn, objectPath, p.propMap(identity))
	if err != nil {
		return fmt.Errorf("failed to export properties: %w", err)
	}
	p.props = props

	node := &introspect.Node{
		Name: string(objectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{Name: rootIface, Methods: introspect.Methods(root), Properties: props.Introspection(rootIface)},
			{Name: playerIface, Methods: introspect.Methods(player), Properties: props.Introspection(playerIface)},
		},
	}
	return p.conn.Export(introspect.NewIntrospectable(node), objectPath, "org.freedesktop.DBus.Introspectable")
}

func (p *Player) propMap(identity string) prop.Map {
	constant := func(v interface{}) *prop.Prop {
		return &prop.Prop{Value: v, Emit: prop.EmitConst}
	}
	changing := func(v interface{}) *prop.Prop {
		return &prop.Prop{Value: v, Emit: prop.EmitTrue}
	}

	return prop.Map{
		rootIface: {
			"CanQuit":             constant(false),
			"CanRaise":            constant(false),
			"HasTrackList":        constant(false),
			"Identity":            constant(identity),
			"SupportedUriSchemes": constant([]string{}),
			"SupportedMimeTypes":  constant([]string{}),
		},
		playerIface: {
			"PlaybackStatus": changing(p.status),
			"Rate":           changing(1.0),
			"Metadata":       changing(p.meta),
			"Volume":         changing(1.0),
			"Position":       {Value: int64(0), Emit: prop.EmitFalse},
			"MinimumRate":    constant(0.5),
			"MaximumRate":    constant(3.0),
			"CanGoNext":      changing(false),
			"CanGoPrevious":  changing(false),
			"CanPlay":        changing(false),
			"CanPause":       changing(false),
			"CanSeek":        constant(false),
			"CanControl":     constant(true),
		},
	}
}

func (p *Player) set(iface, name string, v interface{}) {
	if p.props != nil {
		p.props.SetMust(iface, name, v)
	}
}

// Close releases the bus connection.
func (p *Player) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// SetMetadata implements mediasession.Session. Each book gets a fresh track id.
func (p *Player) SetMetadata(m mediasession.Metadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.meta = metadataMap(m, trackPath(uuid.New()), p.lines)
	p.set(playerIface, "Metadata", p.meta)
	return nil
}

// SetPositionState implements mediasession.Session.
func (p *Player) SetPositionState(s mediasession.PositionState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if lines := int(s.Duration); lines != p.lines {
		p.lines = lines
		if len(p.meta) > 0 {
			meta := make(map[string]dbus.Variant, len(p.meta))
			for k, v := range p.meta {
				meta[k] = v
			}
			meta["mpris:length"] = dbus.MakeVariant(lineTime(s.Duration))
			p.meta = meta
			p.set(playerIface, "Metadata", meta)
		}
	}
	if s.PlaybackRate > 0 {
		p.set(playerIface, "Rate", s.PlaybackRate)
	}

	pos := lineTime(s.Position)
	p.set(playerIface, "Position", pos)
	return p.emit("Seeked", pos)
}

// SetPlaybackState implements mediasession.Session.
func (p *Player) SetPlaybackState(state mediasession.PlaybackState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = statusString(state)
	p.set(playerIface, "PlaybackStatus", p.status)
	return nil
}

// SetActionHandler implements mediasession.Session.
func (p *Player) SetActionHandler(action mediasession.Action, fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fn == nil {
		delete(p.handlers, action)
	} else {
		p.handlers[action] = fn
	}

	switch action {
	case mediasession.ActionPlay:
		p.set(playerIface, "CanPlay", fn != nil)
	case mediasession.ActionPause:
		p.set(playerIface, "CanPause", fn != nil)
	case mediasession.ActionNextTrack:
		p.set(playerIface, "CanGoNext", fn != nil)
	case mediasession.ActionPreviousTrack:
		p.set(playerIface, "CanGoPrevious", fn != nil)
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
	return nil
}

// fire runs the handler for action outside the lock.
func (p *Player) fire(action mediasession.Action) {
	p.mu.Lock()
	fn := p.handlers[action]
	p.mu.Unlock()

	if fn == nil {
		p.log.Debug("no handler", "action", action)
		return
	}
	fn()
}

func (p *Player) playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == "Playing"
}

func statusString(state mediasession.PlaybackState) string {
	switch state {
	case mediasession.StatePlaying:
		return "Playing"
	case mediasession.StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

func lineTime(lines float64) int64 {
	return int64(lines * float64(LineDuration/time.Microsecond))
}

func trackPath(id uuid.UUID) dbus.ObjectPath {
	return dbus.ObjectPath(trackPrefix + strings.ReplaceAll(id.String(), "-", ""))
}

func metadataMap(m mediasession.Metadata, track dbus.ObjectPath, lines int) map[string]dbus.Variant {
	meta := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(track),
		"mpris:length":  dbus.MakeVariant(lineTime(float64(lines))),
		"xesam:title":   dbus.MakeVariant(m.Title),
	}
	if m.Artist != "" {
		meta["xesam:artist"] = dbus.MakeVariant([]string{m.Artist})
	}
	if m.Album != "" {
		meta["xesam:album"] = dbus.MakeVariant(m.Album)
	}
	return meta
}

// Package orch composes the signaling components of one client: session,
// publisher and subscriber handles, the long poll, and the media engine.
package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/roomlink/internal/app"
	"github.com/dkeye/roomlink/internal/app/worker"
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	fcore "github.com/frostbyte73/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// publisherKey is the sentinel under which the publisher handle is found
// before (and after) its server id is known.
const publisherKey domain.HandleID = 0

type Config struct {
	Plugin     string
	Room       domain.RoomNumber
	Audio      bool
	Video      bool
	Loopback   bool
	ICEServers []webrtc.ICEServer

	RequestTimeout  time.Duration
	TrickleDebounce time.Duration
	Poll            app.PollConfig
}

func DefaultConfig() Config {
	return Config{
		Plugin:          protocol.PluginVideoRoom,
		Room:            1234,
		Audio:           true,
		Video:           true,
		RequestTimeout:  app.DefaultRequestTimeout,
		TrickleDebounce: app.DefaultTrickleDebounce,
		Poll:            app.DefaultPollConfig(),
	}
}

// Orchestrator is one client instance. It is single-use: after Disconnect
// a new Orchestrator is needed to reconnect.
//
// All fields below the worker line are only touched on the worker.
type Orchestrator struct {
	cfg         Config
	participant *domain.Participant
	media       core.MediaEngine
	observer    core.Observer
	logger      zerolog.Logger

	queue    *worker.Queue
	registry *app.TransactionRegistry
	calls    *app.CallSet
	closing  fcore.Fuse
	env      *app.Env

	// worker
	state       domain.ConnectionState
	session     *app.SessionManager
	poll        *app.PollLoop
	handles     map[domain.HandleID]*app.Handle
	subscribers map[domain.PublisherID]*app.Handle
	tornDown    bool
}

func New(gw core.Gateway, media core.MediaEngine, observer core.Observer, participant *domain.Participant, cfg Config) *Orchestrator {
	if observer == nil {
		observer = core.MultiObserver(nil)
	}
	if cfg.Plugin == "" {
		cfg.Plugin = protocol.PluginVideoRoom
	}
	o := &Orchestrator{
		cfg:         cfg,
		participant: participant,
		media:       media,
		observer:    observer,
		logger:      log.With().Str("module", "orch").Str("client", string(participant.ID)).Logger(),
		queue:       worker.New(string(participant.ID)),
		registry:    app.NewTransactionRegistry(),
		calls:       app.NewCallSet(),
		handles:     make(map[domain.HandleID]*app.Handle),
		subscribers: make(map[domain.PublisherID]*app.Handle),
	}
	o.env = &app.Env{
		Queue:          o.queue,
		Gateway:        gw,
		Registry:       o.registry,
		Calls:          o.calls,
		Closing:        &o.closing,
		Plugin:         cfg.Plugin,
		RequestTimeout: cfg.RequestTimeout,
	}
	o.session = app.NewSessionManager(o.env, o)
	return o
}

func (o *Orchestrator) Participant() *domain.Participant { return o.participant }

// Closed is closed as soon as Disconnect is called.
func (o *Orchestrator) Closed() <-chan struct{} { return o.closing.Watch() }

// Connect starts the connection sequence: server info, session, publisher
// attach and join, long poll. It returns once the sequence is started.
func (o *Orchestrator) Connect(ctx context.Context) error {
	var err error
	if derr := o.queue.Do(ctx, func() { err = o.connect() }); derr != nil {
		return derr
	}
	return err
}

func (o *Orchestrator) connect() error {
	if o.closing.IsBroken() {
		return core.ErrClosed
	}
	if o.state != domain.ConnNew {
		return fmt.Errorf("connect: client is %s", o.state)
	}
	o.logger.Info().Str("room", o.cfg.Room.String()).Str("display", o.participant.Display).Msg("connecting")
	o.setState(domain.ConnConnecting)
	o.session.Info(o.onInfo)
	return nil
}

func (o *Orchestrator) onInfo(info *protocol.ServerInfo, err error) {
	if o.closing.IsBroken() {
		return
	}
	if err != nil {
		o.session.Fail(core.TransportError("server info", err))
		return
	}
	if !info.HasPlugin(o.cfg.Plugin) {
		o.session.Fail(core.ProtocolError("server info", fmt.Errorf("%w: %s", core.ErrPluginUnavailable, o.cfg.Plugin)))
		return
	}
	o.logger.Info().Str("server", info.Name).Str("version", info.VersionString).Msg("gateway info")
	o.session.Create()
}

// Disconnect cancels every in-flight request, including the long poll,
// and tears the client down on the worker. Safe to call more than once and
// from any goroutine.
func (o *Orchestrator) Disconnect() {
	if o.closing.IsBroken() {
		return
	}
	o.closing.Break()
	o.calls.Cancel()
	o.registry.Clear()
	o.queue.Post(o.teardown)
}

// Close disconnects and waits until the worker has drained.
func (o *Orchestrator) Close() {
	o.Disconnect()
	o.queue.Close()
	<-o.queue.Done()
}

func (o *Orchestrator) teardown() {
	if o.tornDown {
		return
	}
	o.tornDown = true
	for _, sub := range o.subscribers {
		sub.Detach()
	}
	if pub, ok := o.handles[publisherKey]; ok {
		pub.Detach()
	}
	o.session.Destroy()
	o.setState(domain.ConnClosed)
	o.logger.Info().Msg("disconnected")
}

func (o *Orchestrator) setState(s domain.ConnectionState) {
	if o.state == s {
		return
	}
	o.logger.Info().Str("from", o.state.String()).Str("to", s.String()).Msg("state")
	o.state = s
	o.observer.OnStateChange(s)
}

// report surfaces err unless the session already failed.
func (o *Orchestrator) report(err error) {
	if o.session.State() == domain.SessionError {
		o.logger.Warn().Err(err).Msg("error after session failure")
		return
	}
	o.logger.Error().Err(err).Msg("client error")
	o.observer.OnError(err)
}

// SessionHost

func (o *Orchestrator) OnSessionReady(id domain.SessionID) {
	if o.closing.IsBroken() {
		return
	}
	pub := app.NewHandle(o.env, o, o.media, app.HandleConfig{
		Kind:            domain.KindPublisher,
		Session:         id,
		Room:            o.cfg.Room,
		Display:         o.participant.Display,
		Audio:           o.cfg.Audio,
		Video:           o.cfg.Video,
		TrickleDebounce: o.cfg.TrickleDebounce,
	})
	o.handles[publisherKey] = pub
	pub.Attach()

	o.poll = app.NewPollLoop(o.env, o.session, o, o.cfg.Poll)
	o.poll.Start()
}

func (o *Orchestrator) OnSessionFailed(err error) {
	o.calls.Cancel()
	o.setState(domain.ConnError)
	o.logger.Error().Err(err).Msg("session failed")
	o.observer.OnError(err)
}

// PollHost

func (o *Orchestrator) LookupHandle(id domain.HandleID) (*app.Handle, bool) {
	if id == publisherKey {
		return nil, false
	}
	h, ok := o.handles[id]
	return h, ok
}

func (o *Orchestrator) OnPollFailed(err error) { o.session.Fail(err) }

func (o *Orchestrator) OnFrameError(err error) { o.report(err) }

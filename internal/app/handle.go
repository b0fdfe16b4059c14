package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/roomlink/internal/app/worker"
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultTrickleDebounce = 50 * time.Millisecond

// HandleHost receives handle lifecycle notifications, on the worker.
type HandleHost interface {
	OnHandleAttached(h *Handle)
	OnHandleConnected(h *Handle)
	OnRosterDelta(h *Handle, d Delta)
	OnHandleClosed(h *Handle)
	OnHandleError(h *Handle, err error)
}

type HandleConfig struct {
	Kind domain.HandleKind
	// Feed and PrivateID are set for subscribers only.
	Feed      domain.PublisherID
	PrivateID uint64

	Session domain.SessionID
	Room    domain.RoomNumber
	Display string
	Audio   bool
	Video   bool

	TrickleDebounce time.Duration
}

// Handle is one plugin handle, publisher or subscriber. The behavior
// that differs per kind lives in its variant; everything else is shared.
// A handle is used once: after it closes it is discarded.
type Handle struct {
	env     *Env
	host    HandleHost
	media   core.MediaEngine
	variant *variant
	cfg     HandleConfig
	logger  zerolog.Logger

	id     domain.HandleID
	state  domain.HandleState
	room   *domain.Room
	roster *Roster
	calls  *CallSet
	tokens map[string]struct{}
	err    error

	pendingCompleted *worker.Delayed
}

func NewHandle(env *Env, host HandleHost, media core.MediaEngine, cfg HandleConfig) *Handle {
	if cfg.TrickleDebounce <= 0 {
		cfg.TrickleDebounce = DefaultTrickleDebounce
	}
	logger := log.With().Str("module", "app.handle").Str("kind", cfg.Kind.String())
	if cfg.Kind == domain.KindSubscriber {
		logger = logger.Str("feed", cfg.Feed.String())
	}
	return &Handle{
		env:     env,
		host:    host,
		media:   media,
		variant: variants[cfg.Kind],
		cfg:     cfg,
		logger:  logger.Logger(),
		roster:  NewRoster(),
		calls:   NewCallSet(),
		tokens:  make(map[string]struct{}),
	}
}

func (h *Handle) ID() domain.HandleID       { return h.id }
func (h *Handle) Kind() domain.HandleKind   { return h.cfg.Kind }
func (h *Handle) Feed() domain.PublisherID  { return h.cfg.Feed }
func (h *Handle) State() domain.HandleState { return h.state }
func (h *Handle) Room() *domain.Room        { return h.room }
func (h *Handle) Roster() *Roster           { return h.roster }
func (h *Handle) Config() HandleConfig      { return h.cfg }
func (h *Handle) Err() error                { return h.err }
func (h *Handle) String() string            { return fmt.Sprintf("%s(%d)", h.cfg.Kind, h.id) }

func (h *Handle) DTO() core.HandleDTO {
	return core.HandleDTO{
		ID:    h.id,
		Kind:  h.cfg.Kind.String(),
		State: h.state.String(),
		Feed:  h.cfg.Feed,
	}
}

// track derives a request context cancelled by either the client or this
// handle.
func (h *Handle) track() (context.Context, func()) {
	ctx, doneClient := h.env.Calls.Track(context.Background())
	ctx, doneHandle := h.calls.Track(ctx)
	return ctx, func() {
		doneHandle()
		doneClient()
	}
}

// register creates a token whose frames are routed back to this handle.
func (h *Handle) register() string {
	token := h.env.Registry.NewToken(h.OnReceived)
	h.tokens[token] = struct{}{}
	return token
}

func (h *Handle) unregister(token string) {
	h.env.Registry.Remove(token)
	delete(h.tokens, token)
}

// Attach asks the gateway for a plugin handle. The reply is reposted to the
// worker; on success the handle schedules its own Join.
func (h *Handle) Attach() {
	if h.state != domain.HandleUnattached {
		return
	}
	req := protocol.NewAttach(h.env.Registry.NewToken(nil), h.cfg.Session, h.env.Plugin)
	ctx, done := h.track()
	go func() {
		defer done()
		f, err := h.env.Gateway.Send(ctx, req)
		h.env.Queue.Post(func() { h.onAttached(f, err) })
	}()
}

func (h *Handle) onAttached(f *protocol.Frame, err error) {
	if h.state != domain.HandleUnattached {
		return
	}
	if err != nil {
		if h.env.cancelled(err) {
			h.logger.Debug().Err(err).Msg("attach cancelled")
			return
		}
		h.fail(core.TransportError("attach", err))
		return
	}
	id, err := f.ID()
	if err != nil {
		h.fail(core.ProtocolError("attach", err))
		return
	}
	h.id = domain.HandleID(id)
	h.room = domain.NewRoom(h.cfg.Session, h.id, h.cfg.Room)
	h.state = domain.HandleAttached
	h.logger = h.logger.With().Str("handle", h.id.String()).Logger()
	h.logger.Info().Msg("attached")

	h.host.OnHandleAttached(h)
	h.env.Queue.Post(h.Join)
}

// Join sends the kind-specific join request. The gateway only acks it;
// the confirmation arrives on the long poll.
func (h *Handle) Join() {
	if h.state != domain.HandleAttached {
		return
	}
	token := h.register()
	ctx, done := h.track()
	f, err := h.env.Gateway.Send(ctx, protocol.NewMessage(token, h.room, h.variant.joinBody(h), nil))
	done()
	if err != nil {
		h.unregister(token)
		if h.env.cancelled(err) {
			return
		}
		h.fail(core.TransportError("join", err))
		return
	}

	switch {
	case f.IsAck():
		h.state = domain.HandleJoined
		h.logger.Info().Str("txn", token).Msg("join acknowledged")
	case f.Janus == protocol.KindEvent:
		h.state = domain.HandleJoined
		h.unregister(token)
		h.OnReceived(token, f)
	case f.Janus == protocol.KindError && f.Error != nil:
		h.unregister(token)
		h.fail(core.ProtocolError("join", f.Error))
	default:
		h.unregister(token)
		h.fail(core.ProtocolError("join", fmt.Errorf("unexpected reply %q", f.Janus)))
	}
}

// Detach cancels outstanding calls and, if the gateway knows the handle,
// sends a best-effort detach. The handle ends up CLOSED unless it already
// finished.
func (h *Handle) Detach() {
	h.close(true)
}

func (h *Handle) close(notifyGateway bool) {
	if h.state.Terminal() {
		return
	}
	h.calls.Cancel()
	h.pendingCompleted.Cancel()
	h.pendingCompleted = nil
	for token := range h.tokens {
		h.unregister(token)
	}

	switch h.state {
	case domain.HandleAttached, domain.HandleJoined, domain.HandleConnected:
		if notifyGateway {
			ctx, cancel := h.env.teardownContext()
			_, err := h.env.Gateway.Send(ctx, protocol.NewDetach(h.env.Registry.NewToken(nil), h.cfg.Session, h.id))
			cancel()
			if err != nil {
				h.logger.Warn().Err(err).Msg("detach failed")
			}
		}
	}

	h.state = domain.HandleClosed
	h.room = nil
	h.logger.Info().Bool("sent", notifyGateway).Msg("detached")
	if h.variant.tracksRoster {
		h.checkPublishers(h.roster.Update(nil))
	}
	h.host.OnHandleClosed(h)
}

// fail runs the local cleanup for a transport or protocol error and
// reports it. Err is set before the handle closes.
func (h *Handle) fail(err error) {
	if h.state.Terminal() {
		h.logger.Debug().Err(err).Msg("error on finished handle")
		return
	}
	h.logger.Error().Err(err).Msg("handle failed")
	h.err = err
	if h.state == domain.HandleUnattached {
		h.calls.Cancel()
		h.state = domain.HandleError
	} else {
		h.Detach()
	}
	h.host.OnHandleError(h, err)
}

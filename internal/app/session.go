package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionHost is notified of session lifecycle results, on the worker.
type SessionHost interface {
	OnSessionReady(id domain.SessionID)
	OnSessionFailed(err error)
}

// SessionManager owns the server-assigned session id. All methods except
// Info's network call run on the worker.
type SessionManager struct {
	env    *Env
	host   SessionHost
	logger zerolog.Logger

	state   domain.SessionState
	id      domain.SessionID
	created time.Time
}

func NewSessionManager(env *Env, host SessionHost) *SessionManager {
	return &SessionManager{
		env:    env,
		host:   host,
		logger: log.With().Str("module", "app.session").Logger(),
	}
}

func (s *SessionManager) State() domain.SessionState { return s.state }
func (s *SessionManager) ID() domain.SessionID       { return s.id }
func (s *SessionManager) Created() time.Time         { return s.created }

// Info probes the gateway and reposts the result to the worker.
func (s *SessionManager) Info(done func(*protocol.ServerInfo, error)) {
	ctx, finish := s.env.Calls.Track(context.Background())
	go func() {
		defer finish()
		info, err := s.env.Gateway.Info(ctx)
		s.env.Queue.Post(func() { done(info, err) })
	}()
}

// Create asks the gateway for a new session. The reply is handled on the
// worker: success makes the session READY, anything else fails it.
func (s *SessionManager) Create() {
	if s.state != domain.SessionUninitialized {
		s.logger.Warn().Str("state", s.state.String()).Msg("create ignored")
		return
	}
	req := protocol.NewCreate(s.env.Registry.NewToken(nil))
	ctx, finish := s.env.Calls.Track(context.Background())
	go func() {
		defer finish()
		f, err := s.env.Gateway.Send(ctx, req)
		s.env.Queue.Post(func() { s.onCreated(f, err) })
	}()
}

func (s *SessionManager) onCreated(f *protocol.Frame, err error) {
	if s.state != domain.SessionUninitialized {
		return
	}
	if err != nil {
		if s.env.cancelled(err) {
			s.logger.Debug().Err(err).Msg("create cancelled")
			return
		}
		s.Fail(core.TransportError("create session", err))
		return
	}
	id, err := f.ID()
	if err != nil {
		s.Fail(core.ProtocolError("create session", err))
		return
	}
	s.id = domain.SessionID(id)
	s.state = domain.SessionReady
	s.created = time.Now()
	s.logger.Info().Uint64("session", id).Msg("session ready")
	s.host.OnSessionReady(s.id)
}

// Fail moves the session to ERROR and reports err. ERROR is sticky: once
// there, further failures are only logged.
func (s *SessionManager) Fail(err error) {
	if s.state == domain.SessionError {
		s.logger.Warn().Err(err).Msg("session already failed")
		return
	}
	if s.state == domain.SessionClosed {
		s.logger.Debug().Err(err).Msg("error after close")
		return
	}
	s.state = domain.SessionError
	s.logger.Error().Err(err).Msg("session failed")
	s.host.OnSessionFailed(err)
}

// Destroy sends a best-effort destroy when an id exists. The session ends
// up CLOSED without an id; calling it again is a no-op.
func (s *SessionManager) Destroy() {
	if s.state == domain.SessionClosed {
		return
	}
	if s.id != 0 {
		ctx, cancel := s.env.teardownContext()
		_, err := s.env.Gateway.Send(ctx, protocol.NewDestroy(s.env.Registry.NewToken(nil), s.id))
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("session", s.id.String()).Msg("destroy failed")
		} else {
			s.logger.Info().Str("session", s.id.String()).Msg("session destroyed")
		}
	}
	s.id = 0
	s.state = domain.SessionClosed
}

func (s *SessionManager) String() string {
	return fmt.Sprintf("session(%d, %s)", s.id, s.state)
}

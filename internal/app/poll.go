package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PollHost resolves sender ids and receives poll failures, on the worker.
type PollHost interface {
	LookupHandle(id domain.HandleID) (*Handle, bool)
	// OnPollFailed reports a failure that ends the session.
	OnPollFailed(err error)
	// OnFrameError reports a frame that could not be used.
	OnFrameError(err error)
}

type PollConfig struct {
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxRetries:     3,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}

// PollLoop keeps exactly one long poll outstanding while the session is
// alive and routes every received frame.
type PollLoop struct {
	env     *Env
	session *SessionManager
	host    PollHost
	cfg     PollConfig
	logger  zerolog.Logger

	outstanding bool
	stopped     bool
	issued      int
}

func NewPollLoop(env *Env, session *SessionManager, host PollHost, cfg PollConfig) *PollLoop {
	return &PollLoop{
		env:     env,
		session: session,
		host:    host,
		cfg:     cfg,
		logger:  log.With().Str("module", "app.poll").Logger(),
	}
}

func (p *PollLoop) Start() { p.issue() }

func (p *PollLoop) Outstanding() bool { return p.outstanding }
func (p *PollLoop) Stopped() bool     { return p.stopped }
func (p *PollLoop) Issued() int       { return p.issued }

func (p *PollLoop) finished() bool {
	return p.session.State().Terminal() || p.env.closing()
}

func (p *PollLoop) issue() {
	if p.outstanding || p.stopped {
		return
	}
	if p.finished() {
		p.stop()
		return
	}
	p.outstanding = true
	p.issued++

	session := p.session.ID()
	ctx, done := p.env.Calls.Track(context.Background())
	go func() {
		defer done()
		raw, err := backoff.Retry(ctx, func() ([]byte, error) {
			raw, err := p.env.Gateway.Poll(ctx, session)
			if err != nil && ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return raw, err
		},
			backoff.WithBackOff(p.backOff()),
			backoff.WithMaxTries(uint(max(p.cfg.MaxRetries, 0))+1),
			backoff.WithNotify(func(err error, d time.Duration) {
				p.logger.Warn().Err(err).Dur("retry_in", d).Msg("poll failed, retrying")
			}),
		)
		p.env.Queue.Post(func() { p.onCompleted(raw, err) })
	}()
}

func (p *PollLoop) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.cfg.BackoffInitial > 0 {
		b.InitialInterval = p.cfg.BackoffInitial
	}
	if p.cfg.BackoffMax > 0 {
		b.MaxInterval = p.cfg.BackoffMax
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

func (p *PollLoop) onCompleted(raw []byte, err error) {
	p.outstanding = false
	if p.finished() {
		p.stop()
		return
	}
	if err != nil {
		p.stop()
		if p.env.cancelled(err) {
			return
		}
		p.host.OnPollFailed(core.TransportError("long poll", err))
		return
	}

	f, err := protocol.DecodeFrame(raw)
	if err != nil {
		p.host.OnFrameError(core.ProtocolError("long poll", err))
	} else {
		p.dispatch(f)
	}
	p.issue()
}

func (p *PollLoop) stop() {
	if p.stopped {
		return
	}
	p.stopped = true
	p.logger.Info().Int("issued", p.issued).Msg("long poll stopped")
}

// dispatch routes f by transaction token, then by sender, then by kind.
func (p *PollLoop) dispatch(f *protocol.Frame) {
	if p.env.Registry.Dispatch(f.Transaction, f) {
		if !f.IsAck() {
			p.env.Registry.Remove(f.Transaction)
		}
		return
	}
	if f.Sender != 0 {
		if h, ok := p.host.LookupHandle(f.Sender); ok {
			h.OnReceived(f.Transaction, f)
			return
		}
		p.logger.Warn().Str("sender", f.Sender.String()).Str("janus", f.Janus).Msg("frame for unknown handle")
		return
	}

	switch f.Janus {
	case protocol.KindAck, protocol.KindKeepAlive:
	case protocol.KindError:
		var err error = &protocol.GatewayError{Reason: "error frame without details"}
		if f.Error != nil {
			err = f.Error
		}
		if protocol.IsGatewayError(err, protocol.CodeSessionNotFound) {
			p.host.OnPollFailed(core.ProtocolError("long poll", err))
			return
		}
		p.host.OnFrameError(core.ProtocolError("long poll", err))
	case protocol.KindTimeout:
		p.host.OnPollFailed(core.ProtocolError("long poll", &protocol.GatewayError{Reason: "session timed out"}))
	default:
		p.logger.Debug().Str("janus", f.Janus).Str("txn", f.Transaction).Msg("unrouted frame")
	}
}

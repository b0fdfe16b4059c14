package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/roomlink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrPeerClosed = errors.New("peer closed")

func DefaultWebRTCConfig(servers []webrtc.ICEServer) webrtc.Configuration {
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}
	return webrtc.Configuration{ICEServers: servers}
}

// Peer wraps one PeerConnection: our publisher (feed domain.LocalFeed) or
// a subscription to a remote feed. Remote candidates that arrive before
// the remote description are held until it is set.
type Peer struct {
	feed   domain.PublisherID
	pc     *webrtc.PeerConnection
	logger zerolog.Logger
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	closed  bool

	onICE    func(*webrtc.ICECandidateInit)
	onTrack  func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
}

func NewPeer(cfg webrtc.Configuration, feed domain.PublisherID) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &Peer{
		feed:   feed,
		pc:     pc,
		logger: log.With().Str("module", "webrtc").Str("feed", feed.String()).Logger(),
	}, nil
}

// Start wires the PeerConnection callbacks and binds the peer lifetime to ctx.
func (p *Peer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if p.onClosed != nil {
				p.onClosed()
			}
		}
	})

	// A nil candidate marks the end of gathering and is forwarded as such.
	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if p.onICE == nil {
			return
		}
		if cand == nil {
			p.onICE(nil)
			return
		}
		ci := cand.ToJSON()
		p.onICE(&ci)
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if p.onTrack != nil {
			p.onTrack(ctx, track, receiver)
		}
	})

	return nil
}

// CreateAndSetOffer produces the local offer without waiting for
// gathering; candidates are trickled.
func (p *Peer) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return p.pc.LocalDescription(), nil
}

func (p *Peer) ApplyAnswer(answer webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	p.flushPending()
	return nil
}

func (p *Peer) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	p.flushPending()
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return p.pc.LocalDescription(), nil
}

// AddICECandidate applies a remote candidate, or holds it until the remote
// description is known.
func (p *Peer) AddICECandidate(ci webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, ci)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.pc.AddICECandidate(ci)
}

func (p *Peer) flushPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, ci := range pending {
		if err := p.pc.AddICECandidate(ci); err != nil {
			p.logger.Warn().Err(err).Msg("add held candidate")
		}
	}
}

// AddLocalTrack attaches a local static RTP track to the PeerConnection.
func (p *Peer) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidateInit)) { p.onICE = fn }

// OnTrack sets application-level callback for remote tracks.
func (p *Peer) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	p.onTrack = fn
}

// OnClosed sets application-level callback for cleanup.
func (p *Peer) OnClosed(fn func()) { p.onClosed = fn }

func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if err := p.pc.Close(); err != nil {
		p.logger.Error().Err(err).Msg("close error")
	} else {
		p.logger.Info().Msg("closed")
	}
}

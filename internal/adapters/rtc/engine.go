// Package rtc is the pion-based media engine: one PeerConnection for our
// publisher and one per subscribed remote feed.
package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Signaler is the client side the engine sends its SDP and candidates to.
type Signaler interface {
	SendOfferSdp(ctx context.Context, sdp string) error
	SendLocalIceCandidate(ctx context.Context, c *webrtc.ICECandidateInit) error
	SendSubscriberAnswer(ctx context.Context, feed domain.PublisherID, sdp string) error
	SendSubscriberIceCandidate(ctx context.Context, feed domain.PublisherID, c *webrtc.ICECandidateInit) error
}

type Config struct {
	ICEServers []webrtc.ICEServer
	// SignalTimeout bounds each call into the Signaler.
	SignalTimeout time.Duration
}

// Engine implements core.MediaEngine. Callbacks from the client return
// immediately; PeerConnection work runs on engine goroutines.
type Engine struct {
	cfg    Config
	ctx    context.Context
	logger zerolog.Logger

	mu       sync.Mutex
	signaler Signaler
	peers    map[domain.PublisherID]*Peer
	sinks    map[domain.PublisherID][]*TrackSink
	events   map[string]int
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(ctx context.Context, cfg Config) *Engine {
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 5 * time.Second
	}
	return &Engine{
		cfg:    cfg,
		ctx:    ctx,
		logger: log.With().Str("module", "webrtc").Logger(),
		peers:  make(map[domain.PublisherID]*Peer),
		sinks:  make(map[domain.PublisherID][]*TrackSink),
		events: make(map[string]int),
	}
}

// Bind sets the signaler; it must be called before the client connects.
func (e *Engine) Bind(s Signaler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signaler = s
}

func (e *Engine) sig() Signaler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaler
}

func (e *Engine) peer(feed domain.PublisherID) (*Peer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.peers[feed]
	return p, ok
}

func (e *Engine) signal(op string, fn func(ctx context.Context, s Signaler) error) {
	s := e.sig()
	if s == nil {
		e.logger.Warn().Str("op", op).Msg("no signaler bound")
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.SignalTimeout)
	defer cancel()
	if err := fn(ctx, s); err != nil {
		e.logger.Warn().Err(err).Str("op", op).Msg("signal failed")
	}
}

// OnConnected creates the publisher PeerConnection and sends its offer.
func (e *Engine) OnConnected(params core.SignalingParams) {
	go func() {
		if err := e.publish(params); err != nil {
			e.logger.Error().Err(err).Msg("publish")
		}
	}()
}

func (e *Engine) publish(params core.SignalingParams) error {
	servers := params.ICEServers
	if len(servers) == 0 {
		servers = e.cfg.ICEServers
	}
	p, err := e.newPeer(domain.LocalFeed, servers)
	if err != nil {
		return err
	}
	p.OnICECandidate(func(ci *webrtc.ICECandidateInit) {
		e.signal("publisher candidate", func(ctx context.Context, s Signaler) error {
			return s.SendLocalIceCandidate(ctx, ci)
		})
	})
	if err := p.Start(e.ctx); err != nil {
		p.Close()
		return err
	}

	stream := fmt.Sprintf("roomlink-%d", params.Publisher)
	if params.Audio {
		if err := addTrack(p, webrtc.MimeTypeOpus, "audio", stream); err != nil {
			p.Close()
			return err
		}
	}
	if params.Video {
		if err := addTrack(p, webrtc.MimeTypeVP8, "video", stream); err != nil {
			p.Close()
			return err
		}
	}

	offer, err := p.CreateAndSetOffer()
	if err != nil {
		p.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	e.logger.Info().Str("publisher", params.Publisher.String()).Str("room", params.Room.String()).Msg("publishing")
	e.signal("publisher offer", func(ctx context.Context, s Signaler) error {
		return s.SendOfferSdp(ctx, offer.SDP)
	})
	return nil
}

func addTrack(p *Peer, mime, id, stream string) error {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, id, stream)
	if err != nil {
		return fmt.Errorf("new %s track: %w", id, err)
	}
	if _, err := p.AddLocalTrack(track); err != nil {
		return fmt.Errorf("add %s track: %w", id, err)
	}
	return nil
}

func (e *Engine) newPeer(feed domain.PublisherID, servers []webrtc.ICEServer) (*Peer, error) {
	p, err := NewPeer(DefaultWebRTCConfig(servers), feed)
	if err != nil {
		return nil, fmt.Errorf("new peer %s: %w", feed, err)
	}
	p.OnClosed(func() { e.drop(feed, p) })

	e.mu.Lock()
	old, ok := e.peers[feed]
	e.peers[feed] = p
	e.mu.Unlock()
	if ok {
		old.Close()
	}
	return p, nil
}

func (e *Engine) drop(feed domain.PublisherID, p *Peer) {
	e.mu.Lock()
	if e.peers[feed] == p {
		delete(e.peers, feed)
	}
	e.mu.Unlock()
}

// OnRemoteDescription applies the answer to our offer, or answers a
// subscriber offer.
func (e *Engine) OnRemoteDescription(feed domain.PublisherID, desc webrtc.SessionDescription) {
	go func() {
		var err error
		if feed == domain.LocalFeed {
			err = e.applyAnswer(desc)
		} else {
			err = e.subscribe(feed, desc)
		}
		if err != nil {
			e.logger.Error().Err(err).Str("feed", feed.String()).Str("type", desc.Type.String()).Msg("remote description")
		}
	}()
}

func (e *Engine) applyAnswer(desc webrtc.SessionDescription) error {
	p, ok := e.peer(domain.LocalFeed)
	if !ok {
		return fmt.Errorf("no publisher peer")
	}
	return p.ApplyAnswer(desc)
}

func (e *Engine) subscribe(feed domain.PublisherID, offer webrtc.SessionDescription) error {
	p, err := e.newPeer(feed, e.cfg.ICEServers)
	if err != nil {
		return err
	}
	p.OnICECandidate(func(ci *webrtc.ICECandidateInit) {
		e.signal("subscriber candidate", func(ctx context.Context, s Signaler) error {
			return s.SendSubscriberIceCandidate(ctx, feed, ci)
		})
	})
	p.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		sink := NewTrackSink(track.Kind().String())
		e.mu.Lock()
		e.sinks[feed] = append(e.sinks[feed], sink)
		e.mu.Unlock()
		logger := e.logger.With().Str("feed", feed.String()).Str("kind", track.Kind().String()).Logger()
		go sink.run(ctx, track, &logger)
	})
	if err := p.Start(e.ctx); err != nil {
		p.Close()
		return err
	}
	answer, err := p.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		p.Close()
		return fmt.Errorf("answer feed %s: %w", feed, err)
	}
	e.signal("subscriber answer", func(ctx context.Context, s Signaler) error {
		return s.SendSubscriberAnswer(ctx, feed, answer.SDP)
	})
	return nil
}

func (e *Engine) OnRemoteCandidate(feed domain.PublisherID, c webrtc.ICECandidateInit) {
	go func() {
		p, ok := e.peer(feed)
		if !ok {
			e.logger.Debug().Str("feed", feed.String()).Msg("candidate for unknown peer")
			return
		}
		if err := p.AddICECandidate(c); err != nil {
			e.logger.Warn().Err(err).Str("feed", feed.String()).Msg("add ice candidate")
		}
	}()
}

func (e *Engine) OnMediaEvent(feed domain.PublisherID, ev core.MediaEvent) {
	e.mu.Lock()
	e.events[ev.Kind]++
	e.mu.Unlock()
	e.logger.Info().
		Str("feed", feed.String()).
		Str("event", ev.Kind).
		Str("type", ev.Type).
		Bool("receiving", ev.Receiving).
		Bool("uplink", ev.Uplink).
		Int("lost", ev.Lost).
		Str("reason", ev.Reason).
		Msg("media event")
}

func (e *Engine) OnPeerClosed(feed domain.PublisherID) {
	e.mu.Lock()
	p, ok := e.peers[feed]
	delete(e.peers, feed)
	sinks := e.sinks[feed]
	delete(e.sinks, feed)
	e.mu.Unlock()
	for _, s := range sinks {
		s.MarkStopped()
	}
	if ok {
		go p.Close()
	}
}

// Stats reports per-feed sink statistics and media event counts.
func (e *Engine) Stats() (map[domain.PublisherID][]SinkStats, map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sinks := make(map[domain.PublisherID][]SinkStats, len(e.sinks))
	for feed, list := range e.sinks {
		for _, s := range list {
			sinks[feed] = append(sinks[feed], s.Stats())
		}
	}
	events := make(map[string]int, len(e.events))
	for k, v := range e.events {
		events[k] = v
	}
	return sinks, events
}

// Close tears down every peer.
func (e *Engine) Close() {
	e.mu.Lock()
	peers := e.peers
	e.peers = make(map[domain.PublisherID]*Peer)
	e.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
}

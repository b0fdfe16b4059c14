package rtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

func TestTrackSinkCountsOnlyWhenOk(t *testing.T) {
	s := NewTrackSink("audio")
	s.Consume(&rtp.Packet{Header: rtp.Header{SequenceNumber: 7, SSRC: 42}, Payload: make([]byte, 10)})
	s.MarkMuted()
	s.Consume(&rtp.Packet{Header: rtp.Header{SequenceNumber: 8, SSRC: 42}, Payload: make([]byte, 10)})

	st := s.Stats()
	if st.Packets != 1 || st.Bytes != 10 || st.LastSeq != 7 || st.SSRC != 42 {
		t.Fatalf("stats = %+v", st)
	}
	if st.State != "muted" {
		t.Fatalf("state = %q, want muted", st.State)
	}
}

func TestPeerHoldsEarlyCandidates(t *testing.T) {
	p, err := NewPeer(webrtc.Configuration{}, 7)
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	defer p.Close()

	mid := "0"
	idx := uint16(0)
	ci := webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 2130706431 192.0.2.1 5000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := p.AddICECandidate(ci); err != nil {
		t.Fatalf("AddICECandidate before remote description: %v", err)
	}
	p.mu.Lock()
	held := len(p.pending)
	p.mu.Unlock()
	if held != 1 {
		t.Fatalf("held %d candidates, want 1", held)
	}

	p.Close()
	if err := p.AddICECandidate(ci); err != ErrPeerClosed {
		t.Fatalf("err = %v, want ErrPeerClosed", err)
	}
}

type fakeSignaler struct {
	offers chan string
}

func (f *fakeSignaler) SendOfferSdp(_ context.Context, sdp string) error {
	f.offers <- sdp
	return nil
}

func (f *fakeSignaler) SendLocalIceCandidate(context.Context, *webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeSignaler) SendSubscriberAnswer(context.Context, domain.PublisherID, string) error {
	return nil
}

func (f *fakeSignaler) SendSubscriberIceCandidate(context.Context, domain.PublisherID, *webrtc.ICECandidateInit) error {
	return nil
}

func TestEnginePublishSendsOffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewEngine(ctx, Config{ICEServers: []webrtc.ICEServer{}})
	defer e.Close()
	sig := &fakeSignaler{offers: make(chan string, 1)}
	e.Bind(sig)

	e.OnConnected(core.SignalingParams{Session: 1000, Room: 1234, Publisher: 42, Audio: true, Video: true})

	select {
	case sdp := <-sig.offers:
		if !strings.Contains(sdp, "m=audio") || !strings.Contains(sdp, "m=video") {
			t.Fatalf("offer lacks media sections:\n%s", sdp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no offer sent")
	}
	if _, ok := e.peer(domain.LocalFeed); !ok {
		t.Fatal("publisher peer not registered")
	}

	e.OnPeerClosed(domain.LocalFeed)
	if _, ok := e.peer(domain.LocalFeed); ok {
		t.Fatal("publisher peer still registered after close")
	}
}

func TestEngineCountsMediaEvents(t *testing.T) {
	e := NewEngine(context.Background(), Config{})
	e.OnMediaEvent(domain.LocalFeed, core.MediaEvent{Kind: "webrtcup"})
	e.OnMediaEvent(7, core.MediaEvent{Kind: "media", Type: "audio", Receiving: true})
	e.OnMediaEvent(7, core.MediaEvent{Kind: "media", Type: "video", Receiving: true})

	_, events := e.Stats()
	if events["webrtcup"] != 1 || events["media"] != 2 {
		t.Fatalf("events = %v", events)
	}
}

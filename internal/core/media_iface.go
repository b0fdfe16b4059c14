package core

import (
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/pion/webrtc/v4"
)

// SignalingParams are handed to the media engine once the publisher has joined.
type SignalingParams struct {
	Session    domain.SessionID
	Room       domain.RoomNumber
	Publisher  domain.PublisherID
	ICEServers []webrtc.ICEServer
	Audio      bool
	Video      bool
}

// MediaEvent is a gateway notification about a peer's media path.
type MediaEvent struct {
	Kind      string // media, webrtcup, slowlink, hangup
	Type      string // audio or video, for media events
	Receiving bool
	Uplink    bool
	Lost      int
	Reason    string
}

// MediaEngine produces and consumes SDP and ICE for the client. Every
// method is keyed by feed: domain.LocalFeed for our own publisher, the
// remote publisher id for a subscriber.
//
// Calls are made from the client's worker goroutine; implementations must
// not block on the client.
type MediaEngine interface {
	OnConnected(SignalingParams)
	OnRemoteDescription(feed domain.PublisherID, desc webrtc.SessionDescription)
	OnRemoteCandidate(feed domain.PublisherID, c webrtc.ICECandidateInit)
	OnMediaEvent(feed domain.PublisherID, ev MediaEvent)
	OnPeerClosed(feed domain.PublisherID)
}

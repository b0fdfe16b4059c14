package protocol

import (
	"github.com/dkeye/roomlink/internal/domain"
)

// Message kinds carried in the "janus" field.
const (
	KindCreate     = "create"
	KindAttach     = "attach"
	KindMessage    = "message"
	KindTrickle    = "trickle"
	KindDetach     = "detach"
	KindDestroy    = "destroy"
	KindHangup     = "hangup"
	KindKeepAlive  = "keepalive"
	KindSuccess    = "success"
	KindAck        = "ack"
	KindError      = "error"
	KindEvent      = "event"
	KindMedia      = "media"
	KindWebRTCUp   = "webrtcup"
	KindSlowLink   = "slowlink"
	KindDetached   = "detached"
	KindTimeout    = "timeout"
	KindServerInfo = "server_info"
)

const PluginVideoRoom = "janus.plugin.videoroom"

const (
	PTypePublisher  = "publisher"
	PTypeSubscriber = "subscriber"
)

// Request is the envelope of every client to gateway message.
type Request struct {
	Janus       string           `json:"janus"`
	Transaction string           `json:"transaction"`
	SessionID   domain.SessionID `json:"session_id,omitempty"`
	HandleID    domain.HandleID  `json:"handle_id,omitempty"`
	Plugin      string           `json:"plugin,omitempty"`
	Body        any              `json:"body,omitempty"`
	JSEP        *JSEP            `json:"jsep,omitempty"`
	Candidate   *Candidate       `json:"candidate,omitempty"`
}

func NewCreate(txn string) *Request {
	return &Request{Janus: KindCreate, Transaction: txn}
}

func NewAttach(txn string, session domain.SessionID, plugin string) *Request {
	return &Request{Janus: KindAttach, Transaction: txn, SessionID: session, Plugin: plugin}
}

func NewDestroy(txn string, session domain.SessionID) *Request {
	return &Request{Janus: KindDestroy, Transaction: txn, SessionID: session}
}

func NewMessage(txn string, room *domain.Room, body any, jsep *JSEP) *Request {
	return &Request{
		Janus:       KindMessage,
		Transaction: txn,
		SessionID:   room.SessionID,
		HandleID:    room.HandleID,
		Body:        body,
		JSEP:        jsep,
	}
}

func NewTrickle(txn string, room *domain.Room, c *Candidate) *Request {
	return &Request{
		Janus:       KindTrickle,
		Transaction: txn,
		SessionID:   room.SessionID,
		HandleID:    room.HandleID,
		Candidate:   c,
	}
}

func NewTrickleCompleted(txn string, room *domain.Room) *Request {
	return NewTrickle(txn, room, &Candidate{Completed: true})
}

func NewDetach(txn string, session domain.SessionID, handle domain.HandleID) *Request {
	return &Request{Janus: KindDetach, Transaction: txn, SessionID: session, HandleID: handle}
}

// Videoroom request bodies.

type JoinBody struct {
	Request   string             `json:"request"`
	Room      domain.RoomNumber  `json:"room"`
	PType     string             `json:"ptype"`
	Display   string             `json:"display,omitempty"`
	Feed      domain.PublisherID `json:"feed,omitempty"`
	PrivateID uint64             `json:"private_id,omitempty"`
}

type ConfigureBody struct {
	Request string `json:"request"`
	Audio   bool   `json:"audio"`
	Video   bool   `json:"video"`
}

type StartBody struct {
	Request string            `json:"request"`
	Room    domain.RoomNumber `json:"room"`
}

func NewConfigure(audio, video bool) ConfigureBody {
	return ConfigureBody{Request: "configure", Audio: audio, Video: video}
}

func NewStart(room domain.RoomNumber) StartBody {
	return StartBody{Request: "start", Room: room}
}

// Candidate is a trickled ICE candidate, or the end-of-candidates marker
// when Completed is set.
type Candidate struct {
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	Completed     bool    `json:"completed,omitempty"`
}

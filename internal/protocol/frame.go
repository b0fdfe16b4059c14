package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dkeye/roomlink/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Frame is any gateway to client message: an immediate reply or a long-poll
// event.
type Frame struct {
	Janus       string           `json:"janus"`
	Transaction string           `json:"transaction,omitempty"`
	SessionID   domain.SessionID `json:"session_id,omitempty"`
	Sender      domain.HandleID  `json:"sender,omitempty"`
	Data        *SuccessData     `json:"data,omitempty"`
	PluginData  *PluginData      `json:"plugindata,omitempty"`
	JSEP        *JSEP            `json:"jsep,omitempty"`
	Candidate   *Candidate       `json:"candidate,omitempty"`
	Error       *GatewayError    `json:"error,omitempty"`

	// hangup / media / slowlink details
	Reason    string `json:"reason,omitempty"`
	Type      string `json:"type,omitempty"`
	Receiving bool   `json:"receiving,omitempty"`
	Uplink    bool   `json:"uplink,omitempty"`
	Lost      int    `json:"lost,omitempty"`
}

type SuccessData struct {
	ID uint64 `json:"id"`
}

type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Janus == "" {
		return nil, fmt.Errorf("decode frame: missing message kind")
	}
	return &f, nil
}

// IsAck reports whether the frame is an immediate acknowledgment without payload.
func (f *Frame) IsAck() bool {
	return f.Janus == KindAck || f.Janus == KindKeepAlive
}

// ID returns the id carried by a success reply.
func (f *Frame) ID() (uint64, error) {
	if f.Janus != KindSuccess {
		if f.Error != nil {
			return 0, f.Error
		}
		return 0, fmt.Errorf("unexpected reply %q", f.Janus)
	}
	if f.Data == nil || f.Data.ID == 0 {
		return 0, fmt.Errorf("success reply without id")
	}
	return f.Data.ID, nil
}

// RoomEvent parses the plugin payload of an event frame.
func (f *Frame) RoomEvent() (*RoomEvent, error) {
	if f.PluginData == nil || len(f.PluginData.Data) == 0 {
		return nil, fmt.Errorf("event without plugindata")
	}
	var ev RoomEvent
	if err := json.Unmarshal(f.PluginData.Data, &ev); err != nil {
		return nil, fmt.Errorf("decode plugin data: %w", err)
	}
	return &ev, nil
}

// ICECandidate converts a trickled candidate; ok is false for the completed marker.
func (c *Candidate) ICECandidate() (webrtc.ICECandidateInit, bool) {
	if c == nil || c.Completed {
		return webrtc.ICECandidateInit{}, false
	}
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}, true
}

func CandidateFrom(ci webrtc.ICECandidateInit) *Candidate {
	return &Candidate{
		SDPMLineIndex: ci.SDPMLineIndex,
		SDPMid:        ci.SDPMid,
		Candidate:     ci.Candidate,
	}
}

// Videoroom event kinds (the "videoroom" field of the plugin data).
const (
	EventJoined    = "joined"
	EventAttached  = "attached"
	EventEvent     = "event"
	EventDestroyed = "destroyed"
)

type RoomEvent struct {
	VideoRoom   string                 `json:"videoroom"`
	Room        domain.RoomNumber      `json:"room,omitempty"`
	Description string                 `json:"description,omitempty"`
	ID          domain.PublisherID     `json:"id,omitempty"`
	PrivateID   uint64                 `json:"private_id,omitempty"`
	Display     string                 `json:"display,omitempty"`
	Publishers  []domain.PublisherInfo `json:"publishers,omitempty"`
	Configured  string                 `json:"configured,omitempty"`
	Started     string                 `json:"started,omitempty"`
	Unpublished json.RawMessage        `json:"unpublished,omitempty"`
	Leaving     json.RawMessage        `json:"leaving,omitempty"`
	ErrorCode   int                    `json:"error_code,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// HasPublishers distinguishes an absent publisher list from an empty one.
func (e *RoomEvent) HasPublishers() bool {
	return e.Publishers != nil
}

// Departed returns the publisher named by "unpublished" or "leaving".
// Both fields carry "ok" instead of an id when they refer to ourselves.
func (e *RoomEvent) Departed() (domain.PublisherID, bool) {
	for _, raw := range []json.RawMessage{e.Unpublished, e.Leaving} {
		if len(raw) == 0 {
			continue
		}
		if id, err := strconv.ParseUint(string(raw), 10, 64); err == nil && id != 0 {
			return domain.PublisherID(id), true
		}
	}
	return 0, false
}

// Err returns the plugin-level error, if the event carries one.
func (e *RoomEvent) Err() error {
	if e.ErrorCode == 0 && e.Error == "" {
		return nil
	}
	return &GatewayError{Code: e.ErrorCode, Reason: e.Error}
}

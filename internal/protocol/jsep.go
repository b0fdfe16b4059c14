package protocol

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

type JSEP struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	Trickle *bool  `json:"trickle,omitempty"`
}

func NewJSEP(desc webrtc.SessionDescription) *JSEP {
	return &JSEP{Type: desc.Type.String(), SDP: desc.SDP}
}

// SessionDescription validates the payload and converts it for the media engine.
func (j *JSEP) SessionDescription() (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(j.Type)
	if t != webrtc.SDPTypeOffer && t != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("jsep: unsupported type %q", j.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(j.SDP)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("jsep: malformed %s sdp: %w", j.Type, err)
	}
	return webrtc.SessionDescription{Type: t, SDP: j.SDP}, nil
}

// Summarize lists the media sections of an SDP for logging, e.g. "audio,video".
func Summarize(raw string) string {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return "invalid"
	}
	kinds := make([]string, 0, len(parsed.MediaDescriptions))
	for _, md := range parsed.MediaDescriptions {
		kinds = append(kinds, md.MediaName.Media)
	}
	return strings.Join(kinds, ",")
}

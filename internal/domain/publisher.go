package domain

// PublisherInfo describes one remote publisher in a room.
// Identity is ID alone; the remaining fields are informational.
type PublisherInfo struct {
	ID         PublisherID `json:"id"`
	Display    string      `json:"display,omitempty"`
	AudioCodec string      `json:"audio_codec,omitempty"`
	VideoCodec string      `json:"video_codec,omitempty"`
	Talking    bool        `json:"talking,omitempty"`
}

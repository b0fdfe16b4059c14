package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type SinkState int32

const (
	SinkStateOk SinkState = iota
	SinkStateMuted
	SinkStateStopped
)

func (s SinkState) String() string {
	switch s {
	case SinkStateOk:
		return "ok"
	case SinkStateMuted:
		return "muted"
	case SinkStateStopped:
		return "stopped"
	}
	return "unknown"
}

// SinkStats is a snapshot of what a sink has received.
type SinkStats struct {
	Kind    string `json:"kind"`
	State   string `json:"state"`
	Packets int64  `json:"packets"`
	Bytes   int64  `json:"bytes"`
	LastSeq uint16 `json:"last_seq"`
	SSRC    uint32 `json:"ssrc"`
}

// TrackSink drains one remote track. Muted sinks keep reading but stop
// counting; stopped sinks have returned.
type TrackSink struct {
	kind    string
	state   atomic.Int32
	packets atomic.Int64
	bytes   atomic.Int64
	lastSeq atomic.Uint32
	ssrc    atomic.Uint32
}

func NewTrackSink(kind string) *TrackSink {
	return &TrackSink{kind: kind}
}

func (s *TrackSink) State() SinkState { return SinkState(s.state.Load()) }
func (s *TrackSink) MarkOk()          { s.state.Store(int32(SinkStateOk)) }
func (s *TrackSink) MarkMuted()       { s.state.Store(int32(SinkStateMuted)) }
func (s *TrackSink) MarkStopped()     { s.state.Store(int32(SinkStateStopped)) }

func (s *TrackSink) Stats() SinkStats {
	return SinkStats{
		Kind:    s.kind,
		State:   s.State().String(),
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		LastSeq: uint16(s.lastSeq.Load()),
		SSRC:    s.ssrc.Load(),
	}
}

// Consume accounts for one packet.
func (s *TrackSink) Consume(pkt *rtp.Packet) {
	if s.State() != SinkStateOk {
		return
	}
	s.packets.Add(1)
	s.bytes.Add(int64(len(pkt.Payload)))
	s.lastSeq.Store(uint32(pkt.SequenceNumber))
	s.ssrc.Store(pkt.SSRC)
}

// run reads RTP packets from the track until ctx ends or the track fails.
func (s *TrackSink) run(ctx context.Context, track *webrtc.TrackRemote, logger *zerolog.Logger) {
	defer s.MarkStopped()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("sink read RTP stopped")
			return
		}
		s.Consume(pkt)
	}
}

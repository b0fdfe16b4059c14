package app

import (
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

// OnReceived interprets a frame addressed to this handle, either by
// transaction token or by sender id. It runs on the worker.
func (h *Handle) OnReceived(token string, f *protocol.Frame) bool {
	// The registry drops a token once it resolves to a non-ack frame.
	if _, ok := h.tokens[token]; ok && !f.IsAck() {
		delete(h.tokens, token)
	}
	if h.state.Terminal() {
		h.logger.Debug().Str("janus", f.Janus).Msg("frame for finished handle dropped")
		return true
	}
	switch f.Janus {
	case protocol.KindAck, protocol.KindKeepAlive:
		return true
	case protocol.KindEvent:
		h.onEvent(f)
		return true
	case protocol.KindTrickle:
		h.onRemoteTrickle(f)
		return true
	case protocol.KindMedia, protocol.KindWebRTCUp, protocol.KindSlowLink:
		h.media.OnMediaEvent(h.cfg.Feed, mediaEvent(f))
		return true
	case protocol.KindHangup:
		h.logger.Info().Str("reason", f.Reason).Msg("hangup")
		h.media.OnMediaEvent(h.cfg.Feed, mediaEvent(f))
		h.Detach()
		return true
	case protocol.KindDetached:
		h.close(false)
		return true
	case protocol.KindError:
		var err error = &protocol.GatewayError{Reason: "error frame without details"}
		if f.Error != nil {
			err = f.Error
		}
		h.fail(core.ProtocolError("gateway event", err))
		return true
	}
	h.logger.Warn().Str("janus", f.Janus).Str("txn", token).Msg("unhandled frame")
	return false
}

func (h *Handle) onEvent(f *protocol.Frame) {
	ev, err := f.RoomEvent()
	if err != nil {
		h.fail(core.ProtocolError("plugin event", err))
		return
	}
	if err := ev.Err(); err != nil {
		h.fail(core.ProtocolError("videoroom "+ev.VideoRoom, err))
		return
	}

	switch ev.VideoRoom {
	case h.variant.confirm:
		h.variant.onConfirm(h, f, ev)
	case protocol.EventEvent:
		h.onRoomEvent(f, ev)
	case protocol.EventDestroyed:
		h.logger.Warn().Str("room", ev.Room.String()).Msg("room destroyed")
		h.Detach()
	default:
		h.logger.Debug().Str("videoroom", ev.VideoRoom).Msg("ignored plugin event")
	}
}

// onRoomEvent handles generic videoroom events: negotiation replies and
// incremental roster changes.
func (h *Handle) onRoomEvent(f *protocol.Frame, ev *protocol.RoomEvent) {
	if f.JSEP != nil {
		h.onRemoteJSEP(f.JSEP)
	}
	if ev.Configured != "" {
		h.logger.Debug().Str("configured", ev.Configured).Msg("configured")
	}
	if ev.Started != "" {
		h.logger.Debug().Str("started", ev.Started).Msg("started")
	}
	if !h.variant.tracksRoster || h.state != domain.HandleConnected {
		return
	}
	if ev.HasPublishers() {
		h.checkPublishers(h.roster.Add(h.others(ev.Publishers)))
	}
	if id, ok := ev.Departed(); ok {
		h.checkPublishers(h.roster.Remove(id))
	}
}

func (h *Handle) checkPublishers(d Delta) {
	if d.Empty() {
		return
	}
	h.logger.Info().Int("arrived", len(d.Arrived)).Int("departed", len(d.Departed)).Int("known", h.roster.Len()).Msg("roster changed")
	h.host.OnRosterDelta(h, d)
}

func (h *Handle) onRemoteJSEP(j *protocol.JSEP) {
	desc, err := j.SessionDescription()
	if err != nil {
		h.fail(core.ProtocolError("remote description", err))
		return
	}
	h.logger.Debug().Str("type", j.Type).Str("media", protocol.Summarize(j.SDP)).Msg("remote description")
	h.media.OnRemoteDescription(h.cfg.Feed, desc)
}

func (h *Handle) onRemoteTrickle(f *protocol.Frame) {
	ci, ok := f.Candidate.ICECandidate()
	if !ok {
		h.logger.Debug().Msg("remote candidates completed")
		return
	}
	h.media.OnRemoteCandidate(h.cfg.Feed, ci)
}

func mediaEvent(f *protocol.Frame) core.MediaEvent {
	return core.MediaEvent{
		Kind:      f.Janus,
		Type:      f.Type,
		Receiving: f.Receiving,
		Uplink:    f.Uplink,
		Lost:      f.Lost,
		Reason:    f.Reason,
	}
}

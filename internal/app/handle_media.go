package app

import (
	"fmt"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// SendOfferSdp publishes our offer with a configure request. In loopback
// mode the offer is handed back as the answer without touching the network.
func (h *Handle) SendOfferSdp(sdp string, loopback bool) error {
	if h.state != domain.HandleConnected {
		return core.PreconditionError("send offer", core.ErrNotConnected)
	}
	if loopback {
		h.logger.Debug().Msg("loopback offer echoed as answer")
		h.media.OnRemoteDescription(h.cfg.Feed, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
		return nil
	}
	body := protocol.NewConfigure(h.cfg.Audio, h.cfg.Video)
	return h.negotiate("send offer", body, protocol.NewJSEP(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}))
}

// SendAnswerSdp answers the gateway's offer with a start request.
func (h *Handle) SendAnswerSdp(sdp string, loopback bool) error {
	if h.state != domain.HandleConnected {
		return core.PreconditionError("send answer", core.ErrNotConnected)
	}
	if loopback {
		h.logger.Warn().Msg("answer in loopback mode not sent")
		return nil
	}
	body := protocol.NewStart(h.cfg.Room)
	return h.negotiate("send answer", body, protocol.NewJSEP(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}))
}

func (h *Handle) negotiate(op string, body any, jsep *protocol.JSEP) error {
	token := h.register()
	ctx, done := h.track()
	f, err := h.env.Gateway.Send(ctx, protocol.NewMessage(token, h.room, body, jsep))
	done()
	if err != nil {
		h.unregister(token)
		if h.env.cancelled(err) {
			return err
		}
		err = core.TransportError(op, err)
		h.fail(err)
		return err
	}
	h.logger.Debug().Str("op", op).Str("txn", token).Str("media", protocol.Summarize(jsep.SDP)).Str("reply", f.Janus).Msg("sdp sent")

	switch {
	case f.IsAck():
		return nil
	case f.Janus == protocol.KindEvent:
		h.unregister(token)
		h.onEvent(f)
		return nil
	case f.Janus == protocol.KindError && f.Error != nil:
		h.unregister(token)
		err = core.ProtocolError(op, f.Error)
	default:
		h.unregister(token)
		err = core.ProtocolError(op, fmt.Errorf("unexpected reply %q", f.Janus))
	}
	h.fail(err)
	return err
}

// SendLocalIceCandidate trickles c to the gateway. A nil c means gathering
// finished; that notice is debounced so a burst of candidates produces a
// single completed request once the burst is over.
func (h *Handle) SendLocalIceCandidate(c *webrtc.ICECandidateInit, loopback bool) error {
	if h.room == nil || h.state.Terminal() {
		return core.PreconditionError("send candidate", core.ErrNotConnected)
	}
	if c == nil {
		h.scheduleCompleted()
		return nil
	}
	if h.pendingCompleted != nil {
		h.scheduleCompleted()
	}
	if loopback {
		h.media.OnRemoteCandidate(h.cfg.Feed, *c)
		return nil
	}
	return h.trickle("send candidate", protocol.NewTrickle(h.env.Registry.NewToken(nil), h.room, protocol.CandidateFrom(*c)))
}

func (h *Handle) scheduleCompleted() {
	h.pendingCompleted.Cancel()
	h.pendingCompleted = h.env.Queue.PostDelayed(h.cfg.TrickleDebounce, func() {
		h.pendingCompleted = nil
		if h.room == nil || h.state.Terminal() {
			return
		}
		token := h.env.Registry.NewToken(nil)
		if err := h.trickle("send candidates completed", protocol.NewTrickleCompleted(token, h.room)); err != nil {
			h.logger.Debug().Err(err).Msg("completed not sent")
		}
	})
}

func (h *Handle) trickle(op string, req *protocol.Request) error {
	ctx, done := h.track()
	f, err := h.env.Gateway.Send(ctx, req)
	done()
	if err != nil {
		if h.env.cancelled(err) {
			return err
		}
		err = core.TransportError(op, err)
		h.fail(err)
		return err
	}
	if f.IsAck() || f.Janus == protocol.KindEvent {
		return nil
	}
	if f.Error != nil {
		err = core.ProtocolError(op, f.Error)
	} else {
		err = core.ProtocolError(op, fmt.Errorf("unexpected reply %q", f.Janus))
	}
	h.fail(err)
	return err
}

package app

import (
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

// variant is the per-kind part of a handle.
type variant struct {
	ptype string
	// confirm is the videoroom event that completes the join.
	confirm string
	// tracksRoster is set when the handle follows other publishers.
	tracksRoster bool
	joinBody     func(h *Handle) protocol.JoinBody
	onConfirm    func(h *Handle, f *protocol.Frame, ev *protocol.RoomEvent)
}

var variants = map[domain.HandleKind]*variant{
	domain.KindPublisher: {
		ptype:        protocol.PTypePublisher,
		confirm:      protocol.EventJoined,
		tracksRoster: true,
		joinBody: func(h *Handle) protocol.JoinBody {
			return protocol.JoinBody{
				Request: "join",
				Room:    h.cfg.Room,
				PType:   h.variant.ptype,
				Display: h.cfg.Display,
			}
		},
		onConfirm: (*Handle).onPublisherJoined,
	},
	domain.KindSubscriber: {
		ptype:   protocol.PTypeSubscriber,
		confirm: protocol.EventAttached,
		joinBody: func(h *Handle) protocol.JoinBody {
			return protocol.JoinBody{
				Request:   "join",
				Room:      h.cfg.Room,
				PType:     h.variant.ptype,
				Display:   h.cfg.Display,
				Feed:      h.cfg.Feed,
				PrivateID: h.cfg.PrivateID,
			}
		},
		onConfirm: (*Handle).onSubscriberAttached,
	},
}

// onPublisherJoined records our own publisher id and the initial roster.
func (h *Handle) onPublisherJoined(_ *protocol.Frame, ev *protocol.RoomEvent) {
	if err := h.room.SetOwnPublisher(ev.ID, ev.PrivateID); err != nil {
		h.logger.Warn().Err(err).Str("id", ev.ID.String()).Msg("repeated joined event")
	}
	if h.state != domain.HandleConnected {
		h.state = domain.HandleConnected
		h.logger.Info().Str("publisher", ev.ID.String()).Int("publishers", len(ev.Publishers)).Msg("joined room")
		h.host.OnHandleConnected(h)
	}
	h.checkPublishers(h.roster.Update(h.others(ev.Publishers)))
}

// onSubscriberAttached hands the gateway's offer to the media engine.
func (h *Handle) onSubscriberAttached(f *protocol.Frame, _ *protocol.RoomEvent) {
	if h.state != domain.HandleConnected {
		h.state = domain.HandleConnected
		h.logger.Info().Msg("subscribed")
		h.host.OnHandleConnected(h)
	}
	if f.JSEP != nil {
		h.onRemoteJSEP(f.JSEP)
	}
}

// others drops our own entry from a publisher list.
func (h *Handle) others(list []domain.PublisherInfo) []domain.PublisherInfo {
	own, ok := h.room.OwnPublisher()
	if !ok {
		return list
	}
	out := make([]domain.PublisherInfo, 0, len(list))
	for _, p := range list {
		if p.ID != own {
			out = append(out, p)
		}
	}
	return out
}

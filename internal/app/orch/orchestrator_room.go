package orch

import (
	"github.com/dkeye/roomlink/internal/app"
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
)

// HandleHost

func (o *Orchestrator) OnHandleAttached(h *app.Handle) {
	o.handles[h.ID()] = h
}

func (o *Orchestrator) OnHandleConnected(h *app.Handle) {
	if h.Kind() != domain.KindPublisher {
		o.logger.Info().Str("feed", h.Feed().String()).Msg("subscriber connected")
		return
	}
	own, _ := h.Room().OwnPublisher()
	o.setState(domain.ConnConnected)
	o.media.OnConnected(core.SignalingParams{
		Session:    h.Room().SessionID,
		Room:       h.Room().Number,
		Publisher:  own,
		ICEServers: o.cfg.ICEServers,
		Audio:      o.cfg.Audio,
		Video:      o.cfg.Video,
	})
}

// OnRosterDelta subscribes to every new publisher and retires the
// subscribers of departed ones.
func (o *Orchestrator) OnRosterDelta(h *app.Handle, d app.Delta) {
	if o.closing.IsBroken() {
		return
	}
	for _, p := range d.Arrived {
		if _, ok := o.subscribers[p.ID]; ok {
			continue
		}
		sub := app.NewHandle(o.env, o, o.media, app.HandleConfig{
			Kind:            domain.KindSubscriber,
			Feed:            p.ID,
			PrivateID:       h.Room().PrivateID(),
			Session:         h.Room().SessionID,
			Room:            o.cfg.Room,
			Display:         o.participant.Display,
			Audio:           o.cfg.Audio,
			Video:           o.cfg.Video,
			TrickleDebounce: o.cfg.TrickleDebounce,
		})
		o.subscribers[p.ID] = sub
		o.logger.Info().Str("feed", p.ID.String()).Str("display", p.Display).Msg("subscribing")
		sub.Attach()
	}
	for _, id := range d.Departed {
		if sub, ok := o.subscribers[id]; ok {
			o.logger.Info().Str("feed", id.String()).Msg("unsubscribing")
			sub.Detach()
		}
	}
}

// OnHandleClosed forgets h. A publisher closing outside Disconnect leaves
// the client without a room, so the session fails. A handle closed by
// fail is reported through OnHandleError instead.
func (o *Orchestrator) OnHandleClosed(h *app.Handle) {
	o.forget(h)
	o.media.OnPeerClosed(h.Feed())
	if h.Kind() != domain.KindPublisher || h.Err() != nil || o.tornDown || o.closing.IsBroken() {
		return
	}
	if o.session.State() == domain.SessionReady {
		o.session.Fail(core.ProtocolError("publisher", core.ErrPublisherClosed))
	}
}

func (o *Orchestrator) OnHandleError(h *app.Handle, err error) {
	o.forget(h)
	if h.Kind() == domain.KindPublisher {
		o.session.Fail(err)
		return
	}
	o.report(err)
}

func (o *Orchestrator) forget(h *app.Handle) {
	if h.ID() != 0 && o.handles[h.ID()] == h {
		delete(o.handles, h.ID())
	}
	switch h.Kind() {
	case domain.KindPublisher:
		if o.handles[publisherKey] == h {
			delete(o.handles, publisherKey)
		}
	case domain.KindSubscriber:
		if o.subscribers[h.Feed()] == h {
			delete(o.subscribers, h.Feed())
		}
	}
}

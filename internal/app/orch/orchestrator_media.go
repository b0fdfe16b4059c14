package orch

import (
	"context"
	"errors"
	"slices"

	"github.com/dkeye/roomlink/internal/app"
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/pion/webrtc/v4"
)

// SendOfferSdp publishes the local offer through the publisher handle.
func (o *Orchestrator) SendOfferSdp(ctx context.Context, sdp string) error {
	return o.withPublisher(ctx, "send offer", func(h *app.Handle) error {
		return h.SendOfferSdp(sdp, o.cfg.Loopback)
	})
}

func (o *Orchestrator) SendAnswerSdp(ctx context.Context, sdp string) error {
	return o.withPublisher(ctx, "send answer", func(h *app.Handle) error {
		return h.SendAnswerSdp(sdp, o.cfg.Loopback)
	})
}

// SendLocalIceCandidate trickles a publisher candidate; nil signals the
// end of gathering.
func (o *Orchestrator) SendLocalIceCandidate(ctx context.Context, c *webrtc.ICECandidateInit) error {
	return o.withPublisher(ctx, "send candidate", func(h *app.Handle) error {
		return h.SendLocalIceCandidate(c, o.cfg.Loopback)
	})
}

// SendSubscriberAnswer answers the offer received for feed.
func (o *Orchestrator) SendSubscriberAnswer(ctx context.Context, feed domain.PublisherID, sdp string) error {
	return o.withSubscriber(ctx, "send subscriber answer", feed, func(h *app.Handle) error {
		return h.SendAnswerSdp(sdp, o.cfg.Loopback)
	})
}

func (o *Orchestrator) SendSubscriberIceCandidate(ctx context.Context, feed domain.PublisherID, c *webrtc.ICECandidateInit) error {
	return o.withSubscriber(ctx, "send subscriber candidate", feed, func(h *app.Handle) error {
		return h.SendLocalIceCandidate(c, o.cfg.Loopback)
	})
}

func (o *Orchestrator) withPublisher(ctx context.Context, op string, fn func(*app.Handle) error) error {
	return o.onWorker(ctx, op, func() error {
		h, ok := o.handles[publisherKey]
		if !ok {
			return core.PreconditionError(op, core.ErrNoPublisher)
		}
		return fn(h)
	})
}

func (o *Orchestrator) withSubscriber(ctx context.Context, op string, feed domain.PublisherID, fn func(*app.Handle) error) error {
	return o.onWorker(ctx, op, func() error {
		h, ok := o.subscribers[feed]
		if !ok {
			return core.PreconditionError(op, core.ErrNoSubscriber)
		}
		return fn(h)
	})
}

// onWorker runs fn on the worker and reports precondition failures; other
// failures were already reported by the handle.
func (o *Orchestrator) onWorker(ctx context.Context, op string, fn func() error) error {
	var err error
	derr := o.queue.Do(ctx, func() {
		if o.closing.IsBroken() {
			err = core.PreconditionError(op, core.ErrClosed)
			return
		}
		err = fn()
		if kind, ok := core.KindOf(err); ok && kind == core.KindPrecondition {
			o.report(err)
		}
	})
	if derr != nil {
		if errors.Is(derr, context.Canceled) || errors.Is(derr, context.DeadlineExceeded) {
			return derr
		}
		return core.PreconditionError(op, core.ErrClosed)
	}
	return err
}

// Snapshot returns a consistent view of the client.
func (o *Orchestrator) Snapshot(ctx context.Context) (core.Snapshot, error) {
	var snap core.Snapshot
	err := o.queue.Do(ctx, func() {
		snap = core.Snapshot{
			ClientID: o.participant.ID,
			State:    o.state.String(),
			Session:  o.session.ID(),
			Room:     o.cfg.Room,
			Handles:  []core.HandleDTO{},
			Roster:   []domain.PublisherInfo{},
		}
		if pub, ok := o.handles[publisherKey]; ok {
			snap.Handles = append(snap.Handles, pub.DTO())
			if pub.Room() != nil {
				snap.OwnPublisher, _ = pub.Room().OwnPublisher()
			}
			snap.Roster = pub.Roster().Snapshot()
		}
		for _, feed := range sortedFeeds(o.subscribers) {
			snap.Handles = append(snap.Handles, o.subscribers[feed].DTO())
		}
	})
	return snap, err
}

func sortedFeeds(m map[domain.PublisherID]*app.Handle) []domain.PublisherID {
	out := make([]domain.PublisherID, 0, len(m))
	for feed := range m {
		out = append(out, feed)
	}
	slices.Sort(out)
	return out
}

package app

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	"github.com/pion/webrtc/v4"
)

const testSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n"

func candidate(s string) *webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return &webrtc.ICECandidateInit{Candidate: s, SDPMid: &mid, SDPMLineIndex: &idx}
}

func TestPublisherAttachJoinConnect(t *testing.T) {
	gw := newFakeGateway()
	gw.reply = func(req *protocol.Request) (*protocol.Frame, error) {
		if req.Janus == protocol.KindAttach {
			return success(5000), nil
		}
		return &protocol.Frame{Janus: protocol.KindAck, Transaction: req.Transaction}, nil
	}
	env := newTestEnv(t, gw)
	host := newRecorder()
	media := &fakeMedia{}
	h := NewHandle(env, host, media, HandleConfig{
		Kind: domain.KindPublisher, Session: 1000, Room: 1234, Display: "alice",
	})

	onWorker(t, env, h.Attach)
	eventually(t, env, "join ack", func() bool { return h.State() == domain.HandleJoined })

	attach := gw.requests(protocol.KindAttach)
	if len(attach) != 1 || attach[0].SessionID != 1000 || attach[0].Plugin != protocol.PluginVideoRoom {
		t.Fatalf("attach = %+v", attach)
	}
	joins := gw.requests(protocol.KindMessage)
	if len(joins) != 1 {
		t.Fatalf("join sent %d times", len(joins))
	}
	join := joins[0]
	body, ok := join.Body.(protocol.JoinBody)
	if !ok {
		t.Fatalf("join body is %T", join.Body)
	}
	if join.SessionID != 1000 || join.HandleID != 5000 || body.PType != protocol.PTypePublisher || body.Room != 1234 || body.Display != "alice" {
		t.Fatalf("join = %+v body = %+v", join, body)
	}

	frame := roomFrame(5000, join.Transaction, `{"videoroom":"joined","room":1234,"id":42,"private_id":99,"publishers":[{"id":42},{"id":7,"display":"bob"}]}`, nil)
	onWorker(t, env, func() {
		if !env.Registry.Dispatch(join.Transaction, frame) {
			t.Error("join token not routed to the handle")
		}
	})

	onWorker(t, env, func() {
		if h.State() != domain.HandleConnected {
			t.Errorf("state = %s", h.State())
		}
		if own, _ := h.Room().OwnPublisher(); own != 42 {
			t.Errorf("own publisher = %d", own)
		}
		if h.Room().PrivateID() != 99 {
			t.Errorf("private id = %d", h.Room().PrivateID())
		}
		if len(host.attached) != 1 || len(host.connected) != 1 {
			t.Errorf("attached=%d connected=%d", len(host.attached), len(host.connected))
		}
		if len(host.deltas) != 1 || !slices.Equal(arrivedIDs(host.deltas[0]), []domain.PublisherID{7}) {
			t.Errorf("deltas = %+v", host.deltas)
		}
	})
}

func TestAttachFailure(t *testing.T) {
	gw := newFakeGateway()
	gw.reply = func(*protocol.Request) (*protocol.Frame, error) {
		return &protocol.Frame{Janus: protocol.KindError, Error: &protocol.GatewayError{Code: 458, Reason: "no such session"}}, nil
	}
	env := newTestEnv(t, gw)
	host := newRecorder()
	h := NewHandle(env, host, &fakeMedia{}, HandleConfig{Kind: domain.KindPublisher, Session: 1000, Room: 1234})

	onWorker(t, env, h.Attach)
	eventually(t, env, "handle error", func() bool { return h.State() == domain.HandleError })

	onWorker(t, env, func() {
		h.Detach()
		if h.State() != domain.HandleError {
			t.Errorf("state after detach = %s", h.State())
		}
		if len(host.handleErrs) != 1 || !protocol.IsGatewayError(host.handleErrs[0], 458) {
			t.Errorf("errors = %v", host.handleErrs)
		}
		if len(host.closed) != 0 {
			t.Errorf("closed = %d", len(host.closed))
		}
	})
	if n := len(gw.requests(protocol.KindDetach)); n != 0 {
		t.Fatal("detach sent for a handle the gateway never created")
	}
}

func TestJoinErrorDetaches(t *testing.T) {
	gw := newFakeGateway()
	gw.reply = func(req *protocol.Request) (*protocol.Frame, error) {
		switch req.Janus {
		case protocol.KindMessage:
			return &protocol.Frame{Janus: protocol.KindError, Error: &protocol.GatewayError{Code: 456, Reason: "missing element"}}, nil
		case protocol.KindDetach:
			return &protocol.Frame{Janus: protocol.KindSuccess}, nil
		}
		return success(5000), nil
	}
	env := newTestEnv(t, gw)
	host := newRecorder()
	h := NewHandle(env, host, &fakeMedia{}, HandleConfig{Kind: domain.KindPublisher, Session: 1000, Room: 1234})

	onWorker(t, env, h.Attach)
	eventually(t, env, "handle closed", func() bool { return h.State() == domain.HandleClosed })

	onWorker(t, env, func() {
		if len(host.handleErrs) != 1 || len(host.closed) != 1 {
			t.Errorf("errors=%v closed=%d", host.handleErrs, len(host.closed))
		}
		if env.Registry.Len() != 0 {
			t.Errorf("%d tokens left registered", env.Registry.Len())
		}
	})
	if n := len(gw.requests(protocol.KindDetach)); n != 1 {
		t.Fatalf("detach sent %d times", n)
	}
}

func TestNegotiationRequiresConnected(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	h := NewHandle(env, newRecorder(), &fakeMedia{}, HandleConfig{Kind: domain.KindPublisher, Session: 1000, Room: 1234})

	onWorker(t, env, func() {
		for name, err := range map[string]error{
			"offer":     h.SendOfferSdp(testSDP, false),
			"answer":    h.SendAnswerSdp(testSDP, false),
			"candidate": h.SendLocalIceCandidate(candidate("candidate:1"), false),
		} {
			if kind, _ := core.KindOf(err); kind != core.KindPrecondition || !errors.Is(err, core.ErrNotConnected) {
				t.Errorf("%s: err = %v", name, err)
			}
		}
	})
	if len(gw.requests(protocol.KindMessage))+len(gw.requests(protocol.KindTrickle)) != 0 {
		t.Fatal("request sent while not connected")
	}
}

func TestSendOfferDeliversAnswer(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	media := &fakeMedia{}
	h := connectedPublisher(t, env, newRecorder(), media)

	gw.mu.Lock()
	gw.reply = func(req *protocol.Request) (*protocol.Frame, error) {
		return roomFrame(5000, req.Transaction, `{"videoroom":"event","room":1234,"configured":"ok"}`, &protocol.JSEP{Type: "answer", SDP: testSDP}), nil
	}
	gw.mu.Unlock()

	onWorker(t, env, func() {
		if err := h.SendOfferSdp(testSDP, false); err != nil {
			t.Errorf("SendOfferSdp: %v", err)
		}
	})

	msgs := gw.requests(protocol.KindMessage)
	offer := msgs[len(msgs)-1]
	body, ok := offer.Body.(protocol.ConfigureBody)
	if !ok || body.Request != "configure" || !body.Audio || !body.Video {
		t.Fatalf("configure body = %#v", offer.Body)
	}
	if offer.JSEP == nil || offer.JSEP.Type != "offer" || offer.JSEP.SDP != testSDP {
		t.Fatalf("jsep = %+v", offer.JSEP)
	}

	media.mu.Lock()
	defer media.mu.Unlock()
	if len(media.remote) != 1 || media.remote[0].Type != webrtc.SDPTypeAnswer {
		t.Fatalf("remote descriptions = %+v", media.remote)
	}
}

func TestSendOfferAckWaitsForPoll(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	media := &fakeMedia{}
	h := connectedPublisher(t, env, newRecorder(), media)

	onWorker(t, env, func() {
		if err := h.SendOfferSdp(testSDP, false); err != nil {
			t.Errorf("SendOfferSdp: %v", err)
		}
	})
	msgs := gw.requests(protocol.KindMessage)
	txn := msgs[len(msgs)-1].Transaction

	onWorker(t, env, func() {
		if len(media.remote) != 0 {
			t.Error("answer delivered before the event arrived")
		}
		f := roomFrame(5000, txn, `{"videoroom":"event","configured":"ok"}`, &protocol.JSEP{Type: "answer", SDP: testSDP})
		if !env.Registry.Dispatch(txn, f) {
			t.Error("offer token not registered")
		}
		if len(media.remote) != 1 {
			t.Errorf("remote descriptions = %d", len(media.remote))
		}
	})
}

func TestLoopbackOfferIsEchoed(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	media := &fakeMedia{}
	h := connectedPublisher(t, env, newRecorder(), media)
	before := len(gw.requests(protocol.KindMessage))

	onWorker(t, env, func() {
		if err := h.SendOfferSdp(testSDP, true); err != nil {
			t.Error(err)
		}
		if err := h.SendAnswerSdp(testSDP, true); err != nil {
			t.Error(err)
		}
		if err := h.SendLocalIceCandidate(candidate("candidate:1"), true); err != nil {
			t.Error(err)
		}
	})

	if len(gw.requests(protocol.KindMessage)) != before || len(gw.requests(protocol.KindTrickle)) != 0 {
		t.Fatal("loopback touched the network")
	}
	media.mu.Lock()
	defer media.mu.Unlock()
	if len(media.remote) != 1 || media.remote[0].Type != webrtc.SDPTypeAnswer || media.remote[0].SDP != testSDP {
		t.Fatalf("remote = %+v", media.remote)
	}
	if len(media.candidates) != 1 || media.candidates[0].Candidate != "candidate:1" {
		t.Fatalf("candidates = %+v", media.candidates)
	}
}

func TestTrickleCompletedIsDebounced(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	h := connectedPublisher(t, env, newRecorder(), &fakeMedia{})

	onWorker(t, env, func() {
		for _, c := range []*webrtc.ICECandidateInit{candidate("candidate:1"), candidate("candidate:2"), nil} {
			if err := h.SendLocalIceCandidate(c, false); err != nil {
				t.Error(err)
			}
		}
	})
	if n := len(gw.requests(protocol.KindTrickle)); n != 2 {
		t.Fatalf("candidates sent before the window closed: %d", n)
	}

	eventually(t, env, "completed", func() bool { return len(gw.requests(protocol.KindTrickle)) == 3 })
	time.Sleep(3 * h.Config().TrickleDebounce)

	trickles := gw.requests(protocol.KindTrickle)
	if len(trickles) != 3 {
		t.Fatalf("trickles = %d, want 3", len(trickles))
	}
	if trickles[0].Candidate.Candidate != "candidate:1" || trickles[1].Candidate.Candidate != "candidate:2" {
		t.Fatalf("candidates out of order: %+v %+v", trickles[0].Candidate, trickles[1].Candidate)
	}
	if !trickles[2].Candidate.Completed {
		t.Fatalf("last trickle = %+v", trickles[2].Candidate)
	}
	if trickles[2].HandleID != 5000 || trickles[2].SessionID != 1000 {
		t.Fatalf("completed addressed to %d/%d", trickles[2].SessionID, trickles[2].HandleID)
	}
}

func TestCandidateReschedulesCompleted(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	h := connectedPublisher(t, env, newRecorder(), &fakeMedia{})

	onWorker(t, env, func() {
		if err := h.SendLocalIceCandidate(nil, false); err != nil {
			t.Error(err)
		}
	})
	onWorker(t, env, func() {
		if err := h.SendLocalIceCandidate(candidate("candidate:late"), false); err != nil {
			t.Error(err)
		}
	})

	eventually(t, env, "completed", func() bool { return len(gw.requests(protocol.KindTrickle)) == 2 })
	time.Sleep(3 * h.Config().TrickleDebounce)

	trickles := gw.requests(protocol.KindTrickle)
	if len(trickles) != 2 || trickles[0].Candidate.Completed || !trickles[1].Candidate.Completed {
		t.Fatalf("trickles = %+v", trickles)
	}
}

func TestDetachCancelsPendingCompleted(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	h := connectedPublisher(t, env, newRecorder(), &fakeMedia{})

	onWorker(t, env, func() {
		if err := h.SendLocalIceCandidate(nil, false); err != nil {
			t.Error(err)
		}
		h.Detach()
	})
	time.Sleep(3 * h.Config().TrickleDebounce)
	if n := len(gw.requests(protocol.KindTrickle)); n != 0 {
		t.Fatal("completed sent after detach")
	}
}

func TestRosterEventsOnPublisher(t *testing.T) {
	env := newTestEnv(t, newFakeGateway())
	host := newRecorder()
	h := connectedPublisher(t, env, host, &fakeMedia{})

	onWorker(t, env, func() {
		h.OnReceived("", roomFrame(5000, "", `{"videoroom":"event","room":1234,"publishers":[{"id":9,"display":"carol"},{"id":42}]}`, nil))
		h.OnReceived("", roomFrame(5000, "", `{"videoroom":"event","room":1234,"leaving":"ok"}`, nil))
		h.OnReceived("", roomFrame(5000, "", `{"videoroom":"event","room":1234,"unpublished":9}`, nil))
		h.OnReceived("", roomFrame(5000, "", `{"videoroom":"event","room":1234,"leaving":9}`, nil))
	})

	onWorker(t, env, func() {
		if len(host.deltas) != 2 {
			t.Errorf("deltas = %+v", host.deltas)
		}
		if got := arrivedIDs(host.deltas[0]); !slices.Equal(got, []domain.PublisherID{9}) {
			t.Errorf("arrived = %v", got)
		}
		if !slices.Equal(host.deltas[1].Departed, []domain.PublisherID{9}) {
			t.Errorf("departed = %v", host.deltas[1].Departed)
		}
		if h.Roster().Len() != 0 {
			t.Errorf("roster = %+v", h.Roster().Snapshot())
		}
	})
}

func TestHangupAndDetached(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	media := &fakeMedia{}
	host := newRecorder()
	hung := connectedPublisher(t, env, host, media)

	onWorker(t, env, func() {
		hung.OnReceived("", &protocol.Frame{Janus: protocol.KindHangup, Sender: 5000, Reason: "DTLS alert"})
		hung.Detach()
	})
	if n := len(gw.requests(protocol.KindDetach)); n != 1 {
		t.Fatalf("detach sent %d times", n)
	}

	dropped := connectedPublisher(t, env, host, media)
	onWorker(t, env, func() {
		dropped.OnReceived("", &protocol.Frame{Janus: protocol.KindDetached, Sender: 5000})
		if dropped.State() != domain.HandleClosed {
			t.Errorf("state = %s", dropped.State())
		}
		if len(host.closed) != 2 {
			t.Errorf("closed = %d", len(host.closed))
		}
		if !dropped.OnReceived("", &protocol.Frame{Janus: protocol.KindEvent}) {
			t.Error("frame for a closed handle must still count as handled")
		}
	})
	if n := len(gw.requests(protocol.KindDetach)); n != 1 {
		t.Fatal("detached handle sent its own detach")
	}

	media.mu.Lock()
	defer media.mu.Unlock()
	if len(media.events) != 1 || media.events[0].Kind != protocol.KindHangup || media.events[0].Reason != "DTLS alert" {
		t.Fatalf("media events = %+v", media.events)
	}
}

func TestPublisherHangupDepartsRoster(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	host := newRecorder()
	h := connectedPublisher(t, env, host, &fakeMedia{})

	onWorker(t, env, func() {
		h.OnReceived("", roomFrame(5000, "", `{"videoroom":"event","room":1234,"publishers":[{"id":9},{"id":7,"display":"bob"}]}`, nil))
		h.OnReceived("", &protocol.Frame{Janus: protocol.KindHangup, Sender: 5000, Reason: "ICE failed"})

		if h.State() != domain.HandleClosed || h.Err() != nil {
			t.Errorf("state = %s err = %v", h.State(), h.Err())
		}
		if len(host.deltas) != 2 {
			t.Errorf("deltas = %+v", host.deltas)
			return
		}
		gone := host.deltas[1]
		if !slices.Equal(gone.Departed, []domain.PublisherID{7, 9}) || len(gone.Arrived) != 0 {
			t.Errorf("departure delta = %+v", gone)
		}
		if h.Roster().Len() != 0 {
			t.Errorf("roster = %+v", h.Roster().Snapshot())
		}
		if len(host.closed) != 1 {
			t.Errorf("closed = %d", len(host.closed))
		}
	})
	if n := len(gw.requests(protocol.KindDetach)); n != 1 {
		t.Fatalf("detach sent %d times", n)
	}
}

func TestResolvedTokensAreReleased(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	host := newRecorder()
	h := connectedPublisher(t, env, host, &fakeMedia{})
	p := NewPollLoop(env, readySession(env, host), host, fastPoll())

	onWorker(t, env, func() {
		if err := h.SendOfferSdp(testSDP, false); err != nil {
			t.Error(err)
		}
	})
	msgs := gw.requests(protocol.KindMessage)
	txn := msgs[len(msgs)-1].Transaction

	onWorker(t, env, p.Start)
	gw.push(t, protocol.Frame{Janus: protocol.KindAck, Transaction: txn, Sender: 5000})
	gw.push(t, roomFrame(5000, txn, `{"videoroom":"event","configured":"ok"}`, &protocol.JSEP{Type: "answer", SDP: testSDP}))
	eventually(t, env, "configure event", func() bool { return p.Issued() == 3 })

	onWorker(t, env, func() {
		if _, ok := h.tokens[txn]; ok {
			t.Error("handle still tracks the resolved token")
		}
		if env.Registry.Dispatch(txn, &protocol.Frame{Janus: protocol.KindAck}) {
			t.Error("resolved token still registered")
		}
	})
}

func TestPluginErrorFailsHandle(t *testing.T) {
	env := newTestEnv(t, newFakeGateway())
	host := newRecorder()
	h := connectedPublisher(t, env, host, &fakeMedia{})

	onWorker(t, env, func() {
		h.OnReceived("", roomFrame(5000, "", `{"videoroom":"event","error_code":426,"error":"No such room"}`, nil))
		if h.State() != domain.HandleClosed {
			t.Errorf("state = %s", h.State())
		}
		if len(host.handleErrs) != 1 || !protocol.IsGatewayError(host.handleErrs[0], 426) {
			t.Errorf("errors = %v", host.handleErrs)
		}
	})
}

func TestSubscriberJoinAndAnswer(t *testing.T) {
	gw := newFakeGateway()
	env := newTestEnv(t, gw)
	host := newRecorder()
	media := &fakeMedia{}
	h := NewHandle(env, host, media, HandleConfig{
		Kind: domain.KindSubscriber, Feed: 7, PrivateID: 99, Session: 1000, Room: 1234,
	})

	onWorker(t, env, func() { h.onAttached(success(6000), nil) })
	eventually(t, env, "join ack", func() bool { return h.State() == domain.HandleJoined })

	join := gw.requests(protocol.KindMessage)[0]
	body := join.Body.(protocol.JoinBody)
	if body.PType != protocol.PTypeSubscriber || body.Feed != 7 || body.PrivateID != 99 {
		t.Fatalf("join body = %+v", body)
	}

	onWorker(t, env, func() {
		h.OnReceived(join.Transaction, roomFrame(6000, join.Transaction, `{"videoroom":"attached","room":1234,"id":7}`, &protocol.JSEP{Type: "offer", SDP: testSDP}))
		if h.State() != domain.HandleConnected {
			t.Errorf("state = %s", h.State())
		}
		if err := h.SendAnswerSdp(testSDP, false); err != nil {
			t.Errorf("SendAnswerSdp: %v", err)
		}
	})

	msgs := gw.requests(protocol.KindMessage)
	answer := msgs[len(msgs)-1]
	start, ok := answer.Body.(protocol.StartBody)
	if !ok || start.Request != "start" || start.Room != 1234 || answer.HandleID != 6000 {
		t.Fatalf("start = %#v", answer)
	}
	if answer.JSEP == nil || answer.JSEP.Type != "answer" {
		t.Fatalf("jsep = %+v", answer.JSEP)
	}

	media.mu.Lock()
	defer media.mu.Unlock()
	if len(media.remote) != 1 || media.remote[0].Type != webrtc.SDPTypeOffer {
		t.Fatalf("remote = %+v", media.remote)
	}
}

func TestMalformedRemoteSDPFails(t *testing.T) {
	env := newTestEnv(t, newFakeGateway())
	host := newRecorder()
	h := NewHandle(env, host, &fakeMedia{}, HandleConfig{Kind: domain.KindSubscriber, Feed: 7, Session: 1000, Room: 1234})

	onWorker(t, env, func() { h.onAttached(success(6000), nil) })
	eventually(t, env, "join ack", func() bool { return h.State() == domain.HandleJoined })
	onWorker(t, env, func() {
		h.OnReceived("", roomFrame(6000, "", `{"videoroom":"attached","id":7}`, &protocol.JSEP{Type: "pranswer", SDP: testSDP}))
		if len(host.handleErrs) != 1 {
			t.Errorf("errors = %v", host.handleErrs)
		}
	})
}

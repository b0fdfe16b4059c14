package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/roomlink/internal/app/worker"
	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	fcore "github.com/frostbyte73/core"
	"github.com/pion/webrtc/v4"
)

// fakeGateway answers Send with reply (ack by default) and feeds Poll from
// frames and pollErrs.
type fakeGateway struct {
	mu    sync.Mutex
	sent  []*protocol.Request
	reply func(*protocol.Request) (*protocol.Frame, error)
	polls int

	frames  chan []byte
	pollErr chan error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		frames:  make(chan []byte, 16),
		pollErr: make(chan error, 16),
	}
}

func (g *fakeGateway) Info(context.Context) (*protocol.ServerInfo, error) {
	return &protocol.ServerInfo{Name: "fake", Plugins: map[string]protocol.ComponentInfo{protocol.PluginVideoRoom: {}}}, nil
}

func (g *fakeGateway) Send(ctx context.Context, req *protocol.Request) (*protocol.Frame, error) {
	g.mu.Lock()
	g.sent = append(g.sent, req)
	reply := g.reply
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reply == nil {
		return &protocol.Frame{Janus: protocol.KindAck, Transaction: req.Transaction}, nil
	}
	return reply(req)
}

func (g *fakeGateway) Poll(ctx context.Context, _ domain.SessionID) ([]byte, error) {
	g.mu.Lock()
	g.polls++
	g.mu.Unlock()
	select {
	case raw := <-g.frames:
		return raw, nil
	case err := <-g.pollErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *fakeGateway) requests(kind string) []*protocol.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*protocol.Request
	for _, r := range g.sent {
		if r.Janus == kind {
			out = append(out, r)
		}
	}
	return out
}

func (g *fakeGateway) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}

func (g *fakeGateway) push(t *testing.T, f any) {
	t.Helper()
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatal(err)
	}
	g.frames <- raw
}

func success(id uint64) *protocol.Frame {
	return &protocol.Frame{Janus: protocol.KindSuccess, Data: &protocol.SuccessData{ID: id}}
}

// recorder implements every host interface of the package. It is only
// touched on the worker.
type recorder struct {
	ready      []domain.SessionID
	failed     []error
	attached   []*Handle
	connected  []*Handle
	closed     []*Handle
	deltas     []Delta
	handleErrs []error
	pollFailed []error
	frameErrs  []error
	handles    map[domain.HandleID]*Handle
}

func newRecorder() *recorder {
	return &recorder{handles: make(map[domain.HandleID]*Handle)}
}

func (r *recorder) OnSessionReady(id domain.SessionID) { r.ready = append(r.ready, id) }
func (r *recorder) OnSessionFailed(err error)          { r.failed = append(r.failed, err) }

func (r *recorder) OnHandleAttached(h *Handle) {
	r.attached = append(r.attached, h)
	r.handles[h.ID()] = h
}
func (r *recorder) OnHandleConnected(h *Handle)        { r.connected = append(r.connected, h) }
func (r *recorder) OnRosterDelta(_ *Handle, d Delta)   { r.deltas = append(r.deltas, d) }
func (r *recorder) OnHandleClosed(h *Handle)           { r.closed = append(r.closed, h) }
func (r *recorder) OnHandleError(_ *Handle, err error) { r.handleErrs = append(r.handleErrs, err) }
func (r *recorder) OnPollFailed(err error)             { r.pollFailed = append(r.pollFailed, err) }
func (r *recorder) OnFrameError(err error)             { r.frameErrs = append(r.frameErrs, err) }

func (r *recorder) LookupHandle(id domain.HandleID) (*Handle, bool) {
	h, ok := r.handles[id]
	return h, ok
}

type fakeMedia struct {
	mu         sync.Mutex
	connected  []core.SignalingParams
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	events     []core.MediaEvent
	closed     []domain.PublisherID
}

func (m *fakeMedia) OnConnected(p core.SignalingParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = append(m.connected, p)
}

func (m *fakeMedia) OnRemoteDescription(_ domain.PublisherID, d webrtc.SessionDescription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remote = append(m.remote, d)
}

func (m *fakeMedia) OnRemoteCandidate(_ domain.PublisherID, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c)
}

func (m *fakeMedia) OnMediaEvent(_ domain.PublisherID, ev core.MediaEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *fakeMedia) OnPeerClosed(feed domain.PublisherID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, feed)
}

func newTestEnv(t *testing.T, gw core.Gateway) *Env {
	t.Helper()
	q := worker.New("test")
	t.Cleanup(q.Close)
	return &Env{
		Queue:          q,
		Gateway:        gw,
		Registry:       NewTransactionRegistry(),
		Calls:          NewCallSet(),
		Closing:        &fcore.Fuse{},
		Plugin:         protocol.PluginVideoRoom,
		RequestTimeout: time.Second,
	}
}

// onWorker runs fn on the env's worker and waits for it.
func onWorker(t *testing.T, env *Env, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.Queue.Do(ctx, fn); err != nil {
		t.Fatalf("worker: %v", err)
	}
}

// eventually polls cond on the worker until it holds.
func eventually(t *testing.T, env *Env, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var ok bool
		onWorker(t, env, func() { ok = cond() })
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func roomFrame(sender domain.HandleID, txn string, data string, jsep *protocol.JSEP) *protocol.Frame {
	return &protocol.Frame{
		Janus:       protocol.KindEvent,
		Transaction: txn,
		Sender:      sender,
		PluginData:  &protocol.PluginData{Plugin: protocol.PluginVideoRoom, Data: json.RawMessage(data)},
		JSEP:        jsep,
	}
}

// connectedPublisher returns a publisher handle that has attached as 5000
// and joined as publisher 42.
func connectedPublisher(t *testing.T, env *Env, host *recorder, media *fakeMedia) *Handle {
	t.Helper()
	h := NewHandle(env, host, media, HandleConfig{
		Kind:            domain.KindPublisher,
		Session:         1000,
		Room:            1234,
		Display:         "alice",
		Audio:           true,
		Video:           true,
		TrickleDebounce: 20 * time.Millisecond,
	})
	onWorker(t, env, func() {
		h.onAttached(success(5000), nil)
	})
	eventually(t, env, "join", func() bool { return h.State() == domain.HandleJoined })
	onWorker(t, env, func() {
		h.OnReceived("", roomFrame(5000, "", `{"videoroom":"joined","room":1234,"id":42,"private_id":99,"publishers":[]}`, nil))
	})
	return h
}

var errBoom = errors.New("boom")

func requireReceive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	panic("unreachable")
}

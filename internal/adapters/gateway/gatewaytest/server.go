// Package gatewaytest runs an in-process fake of the gateway's REST and
// long-poll API for tests.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
	"github.com/gin-gonic/gin"
)

// Request is one request received by the fake.
type Request struct {
	Method      string
	Path        string
	Janus       string              `json:"janus"`
	Transaction string              `json:"transaction"`
	SessionID   domain.SessionID    `json:"session_id"`
	HandleID    domain.HandleID     `json:"handle_id"`
	Plugin      string              `json:"plugin"`
	Body        json.RawMessage     `json:"body"`
	JSEP        *protocol.JSEP      `json:"jsep"`
	Candidate   *protocol.Candidate `json:"candidate"`
}

// BodyRequest returns the "request" field of a plugin message body.
func (r Request) BodyRequest() string {
	var b struct {
		Request string `json:"request"`
	}
	_ = json.Unmarshal(r.Body, &b)
	return b.Request
}

// Server is a fake gateway. Session and handle ids are handed out from
// FirstSession and FirstHandle upwards.
type Server struct {
	*httptest.Server

	// Reply, when set, produces the reply to plugin messages and trickles
	// instead of the default ack. Returning nil keeps the default.
	Reply func(r Request) any
	// PollTimeout bounds one long poll before a keepalive is returned.
	PollTimeout time.Duration
	Plugins     []string

	mu          sync.Mutex
	nextSession uint64
	nextHandle  uint64
	requests    []Request
	polls       int
	events      map[domain.SessionID]chan any
}

func New() *Server {
	s := &Server{
		PollTimeout: 2 * time.Second,
		Plugins:     []string{protocol.PluginVideoRoom},
		nextSession: 1000,
		nextHandle:  5000,
		events:      make(map[domain.SessionID]chan any),
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())

	g := r.Group("/janus")
	g.GET("/info", s.handleInfo)
	g.POST("", s.handleRoot)
	g.POST("/:session", s.handleSession)
	g.POST("/:session/:handle", s.handleHandle)
	g.GET("/:session", s.handlePoll)

	s.Server = httptest.NewServer(r)
	return s
}

// BaseURL is the gateway root to hand to a client.
func (s *Server) BaseURL() string { return s.URL + "/janus" }

// Push queues an event for the session's long poll.
func (s *Server) Push(session domain.SessionID, frame any) {
	s.queue(session) <- frame
}

func (s *Server) queue(session domain.SessionID) chan any {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.events[session]
	if !ok {
		ch = make(chan any, 64)
		s.events[session] = ch
	}
	return ch
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Count returns how many requests of kind were received.
func (s *Server) Count(kind string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Janus == kind {
			n++
		}
	}
	return n
}

func (s *Server) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// WaitFor waits until a request matching match arrives.
func (s *Server) WaitFor(timeout time.Duration, match func(Request) bool) (Request, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, r := range s.Requests() {
			if match(r) {
				return r, true
			}
		}
		if time.Now().After(deadline) {
			return Request{}, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *Server) record(c *gin.Context) (Request, bool) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"janus": "error", "error": gin.H{"code": 454, "reason": err.Error()}})
		return req, false
	}
	req.Method = c.Request.Method
	req.Path = c.Request.URL.Path
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return req, true
}

func (s *Server) handleInfo(c *gin.Context) {
	plugins := gin.H{}
	for _, p := range s.Plugins {
		plugins[p] = gin.H{"name": p, "version_string": "0.0.9"}
	}
	c.JSON(http.StatusOK, gin.H{
		"janus":          protocol.KindServerInfo,
		"name":           "Fake Gateway",
		"version":        1000,
		"version_string": "1.0.0",
		"plugins":        plugins,
	})
}

func (s *Server) handleRoot(c *gin.Context) {
	req, ok := s.record(c)
	if !ok {
		return
	}
	if req.Janus != protocol.KindCreate {
		s.fail(c, req, 453, "unknown request")
		return
	}
	s.mu.Lock()
	id := s.nextSession
	s.nextSession++
	s.mu.Unlock()
	s.success(c, req, id)
}

func (s *Server) handleSession(c *gin.Context) {
	req, ok := s.record(c)
	if !ok {
		return
	}
	switch req.Janus {
	case protocol.KindAttach:
		s.mu.Lock()
		id := s.nextHandle
		s.nextHandle++
		s.mu.Unlock()
		s.success(c, req, id)
	case protocol.KindDestroy:
		s.success(c, req, 0)
	case protocol.KindKeepAlive:
		c.JSON(http.StatusOK, gin.H{"janus": protocol.KindAck, "transaction": req.Transaction})
	default:
		s.fail(c, req, 453, "unknown request")
	}
}

func (s *Server) handleHandle(c *gin.Context) {
	req, ok := s.record(c)
	if !ok {
		return
	}
	switch req.Janus {
	case protocol.KindMessage, protocol.KindTrickle:
		if s.Reply != nil {
			if reply := s.Reply(req); reply != nil {
				c.JSON(http.StatusOK, reply)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"janus": protocol.KindAck, "transaction": req.Transaction})
	case protocol.KindDetach, protocol.KindHangup:
		s.success(c, req, 0)
	default:
		s.fail(c, req, 453, "unknown request")
	}
}

func (s *Server) handlePoll(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("session"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"janus": "error", "error": gin.H{"code": protocol.CodeSessionNotFound, "reason": "no such session"}})
		return
	}
	s.mu.Lock()
	s.polls++
	s.mu.Unlock()

	select {
	case ev := <-s.queue(domain.SessionID(id)):
		c.JSON(http.StatusOK, ev)
	case <-c.Request.Context().Done():
	case <-time.After(s.PollTimeout):
		c.JSON(http.StatusOK, gin.H{"janus": protocol.KindKeepAlive})
	}
}

func (s *Server) success(c *gin.Context, req Request, id uint64) {
	reply := gin.H{"janus": protocol.KindSuccess, "transaction": req.Transaction}
	if id != 0 {
		reply["data"] = gin.H{"id": id}
	}
	if req.SessionID != 0 {
		reply["session_id"] = req.SessionID
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) fail(c *gin.Context, req Request, code int, reason string) {
	c.JSON(http.StatusOK, gin.H{
		"janus":       protocol.KindError,
		"transaction": req.Transaction,
		"error":       gin.H{"code": code, "reason": reason},
	})
}

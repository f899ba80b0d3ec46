// Package wstest provides an in-process server speaking the channel protocol.
package wstest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	ws "github.com/lisuiheng/wsgate/protocols/websocket"
)

var errNoConnection = errors.New("wstest: no client connected")

type Server struct {
	*httptest.Server

	// Authorize rejects a handshake with 401 when it returns false.
	Authorize func(r *http.Request) bool

	upgrader websocket.Upgrader
	frames   chan ws.Frame

	mu       sync.Mutex
	writeMu  sync.Mutex
	conns    []*websocket.Conn
	requests []*http.Request
	noReady  bool
}

// NewServer starts a server that answers every open frame with ready.
// It is shut down when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{frames: make(chan ws.Frame, 256)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(func() {
		s.DropConnections()
		s.Close()
	})
	return s
}

// SetAutoReady toggles the ready reply to open frames.
func (s *Server) SetAutoReady(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noReady = !on
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.Authorize != nil && !s.Authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.requests = append(s.requests, r)
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := ws.DecodeFrame(data)
		if err != nil {
			continue
		}
		s.frames <- f

		s.mu.Lock()
		autoReady := !s.noReady
		s.mu.Unlock()
		if f.Kind == ws.KindOpen && autoReady {
			_ = s.write(conn, ws.Frame{Kind: ws.KindReady, ID: f.ID})
		}
	}
}

func (s *Server) write(conn *websocket.Conn, f ws.Frame) error {
	data, err := ws.EncodeFrame(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Send writes f on the most recent connection.
func (s *Server) Send(f ws.Frame) error {
	s.mu.Lock()
	if len(s.conns) == 0 {
		s.mu.Unlock()
		return errNoConnection
	}
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	return s.write(conn, f)
}

// NextFrame waits for the next frame received from any client.
func (s *Server) NextFrame(timeout time.Duration) (ws.Frame, bool) {
	select {
	case f := <-s.frames:
		return f, true
	case <-time.After(timeout):
		return ws.Frame{}, false
	}
}

// NextFrameOfKind skips frames until one of kind arrives.
func (s *Server) NextFrameOfKind(kind string, timeout time.Duration) (ws.Frame, bool) {
	deadline := time.Now().Add(timeout)
	for {
		f, ok := s.NextFrame(time.Until(deadline))
		if !ok || f.Kind == kind {
			return f, ok
		}
	}
}

// Requests returns the accepted handshake requests in order.
func (s *Server) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// DropConnections closes every accepted connection without a close handshake.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Package biditest provides an in-process BiDi websocket server for tests.
package biditest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"nhooyr.io/websocket"

	"github.com/randomizedcoder/go-vibium-sync/internal/bidi"
)

// HandlerFunc answers one command. Returning a *bidi.Error produces an
// error response with that code; any other error uses "unknown error".
type HandlerFunc func(method string, params json.RawMessage) (any, error)

// Call records one received command.
type Call struct {
	ID     uint64
	Method string
	Params json.RawMessage
}

// Server is a websocket server speaking the BiDi envelope format.
type Server struct {
	srv     *httptest.Server
	handler HandlerFunc

	mu    sync.Mutex
	conns []*websocket.Conn
	calls []Call
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, handler HandlerFunc) *Server {
	t.Helper()
	s := &Server{handler: handler}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// ListenAt starts a server on a specific address. The caller must Close it.
func ListenAt(addr string, handler HandlerFunc) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{handler: handler}
	s.srv = httptest.NewUnstartedServer(http.HandlerFunc(s.serve))
	s.srv.Listener.Close()
	s.srv.Listener = ln
	s.srv.Start()
	return s, nil
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	conn.SetReadLimit(bidi.DefaultReadLimit)
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var cmd struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}

		s.mu.Lock()
		s.calls = append(s.calls, Call{ID: cmd.ID, Method: cmd.Method, Params: cmd.Params})
		s.mu.Unlock()

		// Handlers may block; answer each command on its own goroutine.
		go s.answer(ctx, conn, cmd.ID, cmd.Method, cmd.Params)
	}
}

func (s *Server) answer(ctx context.Context, conn *websocket.Conn, id uint64, method string, params json.RawMessage) {
	if s.handler == nil {
		return
	}
	res, err := s.handler(method, params)

	var reply map[string]any
	if err != nil {
		code, msg := "unknown error", err.Error()
		if be, ok := err.(*bidi.Error); ok {
			code, msg = be.Code, be.Message
		}
		reply = map[string]any{
			"id":    id,
			"type":  "error",
			"error": map[string]any{"error": code, "message": msg},
		}
	} else {
		if res == nil {
			res = map[string]any{}
		}
		reply = map[string]any{"id": id, "type": "success", "result": res}
	}

	data, _ := json.Marshal(reply)
	_ = conn.Write(ctx, websocket.MessageText, data)
}

// Send writes a raw frame to every connected client.
func (s *Server) Send(v any) {
	data, _ := json.Marshal(v)
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Write(context.Background(), websocket.MessageText, data)
	}
}

// Calls returns the commands received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Methods returns the method names received so far, in order.
func (s *Server) Methods() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// URL returns the ws:// URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return s.srv.Listener.Addr().String()
}

// DropConnections closes every client connection abruptly.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}

// Close shuts the server down.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// Package streamserver pushes a running simulation's result rows to
// connected WebSocket clients as they're produced, for the `sdyn serve`
// subcommand. It never sits inside the VM's step loop: the caller
// advances the Sim in increments and hands the server each recorded
// row from its own goroutine between those increments, preserving the
// core engine's no-suspension-points invariant.
package streamserver

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Row is one recorded simulation step, shaped for JSON encoding.
type Row struct {
	Time   float64            `json:"time"`
	Values map[string]float64 `json:"values"`
}

type client struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// Server broadcasts Rows to every connected WebSocket client.
type Server struct {
	addr     string
	upgrader websocket.Upgrader
	http     *http.Server

	mu      sync.RWMutex
	clients map[string]*client
}

// New builds a Server that will listen on addr once Start is called.
func New(addr string) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Start begins accepting WebSocket connections in the background.
// Callers should Broadcast rows to it as a simulation progresses and
// call Close when done.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleUpgrade)
	s.http = &http.Server{Addr: s.addr, Handler: mux}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("streamserver: listen %s: %w", s.addr, err)
	}
	go s.http.Serve(ln)
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := fmt.Sprintf("client_%d", time.Now().UnixNano())
	c := &client{conn: conn}
	s.mu.Lock()
	s.clients[id] = c
	s.mu.Unlock()
}

// Broadcast sends row as a JSON frame to every connected client,
// dropping (and marking closed) any client whose write fails.
func (s *Server) Broadcast(row Row) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("streamserver: encoding row: %w", err)
	}

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	var lastErr error
	for _, c := range clients {
		c.mu.Lock()
		if !c.closed {
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				lastErr = err
				c.closed = true
			}
		}
		c.mu.Unlock()
	}
	return lastErr
}

// ClientCount returns the number of currently connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.clients {
		c.mu.Lock()
		if !c.closed {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

// Close shuts down the HTTP listener and closes every client socket.
func (s *Server) Close() error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.mu.Lock()
		c.closed = true
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.mu.Unlock()
	}
	s.mu.Unlock()

	if s.http != nil {
		return s.http.Close()
	}
	return nil
}

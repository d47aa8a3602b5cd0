// Package gateway is the local WebSocket endpoint clients connect to:
// it mints client ids, fans broadcasts out to every open socket, and
// feeds inbound frames to the request handler.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/warden/internal/bus"
	"github.com/nextlevelbuilder/warden/internal/config"
	"github.com/nextlevelbuilder/warden/pkg/protocol"
)

// Handler receives decoded client traffic. SubmitChat admits the
// request synchronously — frame arrival order is lane order — and
// returns a wait the gateway parks on a goroutine so the read pump
// never blocks on a running request.
type Handler interface {
	SubmitChat(clientID string, p protocol.ChatRequestPayload) (wait func())
	HandleApproval(clientID string, p protocol.ApprovalResponsePayload)
	HandleSystemCommand(clientID string, p protocol.SystemCommandPayload) (interface{}, error)
}

// Server accepts local connections and owns the client set.
type Server struct {
	cfg     *config.Config
	events  bus.Publisher
	handler Handler

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	nextID  atomic.Int64

	limiters sync.Map // clientID -> *rate.Limiter
	rpm      int

	httpServer *http.Server
}

func NewServer(cfg *config.Config, events bus.Publisher, handler Handler) *Server {
	s := &Server{
		cfg:     cfg,
		events:  events,
		handler: handler,
		clients: make(map[string]*Client),
		rpm:     cfg.Gateway.RateLimitRPM,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Local-loopback daemon; non-browser clients send no Origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Start binds the listener and serves until Stop. Blocks.
func (s *Server) Start() error {
	s.events.Subscribe("gateway", func(msg *protocol.Message) {
		s.Broadcast(msg)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("gateway listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the listener and every client socket.
func (s *Server) Stop(ctx context.Context) error {
	s.events.Unsubscribe("gateway")

	s.mu.Lock()
	for _, c := range s.clients {
		c.shutdown()
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := fmt.Sprintf("client-%d", s.nextID.Add(1))
	client := newClient(id, conn, s)

	s.mu.Lock()
	s.clients[id] = client
	s.mu.Unlock()

	slog.Info("client connected", "client", id, "remote", r.RemoteAddr)
	go client.writePump()
	go client.readPump()

	client.Send(protocol.New(protocol.TypeSystemStatus, map[string]interface{}{
		"clientId":        id,
		"protocolVersion": protocol.ProtocolVersion,
	}))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	n := len(s.clients)
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": n,
	})
}

// dispatch routes one inbound frame. Unknown types are logged and
// dropped, never answered.
func (s *Server) dispatch(c *Client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypePing:
		c.Send(protocol.New(protocol.TypePong, nil))

	case protocol.TypeChatRequest:
		var p protocol.ChatRequestPayload
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("bad chat request", "client", c.ID, "error", err)
			return
		}
		if !s.allow(c.ID) {
			c.Send(protocol.New(protocol.TypeChatError, protocol.ErrorPayload{
				RequestID: p.RequestID,
				Kind:      "rate-limit",
				Message:   "too many requests, slow down",
			}))
			return
		}
		// Admit inline so two rapid frames from one client keep their
		// order; only the completion wait leaves the read pump.
		wait := s.handler.SubmitChat(c.ID, p)
		go wait()

	case protocol.TypeApprovalResponse:
		var p protocol.ApprovalResponsePayload
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("bad approval response", "client", c.ID, "error", err)
			return
		}
		s.handler.HandleApproval(c.ID, p)

	case protocol.TypeSystemCommand:
		var p protocol.SystemCommandPayload
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("bad system command", "client", c.ID, "error", err)
			return
		}
		result, err := s.handler.HandleSystemCommand(c.ID, p)
		if err != nil {
			c.Send(protocol.New(protocol.TypeSystemAlert, protocol.LogPayload{Level: "error", Message: err.Error()}))
			return
		}
		c.Send(protocol.New(protocol.TypeSystemStatus, result))

	default:
		slog.Warn("unknown message type dropped", "client", c.ID, "type", msg.Type)
	}
}

// allow applies the per-client rate limit; rpm <= 0 disables limiting.
func (s *Server) allow(clientID string) bool {
	if s.rpm <= 0 {
		return true
	}
	v, _ := s.limiters.LoadOrStore(clientID, rate.NewLimiter(rate.Limit(float64(s.rpm)/60.0), 5))
	return v.(*rate.Limiter).Allow()
}

// Broadcast fans a message out to all connected clients.
func (s *Server) Broadcast(msg *protocol.Message) {
	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		c.Send(msg)
	}
}

// SendTo addresses one client; silently drops when absent.
func (s *Server) SendTo(clientID string, msg *protocol.Message) {
	s.mu.RLock()
	c, ok := s.clients[clientID]
	s.mu.RUnlock()
	if ok {
		c.Send(msg)
	}
}

// ClientCount reports connected sockets for the heartbeat.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) remove(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c.ID]
	if present && s.clients[c.ID] == c {
		delete(s.clients, c.ID)
	}
	s.mu.Unlock()

	c.shutdown()
	s.limiters.Delete(c.ID)
	if present {
		slog.Info("client disconnected", "client", c.ID)
	}
}

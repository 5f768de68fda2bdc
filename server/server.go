// Package server is the HTTP status surface of a running scraper: health,
// worker pool metrics, published outcomes and a websocket stream of new ones.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teranos/gdscraper/bus"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/message"
	"github.com/teranos/gdscraper/pulse/async"
	"go.uber.org/zap"
)

// Server serves status endpoints and fans published outcomes out to websocket clients
type Server struct {
	bus    *bus.Bus
	pool   *async.WorkerPool
	topics message.Topics
	logger *zap.SugaredLogger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	httpServer *http.Server
	listener   net.Listener

	// Lifecycle management
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
	state          atomic.Int32
}

// New creates a server reading outcomes from b and metrics from pool
func New(b *bus.Bus, pool *async.WorkerPool, topics message.Topics, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		bus:        b,
		pool:       pool,
		topics:     topics,
		logger:     log.Named("server"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.state.Store(int32(ServerStateRunning))
	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HandleHealth)
	mux.HandleFunc("/api/metrics", s.HandleMetrics)
	mux.HandleFunc("/api/results", s.HandleResults)
	mux.HandleFunc("/ws", s.HandleWebSocket)
	return mux
}

// Start listens on addr (":0" picks a free port) and serves until Stop
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		err = errors.Wrap(err, "failed to listen")
		return errors.WithDetail(err, "Address: "+addr)
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("HTTP server failed", logger.FieldError, err)
		}
	}()

	s.logger.Infow("Server ready", logger.FieldAddress, listener.Addr().String())
	return nil
}

// Addr returns the address the server listens on, or "" before Start
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run is the hub loop: it owns client registration and forwards every
// outcome published on the result topics to the connected clients.
func (s *Server) Run() {
	published := s.bus.Subscribe()
	defer s.bus.Unsubscribe(published)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		case msg, ok := <-published:
			if !ok {
				return
			}
			s.handlePublished(msg)
		}
	}
}

func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected", "client_id", client.id, "total_clients", total)
}

func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	client.close()
	s.logger.Infow("Client disconnected", "client_id", client.id, "total_clients", total)
}

func (s *Server) isResultTopic(topic string) bool {
	return topic == s.topics.Success || topic == s.topics.Failure
}

// handlePublished decodes a bus message and sends it to every interested client.
// Clients that cannot keep up are dropped rather than blocking the hub.
func (s *Server) handlePublished(msg *bus.Message) {
	if !s.isResultTopic(msg.Topic) {
		return
	}
	result, err := message.Decode(msg)
	if err != nil {
		s.logger.Warnw("Skipping undecodable result", logger.FieldMessageID, msg.ID, logger.FieldError, err)
		return
	}

	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		if !client.wants(result.Outcome) {
			continue
		}
		select {
		case client.send <- &result:
		default:
			s.broadcastDrops.Add(1)
			s.removeSlowClient(client)
		}
	}
}

// removeSlowClient is only called from the hub, which owns closing client channels
func (s *Server) removeSlowClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	s.mu.Unlock()

	client.close()
	s.logger.Warnw("Client send channel full, removing client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load())
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(state ServerState) {
	s.state.Store(int32(state))
	s.logger.Infow("Server state changed", "new_state", state.String())
}

// Stop drains HTTP requests, closes client connections and waits for the hub
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	s.mu.Lock()
	httpServer := s.httpServer
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
	}
	s.mu.Unlock()

	// Closing connections unblocks read pumps; hijacked connections are not drained by Shutdown
	for _, client := range clientsToClose {
		client.conn.Close()
	}

	var shutdownErr error
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		shutdownErr = httpServer.Shutdown(ctx)
		cancel()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out", "timeout", ShutdownTimeout)
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete", "broadcast_drops", s.broadcastDrops.Load())
	return errors.Wrap(shutdownErr, "failed to shut down HTTP server")
}

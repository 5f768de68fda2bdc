package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teranos/gdscraper/bus"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/message"
	"github.com/teranos/gdscraper/version"
)

// HandleHealth answers 200 while running and 503 while shutting down
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	info := version.Get()
	state := s.getState()

	health := HealthResponse{
		Status:  "ok",
		State:   state.String(),
		Version: info.Version,
		Commit:  info.Short(),
		Clients: s.clientCount(),
	}
	status := http.StatusOK
	if state != ServerStateRunning {
		health.Status = state.String()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// HandleMetrics serves worker pool metrics and job counts
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := s.pool.GetQueue().GetStats()
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to read job stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, MetricsResponse{
		System:         s.pool.GetSystemMetrics(),
		Queue:          *stats,
		Clients:        s.clientCount(),
		BroadcastDrops: s.broadcastDrops.Load(),
	})
}

// resolveTopic maps the topic parameter to a result topic. "success" and
// "failure" name the configured topics; "" means success.
func (s *Server) resolveTopic(param string) (string, error) {
	switch param {
	case "", message.OutcomeSuccess:
		return s.topics.Success, nil
	case message.OutcomeFailure:
		return s.topics.Failure, nil
	}
	if s.isResultTopic(param) {
		return param, nil
	}
	return "", errors.NewInvalidRequestError("unknown result topic %q", param)
}

// parseInt reads a non-negative integer query parameter, def when absent
func parseInt(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidRequestError("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

// HandleResults lists published outcomes of one result topic, oldest first.
// Query parameters: topic (success, failure or a topic name), after (message id), limit.
func (s *Server) HandleResults(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	topic, err := s.resolveTopic(r.URL.Query().Get("topic"))
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid results request", http.StatusBadRequest)
		return
	}
	after, err := parseInt(r, "after", 0)
	if err != nil {
		writeWrappedError(w, s.logger, err, "invalid results request", http.StatusBadRequest)
		return
	}
	limit, err := parseInt(r, "limit", DefaultResultsLimit)
	if err != nil || limit == 0 || limit > bus.MaxListLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", bus.MaxListLimit))
		return
	}

	msgs, err := s.bus.List(r.Context(), topic, after, int(limit))
	if err != nil {
		writeWrappedError(w, s.logger, err, "failed to list results", http.StatusInternalServerError)
		return
	}

	resp := ResultsResponse{Topic: topic, Results: make([]message.Result, 0, len(msgs)), Next: after}
	for _, msg := range msgs {
		resp.Next = msg.ID
		result, err := message.Decode(msg)
		if err != nil {
			s.logger.Warnw("Skipping undecodable result", logger.FieldMessageID, msg.ID, logger.FieldError, err)
			continue
		}
		resp.Results = append(resp.Results, result)
	}
	writeJSON(w, http.StatusOK, resp)
}

// upgrader accepts connections without an Origin header (CLI clients, tests)
// and browsers on localhost.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1")
}

// HandleWebSocket streams each newly published outcome as JSON.
// ?outcome=success or ?outcome=failure narrows the stream.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	outcome := r.URL.Query().Get("outcome")
	if outcome != "" && outcome != message.OutcomeSuccess && outcome != message.OutcomeFailure {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("outcome must be %s or %s", message.OutcomeSuccess, message.OutcomeFailure))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	client := &Client{
		server:  s,
		conn:    conn,
		send:    make(chan *message.Result, MaxClientMessageQueueSize),
		id:      fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
		outcome: outcome,
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

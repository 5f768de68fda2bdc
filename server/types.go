package server

import (
	"time"

	"github.com/teranos/gdscraper/message"
	"github.com/teranos/gdscraper/pulse/async"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client result queues
	MaxClientMessageQueueSize = 64
	// ShutdownTimeout is how long Stop waits for HTTP handlers and client goroutines
	ShutdownTimeout = 10 * time.Second

	// DefaultResultsLimit applies when /api/results has no limit parameter
	DefaultResultsLimit = 50
)

// ServerState represents the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// HealthResponse is served by /healthz
type HealthResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Clients int    `json:"clients"`
}

// MetricsResponse is served by /api/metrics
type MetricsResponse struct {
	System         async.SystemMetrics `json:"system"`
	Queue          async.QueueStats    `json:"queue"`
	Clients        int                 `json:"clients"`
	BroadcastDrops int64               `json:"broadcast_drops"`
}

// ResultsResponse is served by /api/results. Next is the id to pass as
// after= to continue reading the topic.
type ResultsResponse struct {
	Topic   string           `json:"topic"`
	Results []message.Result `json:"results"`
	Next    int64            `json:"next"`
}

// Package natsbridge carries an external coding-agent engine process's
// tagged event stream to the daemon over NATS, generalized from the
// teacher's internal/nats package (same transport, different payload: the
// agent-session event taxonomy in spec §4.4 instead of agent-dashboard
// messages).
package natsbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ServerConfig configures the embedded NATS server the daemon runs so the
// external engine process (a separate OS process) can publish its event
// stream without any network configuration.
type ServerConfig struct {
	Port    int
	DataDir string // JetStream storage; empty disables JetStream
}

// Server wraps an embedded nats-server instance bound to localhost.
type Server struct {
	srv    *server.Server
	config ServerConfig

	mu      sync.RWMutex
	running bool
}

func NewServer(config ServerConfig) (*Server, error) {
	if config.Port <= 0 {
		config.Port = 4225
	}
	return &Server{config: config}, nil
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("nats bridge server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       s.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if s.config.DataDir != "" {
		opts.JetStream = true
		opts.StoreDir = s.config.DataDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create embedded nats server: %w", err)
	}
	s.srv = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("nats bridge server not ready for connections")
	}
	s.running = true
	return nil
}

func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.srv == nil {
		return
	}
	s.srv.Shutdown()
	s.srv.WaitForShutdown()
	s.running = false
	s.srv = nil
}

func (s *Server) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", s.config.Port)
}

func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

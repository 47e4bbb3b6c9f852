// Package server exposes a printer adapter on the network: raw TCP streams,
// an HTTP relay endpoint, mDNS announcement and the local print agent.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-ticket-printer/adapter"
)

// MaxRelayBody bounds a single HTTP relay job
const MaxRelayBody = 1 << 20

// Server forwards print data from TCP clients and HTTP requests to a printer adapter
type Server struct {
	adapter  adapter.Adapter
	listener net.Listener
	address  string
	mu       sync.Mutex
	running  bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	logger   zerolog.Logger

	// writeMu keeps concurrent jobs from interleaving on the printer
	writeMu sync.Mutex
}

// New creates a new server instance
func New(device adapter.Adapter, address string) *Server {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "relay").Logger()
	return NewWithLogger(device, address, logger)
}

// NewWithLogger creates a new server instance with a custom logger
func NewWithLogger(device adapter.Adapter, address string, logger zerolog.Logger) *Server {
	return &Server{
		adapter: device,
		address: address,
		conns:   make(map[net.Conn]struct{}),
		logger:  logger,
	}
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.address).Msg("starting relay (blocking mode)")
	listener, err := s.listen()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	s.acceptConnections(listener)
	return nil
}

// StartAsync starts the TCP server in a goroutine
func (s *Server) StartAsync() error {
	s.logger.Info().Str("address", s.address).Msg("starting relay (async mode)")
	listener, err := s.listen()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.acceptConnections(listener)
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to start relay")
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	s.writeMu.Lock()
	err = s.ensureOpen()
	s.writeMu.Unlock()
	if err != nil {
		listener.Close()
		return nil, err
	}

	s.listener = listener
	s.running = true
	s.logger.Info().Str("address", listener.Addr().String()).Msg("relay listening")
	return listener, nil
}

// ensureOpen opens the adapter when it is closed. Callers hold writeMu.
func (s *Server) ensureOpen() error {
	if s.adapter.IsOpen() {
		return nil
	}
	s.logger.Debug().Msg("opening printer adapter")
	if err := s.adapter.Open(); err != nil {
		s.logger.Error().Err(err).Msg("failed to open adapter")
		return fmt.Errorf("failed to open adapter: %w", err)
	}
	s.logger.Info().Msg("printer adapter opened")
	return nil
}

func (s *Server) acceptConnections(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !s.IsRunning() {
				s.logger.Debug().Msg("relay shutting down, stopping accept loop")
				return
			}
			s.logger.Warn().Err(err).Msg("error accepting connection")
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		s.logger.Debug().Str("client", conn.RemoteAddr().String()).Msg("client connected")
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	client := conn.RemoteAddr().String()
	buf := make([]byte, 4096)
	total := 0

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := s.write(buf[:n]); werr != nil {
				s.logger.Error().Err(werr).Str("client", client).Msg("error writing to adapter")
				return
			}
			total += n
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn().Err(err).Str("client", client).Msg("error reading from client")
			}
			s.logger.Info().Str("client", client).Int("bytes", total).Msg("raw job forwarded")
			return
		}
	}
}

// write sends data to the adapter in one call, reopening it if it was closed
func (s *Server) write(data []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	n, err := s.adapter.Write(data)
	if err != nil {
		return n, err
	}
	if n != len(data) {
		return n, fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return n, nil
}

type relayResponse struct {
	Success bool   `json:"success"`
	Bytes   int    `json:"bytes,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ServeHTTP accepts a POST whose body is the raw ESC/POS job
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, relayResponse{Message: "method not allowed"})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRelayBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, relayResponse{Message: "print job too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, relayResponse{Message: "failed to read print job"})
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, relayResponse{Message: "empty print job"})
		return
	}

	n, err := s.write(data)
	if err != nil {
		s.logger.Error().Err(err).Str("client", r.RemoteAddr).Msg("relay write failed")
		writeJSON(w, http.StatusBadGateway, relayResponse{Message: err.Error()})
		return
	}

	s.logger.Info().Str("client", r.RemoteAddr).Int("bytes", n).Msg("HTTP job forwarded")
	writeJSON(w, http.StatusOK, relayResponse{Success: true, Bytes: n})
}

// Stop stops the TCP server and closes the adapter
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listener := s.listener
	s.listener = nil
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.logger.Info().Msg("stopping relay")
	if listener != nil {
		listener.Close()
	}
	s.wg.Wait()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.adapter.IsOpen() {
		if err := s.adapter.Close(); err != nil {
			s.logger.Error().Err(err).Msg("error closing adapter")
			return err
		}
	}

	s.logger.Info().Msg("relay stopped")
	return nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the configured address
func (s *Server) Address() string {
	return s.address
}

// ListenAddr returns the bound address while running
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Adapter returns the underlying adapter
func (s *Server) Adapter() adapter.Adapter {
	return s.adapter
}

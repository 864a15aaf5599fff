package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cosim-bus/cosim-go/pkg/log"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the attach point to listen on.
	Address Address

	// Channel configures channels created for accepted connections.
	Channel ChannelConfig

	// MaxConnections limits concurrently served connections (0 = unlimited).
	// Connections beyond the limit are closed immediately.
	MaxConnections int

	// OnConnect is called in its own goroutine for each accepted connection.
	// The channel is closed when OnConnect returns.
	OnConnect func(ctx context.Context, ch *Channel)

	// OnError is called for accept errors.
	OnError func(err error)
}

// Server accepts device connections on one attach point.
type Server struct {
	config   ServerConfig
	listener net.Listener

	chans   map[*Channel]struct{}
	chansMu sync.Mutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. Start begins listening.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Address.Network == "" {
		return nil, fmt.Errorf("%w: no address", ErrInvalidAddress)
	}
	if config.OnConnect == nil {
		return nil, errors.New("OnConnect is required")
	}
	config.Channel.Logger = log.OrNoop(config.Channel.Logger)
	return &Server{
		config: config,
		chans:  make(map[*Channel]struct{}),
	}, nil
}

// Start opens the listener and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}
	l, err := Listen(s.config.Address)
	if err != nil {
		return err
	}
	s.listener = l
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open channel, then waits for handlers.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	err := s.listener.Close()

	s.chansMu.Lock()
	for ch := range s.chans {
		ch.Close()
	}
	s.chansMu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the listen address (useful with port 0).
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of connections being served.
func (s *Server) ConnectionCount() int {
	s.chansMu.Lock()
	defer s.chansMu.Unlock()
	return len(s.chans)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			if s.config.OnError != nil {
				s.config.OnError(fmt.Errorf("accept error: %w", err))
			}
			// Back off briefly so a persistent accept failure does not spin.
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		if s.config.MaxConnections > 0 && s.ConnectionCount() >= s.config.MaxConnections {
			conn.Close()
			continue
		}

		ch := NewChannel(conn, s.config.Channel)
		s.chansMu.Lock()
		s.chans[ch] = struct{}{}
		s.chansMu.Unlock()

		s.logState(ch, "", "CONNECTED")

		s.wg.Add(1)
		go s.serve(ch)
	}
}

func (s *Server) serve(ch *Channel) {
	defer s.wg.Done()

	s.config.OnConnect(s.ctx, ch)
	ch.Close()

	s.chansMu.Lock()
	delete(s.chans, ch)
	s.chansMu.Unlock()

	s.logState(ch, "CONNECTED", "DISCONNECTED")
}

func (s *Server) logState(ch *Channel, oldState, newState string) {
	s.config.Channel.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: ch.ID(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    s.config.Channel.Role,
		RemoteAddr:   ch.RemoteAddr().String(),
		DeviceName:   ch.PeerName(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}

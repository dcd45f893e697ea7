package redisserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/meshkv/internal/telemetry/logger"
)

// Config holds the RESP server configuration.
type Config struct {
	Addr string

	// ReadTimeout bounds reading one command once its first byte arrived.
	ReadTimeout time.Duration
	// WriteTimeout bounds flushing one reply.
	WriteTimeout time.Duration
	// IdleTimeout closes connections that send nothing (0 keeps them).
	IdleTimeout time.Duration

	// RateLimit is commands per second per client IP; 0 disables limiting.
	RateLimit float64
	RateBurst int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:6379",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the RESP front-end.
type Server struct {
	cfg      Config
	handler  *Handler
	limiters *limiterRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	ln      net.Listener
	conns   map[*Conn]struct{}
	running atomic.Bool
	wg      sync.WaitGroup
}

// Conn is one client connection.
type Conn struct {
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	out     reply

	// db is the selected database. Only the connection's goroutine uses it.
	db uint32

	closed atomic.Bool
}

func newConn(c net.Conn) *Conn {
	bw := bufio.NewWriter(c)
	return &Conn{
		netConn: c,
		br:      bufio.NewReader(c),
		bw:      bw,
		out:     reply{w: bw},
	}
}

// Close closes the connection once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

// RemoteIP returns the client address without its port.
func (c *Conn) RemoteIP() string {
	addr := c.netConn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// New creates a server dispatching to h.
func New(cfg Config, h *Handler, log *slog.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		handler: h,
		logger:  log.With("component", "redis"),
		conns:   make(map[*Conn]struct{}),
	}
	if cfg.RateLimit > 0 {
		s.limiters = newLimiterRegistry(cfg.RateLimit, cfg.RateBurst)
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.running.Store(true)

	s.logger.Info("redis server listening", "addr", ln.Addr().String())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ln); err != nil {
			s.logger.Error("redis accept loop stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting, closes client connections and waits for their
// goroutines. A command already dispatched runs to completion; its reply
// may be lost.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	err := s.ln.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("redis server stopped")
	return err
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		c := newConn(nc)
		s.mu.Lock()
		if !s.running.Load() {
			s.mu.Unlock()
			c.Close()
			return nil
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
			}()
			s.serveConn(c)
		}()
	}
}

func (s *Server) serveConn(c *Conn) {
	defer c.Close()

	for s.running.Load() {
		var idle time.Time
		if s.cfg.IdleTimeout > 0 {
			idle = time.Now().Add(s.cfg.IdleTimeout)
		}
		if err := c.netConn.SetReadDeadline(idle); err != nil {
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			s.logClosed(c, err)
			return
		}

		// Tighten to the per-command timeout once a command has started.
		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}
		args, err := ReadCommand(c.br)
		if err != nil {
			if errors.Is(err, ErrProtocol) || errors.Is(err, ErrLimitExceeded) {
				s.logger.Warn("protocol error", "remote", c.RemoteIP(), "error", err)
				c.out.err("ERR Protocol error: " + err.Error())
				_ = c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				_ = c.bw.Flush()
			} else {
				s.logClosed(c, err)
			}
			return
		}
		if len(args) == 0 {
			continue
		}

		quit := false
		if s.limiters != nil && !s.limiters.allow(c.RemoteIP()) {
			c.out.err("ERR rate limit exceeded")
			s.handler.metrics.RecordCommand(commandName(args[0]), "limited")
		} else {
			quit = s.handler.Handle(c, args)
		}

		if err := c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return
		}
		if err := c.bw.Flush(); err != nil || quit {
			return
		}
	}
}

func (s *Server) logClosed(c *Conn, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	case errors.As(err, &netErr) && netErr.Timeout():
		s.logger.Debug("connection timed out", "remote", c.RemoteIP())
	default:
		s.logger.Debug("connection read error", "remote", c.RemoteIP(), "error", err)
	}
}

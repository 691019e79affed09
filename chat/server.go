package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	gows "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config carries the server's listen addresses and tuning. Only Addr is
// required; empty optional addresses disable their listener.
type Config struct {
	// Addr is the TCP listen address for the chat protocol.
	Addr string

	// WSAddr optionally serves the same protocol over websockets.
	WSAddr string

	// MetricsAddr optionally serves Prometheus metrics over HTTP.
	MetricsAddr string

	// AdminAddr optionally serves the SSH operator console.
	AdminAddr string

	// AdminHostKey is the path to the console's SSH host key. Optional;
	// without it the console generates an ephemeral key on start.
	AdminHostKey string

	// ConnRateLimit caps connections per client IP per minute. Zero
	// disables rate limiting.
	ConnRateLimit int

	// ShutdownGrace bounds how long Close waits for connection handlers.
	ShutdownGrace time.Duration
}

// Server accepts client connections and runs one handler goroutine per
// connection: read an envelope, route it, reply, repeat until the peer goes
// away or exits.
type Server struct {
	cfg      Config
	log      *slog.Logger
	store    CredentialStore
	registry *Registry
	router   *Router
	metrics  *Metrics
	bans     *BanList
	limiter  *RateLimiter

	ln        net.Listener
	wsSrv     *http.Server
	metricsLn *http.Server
	adminSrv  *adminConsole

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer assembles a server around its credential store. metrics may be
// nil to disable instrumentation entirely.
func NewServer(cfg Config, store CredentialStore, log *slog.Logger, metrics *Metrics) *Server {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	registry := NewRegistry(log, metrics)
	s := &Server{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: registry,
		router:   NewRouter(registry, store, log, metrics),
		metrics:  metrics,
		bans:     NewBanList(),
		done:     make(chan struct{}),
	}
	if cfg.ConnRateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.ConnRateLimit, time.Minute)
	}
	return s
}

// Registry exposes the session registry, used by the admin console and
// tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Bans exposes the ban list, used by the admin console and tests.
func (s *Server) Bans() *BanList {
	return s.bans
}

// Addr returns the chat listener's bound address, valid after
// ListenAndServe has started listening.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Listen binds every configured listener without accepting yet. It is split
// from Serve so callers (and tests) can learn the bound addresses of
// ":0"-style configs before the first connection.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln

	if s.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
		s.metricsLn = &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}
	}

	if s.cfg.WSAddr != "" {
		upgrader := gows.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
			wc, err := upgrader.Upgrade(w, req, nil)
			if err != nil {
				s.log.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "err", err)
				return
			}
			s.handleConn(NewWebsocketConn(wc))
		})
		s.wsSrv = &http.Server{Addr: s.cfg.WSAddr, Handler: mux}
	}

	if s.cfg.AdminAddr != "" {
		s.adminSrv = newAdminConsole(s, s.cfg.AdminAddr, s.cfg.AdminHostKey, s.log)
	}
	return nil
}

// Serve runs the accept loops until Close. Listen must have succeeded.
func (s *Server) Serve() error {
	if s.metricsLn != nil {
		go func() {
			s.log.Info("metrics listening", "addr", s.cfg.MetricsAddr)
			if err := s.metricsLn.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics server error", "err", err)
			}
		}()
	}
	if s.wsSrv != nil {
		go func() {
			s.log.Info("websocket listening", "addr", s.cfg.WSAddr)
			if err := s.wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("websocket server error", "err", err)
			}
		}()
	}
	if s.adminSrv != nil {
		go s.adminSrv.run()
	}

	s.log.Info("chat server listening", "addr", s.Addr())
	for {
		c, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}
		if ip := remoteIP(c); ip != "" {
			if s.bans.IsBanned(ip) {
				s.log.Info("rejected banned address", "ip", ip)
				_ = c.Close()
				continue
			}
			if s.limiter != nil && !s.limiter.Allow(ip) {
				s.log.Warn("connection rate limit exceeded", "ip", ip)
				_ = c.Close()
				continue
			}
		}
		s.metrics.ConnAccepted()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(NewConn(c))
		}()
	}
}

// remoteIP extracts the peer's address without the port.
func remoteIP(c net.Conn) string {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return ""
	}
	return host
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// handleConn runs the receive-decode-route loop for one connection. It
// drives the protocol state machine and guarantees that the session, if one
// was created, is unregistered exactly once on the way out.
func (s *Server) handleConn(conn Conn) {
	remote := conn.RemoteAddr()
	s.log.Debug("connection established", "remote", remote)

	var sess *Session
	defer func() {
		conn.Close()
		if sess != nil && s.registry.Drop(sess) {
			// Teardown without an explicit exit: everyone else learns
			// about the departure here.
			s.registry.BroadcastMembership("")
			s.log.Info("session disconnected", "user", sess.Name)
		}
		s.log.Debug("connection closed", "remote", remote)
	}()

	st := StateUnauthenticated
	for st != StateClosed {
		env, err := conn.ReadEnvelope()
		if errors.Is(err, ErrMalformed) {
			// One bad frame rejects one request; the connection lives on.
			if werr := conn.WriteEnvelope(Response(StatusUnknownCommand)); werr != nil {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		var resp Envelope
		resp, st, sess = s.router.Handle(st, sess, conn, env)
		if err := conn.WriteEnvelope(resp); err != nil {
			return
		}
	}
}

// Close stops accepting, tears down every live session and waits up to the
// shutdown grace period for the handlers to drain.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			_ = s.ln.Close()
		}
		if s.wsSrv != nil {
			_ = s.wsSrv.Close()
		}
		if s.metricsLn != nil {
			_ = s.metricsLn.Close()
		}
		if s.adminSrv != nil {
			s.adminSrv.close()
		}
		s.registry.CloseAll()

		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(s.cfg.ShutdownGrace):
			s.log.Warn("shutdown grace period elapsed with handlers still running")
		}
	})
	return nil
}

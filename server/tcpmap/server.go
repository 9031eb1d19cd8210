package tcpmap

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leapmail/mx/logger"
	"github.com/leapmail/mx/pkg/metrics"
	"github.com/leapmail/mx/resolver"
	"github.com/leapmail/mx/server"
	"github.com/leapmail/mx/server/idgen"
)

const (
	DefaultIdleTimeout   = 120 * time.Second
	DefaultMaxLineLength = 4096
)

// Lookup modes. ModeAlias resolves keys against the backend; in
// ModeIdentifier the listener acts as a virtual alias map and a lookup
// answers with the identifier derived from the key itself.
const (
	ModeAlias      = "alias"
	ModeIdentifier = "identifier"
)

// TCPMapServer listens for Postfix TCP map connections and spawns one
// session per accepted connection. All sessions share the server's
// resolver, and through it the single backend connection.
type TCPMapServer struct {
	addr     string
	name     string
	hostname string
	resolver *resolver.Resolver
	appCtx   context.Context
	cancel   context.CancelFunc

	idleTimeout   time.Duration
	maxLineLength int
	mode          string

	totalConnections atomic.Int64
	sessionsWg       sync.WaitGroup
}

type TCPMapServerOptions struct {
	IdleTimeout   time.Duration
	MaxLineLength int
	Mode          string
}

func New(appCtx context.Context, name, hostname, addr string, rsv *resolver.Resolver, options TCPMapServerOptions) (*TCPMapServer, error) {
	if addr == "" {
		return nil, fmt.Errorf("tcpmap [%s]: listen address must not be empty", name)
	}

	mode := options.Mode
	if mode == "" {
		mode = ModeAlias
	}
	if mode != ModeAlias && mode != ModeIdentifier {
		return nil, fmt.Errorf("tcpmap [%s]: unknown lookup mode '%s'", name, mode)
	}

	idleTimeout := options.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	maxLineLength := options.MaxLineLength
	if maxLineLength <= 0 {
		maxLineLength = DefaultMaxLineLength
	}

	serverCtx, serverCancel := context.WithCancel(appCtx)

	return &TCPMapServer{
		addr:          addr,
		name:          name,
		hostname:      hostname,
		resolver:      rsv,
		appCtx:        serverCtx,
		cancel:        serverCancel,
		idleTimeout:   idleTimeout,
		maxLineLength: maxLineLength,
		mode:          mode,
	}, nil
}

func (s *TCPMapServer) Start(errChan chan error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		errChan <- fmt.Errorf("failed to create listener: %w", err)
		return
	}
	defer listener.Close()

	logger.Info("TCPMap listening", "name", s.name, "addr", s.addr, "idle_timeout", s.idleTimeout)
	logger.Info("Configure Postfix to query this resolver", "example",
		fmt.Sprintf("postconf -e 'virtual_alias_maps = tcp:%s'", s.addr))

	go func() {
		<-s.appCtx.Done()
		logger.Info("TCPMap stopping", "name", s.name)
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.appCtx.Done():
				logger.Info("TCPMap server stopped gracefully", "name", s.name)
				return
			default:
				errChan <- err
				return
			}
		}

		session := s.newSession(conn)
		totalCount := s.totalConnections.Add(1)

		metrics.ConnectionsTotal.WithLabelValues("tcpmap").Inc()
		metrics.ConnectionsCurrent.WithLabelValues("tcpmap").Inc()

		logger.Info("TCPMap new connection", "name", s.name, "remote", session.RemoteIP, "conn_total", totalCount)

		s.sessionsWg.Add(1)
		go func() {
			defer s.sessionsWg.Done()
			start := time.Now()
			session.handleConnection()
			metrics.ConnectionsCurrent.WithLabelValues("tcpmap").Dec()
			metrics.ConnectionDuration.WithLabelValues("tcpmap").Observe(time.Since(start).Seconds())
		}()
	}
}

// newSession builds a session bound to this server. Sessions hold no
// state beyond the transport handle and what they inherit from here.
func (s *TCPMapServer) newSession(conn net.Conn) *TCPMapSession {
	sessionCtx, sessionCancel := context.WithCancel(s.appCtx)

	session := &TCPMapSession{
		server: s,
		conn:   conn,
		ctx:    sessionCtx,
		cancel: sessionCancel,
	}
	session.Session = server.Session{
		Id:         idgen.New(),
		RemoteIP:   remoteIP(conn),
		HostName:   s.hostname,
		ServerName: s.name,
		Protocol:   "TCPMap",
		Stats:      s,
	}
	return session
}

func remoteIP(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		if host, _, err := net.SplitHostPort(addr.String()); err == nil {
			return host
		}
		return addr.String()
	}
	return ""
}

// Close stops accepting and waits for active sessions to drain.
func (s *TCPMapServer) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.waitForSessionsDrain(30 * time.Second)
}

func (s *TCPMapServer) waitForSessionsDrain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.sessionsWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("TCPMap all sessions drained gracefully", "name", s.name)
	case <-time.After(timeout):
		logger.Warn("TCPMap session drain timeout, forcing shutdown", "name", s.name, "timeout", timeout)
	}
}

// GetTotalConnections returns the lifetime connection count.
func (s *TCPMapServer) GetTotalConnections() int64 {
	return s.totalConnections.Load()
}

package server

import (
	"fmt"

	"github.com/leapmail/mx/logger"
)

// ConnectionStatsProvider defines an interface for getting connection statistics
type ConnectionStatsProvider interface {
	GetTotalConnections() int64
}

// Session carries the per-connection identity shared by all protocol
// implementations: transport addressing, the owning server's name and
// the connection counters used in log lines.
type Session struct {
	Id         string
	RemoteIP   string
	HostName   string
	ServerName string
	Protocol   string
	Stats      ConnectionStatsProvider
}

func (s *Session) Log(format string, args ...any) {
	if s.Stats != nil {
		logger.Info("Session", "protocol", s.protocolPrefix(), "remote", s.RemoteIP, "session", s.Id, "conn_total", s.Stats.GetTotalConnections(), "msg", fmt.Sprintf(format, args...))
	} else {
		logger.Info("Session", "protocol", s.protocolPrefix(), "remote", s.RemoteIP, "session", s.Id, "msg", fmt.Sprintf(format, args...))
	}
}

func (s *Session) DebugLog(format string, args ...any) {
	if s.Stats != nil {
		logger.Debug("Session", "protocol", s.protocolPrefix(), "remote", s.RemoteIP, "session", s.Id, "conn_total", s.Stats.GetTotalConnections(), "msg", fmt.Sprintf(format, args...))
	} else {
		logger.Debug("Session", "protocol", s.protocolPrefix(), "remote", s.RemoteIP, "session", s.Id, "msg", fmt.Sprintf(format, args...))
	}
}

func (s *Session) WarnLog(format string, args ...any) {
	if s.Stats != nil {
		logger.Warn("Session", "protocol", s.protocolPrefix(), "remote", s.RemoteIP, "session", s.Id, "conn_total", s.Stats.GetTotalConnections(), "msg", fmt.Sprintf(format, args...))
	} else {
		logger.Warn("Session", "protocol", s.protocolPrefix(), "remote", s.RemoteIP, "session", s.Id, "msg", fmt.Sprintf(format, args...))
	}
}

// ErrorLog logs an unexpected fault with its error for later diagnosis.
func (s *Session) ErrorLog(err error, format string, args ...any) {
	logger.Error("Session", "protocol", s.protocolPrefix(), "remote", s.RemoteIP, "session", s.Id, "error", err, "msg", fmt.Sprintf(format, args...))
}

func (s *Session) protocolPrefix() string {
	if s.ServerName != "" {
		return fmt.Sprintf("%s-%s", s.Protocol, s.ServerName)
	}
	return s.Protocol
}

package tcpmap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/leapmail/mx/consts"
	"github.com/leapmail/mx/pkg/metrics"
	"github.com/leapmail/mx/server"
)

// TCPMapSession handles one accepted connection. It frames
// newline-terminated requests, dispatches verbs against the shared
// resolver and writes exactly one reply line per request. Requests on a
// connection are handled strictly in order, so replies can never be
// observed out of order by the peer.
type TCPMapSession struct {
	server.Session
	server *TCPMapServer
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// errLineTooLong reports a request line that did not fit within the
// configured maximum before a newline arrived.
var errLineTooLong = errors.New("request line too long")

func (s *TCPMapSession) handleConnection() {
	defer s.cancel()
	defer s.conn.Close()

	// The reader's buffer is the line-length limit: a peer streaming
	// bytes without a newline can never grow memory past it.
	reader := bufio.NewReaderSize(s.conn, s.server.maxLineLength)
	writer := bufio.NewWriter(s.conn)

	s.Log("connected")

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.server.idleTimeout))

		line, err := readLine(reader)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				s.WarnLog("request line exceeds limit %d, dropping connection", s.server.maxLineLength)
				writer.WriteString(replyStatus(StatusBad) + "\n")
				writer.Flush()
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.Log("timed out after %v of inactivity", s.server.idleTimeout)
			} else if err == io.EOF {
				s.Log("client dropped connection")
			} else if s.ctx.Err() != nil {
				s.Log("closing, server shutting down")
			} else {
				s.Log("read error: %v", err)
			}
			return
		}

		start := time.Now()
		reply, verb := s.handleRequest(line)

		writer.WriteString(reply + "\n")
		if err := writer.Flush(); err != nil {
			s.Log("write error: %v", err)
			return
		}

		metrics.RequestsTotal.WithLabelValues(verb, reply[:3]).Inc()
		metrics.RequestDuration.WithLabelValues(verb).Observe(time.Since(start).Seconds())
	}
}

// readLine reads one newline-terminated request. The reader's buffer
// caps how much can accumulate; filling it without finding the
// delimiter is reported as errLineTooLong.
func readLine(reader *bufio.Reader) (string, error) {
	slice, err := reader.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return "", errLineTooLong
	}
	if err != nil {
		return "", err
	}
	return string(slice), nil
}

// handleRequest parses and dispatches a single request line and always
// produces a reply. Any panic escaping a handler is caught here and
// converted to a 500 reply so one bad request can never take down the
// connection or the process.
func (s *TCPMapSession) handleRequest(line string) (reply string, verb string) {
	verb = "unknown"
	defer func() {
		if rec := recover(); rec != nil {
			s.ErrorLog(fmt.Errorf("%v", rec), "panic while handling %s request", verb)
			reply = replyText(StatusBad, "internal server error")
		}
	}()

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return replyStatus(StatusBad), verb
	}

	rawVerb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToLower(rawVerb)

	switch verb {
	case "get":
		return s.doGet(arg), verb
	case "put":
		return s.doPut(arg), verb
	case "delete":
		// Deliberately unsupported. The request still gets its reply
		// instead of being aborted unanswered.
		s.DebugLog("rejected delete request")
		return replyText(StatusBad, consts.ErrUnsupportedCommand.Error()), verb
	default:
		s.DebugLog("unrecognized verb %q", verb)
		return replyStatus(StatusBad), verb
	}
}

// doGet resolves a single key. The key arrives percent-encoded; the
// value is encoded on the way out so the reply stays on one line.
func (s *TCPMapSession) doGet(arg string) string {
	key, err := unquote(strings.TrimSpace(arg))
	if err != nil {
		s.DebugLog("get with undecodable key: %v", err)
		return replyStatus(StatusBad)
	}
	if key == "" {
		s.DebugLog("get without a key")
		return replyStatus(StatusBad)
	}

	// A virtual alias map derives the identifier from the key itself;
	// no backend round trip is involved.
	if s.server.mode == ModeIdentifier {
		return replyText(StatusOK, quote(s.server.resolver.DeriveIdentifier(key)))
	}

	value, err := s.server.resolver.Get(s.ctx, key)
	switch {
	case err == nil:
		return replyText(StatusOK, quote(value))
	case errors.Is(err, consts.ErrAliasNotFound):
		return replyStatus(StatusNoKey)
	case errors.Is(err, consts.ErrNotConnected):
		return replyStatus(StatusRetry)
	default:
		s.ErrorLog(err, "lookup failed for key %q", key)
		return replyStatus(StatusFail)
	}
}

// doPut stores a new alias, refusing to overwrite. The argument must
// carry a key and a value; each token is decoded separately since the
// separating space is the one byte the encoding keeps meaningful.
func (s *TCPMapSession) doPut(arg string) string {
	// Derived identifiers are computed, not stored.
	if s.server.mode == ModeIdentifier {
		s.DebugLog("rejected put on an identifier map")
		return replyText(StatusBad, consts.ErrUnsupportedCommand.Error())
	}

	arg = strings.TrimSpace(arg)
	rawKey, rawValue, found := strings.Cut(arg, " ")
	if !found || rawKey == "" || strings.TrimSpace(rawValue) == "" {
		s.DebugLog("put requires a key and a value")
		return replyStatus(StatusBad)
	}

	key, err := unquote(rawKey)
	if err != nil || key == "" {
		s.DebugLog("put with undecodable key: %v", err)
		return replyStatus(StatusBad)
	}
	value, err := unquote(strings.TrimSpace(rawValue))
	if err != nil {
		s.DebugLog("put with undecodable value: %v", err)
		return replyStatus(StatusBad)
	}

	// Existence check first: an alias that already resolves is never
	// silently overwritten.
	_, err = s.server.resolver.Get(s.ctx, key)
	switch {
	case err == nil:
		s.DebugLog("refused to overwrite existing alias %q", key)
		return replyStatus(StatusDeny)
	case errors.Is(err, consts.ErrAliasNotFound):
		// Free to insert.
	case errors.Is(err, consts.ErrNotConnected):
		return replyStatus(StatusRetry)
	default:
		s.ErrorLog(err, "existence check failed for key %q", key)
		return replyStatus(StatusFail)
	}

	err = s.server.resolver.Put(s.ctx, key, value)
	switch {
	case err == nil:
		return replyStatus(StatusOK)
	case errors.Is(err, consts.ErrDuplicateAlias):
		// Lost the race with a concurrent insert; same answer as the
		// existence check would have given.
		return replyStatus(StatusDeny)
	case errors.Is(err, consts.ErrNotConnected):
		return replyStatus(StatusRetry)
	default:
		s.ErrorLog(err, "insert failed for key %q", key)
		return replyStatus(StatusFail)
	}
}

package tcpmap

import (
	"fmt"
	"strings"

	"github.com/leapmail/mx/logger"
)

// StatusCode is a reply code from the protocol's fixed vocabulary.
type StatusCode int

const (
	StatusOK    StatusCode = 200
	StatusRetry StatusCode = 400
	StatusBad   StatusCode = 500
	StatusNoKey StatusCode = 550
	StatusDefer StatusCode = 552
	StatusDeny  StatusCode = 553
	StatusFail  StatusCode = 554
)

// Each numeric code maps to exactly one variant and carries one
// canonical text. 500 is strictly "malformed request"; not-found is
// always 550.
var statusMessages = map[StatusCode]string{
	StatusOK:    "OK",
	StatusRetry: "temporary lookup failure, try again later",
	StatusBad:   "malformed request",
	StatusNoKey: "no such key",
	StatusDefer: "deferred if local",
	StatusDeny:  "request denied",
	StatusFail:  "permanent lookup failure",
}

var statusByName = map[string]StatusCode{
	"OK":    StatusOK,
	"RETRY": StatusRetry,
	"BAD":   StatusBad,
	"NOKEY": StatusNoKey,
	"DEFER": StatusDefer,
	"DENY":  StatusDeny,
	"FAIL":  StatusFail,
}

// Message returns the canonical text for the code. Codes outside the
// vocabulary fall back to the FAIL text so callers always have
// something to send.
func (c StatusCode) Message() string {
	if msg, ok := statusMessages[c]; ok {
		return msg
	}
	return statusMessages[StatusFail]
}

// EncodeName maps a canonical completion name ("OK", "NOKEY", ...) to
// its numeric code and text. Unrecognized names return 500 with the
// FAIL text: a reply is always produced, never silently dropped.
func EncodeName(name string) (int, string) {
	if code, ok := statusByName[strings.ToUpper(name)]; ok {
		return int(code), statusMessages[code]
	}
	return int(StatusBad), statusMessages[StatusFail]
}

// EncodeCode returns the canonical text for a numeric code. A code
// outside the vocabulary cannot be classified: it is logged and
// reported with code 0 and the NOKEY text, and the caller must still
// emit a literal reply rather than an empty one.
func EncodeCode(code int) (int, string) {
	if msg, ok := statusMessages[StatusCode(code)]; ok {
		return code, msg
	}
	logger.Debug("tcpmap: unclassifiable status code", "code", code)
	return 0, statusMessages[StatusNoKey]
}

// replyStatus renders a reply line carrying the code's canonical text.
// The code is classified through the registry so every reply line comes
// from the same vocabulary the encoders expose.
func replyStatus(code StatusCode) string {
	n, msg := EncodeCode(int(code))
	return fmt.Sprintf("%3.3d %s", n, msg)
}

// replyText renders a reply line with caller-supplied text.
func replyText(code StatusCode, text string) string {
	return fmt.Sprintf("%3.3d %s", int(code), text)
}

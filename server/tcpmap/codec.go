package tcpmap

import (
	"fmt"
	"strings"
)

// The tcp_table(5) convention: whitespace, '%' and non-printing bytes
// in keys and values are %XX-encoded so that a request or reply always
// fits on a single line.

const upperhex = "0123456789ABCDEF"

func shouldQuote(b byte) bool {
	return b <= 0x20 || b >= 0x7F || b == '%'
}

// quote percent-encodes s for transmission on a protocol line.
func quote(s string) string {
	var quoted int
	for i := 0; i < len(s); i++ {
		if shouldQuote(s[i]) {
			quoted++
		}
	}
	if quoted == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 2*quoted)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if shouldQuote(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xF])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// unquote decodes %XX escapes in a request token. A truncated or
// malformed escape is a malformed request.
func unquote(s string) (string, error) {
	if !strings.ContainsRune(s, '%') {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated %%XX escape at offset %d", i)
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("invalid %%XX escape at offset %d", i)
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

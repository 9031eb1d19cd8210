// Package tcpmap implements the Postfix TCP map lookup protocol
// (tcp_table(5)), used by an MTA to resolve mail aliases over TCP.
//
// The protocol is line based. The client sends one request per line and
// waits for exactly one reply line before sending the next:
//
//	get <key>\n
//	put <key> <value>\n
//
// Keys and values are percent-encoded so that requests and replies stay
// single-line-safe. Replies carry a fixed three-digit status code:
//
//	200 OK (the text carries the value on lookup)
//	400 transient failure, the client should retry
//	500 malformed request or internal error
//	550 key not found
//	552 deferred, local-only
//	553 request rejected (e.g. duplicate insert)
//	554 unrecoverable failure
//
// The delete verb is deliberately not supported and is rejected
// deterministically.
//
// A listener runs in one of two lookup modes. In the default alias
// mode, get resolves the key against the backend store. In identifier
// mode the listener serves as a virtual alias map: get answers with
// the stable identifier derived from the key itself, and put is
// rejected. Test a running server with:
//
//	$ postmap -q isis tcp:localhost:4242
package tcpmap

// Package slackapi is a rate-limited client for a Slack-shaped team-chat
// HTTP API: bearer-token auth, members/next_cursor pagination, an
// ok/error envelope, and 429 + Retry-After rate-limiting.
package slackapi

import (
	"fmt"

	"github.com/wscache/wscache/internal/protoerr"
)

// statusError projects a non-2xx, non-429 HTTP status onto the protocol
// taxonomy. 401 is Unauthorized; 400/403/404 and anything else
// non-retriable surface as RemoteApi carrying the body's error code
// when present, else the raw status.
func statusError(status int, remoteCode string) *protoerr.Error {
	if status == 401 {
		return protoerr.New(protoerr.Unauthorized, "request rejected: invalid or expired credential")
	}
	if remoteCode == "" {
		remoteCode = fmt.Sprintf("http_%d", status)
	}
	return protoerr.RemoteApiError(remoteCode)
}

// envelopeError projects a well-formed but ok=false response body onto
// RemoteApi(error_code), per spec.md §6.
func envelopeError(code string) *protoerr.Error {
	if code == "" {
		code = "unknown_error"
	}
	return protoerr.RemoteApiError(code)
}

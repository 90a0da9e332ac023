package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is a non-2xx answer of the node.
type Error struct {
	Status    int    `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"error"`
	Message   string `json:"message"`
	Path      string `json:"path"`
	Trace     string `json:"trace,omitempty"`
}

func newError(status int, body []byte) *Error {
	e := &Error{}
	if err := json.Unmarshal(body, e); err != nil || e.Status == 0 {
		e = &Error{Status: status, Reason: http.StatusText(status), Message: truncate(body)}
	}
	e.Status = status
	return e
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("lavalink http %d: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("lavalink http %d: %s: %s", e.Status, e.Reason, e.Message)
}

// StatusCode makes Error classifiable by retrylimit.
func (e *Error) StatusCode() int { return e.Status }

func truncate(b []byte) string {
	const limit = 300
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

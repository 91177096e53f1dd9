package engineio

import (
	"net/http"
	"net/url"
)

// ReadyState is the lifecycle state of a transport connection.
type ReadyState int32

const (
	StateOpen ReadyState = iota
	StateClosing
	StateClosed
)

func (s ReadyState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Request is the metadata of the HTTP request that opened a connection.
type Request struct {
	Headers    http.Header
	RemoteAddr string
	URL        string
	Query      url.Values
	Secure     bool
}

// NewRequest snapshots r.
func NewRequest(r *http.Request) *Request {
	return &Request{
		Headers:    r.Header.Clone(),
		RemoteAddr: r.RemoteAddr,
		URL:        r.URL.String(),
		Query:      r.URL.Query(),
		Secure:     r.TLS != nil,
	}
}

// WriteOptions tune a single frame write.
type WriteOptions struct {
	Compress bool
}

package kissio

import (
	"net/http"
	"net/url"
	"time"

	"github.com/ramory-l/kissio/engineio"
)

// Handshake is the connection metadata captured when a socket is created.
type Handshake struct {
	Headers http.Header
	Time    string
	Address string
	XDomain bool
	Secure  bool
	// Issued is the creation time in unix milliseconds.
	Issued int64
	URL    string
	Query  url.Values
}

// buildHandshake snapshots req. A namespace-specific query replaces the
// request query, keeping only the transport parameters of the latter.
func buildHandshake(req *engineio.Request, query url.Values) Handshake {
	if req == nil {
		req = &engineio.Request{}
	}

	now := time.Now()
	q := url.Values{}
	if query != nil {
		q = cloneValues(query)
		for _, k := range []string{"t", "EIO", "transport"} {
			if v, ok := req.Query[k]; ok {
				q[k] = append([]string(nil), v...)
			}
		}
	} else if req.Query != nil {
		q = cloneValues(req.Query)
	}

	headers := req.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	return Handshake{
		Headers: headers,
		Time:    now.String(),
		Address: req.RemoteAddr,
		XDomain: headers.Get("Origin") != "",
		Secure:  req.Secure,
		Issued:  now.UnixMilli(),
		URL:     req.URL,
		Query:   q,
	}
}

func (h Handshake) clone() Handshake {
	h.Headers = h.Headers.Clone()
	h.Query = cloneValues(h.Query)
	return h
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/kissio"
	"github.com/ramory-l/kissio/engineio"
	"github.com/ramory-l/kissio/kissiotest"
	"github.com/ramory-l/kissio/parser"
)

var secret = []byte("test-secret")

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tok
}

func newServer(t *testing.T, cfg Config) (*kissio.Server, *kissio.Namespace) {
	t.Helper()

	sc := kissio.DefaultConfig()
	sc.ConnectDefault = false
	srv := kissio.NewServer(sc, kissio.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { _ = srv.Close() })

	ns := srv.Of("/secure")
	ns.Use(Middleware(cfg))
	return srv, ns
}

func connect(t *testing.T, srv *kissio.Server, headers http.Header, query url.Values) (*kissiotest.Conn, *kissio.Client) {
	t.Helper()

	conn := kissiotest.NewConnWithRequest(&engineio.Request{Headers: headers, Query: query})
	c := srv.Bind(conn)
	conn.Receive("0/secure,")

	require.Eventually(t, func() bool {
		_, ok := c.Socket("/secure")
		return ok || len(conn.PacketsOfType(parser.PacketTypeError)) > 0
	}, time.Second, 5*time.Millisecond)
	return conn, c
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	srv, ns := newServer(t, HMAC(secret))

	tok := sign(t, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	_, c := connect(t, srv, http.Header{"Authorization": {"Bearer " + tok}}, url.Values{})

	s, ok := c.Socket("/secure")
	require.True(t, ok)
	assert.Equal(t, "alice", Subject(s))
	assert.Equal(t, 1, ns.Len())
}

func TestMiddlewareAcceptsQueryToken(t *testing.T) {
	srv, _ := newServer(t, HMAC(secret))

	tok := sign(t, jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(time.Hour).Unix()})
	_, c := connect(t, srv, http.Header{}, url.Values{"token": {tok}})

	s, ok := c.Socket("/secure")
	require.True(t, ok)
	claims, ok := Claims(s)
	require.True(t, ok)
	assert.Equal(t, "bob", claims["sub"])
}

func TestMiddlewareRejects(t *testing.T) {
	expired := jwt.MapClaims{"sub": "eve", "exp": time.Now().Add(-time.Hour).Unix()}
	noExp := jwt.MapClaims{"sub": "eve"}

	tests := []struct {
		name    string
		headers http.Header
	}{
		{name: "missing token", headers: http.Header{}},
		{name: "garbage", headers: http.Header{"Authorization": {"Bearer not-a-jwt"}}},
		{name: "expired", headers: http.Header{"Authorization": {"Bearer " + sign(t, expired)}}},
		{name: "no expiry", headers: http.Header{"Authorization": {"Bearer " + sign(t, noExp)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ns := newServer(t, HMAC(secret))
			conn, c := connect(t, srv, tt.headers, url.Values{})

			_, ok := c.Socket("/secure")
			assert.False(t, ok)
			assert.Equal(t, 0, ns.Len())

			errs := conn.PacketsOfType(parser.PacketTypeError)
			require.Len(t, errs, 1)
			assert.Equal(t, map[string]any{"message": "unauthorized"}, errs[0].Data)
		})
	}
}

func TestMiddlewareChecksIssuer(t *testing.T) {
	cfg := HMAC(secret)
	cfg.Issuer = "https://issuer.example"
	srv, ns := newServer(t, cfg)

	tok := sign(t, jwt.MapClaims{"sub": "alice", "iss": "https://other.example", "exp": time.Now().Add(time.Hour).Unix()})
	conn, _ := connect(t, srv, http.Header{"Authorization": {"Bearer " + tok}}, url.Values{})

	assert.Equal(t, 0, ns.Len())
	assert.Len(t, conn.PacketsOfType(parser.PacketTypeError), 1)
}

// Package auth provides JWT admission middleware for kissio namespaces.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ramory-l/kissio"
)

// ClaimsKey is the socket data key the verified claims are stored under.
const ClaimsKey = "auth.claims"

var ErrUnauthorized = errors.New("unauthorized")

// Config controls token validation.
type Config struct {
	// Keyfunc resolves the verification key. Required.
	Keyfunc     jwt.Keyfunc
	AllowedAlgs []string
	Issuer      string
	Audience    string
	Leeway      time.Duration
	// QueryParam is checked when no Authorization header is present.
	QueryParam string
}

// HMAC returns a Config verifying HS256 tokens signed with secret.
func HMAC(secret []byte) Config {
	return Config{
		Keyfunc: func(*jwt.Token) (any, error) { return secret, nil },
	}
}

// Middleware returns header middleware that rejects sockets without a valid
// bearer token. Accepted claims are stored on the socket under ClaimsKey.
func Middleware(cfg Config) kissio.HeaderMiddleware {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"HS256"}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "token"
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(s *kissio.Socket, headers http.Header, next func(error)) {
		claims, err := verify(parser, cfg, tokenFrom(headers, s, cfg.QueryParam))
		if err != nil {
			next(kissio.NewMiddlewareError(err.Error(), map[string]any{
				"message": "unauthorized",
			}))
			return
		}

		s.Set(ClaimsKey, claims)
		next(nil)
	}
}

func verify(parser *jwt.Parser, cfg Config, tok string) (jwt.MapClaims, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	if cfg.Keyfunc == nil {
		return nil, fmt.Errorf("%w: no key configured", ErrUnauthorized)
	}

	parsed, err := parser.Parse(tok, cfg.Keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	return claims, nil
}

func tokenFrom(headers http.Header, s *kissio.Socket, param string) string {
	if h := headers.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return s.Handshake().Query.Get(param)
}

// Claims returns the claims stored on s by Middleware.
func Claims(s *kissio.Socket) (jwt.MapClaims, bool) {
	v, ok := s.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(jwt.MapClaims)
	return claims, ok
}

// Subject returns the "sub" claim of the socket's token.
func Subject(s *kissio.Socket) string {
	claims, ok := Claims(s)
	if !ok {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

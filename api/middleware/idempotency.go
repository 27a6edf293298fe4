package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/farmlink/farmlink-backend/api/responses"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	pkgredis "github.com/farmlink/farmlink-backend/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = 2 * time.Minute
	maxIdempotencyKeyLen   = 128

	// inFlightMarker holds the key while the first request is still running.
	inFlightMarker = "in-flight"
)

// idempotentRoutes lists the mutating buyer routes that honour Idempotency-Key.
// Patterns use path.Match syntax against the request path.
var idempotentRoutes = []struct {
	method  string
	pattern string
	ttl     time.Duration
}{
	{http.MethodPost, "/api/buyer/orders", defaultIdempotencyTTL},
	{http.MethodPost, "/api/buyer/checkout", criticalIdempotencyTTL},
	{http.MethodPut, "/api/buyer/orders/*/cancel", criticalIdempotencyTTL},
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the first completed response for a repeated
// Idempotency-Key on the routes above. The key is claimed before the handler
// runs, so a concurrent duplicate gets 409 instead of a second checkout. 5xx
// responses release the claim and the client may retry with the same key.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, requestPath(r))
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if !ok || store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			if len(clientKey) > maxIdempotencyKeyLen {
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := hashBody(body)
			key := store.IdempotencyKey(scopeFor(r), clientKey)

			claimed, err := store.SetNX(ctx, key, inFlightMarker, inFlightTTL)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(ctx, store, key, hash, w, fail)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			// detached so a client disconnect does not strand the claim
			saveCtx := context.WithoutCancel(ctx)
			if capture.statusCode() >= http.StatusInternalServerError {
				if err := store.Del(saveCtx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			record, _ := json.Marshal(storedResponse{
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				RequestHash: hash,
			})
			if err := store.Set(saveCtx, key, string(record), ttl); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func replay(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string, w http.ResponseWriter, fail func(error)) {
	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// claim expired between SetNX and Get; ask the client to retry
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is still in progress"))
		return
	case err != nil:
		fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	case raw == inFlightMarker:
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is still in progress"))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if stored.RequestHash != hash {
		fail(pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

// scopeFor keeps keys from different buyers and routes apart.
func scopeFor(r *http.Request) string {
	var user string
	if p, ok := PrincipalFromContext(r.Context()); ok {
		user = p.UserID.String()
	}
	return strings.Join([]string{user, r.Method, r.URL.Path}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// requestPath matches on the concrete path; inside a mounted group chi only
// knows the pattern prefix when middleware runs.
func requestPath(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	p := r.URL.Path
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func routeTTL(method, p string) (time.Duration, bool) {
	for _, route := range idempotentRoutes {
		if route.method != method {
			continue
		}
		if ok, _ := path.Match(route.pattern, p); ok {
			return route.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

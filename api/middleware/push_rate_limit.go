package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/farmlink/farmlink-backend/api/responses"
	pkgerrors "github.com/farmlink/farmlink-backend/pkg/errors"
	"github.com/farmlink/farmlink-backend/pkg/logger"
	"github.com/farmlink/farmlink-backend/pkg/mpesa"
)

// maxPushBody caps how much of the request is buffered to find the phone.
const maxPushBody = 64 << 10

type rateLimiterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// PushRateLimitPolicy bounds how often STK pushes can be triggered from one
// client address and towards one handset.
type PushRateLimitPolicy struct {
	Window     time.Duration
	IPLimit    int
	PhoneLimit int
}

func (p PushRateLimitPolicy) enabled() bool {
	return p.Window > 0 && (p.IPLimit > 0 || p.PhoneLimit > 0)
}

// pushCounter is one dimension a push request is counted against.
type pushCounter struct {
	dimension string
	subject   string
	limit     int
}

// PushRateLimit throttles push initiation per client IP and per hashed
// destination phone. Phones are normalized first so 07.. and 2547.. share a
// counter.
func PushRateLimit(policy PushRateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			counters, err := pushCounters(w, r, policy)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}

			for _, c := range counters {
				allowed, attempts, err := store.FixedWindowAllow(ctx, "stkpush:"+c.dimension+":"+c.subject, int64(c.limit), policy.Window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if !allowed {
					if logg != nil {
						logg.Warn(logg.WithFields(ctx, map[string]any{
							"scope":          c.dimension,
							"subject":        c.subject,
							"attempts":       attempts,
							"limit":          c.limit,
							"window_seconds": int(policy.Window.Seconds()),
						}), "stkpush.rate_limit.blocked")
					}
					responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "Too many payment requests, try again shortly"))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// pushCounters lists the counters that apply to r. Reading the phone consumes
// the body, so it is restored for the next handler.
func pushCounters(w http.ResponseWriter, r *http.Request, policy PushRateLimitPolicy) ([]pushCounter, error) {
	var counters []pushCounter
	if policy.IPLimit > 0 {
		if ip := clientIP(r); ip != "" {
			counters = append(counters, pushCounter{dimension: "ip", subject: ip, limit: policy.IPLimit})
		}
	}
	if policy.PhoneLimit <= 0 || r.Body == nil {
		return counters, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if phone := phoneFromBody(body); phone != "" {
		sum := sha256.Sum256([]byte(phone))
		counters = append(counters, pushCounter{dimension: "phone", subject: hex.EncodeToString(sum[:]), limit: policy.PhoneLimit})
	}
	return counters, nil
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func phoneFromBody(payload []byte) string {
	var body struct {
		Phone string `json:"phone"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	if normalized, ok := mpesa.NormalizePhone(body.Phone); ok {
		return normalized
	}
	return strings.TrimSpace(body.Phone)
}

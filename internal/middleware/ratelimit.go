package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

// Limiter scopes, used as metric labels.
const (
	limitScopeIP   = "ip"
	limitScopeUser = "user"
)

// RateLimit limits requests per client IP. It sits in front of
// authentication so unauthenticated floods are cut off early.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return newLimiter(limitScopeIP, requestLimit, windowLength, httprate.KeyByIP)
}

// UserRateLimit limits requests per authenticated user, falling back to the
// remote address when no identity is present.
func UserRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return newLimiter(limitScopeUser, requestLimit, windowLength, func(r *http.Request) (string, error) {
		if userID := GetUserID(r.Context()); userID != "" {
			return "user:" + userID, nil
		}
		return "ip:" + r.RemoteAddr, nil
	})
}

func newLimiter(scope string, requestLimit int, windowLength time.Duration, key httprate.KeyFunc) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(windowLength.Seconds())))
	body := []byte(`{"error":"rate limit exceeded","code":"RATE_LIMITED","details":{"retry_after":` + retryAfter + `}}`)

	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			metrics.RecordRateLimited(scope)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write(body)
		}),
	)
}

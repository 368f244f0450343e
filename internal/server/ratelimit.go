package server

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// limiterStore hands out one rate.Limiter per identity (a submitter
// for per-user limits, an IP address for per-IP limits), grounded on
// the teacher's EODHD client's single rate.NewLimiter construction —
// here keyed per-identity rather than per-client, since one process
// serves every caller.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newLimiterStore(r rate.Limit, burst int) *limiterStore {
	return &limiterStore{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (s *limiterStore) allow(identity string) bool {
	s.mu.Lock()
	l, ok := s.limiters[identity]
	if !ok {
		l = rate.NewLimiter(s.r, s.burst)
		s.limiters[identity] = l
	}
	s.mu.Unlock()
	return l.Allow()
}

// perMinute and perHour convert spec §6's "N/unit" rate descriptions
// into a rate.Limit, bursting to N so the first window's worth of
// requests isn't throttled before the limiter has had time to refill.
func perMinute(n int) (rate.Limit, int) {
	return rate.Limit(float64(n) / 60.0), n
}

func perHour(n int) (rate.Limit, int) {
	return rate.Limit(float64(n) / 3600.0), n
}

// rateLimitMiddleware rejects a request with 429 if identity has
// exhausted its limiter for this route.
func rateLimitMiddleware(store *limiterStore, identity func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.allow(identity(r)) {
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

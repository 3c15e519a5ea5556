package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/furnishop/commerce/internal/platform/auth"
	"github.com/furnishop/commerce/internal/platform/httpx"
)

const anonymousCaller = "anonymous"

// callerLimiter hands every caller a token bucket holding burst tokens that refill evenly
// over window. Buckets live in process memory, so each replica throttles on its own.
type callerLimiter struct {
	every time.Duration
	burst int
	clock func() time.Time

	mu        sync.Mutex
	buckets   map[string]*callerBucket
	lastPrune time.Time
}

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCallerLimiter(burst int, window time.Duration, clock func() time.Time) *callerLimiter {
	if burst <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &callerLimiter{
		every:   window / time.Duration(burst),
		burst:   burst,
		clock:   clock,
		buckets: make(map[string]*callerBucket),
	}
}

// take spends one token for caller. When the bucket is empty it reports how long until the
// next token arrives.
func (l *callerLimiter) take(caller string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = anonymousCaller
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)

	bucket, ok := l.buckets[caller]
	if !ok {
		bucket = &callerBucket{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.buckets[caller] = bucket
	}
	bucket.lastSeen = now
	if bucket.limiter.AllowN(now, 1) {
		return true, 0
	}
	return false, l.every - time.Duration(bucket.limiter.TokensAt(now)*float64(l.every))
}

// pruneLocked drops buckets idle long enough to have refilled completely.
func (l *callerLimiter) pruneLocked(now time.Time) {
	full := l.every * time.Duration(l.burst)
	if now.Sub(l.lastPrune) < full {
		return
	}
	l.lastPrune = now
	for caller, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= full {
			delete(l.buckets, caller)
		}
	}
}

// throttleCaller answers 429 once the authenticated caller runs out of tokens.
func throttleCaller(limiter *callerLimiter, code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := ""
			if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
				caller = identity.UID
			}
			allowed, wait := limiter.take(caller)
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
				httpx.WriteError(r.Context(), w, httpx.NewError(code, "too many requests, slow down", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

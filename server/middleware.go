package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultIdentity = "0.0.0.0"
	defaultAgent    = "Unknown-User-Agent/0.0"
)

// requesterIdentity is the raw X-Forwarded-For header, falling back to the
// peer address. The header is not split: tokens are bound to the whole value.
func requesterIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return defaultIdentity
	}

	return host
}

func requesterAgent(r *http.Request) string {
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}

	return defaultAgent
}

// logRequests tags the request with an id and logs it once it has been served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := r.Header.Get(middleware.RequestIDHeader)
		if requestId == "" {
			requestId = uuid.New().String()
		}
		w.Header().Set(middleware.RequestIDHeader, requestId)

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestId)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		fields := []zap.Field{
			zap.String("request_id", requestId),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)),
			zap.String("identity", requesterIdentity(r)),
			zap.String("user_agent", requesterAgent(r)),
		}

		switch {
		case status >= 500:
			s.log.Error("request", fields...)
		case status >= 400:
			s.log.Warn("request", fields...)
		default:
			s.log.Info("request", fields...)
		}
	})
}

// rateLimiter throttles requests per requester identity.
type rateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	every     rate.Limit
	burst     int
	lastPrune time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTimeout = 3 * time.Minute

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		clients: make(map[string]*clientLimiter),
		every:   rate.Limit(perSecond),
		burst:   burst,
	}
}

func (rl *rateLimiter) get(identity string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// forget idle clients, at most once a minute
	if now.Sub(rl.lastPrune) > time.Minute {
		for id, c := range rl.clients {
			if now.Sub(c.lastSeen) > limiterIdleTimeout {
				delete(rl.clients, id)
			}
		}
		rl.lastPrune = now
	}

	c, ok := rl.clients[identity]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.clients[identity] = c
	}
	c.lastSeen = now

	return c.limiter
}

func (rl *rateLimiter) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.get(requesterIdentity(r), time.Now()).Allow() {
			writeError(w, r, http.StatusTooManyRequests, "", "Too many requests.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

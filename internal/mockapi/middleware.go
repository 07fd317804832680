package mockapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	dcnRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcn_mock_requests_total",
		Help: "Total HTTP requests by method, route, and response status.",
	}, []string{"method", "path", "status"})

	dcnRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dcn_mock_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	dcnLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcn_mock_logins_total",
		Help: "Total login attempts by result.",
	}, []string{"result"})
)

// prometheusMiddleware records per-request metrics.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		dcnRequestsTotal.WithLabelValues(method, path, status).Inc()
		dcnRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func recordLogin(success bool) {
	if success {
		dcnLoginsTotal.WithLabelValues("success").Inc()
	} else {
		dcnLoginsTotal.WithLabelValues("failure").Inc()
	}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	limiterStaleAfter    = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

// rateLimiter enforces per-IP token-bucket rate limiting. rps is the
// steady-state requests per second; burst is the maximum burst size. Stale
// per-IP entries are swept inline while requests flow, so the middleware
// holds no background goroutine and dies with the server.
func rateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*ipLimiter)
	nextSweep := time.Now().Add(limiterSweepInterval)

	return func(c *gin.Context) {
		now := time.Now()
		ip := c.ClientIP()

		mu.Lock()
		if now.After(nextSweep) {
			for addr, l := range limiters {
				if now.Sub(l.lastSeen) > limiterStaleAfter {
					delete(limiters, addr)
				}
			}
			nextSweep = now.Add(limiterSweepInterval)
		}
		l, ok := limiters[ip]
		if !ok {
			l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[ip] = l
		}
		l.lastSeen = now
		mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// ops.go - health, metrics and privacy-conscious request logging
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// ipHasher hashes client addresses so logs never carry a raw IP. The hash is
// stable per address for the life of the salt.
type ipHasher struct {
	salt string
}

// newIPHasher uses salt when set and a random per-process salt otherwise.
func newIPHasher(salt string) ipHasher {
	if salt == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			panic("ops: generating hash salt: " + err.Error())
		}
		salt = hex.EncodeToString(b)
	}
	return ipHasher{salt: salt}
}

func (h ipHasher) hash(ip string) string {
	sum := sha256.Sum256([]byte(ip + h.salt))
	return hex.EncodeToString(sum[:])[:16]
}

// requestTrackingMiddleware tags each request with an id, records its
// duration and logs it. Ops endpoints are timed but not logged, and DNT
// requests are logged without a client hash.
func requestTrackingMiddleware(logger *zap.Logger, hasher ipHasher, metrics *relayMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		metrics.recordHTTP(c.Request.Method, path, status, elapsed)

		if path == "/healthz" || strings.HasPrefix(path, "/metrics") {
			return
		}

		fields := []zap.Field{
			zap.String(requestIDKey, id),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if c.GetHeader("DNT") != "1" {
			fields = append(fields, zap.String("client", hasher.hash(c.ClientIP())))
		}
		logger.Info("Request", fields...)
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Mail transport states reported by /healthz.
const (
	transportPending int32 = iota
	transportReady
	transportUnavailable
)

type transportHealth struct {
	state atomic.Int32
}

func (h *transportHealth) String() string {
	switch h.state.Load() {
	case transportReady:
		return "ready"
	case transportUnavailable:
		return "unavailable"
	default:
		return "pending"
	}
}

// verifyTransport runs the one-time startup credential check. A failure is
// logged and reflected in health; requests keep being accepted.
func verifyTransport(ctx context.Context, mailer Mailer, health *transportHealth, logger *zap.Logger) {
	if err := mailer.Verify(ctx); err != nil {
		health.state.Store(transportUnavailable)
		logger.Error("Email config error", zap.Error(err))
		return
	}
	health.state.Store(transportReady)
	logger.Info("Email server ready")
}

func setupOpsRoutes(r *gin.Engine, health *transportHealth, gatherer prometheus.Gatherer) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"mail_transport": health.String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

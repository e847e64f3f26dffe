// Package api exposes the messenger over REST:
//
//	POST /api/messages                   send a message
//	GET  /api/conversations              list active conversations
//	GET  /api/conversations/:otherUid    messages with one user
//	GET  /ws                             live transport (see package ws)
//	GET  /metrics                        prometheus
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Real-vivek09/collabkart/auth"
	"github.com/Real-vivek09/collabkart/directory"
	"github.com/Real-vivek09/collabkart/notify"
	"github.com/Real-vivek09/collabkart/store"
)

const identityKey = "identity"

var httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "collabkart_http_request_duration_seconds",
	Help: "REST request latency.",
}, []string{"method", "path", "status"})

func init() {
	prometheus.MustRegister(httpDuration)
}

type Server struct {
	store    store.MessageStore
	dir      directory.Client
	producer notify.Producer
	verifier auth.Verifier
}

func NewServer(st store.MessageStore, dir directory.Client, producer notify.Producer, verifier auth.Verifier) *Server {
	return &Server{store: st, dir: dir, producer: producer, verifier: verifier}
}

// NewRouter wires the REST routes plus the websocket hub and metrics.
func NewRouter(s *Server, hub http.Handler, disableMetrics bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metricsMiddleware())

	if !disableMetrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	r.GET("/ws", gin.WrapH(hub))

	authed := r.Group("/api", s.authMiddleware())
	authed.POST("/messages", s.sendMessage)
	authed.GET("/conversations", s.listConversations)
	authed.GET("/conversations/:otherUid", s.getConversationMessages)

	return r
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.verifier.Auth(c.Request)
		if err != nil {
			glog.V(5).Infof("auth: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized."})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identity(c *gin.Context) *auth.Identity {
	return c.MustGet(identityKey).(*auth.Identity)
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpDuration.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

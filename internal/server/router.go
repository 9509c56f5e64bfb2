// Package server wires the admin HTTP surface (spec §6 HTTP table): gin
// routes backed by the admin Service, plus a websocket live-feed over the
// event hub.
package server

import (
	"kiro-broker/internal/admin"
	"kiro-broker/internal/cloudpass"
	"kiro-broker/internal/events"
	"kiro-broker/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Dependencies bundles everything the router needs to construct handlers.
type Dependencies struct {
	Service   *admin.Service
	Hub       *events.Hub
	CloudPass *cloudpass.State // nil if Cloud Pass is not configured

	// AdminAPIKey is a fixed key. AdminAPIKeyFunc, if set, takes precedence
	// and is re-resolved on every request (used to honor config hot-reload).
	AdminAPIKey     string
	AdminAPIKeyFunc func() string

	// AdminKeyValidator, if set, replaces the plain-equality check above
	// entirely (e.g. to also accept a bcrypt-hashed admin key). When set,
	// AdminKeyUnprotected must also be set to decide whether an empty
	// configured key leaves the admin surface open.
	AdminKeyValidator   func(candidate string) bool
	AdminKeyUnprotected func() string

	RateLimitRPS float64
	RateBurst    int
}

// New builds the gin engine with every route in spec §6 plus the additive
// websocket live-feed endpoint.
func New(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.RecoveryWithWriter(nil))
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())

	h := &handlers{service: deps.Service, hub: deps.Hub, cloudPass: deps.CloudPass}

	var adminAuth gin.HandlerFunc
	if deps.AdminKeyValidator != nil {
		adminAuth = middleware.AdminAuthValidator(deps.AdminKeyValidator, deps.AdminKeyUnprotected)
	} else {
		keyFunc := deps.AdminAPIKeyFunc
		if keyFunc == nil {
			fixed := deps.AdminAPIKey
			keyFunc = func() string { return fixed }
		}
		adminAuth = middleware.AdminAuthFunc(keyFunc)
	}

	authorized := r.Group("/")
	authorized.Use(adminAuth)
	authorized.Use(middleware.RateLimitPerClient(deps.RateLimitRPS, deps.RateBurst))

	authorized.GET("/credentials", h.listCredentials)
	authorized.POST("/credentials", h.addCredential)
	authorized.DELETE("/credentials/:id", h.deleteCredential)
	authorized.POST("/credentials/:id/disabled", h.setDisabled)
	authorized.POST("/credentials/:id/priority", h.setPriority)
	authorized.POST("/credentials/:id/reset", h.resetCredential)
	authorized.GET("/credentials/:id/balance", h.getBalance)

	authorized.GET("/config/load-balancing", h.getLoadBalancingMode)
	authorized.PUT("/config/load-balancing", h.setLoadBalancingMode)

	authorized.GET("/cloud-pass/status", h.cloudPassStatus)
	authorized.POST("/cloud-pass/refresh", h.cloudPassTriggerRefresh)

	authorized.GET("/events", h.events)
	authorized.GET("/logs/stream", h.logsStream)

	r.GET("/healthz", h.healthz)

	return r
}

package proxy

import (
	"context"
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llmur/internal/metrics"
)

// ServerOptions carry the optional collaborators of the HTTP surface.
type ServerOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Registry

	// HealthCheck probes hard dependencies for GET /health. nil reports
	// the service healthy unconditionally.
	HealthCheck func(context.Context) error
}

// Server assembles the gateway, the admin surface and the management
// endpoints into one fasthttp handler.
type Server struct {
	gateway *Gateway
	admin   *Admin
	auth    *Authenticator
	metrics *metrics.Registry
	health  func(context.Context) error
	log     *slog.Logger
}

func NewServer(gateway *Gateway, admin *Admin, auth *Authenticator, opts ServerOptions) *Server {
	s := &Server{
		gateway: gateway,
		admin:   admin,
		auth:    auth,
		metrics: opts.Metrics,
		health:  opts.HealthCheck,
		log:     opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Handler builds the route tree. Every route runs behind recovery, request
// id tagging and latency metrics; the inference and admin groups add their
// own credential extraction on top.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	r.SaveMatchedRoutePath = true

	r.POST("/v1/chat/completions", s.proxyAuth(s.gateway.handleChatCompletions))
	r.POST("/v1/embeddings", s.proxyAuth(s.gateway.handleEmbeddings))
	r.POST("/v1/responses", s.proxyAuth(s.gateway.handleResponses))

	admin := s.adminAuth

	r.POST("/admin/user", admin(s.admin.handleCreateUser))
	r.GET("/admin/user/{id}", admin(s.admin.handleGetUser))
	r.DELETE("/admin/user/{id}", admin(s.admin.handleDeleteUser))

	r.POST("/admin/session-token", admin(s.admin.handleLogin))
	r.GET("/admin/session-token/{id}", admin(s.admin.handleGetSessionToken))
	r.DELETE("/admin/session-token/{id}", admin(s.admin.handleDeleteSessionToken))

	r.POST("/admin/project", admin(s.admin.handleCreateProject))
	r.GET("/admin/project/{id}", admin(s.admin.handleGetProject))
	r.DELETE("/admin/project/{id}", admin(s.admin.handleDeleteProject))

	r.POST("/admin/membership", admin(s.admin.handleCreateMembership))
	r.GET("/admin/membership/{id}", admin(s.admin.handleGetMembership))
	r.DELETE("/admin/membership/{id}", admin(s.admin.handleDeleteMembership))

	r.POST("/admin/project-invite-code", admin(s.admin.handleCreateInviteCode))
	r.GET("/admin/project-invite-code/{id}", admin(s.admin.handleGetInviteCode))
	r.DELETE("/admin/project-invite-code/{id}", admin(s.admin.handleDeleteInviteCode))

	r.POST("/admin/deployment", admin(s.admin.handleCreateDeployment))
	r.GET("/admin/deployment", admin(s.admin.handleSearchDeployments))
	r.GET("/admin/deployment/{id}", admin(s.admin.handleGetDeployment))
	r.DELETE("/admin/deployment/{id}", admin(s.admin.handleDeleteDeployment))

	r.POST("/admin/connection", admin(s.admin.handleCreateConnection))
	r.GET("/admin/connection/{id}", admin(s.admin.handleGetConnection))
	r.DELETE("/admin/connection/{id}", admin(s.admin.handleDeleteConnection))

	r.POST("/admin/connection-deployment", admin(s.admin.handleCreateConnectionDeployment))
	r.GET("/admin/connection-deployment", admin(s.admin.handleSearchConnectionDeployments))
	r.GET("/admin/connection-deployment/{id}", admin(s.admin.handleGetConnectionDeployment))
	r.DELETE("/admin/connection-deployment/{id}", admin(s.admin.handleDeleteConnectionDeployment))

	r.POST("/admin/virtual-key", admin(s.admin.handleCreateVirtualKey))
	r.GET("/admin/virtual-key/{id}", admin(s.admin.handleGetVirtualKey))
	r.DELETE("/admin/virtual-key/{id}", admin(s.admin.handleDeleteVirtualKey))

	r.POST("/admin/virtual-key-deployment", admin(s.admin.handleCreateVirtualKeyDeployment))
	r.GET("/admin/virtual-key-deployment", admin(s.admin.handleSearchVirtualKeyDeployments))
	r.GET("/admin/virtual-key-deployment/{id}", admin(s.admin.handleGetVirtualKeyDeployment))
	r.DELETE("/admin/virtual-key-deployment/{id}", admin(s.admin.handleDeleteVirtualKeyDeployment))

	r.GET("/admin/graph/{key}/{deployment}", admin(s.admin.handleGraph))

	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	return applyMiddleware(r.Handler, s.recovery, requestID, s.httpMetrics)
}

type healthResult struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	result := healthResult{Status: "ok"}
	if s.health != nil {
		probe, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.health(probe); err != nil {
			s.log.Warn("health_probe_failed", slog.String("error", err.Error()))
			result.Status = "degraded"
			result.Database = "unavailable"
			writeJSON(ctx, fasthttp.StatusServiceUnavailable, result)
			return
		}
		result.Database = "ok"
	}
	writeJSON(ctx, fasthttp.StatusOK, result)
}

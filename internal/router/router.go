// Package router wires middleware and the role-scoped route groups.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/medifusion/triage-api/internal/handler"
	"github.com/medifusion/triage-api/internal/middleware"
	"github.com/medifusion/triage-api/internal/model"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine *gin.Engine
	auth   *middleware.AuthMiddleware

	authH    Handler
	patientH Handler
	doctorH  Handler
	labH     Handler
	wsH      Handler

	db *sqlx.DB
}

type Config struct {
	RateLimit rate.Limit
	RateBurst int
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	authH Handler,
	patientH Handler,
	doctorH Handler,
	labH Handler,
	wsH Handler,
	db *sqlx.DB,
	cfg Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
	)

	if cfg.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  cfg.RateLimit,
			Burst: cfg.RateBurst,
		})
		engine.Use(limiter.RateLimit())
	}

	middleware.RegisterValidators()

	return &Router{
		engine:   engine,
		auth:     auth,
		authH:    authH,
		patientH: patientH,
		doctorH:  doctorH,
		labH:     labH,
		wsH:      wsH,
		db:       db,
	}
}

func (r *Router) Setup() {
	r.engine.GET("/healthz", handler.HealthCheck(r.db))
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1")

	// Public routes
	r.authH.RegisterRoutes(api)

	// WS authenticates its own token at upgrade time.
	r.wsH.RegisterRoutes(api)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())

	patient := protected.Group("/patient")
	patient.Use(r.auth.RequireCapability(model.CapSubmitCase))
	r.patientH.RegisterRoutes(patient)

	doctor := protected.Group("/doctor")
	doctor.Use(r.auth.RequireCapability(model.CapTriageCase))
	r.doctorH.RegisterRoutes(doctor)

	lab := protected.Group("/lab")
	lab.Use(r.auth.RequireCapability(model.CapLabWork))
	r.labH.RegisterRoutes(lab)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

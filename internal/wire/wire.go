package wire

import (
	"net/http"
	"time"

	"roadside-dispatch/internal/adaptor"
	"roadside-dispatch/internal/data/repository"
	"roadside-dispatch/internal/gateway"
	"roadside-dispatch/internal/usecase"
	"roadside-dispatch/internal/webhook"
	"roadside-dispatch/pkg/lock"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/middleware"
	"roadside-dispatch/pkg/ratelimit"
	"roadside-dispatch/pkg/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App holds the wired router and services
type App struct {
	Router  *chi.Mux
	Service *usecase.Service
}

// Infra carries the process-wide collaborators built in main. Nil members
// fall back to in-process implementations.
type Infra struct {
	Emitter   webhook.Emitter
	Gateway   gateway.Gateway
	Locker    lock.Locker
	RateStore ratelimit.Store
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// Wiring builds services, handlers and routes
func Wiring(repo *repository.Repository, config *utils.Config, infra Infra, logger *zap.Logger) *App {
	if infra.Metrics == nil {
		infra.Metrics = metrics.Nop()
	}
	if infra.Gatherer == nil {
		infra.Gatherer = prometheus.NewRegistry()
	}
	if infra.RateStore == nil {
		infra.RateStore = ratelimit.NewMemoryStore(logger)
	}

	service := usecase.NewService(usecase.Dependencies{
		Repo:    repo,
		Config:  config,
		Emitter: infra.Emitter,
		Gateway: infra.Gateway,
		Locker:  infra.Locker,
		Metrics: infra.Metrics,
	}, logger)
	handler := adaptor.NewHandler(service, config, logger)

	router := setupRouter(handler, repo, config, infra, logger)

	return &App{
		Router:  router,
		Service: service,
	}
}

// setupRouter configures the chi router
func setupRouter(
	handler *adaptor.Handler,
	repo *repository.Repository,
	config *utils.Config,
	infra Infra,
	logger *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.CORS(config.App.FrontendURL))
	r.Use(middleware.Metrics(infra.Metrics))

	limits := otpLimits{
		generate: ratelimit.NewLimiter(infra.RateStore, config.RateLimit.OTPGeneratePerMinute, time.Minute),
		verify:   ratelimit.NewLimiter(infra.RateStore, config.RateLimit.OTPVerifyPerMinute, time.Minute),
	}

	wireBooking(r, handler, repo, limits, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.ResponseSuccess(w, "OK", map[string]string{"app": config.App.Name})
	})
	r.Handle("/metrics", promhttp.HandlerFor(infra.Gatherer, promhttp.HandlerOpts{}))

	return r
}

// Chronowheel
//
// A hierarchical timing-wheel job scheduler: jobs are admitted with a
// trigger time and a body, held in time-bounded spokes, and drained once
// their spoke's window has passed. Downstream firing fans out to an
// optional queue publisher and a best-effort live notifier.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.chronowheel.dev/internal/common/health"
	"go.chronowheel.dev/internal/common/lifecycle"
	"go.chronowheel.dev/internal/common/metrics"
	"go.chronowheel.dev/internal/config"
	"go.chronowheel.dev/internal/demo"
	"go.chronowheel.dev/internal/dispatch"
	"go.chronowheel.dev/internal/notify"
	"go.chronowheel.dev/internal/platform/auth/jwt"
	"go.chronowheel.dev/internal/protocol/beanstalkd"
	"go.chronowheel.dev/internal/scheduler"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		runTokenCommand(os.Args[2:])
		return
	}

	logLevel := slog.LevelInfo
	if os.Getenv("CHRONOWHEEL_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Chronowheel", "version", version, "buildTime", buildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{
		NeedsSecrets: true,
		NeedsQueue:   true,
	})
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config

	healthChecker := health.NewChecker()

	notifier, closeNotifier := buildNotifier(cfg)
	if closeNotifier != nil {
		app.AddCleanup(closeNotifier)
	}

	dispatcher := dispatch.New(app.Publisher, "jobs.fired", dispatch.DefaultConfig(cfg.Queue.Type))

	sched, err := scheduler.New(cfg.Hub.SpokeDurationMs,
		scheduler.WithDispatcher(dispatcher),
		scheduler.WithNotifier(notifier),
	)
	if err != nil {
		slog.Error("Failed to construct scheduler", "error", err)
		os.Exit(1)
	}
	healthChecker.AddReadinessCheck(health.HubCheck(sched.SpokeCount))
	if app.QueueHealthCheck != nil {
		healthChecker.AddReadinessCheck(app.QueueHealthCheck)
	}

	keyManager, err := buildKeyManager(ctx, app, cfg)
	if err != nil {
		slog.Error("Failed to initialize JWT signing key", "error", err)
		os.Exit(1)
	}
	tokenService := jwt.NewTokenService(keyManager, jwt.TokenServiceConfig{
		Issuer:           cfg.Auth.JWT.Issuer,
		OperatorTokenTTL: cfg.Auth.JWT.OperatorTokenTTL,
	})

	switch cfg.Mode {
	case "demo":
		runDemo(ctx, sched, cfg, healthChecker, tokenService)
	case "server":
		runServer(ctx, sched, cfg, healthChecker, tokenService)
	default:
		slog.Error("Unknown mode", "mode", cfg.Mode)
		os.Exit(1)
	}

	slog.Info("Chronowheel stopped")
}

// runDemo enqueues and drains the built-in synthetic job stream alongside
// the admin HTTP surface, both supervised together, until the generator
// completes or the process is interrupted. The generator's completion
// cancels ctx itself, rather than going through lifecycle.Run's
// signal-only shutdown path, so the process exits as soon as the stream is
// drained instead of waiting on a real terminal signal.
func runDemo(parent context.Context, sched *scheduler.Scheduler, cfg *config.Config, healthChecker *health.Checker, tokenService *jwt.TokenService) {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpServer := buildAdminHTTPServer(cfg, healthChecker, sched, tokenService)
	gen := demo.New(sched, cfg.Demo.Count, cfg.Demo.RatePerSecond)

	generatorService := lifecycle.NewServiceFunc("demo-generator",
		func(ctx context.Context) error {
			defer cancel()
			return gen.Run(ctx)
		},
		func(ctx context.Context) error { return nil },
	)

	supervisor := lifecycle.NewSupervisor(
		lifecycle.NewHTTPService("admin-http", httpServer),
		generatorService,
	)
	if err := supervisor.Run(ctx); err != nil {
		slog.Error("Supervisor exited with error", "error", err)
		os.Exit(1)
	}
}

// runServer exposes the beanstalkd-flavoured admission protocol and the
// JWT-guarded admin HTTP surface until interrupted. This is the standard
// signal-driven shutdown lifecycle.Run is built for, so it drives both
// services directly.
func runServer(ctx context.Context, sched *scheduler.Scheduler, cfg *config.Config, healthChecker *health.Checker, tokenService *jwt.TokenService) {
	protoServer := beanstalkd.NewServer(sched)
	httpServer := buildAdminHTTPServer(cfg, healthChecker, sched, tokenService)

	if err := lifecycle.Run(ctx,
		beanstalkdService(protoServer, cfg.Server.Addr),
		lifecycle.NewHTTPService("admin-http", httpServer),
	); err != nil {
		slog.Error("Service runtime exited with error", "error", err)
		os.Exit(1)
	}
}

// beanstalkdService adapts the beanstalkd-flavoured admission server into a
// lifecycle.Service. Shutdown is driven solely by Stop rather than context
// cancellation, so Start is given a background context and the listener is
// closed exactly once.
func beanstalkdService(srv *beanstalkd.Server, addr string) *lifecycle.ServiceFunc {
	return lifecycle.NewServiceFunc("beanstalkd-protocol",
		func(ctx context.Context) error {
			return srv.ListenAndServe(context.Background(), addr)
		},
		func(ctx context.Context) error {
			return srv.Close()
		},
	)
}

// buildNotifier constructs the best-effort live drain notifier configured
// via NOTIFY_REDIS_URL; when unset, drains fall back to a no-op notifier.
func buildNotifier(cfg *config.Config) (scheduler.Notifier, func() error) {
	redisURL := os.Getenv("NOTIFY_REDIS_URL")
	if redisURL == "" {
		return notify.NoopNotifier{}, nil
	}

	channel := os.Getenv("NOTIFY_REDIS_CHANNEL")
	if channel == "" {
		channel = "chronowheel:fired"
	}

	n, err := notify.NewRedisNotifier(redisURL, channel)
	if err != nil {
		slog.Warn("Failed to connect Redis notifier, falling back to no-op", "error", err)
		return notify.NoopNotifier{}, nil
	}
	return n, n.Close
}

// buildKeyManager resolves the operator JWT signing key: configured file
// paths first, then a secrets.Provider-backed PEM pair, then an ephemeral
// (or dev-directory-persisted) generated key.
func buildKeyManager(ctx context.Context, app *lifecycle.App, cfg *config.Config) (*jwt.KeyManager, error) {
	keyManager := jwt.NewKeyManager()

	if cfg.Auth.JWT.PrivateKeyPath != "" && cfg.Auth.JWT.PublicKeyPath != "" {
		return keyManager, keyManager.Initialize(cfg.Auth.JWT.PrivateKeyPath, cfg.Auth.JWT.PublicKeyPath, "")
	}

	privPEM, privErr := app.Secrets.Get(ctx, "jwt-private-key")
	pubPEM, pubErr := app.Secrets.Get(ctx, "jwt-public-key")
	if privErr == nil && pubErr == nil {
		return keyManager, keyManager.InitializeFromPEM(privPEM, pubPEM)
	}

	devDir := ""
	if cfg.DevMode {
		devDir = "./data/jwt-dev-keys"
	}
	return keyManager, keyManager.Initialize("", "", devDir)
}

// buildAdminHTTPServer assembles the chi-based admin HTTP surface. sched and
// tokenService may be nil, in which case only health and metrics are
// exposed. The returned server is unstarted; callers run it as a
// lifecycle.Service via lifecycle.NewHTTPService.
func buildAdminHTTPServer(cfg *config.Config, healthChecker *health.Checker, sched *scheduler.Scheduler, tokenService *jwt.TokenService) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	if sched != nil && tokenService != nil {
		h := &adminHandlers{scheduler: sched}
		r.Route("/admin", func(r chi.Router) {
			r.Use(operatorAuth(tokenService))
			r.Post("/jobs", h.createJob)
			r.Delete("/jobs/{id}", h.cancelJob)
			r.Get("/jobs/{id}", h.getJob)
			r.Get("/stats", h.stats)
		})
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// httpMetricsMiddleware records request counts and latency for the admin
// HTTP surface.
func httpMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPActiveConnections.Inc()
		defer metrics.HTTPActiveConnections.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = r.URL.Path
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, routePattern, strconv.Itoa(ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, routePattern).Observe(time.Since(start).Seconds())
	})
}

// operatorAuth requires a valid operator bearer token on every request it
// guards.
func operatorAuth(tokenService *jwt.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenStr == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			if _, err := tokenService.ValidateOperatorToken(tokenStr); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type adminHandlers struct {
	scheduler *scheduler.Scheduler
}

type createJobRequest struct {
	TriggerAtMs uint64 `json:"triggerAtMs"`
	Body        []byte `json:"body"`
}

type createJobResponse struct {
	ID string `json:"id"`
}

func (h *adminHandlers) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id := h.scheduler.Enqueue(req.TriggerAtMs, req.Body)
	writeJSON(w, http.StatusCreated, createJobResponse{ID: id.String()})
}

func (h *adminHandlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	if !h.scheduler.Cancel(id) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type jobStatusResponse struct {
	ID      string `json:"id"`
	StartMs uint64 `json:"startMs"`
	EndMs   uint64 `json:"endMs"`
}

func (h *adminHandlers) getJob(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	bounds, ok := h.scheduler.FindOwner(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{ID: idStr, StartMs: bounds.StartMs, EndMs: bounds.EndMs})
}

type statsResponse struct {
	ActiveSpokes int `json:"activeSpokes"`
}

func (h *adminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{ActiveSpokes: h.scheduler.SpokeCount()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// runTokenCommand implements `chronowheel token`, minting an operator
// bearer token for driving the admin HTTP surface without a browser.
func runTokenCommand(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	principal := fs.String("principal", "operator", "subject to embed in the token")
	roles := fs.String("roles", "operator", "comma-separated roles to embed in the token")
	fs.Parse(args)

	ctx := context.Background()
	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{NeedsSecrets: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	cfg := app.Config

	keyManager, err := buildKeyManager(ctx, app, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize signing key: %v\n", err)
		os.Exit(1)
	}

	tokenService := jwt.NewTokenService(keyManager, jwt.TokenServiceConfig{
		Issuer:           cfg.Auth.JWT.Issuer,
		OperatorTokenTTL: cfg.Auth.JWT.OperatorTokenTTL,
	})

	token, err := tokenService.IssueOperatorToken(*principal, strings.Split(*roles, ","))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

package api

import (
	"net/http"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/api/handler"
	"github.com/eddynotadi/mosquito-hunter/internal/api/middleware"
	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/common"
	"github.com/eddynotadi/mosquito-hunter/internal/common/security"
	"github.com/eddynotadi/mosquito-hunter/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
)

type Options struct {
	CORSOrigins []string
	// UploadDir is served under /uploads when images are stored locally.
	UploadDir string
}

func NewRouter(
	authService *service.AuthService,
	submissionService *service.SubmissionService,
	ledgerService *service.LedgerService,
	tokens *security.TokenManager,
	m *metrics.Metrics,
	opts Options,
) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(m))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Username"},
		MaxAge:         300,
	}))

	// Picks up "Authorization: Bearer T" when present. Routes that need a
	// user add middleware.Authenticator.
	r.Use(jwtauth.Verifier(tokens.TokenAuth))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		common.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Server is running!"})
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	if opts.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadDir))))
	}

	authHandler := handler.NewAuthHandler(authService)
	submissionHandler := handler.NewSubmissionHandler(submissionService)
	profileHandler := handler.NewProfileHandler(ledgerService)
	leaderboardHandler := handler.NewLeaderboardHandler(ledgerService)
	accountHandler := handler.NewAccountHandler(ledgerService)
	imageHandler := handler.NewImageHandler(submissionService, ledgerService)

	r.Group(authHandler.RegisterRoutes)
	r.Group(submissionHandler.RegisterRoutes)
	r.Group(profileHandler.RegisterRoutes)

	r.Route("/api", func(api chi.Router) {
		api.Group(submissionHandler.RegisterRoutes)
		api.Group(profileHandler.RegisterRoutes)
		api.Route("/leaderboard", leaderboardHandler.RegisterRoutes)
		api.Group(accountHandler.RegisterRoutes)
		api.Route("/images", imageHandler.RegisterRoutes)
	})

	return r
}

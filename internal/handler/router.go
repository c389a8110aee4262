package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/subportal/internal/metrics"
	"github.com/hitoshi/subportal/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ポータル
	PortalService PortalServiceInterface
	EventSource   EventSource

	// メトリクス（nilの場合は/metricsを公開しない）
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → CSRF →（セッションルートのみ）Session → RateLimit
//
// /health、/metrics、/api/csrf-tokenは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	portalHandler := NewPortalHandler(deps.PortalService)
	eventsHandler := NewEventsHandler(deps.EventSource, deps.Logger)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: CSRF → Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewSessionMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/portal", func(r chi.Router) {
			r.Get("/home", portalHandler.Home)
			r.Get("/status", portalHandler.Status)
			r.Get("/events", eventsHandler.Stream)

			r.Route("/subscriptions", func(r chi.Router) {
				r.Get("/", portalHandler.ListSubscriptions)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", portalHandler.GetSubscription)

					// 変更操作は専用レート制限を追加
					r.With(deps.RateLimiter.MutationMiddleware()).
						Post("/actions/{action}", portalHandler.Action)
				})
			})
		})
	})

	return r
}

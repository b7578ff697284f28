package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/staysafecovid19/api/internal/metrics"
	"github.com/staysafecovid19/api/internal/middleware"
	"github.com/staysafecovid19/api/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface

	// 運用
	HealthChecker HealthChecker
	Gatherer      prometheus.Gatherer // nilの場合は/metricsを公開しない
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → CORS → SecurityHeaders → RateLimit(General)
//
// 確認コードを送信するフロー（signup, resend）には専用のレート制限を追加で適用する。
// /healthと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	authHandler := NewAuthHandler(deps.AuthService)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	r.Get("/health", healthHandler.Check)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		for _, flow := range model.Flows() {
			h := authHandler.ForFlow(flow)
			if deps.RateLimiter != nil && deliversCode(flow) {
				h = deps.RateLimiter.CodeDeliveryMiddleware()(h)
			}
			r.Method(http.MethodPost, "/"+string(flow), h)
		}

		// 未知のフロー名は400で応答する
		r.Post("/{flow}", authHandler.Flow)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"NOT_FOUND","message":"not found"}`))
	})

	return r
}

// deliversCode はフローが確認コードのメール送信を伴うかどうかを返す。
func deliversCode(flow model.Flow) bool {
	return flow == model.FlowSignup || flow == model.FlowResend
}

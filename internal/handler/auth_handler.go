// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/staysafecovid19/api/internal/middleware"
	"github.com/staysafecovid19/api/internal/model"
	"github.com/staysafecovid19/api/internal/outcome"
)

// maxBodyBytes はリクエストボディの上限サイズ（1MiB）。
const maxBodyBytes = 1 << 20

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Handle(ctx context.Context, flow model.Flow, body []byte) outcome.Envelope
}

// AuthHandler は認証フローのHTTPハンドラー。
// ボディをそのままサービスに渡し、返ってきたEnvelopeを書き込むだけの薄いアダプター。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// Flow はURLパラメータ{flow}で指定されたフローを実行する。
// POST /auth/{flow}
func (h *AuthHandler) Flow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "flow")
	flow, ok := model.ParseFlow(name)
	if !ok {
		middleware.WriteEnvelope(w, outcome.Failure(model.NewUnknownFlowError(name)))
		return
	}
	h.serve(w, r, flow)
}

// ForFlow は指定したフローを実行するハンドラーを返す。
func (h *AuthHandler) ForFlow(flow model.Flow) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, flow)
	})
}

func (h *AuthHandler) serve(w http.ResponseWriter, r *http.Request, flow model.Flow) {
	body, err := readBody(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if !errors.As(err, &maxErr) {
			slog.Warn("failed to read request body",
				slog.String("flow", string(flow)),
				slog.String("error", err.Error()),
			)
		}
		middleware.WriteEnvelope(w, outcome.Failure(model.NewMalformedBodyError(err)))
		return
	}

	middleware.WriteEnvelope(w, h.service.Handle(r.Context(), flow, body))
}

// readBody はサイズ上限付きでリクエストボディを読み込む。
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// Package serverless はAPI Gatewayのプロキシイベントを認証フローに接続するアダプターを提供する。
package serverless

import (
	"context"
	"encoding/base64"
	"log/slog"
	"path"
	"runtime/debug"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/staysafecovid19/api/internal/model"
	"github.com/staysafecovid19/api/internal/outcome"
)

// flowPathParameter はフロー名を受け取るパスパラメータ名。
const flowPathParameter = "flow"

// AuthService はアダプターが必要とするサービスインターフェース。
type AuthService interface {
	Handle(ctx context.Context, flow model.Flow, body []byte) outcome.Envelope
}

// Handler はAPI Gatewayプロキシイベントのハンドラー。
type Handler struct {
	service       AuthService
	allowedOrigin string
}

// NewHandler はHandlerを生成する。allowedOriginはAccess-Control-Allow-Originに設定する値。
func NewHandler(service AuthService, allowedOrigin string) *Handler {
	return &Handler{service: service, allowedOrigin: allowedOrigin}
}

// Invoke はイベントからフロー名とボディを取り出してフローを実行する。
// フローの失敗はすべてレスポンスに変換するため、エラーは返さない。
func (h *Handler) Invoke(ctx context.Context, req events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic recovered",
				slog.Any("panic", rec),
				slog.String("path", req.Path),
				slog.String("request_id", req.RequestContext.RequestID),
				slog.String("stack", string(debug.Stack())),
			)
			resp, err = h.response(req, outcome.Failure(model.NewInternalError(nil))), nil
		}
	}()

	name := FlowName(req)
	flow, ok := model.ParseFlow(name)
	if !ok {
		slog.Info("unknown auth flow requested",
			slog.String("flow", name),
			slog.String("request_id", req.RequestContext.RequestID),
		)
		return h.response(req, outcome.Failure(model.NewUnknownFlowError(name))), nil
	}

	body, decodeErr := DecodeBody(req)
	if decodeErr != nil {
		return h.response(req, outcome.Failure(model.NewMalformedBodyError(decodeErr))), nil
	}

	return h.response(req, h.service.Handle(ctx, flow, body)), nil
}

// FlowName はイベントからフロー名を取り出す。
// パスパラメータ{flow}を優先し、なければパスの最後のセグメントを使う。
func FlowName(req events.APIGatewayProxyRequest) string {
	if name := req.PathParameters[flowPathParameter]; name != "" {
		return name
	}
	trimmed := strings.TrimRight(req.Path, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}

// DecodeBody はイベントのボディを返す。Base64エンコードされている場合はデコードする。
func DecodeBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func (h *Handler) response(req events.APIGatewayProxyRequest, env outcome.Envelope) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":           "application/json; charset=utf-8",
		"Cache-Control":          "no-store",
		"X-Content-Type-Options": "nosniff",
	}
	if h.allowedOrigin != "" {
		headers["Access-Control-Allow-Origin"] = h.allowedOrigin
	}
	if id := req.RequestContext.RequestID; id != "" {
		headers["X-Request-ID"] = id
	}

	return events.APIGatewayProxyResponse{
		StatusCode: env.StatusCode,
		Headers:    headers,
		Body:       string(env.Body),
	}
}

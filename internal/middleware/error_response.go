package middleware

import (
	"net/http"

	"github.com/staysafecovid19/api/internal/model"
	"github.com/staysafecovid19/api/internal/outcome"
)

// WriteEnvelope はEnvelopeをJSONレスポンスとして書き込む。
// すべてのエンドポイントで同じContent-Typeとボディ形式を使う。
func WriteEnvelope(w http.ResponseWriter, env outcome.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(env.StatusCode)
	w.Write(env.Body)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteEnvelope(w, outcome.Failure(model.NewInternalError(nil)))
}

// Package outcome はフローの結果をトランスポート非依存のレスポンスに変換する。
//
// ステータスコードは200, 400, 500の3種類のみで、ボディの形はステータスコードで決まる。
// 外部依存の生のエラーがボディに書き込まれることはない。
package outcome

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/staysafecovid19/api/internal/model"
)

// internalMessagePrefix は500系レスポンスのメッセージ接頭辞。
const internalMessagePrefix = "Erro interno: "

// Envelope はトランスポートに渡すレスポンス。
type Envelope struct {
	StatusCode int
	Body       []byte
}

// errorBody はエラーレスポンスのボディ。
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success は成功時のペイロードを200のEnvelopeに変換する。
// シリアライズに失敗した場合は500を返す。
func Success(payload any) Envelope {
	body, err := marshal(payload)
	if err != nil {
		return Failure(model.NewInternalError(err))
	}
	return Envelope{StatusCode: http.StatusOK, Body: body}
}

// Message は固定メッセージを返すフローの成功レスポンスを生成する。
func Message(message string) Envelope {
	return Success(model.MessageBody{Message: message})
}

// Failure はエラーを400または500のEnvelopeに変換する。
// 呼び出し側の責任によるエラーはメッセージをそのまま返し、
// それ以外はメッセージを「Erro interno: 」で包んで返す。
// *model.APIError以外のエラーは内部エラーとして扱う。
func Failure(err error) Envelope {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError(err)
	}

	if apiErr.IsCallerFault() {
		return envelope(http.StatusBadRequest, errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
		})
	}

	return envelope(http.StatusInternalServerError, errorBody{
		Code:    apiErr.Code,
		Message: internalMessagePrefix + apiErr.Message,
	})
}

// IsSuccess はEnvelopeが成功レスポンスかどうかを返す。
func (e Envelope) IsSuccess() bool {
	return e.StatusCode == http.StatusOK
}

func envelope(statusCode int, body errorBody) Envelope {
	b, err := marshal(body)
	if err != nil {
		// errorBodyは文字列フィールドのみのため通常は到達しない
		slog.Error("failed to marshal error body", slog.String("error", err.Error()))
		b = []byte(`{"code":"` + model.ErrCodeInternal + `","message":"` + internalMessagePrefix + `"}`)
		statusCode = http.StatusInternalServerError
	}
	return Envelope{StatusCode: statusCode, Body: b}
}

// marshal は2スペースでインデントしたJSONを返す。
func marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// エラーカテゴリ。レスポンスのステータスコードはカテゴリのみで決まる。
const (
	// CategoryValidation は入力不正・ドメインルール違反を表す（400）。
	CategoryValidation = "validation"
	// CategoryProvider はIdPが明示的に操作を拒否したことを表す（400）。
	CategoryProvider = "provider"
	// CategorySystem は外部依存の予期しない失敗を表す（500）。
	CategorySystem = "system"
)

// 定義済みエラーコード
const (
	ErrCodeMalformedBody       = "MALFORMED_BODY"
	ErrCodeValidationFailed    = "VALIDATION_FAILED"
	ErrCodeInvalidName         = "INVALID_NAME"
	ErrCodeProviderRejected    = "PROVIDER_REJECTED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeStoreUnavailable    = "STORE_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeUnknownFlow         = "UNKNOWN_FLOW"
)

// MessageInvalidName は氏名が「名 + 姓」に分割できない場合の固定メッセージ。
const MessageInvalidName = "Nome precisa ser primeiro nome e sobrenome"

// APIError は分類済みエラーを表す。
// Messageは呼び出し元にそのまま返してよい文言のみを保持し、
// 元のエラーはErrに保持してログにのみ出力する。
type APIError struct {
	Code     string // エラーコード
	Message  string // ユーザー向けメッセージ
	Category string // カテゴリ: validation, provider, system
	Err      error  // 原因（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsCallerFault は呼び出し側の責任によるエラー（400系）かどうかを返す。
func (e *APIError) IsCallerFault() bool {
	return e.Category == CategoryValidation || e.Category == CategoryProvider
}

// NewMalformedBodyError はリクエストボディがJSONオブジェクトとして解釈できない場合のエラーを生成する。
func NewMalformedBodyError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedBody,
		Message:  "request body must be a valid JSON object",
		Category: CategoryValidation,
		Err:      err,
	}
}

// NewValidationError はスキーマ検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: CategoryValidation,
	}
}

// NewInvalidNameError は氏名に姓が含まれない場合のエラーを生成する。
func NewInvalidNameError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidName,
		Message:  MessageInvalidName,
		Category: CategoryValidation,
	}
}

// NewProviderRejectedError はIdPが操作を拒否した場合のエラーを生成する。
// メッセージはIdPが返した理由をそのまま使う。
func NewProviderRejectedError(message string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeProviderRejected,
		Message:  message,
		Category: CategoryProvider,
		Err:      err,
	}
}

// NewProviderUnavailableError はIdP呼び出しの予期しない失敗を表すエラーを生成する。
func NewProviderUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "falha ao comunicar com o provedor de identidade",
		Category: CategorySystem,
		Err:      err,
	}
}

// NewStoreUnavailableError はプロフィールストアへの書き込み失敗を表すエラーを生成する。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "falha ao gravar o perfil",
		Category: CategorySystem,
		Err:      err,
	}
}

// NewInternalError は分類されていない内部エラーを生成する。
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "falha inesperada",
		Category: CategorySystem,
		Err:      err,
	}
}

// NewUnknownFlowError は未知のフロー名が指定された場合のエラーを生成する。
func NewUnknownFlowError(flow string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownFlow,
		Message:  fmt.Sprintf("unknown auth flow: %s", flow),
		Category: CategoryValidation,
	}
}

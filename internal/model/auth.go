package model

// Flow は認証ユースケースの種別を表す。
type Flow string

const (
	FlowLogin   Flow = "login"
	FlowRefresh Flow = "refresh"
	FlowSignup  Flow = "signup"
	FlowConfirm Flow = "confirm"
	FlowResend  Flow = "resend"
)

// Flows は全フローを定義順で返す。
func Flows() []Flow {
	return []Flow{FlowLogin, FlowRefresh, FlowSignup, FlowConfirm, FlowResend}
}

// ParseFlow は文字列からFlowを解析する。未知の値の場合はfalseを返す。
func ParseFlow(s string) (Flow, bool) {
	for _, f := range Flows() {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// フロー成功時の固定メッセージ。
const (
	MessageSignupSucceeded = "Cadastro realizado com sucesso, valide pelo seu email!"
	MessageEmailConfirmed  = "Email validado!"
	MessageCodeResent      = "Código enviado!"
)

// LoginCommand はログイン要求を表す。
type LoginCommand struct {
	Username string
	Password string
}

// RefreshCommand はセッション更新要求を表す。
type RefreshCommand struct {
	Username     string
	RefreshToken string
}

// SignupCommand はユーザー登録要求を表す。
// FirstName/LastNameはFullNameから導出済みの値を保持する。
type SignupCommand struct {
	FullName  string
	FirstName string
	LastName  string
	Username  string
	Password  string
}

// ConfirmCommand は登録確認コードの検証要求を表す。
type ConfirmCommand struct {
	Username string
	Code     string
}

// ResendCommand は確認コード再送要求を表す。
type ResendCommand struct {
	Username string
}

// SessionTokens は認証済みセッションを表すトークンの組。
// 3つとも必須で、この層では中身を解釈しない。
type SessionTokens struct {
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

// Complete は3つのトークンがすべて空でないかを返す。
func (t *SessionTokens) Complete() bool {
	return t != nil && t.AccessToken != "" && t.IDToken != "" && t.RefreshToken != ""
}

// UserAttribute はIdPに登録するユーザー属性。
type UserAttribute struct {
	Name  string
	Value string
}

// Registration はIdPへの登録結果。
type Registration struct {
	SubjectID string
}

// MessageBody は固定メッセージを返すフローの成功レスポンス。
type MessageBody struct {
	Message string `json:"message"`
}

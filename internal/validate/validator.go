// Package validate はリクエストボディの解析とスキーマ検証を提供する。
//
// 各フローのボディをJSONとして解析し、必須の文字列フィールドを検証したうえで
// 型付きのコマンドを生成する。外部呼び出しは一切行わない。
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/staysafecovid19/api/internal/model"
	"github.com/staysafecovid19/api/internal/security"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	Username     string `json:"username" validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// maxNamePartLength は名・姓それぞれの最大文字数。profileテーブルの列長に合わせる。
const maxNamePartLength = 255

type signupRequest struct {
	Name     string `json:"name" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type confirmRequest struct {
	Username string `json:"username" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

type resendRequest struct {
	Username string `json:"username" validate:"required"`
}

// Validator はフローごとのリクエスト検証を行う。
// validator.Validateはスレッドセーフなため、単一インスタンスを共有できる。
type Validator struct {
	validate  *validator.Validate
	sanitizer security.NameSanitizer
}

// New はValidatorを生成する。
// エラーメッセージにはGoのフィールド名ではなくJSONのキー名を使う。
func New(sanitizer security.NameSanitizer) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v, sanitizer: sanitizer}
}

// Login はログイン要求を検証する。
func (v *Validator) Login(body []byte) (model.LoginCommand, error) {
	var req loginRequest
	if err := v.decode(body, &req); err != nil {
		return model.LoginCommand{}, err
	}
	return model.LoginCommand{Username: req.Username, Password: req.Password}, nil
}

// Refresh はセッション更新要求を検証する。
func (v *Validator) Refresh(body []byte) (model.RefreshCommand, error) {
	var req refreshRequest
	if err := v.decode(body, &req); err != nil {
		return model.RefreshCommand{}, err
	}
	return model.RefreshCommand{Username: req.Username, RefreshToken: req.RefreshToken}, nil
}

// Signup はユーザー登録要求を検証する。
// スキーマ検証の後、氏名を空白で分割し、先頭を名、末尾を姓とする。
// 2語未満の場合、またはサニタイズ後も山括弧が残る場合は固定メッセージのドメインエラーを返す。
// 名・姓が列長を超える場合はIdPへの登録前に検証エラーとする。
func (v *Validator) Signup(body []byte) (model.SignupCommand, error) {
	var req signupRequest
	if err := v.decode(body, &req); err != nil {
		return model.SignupCommand{}, err
	}

	name := req.Name
	if v.sanitizer != nil {
		name = v.sanitizer.Sanitize(name)
	}
	if strings.ContainsAny(name, "<>") {
		return model.SignupCommand{}, model.NewInvalidNameError()
	}

	first, last, ok := SplitFullName(name)
	if !ok {
		return model.SignupCommand{}, model.NewInvalidNameError()
	}

	maxTag := fmt.Sprintf("max=%d", maxNamePartLength)
	if v.validate.Var(first, maxTag) != nil || v.validate.Var(last, maxTag) != nil {
		return model.SignupCommand{}, model.NewValidationError(
			fmt.Sprintf("%q first and last names must be at most %d characters", "name", maxNamePartLength))
	}

	return model.SignupCommand{
		FullName:  req.Name,
		FirstName: first,
		LastName:  last,
		Username:  req.Username,
		Password:  req.Password,
	}, nil
}

// Confirm は確認コード検証要求を検証する。
func (v *Validator) Confirm(body []byte) (model.ConfirmCommand, error) {
	var req confirmRequest
	if err := v.decode(body, &req); err != nil {
		return model.ConfirmCommand{}, err
	}
	return model.ConfirmCommand{Username: req.Username, Code: req.Code}, nil
}

// Resend は確認コード再送要求を検証する。
func (v *Validator) Resend(body []byte) (model.ResendCommand, error) {
	var req resendRequest
	if err := v.decode(body, &req); err != nil {
		return model.ResendCommand{}, err
	}
	return model.ResendCommand{Username: req.Username}, nil
}

// SplitFullName は氏名を空白で分割し、先頭の語と末尾の語を返す。
// 語が2つ未満の場合はokがfalseになる。
func SplitFullName(fullName string) (first, last string, ok bool) {
	parts := strings.Fields(fullName)
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[0], parts[len(parts)-1], true
}

// decode はボディをdstに厳密にデコードし、スキーマ検証を行う。
// 未知のキー、文字列以外の値、末尾の余分なデータはすべて検証エラーとなる。
func (v *Validator) decode(body []byte, dst any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return model.NewMalformedBodyError(errors.New("empty body"))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return model.NewMalformedBodyError(errors.New("trailing data after JSON object"))
	}

	if err := v.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.NewValidationError(fieldMessage(verrs[0]))
		}
		return model.NewValidationError(err.Error())
	}

	return nil
}

// decodeError はJSONデコードエラーを検証エラーに変換する。
func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field == "" {
			return model.NewMalformedBodyError(err)
		}
		return model.NewValidationError(fmt.Sprintf("%q must be a string", typeErr.Field))
	}

	// encoding/jsonは未知フィールドを `json: unknown field "x"` として報告する
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return model.NewValidationError(fmt.Sprintf("%s is not allowed", field))
	}

	return model.NewMalformedBodyError(err)
}

// fieldMessage はvalidatorのFieldErrorを表示用メッセージに変換する。
func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", fe.Field())
	default:
		return fmt.Sprintf("%q failed on the %q rule", fe.Field(), fe.Tag())
	}
}

// Package identity はAmazon Cognitoユーザープールを使ったIdPアダプターを提供する。
//
// 各呼び出しはタイムアウトで打ち切られ、結果のエラーは次のように分類される。
//   - Cognitoが操作を拒否した場合（クライアント起因のfault）は*model.APIError（CategoryProvider）
//   - 自デプロイメントの設定不備、サーバー起因のfault、通信失敗は*model.APIError（CategorySystem）
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	"github.com/staysafecovid19/api/internal/model"
)

// defaultTimeout はCognito呼び出し1回あたりのデフォルトのタイムアウト。
const defaultTimeout = 10 * time.Second

// AuthParametersのキー
const (
	paramUsername     = "USERNAME"
	paramPassword     = "PASSWORD"
	paramRefreshToken = "REFRESH_TOKEN"
	paramSecretHash   = "SECRET_HASH"
)

// deploymentFaults はクライアント起因として返されるが、実際には
// ユーザープールやトリガーの設定不備を示すエラーコード。
var deploymentFaults = map[string]bool{
	"ResourceNotFoundException":                true,
	"InternalErrorException":                   true,
	"UnexpectedLambdaException":                true,
	"InvalidLambdaResponseException":           true,
	"InvalidSmsRoleAccessPolicyException":      true,
	"InvalidSmsRoleTrustRelationshipException": true,
	"InvalidEmailRoleAccessPolicyException":    true,
	"InvalidUserPoolConfigurationException":    true,
}

// CognitoAPI はCognitoIdentityProviderクライアントのうち利用する操作のインターフェース。
// *cognitoidentityprovider.Clientが満たす。
type CognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	SignUp(ctx context.Context, params *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, params *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	ResendConfirmationCode(ctx context.Context, params *cip.ResendConfirmationCodeInput, optFns ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error)
}

// CognitoConfig はCognitoアダプターの設定。
type CognitoConfig struct {
	ClientID     string
	ClientSecret string // 空の場合はSECRET_HASHを付与しない
	Timeout      time.Duration
}

// CognitoProvider はCognitoユーザープールによるIdP実装。
type CognitoProvider struct {
	client CognitoAPI
	config CognitoConfig
}

// NewCognitoProvider はCognitoProviderを生成する。
func NewCognitoProvider(client CognitoAPI, config CognitoConfig) *CognitoProvider {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &CognitoProvider{client: client, config: config}
}

// Authenticate はUSER_PASSWORD_AUTHフローでログインする。
// 追加のチャレンジ（NEW_PASSWORD_REQUIRED等）が要求された場合は拒否として扱う。
func (p *CognitoProvider) Authenticate(ctx context.Context, username, password string) (*model.SessionTokens, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	params := map[string]string{
		paramUsername: username,
		paramPassword: password,
	}
	p.addSecretHash(params, username)

	out, err := p.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.config.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, classify("InitiateAuth", err)
	}

	return tokensFromOutput(out, "")
}

// Refresh はREFRESH_TOKEN_AUTHフローでセッションを更新する。
// Cognitoが新しいリフレッシュトークンを返さない場合は入力のトークンを引き継ぐ。
func (p *CognitoProvider) Refresh(ctx context.Context, username, refreshToken string) (*model.SessionTokens, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	params := map[string]string{
		paramRefreshToken: refreshToken,
	}
	p.addSecretHash(params, username)

	out, err := p.client.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.config.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, classify("InitiateAuth", err)
	}

	return tokensFromOutput(out, refreshToken)
}

// Register はユーザーを登録し、Cognitoが発行したsubを返す。
func (p *CognitoProvider) Register(ctx context.Context, username, password string, attributes []model.UserAttribute) (*model.Registration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	attrs := make([]types.AttributeType, 0, len(attributes))
	for _, a := range attributes {
		attrs = append(attrs, types.AttributeType{
			Name:  aws.String(a.Name),
			Value: aws.String(a.Value),
		})
	}

	out, err := p.client.SignUp(ctx, &cip.SignUpInput{
		ClientId:       aws.String(p.config.ClientID),
		Username:       aws.String(username),
		Password:       aws.String(password),
		SecretHash:     p.secretHash(username),
		UserAttributes: attrs,
	})
	if err != nil {
		return nil, classify("SignUp", err)
	}

	sub := aws.ToString(out.UserSub)
	if sub == "" {
		return nil, model.NewProviderUnavailableError(errors.New("SignUp returned no user sub"))
	}

	return &model.Registration{SubjectID: sub}, nil
}

// ConfirmRegistration は確認コードで登録を確定する。
// 別ユーザーが同じメールをエイリアスとして持つ場合もエイリアスを付け替えて確定する。
func (p *CognitoProvider) ConfirmRegistration(ctx context.Context, username, code string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	_, err := p.client.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:           aws.String(p.config.ClientID),
		Username:           aws.String(username),
		ConfirmationCode:   aws.String(code),
		SecretHash:         p.secretHash(username),
		ForceAliasCreation: true,
	})
	if err != nil {
		return classify("ConfirmSignUp", err)
	}
	return nil
}

// ResendConfirmationCode は確認コードを再送する。
func (p *CognitoProvider) ResendConfirmationCode(ctx context.Context, username string) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	_, err := p.client.ResendConfirmationCode(ctx, &cip.ResendConfirmationCodeInput{
		ClientId:   aws.String(p.config.ClientID),
		Username:   aws.String(username),
		SecretHash: p.secretHash(username),
	})
	if err != nil {
		return classify("ResendConfirmationCode", err)
	}
	return nil
}

// secretHash はクライアントシークレットが設定されている場合にSECRET_HASHを返す。
func (p *CognitoProvider) secretHash(username string) *string {
	if p.config.ClientSecret == "" {
		return nil
	}
	return aws.String(SecretHash(p.config.ClientSecret, username, p.config.ClientID))
}

func (p *CognitoProvider) addSecretHash(params map[string]string, username string) {
	if h := p.secretHash(username); h != nil {
		params[paramSecretHash] = *h
	}
}

// SecretHash はCognitoのSECRET_HASHを計算する。
// Base64(HMAC-SHA256(clientSecret, username + clientID))
func SecretHash(clientSecret, username, clientID string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// tokensFromOutput はInitiateAuthの結果からセッショントークンを取り出す。
// fallbackRefreshTokenは結果にリフレッシュトークンが含まれない場合に使う。
func tokensFromOutput(out *cip.InitiateAuthOutput, fallbackRefreshToken string) (*model.SessionTokens, error) {
	if out == nil {
		return nil, model.NewProviderUnavailableError(errors.New("InitiateAuth returned no output"))
	}
	if out.ChallengeName != "" {
		return nil, model.NewProviderRejectedError(
			fmt.Sprintf("authentication requires an additional challenge: %s", out.ChallengeName),
			nil,
		)
	}
	if out.AuthenticationResult == nil {
		return nil, model.NewProviderUnavailableError(errors.New("InitiateAuth returned no authentication result"))
	}

	result := out.AuthenticationResult
	tokens := &model.SessionTokens{
		AccessToken:  aws.ToString(result.AccessToken),
		IDToken:      aws.ToString(result.IdToken),
		RefreshToken: aws.ToString(result.RefreshToken),
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = fallbackRefreshToken
	}
	if !tokens.Complete() {
		return nil, model.NewProviderUnavailableError(errors.New("InitiateAuth returned incomplete tokens"))
	}

	return tokens, nil
}

// classify はCognito呼び出しのエラーを分類済みエラーに変換する。
func classify(operation string, err error) error {
	wrapped := fmt.Errorf("cognito %s: %w", operation, err)

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		// 通信失敗、タイムアウト、キャンセル
		return model.NewProviderUnavailableError(wrapped)
	}

	if apiErr.ErrorFault() != smithy.FaultClient || deploymentFaults[apiErr.ErrorCode()] {
		return model.NewProviderUnavailableError(wrapped)
	}

	message := apiErr.ErrorMessage()
	if message == "" {
		message = apiErr.ErrorCode()
	}
	return model.NewProviderRejectedError(message, wrapped)
}

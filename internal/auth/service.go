// Package auth は認証フロー（ログイン、セッション更新、登録、登録確認、確認コード再送）を提供する。
//
// 各フローは「検証 → IdP呼び出し → （登録時のみ）プロフィール保存 → レスポンス生成」の
// 直列パイプラインで、最初の失敗で打ち切る。リトライは行わない。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/staysafecovid19/api/internal/metrics"
	"github.com/staysafecovid19/api/internal/model"
	"github.com/staysafecovid19/api/internal/outcome"
	"github.com/staysafecovid19/api/internal/repository"
	"github.com/staysafecovid19/api/internal/validate"
)

// emailAttribute は登録時にIdPへ渡すメール属性名。
const emailAttribute = "email"

// IdentityProvider は外部IdPのインターフェース。
// 拒否は*model.APIError（CategoryProvider）で、障害はそれ以外のエラーで返す。
type IdentityProvider interface {
	// Authenticate はユーザー名とパスワードでセッションを開始する。
	Authenticate(ctx context.Context, username, password string) (*model.SessionTokens, error)
	// Refresh はリフレッシュトークンでセッションを更新する。
	Refresh(ctx context.Context, username, refreshToken string) (*model.SessionTokens, error)
	// Register はユーザーを登録し、IdPが発行した識別子を返す。
	Register(ctx context.Context, username, password string, attributes []model.UserAttribute) (*model.Registration, error)
	// ConfirmRegistration は確認コードで登録を確定する。
	ConfirmRegistration(ctx context.Context, username, code string) error
	// ResendConfirmationCode は確認コードを再送する。
	ResendConfirmationCode(ctx context.Context, username string) error
}

// Service は認証フローのオーケストレーションを行う。
// 状態を持たないため、複数のgoroutineから同時に利用できる。
type Service struct {
	provider  IdentityProvider
	profiles  repository.ProfileRepository
	validator *validate.Validator
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewService(
	provider IdentityProvider,
	profiles repository.ProfileRepository,
	validator *validate.Validator,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		provider:  provider,
		profiles:  profiles,
		validator: validator,
		metrics:   collector,
	}
}

// Handle はフロー名に対応する処理を実行する。
// 未知のフローの場合は400を返す。
func (s *Service) Handle(ctx context.Context, flow model.Flow, body []byte) outcome.Envelope {
	switch flow {
	case model.FlowLogin:
		return s.Login(ctx, body)
	case model.FlowRefresh:
		return s.Refresh(ctx, body)
	case model.FlowSignup:
		return s.Signup(ctx, body)
	case model.FlowConfirm:
		return s.ConfirmRegistration(ctx, body)
	case model.FlowResend:
		return s.ResendConfirmationCode(ctx, body)
	default:
		return outcome.Failure(model.NewUnknownFlowError(string(flow)))
	}
}

// Login はユーザー名とパスワードでログインし、セッショントークンを返す。
func (s *Service) Login(ctx context.Context, body []byte) outcome.Envelope {
	return s.run(ctx, model.FlowLogin, func(ctx context.Context) (outcome.Envelope, error) {
		cmd, err := s.validator.Login(body)
		if err != nil {
			return outcome.Envelope{}, err
		}

		tokens, err := s.provider.Authenticate(ctx, cmd.Username, cmd.Password)
		if err != nil {
			return outcome.Envelope{}, providerError(err)
		}
		if !tokens.Complete() {
			return outcome.Envelope{}, model.NewProviderUnavailableError(errors.New("authentication result is missing tokens"))
		}
		return outcome.Success(tokens), nil
	})
}

// Refresh はリフレッシュトークンでセッションを更新する。
func (s *Service) Refresh(ctx context.Context, body []byte) outcome.Envelope {
	return s.run(ctx, model.FlowRefresh, func(ctx context.Context) (outcome.Envelope, error) {
		cmd, err := s.validator.Refresh(body)
		if err != nil {
			return outcome.Envelope{}, err
		}

		tokens, err := s.provider.Refresh(ctx, cmd.Username, cmd.RefreshToken)
		if err != nil {
			return outcome.Envelope{}, providerError(err)
		}
		if !tokens.Complete() {
			return outcome.Envelope{}, model.NewProviderUnavailableError(errors.New("refresh result is missing tokens"))
		}
		return outcome.Success(tokens), nil
	})
}

// Signup はユーザーをIdPに登録し、登録に成功した場合のみプロフィールを保存する。
// IdPへの登録後にプロフィール保存が失敗した場合、IdP側の登録は取り消さない。
func (s *Service) Signup(ctx context.Context, body []byte) outcome.Envelope {
	return s.run(ctx, model.FlowSignup, func(ctx context.Context) (outcome.Envelope, error) {
		cmd, err := s.validator.Signup(body)
		if err != nil {
			return outcome.Envelope{}, err
		}

		attrs := []model.UserAttribute{{Name: emailAttribute, Value: cmd.Username}}
		reg, err := s.provider.Register(ctx, cmd.Username, cmd.Password, attrs)
		if err != nil {
			return outcome.Envelope{}, providerError(err)
		}
		if reg == nil || reg.SubjectID == "" {
			return outcome.Envelope{}, model.NewProviderUnavailableError(errors.New("registration result is missing the subject identifier"))
		}

		profile := &model.Profile{
			ID:        uuid.New().String(),
			SubjectID: reg.SubjectID,
			FirstName: cmd.FirstName,
			LastName:  cmd.LastName,
			CreatedAt: time.Now(),
		}

		if err := s.profiles.Insert(ctx, profile); err != nil {
			// IdPには登録済みのため、運用者が突き合わせできるよう識別子を残す
			slog.Error("profile insert failed after provider registration",
				slog.String("subject_id", reg.SubjectID),
				slog.String("error", err.Error()),
			)
			return outcome.Envelope{}, model.NewStoreUnavailableError(fmt.Errorf("failed to insert profile: %w", err))
		}

		slog.Info("user registered",
			slog.String("subject_id", reg.SubjectID),
			slog.String("profile_id", profile.ID),
		)
		return outcome.Message(model.MessageSignupSucceeded), nil
	})
}

// ConfirmRegistration は確認コードで登録を確定する。
func (s *Service) ConfirmRegistration(ctx context.Context, body []byte) outcome.Envelope {
	return s.run(ctx, model.FlowConfirm, func(ctx context.Context) (outcome.Envelope, error) {
		cmd, err := s.validator.Confirm(body)
		if err != nil {
			return outcome.Envelope{}, err
		}

		if err := s.provider.ConfirmRegistration(ctx, cmd.Username, cmd.Code); err != nil {
			return outcome.Envelope{}, providerError(err)
		}
		return outcome.Message(model.MessageEmailConfirmed), nil
	})
}

// ResendConfirmationCode は確認コードを再送する。
func (s *Service) ResendConfirmationCode(ctx context.Context, body []byte) outcome.Envelope {
	return s.run(ctx, model.FlowResend, func(ctx context.Context) (outcome.Envelope, error) {
		cmd, err := s.validator.Resend(body)
		if err != nil {
			return outcome.Envelope{}, err
		}

		if err := s.provider.ResendConfirmationCode(ctx, cmd.Username); err != nil {
			return outcome.Envelope{}, providerError(err)
		}
		return outcome.Message(model.MessageCodeResent), nil
	})
}

// run はフロー本体を実行し、エラーをEnvelopeに変換してログとメトリクスを記録する。
func (s *Service) run(ctx context.Context, flow model.Flow, fn func(ctx context.Context) (outcome.Envelope, error)) outcome.Envelope {
	start := time.Now()

	env, err := fn(ctx)
	if err != nil {
		env = outcome.Failure(err)
		s.logFailure(flow, err)
	} else if !env.IsSuccess() {
		// 成功ペイロードのシリアライズ失敗
		slog.Error("auth flow failed to build response",
			slog.String("flow", string(flow)),
			slog.Int("status", env.StatusCode),
		)
	}

	if s.metrics != nil {
		s.metrics.RecordFlowOutcome(string(flow), env.StatusCode)
		s.metrics.RecordFlowLatency(string(flow), time.Since(start))
	}

	return env
}

// logFailure はフローの失敗をカテゴリに応じたレベルでログ出力する。
func (s *Service) logFailure(flow model.Flow, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("auth flow failed",
			slog.String("flow", string(flow)),
			slog.String("error", err.Error()),
		)
		return
	}

	if apiErr.IsCallerFault() {
		slog.Info("auth flow rejected",
			slog.String("flow", string(flow)),
			slog.String("code", apiErr.Code),
			slog.String("category", apiErr.Category),
		)
		return
	}

	slog.Error("auth flow failed",
		slog.String("flow", string(flow)),
		slog.String("code", apiErr.Code),
		slog.String("error", apiErr.Error()),
	)

	if s.metrics == nil {
		return
	}
	switch apiErr.Code {
	case model.ErrCodeProviderUnavailable:
		s.metrics.RecordCollaboratorFailure(metrics.CollaboratorIdentityProvider)
	case model.ErrCodeStoreUnavailable:
		s.metrics.RecordCollaboratorFailure(metrics.CollaboratorProfileStore)
	}
}

// providerError はIdPから返されたエラーを分類済みエラーに変換する。
// 分類されていないエラーはIdPの障害として扱う。
func providerError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewProviderUnavailableError(err)
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/staysafecovid19/api/internal/metrics"
	"github.com/staysafecovid19/api/internal/model"
	"github.com/staysafecovid19/api/internal/repository"
	"github.com/staysafecovid19/api/internal/security"
	"github.com/staysafecovid19/api/internal/validate"
)

// --- モック定義 ---

type mockIdentityProvider struct {
	mu sync.Mutex

	authenticateFn func(ctx context.Context, username, password string) (*model.SessionTokens, error)
	refreshFn      func(ctx context.Context, username, refreshToken string) (*model.SessionTokens, error)
	registerFn     func(ctx context.Context, username, password string, attributes []model.UserAttribute) (*model.Registration, error)
	confirmFn      func(ctx context.Context, username, code string) error
	resendFn       func(ctx context.Context, username string) error

	calls int
}

func (m *mockIdentityProvider) called() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
}

func (m *mockIdentityProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockIdentityProvider) Authenticate(ctx context.Context, username, password string) (*model.SessionTokens, error) {
	m.called()
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, username, password)
	}
	return &model.SessionTokens{AccessToken: "AT", IDToken: "IT", RefreshToken: "RT"}, nil
}

func (m *mockIdentityProvider) Refresh(ctx context.Context, username, refreshToken string) (*model.SessionTokens, error) {
	m.called()
	if m.refreshFn != nil {
		return m.refreshFn(ctx, username, refreshToken)
	}
	return &model.SessionTokens{AccessToken: "AT2", IDToken: "IT2", RefreshToken: refreshToken}, nil
}

func (m *mockIdentityProvider) Register(ctx context.Context, username, password string, attributes []model.UserAttribute) (*model.Registration, error) {
	m.called()
	if m.registerFn != nil {
		return m.registerFn(ctx, username, password, attributes)
	}
	return &model.Registration{SubjectID: "sub-123"}, nil
}

func (m *mockIdentityProvider) ConfirmRegistration(ctx context.Context, username, code string) error {
	m.called()
	if m.confirmFn != nil {
		return m.confirmFn(ctx, username, code)
	}
	return nil
}

func (m *mockIdentityProvider) ResendConfirmationCode(ctx context.Context, username string) error {
	m.called()
	if m.resendFn != nil {
		return m.resendFn(ctx, username)
	}
	return nil
}

type mockProfileRepo struct {
	insertFn func(ctx context.Context, profile *model.Profile) error
	inserted []*model.Profile
}

func (m *mockProfileRepo) Insert(ctx context.Context, profile *model.Profile) error {
	m.inserted = append(m.inserted, profile)
	if m.insertFn != nil {
		return m.insertFn(ctx, profile)
	}
	return nil
}

type mockMetrics struct {
	outcomes      map[string]int
	collaborators []string
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{outcomes: map[string]int{}}
}

func (m *mockMetrics) RecordFlowOutcome(flow string, statusCode int) {
	m.outcomes[flow] = statusCode
}

func (m *mockMetrics) RecordFlowLatency(string, time.Duration) {}

func (m *mockMetrics) RecordCollaboratorFailure(collaborator string) {
	m.collaborators = append(m.collaborators, collaborator)
}

func (m *mockMetrics) RecordRateLimited(string) {}

// --- compile-time interface checks ---
var _ IdentityProvider = (*mockIdentityProvider)(nil)
var _ repository.ProfileRepository = (*mockProfileRepo)(nil)
var _ metrics.MetricsCollector = (*mockMetrics)(nil)

// --- ヘルパー ---

func newTestService(provider IdentityProvider, profiles repository.ProfileRepository) *Service {
	return NewService(provider, profiles, validate.New(security.NewNameSanitizer()), nil)
}

type responseBody struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
}

func decodeBody(t *testing.T, body []byte) responseBody {
	t.Helper()
	var rb responseBody
	if err := json.Unmarshal(body, &rb); err != nil {
		t.Fatalf("failed to decode body %q: %v", body, err)
	}
	return rb
}

// --- テスト ---

func TestLogin_Success_ReturnsTokens(t *testing.T) {
	var gotUser, gotPass string
	provider := &mockIdentityProvider{
		authenticateFn: func(_ context.Context, username, password string) (*model.SessionTokens, error) {
			gotUser, gotPass = username, password
			return &model.SessionTokens{AccessToken: "AT", IDToken: "IT", RefreshToken: "RT"}, nil
		},
	}
	profiles := &mockProfileRepo{}
	svc := newTestService(provider, profiles)

	env := svc.Login(context.Background(), []byte(`{"username":"a@b.com","password":"pw"}`))

	if env.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want %d (body=%s)", env.StatusCode, http.StatusOK, env.Body)
	}
	body := decodeBody(t, env.Body)
	if body.AccessToken != "AT" || body.IDToken != "IT" || body.RefreshToken != "RT" {
		t.Errorf("tokens = %+v, want AT/IT/RT", body)
	}
	if gotUser != "a@b.com" || gotPass != "pw" {
		t.Errorf("provider called with (%q, %q), want (a@b.com, pw)", gotUser, gotPass)
	}
	if len(profiles.inserted) != 0 {
		t.Errorf("profile store touched %d times, want 0", len(profiles.inserted))
	}
}

func TestLogin_ProviderRejection_Returns400WithoutTokens(t *testing.T) {
	provider := &mockIdentityProvider{
		authenticateFn: func(context.Context, string, string) (*model.SessionTokens, error) {
			return nil, model.NewProviderRejectedError("Incorrect username or password.", errors.New("NotAuthorizedException"))
		},
	}
	svc := newTestService(provider, &mockProfileRepo{})

	env := svc.Login(context.Background(), []byte(`{"username":"a@b.com","password":"wrong"}`))

	if env.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
	}
	body := decodeBody(t, env.Body)
	if body.Message != "Incorrect username or password." {
		t.Errorf("Message = %q, want provider message", body.Message)
	}
	if body.AccessToken != "" || body.IDToken != "" || body.RefreshToken != "" {
		t.Errorf("rejection body should not contain tokens: %s", env.Body)
	}
}

func TestLogin_UnclassifiedProviderError_Returns500(t *testing.T) {
	provider := &mockIdentityProvider{
		authenticateFn: func(context.Context, string, string) (*model.SessionTokens, error) {
			return nil, errors.New("dial tcp: i/o timeout")
		},
	}
	collector := newMockMetrics()
	svc := NewService(provider, &mockProfileRepo{}, validate.New(security.NewNameSanitizer()), collector)

	env := svc.Login(context.Background(), []byte(`{"username":"a@b.com","password":"pw"}`))

	if env.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusInternalServerError)
	}
	body := decodeBody(t, env.Body)
	if body.Code != model.ErrCodeProviderUnavailable {
		t.Errorf("Code = %q, want %q", body.Code, model.ErrCodeProviderUnavailable)
	}
	if collector.outcomes["login"] != http.StatusInternalServerError {
		t.Errorf("recorded outcome = %d, want 500", collector.outcomes["login"])
	}
	if len(collector.collaborators) != 1 || collector.collaborators[0] != metrics.CollaboratorIdentityProvider {
		t.Errorf("collaborator failures = %v, want [%s]", collector.collaborators, metrics.CollaboratorIdentityProvider)
	}
}

func TestLogin_IncompleteTokens_Returns500(t *testing.T) {
	provider := &mockIdentityProvider{
		authenticateFn: func(context.Context, string, string) (*model.SessionTokens, error) {
			return &model.SessionTokens{AccessToken: "AT", IDToken: "IT"}, nil
		},
	}
	svc := newTestService(provider, &mockProfileRepo{})

	env := svc.Login(context.Background(), []byte(`{"username":"a@b.com","password":"pw"}`))

	if env.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want %d", env.StatusCode, http.StatusInternalServerError)
	}
}

func TestEveryFlow_InvalidInput_NeverCallsProvider(t *testing.T) {
	tests := []struct {
		name string
		flow model.Flow
		body string
	}{
		{name: "login: passwordなし", flow: model.FlowLogin, body: `{"username":"a@b.com"}`},
		{name: "refresh: refreshTokenなし", flow: model.FlowRefresh, body: `{"username":"a@b.com"}`},
		{name: "signup: nameなし", flow: model.FlowSignup, body: `{"username":"a@b.com","password":"pw"}`},
		{name: "confirm: codeなし", flow: model.FlowConfirm, body: `{"username":"a@b.com"}`},
		{name: "resend: usernameなし", flow: model.FlowResend, body: `{}`},
		{name: "login: 不正なJSON", flow: model.FlowLogin, body: `not json`},
		{name: "signup: 未知のキー", flow: model.FlowSignup, body: `{"name":"Ana Silva","username":"a@b.com","password":"pw","admin":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockIdentityProvider{}
			profiles := &mockProfileRepo{}
			svc := newTestService(provider, profiles)

			env := svc.Handle(context.Background(), tt.flow, []byte(tt.body))

			if env.StatusCode != http.StatusBadRequest {
				t.Errorf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
			}
			if provider.callCount() != 0 {
				t.Errorf("provider called %d times, want 0", provider.callCount())
			}
			if len(profiles.inserted) != 0 {
				t.Errorf("profile store touched %d times, want 0", len(profiles.inserted))
			}
		})
	}
}

func TestSignup_SingleWordName_ReturnsDomainMessage(t *testing.T) {
	provider := &mockIdentityProvider{}
	svc := newTestService(provider, &mockProfileRepo{})

	env := svc.Signup(context.Background(), []byte(`{"name":"Ana","username":"a@b.com","password":"pw"}`))

	if env.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
	}
	body := decodeBody(t, env.Body)
	if body.Message != model.MessageInvalidName {
		t.Errorf("Message = %q, want %q", body.Message, model.MessageInvalidName)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times, want 0", provider.callCount())
	}
}

func TestSignup_NamePartTooLong_RejectedBeforeRegister(t *testing.T) {
	provider := &mockIdentityProvider{}
	profiles := &mockProfileRepo{}
	svc := newTestService(provider, profiles)

	body := `{"name":"Ana ` + strings.Repeat("s", 300) + `","username":"a@b.com","password":"pw"}`
	env := svc.Signup(context.Background(), []byte(body))

	if env.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
	}
	if code := decodeBody(t, env.Body).Code; code != model.ErrCodeValidationFailed {
		t.Errorf("Code = %q, want %q", code, model.ErrCodeValidationFailed)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times, want 0", provider.callCount())
	}
	if len(profiles.inserted) != 0 {
		t.Errorf("profile store touched %d times, want 0", len(profiles.inserted))
	}
}

func TestSignup_EncodedMarkup_NeverReachesProfile(t *testing.T) {
	profiles := &mockProfileRepo{}
	svc := newTestService(&mockIdentityProvider{}, profiles)

	body := `{"name":"Ana Lee &lt;script&gt;alert(1)&lt;/script&gt;","username":"a@b.com","password":"pw"}`
	env := svc.Signup(context.Background(), []byte(body))

	if env.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want %d (body=%s)", env.StatusCode, http.StatusOK, env.Body)
	}
	if len(profiles.inserted) != 1 {
		t.Fatalf("profiles inserted = %d, want 1", len(profiles.inserted))
	}
	p := profiles.inserted[0]
	if p.FirstName != "Ana" || p.LastName != "Lee" {
		t.Errorf("profile name = %q/%q, want Ana/Lee", p.FirstName, p.LastName)
	}
}

func TestSignup_Success_RegistersAndInsertsProfile(t *testing.T) {
	var gotAttrs []model.UserAttribute
	provider := &mockIdentityProvider{
		registerFn: func(_ context.Context, _, _ string, attributes []model.UserAttribute) (*model.Registration, error) {
			gotAttrs = attributes
			return &model.Registration{SubjectID: "sub-abc"}, nil
		},
	}
	profiles := &mockProfileRepo{}
	svc := newTestService(provider, profiles)

	env := svc.Signup(context.Background(), []byte(`{"name":"Maria da Silva","username":"maria@b.com","password":"pw"}`))

	if env.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want %d (body=%s)", env.StatusCode, http.StatusOK, env.Body)
	}
	if msg := decodeBody(t, env.Body).Message; msg != model.MessageSignupSucceeded {
		t.Errorf("Message = %q, want %q", msg, model.MessageSignupSucceeded)
	}

	// emailのみが属性として渡されること
	if len(gotAttrs) != 1 || gotAttrs[0].Name != "email" || gotAttrs[0].Value != "maria@b.com" {
		t.Errorf("attributes = %+v, want [{email maria@b.com}]", gotAttrs)
	}

	if len(profiles.inserted) != 1 {
		t.Fatalf("profiles inserted = %d, want 1", len(profiles.inserted))
	}
	p := profiles.inserted[0]
	if p.SubjectID != "sub-abc" {
		t.Errorf("SubjectID = %q, want %q", p.SubjectID, "sub-abc")
	}
	if p.FirstName != "Maria" || p.LastName != "Silva" {
		t.Errorf("name = (%q, %q), want (Maria, Silva)", p.FirstName, p.LastName)
	}
	if p.ID == "" {
		t.Error("expected non-empty profile ID")
	}
	if p.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestSignup_ProviderRejection_DoesNotInsertProfile(t *testing.T) {
	provider := &mockIdentityProvider{
		registerFn: func(context.Context, string, string, []model.UserAttribute) (*model.Registration, error) {
			return nil, model.NewProviderRejectedError("An account with the given email already exists.", nil)
		},
	}
	profiles := &mockProfileRepo{}
	svc := newTestService(provider, profiles)

	env := svc.Signup(context.Background(), []byte(`{"name":"Ana Silva","username":"a@b.com","password":"pw"}`))

	if env.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
	}
	if msg := decodeBody(t, env.Body).Message; msg != "An account with the given email already exists." {
		t.Errorf("Message = %q, want provider message", msg)
	}
	if len(profiles.inserted) != 0 {
		t.Errorf("profiles inserted = %d, want 0", len(profiles.inserted))
	}
}

func TestSignup_StoreFailure_Returns500AfterSingleRegister(t *testing.T) {
	provider := &mockIdentityProvider{}
	profiles := &mockProfileRepo{
		insertFn: func(context.Context, *model.Profile) error {
			return errors.New("connection refused")
		},
	}
	collector := newMockMetrics()
	svc := NewService(provider, profiles, validate.New(security.NewNameSanitizer()), collector)

	env := svc.Signup(context.Background(), []byte(`{"name":"Ana Silva","username":"a@b.com","password":"pw"}`))

	if env.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusInternalServerError)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider called %d times, want exactly 1", provider.callCount())
	}
	body := decodeBody(t, env.Body)
	if body.Code != model.ErrCodeStoreUnavailable {
		t.Errorf("Code = %q, want %q", body.Code, model.ErrCodeStoreUnavailable)
	}
	if len(collector.collaborators) != 1 || collector.collaborators[0] != metrics.CollaboratorProfileStore {
		t.Errorf("collaborator failures = %v, want [%s]", collector.collaborators, metrics.CollaboratorProfileStore)
	}
}

func TestSignup_MissingSubjectID_Returns500WithoutInsert(t *testing.T) {
	provider := &mockIdentityProvider{
		registerFn: func(context.Context, string, string, []model.UserAttribute) (*model.Registration, error) {
			return &model.Registration{}, nil
		},
	}
	profiles := &mockProfileRepo{}
	svc := newTestService(provider, profiles)

	env := svc.Signup(context.Background(), []byte(`{"name":"Ana Silva","username":"a@b.com","password":"pw"}`))

	if env.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want %d", env.StatusCode, http.StatusInternalServerError)
	}
	if len(profiles.inserted) != 0 {
		t.Errorf("profiles inserted = %d, want 0", len(profiles.inserted))
	}
}

func TestRefresh_Success_ReturnsTokens(t *testing.T) {
	var gotToken string
	provider := &mockIdentityProvider{
		refreshFn: func(_ context.Context, _, refreshToken string) (*model.SessionTokens, error) {
			gotToken = refreshToken
			return &model.SessionTokens{AccessToken: "AT2", IDToken: "IT2", RefreshToken: refreshToken}, nil
		},
	}
	svc := newTestService(provider, &mockProfileRepo{})

	env := svc.Refresh(context.Background(), []byte(`{"username":"a@b.com","refreshToken":"RT"}`))

	if env.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusOK)
	}
	body := decodeBody(t, env.Body)
	if body.AccessToken != "AT2" || body.IDToken != "IT2" || body.RefreshToken != "RT" {
		t.Errorf("tokens = %+v, want AT2/IT2/RT", body)
	}
	if gotToken != "RT" {
		t.Errorf("provider refreshToken = %q, want %q", gotToken, "RT")
	}
}

func TestRefresh_ProviderRejection_Returns400WithoutTokens(t *testing.T) {
	provider := &mockIdentityProvider{
		refreshFn: func(context.Context, string, string) (*model.SessionTokens, error) {
			return nil, model.NewProviderRejectedError("Refresh Token has expired", errors.New("NotAuthorizedException"))
		},
	}
	profiles := &mockProfileRepo{}
	svc := newTestService(provider, profiles)

	env := svc.Refresh(context.Background(), []byte(`{"username":"a@b.com","refreshToken":"expired"}`))

	if env.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
	}
	body := decodeBody(t, env.Body)
	if body.Message != "Refresh Token has expired" {
		t.Errorf("Message = %q, want provider message", body.Message)
	}
	if body.AccessToken != "" || body.IDToken != "" || body.RefreshToken != "" {
		t.Errorf("rejection body should not contain tokens: %s", env.Body)
	}
	if len(profiles.inserted) != 0 {
		t.Errorf("profile store touched %d times, want 0", len(profiles.inserted))
	}
}

func TestRefresh_IncompleteTokens_Returns500(t *testing.T) {
	tests := []struct {
		name   string
		tokens *model.SessionTokens
	}{
		{name: "IDトークンなし", tokens: &model.SessionTokens{AccessToken: "AT2", RefreshToken: "RT"}},
		{name: "結果なし", tokens: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockIdentityProvider{
				refreshFn: func(context.Context, string, string) (*model.SessionTokens, error) {
					return tt.tokens, nil
				},
			}
			svc := newTestService(provider, &mockProfileRepo{})

			env := svc.Refresh(context.Background(), []byte(`{"username":"a@b.com","refreshToken":"RT"}`))

			if env.StatusCode != http.StatusInternalServerError {
				t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusInternalServerError)
			}
			body := decodeBody(t, env.Body)
			if body.Code != model.ErrCodeProviderUnavailable {
				t.Errorf("Code = %q, want %q", body.Code, model.ErrCodeProviderUnavailable)
			}
			if body.AccessToken != "" {
				t.Errorf("failure body should not contain tokens: %s", env.Body)
			}
		})
	}
}

func TestConfirmRegistration_FixedMessages(t *testing.T) {
	t.Run("成功", func(t *testing.T) {
		var gotCode string
		provider := &mockIdentityProvider{
			confirmFn: func(_ context.Context, _, code string) error {
				gotCode = code
				return nil
			},
		}
		profiles := &mockProfileRepo{}
		svc := newTestService(provider, profiles)

		env := svc.ConfirmRegistration(context.Background(), []byte(`{"username":"a@b.com","code":"123456"}`))

		if env.StatusCode != http.StatusOK {
			t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusOK)
		}
		if msg := decodeBody(t, env.Body).Message; msg != model.MessageEmailConfirmed {
			t.Errorf("Message = %q, want %q", msg, model.MessageEmailConfirmed)
		}
		if gotCode != "123456" {
			t.Errorf("code = %q, want %q", gotCode, "123456")
		}
		if len(profiles.inserted) != 0 {
			t.Errorf("profile store touched %d times, want 0", len(profiles.inserted))
		}
	})

	t.Run("IdPの拒否", func(t *testing.T) {
		provider := &mockIdentityProvider{
			confirmFn: func(context.Context, string, string) error {
				return model.NewProviderRejectedError("Invalid verification code provided, please try again.", nil)
			},
		}
		svc := newTestService(provider, &mockProfileRepo{})

		env := svc.ConfirmRegistration(context.Background(), []byte(`{"username":"a@b.com","code":"000000"}`))

		if env.StatusCode != http.StatusBadRequest {
			t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
		}
		if msg := decodeBody(t, env.Body).Message; msg != "Invalid verification code provided, please try again." {
			t.Errorf("Message = %q, want provider message", msg)
		}
	})
}

func TestResendConfirmationCode_TwiceReturnsTwoSuccesses(t *testing.T) {
	provider := &mockIdentityProvider{}
	profiles := &mockProfileRepo{}
	svc := newTestService(provider, profiles)
	body := []byte(`{"username":"a@b.com"}`)

	for i := 0; i < 2; i++ {
		env := svc.ResendConfirmationCode(context.Background(), body)
		if env.StatusCode != http.StatusOK {
			t.Fatalf("call %d: StatusCode = %d, want %d", i+1, env.StatusCode, http.StatusOK)
		}
		if msg := decodeBody(t, env.Body).Message; msg != model.MessageCodeResent {
			t.Errorf("call %d: Message = %q, want %q", i+1, msg, model.MessageCodeResent)
		}
	}

	if provider.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", provider.callCount())
	}
	if len(profiles.inserted) != 0 {
		t.Errorf("profile store touched %d times, want 0", len(profiles.inserted))
	}
}

func TestResendConfirmationCode_ProviderRejection(t *testing.T) {
	provider := &mockIdentityProvider{
		resendFn: func(context.Context, string) error {
			return model.NewProviderRejectedError("Attempt limit exceeded, please try after some time.", nil)
		},
	}
	profiles := &mockProfileRepo{}
	svc := newTestService(provider, profiles)

	env := svc.ResendConfirmationCode(context.Background(), []byte(`{"username":"a@b.com"}`))

	if env.StatusCode != http.StatusBadRequest {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
	}
	body := decodeBody(t, env.Body)
	if body.Message != "Attempt limit exceeded, please try after some time." {
		t.Errorf("Message = %q, want provider message", body.Message)
	}
	if body.Code != model.ErrCodeProviderRejected {
		t.Errorf("Code = %q, want %q", body.Code, model.ErrCodeProviderRejected)
	}
	if len(profiles.inserted) != 0 {
		t.Errorf("profile store touched %d times, want 0", len(profiles.inserted))
	}
}

func TestHandle_UnknownFlow_Returns400(t *testing.T) {
	provider := &mockIdentityProvider{}
	svc := newTestService(provider, &mockProfileRepo{})

	env := svc.Handle(context.Background(), model.Flow("logout"), []byte(`{}`))

	if env.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want %d", env.StatusCode, http.StatusBadRequest)
	}
	if code := decodeBody(t, env.Body).Code; code != model.ErrCodeUnknownFlow {
		t.Errorf("Code = %q, want %q", code, model.ErrCodeUnknownFlow)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider called %d times, want 0", provider.callCount())
	}
}

func TestLogin_EndToEnd_ExactBody(t *testing.T) {
	provider := &mockIdentityProvider{}
	svc := newTestService(provider, &mockProfileRepo{})

	env := svc.Handle(context.Background(), model.FlowLogin, []byte(`{"username":"a@b.com","password":"pw"}`))

	want := "{\n  \"accessToken\": \"AT\",\n  \"idToken\": \"IT\",\n  \"refreshToken\": \"RT\"\n}"
	if env.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, want %d", env.StatusCode, http.StatusOK)
	}
	if string(env.Body) != want {
		t.Errorf("Body = %q, want %q", env.Body, want)
	}
}

func TestService_ConcurrentInvocationsAreIndependent(t *testing.T) {
	provider := &mockIdentityProvider{}
	svc := newTestService(provider, &mockProfileRepo{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env := svc.Login(context.Background(), []byte(`{"username":"a@b.com","password":"pw"}`))
			if env.StatusCode != http.StatusOK {
				t.Errorf("StatusCode = %d, want %d", env.StatusCode, http.StatusOK)
			}
		}()
	}
	wg.Wait()

	if provider.callCount() != 20 {
		t.Errorf("provider called %d times, want 20", provider.callCount())
	}
}

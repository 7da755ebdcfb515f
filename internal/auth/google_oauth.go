package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/tokengate/internal/model"
)

const (
	defaultGoogleAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL     = "https://oauth2.googleapis.com/token"
	defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

	defaultTimeout              = 10 * time.Second
	defaultRetryInitialInterval = 200 * time.Millisecond
	maxRetryInterval            = 2 * time.Second

	// maxResponseBytes はプロバイダー応答として読み込む最大サイズ。
	maxResponseBytes = 1 << 20
)

var tracer = otel.Tracer("github.com/hitoshi/tokengate/internal/auth")

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Timeout は1回のHTTP呼び出しに適用するデッドライン。
	Timeout time.Duration
	// MaxAttempts はネットワーク起因の失敗に対する最大試行回数（初回を含む）。
	MaxAttempts int
	// RetryInitialInterval は指数バックオフの初回待機時間。
	RetryInitialInterval time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL      string
	TokenURL     string
	TokenInfoURL string

	HTTPClient *http.Client
}

// GoogleOAuthClient はGoogleへのすべてのOAuth呼び出しを集約するクライアント。
type GoogleOAuthClient struct {
	config GoogleOAuthConfig
	http   *http.Client
}

// NewGoogleOAuthClient はGoogleOAuthClientを生成する。
func NewGoogleOAuthClient(config GoogleOAuthConfig) *GoogleOAuthClient {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{"openid", "email", "profile"}
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = defaultRetryInitialInterval
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &GoogleOAuthClient{config: config, http: httpClient}
}

// BuildAuthorizationURL は認可エンドポイントのURLを生成する。
// 副作用を持たず、同じ設定とstateに対して常に同じURLを返す。
// 初回ログインでリフレッシュトークンを受け取るためaccess_type=offlineを必ず付与する。
func BuildAuthorizationURL(config GoogleOAuthConfig, state string) string {
	authURL := config.AuthURL
	if authURL == "" {
		authURL = defaultGoogleAuthURL
	}
	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	params := url.Values{
		"client_id":     {config.ClientID},
		"redirect_uri":  {config.RedirectURL},
		"response_type": {"code"},
		"scope":         {strings.Join(scopes, " ")},
		"access_type":   {"offline"},
	}
	if state != "" {
		params.Set("state", state)
	}
	return authURL + "?" + params.Encode()
}

// BuildAuthorizationURL はクライアント設定で認可URLを生成する。
func (c *GoogleOAuthClient) BuildAuthorizationURL(state string) string {
	return BuildAuthorizationURL(c.config, state)
}

// maxExpiresIn はexpires_inとして受け付ける最大秒数（1年）。
// これを超える値は有効期限の計算でオーバーフローし得るため不正なレスポンスとして扱う。
const maxExpiresIn = 365 * 24 * 60 * 60

// validExpiresIn はexpires_inが正の値かつ上限以内かどうかを返す。
func validExpiresIn(seconds int) bool {
	return seconds > 0 && seconds <= maxExpiresIn
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
}

// googleTokenInfo はGoogleのtokeninfoエンドポイントのレスポンス。
type googleTokenInfo struct {
	Sub   string `json:"sub"`
	Aud   string `json:"aud"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// googleErrorResponse はGoogleが4xx/5xxで返すエラーボディ。
type googleErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeCode は認可コードをトークン一式に交換する。
func (c *GoogleOAuthClient) ExchangeCode(ctx context.Context, code string) (*model.TokenSet, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"redirect_uri":  {c.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	var resp googleTokenResponse
	if err := c.call(ctx, OpExchange, c.formRequest(c.config.TokenURL, form), &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return nil, malformed(OpExchange, "empty access_token in response")
	}
	if !validExpiresIn(resp.ExpiresIn) {
		return nil, malformed(OpExchange, fmt.Sprintf("expires_in out of range in response: %d", resp.ExpiresIn))
	}
	if resp.IDToken == "" {
		return nil, malformed(OpExchange, "empty id_token in response")
	}

	return &model.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		IDToken:      resp.IDToken,
	}, nil
}

// VerifyIdentity はIDトークンをtokeninfoエンドポイントで検証し、ユーザー情報を返す。
func (c *GoogleOAuthClient) VerifyIdentity(ctx context.Context, idToken string) (*model.IdentityClaims, error) {
	infoURL, err := url.Parse(c.config.TokenInfoURL)
	if err != nil {
		return nil, &ProviderError{Op: OpVerifyIdentity, Kind: ErrNetwork, Err: fmt.Errorf("invalid tokeninfo URL: %w", err)}
	}
	q := infoURL.Query()
	q.Set("id_token", idToken)
	infoURL.RawQuery = q.Encode()

	newReq := func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, infoURL.String(), nil)
	}

	var info googleTokenInfo
	if err := c.call(ctx, OpVerifyIdentity, newReq, &info); err != nil {
		return nil, err
	}

	if info.Sub == "" {
		return nil, malformed(OpVerifyIdentity, "empty sub in tokeninfo response")
	}
	if info.Aud != "" && info.Aud != c.config.ClientID {
		return nil, &ProviderError{
			Op:   OpVerifyIdentity,
			Kind: ErrAuthorizationDenied,
			Err:  fmt.Errorf("id token audience %q does not match client id", info.Aud),
		}
	}

	return &model.IdentityClaims{
		SubjectID: info.Sub,
		Name:      info.Name,
		Email:     info.Email,
	}, nil
}

// RefreshAccessToken はリフレッシュトークンで新しいアクセストークンを取得する。
// レスポンスにリフレッシュトークンが含まれていても使用しない。
func (c *GoogleOAuthClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*model.RefreshedToken, error) {
	if refreshToken == "" {
		return nil, &ProviderError{Op: OpRefresh, Kind: ErrAuthorizationDenied, Err: errors.New("no refresh token on record")}
	}

	form := url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	var resp googleTokenResponse
	if err := c.call(ctx, OpRefresh, c.formRequest(c.config.TokenURL, form), &resp); err != nil {
		return nil, err
	}

	if resp.AccessToken == "" {
		return nil, malformed(OpRefresh, "empty access_token in response")
	}
	if !validExpiresIn(resp.ExpiresIn) {
		return nil, malformed(OpRefresh, fmt.Sprintf("expires_in out of range in response: %d", resp.ExpiresIn))
	}

	return &model.RefreshedToken{
		AccessToken: resp.AccessToken,
		ExpiresIn:   resp.ExpiresIn,
	}, nil
}

// formRequest はform-encodedのPOSTリクエストを生成する関数を返す。
// リトライのたびにボディを作り直す必要があるため関数として渡す。
func (c *GoogleOAuthClient) formRequest(endpoint string, form url.Values) func(ctx context.Context) (*http.Request, error) {
	body := form.Encode()
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}
}

// call はプロバイダーへのHTTP呼び出しを1つのスパンとして実行し、JSONをoutにデコードする。
// ネットワーク起因の失敗のみ指数バックオフでMaxAttempts回まで試行する。
func (c *GoogleOAuthClient) call(ctx context.Context, op Op, newReq func(context.Context) (*http.Request, error), out any) error {
	ctx, span := tracer.Start(ctx, "oauth."+string(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("oauth.provider", "google")),
	)
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.RetryInitialInterval
	bo.MaxInterval = maxRetryInterval

	attempts := 0
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		attempts++
		body, perr := c.attempt(ctx, op, newReq)
		if perr != nil && !perr.retryable() {
			return nil, backoff.Permanent(perr)
		}
		if perr != nil {
			return nil, perr
		}
		return body, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.config.MaxAttempts)),
	)
	span.SetAttributes(attribute.Int("oauth.attempts", attempts))

	if err != nil {
		var perr *ProviderError
		if !errors.As(err, &perr) {
			// バックオフ待機中のコンテキストキャンセル等
			perr = &ProviderError{Op: op, Kind: ErrNetwork, Err: err}
		}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Kind.Error())
		return perr
	}

	if err := json.Unmarshal(body, out); err != nil {
		perr := &ProviderError{Op: op, Kind: ErrMalformedResponse, StatusCode: http.StatusOK, Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Kind.Error())
		return perr
	}
	return nil
}

// attempt は1回分のHTTP呼び出しを行い、200応答のボディを返す。
func (c *GoogleOAuthClient) attempt(ctx context.Context, op Op, newReq func(context.Context) (*http.Request, error)) ([]byte, *ProviderError) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := newReq(ctx)
	if err != nil {
		return nil, &ProviderError{Op: op, Kind: ErrNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: op, Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ProviderError{Op: op, Kind: ErrNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	perr := &ProviderError{
		Op:         op,
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
	var errBody googleErrorResponse
	if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
		perr.ProviderCode = errBody.Error
		if errBody.ErrorDescription != "" {
			perr.Err = errors.New(errBody.ErrorDescription)
		}
	}
	return nil, perr
}

// classifyStatus は200以外のHTTPステータスを失敗原因に分類する。
func classifyStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrNetwork
	case statusCode >= 500:
		return ErrNetwork
	case statusCode >= 400:
		return ErrAuthorizationDenied
	default:
		return ErrMalformedResponse
	}
}

func malformed(op Op, reason string) *ProviderError {
	return &ProviderError{Op: op, Kind: ErrMalformedResponse, StatusCode: http.StatusOK, Err: errors.New(reason)}
}

// compile-time interface check
var _ OAuthClient = (*GoogleOAuthClient)(nil)

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

// newTestOAuthClient はテスト用サーバーを向いたクライアントを生成する。
// リトライ待機は最小にする。
func newTestOAuthClient(serverURL string) *GoogleOAuthClient {
	return NewGoogleOAuthClient(GoogleOAuthConfig{
		ClientID:             "test-client-id",
		ClientSecret:         "test-client-secret",
		RedirectURL:          "http://localhost:8080/auth/callback",
		Timeout:              time.Second,
		MaxAttempts:          3,
		RetryInitialInterval: time.Millisecond,
		TokenURL:             serverURL + "/token",
		TokenInfoURL:         serverURL + "/tokeninfo",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestBuildAuthorizationURL_ContainsRequiredParams(t *testing.T) {
	client := NewGoogleOAuthClient(GoogleOAuthConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/callback",
	})

	raw := client.BuildAuthorizationURL("test-state-value")

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse URL: %v", err)
	}
	if got := parsed.Scheme + "://" + parsed.Host + parsed.Path; got != defaultGoogleAuthURL {
		t.Errorf("endpoint = %q, want %q", got, defaultGoogleAuthURL)
	}

	q := parsed.Query()
	tests := []struct {
		param string
		want  string
	}{
		{"client_id", "test-client-id"},
		{"redirect_uri", "http://localhost:8080/auth/callback"},
		{"response_type", "code"},
		{"scope", "openid email profile"},
		{"access_type", "offline"},
		{"state", "test-state-value"},
	}

	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			if got := q.Get(tt.param); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.param, got, tt.want)
			}
		})
	}
}

func TestBuildAuthorizationURL_Deterministic(t *testing.T) {
	config := GoogleOAuthConfig{ClientID: "id", RedirectURL: "http://localhost/cb", Scopes: []string{"openid", "email"}}

	first := BuildAuthorizationURL(config, "s")
	second := BuildAuthorizationURL(config, "s")

	if first != second {
		t.Errorf("BuildAuthorizationURL is not deterministic: %q != %q", first, second)
	}
}

func TestBuildAuthorizationURL_EmptyState_OmitsParam(t *testing.T) {
	raw := BuildAuthorizationURL(GoogleOAuthConfig{ClientID: "id"}, "")

	parsed, _ := url.Parse(raw)
	if parsed.Query().Has("state") {
		t.Errorf("URL should not contain state, got %q", raw)
	}
}

func TestExchangeCode_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/token" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q, want %q", got, "authorization_code")
		}
		if got := r.PostForm.Get("code"); got != "auth-code" {
			t.Errorf("code = %q, want %q", got, "auth-code")
		}
		if got := r.PostForm.Get("redirect_uri"); got != "http://localhost:8080/auth/callback" {
			t.Errorf("redirect_uri = %q", got)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "test-access-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "test-refresh-token",
			"id_token":      "test-id-token",
		})
	}))
	defer server.Close()

	tokens, err := newTestOAuthClient(server.URL).ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tokens.AccessToken != "test-access-token" {
		t.Errorf("AccessToken = %q, want %q", tokens.AccessToken, "test-access-token")
	}
	if tokens.RefreshToken != "test-refresh-token" {
		t.Errorf("RefreshToken = %q, want %q", tokens.RefreshToken, "test-refresh-token")
	}
	if tokens.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", tokens.ExpiresIn)
	}
	if tokens.IDToken != "test-id-token" {
		t.Errorf("IDToken = %q, want %q", tokens.IDToken, "test-id-token")
	}
}

func TestExchangeCode_InvalidGrant_ReturnsDeniedWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Bad Request",
		})
	}))
	defer server.Close()

	_, err := newTestOAuthClient(server.URL).ExchangeCode(context.Background(), "used-code")

	if !errors.Is(err, ErrExchange) {
		t.Errorf("error should match ErrExchange, got %v", err)
	}
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Errorf("error should match ErrAuthorizationDenied, got %v", err)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error should be *ProviderError, got %T", err)
	}
	if perr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want %d", perr.StatusCode, http.StatusBadRequest)
	}
	if perr.ProviderCode != "invalid_grant" {
		t.Errorf("ProviderCode = %q, want %q", perr.ProviderCode, "invalid_grant")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (denied responses must not be retried)", got)
	}
}

func TestExchangeCode_ServerError_RetriesUpToMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestOAuthClient(server.URL).ExchangeCode(context.Background(), "code")

	if !errors.Is(err, ErrNetwork) {
		t.Errorf("error should match ErrNetwork, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestExchangeCode_TransientFailureThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "at", "expires_in": 3600, "id_token": "idt",
		})
	}))
	defer server.Close()

	tokens, err := newTestOAuthClient(server.URL).ExchangeCode(context.Background(), "code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens.AccessToken != "at" {
		t.Errorf("AccessToken = %q, want %q", tokens.AccessToken, "at")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestExchangeCode_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"missing access_token", `{"expires_in":3600,"id_token":"idt"}`},
		{"missing expires_in", `{"access_token":"at","id_token":"idt"}`},
		{"missing id_token", `{"access_token":"at","expires_in":3600}`},
		{"negative expires_in", `{"access_token":"at","expires_in":-1,"id_token":"idt"}`},
		{"expires_in beyond one year", `{"access_token":"at","expires_in":9300000000000,"id_token":"idt"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestOAuthClient(server.URL).ExchangeCode(context.Background(), "code")

			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("error should match ErrMalformedResponse, got %v", err)
			}
			if !errors.Is(err, ErrExchange) {
				t.Errorf("error should match ErrExchange, got %v", err)
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("calls = %d, want 1", got)
			}
		})
	}
}

func TestExchangeCode_Unreachable_ReturnsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	_, err := newTestOAuthClient(serverURL).ExchangeCode(context.Background(), "code")

	if !errors.Is(err, ErrNetwork) {
		t.Errorf("error should match ErrNetwork, got %v", err)
	}
}

func TestExchangeCode_SlowProvider_TimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewGoogleOAuthClient(GoogleOAuthConfig{
		ClientID:             "id",
		Timeout:              20 * time.Millisecond,
		MaxAttempts:          1,
		RetryInitialInterval: time.Millisecond,
		TokenURL:             server.URL + "/token",
	})

	start := time.Now()
	_, err := client.ExchangeCode(context.Background(), "code")

	if !errors.Is(err, ErrNetwork) {
		t.Errorf("error should match ErrNetwork, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call took %v, expected the timeout to cut it short", elapsed)
	}
}

func TestVerifyIdentity_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/tokeninfo" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("id_token"); got != "test-id-token" {
			t.Errorf("id_token = %q, want %q", got, "test-id-token")
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"sub":   "google-user-123",
			"aud":   "test-client-id",
			"email": "alice@example.com",
			"name":  "Alice",
		})
	}))
	defer server.Close()

	claims, err := newTestOAuthClient(server.URL).VerifyIdentity(context.Background(), "test-id-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if claims.SubjectID != "google-user-123" {
		t.Errorf("SubjectID = %q, want %q", claims.SubjectID, "google-user-123")
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("Email = %q, want %q", claims.Email, "alice@example.com")
	}
	if claims.Name != "Alice" {
		t.Errorf("Name = %q, want %q", claims.Name, "Alice")
	}
}

func TestVerifyIdentity_AudienceMismatch_ReturnsDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"sub": "u", "aud": "someone-else"})
	}))
	defer server.Close()

	_, err := newTestOAuthClient(server.URL).VerifyIdentity(context.Background(), "idt")

	if !errors.Is(err, ErrIdentityVerification) {
		t.Errorf("error should match ErrIdentityVerification, got %v", err)
	}
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Errorf("error should match ErrAuthorizationDenied, got %v", err)
	}
}

func TestVerifyIdentity_InvalidToken_ReturnsDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_token"})
	}))
	defer server.Close()

	_, err := newTestOAuthClient(server.URL).VerifyIdentity(context.Background(), "bad")

	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Errorf("error should match ErrAuthorizationDenied, got %v", err)
	}
}

func TestVerifyIdentity_MissingSub_ReturnsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"email": "alice@example.com"})
	}))
	defer server.Close()

	_, err := newTestOAuthClient(server.URL).VerifyIdentity(context.Background(), "idt")

	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("error should match ErrMalformedResponse, got %v", err)
	}
}

func TestRefreshAccessToken_Success_IgnoresReturnedRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want %q", got, "refresh_token")
		}
		if got := r.PostForm.Get("refresh_token"); got != "stored-refresh-token" {
			t.Errorf("refresh_token = %q, want %q", got, "stored-refresh-token")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "new-access-token",
			"expires_in":    3599,
			"refresh_token": "rotated-refresh-token",
		})
	}))
	defer server.Close()

	token, err := newTestOAuthClient(server.URL).RefreshAccessToken(context.Background(), "stored-refresh-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if token.AccessToken != "new-access-token" {
		t.Errorf("AccessToken = %q, want %q", token.AccessToken, "new-access-token")
	}
	if token.ExpiresIn != 3599 {
		t.Errorf("ExpiresIn = %d, want 3599", token.ExpiresIn)
	}
}

func TestRefreshAccessToken_Revoked_ReturnsDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		})
	}))
	defer server.Close()

	_, err := newTestOAuthClient(server.URL).RefreshAccessToken(context.Background(), "revoked")

	if !errors.Is(err, ErrRefresh) {
		t.Errorf("error should match ErrRefresh, got %v", err)
	}
	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Errorf("error should match ErrAuthorizationDenied, got %v", err)
	}
}

func TestRefreshAccessToken_ExpiresInOutOfRange_ReturnsMalformed(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int64
	}{
		{"zero", 0},
		{"one second past the limit", maxExpiresIn + 1},
		{"overflows duration", 1 << 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"access_token": "at", "expires_in": tt.expiresIn})
			}))
			defer server.Close()

			token, err := newTestOAuthClient(server.URL).RefreshAccessToken(context.Background(), "rt")

			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("error should match ErrMalformedResponse, got %v", err)
			}
			if token != nil {
				t.Errorf("token = %+v, want nil", token)
			}
		})
	}
}

func TestValidExpiresIn(t *testing.T) {
	tests := []struct {
		seconds int
		want    bool
	}{
		{-1, false},
		{0, false},
		{1, true},
		{3600, true},
		{maxExpiresIn, true},
		{maxExpiresIn + 1, false},
	}

	for _, tt := range tests {
		if got := validExpiresIn(tt.seconds); got != tt.want {
			t.Errorf("validExpiresIn(%d) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestRefreshAccessToken_EmptyRefreshToken_NoOutboundCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	_, err := newTestOAuthClient(server.URL).RefreshAccessToken(context.Background(), "")

	if !errors.Is(err, ErrAuthorizationDenied) {
		t.Errorf("error should match ErrAuthorizationDenied, got %v", err)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0", got)
	}
}

func TestRefreshAccessToken_RateLimited_IsRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "at", "expires_in": 3600})
	}))
	defer server.Close()

	if _, err := newTestOAuthClient(server.URL).RefreshAccessToken(context.Background(), "rt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestProviderError_ErrorIncludesDetails(t *testing.T) {
	err := &ProviderError{
		Op:           OpRefresh,
		Kind:         ErrAuthorizationDenied,
		StatusCode:   400,
		ProviderCode: "invalid_grant",
		Err:          errors.New("Token has been expired or revoked."),
	}

	want := "refresh_access_token: provider denied authorization (status 400) [invalid_grant]: Token has been expired or revoked."
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestProviderError_DoesNotMatchOtherOps(t *testing.T) {
	err := &ProviderError{Op: OpExchange, Kind: ErrNetwork}

	if errors.Is(err, ErrRefresh) {
		t.Error("exchange error should not match ErrRefresh")
	}
	if errors.Is(err, ErrMalformedResponse) {
		t.Error("network error should not match ErrMalformedResponse")
	}
}

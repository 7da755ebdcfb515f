// Package googleapi はアクセストークンを使ったプロバイダーAPIの呼び出しを提供する。
package googleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const (
	// DefaultEndpoint はGoogleのユーザー情報APIのエンドポイント。
	DefaultEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

	maxResponseBytes = 1 << 20
)

// ErrTokenRejected はプロバイダーがアクセストークンを受け付けなかった（401）ことを表す。
var ErrTokenRejected = errors.New("access token rejected by provider")

// StatusError はプロバイダーAPIが200以外を返したことを表す。
type StatusError struct {
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("provider API returned status %d", e.StatusCode)
}

// Is は401をErrTokenRejectedとして扱う。
func (e *StatusError) Is(target error) bool {
	return target == ErrTokenRejected && e.StatusCode == http.StatusUnauthorized
}

// Client はプロバイダーAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewClient はClientの新しいインスタンスを生成する。
// endpointが空の場合はDefaultEndpointを使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// Fetch はBearerトークンでエンドポイントを呼び出し、JSONボディをそのまま返す。
func (c *Client) Fetch(ctx context.Context, accessToken string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("provider API request failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("provider API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("provider API returned error status", slog.Int("http_status", resp.StatusCode))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if !json.Valid(body) {
		c.logger.Error("provider API returned invalid JSON")
		return nil, errors.New("provider API returned invalid JSON")
	}

	return json.RawMessage(body), nil
}

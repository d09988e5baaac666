package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

const (
	DefaultBaseURL    = "https://app.dynamicauth.com/api/v0"
	DefaultVerifyPath = "emailVerifications/signin"
	defaultTimeout    = 30 * time.Second
)

var ErrIssuanceFailed = errors.New("verification issuance failed")

// HTTPClient talks to the email verification API.
// POST {base}/sdk/{environment}/emailVerifications/create {"email"} -> {"verificationUUID"}
type HTTPClient struct {
	baseURL       string
	environmentID string
	verifyPath    string
	client        *http.Client
}

var (
	_ ports.VerificationService = (*HTTPClient)(nil)
	_ ports.CodeVerifier        = (*HTTPClient)(nil)
)

// NewHTTPClient creates a verification client. httpClient may be nil.
func NewHTTPClient(baseURL, environmentID, verifyPath string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if verifyPath == "" {
		verifyPath = DefaultVerifyPath
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		environmentID: environmentID,
		verifyPath:    strings.Trim(verifyPath, "/"),
		client:        httpClient,
	}
}

type createRequest struct {
	Email string `json:"email"`
}

type createResponse struct {
	VerificationUUID string `json:"verificationUUID"`
	VerificationID   string `json:"verificationId"`
}

type verifyRequest struct {
	VerificationUUID  string `json:"verificationUUID"`
	VerificationToken string `json:"verificationToken"`
}

// Issue asks the service to send a one-time code to email
func (c *HTTPClient) Issue(ctx context.Context, email string) (string, error) {
	var resp createResponse
	status, err := c.post(ctx, "emailVerifications/create", createRequest{Email: email}, &resp)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("%w: status %d", ErrIssuanceFailed, status)
	}

	id := resp.VerificationUUID
	if id == "" {
		id = resp.VerificationID
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty verification id", ErrIssuanceFailed)
	}
	return id, nil
}

// Verify checks code against the verification. 4xx responses mean the code was rejected.
func (c *HTTPClient) Verify(ctx context.Context, verificationID, code string) error {
	status, err := c.post(ctx, c.verifyPath, verifyRequest{VerificationUUID: verificationID, VerificationToken: code}, nil)
	if err != nil {
		return fmt.Errorf("verification request failed: %w", err)
	}
	switch {
	case status >= 200 && status <= 299:
		return nil
	case status >= 400 && status <= 499:
		return core.ErrInvalidToken
	default:
		return fmt.Errorf("verification request failed: status %d", status)
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/sdk/%s/%s", c.baseURL, url.PathEscape(c.environmentID), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

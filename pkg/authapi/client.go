package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/casaflow/devicetrust/pkg/apierror"
)

// DefaultTimeout bounds every outbound call. Timeouts convert into a
// distinct retryable error kind instead of hanging the login flow.
const DefaultTimeout = 5 * time.Second

// Client talks to the auth backend. All responses are JSON; all error bodies
// are the normalized {code, message, data} shape.
type Client struct {
	baseURL    string
	httpClient *http.Client
	bearer     string
}

// NewClient creates a client for the backend at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithTimeout overrides the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithBearer sets the bearer token sent on subsequent calls.
func (c *Client) WithBearer(token string) *Client {
	c.bearer = token
	return c
}

// CheckPhone asks whether an account exists for the phone number.
func (c *Client) CheckPhone(ctx context.Context, phoneNumber string) (CheckPhoneResponse, error) {
	var resp CheckPhoneResponse
	err := c.post(ctx, "/auth/check-phone", CheckPhoneRequest{PhoneNumber: phoneNumber}, &resp)
	return resp, err
}

// PasswordLogin verifies the password and returns the account id plus a
// short-lived exchange token.
func (c *Client) PasswordLogin(ctx context.Context, phoneNumber, password string) (LoginResponse, error) {
	var resp LoginResponse
	err := c.post(ctx, "/auth/password-login", PasswordLoginRequest{
		PhoneNumber: phoneNumber,
		Password:    password,
	}, &resp)
	return resp, err
}

// RequestOTP asks the backend to send an SMS passcode.
func (c *Client) RequestOTP(ctx context.Context, phoneNumber, purpose string) error {
	var resp RequestOTPResponse
	if err := c.post(ctx, "/auth/request-otp", RequestOTPRequest{
		PhoneNumber: phoneNumber,
		Purpose:     purpose,
	}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return apierror.New(apierror.CodeInternal, "backend did not accept OTP request")
	}
	return nil
}

// VerifyOTP checks a passcode without signing in.
func (c *Client) VerifyOTP(ctx context.Context, phoneNumber, code, purpose string) (bool, error) {
	var resp VerifyOTPResponse
	if err := c.post(ctx, "/auth/verify-otp", VerifyOTPRequest{
		PhoneNumber: phoneNumber,
		Code:        code,
		Purpose:     purpose,
	}, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

// LoginWithOTP signs in with a verified passcode.
func (c *Client) LoginWithOTP(ctx context.Context, phoneNumber, code, purpose string) (LoginResponse, error) {
	var resp LoginResponse
	err := c.post(ctx, "/auth/login-with-otp", LoginWithOTPRequest{
		PhoneNumber: phoneNumber,
		Code:        code,
		Purpose:     purpose,
	}, &resp)
	return resp, err
}

// RegisterWithOTP creates an account with a verified passcode.
func (c *Client) RegisterWithOTP(ctx context.Context, phoneNumber, code string, profileData json.RawMessage) (LoginResponse, error) {
	var resp LoginResponse
	err := c.post(ctx, "/auth/register-with-otp", RegisterWithOTPRequest{
		PhoneNumber: phoneNumber,
		Code:        code,
		ProfileData: profileData,
	}, &resp)
	return resp, err
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierror.Wrap(err, apierror.CodeInternal, "failed to decode response")
	}
	return nil
}

// transportError classifies connection-level failures: deadline exceeded is
// a distinct retryable timeout, everything else is a network error.
func transportError(path string, err error) *apierror.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		slog.Warn("Auth backend call timed out", "path", path)
		return apierror.Wrap(err, apierror.CodeTimeout, "request timed out")
	}
	slog.Warn("Auth backend call failed", "path", path, "error", err)
	return apierror.Wrap(err, apierror.CodeNetworkError, "request failed")
}

// decodeError normalizes a non-2xx response into an apierror. The backend's
// own {code, message} body wins; a codeless body falls back to the fixed
// status table.
func decodeError(path string, resp *http.Response) *apierror.Error {
	var body apierror.Error
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Code != "" {
		slog.Debug("Auth backend rejected request", "path", path, "code", body.Code)
		return &body
	}

	code := apierror.FromHTTPStatus(resp.StatusCode)
	return apierror.Newf(code, "backend returned HTTP %d", resp.StatusCode)
}

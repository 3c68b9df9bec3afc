package recoveryhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ruteri/guardian-recovery/api"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/recovery"
)

// Client talks to a recovery API. OperatorID and OperatorKey are only needed
// for management calls.
type Client struct {
	BaseURL     string
	HTTP        *http.Client
	OperatorID  string
	OperatorKey *ecdsa.PrivateKey
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
	RecoveryID string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("recovery api returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) GetSession(ctx context.Context, recoveryID string) (interfaces.RecoverySession, error) {
	var session interfaces.RecoverySession
	err := c.do(ctx, http.MethodGet, "/api/v1/recoveries/"+url.PathEscape(recoveryID), nil, false, &session)
	return session, err
}

func (c *Client) Approve(ctx context.Context, recoveryID string, req api.ApprovalRequest) (recovery.ApprovalResult, error) {
	var result recovery.ApprovalResult
	err := c.do(ctx, http.MethodPost, "/api/v1/recoveries/"+url.PathEscape(recoveryID)+"/approvals", req, false, &result)
	return result, err
}

func (c *Client) Initialize(ctx context.Context, userID interfaces.UserID, req recovery.ConfigurationRequest) (interfaces.RecoveryConfiguration, error) {
	var cfg interfaces.RecoveryConfiguration
	err := c.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(userID)+"/configuration", req, true, &cfg)
	return cfg, err
}

func (c *Client) Audit(ctx context.Context, userID interfaces.UserID) (recovery.AuditReport, error) {
	var report recovery.AuditReport
	err := c.do(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(userID)+"/audit", nil, true, &report)
	return report, err
}

func (c *Client) Initiate(ctx context.Context, userID interfaces.UserID, deviceID string) (recovery.InitiateResult, error) {
	var result recovery.InitiateResult
	err := c.do(ctx, http.MethodPost, "/api/v1/users/"+url.PathEscape(userID)+"/recoveries", api.DeviceRequest{DeviceID: deviceID}, true, &result)
	return result, err
}

func (c *Client) Claim(ctx context.Context, recoveryID, deviceID string) ([]byte, error) {
	var resp api.ClaimResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/recoveries/"+url.PathEscape(recoveryID)+"/claim", api.DeviceRequest{DeviceID: deviceID}, true, &resp)
	return resp.Key, err
}

func (c *Client) Cancel(ctx context.Context, recoveryID, deviceID string) (interfaces.RecoverySession, error) {
	var session interfaces.RecoverySession
	err := c.do(ctx, http.MethodPost, "/api/v1/recoveries/"+url.PathEscape(recoveryID)+"/cancel", api.DeviceRequest{DeviceID: deviceID}, true, &session)
	return session, err
}

func (c *Client) do(ctx context.Context, method, path string, in any, signed bool, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		if c.OperatorKey == nil {
			return fmt.Errorf("operator key required for %s", path)
		}
		signature, err := SignRequest(c.OperatorKey, req.URL.Path, body)
		if err != nil {
			return fmt.Errorf("could not sign request: %w", err)
		}
		req.Header.Set(api.OperatorIDHeader, c.OperatorID)
		req.Header.Set(api.OperatorSignatureHeader, signature)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not request recovery api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = string(respBody)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error, RecoveryID: apiErr.RecoveryID}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse response: %w", err)
	}
	return nil
}

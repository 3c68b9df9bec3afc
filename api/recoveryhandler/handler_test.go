package recoveryhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/guardian-recovery/api"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRecoveryService struct {
	mock.Mock
}

func (m *MockRecoveryService) InitializeUserRecovery(ctx context.Context, userID interfaces.UserID, req recovery.ConfigurationRequest) (interfaces.RecoveryConfiguration, error) {
	args := m.Called(ctx, userID, req)
	return args.Get(0).(interfaces.RecoveryConfiguration), args.Error(1)
}

func (m *MockRecoveryService) GetConfiguration(ctx context.Context, userID interfaces.UserID) (interfaces.RecoveryConfiguration, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(interfaces.RecoveryConfiguration), args.Error(1)
}

func (m *MockRecoveryService) UpdateBackupOptions(ctx context.Context, userID interfaces.UserID, opts interfaces.BackupOptions, deviceShardCount int) (interfaces.RecoveryConfiguration, error) {
	args := m.Called(ctx, userID, opts, deviceShardCount)
	return args.Get(0).(interfaces.RecoveryConfiguration), args.Error(1)
}

func (m *MockRecoveryService) AddGuardian(ctx context.Context, userID interfaces.UserID, guardianID interfaces.GuardianID) (recovery.GuardianChange, error) {
	args := m.Called(ctx, userID, guardianID)
	return args.Get(0).(recovery.GuardianChange), args.Error(1)
}

func (m *MockRecoveryService) RemoveGuardian(ctx context.Context, userID interfaces.UserID, guardianID interfaces.GuardianID) (recovery.GuardianChange, error) {
	args := m.Called(ctx, userID, guardianID)
	return args.Get(0).(recovery.GuardianChange), args.Error(1)
}

func (m *MockRecoveryService) AuditUserRecovery(ctx context.Context, userID interfaces.UserID) (recovery.AuditReport, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(recovery.AuditReport), args.Error(1)
}

func (m *MockRecoveryService) InitiateRecovery(ctx context.Context, userID interfaces.UserID, requestingDevice string) (recovery.InitiateResult, error) {
	args := m.Called(ctx, userID, requestingDevice)
	return args.Get(0).(recovery.InitiateResult), args.Error(1)
}

func (m *MockRecoveryService) ListSessions(ctx context.Context, userID interfaces.UserID) ([]interfaces.RecoverySession, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]interfaces.RecoverySession), args.Error(1)
}

func (m *MockRecoveryService) GetSession(ctx context.Context, recoveryID string) (interfaces.RecoverySession, error) {
	args := m.Called(ctx, recoveryID)
	return args.Get(0).(interfaces.RecoverySession), args.Error(1)
}

func (m *MockRecoveryService) ApproveRecovery(ctx context.Context, recoveryID string, guardianID interfaces.GuardianID, signature []byte) (recovery.ApprovalResult, error) {
	args := m.Called(ctx, recoveryID, guardianID, signature)
	return args.Get(0).(recovery.ApprovalResult), args.Error(1)
}

func (m *MockRecoveryService) ApproveRecoveryWithShare(ctx context.Context, recoveryID string, guardianID interfaces.GuardianID, signature, payload []byte) (recovery.ApprovalResult, error) {
	args := m.Called(ctx, recoveryID, guardianID, signature, payload)
	return args.Get(0).(recovery.ApprovalResult), args.Error(1)
}

func (m *MockRecoveryService) ClaimRecoveredKey(ctx context.Context, recoveryID, deviceID string) ([]byte, error) {
	args := m.Called(ctx, recoveryID, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockRecoveryService) CancelRecovery(ctx context.Context, recoveryID, deviceID string) (interfaces.RecoverySession, error) {
	args := m.Called(ctx, recoveryID, deviceID)
	return args.Get(0).(interfaces.RecoverySession), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	service  *MockRecoveryService
	router   chi.Router
	operator *ecdsa.PrivateKey
}

func setupTestEnvironment(t *testing.T, limiter *GuardianLimiter) *testEnv {
	privPEM, pubPEM, err := GenerateOperatorKeyPair()
	require.NoError(t, err)
	priv, err := ParsePrivateKey([]byte(privPEM))
	require.NoError(t, err)
	pub, err := ParsePublicKey([]byte(pubPEM))
	require.NoError(t, err)

	service := new(MockRecoveryService)
	auth := NewOperatorAuth(map[string]*ecdsa.PublicKey{"ops": pub}, testLogger())
	handler := NewHandler(service, auth, limiter, testLogger())

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return &testEnv{service: service, router: router, operator: priv}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, signed bool) *httptest.ResponseRecorder {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if signed {
		signature, err := SignRequest(e.operator, path, raw)
		require.NoError(t, err)
		req.Header.Set(api.OperatorIDHeader, "ops")
		req.Header.Set(api.OperatorSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHandleInitialize(t *testing.T) {
	env := setupTestEnvironment(t, nil)
	req := recovery.ConfigurationRequest{Threshold: 2, TotalShares: 3, GuardianIDs: []string{"bob", "carol", "dave"}}
	cfg := interfaces.RecoveryConfiguration{UserID: "alice", Threshold: 2, TotalShares: 3, GuardianIDs: req.GuardianIDs}
	env.service.On("InitializeUserRecovery", mock.Anything, "alice", req).Return(cfg, nil)

	rec := env.request(t, http.MethodPost, "/api/v1/users/alice/configuration", req, true)
	assert.Equal(t, http.StatusCreated, rec.Code)
	got := decodeBody[interfaces.RecoveryConfiguration](t, rec)
	assert.Equal(t, cfg.GuardianIDs, got.GuardianIDs)
	env.service.AssertExpectations(t)
}

func TestOperatorAuthentication(t *testing.T) {
	env := setupTestEnvironment(t, nil)

	tests := []struct {
		name   string
		mutate func(r *http.Request)
	}{
		{"missing headers", func(r *http.Request) {
			r.Header.Del(api.OperatorIDHeader)
			r.Header.Del(api.OperatorSignatureHeader)
		}},
		{"unknown operator", func(r *http.Request) { r.Header.Set(api.OperatorIDHeader, "mallory") }},
		{"bad encoding", func(r *http.Request) { r.Header.Set(api.OperatorSignatureHeader, "%%%") }},
		{"body tampered", func(r *http.Request) {
			r.Body = io.NopCloser(strings.NewReader(`{"device_id":"evil"}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := []byte(`{"device_id":"phone"}`)
			path := "/api/v1/users/alice/recoveries"
			signature, err := SignRequest(env.operator, path, body)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
			req.Header.Set(api.OperatorIDHeader, "ops")
			req.Header.Set(api.OperatorSignatureHeader, signature)
			tt.mutate(req)

			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	env.service.AssertNotCalled(t, "InitiateRecovery", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleInitiate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantID     string
	}{
		{"no configuration", fmt.Errorf("wrapped: %w", interfaces.ErrNoConfiguration), http.StatusNotFound, ""},
		{"already in progress", &interfaces.AlreadyInProgressError{RecoveryID: "rec-1"}, http.StatusConflict, "rec-1"},
		{"unexpected", fmt.Errorf("database exploded"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnvironment(t, nil)
			env.service.On("InitiateRecovery", mock.Anything, "alice", "phone").Return(recovery.InitiateResult{}, tt.err)

			rec := env.request(t, http.MethodPost, "/api/v1/users/alice/recoveries", api.DeviceRequest{DeviceID: "phone"}, true)
			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeBody[api.ErrorResponse](t, rec)
			assert.Equal(t, tt.wantID, resp.RecoveryID)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal error", resp.Error)
			}
		})
	}
}

func TestHandleApprove(t *testing.T) {
	env := setupTestEnvironment(t, nil)
	sig := []byte{1, 2, 3}
	payload := []byte(`{"share_id":"s1"}`)

	env.service.On("ApproveRecovery", mock.Anything, "rec-1", "bob", sig).
		Return(recovery.ApprovalResult{RecoveryID: "rec-1", GuardianID: "bob", Counted: true, ApprovedCount: 1, RequiredThreshold: 2, Status: interfaces.StatusPendingApproval}, nil)
	env.service.On("ApproveRecoveryWithShare", mock.Anything, "rec-1", "carol", sig, payload).
		Return(recovery.ApprovalResult{RecoveryID: "rec-1", GuardianID: "carol", Counted: true, ApprovedCount: 2, RequiredThreshold: 2, Status: interfaces.StatusCompleted}, nil)
	env.service.On("ApproveRecovery", mock.Anything, "rec-1", "mallory", sig).Return(recovery.ApprovalResult{}, interfaces.ErrUnauthorizedGuardian)
	env.service.On("ApproveRecovery", mock.Anything, "rec-old", "bob", sig).Return(recovery.ApprovalResult{}, interfaces.ErrExpired)

	rec := env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/approvals", api.ApprovalRequest{GuardianID: "bob", Signature: sig}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[recovery.ApprovalResult](t, rec).ApprovedCount)

	rec = env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/approvals", api.ApprovalRequest{GuardianID: "carol", Signature: sig, SharePayload: payload}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, interfaces.StatusCompleted, decodeBody[recovery.ApprovalResult](t, rec).Status)

	rec = env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/approvals", api.ApprovalRequest{GuardianID: "mallory", Signature: sig}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/recoveries/rec-old/approvals", api.ApprovalRequest{GuardianID: "bob", Signature: sig}, false)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/approvals", api.ApprovalRequest{GuardianID: "bob"}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.service.AssertExpectations(t)
}

func TestHandleApprove_RateLimited(t *testing.T) {
	env := setupTestEnvironment(t, NewGuardianLimiter(time.Hour, 2))
	sig := []byte{1}
	env.service.On("ApproveRecovery", mock.Anything, "rec-1", "bob", sig).Return(recovery.ApprovalResult{}, interfaces.ErrInvalidSignature)
	env.service.On("ApproveRecovery", mock.Anything, "rec-1", "carol", sig).Return(recovery.ApprovalResult{}, interfaces.ErrInvalidSignature)

	for i := 0; i < 2; i++ {
		rec := env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/approvals", api.ApprovalRequest{GuardianID: "bob", Signature: sig}, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/approvals", api.ApprovalRequest{GuardianID: "bob", Signature: sig}, false)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/approvals", api.ApprovalRequest{GuardianID: "carol", Signature: sig}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "other guardians keep their own budget")

	env.service.AssertNumberOfCalls(t, "ApproveRecovery", 3)
}

func TestHandleClaimAndCancel(t *testing.T) {
	env := setupTestEnvironment(t, nil)
	key := []byte("recovered-key-material")
	env.service.On("ClaimRecoveredKey", mock.Anything, "rec-1", "phone").Return(append([]byte(nil), key...), nil)
	env.service.On("ClaimRecoveredKey", mock.Anything, "rec-1", "laptop").Return(nil, interfaces.ErrUnauthorizedDevice)
	env.service.On("CancelRecovery", mock.Anything, "rec-2", "phone").
		Return(interfaces.RecoverySession{RecoveryID: "rec-2", Status: interfaces.StatusFailed, FailureReason: recovery.ReasonCancelled}, nil)

	rec := env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/claim", api.DeviceRequest{DeviceID: "phone"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, key, decodeBody[api.ClaimResponse](t, rec).Key)

	rec = env.request(t, http.MethodPost, "/api/v1/recoveries/rec-1/claim", api.DeviceRequest{DeviceID: "laptop"}, true)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/recoveries/rec-2/cancel", api.DeviceRequest{DeviceID: "phone"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, recovery.ReasonCancelled, decodeBody[interfaces.RecoverySession](t, rec).FailureReason)
}

func TestGuardianRoutes(t *testing.T) {
	env := setupTestEnvironment(t, nil)
	env.service.On("AddGuardian", mock.Anything, "alice", "erin").
		Return(recovery.GuardianChange{RedistributionRequired: true}, nil)
	env.service.On("RemoveGuardian", mock.Anything, "alice", "bob").
		Return(recovery.GuardianChange{RevokedShareCount: 1, RedistributionRequired: true}, nil)
	env.service.On("RemoveGuardian", mock.Anything, "alice", "zed").
		Return(recovery.GuardianChange{}, interfaces.ErrGuardianNotFound)

	rec := env.request(t, http.MethodPost, "/api/v1/users/alice/guardians", api.GuardianRequest{GuardianID: "erin"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[recovery.GuardianChange](t, rec).RedistributionRequired)

	rec = env.request(t, http.MethodDelete, "/api/v1/users/alice/guardians/bob", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[recovery.GuardianChange](t, rec).RevokedShareCount)

	rec = env.request(t, http.MethodDelete, "/api/v1/users/alice/guardians/zed", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/users/alice/guardians", api.GuardianRequest{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClient(t *testing.T) {
	env := setupTestEnvironment(t, nil)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	session := interfaces.RecoverySession{RecoveryID: "rec-1", UserID: "alice", Status: interfaces.StatusPendingApproval, RequiredThreshold: 2}
	env.service.On("GetSession", mock.Anything, "rec-1").Return(session, nil)
	env.service.On("GetSession", mock.Anything, "missing").Return(interfaces.RecoverySession{}, interfaces.ErrNotFound)
	env.service.On("AuditUserRecovery", mock.Anything, "alice").
		Return(recovery.AuditReport{UserID: "alice", Threshold: 2}, nil)

	client := &Client{BaseURL: srv.URL}
	ctx := context.Background()

	got, err := client.GetSession(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, session.RecoveryID, got.RecoveryID)

	_, err = client.GetSession(ctx, "missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	_, err = client.Audit(ctx, "alice")
	require.Error(t, err, "management calls need an operator key")

	client.OperatorID = "ops"
	client.OperatorKey = env.operator
	report, err := client.Audit(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Threshold)
}

func TestLoadOperatorKeys(t *testing.T) {
	_, pubPEM, err := GenerateOperatorKeyPair()
	require.NoError(t, err)

	doc, err := json.Marshal(map[string]any{
		"operators": []map[string]string{{"id": "ops", "pubkey": pubPEM}},
	})
	require.NoError(t, err)

	keys, err := LoadOperatorKeys(bytes.NewReader(doc))
	require.NoError(t, err)
	assert.Contains(t, keys, "ops")

	_, err = LoadOperatorKeys(strings.NewReader(`{"operators":[{"id":"x","pubkey":"nope"}]}`))
	require.Error(t, err)
}

package recoveryhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/guardian-recovery/api"
	"github.com/ruteri/guardian-recovery/interfaces"
	"github.com/ruteri/guardian-recovery/recovery"
)

const maxBodyBytes = 64 << 10

// RecoveryService is the part of recovery.Orchestrator exposed over HTTP.
type RecoveryService interface {
	InitializeUserRecovery(ctx context.Context, userID interfaces.UserID, req recovery.ConfigurationRequest) (interfaces.RecoveryConfiguration, error)
	GetConfiguration(ctx context.Context, userID interfaces.UserID) (interfaces.RecoveryConfiguration, error)
	UpdateBackupOptions(ctx context.Context, userID interfaces.UserID, opts interfaces.BackupOptions, deviceShardCount int) (interfaces.RecoveryConfiguration, error)
	AddGuardian(ctx context.Context, userID interfaces.UserID, guardianID interfaces.GuardianID) (recovery.GuardianChange, error)
	RemoveGuardian(ctx context.Context, userID interfaces.UserID, guardianID interfaces.GuardianID) (recovery.GuardianChange, error)
	AuditUserRecovery(ctx context.Context, userID interfaces.UserID) (recovery.AuditReport, error)
	InitiateRecovery(ctx context.Context, userID interfaces.UserID, requestingDevice string) (recovery.InitiateResult, error)
	ListSessions(ctx context.Context, userID interfaces.UserID) ([]interfaces.RecoverySession, error)
	GetSession(ctx context.Context, recoveryID string) (interfaces.RecoverySession, error)
	ApproveRecovery(ctx context.Context, recoveryID string, guardianID interfaces.GuardianID, signature []byte) (recovery.ApprovalResult, error)
	ApproveRecoveryWithShare(ctx context.Context, recoveryID string, guardianID interfaces.GuardianID, signature, payload []byte) (recovery.ApprovalResult, error)
	ClaimRecoveredKey(ctx context.Context, recoveryID, deviceID string) ([]byte, error)
	CancelRecovery(ctx context.Context, recoveryID, deviceID string) (interfaces.RecoverySession, error)
}

// Handler serves the recovery API. Management routes go through the operator
// auth middleware; session status and guardian approvals are public, the
// latter authenticated by the guardian's own signature.
type Handler struct {
	service RecoveryService
	auth    *OperatorAuth
	limiter *GuardianLimiter
	log     *slog.Logger
}

// NewHandler wires the service. A nil auth leaves management routes open,
// which is only meant for local development.
func NewHandler(service RecoveryService, auth *OperatorAuth, limiter *GuardianLimiter, log *slog.Logger) *Handler {
	if auth == nil {
		log.Warn("operator authentication disabled")
	}
	return &Handler{
		service: service,
		auth:    auth,
		limiter: limiter,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/recoveries/{recovery_id}", h.HandleGetSession)
		r.Post("/recoveries/{recovery_id}/approvals", h.HandleApprove)

		r.Group(func(r chi.Router) {
			if h.auth != nil {
				r.Use(h.auth.Middleware)
			}
			r.Post("/users/{user_id}/configuration", h.HandleInitialize)
			r.Get("/users/{user_id}/configuration", h.HandleGetConfiguration)
			r.Put("/users/{user_id}/configuration/backup-options", h.HandleUpdateBackupOptions)
			r.Post("/users/{user_id}/guardians", h.HandleAddGuardian)
			r.Delete("/users/{user_id}/guardians/{guardian_id}", h.HandleRemoveGuardian)
			r.Get("/users/{user_id}/audit", h.HandleAudit)
			r.Post("/users/{user_id}/recoveries", h.HandleInitiate)
			r.Get("/users/{user_id}/recoveries", h.HandleListSessions)
			r.Post("/recoveries/{recovery_id}/claim", h.HandleClaim)
			r.Post("/recoveries/{recovery_id}/cancel", h.HandleCancel)
		})
	})
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req recovery.ConfigurationRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg, err := h.service.InitializeUserRecovery(r.Context(), chi.URLParam(r, "user_id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *Handler) HandleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.GetConfiguration(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) HandleUpdateBackupOptions(w http.ResponseWriter, r *http.Request) {
	var req api.BackupOptionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg, err := h.service.UpdateBackupOptions(r.Context(), chi.URLParam(r, "user_id"), req.BackupOptions, req.DeviceShardCount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) HandleAddGuardian(w http.ResponseWriter, r *http.Request) {
	var req api.GuardianRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.GuardianID == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "guardian_id is required"})
		return
	}
	change, err := h.service.AddGuardian(r.Context(), chi.URLParam(r, "user_id"), req.GuardianID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (h *Handler) HandleRemoveGuardian(w http.ResponseWriter, r *http.Request) {
	change, err := h.service.RemoveGuardian(r.Context(), chi.URLParam(r, "user_id"), chi.URLParam(r, "guardian_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.AuditUserRecovery(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	var req api.DeviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.InitiateRecovery(r.Context(), chi.URLParam(r, "user_id"), req.DeviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleGetSession returns the session a guardian needs to compute the
// approval digest. Sessions never hold secret material.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), chi.URLParam(r, "recovery_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var req api.ApprovalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.GuardianID == "" || len(req.Signature) == 0 {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "guardian_id and signature are required"})
		return
	}
	if h.limiter != nil && !h.limiter.Allow(req.GuardianID) {
		h.log.Warn("approval rate limited", "guardianID", req.GuardianID)
		writeJSON(w, http.StatusTooManyRequests, api.ErrorResponse{Error: "too many approval attempts"})
		return
	}

	recoveryID := chi.URLParam(r, "recovery_id")
	var (
		result recovery.ApprovalResult
		err    error
	)
	if len(req.SharePayload) > 0 {
		result, err = h.service.ApproveRecoveryWithShare(r.Context(), recoveryID, req.GuardianID, req.Signature, req.SharePayload)
	} else {
		result, err = h.service.ApproveRecovery(r.Context(), recoveryID, req.GuardianID, req.Signature)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	var req api.DeviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	recoveryID := chi.URLParam(r, "recovery_id")
	key, err := h.service.ClaimRecoveredKey(r.Context(), recoveryID, req.DeviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer clear(key)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, api.ClaimResponse{RecoveryID: recoveryID, Key: key})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req api.DeviceRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.service.CancelRecovery(r.Context(), chi.URLParam(r, "recovery_id"), req.DeviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

var errorStatus = []struct {
	err    error
	status int
}{
	{interfaces.ErrTooManyGuardians, http.StatusBadRequest},
	{interfaces.ErrInvalidConfiguration, http.StatusBadRequest},
	{interfaces.ErrNoConfiguration, http.StatusNotFound},
	{interfaces.ErrConfigurationExists, http.StatusConflict},
	{interfaces.ErrNotFound, http.StatusNotFound},
	{interfaces.ErrAlreadyInProgress, http.StatusConflict},
	{interfaces.ErrWrongState, http.StatusConflict},
	{interfaces.ErrExpired, http.StatusGone},
	{interfaces.ErrKeyUnavailable, http.StatusGone},
	{interfaces.ErrUnauthorizedGuardian, http.StatusForbidden},
	{interfaces.ErrUnauthorizedDevice, http.StatusForbidden},
	{interfaces.ErrInvalidSignature, http.StatusUnauthorized},
	{interfaces.ErrShareUnavailable, http.StatusUnprocessableEntity},
	{interfaces.ErrReconstructionFailed, http.StatusUnprocessableEntity},
	{interfaces.ErrGuardianAlreadyPresent, http.StatusConflict},
	{interfaces.ErrGuardianNotFound, http.StatusNotFound},
	{interfaces.ErrGuardianLimitReached, http.StatusConflict},
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a bare 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if !errors.Is(err, e.err) {
			continue
		}
		resp := api.ErrorResponse{Error: err.Error()}
		var inProgress *interfaces.AlreadyInProgressError
		if errors.As(err, &inProgress) {
			resp.RecoveryID = inProgress.RecoveryID
		}
		writeJSON(w, e.status, resp)
		return
	}

	h.log.Error("request failed", "path", r.URL.Path, "err", err)
	writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

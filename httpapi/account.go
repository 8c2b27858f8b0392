package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/PHPxCODER/rdp-website-sub000/middleware"
)

type totpCodeRequest struct {
	Code string `json:"code"`
}

type setupResponse struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode []byte `json:"qr_code"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

type remainingResponse struct {
	Remaining int `json:"remaining"`
}

type migrateResponse struct {
	Migrated bool `json:"migrated"`
}

func sessionUserID(r *http.Request) string {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.Subject
}

func (h *Handler) setupTwoFactor(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.engine.BeginTOTPEnrollment(r.Context(), sessionUserID(r))
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, setupResponse{
		Secret: enrollment.Secret,
		URI:    enrollment.URI,
		QRCode: enrollment.QRCode,
	})
}

func (h *Handler) enableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req totpCodeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, nil, err)
		return
	}
	userID := sessionUserID(r)
	codes, err := h.engine.ConfirmTOTPEnrollment(r.Context(), userID, req.Code)
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	h.logger.Info("two-factor enabled", zap.String("user_id", userID))
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (h *Handler) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req totpCodeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, nil, err)
		return
	}
	userID := sessionUserID(r)
	if err := h.engine.DisableTwoFactor(r.Context(), userID, req.Code); err != nil {
		h.writeError(w, nil, err)
		return
	}
	h.logger.Info("two-factor disabled", zap.String("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) backupCodesRemaining(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.BackupCodesRemaining(r.Context(), sessionUserID(r))
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, remainingResponse{Remaining: n})
}

func (h *Handler) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req totpCodeRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, nil, err)
		return
	}
	codes, err := h.engine.RegenerateBackupCodes(r.Context(), sessionUserID(r), req.Code)
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (h *Handler) migrateBackupCodes(w http.ResponseWriter, r *http.Request) {
	migrated, err := h.engine.MigrateBackupCodes(r.Context(), sessionUserID(r))
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, migrateResponse{Migrated: migrated})
}

package server

import (
	"context"
	"errors"
	"net/http"

	vaulterrors "epochvault/core/errors"
)

type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: message, Kind: kind})
}

// writeFailure reports an operation error with its kind and reason.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := toStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "vault request failed",
			"path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{
		Error:  err.Error(),
		Kind:   string(vaulterrors.KindOf(err)),
		Reason: vaulterrors.ReasonOf(err),
	})
}

func toStatus(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch vaulterrors.KindOf(err) {
	case vaulterrors.KindInvalidSchedule, vaulterrors.KindInvalidArgument, vaulterrors.KindInvalidAsset:
		return http.StatusBadRequest
	case vaulterrors.KindUnauthorizedAdmin, vaulterrors.KindUnauthorizedOwner:
		return http.StatusForbidden
	case vaulterrors.KindNotFound:
		return http.StatusNotFound
	case vaulterrors.KindPhaseViolation, vaulterrors.KindAlreadyExists:
		return http.StatusConflict
	case vaulterrors.KindInsufficientBalance, vaulterrors.KindOverflow:
		return http.StatusUnprocessableEntity
	case vaulterrors.KindPaused:
		return http.StatusServiceUnavailable
	case vaulterrors.KindExternalCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roach88/programhealth/internal/ir"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error   string       `json:"error"`
	Code    ir.ErrorCode `json:"code,omitempty"`
	Details []string     `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeKernelError maps a kernel error to its HTTP status and envelope.
func writeKernelError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Code: ir.CodeOf(err)}
	var ke *ir.KernelError
	if errors.As(err, &ke) {
		resp.Details = ke.Details
	}
	writeJSON(w, statusFor(resp.Code), resp)
}

func statusFor(code ir.ErrorCode) int {
	switch code {
	case ir.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ir.ErrCodeDivergentResubmission:
		return http.StatusConflict
	case ir.ErrCodeRationaleContract:
		return http.StatusUnprocessableEntity
	case ir.ErrCodeNotFound:
		return http.StatusNotFound
	case ir.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

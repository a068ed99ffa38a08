package rest

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"github.com/go-chi/render"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	StatusCode int    `json:"-"`
	OK         bool   `json:"ok"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

func newAPIError(status int, code, msg string) *APIError {
	return &APIError{StatusCode: status, ErrorCode: code, Message: msg}
}

var errorTable = []struct {
	target error
	status int
	code   string
	msg    string
}{
	{common.ErrInvalidCode, http.StatusBadRequest, "INVALID_CODE", "invalid redeem code"},
	{common.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", "invalid input"},
	{common.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "wrong username or password"},
	{common.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "token expired"},
	{common.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHENTICATED", "unauthorized"},
	{common.ErrQuotaExceeded, http.StatusForbidden, "QUOTA_EXCEEDED", "this machine has used up its trial accounts"},
	{common.ErrWrongMachine, http.StatusForbidden, "WRONG_MACHINE", "account was registered on another machine"},
	{common.ErrMachineMismatch, http.StatusForbidden, "MACHINE_MISMATCH", "account is bound to another machine"},
	{common.ErrTrialExpired, http.StatusForbidden, "TRIAL_EXPIRED", "trial period is over"},
	{common.ErrExpired, http.StatusForbidden, "EXPIRED", "license expired"},
	{common.ErrInsufficientScope, http.StatusForbidden, "INSUFFICIENT_SCOPE", "token does not allow this operation"},
	{common.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "forbidden"},
	{common.ErrorNotFound, http.StatusNotFound, "NOT_FOUND", "user not found"},
	{common.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS", "user already exists"},
	{common.ErrConflict, http.StatusConflict, "CONFLICT", "conflict"},
	{common.ErrBackupNotConfigured, http.StatusServiceUnavailable, "BACKUP_DISABLED", "backup storage is not configured"},
}

// toAPIError classifies err. Unknown errors become a bare 500 so internal
// details stay in the logs.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return newAPIError(e.status, e.code, e.msg)
		}
	}
	return newAPIError(http.StatusInternalServerError, "INTERNAL", "internal error")
}

var errRateLimited = newAPIError(http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")

package handler

import (
	"applybureau/internal/auth"
	"applybureau/internal/service"
	"applybureau/internal/storage"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Machine-readable error kinds. The frontend keys on these to decide
// between "request a new invite" and a bare failure message.
const (
	kindValidation         = "validation"
	kindInvalidSignature   = "invalid_signature"
	kindMalformedToken     = "malformed_credential"
	kindExpired            = "expired"
	kindUnknownRegistrant  = "unknown_registrant"
	kindAlreadyUsed        = "already_used"
	kindTokenMismatch      = "token_mismatch"
	kindWeakPassword       = "weak_password"
	kindNotEligible        = "not_eligible"
	kindInvalidCredentials = "invalid_credentials"
	kindPersistence        = "persistence"
)

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newErrorResponse(c *gin.Context, statusCode int, kind, errMessage string) {
	c.AbortWithStatusJSON(statusCode, errorResponse{Kind: kind, Message: errMessage})
}

// handleServiceError maps the workflow's failure taxonomy onto HTTP. Every
// kind except persistence is terminal for the request; persistence is the
// only one a caller should retry.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidSignature):
		newErrorResponse(c, http.StatusUnauthorized, kindInvalidSignature, "registration link is not valid")
	case errors.Is(err, auth.ErrTokenExpired):
		newErrorResponse(c, http.StatusUnauthorized, kindExpired, "registration link has expired, please request a new invite")
	case errors.Is(err, auth.ErrMalformedToken), errors.Is(err, auth.ErrWrongPurpose):
		newErrorResponse(c, http.StatusBadRequest, kindMalformedToken, "registration link is not valid")
	case errors.Is(err, storage.ErrRegistrantNotFound):
		newErrorResponse(c, http.StatusNotFound, kindUnknownRegistrant, "no registration found for this link")
	case errors.Is(err, service.ErrTokenAlreadyUsed), errors.Is(err, storage.ErrRaceLost):
		newErrorResponse(c, http.StatusConflict, kindAlreadyUsed, "this registration link was already used")
	case errors.Is(err, service.ErrTokenMismatch):
		newErrorResponse(c, http.StatusConflict, kindTokenMismatch, "a newer invite supersedes this link, please use the latest email")
	case errors.Is(err, auth.ErrWeakPassword):
		newErrorResponse(c, http.StatusBadRequest, kindWeakPassword, "password must be at least 8 characters with upper, lower and digit")
	case errors.Is(err, storage.ErrNotEligible):
		newErrorResponse(c, http.StatusConflict, kindNotEligible, "registrant is not eligible for onboarding approval")
	case errors.Is(err, service.ErrInvalidCredentials):
		newErrorResponse(c, http.StatusUnauthorized, kindInvalidCredentials, "wrong email or password")
	default:
		newErrorResponse(c, http.StatusServiceUnavailable, kindPersistence, "temporary storage failure, please retry")
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-establishment-auth/internal/application/auth"
	"github.com/go-establishment-auth/internal/domain"
	"github.com/go-establishment-auth/internal/pkg/validate"
	"github.com/go-establishment-auth/internal/transport/http/middleware"
)

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
}

type sendCodeRequest struct {
	Pre2FAToken string `json:"pre_2fa_token" validate:"required"`
	Method      string `json:"method" validate:"required,otp_method"`
}

type verifyCodeRequest struct {
	Pre2FAToken string `json:"pre_2fa_token" validate:"required"`
	Code        string `json:"code" validate:"required,max=32"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// logoutRequest has no required fields: a missing or unknown token still
// logs out.
type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type enableTotpRequest struct {
	Password string `json:"password" validate:"required"`
	Secret   string `json:"secret" validate:"required"`
	Code     string `json:"code" validate:"required,max=16"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required"`
}

// AuthHandler exposes the login, second-factor and session endpoints.
type AuthHandler struct {
	svc auth.Service
}

func NewAuthHandler(svc auth.Service) *AuthHandler { return &AuthHandler{svc: svc} }

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	challenge, err := h.svc.Login(r.Context(), req.Identifier, req.Password, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

func (h *AuthHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.SendTwoFactorCode(r.Context(), req.Pre2FAToken, domain.TwoFactorMethod(req.Method)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "code sent"})
}

func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.svc.VerifyTwoFactorCode(r.Context(), req.Pre2FAToken, req.Code, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenEnvelope(pair))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken, requestContext(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenEnvelope(pair))
}

// Logout always answers 200, whatever the body holds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.RefreshToken != "" {
		h.svc.Logout(r.Context(), req.RefreshToken)
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}

func (h *AuthHandler) TotpSetup(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	setup, err := h.svc.RequestTotpSetup(r.Context(), claims.AccountID())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (h *AuthHandler) TotpEnable(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req enableTotpRequest
	if !decode(w, r, &req) {
		return
	}
	codes, err := h.svc.EnableTotp(r.Context(), claims.AccountID(), req.Password, req.Secret, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecoveryCodesEnvelope{RecoveryCodes: codes})
}

func (h *AuthHandler) TotpDisable(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.DisableTotp(r.Context(), claims.AccountID(), req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "totp disabled"})
}

func (h *AuthHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}
	codes, err := h.svc.RegenerateRecoveryCodes(r.Context(), claims.AccountID(), req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecoveryCodesEnvelope{RecoveryCodes: codes})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func requestContext(r *http.Request) domain.RequestContext {
	return domain.RequestContext{
		UserAgent: r.UserAgent(),
		IPAddress: middleware.ClientIP(r),
	}
}

func tokenEnvelope(p *domain.TokenPair) TokenEnvelope {
	return TokenEnvelope{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken, TokenType: "Bearer"}
}

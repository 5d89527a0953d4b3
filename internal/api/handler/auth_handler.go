package handler

import (
	"encoding/json"
	"net/http"

	"github.com/eddynotadi/mosquito-hunter/internal/api/middleware"
	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/common"

	"github.com/go-chi/chi/v5"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.With(middleware.Authenticator).Get("/profile", h.profile)
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondInvalidPayload(w, err)
		return
	}

	resp, err := h.authService.Register(r.Context(), req)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusCreated, resp)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondInvalidPayload(w, err)
		return
	}
	resp, err := h.authService.Login(r.Context(), req)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "User ID not found in token")
		return
	}
	account, err := h.authService.Profile(r.Context(), userID)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, account)
}

func respondInvalidPayload(w http.ResponseWriter, err error) {
	common.RespondWithJSON(w, http.StatusBadRequest, common.ErrorResponse{
		Error: "Invalid request payload: " + err.Error(),
		Code:  common.CodeInvalidPayload,
	})
}

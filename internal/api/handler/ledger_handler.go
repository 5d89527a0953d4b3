package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/eddynotadi/mosquito-hunter/internal/api/middleware"
	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/common"

	"github.com/go-chi/chi/v5"
)

const anonymousUser = "Anonymous"

// ProfileHandler serves public profiles looked up by X-Username or
// ?username=. Its routes are mounted both at the root and under /api.
type ProfileHandler struct {
	ledgerService *service.LedgerService
}

func NewProfileHandler(ls *service.LedgerService) *ProfileHandler {
	return &ProfileHandler{ledgerService: ls}
}

func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Get("/user/profile", h.profile)
}

func (h *ProfileHandler) profile(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.Header.Get("X-Username"))
	if username == "" {
		username = strings.TrimSpace(r.URL.Query().Get("username"))
	}
	if username == "" {
		username = anonymousUser
	}

	p, err := h.ledgerService.Profile(r.Context(), username)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, p)
}

type LeaderboardHandler struct {
	ledgerService *service.LedgerService
}

func NewLeaderboardHandler(ls *service.LedgerService) *LeaderboardHandler {
	return &LeaderboardHandler{ledgerService: ls}
}

func (h *LeaderboardHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.overall)
	r.Get("/weekly", h.weekly)
	r.With(middleware.Authenticator).Get("/me", h.me)
}

func (h *LeaderboardHandler) overall(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledgerService.Leaderboard(r.Context(), queryLimit(r))
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}

func (h *LeaderboardHandler) weekly(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledgerService.WeeklyLeaderboard(r.Context(), queryLimit(r))
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, entries)
}

func (h *LeaderboardHandler) me(w http.ResponseWriter, r *http.Request) {
	username, ok := middleware.GetUsernameFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "User not found in token")
		return
	}
	rank, err := h.ledgerService.UserRank(r.Context(), username)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, rank)
}

// AccountHandler serves the signed-in user's coin history.
type AccountHandler struct {
	ledgerService *service.LedgerService
}

func NewAccountHandler(ls *service.LedgerService) *AccountHandler {
	return &AccountHandler{ledgerService: ls}
}

func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator)
	r.Get("/transactions", h.transactions)
	r.Get("/balance", h.balance)
}

func (h *AccountHandler) transactions(w http.ResponseWriter, r *http.Request) {
	username, ok := middleware.GetUsernameFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "User not found in token")
		return
	}
	txns, err := h.ledgerService.Transactions(r.Context(), username, queryLimit(r))
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, txns)
}

func (h *AccountHandler) balance(w http.ResponseWriter, r *http.Request) {
	username, ok := middleware.GetUsernameFromContext(r.Context())
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "User not found in token")
		return
	}
	b, err := h.ledgerService.Balance(r.Context(), username)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, b)
}

// queryLimit returns ?limit=, or 0 (the service default) when absent or invalid.
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/eddynotadi/mosquito-hunter/internal/api/middleware"
	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/common"

	"github.com/go-chi/chi/v5"
)

type ImageHandler struct {
	submissionService *service.SubmissionService
	ledgerService     *service.LedgerService
}

func NewImageHandler(ss *service.SubmissionService, ls *service.LedgerService) *ImageHandler {
	return &ImageHandler{submissionService: ss, ledgerService: ls}
}

func (h *ImageHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Authenticator) // All image routes require auth
	r.Post("/upload", h.upload)
	r.Get("/my-uploads", h.myUploads)
	r.Get("/{imageID}", h.getImage)
}

func (h *ImageHandler) upload(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := identity(r)
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "User not found in token")
		return
	}

	up, err := readUpload(w, r, h.submissionService)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	up.Username = username
	up.UserID = &userID

	result, err := h.submissionService.Upload(r.Context(), *up)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusAccepted, result) // Accepted (202) as it's async
}

func (h *ImageHandler) myUploads(w http.ResponseWriter, r *http.Request) {
	_, username, ok := identity(r)
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "User not found in token")
		return
	}
	subs, err := h.ledgerService.Uploads(r.Context(), username)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, subs)
}

func (h *ImageHandler) getImage(w http.ResponseWriter, r *http.Request) {
	_, username, ok := identity(r)
	if !ok {
		common.RespondWithError(w, http.StatusUnauthorized, "User not found in token")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "imageID"), 10, 64)
	if err != nil {
		common.RespondWithAppError(w, common.NewAppError(common.ErrNotFound, common.CodeImageNotFound, "Image not found", nil))
		return
	}
	sub, err := h.ledgerService.Image(r.Context(), id, username)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, sub)
}

func identity(r *http.Request) (userID, username string, ok bool) {
	userID, ok = middleware.GetUserIDFromContext(r.Context())
	if !ok {
		return "", "", false
	}
	username, ok = middleware.GetUsernameFromContext(r.Context())
	return userID, username, ok
}

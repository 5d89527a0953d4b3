package handler

import (
	"net/http"

	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/common"

	"github.com/go-chi/chi/v5"
)

// SubmissionHandler serves the synchronous submit flow. Its routes are
// mounted both at the root and under /api.
type SubmissionHandler struct {
	submissionService *service.SubmissionService
}

func NewSubmissionHandler(ss *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissionService: ss}
}

func (h *SubmissionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/submit", h.submit)
}

func (h *SubmissionHandler) submit(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(w, r, h.submissionService)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}

	result, err := h.submissionService.Submit(r.Context(), *up)
	if err != nil {
		common.RespondWithAppError(w, err)
		return
	}
	common.RespondWithJSON(w, http.StatusOK, result)
}

package common

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type ErrorResponse struct {
	Success    bool     `json:"success"`
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	Details    string   `json:"details,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{Error: message})
}

// RespondWithAppError writes err using its AppError code when present. The
// cause is only exposed for server-side failures.
func RespondWithAppError(w http.ResponseWriter, err error) {
	status := HTTPStatusFromError(err)
	appErr, ok := AsAppError(err)
	if !ok {
		if status == http.StatusInternalServerError {
			slog.Error("unhandled error", "err", err)
			RespondWithJSON(w, status, ErrorResponse{
				Error:   "An unexpected error occurred",
				Code:    CodeUnexpectedError,
				Details: err.Error(),
			})
			return
		}
		RespondWithError(w, status, err.Error())
		return
	}

	resp := ErrorResponse{Error: appErr.Message, Code: appErr.Code, Confidence: appErr.Confidence}
	if status >= http.StatusInternalServerError {
		resp.Details = appErr.Details()
	}
	RespondWithJSON(w, status, resp)
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success": false, "error": "Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

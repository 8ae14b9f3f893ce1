package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/weiawesome/wes-social-realtime/internal/domain"
	"github.com/weiawesome/wes-social-realtime/internal/service"
	pkglog "github.com/weiawesome/wes-social-realtime/pkg/log"
)

// HTTPHandler handles the public HTTP API.
type HTTPHandler struct {
	service service.PresenceService
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc service.PresenceService) *HTTPHandler {
	return &HTTPHandler{
		service: svc,
	}
}

// StatusResponse is the API response for status queries.
type StatusResponse struct {
	Users []domain.UserPresence `json:"users"`
}

// GetStatuses handles GET /api/v1/users/status?ids=a,b,c
func (h *HTTPHandler) GetStatuses(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}

	h.writeStatuses(w, r, strings.Split(raw, ","))
}

// GetStatus handles GET /api/v1/users/{user_id}/status
func (h *HTTPHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	h.writeStatuses(w, r, []string{userID})
}

func (h *HTTPHandler) writeStatuses(w http.ResponseWriter, r *http.Request, ids []string) {
	for i := range ids {
		ids[i] = strings.TrimSpace(ids[i])
	}

	users, err := h.service.GetStatuses(r.Context(), ids)
	if err != nil {
		if errors.Is(err, domain.ErrTooManyUserIDs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		l := pkglog.Ctx(r.Context())
		l.Error().Err(err).Msg("status query failed")
		writeError(w, http.StatusInternalServerError, "failed to get statuses")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Users: users})
}

// HealthCheck handles GET /health
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package middleware

import (
	"encoding/json"
	"net/http"
)

// Status values used in JSON bodies.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// StatusResponse is the body of status-only responses.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes {"status":"error","message":message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, StatusResponse{Status: StatusError, Message: message})
}

package server

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func renderError(w http.ResponseWriter, status int, code, message string, suggestions ...string) {
	renderJSON(w, status, &ErrorResponse{
		Error:       code,
		Message:     message,
		Suggestions: suggestions,
	})
}

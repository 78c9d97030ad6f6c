// Package httpx writes the JSON bodies served by the ops router. Failures use
// RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"net/http"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeProblem = "application/problem+json"
)

// ProblemDetail is an RFC7807 problem document.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data with the given status. Ops responses are never cached.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, contentTypeJSON, status, data)
}

// Problem writes a problem document with type about:blank.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	write(w, contentTypeProblem, status, ProblemDetail{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func write(w http.ResponseWriter, contentType string, status int, body any) {
	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

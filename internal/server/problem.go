package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Problem is an RFC 7807 Problem Details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// newProblem derives type and title from the status code:
// 404 becomes {"type": "/problems/not-found", "title": "Not Found"}.
func newProblem(status int, detail, instance string) Problem {
	title := http.StatusText(status)
	return Problem{
		Type:     "/problems/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func problem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	WriteProblem(w, newProblem(status, detail, r.URL.Path))
}

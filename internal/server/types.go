package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// sessionResponse identifies a session.
type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// clearRequest asks for a session's memory to be cleared.
type clearRequest struct {
	SessionID string `json:"session_id"`
}

// historyMessage is one conversation turn in API form.
type historyMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// historyResponse is the reply to a history request.
type historyResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []historyMessage `json:"messages"`
}

// sessionDetail is the per-session entry in the sessions listing.
type sessionDetail struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// sessionsResponse lists live session ids; details carries per-session info.
type sessionsResponse struct {
	Sessions []string        `json:"sessions"`
	Count    int             `json:"count"`
	Details  []sessionDetail `json:"details"`
}

// queryRequest asks a question, optionally within an existing session.
type queryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// queryResponse carries the answer and the session it belongs to.
type queryResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// uploadResponse reports a completed document ingestion.
type uploadResponse struct {
	Message   string `json:"message"`
	Document  string `json:"document"`
	SessionID string `json:"session_id,omitempty"`
}

// healthResponse is the health check reply.
type healthResponse struct {
	Status               string `json:"status"`
	ActiveSessions       int    `json:"active_sessions"`
	VectorstoreAvailable bool   `json:"vectorstore_available"`
}

// messageResponse is a simple acknowledgment.
type messageResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

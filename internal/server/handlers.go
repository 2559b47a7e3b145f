package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/raglab/docqa/internal/tracing"
	"github.com/raglab/docqa/pkg/gateway"
	"github.com/raglab/docqa/pkg/ingest"
	"github.com/raglab/docqa/pkg/vectorstore"
)

// handleSessionCreate creates a fresh session and returns its id.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	id := s.registry.NewID()
	if _, _, err := s.registry.GetOrCreate(id); err != nil {
		s.logger.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.broadcast(gateway.EventSessionCreated, sessionResponse{SessionID: id})
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id})
}

// handleSessionClear wipes a session's conversation memory. The session
// itself survives.
func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, ok := s.registry.Get(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", req.SessionID))
		return
	}

	sess.Agent.ClearMemory()
	writeJSON(w, http.StatusOK, messageResponse{
		Message:   "Session memory cleared",
		SessionID: req.SessionID,
	})
}

// handleSessionHistory returns a session's conversation so far.
func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}

	msgs := sess.Agent.History()
	messages := make([]historyMessage, 0, len(msgs))
	for _, m := range msgs {
		messages = append(messages, historyMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Messages: messages})
}

// handleSessionDelete removes a session entirely.
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.Delete(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}

	s.broadcast(gateway.EventSessionDeleted, sessionResponse{SessionID: id})
	writeJSON(w, http.StatusOK, messageResponse{
		Message:   "Session deleted",
		SessionID: id,
	})
}

// handleSessionsList returns all live sessions.
func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	infos := s.registry.List()
	resp := sessionsResponse{
		Sessions: make([]string, 0, len(infos)),
		Count:    len(infos),
		Details:  make([]sessionDetail, 0, len(infos)),
	}
	for _, info := range infos {
		resp.Sessions = append(resp.Sessions, info.ID)
		resp.Details = append(resp.Details, sessionDetail{
			SessionID:    info.ID,
			CreatedAt:    info.CreatedAt,
			MessageCount: info.Messages,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload accepts a PDF and ingests it. Without a session_id the shared
// index is rebuilt and every shared-index session sees the new document.
// With a session_id the document lands in that session's private index.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.options.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(int64(s.options.MaxUploadMB) << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if !ingest.IsPDF(filename) {
		writeError(w, http.StatusBadRequest, "only PDF files are supported")
		return
	}

	savedPath, err := s.saveUpload(file, filename)
	if err != nil {
		s.logger.Error().Err(err).Str("document", filename).Msg("failed to save upload")
		writeError(w, http.StatusInternalServerError, "failed to save uploaded file")
		return
	}

	sessionID := r.FormValue("session_id")
	log := tracing.LoggerFromContext(r.Context(), s.logger).With().
		Str("document", filename).
		Str("session_id", sessionID).
		Logger()

	if sessionID == "" {
		err = s.ingestShared(r.Context(), savedPath)
	} else {
		err = s.ingestPrivate(r.Context(), savedPath, sessionID)
	}
	if err != nil {
		log.Error().Err(err).Msg("ingestion failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("ingestion failed: %v", err))
		return
	}

	log.Info().Msg("document ingested")
	s.broadcast(gateway.EventDocumentIngested, uploadResponse{
		Document:  filename,
		SessionID: sessionID,
	})
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:   "Document ingested",
		Document:  filename,
		SessionID: sessionID,
	})
}

// saveUpload copies the uploaded file into the documents directory.
func (s *Server) saveUpload(file io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.options.DocumentsDir, 0755); err != nil {
		return "", fmt.Errorf("create documents directory: %w", err)
	}

	path := filepath.Join(s.options.DocumentsDir, filename)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// ingestShared rebuilds the shared index with the new document and points all
// shared-index sessions at the result.
func (s *Server) ingestShared(ctx context.Context, path string) error {
	if err := s.ingestor.Ingest(ctx, path, s.options.IndexPath); err != nil {
		return err
	}
	s.refreshShared()
	return nil
}

// ingestPrivate builds or extends the session's private index. The session is
// created if it does not exist yet, matching query's auto-create behavior.
func (s *Server) ingestPrivate(ctx context.Context, path, sessionID string) error {
	if _, _, err := s.registry.GetOrCreate(sessionID); err != nil {
		return err
	}

	if err := os.MkdirAll(s.options.SessionIndexDir, 0755); err != nil {
		return fmt.Errorf("create session index directory: %w", err)
	}

	indexPath := filepath.Join(s.options.SessionIndexDir, sessionID+".db")
	if err := s.ingestor.Ingest(ctx, path, indexPath); err != nil {
		return err
	}

	store := vectorstore.Attach(indexPath, s.embedder, s.logger)
	return s.registry.AttachPrivate(sessionID, store)
}

// refreshShared reopens the shared index after a rebuild and fans it out to
// sessions reading it.
func (s *Server) refreshShared() {
	s.sharedMu.Lock()
	if s.shared == nil {
		s.shared = vectorstore.Attach(s.options.IndexPath, s.embedder, s.logger)
	} else if err := s.shared.Reload(); err != nil {
		s.logger.Error().Err(err).Msg("failed to reload shared index")
	}
	shared := s.shared
	s.sharedMu.Unlock()

	s.registry.RefreshShared(shared)
}

// handleQuery answers a question. A missing session_id creates a fresh
// session; the id comes back in the response either way.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.registry.NewID()
	}

	sess, created, err := s.registry.GetOrCreate(sessionID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if created && req.SessionID == "" {
		s.broadcast(gateway.EventSessionCreated, sessionResponse{SessionID: sessionID})
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.options.QueryTimeout)
	defer cancel()
	ctx = tracing.WithSessionID(ctx, sessionID)

	answer := sess.Agent.Query(ctx, req.Question)

	s.broadcast(gateway.EventQueryAnswered, queryResponse{SessionID: sessionID, Answer: answer})
	writeJSON(w, http.StatusOK, queryResponse{SessionID: sessionID, Answer: answer})
}

// handleHealth reports service liveness and index availability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	shared := s.SharedStore()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:               "ok",
		ActiveSessions:       s.registry.Len(),
		VectorstoreAvailable: shared != nil && shared.Available(),
	})
}

// broadcast pushes an event to WebSocket subscribers, if the hub is wired.
func (s *Server) broadcast(event string, data interface{}) {
	if s.hub != nil {
		s.hub.Broadcast(event, data)
	}
}

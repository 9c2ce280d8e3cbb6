package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wombat/api/internal/bundle"
	"wombat/api/internal/importer"
	"wombat/api/internal/search"
)

// maxImportBody bounds inbound bundle payloads.
const maxImportBody = 10 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/import/bundle" {
		s.handleImportBundle(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/import/anchors" {
		s.handleImportAnchors(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/import/history" {
		s.handleImportHistory(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/governance/logs" {
		s.handleGovernanceLogs(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/governance/search" {
		s.handleGovernanceSearch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/distribution/status" {
		s.handleDistributionStatus(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/projects" {
		projects, err := s.service.ListProjects(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/projects/{id}
	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "api" && parts[1] == "projects" {
		project, err := s.service.ProjectTree(r.Context(), parts[2])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
		return
	}

	// /api/governance/logs/{id}
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "governance" && parts[2] == "logs" {
		entry, err := s.service.GovernanceLog(r.Context(), parts[3])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}

	// /api/steps/{id}/anchors
	if r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "api" && parts[1] == "steps" && parts[3] == "anchors" {
		anchors, err := s.service.StepAnchors(r.Context(), parts[2])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"anchors": anchors})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleImportBundle(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.ImportBundle(r.Context(), raw)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleImportAnchors(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.ImportAnchors(r.Context(), raw)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	records, err := s.service.ImportHistory(r.Context(), limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *HTTPServer) handleGovernanceLogs(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_SINCE", "since must be RFC 3339", nil)
			return
		}
		since = parsed
	}

	entries, err := s.service.GovernanceLogsSince(r.Context(), since, queryInt(r, "limit", 100))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (s *HTTPServer) handleGovernanceSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	response := s.service.SearchGovernance(r.Context(), search.Query{
		Text:            strings.TrimSpace(query.Get("q")),
		FilterEntryType: strings.TrimSpace(query.Get("entryType")),
		FilterStepID:    strings.TrimSpace(query.Get("stepId")),
		Limit:           queryInt(r, "limit", 20),
		Offset:          queryInt(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleDistributionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.DistributionStatus(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the failure envelope: {success:false, error:{kind, message,
// ...}} with any detail fields (field, value, path, fingerprint) folded into
// the error object.
func writeError(w http.ResponseWriter, status int, kind, message string, details map[string]any) {
	errBody := map[string]any{
		"kind":    kind,
		"message": message,
	}
	for key, value := range details {
		errBody[key] = value
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   errBody,
	})
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, kind, message, details := mapError(err)
	writeError(w, status, kind, message, details)
}

func mapError(err error) (status int, kind, message string, details map[string]any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var validationErr *bundle.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED", validationErr.Message, map[string]any{
			"path":  validationErr.Path,
			"field": validationErr.Field,
			"value": validationErr.Value,
		}
	}

	var preconditionErr *importer.PreconditionError
	if errors.As(err, &preconditionErr) {
		return http.StatusConflict, "PRECONDITION_FAILED", preconditionErr.Message, map[string]any{
			"entityId": preconditionErr.EntityID,
			"stepId":   preconditionErr.StepID,
		}
	}

	var duplicateErr *importer.DuplicateImportError
	if errors.As(err, &duplicateErr) {
		return http.StatusConflict, "DUPLICATE_IMPORT", "Identical bundle import already in progress", map[string]any{
			"fingerprint": duplicateErr.Fingerprint,
		}
	}

	var persistenceErr *importer.PersistenceError
	if errors.As(err, &persistenceErr) {
		return http.StatusInternalServerError, "PERSISTENCE_FAILED", "Import could not be persisted", nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("empty body")
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBody))
	if err != nil {
		return nil, errors.New("unreadable body")
	}
	if len(raw) == 0 {
		return nil, errors.New("empty body")
	}
	return raw, nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

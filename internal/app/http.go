package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/auth"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/export"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/logging"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/rbac"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/search"
	"github.com/XlinCLab/Baum2025-PCIBEX/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return logging.Middleware(s.logger, s.withMiddleware(http.HandlerFunc(s.handle)))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, principal Principal, action rbac.Action) {
	s.logger.Info("access denied",
		zap.String("request_id", requestID(r.Context())),
		zap.String("subject", principal.Subject),
		zap.String("role", string(principal.Role)),
		zap.String("action", string(action)),
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
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

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && strings.HasPrefix(r.URL.Path, "/api/documents/") {
		s.handleDocument(w, r, strings.TrimPrefix(r.URL.Path, "/api/documents/"))
		return
	}

	// Participant routes
	if r.Method == http.MethodPost && r.URL.Path == "/api/sessions" {
		token, view, err := s.service.StartSession(r.Context())
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"token": token, "view": view})
		return
	}

	if r.URL.Path == "/api/sessions/current" || r.URL.Path == "/api/sessions/current/events" {
		principal, ok := s.requirePrincipal(w, r)
		if !ok {
			return
		}
		if !s.service.Can(principal.Role, rbac.ActionParticipate) {
			s.forbid(w, r, principal, rbac.ActionParticipate)
			return
		}
		s.handleParticipant(w, r, principal)
		return
	}

	// Researcher routes
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signout" {
		principal, ok := s.requirePrincipal(w, r)
		if !ok {
			return
		}
		if err := s.service.SignOut(r.Context(), principal); err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "results" {
		principal, ok := s.requirePrincipal(w, r)
		if !ok {
			return
		}
		s.handleResults(w, r, principal, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "stimuli" {
		principal, ok := s.requirePrincipal(w, r)
		if !ok {
			return
		}
		if !s.service.Can(principal.Role, rbac.ActionManageStimuli) {
			s.forbid(w, r, principal, rbac.ActionManageStimuli)
			return
		}
		s.handleStimuli(w, r, principal, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, ping := range map[string]func(context.Context) error{
		"database": s.service.Ping,
		"sessions": s.service.PingSessions,
	} {
		if err := ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleDocument serves the consent and instruction documents shown by
// document steps. Only plain file names inside the documents directory resolve.
func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, name string) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
		return
	}
	path := filepath.Join(s.service.cfg.DocumentsDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Document not found", map[string]any{"resource": name})
		return
	}
	w.Header().Del("Content-Type")
	w.Header().Set("Cache-Control", "public, max-age=300")
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) handleParticipant(w http.ResponseWriter, r *http.Request, principal Principal) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/sessions/current":
		view, err := s.service.CurrentView(r.Context(), principal.Subject)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case r.Method == http.MethodPost && r.URL.Path == "/api/sessions/current/events":
		var event experiment.Event
		if err := decodeBody(r, &event); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.Advance(r.Context(), principal.Subject, event)
		if err != nil {
			status, code, message, details := mapError(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error("advance session", zap.String("session_id", principal.Subject), zap.Error(err))
			}
			response := map[string]any{"code": code, "error": message}
			if details != nil {
				response["details"] = details
			}
			if view.SessionID != "" {
				response["view"] = view
			}
			writeJSON(w, status, response)
			return
		}
		writeJSON(w, http.StatusOK, view)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleResults(w http.ResponseWriter, r *http.Request, principal Principal, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch len(parts) {
	case 0:
		if !s.service.Can(principal.Role, rbac.ActionReadResults) {
			s.forbid(w, r, principal, rbac.ActionReadResults)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		sessions, err := s.service.ListResults(r.Context(), r.URL.Query().Get("status"), limit)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(sessions))
		for _, session := range sessions {
			items = append(items, sessionPayload(session))
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": items})

	case 1:
		if !s.service.Can(principal.Role, rbac.ActionReadResults) {
			s.forbid(w, r, principal, rbac.ActionReadResults)
			return
		}
		session, records, err := s.service.GetResult(r.Context(), parts[0])
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		payload := sessionPayload(session)
		payload["records"] = records
		writeJSON(w, http.StatusOK, payload)

	case 2:
		if parts[1] != "export" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
			return
		}
		if !s.service.Can(principal.Role, rbac.ActionExport) {
			s.forbid(w, r, principal, rbac.ActionExport)
			return
		}
		format, err := export.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		includePractice, _ := strconv.ParseBool(r.URL.Query().Get("practice"))
		result, err := s.service.ExportResult(r.Context(), export.Request{
			SessionID:       parts[0],
			Format:          format,
			IncludePractice: includePractice,
		})
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleStimuli(w http.ResponseWriter, r *http.Request, principal Principal, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "search":
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		writeJSON(w, http.StatusOK, s.service.SearchStimuli(search.Query{
			Text:        strings.TrimSpace(query.Get("q")),
			Kind:        query.Get("kind"),
			Condition:   query.Get("condition"),
			AnaphorType: query.Get("anaphorType"),
			Limit:       limit,
			Offset:      offset,
		}))

	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "history":
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		versions, err := s.service.StimulusHistory(r.URL.Query().Get("file"), limit)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})

	case r.Method == http.MethodPost && len(parts) == 0:
		var body UploadStimuliInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		version, err := s.service.UploadStimuli(r.Context(), principal, body)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"version": version})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func sessionPayload(session store.Session) map[string]any {
	return map[string]any{
		"id":           session.ID,
		"experiment":   session.Experiment,
		"status":       session.Status,
		"demographics": session.Demographics,
		"timestamps":   session.Timestamps,
		"warnings":     session.Warnings,
		"progress":     session.Progress,
		"total":        session.Total,
		"recordCount":  session.RecordCount,
		"startedAt":    session.StartedAt,
		"submittedAt":  session.SubmittedAt,
		"finishedAt":   session.FinishedAt,
	}
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	token, researcher, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":       token,
		"userId":      researcher.ID,
		"displayName": researcher.DisplayName,
		"role":        researcher.Role,
	})
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Principal{}, false
	}
	principal, err := s.service.Authenticate(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("authenticate", zap.String("request_id", requestID(r.Context())), zap.Error(err))
			message = "Session lookup failed"
		}
		writeError(w, status, code, message, details)
		return Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		setCORSHeaders(w.Header(), s.corsOrigin)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
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
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

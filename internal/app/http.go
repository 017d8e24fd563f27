package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPServer is a thin boundary over Service. Authentication happens at the
// front gate; the gate forwards the verified identity in headers.
type HTTPServer struct {
	service      *Service
	logger       *slog.Logger
	serviceToken string
	corsOrigin   string
}

func NewHTTPServer(service *Service, logger *slog.Logger, serviceToken, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, logger: logger, serviceToken: serviceToken, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) identity(r *http.Request) Identity {
	user := Identity{
		UserID:   strings.TrimSpace(r.Header.Get("X-User-Id")),
		Email:    strings.TrimSpace(r.Header.Get("X-User-Email")),
		Language: strings.TrimSpace(r.Header.Get("X-User-Language")),
	}
	user.Authenticated = user.UserID != ""
	token := r.Header.Get("X-Service-Token")
	if token != "" && s.serviceToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(s.serviceToken)) == 1 {
		user.ServiceAccount = true
	}
	return user
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "Database unavailable", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	user := s.identity(r)
	segments := splitPath(r.URL.Path)
	if len(segments) == 0 || segments[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	segments = segments[1:]

	switch {
	case len(segments) == 1 && segments[0] == "documents":
		switch r.Method {
		case http.MethodGet:
			docs, err := s.service.ListDocuments(r.Context(), user)
			s.respond(w, docs, err)
		case http.MethodPost:
			var input CreateDocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.CreateDocument(r.Context(), user, input)
			s.respondStatus(w, http.StatusCreated, doc, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return

	case len(segments) == 2 && segments[0] == "documents" && segments[1] == "favorites" && r.Method == http.MethodGet:
		docs, err := s.service.ListFavorites(r.Context(), user)
		s.respond(w, docs, err)
		return

	case len(segments) == 2 && segments[0] == "documents" && segments[1] == "trashbin" && r.Method == http.MethodGet:
		docs, err := s.service.Trashbin(r.Context(), user)
		s.respond(w, docs, err)
		return

	case len(segments) == 2 && segments[0] == "documents" && segments[1] == "create-for-owner" && r.Method == http.MethodPost:
		var input struct {
			Email    string `json:"email"`
			Language string `json:"language"`
			CreateDocumentInput
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.CreateForOwner(r.Context(), user, input.Email, input.Language, input.CreateDocumentInput)
		s.respondStatus(w, http.StatusCreated, doc, err)
		return

	case len(segments) >= 2 && segments[0] == "documents":
		s.handleDocument(w, r, user, segments[1], segments[2:])
		return

	case len(segments) == 1 && segments[0] == "media-auth" && r.Method == http.MethodGet:
		auth, err := s.service.AuthorizeMedia(r.Context(), user, r.URL.Query().Get("key"))
		if err != nil {
			s.fail(w, err)
			return
		}
		for name, value := range auth.Headers {
			w.Header().Set(name, value)
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": auth.URL})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, user Identity, nodeID string, rest []string) {
	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocument(r.Context(), user, nodeID)
			s.respond(w, doc, err)
		case http.MethodPatch:
			var input UpdateDocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.UpdateDocument(r.Context(), user, nodeID, input)
			s.respond(w, doc, err)
		case http.MethodDelete:
			s.respondNoContent(w, s.service.DeleteDocument(r.Context(), user, nodeID))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 1 && rest[0] == "children":
		switch r.Method {
		case http.MethodGet:
			docs, err := s.service.ListChildren(r.Context(), user, nodeID)
			s.respond(w, docs, err)
		case http.MethodPost:
			var input CreateDocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.CreateChildDocument(r.Context(), user, nodeID, input)
			s.respondStatus(w, http.StatusCreated, doc, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 1 && rest[0] == "move" && r.Method == http.MethodPost:
		var input MoveInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respondNoContent(w, s.service.MoveDocument(r.Context(), user, nodeID, input))

	case len(rest) == 1 && rest[0] == "restore" && r.Method == http.MethodPost:
		s.respondNoContent(w, s.service.RestoreDocument(r.Context(), user, nodeID))

	case len(rest) == 1 && rest[0] == "abilities" && r.Method == http.MethodGet:
		abilities, err := s.service.Abilities(r.Context(), user, nodeID)
		s.respond(w, abilities, err)

	case len(rest) == 1 && rest[0] == "accesses":
		switch r.Method {
		case http.MethodGet:
			accesses, err := s.service.ListDocumentAccesses(r.Context(), user, nodeID)
			s.respond(w, accesses, err)
		case http.MethodPost:
			var input GrantInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			access, err := s.service.GrantAccess(r.Context(), user, nodeID, input)
			s.respondStatus(w, http.StatusCreated, access, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 2 && rest[0] == "accesses":
		switch r.Method {
		case http.MethodPatch:
			var input struct {
				Role string `json:"role"`
			}
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			access, err := s.service.UpdateAccessRole(r.Context(), user, nodeID, rest[1], input.Role)
			s.respond(w, access, err)
		case http.MethodDelete:
			s.respondNoContent(w, s.service.RevokeAccess(r.Context(), user, nodeID, rest[1]))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 1 && rest[0] == "versions" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		versions, err := s.service.ListVersions(r.Context(), user, nodeID, r.URL.Query().Get("from_version_id"), limit)
		s.respond(w, versions, err)

	case len(rest) == 2 && rest[0] == "versions":
		switch r.Method {
		case http.MethodGet:
			version, err := s.service.GetVersion(r.Context(), user, nodeID, rest[1])
			s.respond(w, version, err)
		case http.MethodDelete:
			s.respondNoContent(w, s.service.DeleteVersion(r.Context(), user, nodeID, rest[1]))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 1 && rest[0] == "favorite":
		switch r.Method {
		case http.MethodPost:
			changed, err := s.service.SetFavorite(r.Context(), user, nodeID, true)
			s.respondChanged(w, changed, err)
		case http.MethodDelete:
			changed, err := s.service.SetFavorite(r.Context(), user, nodeID, false)
			s.respondChanged(w, changed, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 1 && rest[0] == "link-configuration" && r.Method == http.MethodPut:
		var input struct {
			LinkReach string `json:"link_reach"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.SetLinkReach(r.Context(), user, nodeID, input.LinkReach)
		s.respond(w, doc, err)

	case len(rest) == 1 && rest[0] == "ai-transform" && r.Method == http.MethodPost:
		var input struct {
			Text   string `json:"text"`
			Action string `json:"action"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		answer, err := s.service.AITransform(r.Context(), user, nodeID, input.Text, input.Action)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"answer": answer})

	case len(rest) == 1 && rest[0] == "ai-translate" && r.Method == http.MethodPost:
		var input struct {
			Text     string `json:"text"`
			Language string `json:"language"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		answer, err := s.service.AITranslate(r.Context(), user, nodeID, input.Text, input.Language)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"answer": answer})

	case len(rest) == 1 && rest[0] == "collab-token" && r.Method == http.MethodGet:
		token, err := s.service.CollabToken(r.Context(), user, nodeID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) respondStatus(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) respondNoContent(w http.ResponseWriter, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) respondChanged(w http.ResponseWriter, changed bool, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusOK
	if changed {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"changed": changed})
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeError(w, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(h http.Header, origin string) {
	if origin == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
}

func randomRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
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

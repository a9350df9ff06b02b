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

	"peerlearn/api/internal/auth"
	"peerlearn/api/internal/store"
)

const maxListLimit = 200

type Session struct {
	UserID   string
	UserName string
}

type HTTPServer struct {
	service          *Service
	corsOrigin       string
	jwtSecret        []byte
	maintenanceToken string
	logger           *slog.Logger
}

func NewHTTPServer(service *Service, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		service:          service,
		corsOrigin:       service.cfg.CORSOrigin,
		jwtSecret:        []byte(service.cfg.JWTSecret),
		maintenanceToken: service.cfg.MaintenanceToken,
		logger:           logger,
	}
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
		return
	}

	if r.URL.Path == "/api/maintenance/expire" {
		s.handleExpireDue(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" || parts[1] != "requests" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch len(parts) {
	case 2:
		s.handleCreate(w, r, session)
	case 3:
		switch parts[2] {
		case "available":
			s.handleAvailable(w, r, session)
		case "hidden":
			s.handleHidden(w, r, session)
		default:
			s.handleRequest(w, r, session, parts[2])
		}
	case 4:
		if parts[3] == "responses" {
			s.handleResponses(w, r, session, parts[2])
			return
		}
		s.handleAction(w, r, session, parts[2], parts[3])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var input CreateRequestInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateRequest(r.Context(), session.UserID, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request": requestView(item)})
}

func (s *HTTPServer) handleAvailable(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	limit, err := parseLimit(r, s.service.cfg.PageSize)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	items := make([]map[string]any, 0, limit)
	for item, err := range s.service.AvailableFor(r.Context(), session.UserID) {
		if err != nil {
			s.writeServiceError(w, r, s.service.storeError(err, "available"))
			return
		}
		items = append(items, requestView(item))
		if len(items) >= limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleHidden(w http.ResponseWriter, r *http.Request, session Session) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	ids, err := s.service.HiddenFor(r.Context(), session.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requestIds": ids})
}

func (s *HTTPServer) handleRequest(w http.ResponseWriter, r *http.Request, session Session, requestID string) {
	switch r.Method {
	case http.MethodGet:
		item, err := s.service.GetRequest(r.Context(), requestID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request": requestView(item)})
	case http.MethodDelete:
		if err := s.service.Retract(r.Context(), requestID, session.UserID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request, session Session, requestID, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	ctx := r.Context()

	var (
		item store.Request
		err  error
	)
	switch action {
	case "publish":
		item, err = s.service.Publish(ctx, requestID, session.UserID)
	case "cancel":
		item, err = s.service.Cancel(ctx, requestID, session.UserID)
	case "complete":
		item, err = s.service.Complete(ctx, requestID, session.UserID)
	case "archive":
		item, err = s.service.Archive(ctx, requestID, session.UserID)
	case "start":
		item, err = s.service.Start(ctx, requestID, session.UserID)
	case "expire":
		item, err = s.service.Expire(ctx, requestID, session.UserID)
	case "view":
		if err := s.service.RecordView(ctx, requestID, session.UserID); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	case "unhide":
		removed, err := s.service.Unhide(ctx, requestID, session.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
		return
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": requestView(item)})
}

func (s *HTTPServer) handleResponses(w http.ResponseWriter, r *http.Request, session Session, requestID string) {
	switch r.Method {
	case http.MethodGet:
		responses, err := s.service.ListResponses(r.Context(), requestID, session.UserID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(responses))
		for _, response := range responses {
			items = append(items, responseView(response))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var input SubmitResponseInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SubmitResponse(r.Context(), requestID, session.UserID, input)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		payload := map[string]any{
			"request":  requestView(result.Request),
			"response": responseView(result.Response),
		}
		if result.Response.Meeting != nil {
			payload["joinUrl"] = result.Response.Meeting.JoinURL
		}
		writeJSON(w, http.StatusCreated, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleExpireDue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if s.maintenanceToken == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	provided := r.Header.Get("X-Maintenance-Token")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.maintenanceToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	expired, err := s.service.ExpireDue(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return Session{UserID: claims.Sub, UserName: claims.Name}, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
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

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Maintenance-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
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

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		if fallback <= 0 {
			fallback = 50
		}
		return min(fallback, maxListLimit), nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(limit, maxListLimit), nil
}

func requestView(item store.Request) map[string]any {
	participants := item.Participants
	if participants == nil {
		participants = []string{}
	}
	view := map[string]any{
		"id":              item.ID,
		"ownerId":         item.OwnerID,
		"kind":            item.Kind,
		"status":          item.Status,
		"title":           item.Title,
		"description":     item.Description,
		"maxParticipants": item.MaxParticipants,
		"participants":    participants,
		"responseCount":   item.ResponseCount,
		"viewCount":       item.ViewCount,
		"version":         item.Version,
		"createdAt":       item.CreatedAt,
		"updatedAt":       item.UpdatedAt,
		"acceptedBy":      nil,
		"acceptedAt":      item.AcceptedAt,
		"meeting":         item.Meeting,
		"expiresAt":       item.ExpiresAt,
		"completedAt":     item.CompletedAt,
		"archivedAt":      item.ArchivedAt,
	}
	if item.AcceptedBy != "" {
		view["acceptedBy"] = item.AcceptedBy
	}
	return view
}

func responseView(item store.Response) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"requestId":   item.RequestID,
		"responderId": item.ResponderID,
		"decision":    item.Decision,
		"message":     item.Message,
		"meeting":     item.Meeting,
		"createdAt":   item.CreatedAt,
	}
}

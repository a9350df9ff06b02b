package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlearn/api/internal/auth"
	"peerlearn/api/internal/lifecycle"
	"peerlearn/api/internal/store"
)

func issueTestToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testConfig().JWTSecret), auth.Claims{
		Sub:  userID,
		Name: userID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+issueTestToken(t, userID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	payload := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec.Code, payload
}

func TestHealthAndReady(t *testing.T) {
	pingErr := error(nil)
	fs := &fakeStore{pingFn: func(_ context.Context) error { return pingErr }}
	svc, _, _ := newTestService(fs, &fakeProvisioner{})
	handler := NewHTTPServer(svc, quietLogger()).Handler()

	status, body := doJSON(t, handler, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	status, body = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	pingErr = errors.New("connection refused")
	status, body = doJSON(t, handler, http.MethodGet, "/api/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not_ready", body["status"])
}

func TestRequestsRequireBearerToken(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{}, &fakeProvisioner{})
	handler := NewHTTPServer(svc, quietLogger()).Handler()

	status, body := doJSON(t, handler, http.MethodGet, "/api/requests/available", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])

	req := httptest.NewRequest(http.MethodGet, "/api/requests/available", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHTTPRequestFlow(t *testing.T) {
	sc := newScenario(t)
	handler := NewHTTPServer(sc.svc, quietLogger()).Handler()

	status, body := doJSON(t, handler, http.MethodPost, "/api/requests", "alice", map[string]any{
		"title":   "Help with recursion",
		"publish": true,
	})
	require.Equal(t, http.StatusCreated, status, body)
	created := body["request"].(map[string]any)
	requestID := created["id"].(string)
	assert.Equal(t, "open", created["status"])
	assert.Nil(t, created["acceptedBy"])

	status, body = doJSON(t, handler, http.MethodGet, "/api/requests/available?limit=10", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["items"], 1)

	status, body = doJSON(t, handler, http.MethodPost, "/api/requests/"+requestID+"/responses", "alice", map[string]any{"decision": "accepted"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, string(lifecycle.CodeSelfResponseForbidden), body["code"])

	status, body = doJSON(t, handler, http.MethodPost, "/api/requests/"+requestID+"/responses", "bob", map[string]any{"decision": "accepted"})
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotEmpty(t, body["joinUrl"])
	assert.Equal(t, "bob", body["request"].(map[string]any)["acceptedBy"])

	status, body = doJSON(t, handler, http.MethodPost, "/api/requests/"+requestID+"/responses", "carol", map[string]any{"decision": "accepted"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, string(lifecycle.CodeAlreadyAccepted), body["code"])

	status, body = doJSON(t, handler, http.MethodGet, "/api/requests/"+requestID+"/responses", "carol", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["items"])

	status, body = doJSON(t, handler, http.MethodPost, "/api/requests/"+requestID+"/complete", "bob", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", body["request"].(map[string]any)["status"])

	status, _ = doJSON(t, handler, http.MethodDelete, "/api/requests/"+requestID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = doJSON(t, handler, http.MethodDelete, "/api/requests/"+requestID, "alice", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = doJSON(t, handler, http.MethodGet, "/api/requests/"+requestID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHTTPHiddenAndUnhide(t *testing.T) {
	sc := newScenario(t)
	handler := NewHTTPServer(sc.svc, quietLogger()).Handler()
	item := sc.create(t, "alice", CreateRequestInput{})

	status, _ := doJSON(t, handler, http.MethodPost, "/api/requests/"+item.ID+"/responses", "carol", map[string]any{"decision": "not_interested"})
	require.Equal(t, http.StatusCreated, status)

	status, body := doJSON(t, handler, http.MethodGet, "/api/requests/hidden", "carol", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{item.ID}, body["requestIds"])

	status, body = doJSON(t, handler, http.MethodGet, "/api/requests/available", "carol", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["items"])

	status, body = doJSON(t, handler, http.MethodPost, "/api/requests/"+item.ID+"/unhide", "carol", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["removed"])
}

func TestHTTPProvisioningFailureIsRetryable(t *testing.T) {
	sc := newScenario(t)
	handler := NewHTTPServer(sc.svc, quietLogger()).Handler()
	item := sc.create(t, "alice", CreateRequestInput{})
	sc.provisioner.setFail(errors.New("upstream 503"))

	status, body := doJSON(t, handler, http.MethodPost, "/api/requests/"+item.ID+"/responses", "bob", map[string]any{"decision": "accepted"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, string(lifecycle.CodeMeetingProvisioningFailed), body["code"])
	assert.Equal(t, map[string]any{"retryable": true}, body["details"])
}

func TestHTTPValidationAndLimits(t *testing.T) {
	sc := newScenario(t)
	handler := NewHTTPServer(sc.svc, quietLogger()).Handler()

	status, body := doJSON(t, handler, http.MethodPost, "/api/requests", "alice", map[string]any{"title": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, string(lifecycle.CodeInvalidInput), body["code"])

	status, _ = doJSON(t, handler, http.MethodGet, "/api/requests/available?limit=-1", "bob", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = doJSON(t, handler, http.MethodPost, "/api/requests/req_missing/teleport", "bob", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, handler, http.MethodPut, "/api/requests", "bob", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestMaintenanceExpireEndpoint(t *testing.T) {
	sc := newScenario(t)
	handler := NewHTTPServer(sc.svc, quietLogger()).Handler()
	soon := fixedNow.Add(time.Minute)
	item := sc.create(t, "alice", CreateRequestInput{ExpiresAt: &soon})
	sc.clock.Advance(time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/api/maintenance/expire", nil)
	req.Header.Set("X-Maintenance-Token", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/maintenance/expire", nil)
	req.Header.Set("X-Maintenance-Token", "sweep")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"expired":1}`, rec.Body.String())

	latest, err := sc.svc.GetRequest(req.Context(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusExpired, latest.Status)
}

func TestMaintenanceDisabledWithoutToken(t *testing.T) {
	svc, _, _ := newTestService(&fakeStore{}, &fakeProvisioner{})
	svc.cfg.MaintenanceToken = ""
	handler := NewHTTPServer(svc, quietLogger()).Handler()

	status, _ := doJSON(t, handler, http.MethodPost, "/api/maintenance/expire", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestMapErrorStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{lifecycle.Errorf(lifecycle.CodeNotFound, "gone"), http.StatusNotFound, "NOT_FOUND"},
		{lifecycle.Errorf(lifecycle.CodeNotOwner, "no"), http.StatusForbidden, "NOT_OWNER"},
		{lifecycle.Errorf(lifecycle.CodeCapacityExceeded, "full"), http.StatusConflict, "CAPACITY_EXCEEDED"},
		{lifecycle.Wrap(lifecycle.CodeStoreUnavailable, "down", store.ErrUnavailable), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED"},
		{errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		status, code, _, _ := mapError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockClientQueuedResponses(t *testing.T) {
	m := NewMockClient().
		AddResponse(200, `{"ok":true}`).
		AddResponse(503, "busy")

	req, _ := http.NewRequest(http.MethodGet, "https://example.test/data", nil)

	resp, err := m.Do(req)
	if err != nil {
		t.Fatalf("first Do: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != `{"ok":true}` {
		t.Errorf("first response = %d %q", resp.StatusCode, body)
	}

	resp, err = m.Do(req)
	if err != nil {
		t.Fatalf("second Do: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("second response status = %d, want 503", resp.StatusCode)
	}

	// Exhausted queue repeats the last response.
	resp, _ = m.Do(req)
	if resp.StatusCode != 503 {
		t.Errorf("repeated response status = %d, want 503", resp.StatusCode)
	}

	if m.RequestCount() != 3 {
		t.Errorf("RequestCount = %d, want 3", m.RequestCount())
	}
}

func TestMockClientQueuedError(t *testing.T) {
	wantErr := errors.New("connection refused")
	m := NewMockClient().AddError(wantErr)

	req, _ := http.NewRequest(http.MethodGet, "https://example.test/data", nil)
	_, err := m.Do(req)
	if !errors.Is(err, wantErr) {
		t.Errorf("Do error = %v, want %v", err, wantErr)
	}
}

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if rec.Body.String() != "{\"error\":\"bad input\"}\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestForbiddenBodyIsFixed(t *testing.T) {
	rec := httptest.NewRecorder()
	Forbidden(rec)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if rec.Body.String() != "{\"error\":\"forbidden\"}\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

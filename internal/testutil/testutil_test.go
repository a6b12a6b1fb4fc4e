package testutil

import (
	"net/http"
	"testing"
	"time"
)

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/api/register", map[string]string{"clientId": "c1"})
	if req.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.Method)
	}
	if req.URL.Path != "/api/register" {
		t.Errorf("unexpected path %s", req.URL.Path)
	}
	if req.Body == nil {
		t.Error("expected a request body")
	}
}

func TestCreateHTTPRequestNilBody(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodGet, "/api/status", nil)
	if req.Method != http.MethodGet {
		t.Errorf("expected GET, got %s", req.Method)
	}
}

func TestWaitUntil(t *testing.T) {
	calls := 0
	WaitUntil(t, time.Second, func() bool {
		calls++
		return calls >= 3
	})
	if calls < 3 {
		t.Errorf("expected at least 3 polls, got %d", calls)
	}
}

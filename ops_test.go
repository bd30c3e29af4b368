package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestIPHasher(t *testing.T) {
	h := newIPHasher("salt")

	a := h.hash("203.0.113.7")
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a != h.hash("203.0.113.7") {
		t.Error("hash is not stable for the same address")
	}
	if a == h.hash("203.0.113.8") {
		t.Error("different addresses hashed to the same value")
	}
	if a == newIPHasher("other").hash("203.0.113.7") {
		t.Error("different salts produced the same hash")
	}
	if strings.Contains(a, "203.0.113.7") {
		t.Error("hash contains the raw address")
	}
}

func TestIPHasher_RandomSalt(t *testing.T) {
	if newIPHasher("").salt == newIPHasher("").salt {
		t.Error("empty salt should produce a random per-process salt")
	}
}

func healthOf(t *testing.T, srv testServer) string {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Status        string `json:"status"`
		MailTransport string `json:"mail_transport"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	return body.MailTransport
}

func TestHealthz_TransportStates(t *testing.T) {
	t.Run("pending before verification", func(t *testing.T) {
		srv := newTestServer(t, &fakeMailer{})
		if got := healthOf(t, srv); got != "pending" {
			t.Errorf("mail_transport = %q, want pending", got)
		}
	})

	t.Run("ready after verification", func(t *testing.T) {
		mailer := &fakeMailer{}
		srv := newTestServer(t, mailer)
		verifyTransport(context.Background(), mailer, srv.health, zap.NewNop())
		if got := healthOf(t, srv); got != "ready" {
			t.Errorf("mail_transport = %q, want ready", got)
		}
	})

	t.Run("unavailable keeps serving", func(t *testing.T) {
		mailer := &fakeMailer{verifyErr: errMissingCredentials}
		srv := newTestServer(t, mailer)
		core, logs := observer.New(zap.InfoLevel)
		verifyTransport(context.Background(), mailer, srv.health, zap.New(core))

		if got := healthOf(t, srv); got != "unavailable" {
			t.Errorf("mail_transport = %q, want unavailable", got)
		}
		if logs.FilterMessage("Email config error").Len() != 1 {
			t.Error("verification failure was not logged")
		}
		if rec := srv.post(exampleBody); rec.Code != http.StatusOK {
			t.Errorf("contact status = %d, want %d", rec.Code, http.StatusOK)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeMailer{err: errors.New("down")})
	srv.post(exampleBody)
	srv.post(`{}`)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`contact_submissions_total{outcome="failed"} 1`,
		`contact_submissions_total{outcome="rejected"} 1`,
		`contact_dispatch_duration_seconds_count{status="failed"} 1`,
		`http_request_duration_seconds_count{method="POST",path="/api/contact",status="500"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestRequestTracking(t *testing.T) {
	srv := newTestServer(t, &fakeMailer{})

	t.Run("assigns request id", func(t *testing.T) {
		rec := srv.post(exampleBody)
		id := rec.Header().Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("X-Request-ID = %q, want a uuid", id)
		}
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(exampleBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(requestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, req)

		if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
			t.Errorf("X-Request-ID = %q, want abc-123", got)
		}
		found := false
		for _, e := range srv.logs.FilterMessage("Email sent").All() {
			if e.ContextMap()[requestIDKey] == "abc-123" {
				found = true
			}
		}
		if !found {
			t.Error("relay log does not carry the caller's request id")
		}
	})

	t.Run("hashes client unless DNT", func(t *testing.T) {
		srv := newTestServer(t, &fakeMailer{})

		req := httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(exampleBody))
		req.RemoteAddr = "203.0.113.7:5555"
		srv.router.ServeHTTP(httptest.NewRecorder(), req)

		req = httptest.NewRequest(http.MethodPost, "/api/contact", strings.NewReader(exampleBody))
		req.RemoteAddr = "203.0.113.7:5555"
		req.Header.Set("DNT", "1")
		srv.router.ServeHTTP(httptest.NewRecorder(), req)

		entries := srv.logs.FilterMessage("Request").All()
		if len(entries) != 2 {
			t.Fatalf("request log entries = %d, want 2", len(entries))
		}
		client, ok := entries[0].ContextMap()["client"].(string)
		if !ok || client == "" {
			t.Errorf("first entry client = %v, want a hash", entries[0].ContextMap()["client"])
		}
		if strings.Contains(client, "203.0.113.7") {
			t.Error("log carries the raw client address")
		}
		if _, ok := entries[1].ContextMap()["client"]; ok {
			t.Error("DNT request was logged with a client hash")
		}
	})

	t.Run("ops endpoints are not logged", func(t *testing.T) {
		srv := newTestServer(t, &fakeMailer{})
		srv.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if n := srv.logs.FilterMessage("Request").Len(); n != 0 {
			t.Errorf("request log entries = %d, want 0", n)
		}
	})
}

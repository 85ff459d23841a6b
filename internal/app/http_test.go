package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"emberpad/api/internal/auth"
	"emberpad/api/internal/authpw"
	"emberpad/api/internal/store"
)

func newTestServer(t *testing.T, fs *fakeStore) *HTTPServer {
	t.Helper()
	svc := newTestService(t, fs)
	svc.authPw = authpw.NewService(fs)
	return NewHTTPServer(svc, "*")
}

func doJSON(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func parseBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func ownerToken(t *testing.T, server *HTTPServer, fs *fakeStore) string {
	t.Helper()
	fs.addUser(store.User{ID: "usr_owner", DisplayName: "Owner", Email: "owner@example.com", IsEmailVerified: true})
	session, err := server.service.CreateSession(context.Background(), "usr_owner")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session.Token
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, newFakeStore())
	rr := doJSON(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	server := newTestServer(t, newFakeStore())
	rr := doJSON(t, server, http.MethodGet, "/api/notes", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := parseBody(t, rr); payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestProtectedRouteWithExpiredBearerReturnsUnauthorized(t *testing.T) {
	server := newTestServer(t, newFakeStore())

	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: "usr_owner",
		JTI: "jti-expired",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	rr := doJSON(t, server, http.MethodGet, "/api/notes", token, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSignUpVerifySignInFlow(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(t, fs)

	rr := doJSON(t, server, http.MethodPost, "/api/auth/signup", "",
		`{"email":"new@example.com","password":"longenough","displayName":"New"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	verificationToken, _ := parseBody(t, rr)["verificationToken"].(string)
	if verificationToken == "" {
		t.Fatal("expected a verification token")
	}

	// Signing in before verification is refused.
	rr = doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"new@example.com","password":"longenough"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("pre-verify signin: expected 403, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/verify-email", "",
		`{"token":"`+verificationToken+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/auth/signin", "",
		`{"email":"new@example.com","password":"longenough"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["accessToken"] == "" || payload["refreshToken"] == "" {
		t.Fatalf("expected tokens in signin response: %v", payload)
	}
}

func TestNoteLifecycleOverHTTP(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(t, fs)
	token := ownerToken(t, server, fs)

	// Create a note.
	rr := doJSON(t, server, http.MethodPost, "/api/notes", token, `{"title":"Ideas"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	noteID, _ := parseBody(t, rr)["id"].(string)
	if noteID == "" {
		t.Fatal("expected a note id")
	}

	// Open an editor session and submit edits.
	rr = doJSON(t, server, http.MethodPost, "/api/notes/"+noteID+"/session", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("open session: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/notes/"+noteID+"/session/edits", token,
		`{"blocks":[{"key":"b1","text":"remember the milk"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("edits: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Publish is blocked while the save is still pending.
	rr = doJSON(t, server, http.MethodPost, "/api/notes/"+noteID+"/publish", token, `{"confirm":true}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("publish during save: expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := parseBody(t, rr); payload["code"] != "SAVE_IN_FLIGHT" {
		t.Fatalf("expected SAVE_IN_FLIGHT, got %v", payload["code"])
	}

	// Wait for the debounced save to settle.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = doJSON(t, server, http.MethodGet, "/api/notes/"+noteID+"/session", token, "")
		if parseBody(t, rr)["saveStatus"] == "saved" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("save never settled: %s", rr.Body.String())
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Unconfirmed publish is refused, confirmed publish succeeds.
	rr = doJSON(t, server, http.MethodPost, "/api/notes/"+noteID+"/publish", token, `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("unconfirmed publish: expected 409, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodPost, "/api/notes/"+noteID+"/publish", token, `{"confirm":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	// The editor surface now redirects to the viewer.
	rr = doJSON(t, server, http.MethodGet, "/api/notes/"+noteID+"/edit", token, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("edit after publish: expected 409, got %d", rr.Code)
	}
	payload := parseBody(t, rr)
	if payload["code"] != "NOTE_PUBLISHED" {
		t.Fatalf("expected NOTE_PUBLISHED, got %v", payload["code"])
	}
	details := payload["details"].(map[string]any)
	if details["location"] != "/notes/"+noteID+"/view" {
		t.Fatalf("expected viewer location, got %v", details["location"])
	}

	// The viewer serves it, and the public share link works without auth.
	rr = doJSON(t, server, http.MethodGet, "/api/notes/"+noteID+"/view", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("view: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/share/"+noteID, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("share: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := parseBody(t, rr)["content"]; got != "remember the milk" {
		t.Fatalf("share content = %v", got)
	}
}

func TestViewerRedirectsEditableNoteOverHTTP(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(t, fs)
	token := ownerToken(t, server, fs)
	seedNote(fs, true)

	rr := doJSON(t, server, http.MethodGet, "/api/notes/note_1/view", token, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := parseBody(t, rr)
	if payload["code"] != "NOTE_EDITABLE" {
		t.Fatalf("expected NOTE_EDITABLE, got %v", payload["code"])
	}
	details := payload["details"].(map[string]any)
	if details["location"] != "/notes/note_1/edit" {
		t.Fatalf("expected editor location, got %v", details["location"])
	}
}

func TestShareLinkHidesEditableNote(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(t, fs)
	seedNote(fs, true)

	rr := doJSON(t, server, http.MethodGet, "/share/note_1", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for editable note, got %d", rr.Code)
	}
}

func TestDeleteNoteOverHTTPRequiresConfirm(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(t, fs)
	token := ownerToken(t, server, fs)
	seedNote(fs, true)

	rr := doJSON(t, server, http.MethodDelete, "/api/notes/note_1", token, `{}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("unconfirmed delete: expected 409, got %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodDelete, "/api/notes/note_1", token, `{"confirm":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirmed delete: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

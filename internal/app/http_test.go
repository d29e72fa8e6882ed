package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/item"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/sharing"
	"inkwell/api/internal/users"
)

type testServer struct {
	handler http.Handler
	service *Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dataDir := t.TempDir()

	mini := miniredis.RunT(t)
	sessions := session.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mini.Addr()}))
	t.Cleanup(func() { sessions.Close() })

	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		DataDir:    dataDir,
	}
	userStore := users.NewStore(dataDir)
	itemStore := item.NewFileStore(dataDir)
	engine := sharing.New(itemStore, sharing.NewFileStore(dataDir), nil)
	searchSvc := search.NewService(nil, itemStore)

	service := New(cfg, userStore, itemStore, engine, authpw.NewService(userStore), sessions, searchSvc)
	return &testServer{
		handler: NewHTTPServer(service, "*").Handler(),
		service: service,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	ts.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

// signUp registers a user and returns their access token. The first account
// created against a fresh server is the admin.
func (ts *testServer) signUp(t *testing.T, username string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"username": username,
		"password": "long-enough-password",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("signup %s: no token in %v", username, payload)
	}
	return token
}

func (ts *testServer) saveNote(t *testing.T, token, category, id, title string) {
	t.Helper()
	rec := ts.do(t, http.MethodPut, fmt.Sprintf("/api/notes/%s/%s", category, id), token, map[string]any{
		"title":   title,
		"content": "body of " + title,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save note %s/%s: status %d body %s", category, id, rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"username": "alice",
		"password": "long-enough-password",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["admin"] != true {
		t.Fatal("first account must be admin")
	}
	refresh, _ := payload["refreshToken"].(string)

	rec = ts.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"username": "alice",
		"password": "wrong-password-here",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signin status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d body %s", rec.Code, rec.Body.String())
	}

	// Refresh tokens are single-use.
	rec = ts.do(t, http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": refresh})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh token status = %d", rec.Code)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t, "alice")

	rec := ts.do(t, http.MethodGet, "/api/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me before logout status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/session/logout", token, map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d", rec.Code)
	}
}

func TestItemCRUDRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/notes", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d", rec.Code)
	}
}

func TestItemLifecycle(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signUp(t, "alice")

	ts.saveNote(t, token, "Work", "plan", "Quarterly Plan")

	rec := ts.do(t, http.MethodGet, "/api/notes/Work/plan", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d body %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["title"] != "Quarterly Plan" || payload["owned"] != true {
		t.Fatalf("unexpected item payload: %v", payload)
	}
	uuid, _ := payload["uuid"].(string)
	if uuid == "" {
		t.Fatal("saved item must carry a uuid")
	}

	// Second save keeps the uuid.
	ts.saveNote(t, token, "Work", "plan", "Quarterly Plan v2")
	rec = ts.do(t, http.MethodGet, "/api/notes/Work/plan", token, nil)
	if got := decodeResponse(t, rec)["uuid"]; got != uuid {
		t.Fatalf("uuid changed across saves: %v != %s", got, uuid)
	}

	rec = ts.do(t, http.MethodGet, "/api/notes", token, nil)
	items, _ := decodeResponse(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("list should have one note, got %v", items)
	}

	rec = ts.do(t, http.MethodDelete, "/api/notes/Work/plan", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/notes/Work/plan", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestSharedReadAndDeniedReadAreIndistinguishable(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "root")
	_ = admin
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")
	carol := ts.signUp(t, "carol")

	ts.saveNote(t, alice, "Work", "plan", "Secret Plan")

	// Not shared yet: bob gets 404, the same as for a missing item.
	rec := ts.do(t, http.MethodGet, "/api/notes/Work/plan", bob, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unshared read status = %d, want 404", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/notes/Work/no-such-note", bob, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing item read status = %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("share status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/notes/Work/plan", bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("shared read status = %d body %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["owned"] != false {
		t.Fatalf("receiver must not appear as owner: %v", payload)
	}

	// carol still sees nothing.
	rec = ts.do(t, http.MethodGet, "/api/notes/Work/plan", carol, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other user read status = %d, want 404", rec.Code)
	}
}

func TestReadOnlyShareCannotWriteOrDelete(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "plan", "Plan")
	rec := ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("share status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/notes/Work/plan", bob, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("read-only delete status = %d, want 403", rec.Code)
	}

	// Upgrade to edit, then bob's save lands on alice's item.
	rec = ts.do(t, http.MethodPut, "/api/notes/Work/plan/permissions", alice, map[string]any{
		"receiver":    "bob",
		"permissions": map[string]bool{"canRead": true, "canEdit": true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("permissions status = %d body %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPut, "/api/notes/Work/plan", bob, map[string]any{"title": "Edited by bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("shared edit status = %d body %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/api/notes/Work/plan", alice, nil)
	if got := decodeResponse(t, rec)["title"]; got != "Edited by bob" {
		t.Fatalf("edit did not land on the owner's item: %v", got)
	}
}

func TestUpdatePermissionsRequiresExistingShare(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	_ = ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "plan", "Plan")
	rec := ts.do(t, http.MethodPut, "/api/notes/Work/plan/permissions", alice, map[string]any{
		"receiver":    "bob",
		"permissions": map[string]bool{"canRead": true},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("permissions without share status = %d, want 404", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["code"] != "NOT_SHARED" {
		t.Fatalf("unexpected error code: %v", payload)
	}
}

func TestUnshareIsIdempotentOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	_ = ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "plan", "Plan")
	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/api/notes/Work/plan/unshare", alice, map[string]any{"receiver": "bob"})
		if rec.Code != http.StatusOK {
			t.Fatalf("unshare round %d status = %d", i, rec.Code)
		}
	}
}

func TestShareValidation(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")

	ts.saveNote(t, alice, "Work", "plan", "Plan")

	rec := ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "nobody"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown receiver status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "alice"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("self share status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/api/notes/Work/ghost/share", alice, map[string]any{"receiver": "root"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("share of missing item status = %d", rec.Code)
	}
}

func TestMovePreservesSharedAccess(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "plan", "Plan")
	rec := ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("share status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/notes/Work/plan/move", alice, map[string]any{
		"newCategory": "Archive",
		"newId":       "plan-2024",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("move status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/notes/Archive/plan-2024", bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("shared read after move status = %d body %s", rec.Code, rec.Body.String())
	}

	// bob's dashboard reflects the new location.
	rec = ts.do(t, http.MethodGet, "/api/shared", bob, nil)
	payload := decodeResponse(t, rec)
	notes, _ := payload["notes"].([]any)
	if len(notes) != 1 {
		t.Fatalf("dashboard should list one note: %v", payload)
	}
	grant, _ := notes[0].(map[string]any)
	if grant["id"] != "plan-2024" || grant["category"] != "Archive" {
		t.Fatalf("grant location not updated: %v", grant)
	}
}

func TestPublicShareVisibleToAllUsers(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "memo", "Public Memo")
	rec := ts.do(t, http.MethodPost, "/api/notes/Work/memo/share", alice, map[string]any{"receiver": "public"})
	if rec.Code != http.StatusOK {
		t.Fatalf("public share status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/notes/Work/memo", bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public read status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/shared/all", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("global view status = %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	public, _ := payload["public"].(map[string]any)
	publicNotes, _ := public["notes"].([]any)
	if len(publicNotes) != 1 {
		t.Fatalf("public bucket should list the memo: %v", payload)
	}

	rec = ts.do(t, http.MethodGet, "/api/shared/all", bob, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin global view status = %d", rec.Code)
	}
}

func TestAdminCanReadAnyItem(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")

	ts.saveNote(t, alice, "Private", "diary", "Diary")
	rec := ts.do(t, http.MethodGet, "/api/notes/Private/diary", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin read status = %d body %s", rec.Code, rec.Body.String())
	}
}

func TestUsernameChangePropagates(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "plan", "Plan")
	rec := ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("share status = %d", rec.Code)
	}

	// bob renames to bobby; old session and token stop working, the new
	// session still sees the grant.
	rec = ts.do(t, http.MethodPost, "/api/me/username", bob, map[string]any{"newUsername": "bobby"})
	if rec.Code != http.StatusOK {
		t.Fatalf("username change status = %d body %s", rec.Code, rec.Body.String())
	}
	bobby, _ := decodeResponse(t, rec)["token"].(string)

	rec = ts.do(t, http.MethodGet, "/api/me", bob, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old token after rename status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/shared", bobby, nil)
	payload := decodeResponse(t, rec)
	notes, _ := payload["notes"].([]any)
	if len(notes) != 1 {
		t.Fatalf("renamed receiver lost the grant: %v", payload)
	}

	rec = ts.do(t, http.MethodGet, "/api/notes/Work/plan", bobby, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("shared read after rename status = %d", rec.Code)
	}
}

func TestSharerRenamePropagates(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "plan", "Plan")
	rec := ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("share status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/me/username", alice, map[string]any{"newUsername": "alicia"})
	if rec.Code != http.StatusOK {
		t.Fatalf("sharer rename status = %d body %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/shared", bob, nil)
	payload := decodeResponse(t, rec)
	notes, _ := payload["notes"].([]any)
	if len(notes) != 1 {
		t.Fatalf("grant lost after sharer rename: %v", payload)
	}
	grant, _ := notes[0].(map[string]any)
	if grant["sharer"] != "alicia" {
		t.Fatalf("sharer field not rewritten: %v", grant)
	}

	rec = ts.do(t, http.MethodGet, "/api/notes/Work/plan", bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("shared read after sharer rename status = %d", rec.Code)
	}
}

func TestDeleteCascadesToGrants(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "plan", "Plan")
	rec := ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("share status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/notes/Work/plan", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/shared", bob, nil)
	payload := decodeResponse(t, rec)
	notes, _ := payload["notes"].([]any)
	if len(notes) != 0 {
		t.Fatalf("grants must not outlive the item: %v", payload)
	}
}

func TestSearchRespectsPermissions(t *testing.T) {
	ts := newTestServer(t)
	_ = ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")
	bob := ts.signUp(t, "bob")

	ts.saveNote(t, alice, "Work", "plan", "findable secret plan")
	ts.saveNote(t, bob, "Work", "memo", "findable memo")

	rec := ts.do(t, http.MethodGet, "/api/search?q=findable", bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	results, _ := payload["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("bob should only find his own item: %v", payload)
	}

	rec = ts.do(t, http.MethodPost, "/api/notes/Work/plan/share", alice, map[string]any{"receiver": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("share status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/search?q=findable", bob, nil)
	results, _ = decodeResponse(t, rec)["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("shared item should now be searchable: %v", results)
	}
}

func TestListUsersAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.signUp(t, "root")
	alice := ts.signUp(t, "alice")

	rec := ts.do(t, http.MethodGet, "/api/users", alice, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin list users status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/users", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list users status = %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	list, _ := payload["users"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected 2 users, got %v", payload)
	}
}

func TestSearchToleratesNegativePaging(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.signUp(t, "alice")
	ts.saveNote(t, alice, "Work", "plan", "findable plan")

	rec := ts.do(t, http.MethodGet, "/api/search?q=findable&limit=-1&offset=-2", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", rec.Code, rec.Body.String())
	}
	results, _ := decodeResponse(t, rec)["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("want 1 result, got %v", results)
	}
}

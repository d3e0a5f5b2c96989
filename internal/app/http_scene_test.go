package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"easel/api/internal/scene"
	"easel/api/internal/store"
)

// memoryStore keeps scenes in a map so handler tests can exercise full
// round trips without Postgres.
type memoryStore struct {
	fakeStore
	scenes map[string]store.Scene
}

func newMemory() (*memoryStore, *fakeSessions, *Service) {
	ms := &memoryStore{scenes: make(map[string]store.Scene)}
	ms.insertSceneFn = func(_ context.Context, item store.Scene) error {
		ms.scenes[item.ID] = item
		return nil
	}
	ms.getSceneFn = func(_ context.Context, sceneID string) (store.Scene, error) {
		item, ok := ms.scenes[sceneID]
		if !ok {
			return store.Scene{}, sql.ErrNoRows
		}
		return item, nil
	}
	ms.updateSceneFn = func(_ context.Context, item store.Scene) (bool, error) {
		stored, ok := ms.scenes[item.ID]
		if !ok {
			return false, nil
		}
		item.OwnerID = stored.OwnerID
		ms.scenes[item.ID] = item
		return true, nil
	}
	ms.deleteSceneFn = func(_ context.Context, sceneID string) (bool, error) {
		if _, ok := ms.scenes[sceneID]; !ok {
			return false, nil
		}
		delete(ms.scenes, sceneID)
		return true, nil
	}
	ms.listScenesByIDsFn = func(_ context.Context, ids []string) ([]store.Scene, error) {
		items := make([]store.Scene, 0, len(ids))
		for _, id := range ids {
			if item, ok := ms.scenes[id]; ok {
				items = append(items, item)
			}
		}
		return items, nil
	}

	sessions := newFakeSessions()
	svc := newTestService(&ms.fakeStore, sessions)
	return ms, sessions, svc
}

func anonymousBearer(t *testing.T, svc *Service) string {
	t.Helper()
	session, err := svc.AnonymousSession(context.Background())
	if err != nil {
		t.Fatalf("AnonymousSession() error = %v", err)
	}
	return "Bearer " + session.Token
}

func doJSON(t *testing.T, handler http.Handler, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestSceneLifecycleOverHTTP(t *testing.T) {
	_, _, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()
	bearer := anonymousBearer(t, svc)

	create := doJSON(t, handler, http.MethodPost, "/api/scenes", bearer,
		`{"title":"Board","elements":[{"id":"a","type":"rectangle","x":0,"y":0,"width":10,"height":10}]}`)
	if create.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", create.Code, create.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(create.Body.Bytes(), &created); err != nil {
		t.Fatalf("parse create response: %v", err)
	}
	sceneID, _ := created["id"].(string)
	if sceneID == "" {
		t.Fatal("expected scene id")
	}
	if created["public"] != true {
		t.Fatal("anonymous scene should be public")
	}

	get := doJSON(t, handler, http.MethodGet, "/api/scenes/"+sceneID, bearer, "")
	if get.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d body=%s", get.Code, get.Body.String())
	}
	var fetched map[string]any
	if err := json.Unmarshal(get.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("parse get response: %v", err)
	}
	if fetched["canEdit"] != true {
		t.Fatal("creator session should have edit rights")
	}

	patch := doJSON(t, handler, http.MethodPatch, "/api/scenes/"+sceneID, bearer,
		`{"elements":[{"id":"b","type":"ellipse","x":5,"y":5,"width":4,"height":4}],"deletedIds":["a"]}`)
	if patch.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d body=%s", patch.Code, patch.Body.String())
	}
	var patched map[string]any
	if err := json.Unmarshal(patch.Body.Bytes(), &patched); err != nil {
		t.Fatalf("parse patch response: %v", err)
	}
	elements, _ := patched["elements"].([]any)
	if len(elements) != 1 {
		t.Fatalf("expected 1 element after patch, got %v", patched["elements"])
	}

	del := doJSON(t, handler, http.MethodDelete, "/api/scenes/"+sceneID, bearer, "")
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d body=%s", del.Code, del.Body.String())
	}

	gone := doJSON(t, handler, http.MethodGet, "/api/scenes/"+sceneID, bearer, "")
	if gone.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", gone.Code)
	}
}

func TestPrivateScene404MatchesNonexistent(t *testing.T) {
	ms, _, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()
	bearer := anonymousBearer(t, svc)

	owner := "usr_other"
	ms.scenes["scn_private"] = store.Scene{ID: "scn_private", OwnerID: &owner, Public: false}

	private := doJSON(t, handler, http.MethodGet, "/api/scenes/scn_private", bearer, "")
	missing := doJSON(t, handler, http.MethodGet, "/api/scenes/scn_nope", bearer, "")

	if private.Code != http.StatusNotFound || missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404/404, got %d/%d", private.Code, missing.Code)
	}
	if private.Body.String() != missing.Body.String() {
		t.Fatalf("404 bodies must be identical:\n%s\n%s", private.Body.String(), missing.Body.String())
	}
}

func TestCreateSceneValidationFailureOverHTTP(t *testing.T) {
	_, _, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()
	bearer := anonymousBearer(t, svc)

	rr := doJSON(t, handler, http.MethodPost, "/api/scenes", bearer,
		`{"elements":[{"id":"a","type":"hexagon","x":0,"y":0,"width":1,"height":1}]}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
	details, _ := payload["details"].([]any)
	if len(details) == 0 {
		t.Fatal("expected diagnostics in details")
	}
	first, _ := details[0].(map[string]any)
	if path, _ := first["path"].(string); !strings.HasPrefix(path, "$.elements[0]") {
		t.Fatalf("expected path-addressed diagnostic, got %v", first)
	}
}

func TestValidateEndpointStatusCodes(t *testing.T) {
	_, _, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()
	bearer := anonymousBearer(t, svc)

	valid := doJSON(t, handler, http.MethodPost, "/api/scenes/validate", bearer, `{"elements":[]}`)
	if valid.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid doc, got %d", valid.Code)
	}

	invalid := doJSON(t, handler, http.MethodPost, "/api/scenes/validate", bearer, `{"elements":"nope"}`)
	if invalid.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid doc, got %d", invalid.Code)
	}
	var result scene.Result
	if err := json.Unmarshal(invalid.Body.Bytes(), &result); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if result.Valid || len(result.Errors) == 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestOversizedPayloadIs413(t *testing.T) {
	_, _, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()
	bearer := anonymousBearer(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/scenes", bytes.NewBufferString("{}"))
	req.Header.Set("Authorization", bearer)
	req.ContentLength = scene.MaxSceneBytes + 1
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("expected PAYLOAD_TOO_LARGE, got %v", payload["code"])
	}
}

func TestLoginAdoptionOverHTTP(t *testing.T) {
	ms, sessions, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()
	bearer := anonymousBearer(t, svc)

	create := doJSON(t, handler, http.MethodPost, "/api/scenes", bearer, `{"elements":[]}`)
	if create.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", create.Code)
	}
	var created map[string]any
	_ = json.Unmarshal(create.Body.Bytes(), &created)
	sceneID, _ := created["id"].(string)

	adoptedIDs := []string{}
	ms.adoptScenesFn = func(_ context.Context, ids []string, ownerID string) (int64, error) {
		adoptedIDs = ids
		for _, id := range ids {
			item, ok := ms.scenes[id]
			if !ok || item.OwnerID != nil {
				continue
			}
			item.OwnerID = &ownerID
			item.Public = false
			ms.scenes[id] = item
		}
		return int64(len(ids)), nil
	}

	login := doJSON(t, handler, http.MethodPost, "/api/session/login", bearer,
		`{"subject":"sub-1","displayName":"Avery"}`)
	if login.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d body=%s", login.Code, login.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(login.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse login response: %v", err)
	}
	if adopted, _ := payload["adoptedScenes"].(float64); adopted != 1 {
		t.Fatalf("expected 1 adopted scene, got %v", payload["adoptedScenes"])
	}
	if len(adoptedIDs) != 1 || adoptedIDs[0] != sceneID {
		t.Fatalf("unexpected adopted ids: %v", adoptedIDs)
	}
	if len(sessions.cleared) != 1 {
		t.Fatalf("expected ephemeral set cleared once, got %v", sessions.cleared)
	}
	if item := ms.scenes[sceneID]; item.OwnerID == nil {
		t.Fatal("scene should now have a durable owner")
	}
}

func TestUnauthorizedWithoutBearer(t *testing.T) {
	_, _, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/scenes"},
		{http.MethodPost, "/api/scenes"},
		{http.MethodGet, "/api/search?q=x"},
	} {
		rr := doJSON(t, handler, route.method, route.path, "", "{}")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.path, rr.Code)
		}
	}
}

func TestShareTokenRouteSkipsAuth(t *testing.T) {
	ms, _, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()

	ms.scenes["scn_1"] = store.Scene{ID: "scn_1", Title: "Shared", Public: false}
	ms.getShareLinkByTokenFn = func(_ context.Context, token string) (store.ShareLink, error) {
		if token != "tok123" {
			return store.ShareLink{}, sql.ErrNoRows
		}
		return store.ShareLink{ID: "shl_1", SceneID: "scn_1"}, nil
	}

	rr := doJSON(t, handler, http.MethodGet, "/share/tok123", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without bearer, got %d body=%s", rr.Code, rr.Body.String())
	}

	missing := doJSON(t, handler, http.MethodGet, "/share/other", "", "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", missing.Code)
	}
}

func TestListScenesOverHTTP(t *testing.T) {
	_, _, svc := newMemory()
	handler := NewHTTPServer(svc, "*").Handler()
	bearer := anonymousBearer(t, svc)

	for i := 0; i < 3; i++ {
		rr := doJSON(t, handler, http.MethodPost, "/api/scenes", bearer,
			fmt.Sprintf(`{"title":"Scene %d","elements":[]}`, i))
		if rr.Code != http.StatusCreated {
			t.Fatalf("create %d: expected 201, got %d", i, rr.Code)
		}
	}

	rr := doJSON(t, handler, http.MethodGet, "/api/scenes", bearer, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Scenes []map[string]any `json:"scenes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(payload.Scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(payload.Scenes))
	}
}

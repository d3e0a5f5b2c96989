package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"easel/api/internal/auth"
	"easel/api/internal/config"
	"easel/api/internal/history"
	"easel/api/internal/scene"
	"easel/api/internal/search"
	"easel/api/internal/sharelink"
	"easel/api/internal/store"
	"easel/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	SessionID string
	JTI       string
	ExpiresAt time.Time
}

// Authenticated reports whether the session carries a durable identity.
// Anonymous sessions still have a session id for ephemeral ownership.
func (s Session) Authenticated() bool {
	return s.UserID != ""
}

type PatchSceneInput struct {
	Elements   []scene.Element `json:"elements"`
	DeletedIDs []string        `json:"deletedIds"`
	AppState   json.RawMessage `json:"appState"`
	Files      json.RawMessage `json:"files"`
}

type ShareLinkInput struct {
	Password         string `json:"password"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

type dataStore interface {
	EnsureUserBySubject(ctx context.Context, subject, displayName string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	InsertScene(ctx context.Context, item store.Scene) error
	GetScene(ctx context.Context, sceneID string) (store.Scene, error)
	UpdateScene(ctx context.Context, item store.Scene) (bool, error)
	UpdateSceneThumbnail(ctx context.Context, sceneID, key string) error
	DeleteScene(ctx context.Context, sceneID string) (bool, error)
	ListScenesByOwner(ctx context.Context, ownerID string) ([]store.Scene, error)
	ListScenesByIDs(ctx context.Context, sceneIDs []string) ([]store.Scene, error)
	AdoptScenes(ctx context.Context, sceneIDs []string, ownerID string) (int64, error)
	InsertShareLink(ctx context.Context, link store.ShareLink) error
	GetShareLinkByToken(ctx context.Context, token string) (store.ShareLink, error)
	TouchShareLink(ctx context.Context, linkID string) error
	RevokeShareLink(ctx context.Context, sceneID, linkID string) (bool, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	AddOwnedScene(ctx context.Context, sessionID, sceneID string) error
	OwnedScenes(ctx context.Context, sessionID string) ([]string, error)
	ClearOwnedScenes(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

type revisionService interface {
	EnsureSceneRepo(sceneID string, initial history.Snapshot, author string) error
	CommitSnapshot(sceneID string, snapshot history.Snapshot, author, message string) (store.RevisionInfo, error)
	GetSnapshot(sceneID, hash string) (history.Snapshot, error)
	History(sceneID string, limit int) ([]store.RevisionInfo, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexScene(rec search.SceneRecord)
	DeleteScene(id string)
}

type thumbnailService interface {
	Generate(ctx context.Context, sceneID string, elementsJSON json.RawMessage) (string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	Discard(ctx context.Context, key string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	revisions revisionService
	searcher  searchService
	thumbs    thumbnailService
}

// New wires the scene service. searcher, revisions, and thumbs may be nil
// when the corresponding backend is not configured.
func New(cfg config.Config, dataStore dataStore, sessions sessionStore, revisions revisionService, searcher searchService, thumbs thumbnailService) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		revisions: revisions,
		searcher:  searcher,
		thumbs:    thumbs,
	}
}

// AnonymousSession issues a token with no durable identity. The session id
// is the key under which anonymously created scenes are claimable later.
func (s *Service) AnonymousSession(ctx context.Context) (Session, error) {
	return s.issueSession(ctx, store.User{}, util.NewID("sid"))
}

// Login completes a verified-identity handoff: ensures the user row, adopts
// every unclaimed scene recorded on the anonymous session, clears the
// ephemeral set, and issues an authenticated token. Returns the number of
// scenes adopted. Identity verification happens upstream; subject is trusted.
func (s *Service) Login(ctx context.Context, current Session, subject, displayName string) (Session, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Session{}, 0, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "subject is required", nil)
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = "User"
	}

	user, err := s.store.EnsureUserBySubject(ctx, subject, displayName)
	if err != nil {
		return Session{}, 0, err
	}

	sessionID := current.SessionID
	if sessionID == "" {
		sessionID = util.NewID("sid")
	}

	var adopted int64
	if current.SessionID != "" {
		claimable, err := s.sessions.OwnedScenes(ctx, current.SessionID)
		if err != nil {
			return Session{}, 0, err
		}
		if len(claimable) > 0 {
			adopted, err = s.store.AdoptScenes(ctx, claimable, user.ID)
			if err != nil {
				return Session{}, 0, err
			}
			if err := s.sessions.ClearOwnedScenes(ctx, current.SessionID); err != nil {
				return Session{}, 0, err
			}
			s.reindexScenes(ctx, claimable)
		}
	}

	session, err := s.issueSession(ctx, user, sessionID)
	if err != nil {
		return Session{}, 0, err
	}
	return session, adopted, nil
}

func (s *Service) issueSession(ctx context.Context, user store.User, sessionID string) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		SID:  sessionID,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		SessionID: sessionID,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	session := Session{
		Token:     token,
		SessionID: claims.SID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}
	if claims.Sub == "" {
		return session, nil
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	session.UserID = user.ID
	session.UserName = user.DisplayName
	return session, nil
}

// CreateScene validates and persists a new scene. Anonymous scenes start
// public and are registered in the session's owned set; identity-owned
// scenes start private unless the body says otherwise.
func (s *Service) CreateScene(ctx context.Context, session Session, body map[string]any) (map[string]any, error) {
	result := scene.Validate(any(body))
	if !result.Valid {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scene document is invalid", result.Errors)
	}

	item := store.Scene{
		ID:       util.NewID("scn"),
		Title:    titleOrDefault(body),
		Elements: marshalField(body, "elements", "[]"),
		AppState: marshalField(body, "appState", "{}"),
		Files:    marshalField(body, "files", "{}"),
	}
	if session.Authenticated() {
		userID := session.UserID
		item.OwnerID = &userID
		item.Public = boolField(body, "public", false)
	} else {
		item.Public = true
	}

	if err := s.store.InsertScene(ctx, item); err != nil {
		return nil, err
	}

	if !session.Authenticated() {
		if err := s.sessions.AddOwnedScene(ctx, session.SessionID, item.ID); err != nil {
			return nil, err
		}
	}

	if s.revisions != nil {
		if err := s.revisions.EnsureSceneRepo(item.ID, snapshotOf(item), authorName(session)); err != nil {
			log.Printf("history: init scene %s: %v", item.ID, err)
		}
	}
	s.indexScene(item)
	s.refreshThumbnail(item.ID, item.Elements)

	return s.scenePayload(item, scene.Access{Visible: true, CanEdit: true}), nil
}

// ValidateScene runs the structural validator without persisting anything.
func (s *Service) ValidateScene(input any) scene.Result {
	return scene.Validate(input)
}

func (s *Service) GetScene(ctx context.Context, session Session, sceneID string) (map[string]any, error) {
	item, access, err := s.visibleScene(ctx, session, sceneID)
	if err != nil {
		return nil, err
	}
	return s.scenePayload(item, access), nil
}

// ListScenes returns every scene the caller owns, durably or through the
// session's ephemeral set, newest first.
func (s *Service) ListScenes(ctx context.Context, session Session) ([]map[string]any, error) {
	seen := make(map[string]struct{})
	items := make([]store.Scene, 0)

	if session.Authenticated() {
		owned, err := s.store.ListScenesByOwner(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		for _, item := range owned {
			seen[item.ID] = struct{}{}
			items = append(items, item)
		}
	}

	sessionOwned, err := s.sessions.OwnedScenes(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}
	if len(sessionOwned) > 0 {
		claimed, err := s.store.ListScenesByIDs(ctx, sessionOwned)
		if err != nil {
			return nil, err
		}
		for _, item := range claimed {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})

	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, s.scenePayload(item, scene.Access{Visible: true, CanEdit: true}))
	}
	return payload, nil
}

// UpdateScene replaces the scene document wholesale. Concurrent full updates
// are last-writer-wins.
func (s *Service) UpdateScene(ctx context.Context, session Session, sceneID string, body map[string]any) (map[string]any, error) {
	item, err := s.modifiableScene(ctx, session, sceneID)
	if err != nil {
		return nil, err
	}

	result := scene.Validate(any(body))
	if !result.Valid {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scene document is invalid", result.Errors)
	}

	item.Title = titleOrDefault(body)
	item.Elements = marshalField(body, "elements", "[]")
	item.AppState = marshalField(body, "appState", "{}")
	item.Files = marshalField(body, "files", "{}")
	if _, ok := body["public"]; ok {
		item.Public = boolField(body, "public", item.Public)
	}

	updated, err := s.store.UpdateScene(ctx, item)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, sql.ErrNoRows
	}
	item.UpdatedAt = time.Now()

	if s.revisions != nil {
		if _, err := s.revisions.CommitSnapshot(item.ID, snapshotOf(item), authorName(session), "Update scene"); err != nil {
			log.Printf("history: commit scene %s: %v", item.ID, err)
		}
	}
	s.indexScene(item)
	s.refreshThumbnail(item.ID, item.Elements)

	return s.scenePayload(item, scene.Access{Visible: true, CanEdit: true}), nil
}

// PatchScene applies an element-granular merge: upserts replace whole
// elements, deletes win over upserts for the same id, and appState/files
// replace the stored values wholesale when present.
func (s *Service) PatchScene(ctx context.Context, session Session, sceneID string, patch PatchSceneInput) (map[string]any, error) {
	item, err := s.modifiableScene(ctx, session, sceneID)
	if err != nil {
		return nil, err
	}

	var existing []scene.Element
	if len(item.Elements) > 0 {
		if err := json.Unmarshal(item.Elements, &existing); err != nil {
			return nil, fmt.Errorf("decode stored elements: %w", err)
		}
	}

	merged := scene.MergeElements(existing, patch.Elements, patch.DeletedIDs)
	elements, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged elements: %w", err)
	}
	item.Elements = elements
	if len(patch.AppState) > 0 {
		item.AppState = patch.AppState
	}
	if len(patch.Files) > 0 {
		item.Files = patch.Files
	}

	updated, err := s.store.UpdateScene(ctx, item)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, sql.ErrNoRows
	}
	item.UpdatedAt = time.Now()

	s.refreshThumbnail(item.ID, item.Elements)

	return s.scenePayload(item, scene.Access{Visible: true, CanEdit: true}), nil
}

func (s *Service) DeleteScene(ctx context.Context, session Session, sceneID string) error {
	item, err := s.modifiableScene(ctx, session, sceneID)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteScene(ctx, item.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	if s.searcher != nil {
		s.searcher.DeleteScene(item.ID)
	}
	if s.thumbs != nil && item.ThumbnailKey != "" {
		if err := s.thumbs.Discard(ctx, item.ThumbnailKey); err != nil {
			log.Printf("thumbnail: discard for scene %s: %v", item.ID, err)
		}
	}
	return nil
}

// Revisions lists the scene's snapshot history, newest first.
func (s *Service) Revisions(ctx context.Context, session Session, sceneID string, limit int) ([]map[string]any, error) {
	if _, _, err := s.visibleScene(ctx, session, sceneID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return []map[string]any{}, nil
	}

	revisions, err := s.revisions.History(sceneID, limit)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(revisions))
	for _, rev := range revisions {
		payload = append(payload, map[string]any{
			"hash":      rev.Hash,
			"message":   strings.TrimSpace(rev.Message),
			"author":    rev.Author,
			"createdAt": rev.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return payload, nil
}

func (s *Service) RevisionSnapshot(ctx context.Context, session Session, sceneID, hash string) (map[string]any, error) {
	if _, _, err := s.visibleScene(ctx, session, sceneID); err != nil {
		return nil, err
	}
	if s.revisions == nil {
		return nil, sql.ErrNoRows
	}

	snapshot, err := s.revisions.GetSnapshot(sceneID, hash)
	if err != nil {
		return nil, sql.ErrNoRows
	}
	return map[string]any{
		"title":    snapshot.Title,
		"elements": rawOrDefault(snapshot.Elements, "[]"),
		"appState": rawOrDefault(snapshot.AppState, "{}"),
		"files":    rawOrDefault(snapshot.Files, "{}"),
	}, nil
}

// Thumbnail returns the rendered PNG for a visible scene, or 404 while no
// render has completed yet.
func (s *Service) Thumbnail(ctx context.Context, session Session, sceneID string) ([]byte, error) {
	item, _, err := s.visibleScene(ctx, session, sceneID)
	if err != nil {
		return nil, err
	}
	if s.thumbs == nil || item.ThumbnailKey == "" {
		return nil, sql.ErrNoRows
	}
	return s.thumbs.Fetch(ctx, item.ThumbnailKey)
}

// CreateShareLink issues a read-only share token for a scene the caller can
// modify, optionally password protected and expiring.
func (s *Service) CreateShareLink(ctx context.Context, session Session, sceneID string, input ShareLinkInput) (map[string]any, error) {
	item, err := s.modifiableScene(ctx, session, sceneID)
	if err != nil {
		return nil, err
	}

	token, err := sharelink.NewToken()
	if err != nil {
		return nil, err
	}
	passwordHash, err := sharelink.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	link := store.ShareLink{
		ID:           util.NewID("shl"),
		Token:        token,
		SceneID:      item.ID,
		PasswordHash: passwordHash,
	}
	if input.ExpiresInSeconds > 0 {
		expires := time.Now().Add(time.Duration(input.ExpiresInSeconds) * time.Second)
		link.ExpiresAt = &expires
	}

	if err := s.store.InsertShareLink(ctx, link); err != nil {
		return nil, err
	}

	payload := map[string]any{
		"id":        link.ID,
		"token":     link.Token,
		"sceneId":   link.SceneID,
		"protected": link.PasswordHash != nil,
	}
	if link.ExpiresAt != nil {
		payload["expiresAt"] = link.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return payload, nil
}

func (s *Service) RevokeShareLink(ctx context.Context, session Session, sceneID, linkID string) error {
	item, err := s.modifiableScene(ctx, session, sceneID)
	if err != nil {
		return err
	}
	revoked, err := s.store.RevokeShareLink(ctx, item.ID, linkID)
	if err != nil {
		return err
	}
	if !revoked {
		return sql.ErrNoRows
	}
	return nil
}

// SceneByShareToken resolves a share link to its scene. Missing, expired,
// and revoked links are all plain 404s; a wrong password on a protected
// link is 403.
func (s *Service) SceneByShareToken(ctx context.Context, token, password string) (map[string]any, error) {
	link, err := s.store.GetShareLinkByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := sharelink.VerifyPassword(link.PasswordHash, password); err != nil {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Share link password required", nil)
	}

	item, err := s.store.GetScene(ctx, link.SceneID)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchShareLink(ctx, link.ID); err != nil {
		log.Printf("sharelink: touch %s: %v", link.ID, err)
	}
	return s.scenePayload(item, scene.Access{Visible: true, CanEdit: false}), nil
}

// Search queries scene titles scoped to public scenes plus the caller's own.
func (s *Service) Search(session Session, text string, limit, offset int) search.Response {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.searcher.Search(search.Query{
		Text:        text,
		RequesterID: session.UserID,
		Limit:       limit,
		Offset:      offset,
	})
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// visibleScene loads a scene and applies the visibility rule. An invisible
// scene surfaces as sql.ErrNoRows so the response is byte-identical to a
// nonexistent one.
func (s *Service) visibleScene(ctx context.Context, session Session, sceneID string) (store.Scene, scene.Access, error) {
	item, err := s.store.GetScene(ctx, sceneID)
	if err != nil {
		return store.Scene{}, scene.Access{}, err
	}
	sessionOwned, err := s.sessions.OwnedScenes(ctx, session.SessionID)
	if err != nil {
		return store.Scene{}, scene.Access{}, err
	}
	access := scene.VisibilityFor(toRef(item), session.UserID, sessionOwned)
	if !access.Visible {
		return store.Scene{}, scene.Access{}, sql.ErrNoRows
	}
	return item, access, nil
}

// modifiableScene loads a scene for mutation: invisible is 404, visible but
// not editable is 403.
func (s *Service) modifiableScene(ctx context.Context, session Session, sceneID string) (store.Scene, error) {
	item, access, err := s.visibleScene(ctx, session, sceneID)
	if err != nil {
		return store.Scene{}, err
	}
	if !access.CanEdit {
		return store.Scene{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return item, nil
}

func (s *Service) scenePayload(item store.Scene, access scene.Access) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"title":     item.Title,
		"elements":  rawOrDefault(item.Elements, "[]"),
		"appState":  rawOrDefault(item.AppState, "{}"),
		"files":     rawOrDefault(item.Files, "{}"),
		"public":    item.Public,
		"canEdit":   access.CanEdit,
		"createdAt": item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Service) indexScene(item store.Scene) {
	if s.searcher == nil {
		return
	}
	s.searcher.IndexScene(search.SceneRecord{
		ID:      item.ID,
		Title:   item.Title,
		OwnerID: item.OwnerRef(),
		Public:  item.Public,
	})
}

func (s *Service) reindexScenes(ctx context.Context, sceneIDs []string) {
	if s.searcher == nil {
		return
	}
	items, err := s.store.ListScenesByIDs(ctx, sceneIDs)
	if err != nil {
		log.Printf("search: reindex adopted scenes: %v", err)
		return
	}
	for _, item := range items {
		s.indexScene(item)
	}
}

// refreshThumbnail renders and stores a thumbnail in the background. Failure
// never blocks or fails the persistence path.
func (s *Service) refreshThumbnail(sceneID string, elements json.RawMessage) {
	if s.thumbs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		key, err := s.thumbs.Generate(ctx, sceneID, elements)
		if err != nil {
			log.Printf("thumbnail: render scene %s: %v", sceneID, err)
			return
		}
		if err := s.store.UpdateSceneThumbnail(ctx, sceneID, key); err != nil {
			log.Printf("thumbnail: persist key for scene %s: %v", sceneID, err)
		}
	}()
}

func snapshotOf(item store.Scene) history.Snapshot {
	return history.Snapshot{
		Title:    item.Title,
		Elements: rawOrDefault(item.Elements, "[]"),
		AppState: rawOrDefault(item.AppState, "{}"),
		Files:    rawOrDefault(item.Files, "{}"),
	}
}

func authorName(session Session) string {
	if session.UserName != "" {
		return session.UserName
	}
	return "Anonymous"
}

func titleOrDefault(body map[string]any) string {
	title, _ := body["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return "Untitled scene"
	}
	return title
}

func boolField(body map[string]any, key string, fallback bool) bool {
	value, ok := body[key].(bool)
	if !ok {
		return fallback
	}
	return value
}

func marshalField(body map[string]any, key, fallback string) json.RawMessage {
	value, ok := body[key]
	if !ok || value == nil {
		return json.RawMessage(fallback)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage(fallback)
	}
	return raw
}

func rawOrDefault(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}

func toRef(item store.Scene) scene.Ref {
	return scene.Ref{
		ID:      item.ID,
		OwnerID: item.OwnerRef(),
		Public:  item.Public,
	}
}
